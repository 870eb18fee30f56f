package router

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxExpansion caps the number of concrete channels a single spec may expand to.
const MaxExpansion = 1 << 16

// ChannelGlob is one numeric range token embedded in a channel-spec.
//
// A range token is written START-END or START-END:STEP, all decimal. It
// enumerates START, START+STEP, ... up to and including END. A START
// written with a leading zero pads every value to the width of START.
type ChannelGlob struct {
	Offset [2]int    // [begin, end) byte offsets of the token in ChannelSpec.Spec
	Limits [2]uint64 // inclusive start and end
	Step   uint64
	Width  int // zero-padding width, 0 for none
	Values uint64
}

// Value returns the i-th enumerated value of the range.
func (g ChannelGlob) Value(i uint64) uint64 {
	return g.Limits[0] + i*g.Step
}

func (g ChannelGlob) format(i uint64) string {
	s := strconv.FormatUint(g.Value(i), 10)
	if len(s) < g.Width {
		s = strings.Repeat("0", g.Width-len(s)) + s
	}
	return s
}

// ChannelSpec is a parsed channel-spec text.
type ChannelSpec struct {
	Spec string
	// Internal is set when the core expands range tokens itself; specs
	// without tokens are handed to the backend verbatim.
	Internal bool
	Channels uint64
	Globs    []ChannelGlob
}

// SplitSpec splits "instance.channel-text" at the first dot.
func SplitSpec(full string) (instance, channel string, err error) {
	instance, channel, ok := strings.Cut(strings.TrimSpace(full), ".")
	if !ok || instance == "" || channel == "" {
		return "", "", fmt.Errorf("%w: '%s' (expected instance.channel)", ErrInvalidSpec, full)
	}
	return instance, channel, nil
}

// ParseSpec scans channel-text for range tokens.
func ParseSpec(text string) (*ChannelSpec, error) {
	spec := &ChannelSpec{Spec: text, Channels: 1}

	for i := 0; i < len(text); {
		if !isDigit(text[i]) {
			i++
			continue
		}

		glob, end, ok, err := scanRange(text, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			// plain number, skip the whole digit run
			for i < len(text) && isDigit(text[i]) {
				i++
			}
			continue
		}

		if spec.Channels > MaxExpansion/glob.Values {
			return nil, fmt.Errorf("%w: '%s' exceeds %d channels", ErrGlobTooLarge, text, MaxExpansion)
		}
		spec.Channels *= glob.Values
		spec.Globs = append(spec.Globs, glob)
		i = end
	}

	spec.Internal = len(spec.Globs) > 0
	return spec, nil
}

// scanRange tries to read a range token starting at the digit at offset
// begin. ok is false if the digit run is not followed by "-DIGITS".
func scanRange(text string, begin int) (glob ChannelGlob, end int, ok bool, err error) {
	startEnd := digitRun(text, begin)
	if startEnd >= len(text)-1 || text[startEnd] != '-' || !isDigit(text[startEnd+1]) {
		return glob, 0, false, nil
	}
	limitEnd := digitRun(text, startEnd+1)
	end = limitEnd

	step := uint64(1)
	if end < len(text)-1 && text[end] == ':' && isDigit(text[end+1]) {
		stepEnd := digitRun(text, end+1)
		if step, err = strconv.ParseUint(text[end+1:stepEnd], 10, 64); err != nil {
			return glob, 0, false, fmt.Errorf("%w: step in '%s': %v", ErrInvalidSpec, text, err)
		}
		end = stepEnd
	}

	startLit := text[begin:startEnd]
	start, err := strconv.ParseUint(startLit, 10, 64)
	if err != nil {
		return glob, 0, false, fmt.Errorf("%w: range start in '%s': %v", ErrInvalidSpec, text, err)
	}
	limit, err := strconv.ParseUint(text[startEnd+1:limitEnd], 10, 64)
	if err != nil {
		return glob, 0, false, fmt.Errorf("%w: range end in '%s': %v", ErrInvalidSpec, text, err)
	}

	if start > limit {
		return glob, 0, false, fmt.Errorf("%w: %d-%d in '%s'", ErrInvertedRange, start, limit, text)
	}
	if step == 0 {
		return glob, 0, false, fmt.Errorf("%w: step 0 in '%s'", ErrEmptyRange, text)
	}

	glob = ChannelGlob{
		Offset: [2]int{begin, end},
		Limits: [2]uint64{start, limit},
		Step:   step,
		Values: (limit-start)/step + 1,
	}
	if len(startLit) > 1 && startLit[0] == '0' {
		glob.Width = len(startLit)
	}
	if glob.Values == 0 || glob.Values > MaxExpansion {
		return glob, 0, false, fmt.Errorf("%w: '%s'", ErrGlobTooLarge, text)
	}
	return glob, end, true, nil
}

// Expand returns the concrete channel-texts of the spec in cross-product
// order: the leftmost range varies slowest.
func (s *ChannelSpec) Expand() []string {
	if len(s.Globs) == 0 {
		return []string{s.Spec}
	}

	out := make([]string, 0, s.Channels)
	index := make([]uint64, len(s.Globs))
	var b strings.Builder

	for n := uint64(0); n < s.Channels; n++ {
		// decompose n into mixed-radix digits, last glob fastest
		rest := n
		for g := len(s.Globs) - 1; g >= 0; g-- {
			index[g] = rest % s.Globs[g].Values
			rest /= s.Globs[g].Values
		}

		b.Reset()
		prev := 0
		for g, glob := range s.Globs {
			b.WriteString(s.Spec[prev:glob.Offset[0]])
			b.WriteString(glob.format(index[g]))
			prev = glob.Offset[1]
		}
		b.WriteString(s.Spec[prev:])
		out = append(out, b.String())
	}
	return out
}

func digitRun(text string, i int) int {
	for i < len(text) && isDigit(text[i]) {
		i++
	}
	return i
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
