package midi

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the MIDI status nibble of a channel's message kind.
type Type uint8

const (
	TypeNote       Type = 0x90
	TypePressure   Type = 0xA0 // polyphonic key pressure
	TypeCC         Type = 0xB0
	TypeAftertouch Type = 0xD0 // channel pressure
	TypePitch      Type = 0xE0
)

var typeNames = map[Type]string{
	TypeNote:       "note",
	TypePressure:   "pressure",
	TypeCC:         "cc",
	TypeAftertouch: "aftertouch",
	TypePitch:      "pitch",
}

// hasControl reports whether messages of this type carry a note or controller number.
func (t Type) hasControl() bool {
	return t == TypeNote || t == TypePressure || t == TypeCC
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(0x%02x)", uint8(t))
}

// Label identifies one MIDI channel endpoint. Packed, it is the channel
// ident: byte 5 holds the type, byte 6 the MIDI channel, byte 7 the control.
type Label struct {
	Type    Type
	Channel uint8
	Control uint8
}

// Pack returns the channel ident of l.
func (l Label) Pack() uint64 {
	return uint64(l.Type)<<40 | uint64(l.Channel)<<48 | uint64(l.Control)<<56
}

// Unpack reverses Pack.
func Unpack(ident uint64) Label {
	return Label{
		Type:    Type(ident >> 40),
		Channel: uint8(ident >> 48),
		Control: uint8(ident >> 56),
	}
}

func (l Label) String() string {
	if l.Type.hasControl() {
		return fmt.Sprintf("ch%d.%s%d", l.Channel, l.Type, l.Control)
	}
	return fmt.Sprintf("ch%d.%s", l.Channel, l.Type)
}

// ParseLabel parses "ch<N>.<type><control>" (or "channel<N>..."). Types are
// note, cc, pressure, aftertouch and pitch; the latter two take no control.
func ParseLabel(spec string) (Label, error) {
	var rest string
	switch {
	case strings.HasPrefix(spec, "channel"):
		rest = spec[len("channel"):]
	case strings.HasPrefix(spec, "ch"):
		rest = spec[len("ch"):]
	default:
		return Label{}, fmt.Errorf("invalid channel spec '%s': must start with ch or channel", spec)
	}

	num, kind, ok := strings.Cut(rest, ".")
	if !ok {
		return Label{}, fmt.Errorf("invalid channel spec '%s': missing message type", spec)
	}
	channel, err := strconv.ParseUint(num, 10, 8)
	if err != nil || channel > 15 {
		return Label{}, fmt.Errorf("invalid channel spec '%s': MIDI channel must be 0-15", spec)
	}

	label := Label{Channel: uint8(channel)}
	for t, name := range typeNames {
		if !strings.HasPrefix(kind, name) {
			continue
		}
		suffix := kind[len(name):]
		if suffix != "" && !isNumeric(suffix) {
			continue
		}
		label.Type = t
		if !t.hasControl() {
			if suffix != "" {
				return Label{}, fmt.Errorf("invalid channel spec '%s': %s takes no control number", spec, name)
			}
			return label, nil
		}
		control, err := strconv.ParseUint(suffix, 10, 8)
		if err != nil || control > 127 {
			return Label{}, fmt.Errorf("invalid channel spec '%s': control must be 0-127", spec)
		}
		label.Control = uint8(control)
		return label, nil
	}
	return Label{}, fmt.Errorf("invalid channel spec '%s': unknown message type '%s'", spec, kind)
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
