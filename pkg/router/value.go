package router

import "math"

// RawValue is the backend-specific representation of a channel value.
// It holds either a float64 or a uint64; which one is up to the backend
// that produced it. The core never interprets it.
type RawValue uint64

// RawFloat stores f as a raw value.
func RawFloat(f float64) RawValue {
	return RawValue(math.Float64bits(f))
}

// RawUint stores u as a raw value.
func RawUint(u uint64) RawValue {
	return RawValue(u)
}

// Float reads the raw value as a float64.
func (r RawValue) Float() float64 {
	return math.Float64frombits(uint64(r))
}

// Uint reads the raw value as a uint64.
func (r RawValue) Uint() uint64 {
	return uint64(r)
}

// Value is a channel value as transmitted between backends.
// Normalised is the protocol-agnostic representation in [0, 1].
type Value struct {
	Raw        RawValue
	Normalised float64
}

// Normalised builds a Value from a normalised double, storing the
// unclamped input as the raw float.
func Normalised(v float64) Value {
	return Value{Raw: RawFloat(v), Normalised: v}.Clamped()
}

// Clamped returns v with Normalised clamped to [0, 1]. NaN maps to 0.
func (v Value) Clamped() Value {
	switch {
	case math.IsNaN(v.Normalised) || v.Normalised < 0:
		v.Normalised = 0
	case v.Normalised > 1:
		v.Normalised = 1
	}
	return v
}
