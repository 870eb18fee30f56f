package lua

import (
	"github.com/dyluth/patchbay/pkg/router"
	glua "github.com/yuin/gopher-lua"
)

// register installs the router API into an instance's interpreter.
func (b *Backend) register(data *instanceData) {
	L := data.state
	L.SetGlobal("output", L.NewFunction(b.luaOutput(data)))
	L.SetGlobal("input_value", L.NewFunction(data.luaValue(func() []float64 { return data.input })))
	L.SetGlobal("output_value", L.NewFunction(data.luaValue(func() []float64 { return data.output })))
	L.SetGlobal("interval", L.NewFunction(data.luaInterval))
	L.SetGlobal("timestamp", L.NewFunction(b.luaTimestamp))
	L.SetGlobal("current_channel", L.NewFunction(data.luaCurrentChannel))
}

// output(name, value)
func (b *Backend) luaOutput(data *instanceData) glua.LGFunction {
	return func(L *glua.LState) int {
		name := L.CheckString(1)
		value := float64(L.CheckNumber(2))

		idx := data.lookup(name)
		if idx < 0 {
			b.logger.Printf("[WARN] Lua instance '%s': output on unmapped channel '%s' ignored", data.inst.Name, name)
			return 0
		}
		data.output[idx] = value

		ch := b.host.Channel(data.inst, uint64(idx), false)
		if ch == nil {
			return 0
		}
		if err := b.host.Event(ch, router.Normalised(value)); err != nil {
			L.RaiseError("failed to output on '%s': %v", name, err)
		}
		return 0
	}
}

// input_value(name) / output_value(name)
func (d *instanceData) luaValue(values func() []float64) glua.LGFunction {
	return func(L *glua.LState) int {
		name := L.CheckString(1)
		idx := d.lookup(name)
		if idx < 0 {
			L.ArgError(1, "unknown channel '"+name+"'")
			return 0
		}
		L.Push(glua.LNumber(values()[idx]))
		return 1
	}
}

// interval(fn, ms) registers fn to be called every ms milliseconds, rounded
// up to the timer resolution. Registering a function again updates its
// interval; an interval of 0 removes it.
func (d *instanceData) luaInterval(L *glua.LState) int {
	fn := L.CheckFunction(1)
	ms := L.CheckInt(2)
	if ms < 0 {
		L.ArgError(2, "interval must not be negative")
		return 0
	}
	interval := uint64(ms)
	if interval%timerResolution != 0 {
		interval += timerResolution - interval%timerResolution
	}

	for i, t := range d.timers {
		if t.fn != fn {
			continue
		}
		if interval == 0 {
			d.timers = append(d.timers[:i], d.timers[i+1:]...)
		} else {
			t.interval = interval
		}
		return 0
	}
	if interval > 0 {
		d.timers = append(d.timers, &timer{interval: interval, fn: fn})
	}
	return 0
}

// timestamp() returns the router timestamp in milliseconds.
func (b *Backend) luaTimestamp(L *glua.LState) int {
	L.Push(glua.LNumber(b.host.Timestamp()))
	return 1
}

// current_channel() returns the channel whose handler is running, or nil.
func (d *instanceData) luaCurrentChannel(L *glua.LState) int {
	if d.current == "" {
		L.Push(glua.LNil)
	} else {
		L.Push(glua.LString(d.current))
	}
	return 1
}
