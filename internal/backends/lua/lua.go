// Package lua implements a scripting backend on gopher-lua.
//
// Every instance owns one interpreter. Channels are plain names: a value
// arriving on a channel calls the global Lua function of the same name with
// the normalised value, and scripts emit values with output(name, value).
package lua

import (
	"fmt"
	"log"
	"time"

	"github.com/dyluth/patchbay/pkg/router"
	glua "github.com/yuin/gopher-lua"
)

// Name is the registry name of the Lua backend.
const Name = "lua"

// timerResolution is the granularity of interval() timers, in milliseconds.
const timerResolution = 10

type timer struct {
	interval uint64
	delta    uint64
	fn       *glua.LFunction
}

type instanceData struct {
	inst    *router.Instance
	state   *glua.LState
	names   []string
	input   []float64
	output  []float64
	timers  []*timer
	current string
}

// Backend is the Lua backend.
type Backend struct {
	host   router.Host
	logger *log.Logger
	last   uint64
}

// New creates a Lua backend bound to host.
func New(host router.Host, logger *log.Logger) *Backend {
	if logger == nil {
		logger = log.Default()
	}
	return &Backend{host: host, logger: logger}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Configure(option, value string) error {
	return fmt.Errorf("lua backend has no global options (got '%s')", option)
}

func (b *Backend) CreateInstance() (*router.Instance, error) {
	inst := b.host.NewInstance()
	data := &instanceData{inst: inst, state: glua.NewState()}
	b.register(data)
	inst.Impl = data
	return inst, nil
}

// ConfigureInstance loads the file named by "script" into the interpreter.
// Any other option becomes a global string variable.
func (b *Backend) ConfigureInstance(inst *router.Instance, option, value string) error {
	data := inst.Impl.(*instanceData)
	if option == "script" {
		if err := data.state.DoFile(value); err != nil {
			return fmt.Errorf("failed to load script '%s': %w", value, err)
		}
		return nil
	}
	data.state.SetGlobal(option, glua.LString(value))
	return nil
}

func (b *Backend) ParseChannel(inst *router.Instance, spec string) (*router.Channel, error) {
	data := inst.Impl.(*instanceData)
	ident := data.lookup(spec)
	if ident < 0 {
		data.names = append(data.names, spec)
		data.input = append(data.input, 0)
		data.output = append(data.output, 0)
		ident = len(data.names) - 1
	}
	return b.host.Channel(inst, uint64(ident), true), nil
}

func (d *instanceData) lookup(name string) int {
	for i, n := range d.names {
		if n == name {
			return i
		}
	}
	return -1
}

func (b *Backend) Start() error {
	b.last = b.host.Timestamp()
	for _, inst := range b.host.Instances(Name) {
		data := inst.Impl.(*instanceData)
		b.logger.Printf("[INFO] Lua instance '%s' started with %d channels, %d timers", inst.Name, len(data.names), len(data.timers))
	}
	return nil
}

// Process advances all interval timers by the time since the last call.
func (b *Backend) Process(ready []*router.ManagedFD) error {
	now := b.host.Timestamp()
	elapsed := now - b.last
	b.last = now
	if elapsed == 0 {
		return nil
	}

	for _, inst := range b.host.Instances(Name) {
		data := inst.Impl.(*instanceData)
		for _, t := range data.timers {
			t.delta += elapsed
			if t.delta < t.interval {
				continue
			}
			t.delta %= t.interval
			b.call(data, t.fn, "", nil)
		}
	}
	return nil
}

// Interval returns the time until the next timer is due.
func (b *Backend) Interval() time.Duration {
	next, found := uint64(0), false
	for _, inst := range b.host.Instances(Name) {
		data, ok := inst.Impl.(*instanceData)
		if !ok {
			continue
		}
		for _, t := range data.timers {
			remaining := t.interval - min(t.delta, t.interval)
			if !found || remaining < next {
				next, found = remaining, true
			}
		}
	}
	if !found {
		return router.DefaultInterval
	}
	return time.Duration(next) * time.Millisecond
}

func (b *Backend) HandleEvent(inst *router.Instance, events []router.Event) error {
	data := inst.Impl.(*instanceData)
	for _, ev := range events {
		idx := int(ev.Channel.Ident)
		if idx >= len(data.names) {
			continue
		}
		data.input[idx] = ev.Value.Normalised
		name := data.names[idx]
		fn, ok := data.state.GetGlobal(name).(*glua.LFunction)
		if !ok {
			continue
		}
		b.call(data, fn, name, glua.LNumber(ev.Value.Normalised))
	}
	return nil
}

// call runs fn in protected mode. Script errors are logged and never stop the router.
func (b *Backend) call(data *instanceData, fn *glua.LFunction, channel string, arg glua.LValue) {
	data.current = channel
	defer func() { data.current = "" }()

	var args []glua.LValue
	if arg != nil {
		args = append(args, arg)
	}
	if err := data.state.CallByParam(glua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		b.logger.Printf("[ERROR] Lua instance '%s': %v", data.inst.Name, err)
	}
}

func (b *Backend) Shutdown() error {
	for _, inst := range b.host.Instances(Name) {
		if data, ok := inst.Impl.(*instanceData); ok {
			data.state.Close()
		}
		inst.Impl = nil
	}
	return nil
}
