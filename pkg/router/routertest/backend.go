// Package routertest provides a scriptable backend for exercising the
// router and backends against each other in tests.
package routertest

import (
	"fmt"
	"time"

	"github.com/dyluth/patchbay/pkg/router"
)

// Delivery is one recorded HandleEvent call.
type Delivery struct {
	Instance string
	Events   []router.Event
}

// Backend records every callback and lets tests inject events from its
// Process callback. Channels are created through the core's channel store,
// keyed by the order in which channel names are first parsed.
type Backend struct {
	host router.Host
	name string

	Options      map[string]string
	InstanceOpts map[string]map[string]string
	Deliveries   []Delivery
	Freed        []*router.Channel

	Started      int
	Processed    int
	ShutdownRuns int

	// ReadyFDs records the descriptors passed to each Process call.
	ReadyFDs [][]int

	// Echo re-injects every handled event on the channel it was delivered to.
	Echo bool

	// Next events to inject from Process; consumed on each call.
	Inject []Injection

	// Failure knobs.
	FailConfigure bool
	FailStart     bool
	FailProcess   error
	FailHandle    error
	NilChannel    bool

	// IntervalValue is reported through Interval when non-zero.
	IntervalValue time.Duration

	// AssignIdent, when set, is stored as the ident of the first instance on Start.
	AssignIdent uint64

	// ChannelImpl, when set, is attached to every parsed channel.
	ChannelImpl any

	names map[*router.Instance][]string
}

// Injection names a channel (instance.channel) and the normalised value to inject.
type Injection struct {
	Instance string
	Channel  string
	Value    float64
}

// New creates a recording backend with the given registry name.
func New(host router.Host, name string) *Backend {
	return &Backend{
		host:         host,
		name:         name,
		Options:      make(map[string]string),
		InstanceOpts: make(map[string]map[string]string),
		names:        make(map[*router.Instance][]string),
	}
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Configure(option, value string) error {
	if b.FailConfigure {
		return fmt.Errorf("option '%s' rejected", option)
	}
	b.Options[option] = value
	return nil
}

func (b *Backend) CreateInstance() (*router.Instance, error) {
	return b.host.NewInstance(), nil
}

func (b *Backend) ConfigureInstance(inst *router.Instance, option, value string) error {
	if b.FailConfigure {
		return fmt.Errorf("option '%s' rejected", option)
	}
	if b.InstanceOpts[inst.Name] == nil {
		b.InstanceOpts[inst.Name] = make(map[string]string)
	}
	b.InstanceOpts[inst.Name][option] = value
	return nil
}

func (b *Backend) ParseChannel(inst *router.Instance, spec string) (*router.Channel, error) {
	if b.NilChannel {
		return nil, nil
	}
	ident := b.ident(inst, spec, true)
	ch := b.host.Channel(inst, uint64(ident), true)
	if ch != nil && b.ChannelImpl != nil {
		ch.Impl = b.ChannelImpl
	}
	return ch, nil
}

func (b *Backend) ident(inst *router.Instance, spec string, create bool) int {
	for i, n := range b.names[inst] {
		if n == spec {
			return i
		}
	}
	if !create {
		return -1
	}
	b.names[inst] = append(b.names[inst], spec)
	return len(b.names[inst]) - 1
}

// ChannelName returns the channel-text a channel was parsed from.
func (b *Backend) ChannelName(c *router.Channel) string {
	names := b.names[c.Instance]
	if int(c.Ident) < len(names) {
		return names[c.Ident]
	}
	return ""
}

func (b *Backend) Start() error {
	b.Started++
	if b.FailStart {
		return fmt.Errorf("start refused")
	}
	if b.AssignIdent != 0 {
		if instances := b.host.Instances(b.name); len(instances) > 0 {
			instances[0].Ident = b.AssignIdent
		}
	}
	return nil
}

func (b *Backend) Process(ready []*router.ManagedFD) error {
	b.Processed++
	fds := make([]int, 0, len(ready))
	for _, m := range ready {
		fds = append(fds, m.FD)
	}
	b.ReadyFDs = append(b.ReadyFDs, fds)
	if b.FailProcess != nil {
		return b.FailProcess
	}
	inject := b.Inject
	b.Inject = nil
	for _, in := range inject {
		var inst *router.Instance
		for _, candidate := range b.host.Instances(b.name) {
			if candidate.Name == in.Instance {
				inst = candidate
			}
		}
		if inst == nil {
			return fmt.Errorf("unknown instance '%s'", in.Instance)
		}
		idx := b.ident(inst, in.Channel, false)
		if idx < 0 {
			continue
		}
		if ch := b.host.Channel(inst, uint64(idx), false); ch != nil {
			if err := b.host.Event(ch, router.Normalised(in.Value)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) HandleEvent(inst *router.Instance, events []router.Event) error {
	if b.FailHandle != nil {
		return b.FailHandle
	}
	copied := make([]router.Event, len(events))
	copy(copied, events)
	b.Deliveries = append(b.Deliveries, Delivery{Instance: inst.Name, Events: copied})
	if b.Echo {
		for _, ev := range events {
			if err := b.host.Event(ev.Channel, ev.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) Shutdown() error {
	b.ShutdownRuns++
	return nil
}

func (b *Backend) FreeChannel(c *router.Channel) {
	b.Freed = append(b.Freed, c)
}

// Interval implements router.Intervaler.
func (b *Backend) Interval() time.Duration {
	if b.IntervalValue == 0 {
		return router.DefaultInterval
	}
	return b.IntervalValue
}

// Values flattens all deliveries into "channel-text=value" pairs keyed by instance.
func (b *Backend) Values() map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, d := range b.Deliveries {
		if out[d.Instance] == nil {
			out[d.Instance] = make(map[string]float64)
		}
		for _, ev := range d.Events {
			out[d.Instance][b.ChannelName(ev.Channel)] = ev.Value.Normalised
		}
	}
	return out
}
