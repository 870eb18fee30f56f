// Package loopback implements a backend whose channels feed straight back
// into the router: every value delivered to a channel is re-injected as an
// event on that same channel. It is useful to fan out, rename or chain
// mappings without any external device.
package loopback

import (
	"fmt"
	"log"

	"github.com/dyluth/patchbay/pkg/router"
)

// Name is the registry name of the loopback backend.
const Name = "loopback"

// instanceData holds the channel names of one instance; a channel's ident
// is its index into names.
type instanceData struct {
	names []string
}

// Backend is the loopback backend.
type Backend struct {
	host   router.Host
	logger *log.Logger
}

// New creates a loopback backend bound to host.
func New(host router.Host, logger *log.Logger) *Backend {
	if logger == nil {
		logger = log.Default()
	}
	return &Backend{host: host, logger: logger}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Configure(option, value string) error {
	return fmt.Errorf("loopback has no backend options (got '%s')", option)
}

func (b *Backend) CreateInstance() (*router.Instance, error) {
	inst := b.host.NewInstance()
	inst.Impl = &instanceData{}
	return inst, nil
}

func (b *Backend) ConfigureInstance(inst *router.Instance, option, value string) error {
	return fmt.Errorf("loopback has no instance options (got '%s')", option)
}

// ParseChannel accepts any name. Repeated names resolve to the same channel.
func (b *Backend) ParseChannel(inst *router.Instance, spec string) (*router.Channel, error) {
	data, ok := inst.Impl.(*instanceData)
	if !ok {
		return nil, fmt.Errorf("instance '%s' has no loopback state", inst.Name)
	}

	ident := -1
	for i, name := range data.names {
		if name == spec {
			ident = i
			break
		}
	}
	if ident < 0 {
		data.names = append(data.names, spec)
		ident = len(data.names) - 1
	}
	return b.host.Channel(inst, uint64(ident), true), nil
}

func (b *Backend) Start() error {
	n := 0
	for _, inst := range b.host.Instances(Name) {
		if data, ok := inst.Impl.(*instanceData); ok {
			n += len(data.names)
		}
	}
	b.logger.Printf("[INFO] Loopback backend started with %d channels", n)
	return nil
}

func (b *Backend) Process(ready []*router.ManagedFD) error {
	return nil
}

// HandleEvent re-injects each event on the channel it arrived on. The router
// dispatches these in a further round of the same loop iteration.
func (b *Backend) HandleEvent(inst *router.Instance, events []router.Event) error {
	for _, ev := range events {
		if err := b.host.Event(ev.Channel, ev.Value); err != nil {
			return fmt.Errorf("failed to re-inject on '%s': %w", b.ChannelName(ev.Channel), err)
		}
	}
	return nil
}

// ChannelName returns the name a loopback channel was parsed from.
func (b *Backend) ChannelName(c *router.Channel) string {
	if data, ok := c.Instance.Impl.(*instanceData); ok && int(c.Ident) < len(data.names) {
		return data.names[c.Ident]
	}
	return ""
}

func (b *Backend) Shutdown() error {
	for _, inst := range b.host.Instances(Name) {
		inst.Impl = nil
	}
	return nil
}
