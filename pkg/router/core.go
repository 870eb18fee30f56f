package router

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dyluth/patchbay/internal/wakeq"
)

// DefaultInterval bounds the multiplexer wait for backends that do not
// implement Intervaler.
const DefaultInterval = time.Second

type phase int

const (
	phaseSetup phase = iota
	phaseRunning
	phaseStopped
)

func (p phase) String() string {
	switch p {
	case phaseSetup:
		return "setup"
	case phaseRunning:
		return "running"
	default:
		return "stopped"
	}
}

// backendEntry is the registry record of one backend.
type backendEntry struct {
	backend  Backend
	started  bool
	shutdown bool
	fds      int
}

type channelKey struct {
	instance *Instance
	ident    uint64
}

// Core is the routing kernel. It owns the backend registry, instances,
// channels, the mapping table and the event loop.
//
// A Core moves through three phases: setup (registration, instances,
// mappings), running (after Start) and stopped (after Shutdown). All
// registries are mutable only during setup and read-only afterwards.
// A Core is not safe for concurrent use; every method must be called from
// the goroutine that drives the loop.
type Core struct {
	logger          *log.Logger
	observer        Observer
	defaultInterval time.Duration
	phase           phase

	backends []*backendEntry
	byName   map[string]*backendEntry

	instances      []*Instance
	instanceByName map[string]*Instance

	channels     []*Channel
	channelIndex map[channelKey]*Channel

	mappings     map[*Channel]*Mapping
	mappingOrder []*Mapping

	fds   []*ManagedFD
	polls pollSet
	dirty bool
	wake  *wakeq.Queue[struct{}]

	events []Event
	spare  []Event

	anchor    time.Time
	timestamp uint64
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger used for core diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(c *Core) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver installs an observer for loop and dispatch notifications.
func WithObserver(o Observer) Option {
	return func(c *Core) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithDefaultInterval overrides DefaultInterval.
func WithDefaultInterval(d time.Duration) Option {
	return func(c *Core) {
		if d >= 0 {
			c.defaultInterval = d
		}
	}
}

// New creates a Core in its setup phase.
func New(opts ...Option) *Core {
	c := &Core{
		logger:          log.Default(),
		observer:        NopObserver{},
		defaultInterval: DefaultInterval,
		byName:          make(map[string]*backendEntry),
		instanceByName:  make(map[string]*Instance),
		channelIndex:    make(map[channelKey]*Channel),
		mappings:        make(map[*Channel]*Mapping),
		anchor:          time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Core) requireSetup(op string) error {
	if c.phase != phaseSetup {
		return fmt.Errorf("%s: %w (phase: %s)", op, ErrNotInSetup, c.phase)
	}
	return nil
}

// Register adds a backend to the registry. Names must be unique.
func (c *Core) Register(b Backend) error {
	if err := c.requireSetup("register backend"); err != nil {
		return err
	}
	name := b.Name()
	if name == "" {
		return fmt.Errorf("register backend: %w: empty backend name", ErrInvalidName)
	}
	if _, exists := c.byName[name]; exists {
		return fmt.Errorf("register backend '%s': %w", name, ErrDuplicateBackend)
	}

	entry := &backendEntry{backend: b}
	c.backends = append(c.backends, entry)
	c.byName[name] = entry
	return nil
}

// Backend returns the registered backend with the given name, or nil.
func (c *Core) Backend(name string) Backend {
	if entry, ok := c.byName[name]; ok {
		return entry.backend
	}
	return nil
}

// Backends lists registered backend names in registration order.
func (c *Core) Backends() []string {
	names := make([]string, 0, len(c.backends))
	for _, entry := range c.backends {
		names = append(names, entry.backend.Name())
	}
	return names
}

// ConfigureBackend passes a backend-global option to the named backend.
func (c *Core) ConfigureBackend(backend, option, value string) error {
	if err := c.requireSetup("configure backend"); err != nil {
		return err
	}
	entry, ok := c.byName[backend]
	if !ok {
		return fmt.Errorf("configure backend '%s': %w", backend, ErrUnknownBackend)
	}
	if err := entry.backend.Configure(option, value); err != nil {
		return callbackError(entry.backend, "configure", fmt.Errorf("option '%s': %w", option, err))
	}
	return nil
}

// NewInstance returns a zero-initialized instance for a backend's
// CreateInstance callback. The core binds and tracks it once the callback returns.
func (c *Core) NewInstance() *Instance {
	return &Instance{}
}

// CreateInstance creates a named instance of a registered backend.
func (c *Core) CreateInstance(backend, name string) (*Instance, error) {
	if err := c.requireSetup("create instance"); err != nil {
		return nil, err
	}
	if name == "" || strings.ContainsAny(name, ". \t") {
		return nil, fmt.Errorf("create instance '%s': %w: must be non-empty without dots or whitespace", name, ErrInvalidName)
	}
	if _, exists := c.instanceByName[name]; exists {
		return nil, fmt.Errorf("create instance '%s': %w", name, ErrDuplicateInstance)
	}
	entry, ok := c.byName[backend]
	if !ok {
		return nil, fmt.Errorf("create instance '%s': %w '%s'", name, ErrUnknownBackend, backend)
	}

	inst, err := entry.backend.CreateInstance()
	if err != nil {
		return nil, callbackError(entry.backend, "create instance", err)
	}
	if inst == nil {
		return nil, callbackError(entry.backend, "create instance", ErrAllocation)
	}

	inst.Backend = entry.backend
	inst.Name = name
	c.instances = append(c.instances, inst)
	c.instanceByName[name] = inst
	return inst, nil
}

// ConfigureInstance passes a per-instance option to the owning backend.
func (c *Core) ConfigureInstance(name, option, value string) error {
	if err := c.requireSetup("configure instance"); err != nil {
		return err
	}
	inst, ok := c.instanceByName[name]
	if !ok {
		return fmt.Errorf("configure instance '%s': %w", name, ErrUnknownInstance)
	}
	if err := inst.Backend.ConfigureInstance(inst, option, value); err != nil {
		return callbackError(inst.Backend, "configure instance", fmt.Errorf("instance '%s' option '%s': %w", name, option, err))
	}
	return nil
}

// Instance returns the instance with the given name, or nil.
func (c *Core) Instance(name string) *Instance {
	return c.instanceByName[name]
}

// FindInstance returns the instance of the named backend that was assigned
// ident. Zero is never matched since it marks an unassigned identifier.
func (c *Core) FindInstance(backend string, ident uint64) *Instance {
	if ident == 0 {
		return nil
	}
	for _, inst := range c.instances {
		if inst.Ident == ident && inst.Backend.Name() == backend {
			return inst
		}
	}
	return nil
}

// Instances lists all instances of the named backend in creation order.
func (c *Core) Instances(backend string) []*Instance {
	var out []*Instance
	for _, inst := range c.instances {
		if inst.Backend.Name() == backend {
			out = append(out, inst)
		}
	}
	return out
}

// Channel returns the channel keyed by (inst, ident). If none exists and
// create is set during the setup phase, a channel with nil Impl is allocated.
// Lookups with create unset never allocate.
func (c *Core) Channel(inst *Instance, ident uint64, create bool) *Channel {
	key := channelKey{instance: inst, ident: ident}
	if ch, ok := c.channelIndex[key]; ok {
		return ch
	}
	if !create || inst == nil || c.phase != phaseSetup {
		return nil
	}

	ch := &Channel{Instance: inst, Ident: ident}
	c.channels = append(c.channels, ch)
	c.channelIndex[key] = ch
	return ch
}

// Timestamp returns the millisecond timestamp refreshed once per iteration.
func (c *Core) Timestamp() uint64 {
	return c.timestamp
}

func (c *Core) refreshTimestamp() {
	c.timestamp = uint64(time.Since(c.anchor).Milliseconds())
}
