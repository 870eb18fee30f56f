package router

import "time"

// Backend is the capability set every backend plugin implements.
//
// All callbacks run on the single core goroutine and must return promptly.
// Long-running work belongs on backend-owned goroutines that surface their
// results through a managed descriptor (see Host.ManageFD).
type Backend interface {
	// Name is the unique registry key of the backend.
	Name() string

	// Configure applies a backend-global option. An error aborts startup.
	Configure(option, value string) error

	// CreateInstance allocates a new instance via Host.NewInstance.
	// Returning nil aborts startup.
	CreateInstance() (*Instance, error)

	// ConfigureInstance applies a per-instance option. An error aborts startup.
	ConfigureInstance(inst *Instance, option, value string) error

	// ParseChannel resolves one concrete channel-spec (range tokens already
	// substituted) to a channel. Returning nil aborts startup.
	ParseChannel(inst *Instance, spec string) (*Channel, error)

	// Start is called once after all instances and mappings exist, and only
	// if the backend has at least one instance.
	Start() error

	// Process is called once per loop iteration with all ready descriptors
	// of this backend, or with none for backends that manage no descriptors.
	// Events are pushed with Host.Event. An error is fatal.
	Process(ready []*ManagedFD) error

	// HandleEvent delivers all value changes for inst collected during one
	// dispatch pass. An error is fatal.
	HandleEvent(inst *Instance, events []Event) error

	// Shutdown is called exactly once at teardown, whether or not the
	// backend was started. The return value is only logged.
	Shutdown() error
}

// Intervaler is implemented by backends that need to be called back more
// often than the default loop interval.
type Intervaler interface {
	Interval() time.Duration
}

// ChannelFreer is implemented by backends that attach private state to
// channels allocated through Host.Channel. FreeChannel is called once per
// such channel with a non-nil Impl at shutdown.
type ChannelFreer interface {
	FreeChannel(c *Channel)
}

// Host is the part of the core exposed to backends.
type Host interface {
	// NewInstance returns a zero-initialized instance. Backends call it from
	// CreateInstance.
	NewInstance() *Instance

	// FindInstance returns the instance of the named backend carrying ident,
	// or nil. Identifiers are assigned by backends; zero means unassigned.
	FindInstance(backend string, ident uint64) *Instance

	// Instances lists all instances of the named backend.
	Instances(backend string) []*Instance

	// Channel returns the channel keyed by (inst, ident), allocating it if
	// create is set and the core is still in its setup phase.
	Channel(inst *Instance, ident uint64, create bool) *Channel

	// ManageFD adds (enable) or removes a descriptor from the multiplexed
	// set. Removing an unknown descriptor is a no-op.
	ManageFD(fd int, backend string, enable bool, impl any) error

	// Event injects a value change on a channel.
	Event(c *Channel, v Value) error

	// Timestamp returns the millisecond timestamp of the current iteration.
	Timestamp() uint64
}

// Instance is a configured use of a backend.
type Instance struct {
	Backend Backend
	Ident   uint64
	Impl    any
	Name    string
}

// Channel is an addressable signal endpoint of an instance.
type Channel struct {
	Instance *Instance
	Ident    uint64
	Impl     any
}

// ManagedFD is a descriptor multiplexed by the event loop on behalf of a backend.
type ManagedFD struct {
	FD      int
	Backend Backend
	Impl    any

	owner *backendEntry
}

// Event is a single value change on a channel.
type Event struct {
	Channel *Channel
	Value   Value
}

// Mapping is a resolved routing edge set: all destinations of one source channel.
type Mapping struct {
	From *Channel
	To   []*Channel
}

// Observer receives loop and dispatch notifications, typically for metrics.
// Calls happen on the core goroutine.
type Observer interface {
	Iteration(ready int, elapsed time.Duration)
	Injected(c *Channel)
	Delivered(inst *Instance, events int, elapsed time.Duration)
	Failed(backend, callback string, err error)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) Iteration(int, time.Duration)            {}
func (NopObserver) Injected(*Channel)                       {}
func (NopObserver) Delivered(*Instance, int, time.Duration) {}
func (NopObserver) Failed(string, string, error)            {}
