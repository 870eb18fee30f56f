package router

import (
	"fmt"

	"github.com/dyluth/patchbay/internal/wakeq"
	"go.uber.org/multierr"
)

var _ Host = (*Core)(nil)

// Start ends the setup phase: it starts every backend that has at least
// one instance, in registration order, and switches the core to running.
// A failing backend aborts startup; the caller must still call Shutdown.
func (c *Core) Start() error {
	if err := c.requireSetup("start"); err != nil {
		return err
	}

	wake, err := wakeq.New[struct{}]()
	if err != nil {
		return fmt.Errorf("failed to create loop wake descriptor: %w", err)
	}
	c.wake = wake
	c.dirty = true
	c.refreshTimestamp()

	for _, entry := range c.backends {
		name := entry.backend.Name()
		if len(c.Instances(name)) == 0 {
			c.logger.Printf("[DEBUG] Backend '%s' has no instances, not starting", name)
			continue
		}
		if err := entry.backend.Start(); err != nil {
			c.observer.Failed(name, "start", err)
			return callbackError(entry.backend, "start", err)
		}
		entry.started = true
		c.logger.Printf("[INFO] Backend '%s' started", name)
	}

	c.phase = phaseRunning
	c.logger.Printf("[INFO] Router running with %d backends, %d instances, %d mapped source channels",
		len(c.backends), len(c.instances), len(c.mappingOrder))
	return nil
}

// Running reports whether Start has completed and Shutdown has not been called.
func (c *Core) Running() bool {
	return c.phase == phaseRunning
}

// Shutdown calls every registered backend's Shutdown exactly once,
// whether or not it was started, then hands every core-allocated channel
// with private state to its backend's FreeChannel. Backend errors are
// collected and returned for logging; they do not stop the teardown.
// Calling Shutdown again is a no-op.
func (c *Core) Shutdown() error {
	if c.phase == phaseStopped {
		return nil
	}
	c.phase = phaseStopped

	var errs error
	for _, entry := range c.backends {
		if entry.shutdown {
			continue
		}
		entry.shutdown = true
		if err := entry.backend.Shutdown(); err != nil {
			c.observer.Failed(entry.backend.Name(), "shutdown", err)
			errs = multierr.Append(errs, callbackError(entry.backend, "shutdown", err))
		}
	}

	for _, ch := range c.channels {
		if ch.Impl == nil {
			continue
		}
		if freer, ok := ch.Instance.Backend.(ChannelFreer); ok {
			freer.FreeChannel(ch)
		}
		ch.Impl = nil
	}

	if c.wake != nil {
		errs = multierr.Append(errs, c.wake.Close())
		c.wake = nil
	}

	c.channels = nil
	c.channelIndex = make(map[channelKey]*Channel)
	c.instances = nil
	c.instanceByName = make(map[string]*Instance)
	c.fds = nil
	c.events = nil
	c.logger.Printf("[INFO] Router shut down")
	return errs
}
