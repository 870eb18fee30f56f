package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const readyMask = unix.POLLIN | unix.POLLHUP | unix.POLLERR

// pollSet is the cached poll(2) argument. owners[i] is nil for the core's
// own wake descriptor.
type pollSet struct {
	fds    []unix.PollFd
	owners []*ManagedFD
}

// ManageFD adds (enable) or removes a descriptor from the multiplexed set
// on behalf of the named backend. Re-adding a known descriptor updates its
// owner and Impl. Removing an unknown descriptor is a no-op.
func (c *Core) ManageFD(fd int, backend string, enable bool, impl any) error {
	entry, ok := c.byName[backend]
	if !ok {
		return fmt.Errorf("manage fd %d: %w '%s'", fd, ErrUnknownBackend, backend)
	}

	for i, m := range c.fds {
		if m.FD != fd {
			continue
		}
		if enable {
			m.owner.fds--
			m.owner = entry
			m.Backend = entry.backend
			m.Impl = impl
			entry.fds++
			return nil
		}
		m.owner.fds--
		c.fds = append(c.fds[:i], c.fds[i+1:]...)
		c.dirty = true
		return nil
	}

	if !enable {
		return nil
	}
	c.fds = append(c.fds, &ManagedFD{FD: fd, Backend: entry.backend, Impl: impl, owner: entry})
	entry.fds++
	c.dirty = true
	return nil
}

// ManagedFDs returns the number of descriptors currently multiplexed.
func (c *Core) ManagedFDs() int {
	return len(c.fds)
}

// waitTimeout is the shortest interval requested by any started backend,
// or zero while injected events are still pending.
func (c *Core) waitTimeout() time.Duration {
	if len(c.events) > 0 {
		return 0
	}
	timeout := c.defaultInterval
	for _, entry := range c.backends {
		if !entry.started {
			continue
		}
		if iv, ok := entry.backend.(Intervaler); ok {
			if d := iv.Interval(); d < timeout {
				timeout = max(d, 0)
			}
		}
	}
	return timeout
}

func (c *Core) rebuildPollSet() {
	c.polls.fds = c.polls.fds[:0]
	c.polls.owners = c.polls.owners[:0]
	if c.wake != nil {
		c.polls.fds = append(c.polls.fds, unix.PollFd{Fd: int32(c.wake.FD()), Events: unix.POLLIN})
		c.polls.owners = append(c.polls.owners, nil)
	}
	for _, m := range c.fds {
		c.polls.fds = append(c.polls.fds, unix.PollFd{Fd: int32(m.FD), Events: unix.POLLIN})
		c.polls.owners = append(c.polls.owners, m)
	}
	c.dirty = false
}

// poll blocks for up to timeout and returns the ready managed descriptors.
func (c *Core) poll(timeout time.Duration) ([]*ManagedFD, error) {
	if c.dirty || len(c.polls.fds) == 0 {
		c.rebuildPollSet()
	}

	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		// round sub-millisecond waits up instead of spinning
		ms = 1
	}

	n, err := unix.Poll(c.polls.fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to poll managed descriptors: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	var ready []*ManagedFD
	for i, p := range c.polls.fds {
		if p.Revents&readyMask == 0 {
			continue
		}
		owner := c.polls.owners[i]
		if owner == nil {
			c.wake.Drain()
			continue
		}
		ready = append(ready, owner)
	}
	return ready, nil
}

// Iterate runs one reactor iteration: wait for readiness, refresh the
// timestamp, call Process once per backend with pending readiness (always
// for started backends without descriptors) and dispatch all injected events.
func (c *Core) Iterate() error {
	if c.phase != phaseRunning {
		return ErrNotRunning
	}

	ready, err := c.poll(c.waitTimeout())
	if err != nil {
		return err
	}
	c.refreshTimestamp()
	began := time.Now()

	for _, entry := range c.backends {
		var own []*ManagedFD
		for _, m := range ready {
			if m.owner == entry {
				own = append(own, m)
			}
		}
		// Ready descriptors are handed to their owner even if it was never
		// started; poll is level-triggered and only the owner can drain them.
		if len(own) == 0 && (entry.fds > 0 || !entry.started) {
			continue
		}
		if err := entry.backend.Process(own); err != nil {
			c.observer.Failed(entry.backend.Name(), "process", err)
			return callbackError(entry.backend, "process", err)
		}
	}

	if err := c.dispatch(); err != nil {
		return err
	}
	c.observer.Iteration(len(ready), time.Since(began))
	return nil
}

// Run iterates until ctx is cancelled or an iteration fails. Cancellation
// is a clean stop and returns nil; the current iteration always completes.
// The caller remains responsible for calling Shutdown.
func (c *Core) Run(ctx context.Context) error {
	if c.phase != phaseRunning {
		return ErrNotRunning
	}

	wake := c.wake
	stop := context.AfterFunc(ctx, func() {
		_ = wake.Push(struct{}{})
	})
	defer stop()

	for ctx.Err() == nil {
		if err := c.Iterate(); err != nil {
			c.logger.Printf("[ERROR] Router loop terminated: %v", err)
			return err
		}
	}
	c.logger.Printf("[INFO] Router loop stopped: %v", context.Cause(ctx))
	return nil
}
