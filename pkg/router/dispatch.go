package router

import (
	"fmt"
	"time"
)

// maxDispatchRounds bounds how often events injected from HandleEvent are
// re-dispatched within a single iteration.
const maxDispatchRounds = 64

// batch accumulates the events of one destination instance.
type batch struct {
	instance *Instance
	events   []Event
}

// Event injects a value change on a channel. The normalised value is
// clamped to [0, 1]. Events on channels without a mapping are dropped.
func (c *Core) Event(ch *Channel, v Value) error {
	if ch == nil {
		return ErrUnknownChannel
	}
	if _, mapped := c.mappings[ch]; !mapped {
		return nil
	}
	c.events = append(c.events, Event{Channel: ch, Value: v.Clamped()})
	c.observer.Injected(ch)
	return nil
}

// Pending returns the number of injected events awaiting dispatch.
func (c *Core) Pending() int {
	return len(c.events)
}

// dispatch resolves all injected events through the mapping table and
// delivers one batch per destination instance. Events injected while
// delivering are dispatched in a further round.
func (c *Core) dispatch() error {
	for round := 0; len(c.events) > 0; round++ {
		if round == maxDispatchRounds {
			dropped := len(c.events)
			c.events = c.events[:0]
			return fmt.Errorf("%w: still %d events pending after %d dispatch rounds", ErrFeedbackLoop, dropped, maxDispatchRounds)
		}

		pending := c.events
		c.events = c.spare[:0]

		for _, b := range c.collect(pending) {
			began := time.Now()
			backend := b.instance.Backend
			if err := backend.HandleEvent(b.instance, b.events); err != nil {
				c.observer.Failed(backend.Name(), "handle event", err)
				return callbackError(backend, "handle event", fmt.Errorf("instance '%s': %w", b.instance.Name, err))
			}
			c.observer.Delivered(b.instance, len(b.events), time.Since(began))
		}

		c.spare = pending[:0]
	}
	return nil
}

// collect groups the destinations of pending events by owning instance,
// keeping first-seen order of instances and event order within each batch.
func (c *Core) collect(pending []Event) []*batch {
	var batches []*batch
	index := make(map[*Instance]*batch)

	for _, ev := range pending {
		m, ok := c.mappings[ev.Channel]
		if !ok {
			continue
		}
		for _, dst := range m.To {
			b, ok := index[dst.Instance]
			if !ok {
				b = &batch{instance: dst.Instance}
				index[dst.Instance] = b
				batches = append(batches, b)
			}
			b.events = append(b.events, Event{Channel: dst, Value: ev.Value})
		}
	}
	return batches
}
