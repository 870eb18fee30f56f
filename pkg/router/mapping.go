package router

import "fmt"

// ResolveSpec expands "instance.channel-text" and resolves every concrete
// channel-text through the owning backend's ParseChannel, in expansion order.
func (c *Core) ResolveSpec(full string) ([]*Channel, error) {
	instName, text, err := SplitSpec(full)
	if err != nil {
		return nil, err
	}
	inst, ok := c.instanceByName[instName]
	if !ok {
		return nil, fmt.Errorf("resolve '%s': %w '%s'", full, ErrUnknownInstance, instName)
	}
	spec, err := ParseSpec(text)
	if err != nil {
		return nil, fmt.Errorf("resolve '%s': %w", full, err)
	}

	concrete := spec.Expand()
	channels := make([]*Channel, 0, len(concrete))
	for _, t := range concrete {
		ch, err := inst.Backend.ParseChannel(inst, t)
		if err != nil {
			return nil, callbackError(inst.Backend, "parse channel", fmt.Errorf("'%s.%s': %w", instName, t, err))
		}
		if ch == nil {
			return nil, callbackError(inst.Backend, "parse channel", fmt.Errorf("'%s.%s': %w", instName, t, ErrAllocation))
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// MapSpecs expands both specs and adds one edge per pairing. Expansions
// pair positionally when their counts match; a single source channel is
// broadcast to every destination. Returns the number of edges requested.
func (c *Core) MapSpecs(from, to string) (int, error) {
	if err := c.requireSetup("map channels"); err != nil {
		return 0, err
	}
	sources, err := c.ResolveSpec(from)
	if err != nil {
		return 0, err
	}
	destinations, err := c.ResolveSpec(to)
	if err != nil {
		return 0, err
	}

	switch {
	case len(sources) == len(destinations):
		for i := range sources {
			if err := c.Map(sources[i], destinations[i]); err != nil {
				return 0, err
			}
		}
	case len(sources) == 1:
		for _, dst := range destinations {
			if err := c.Map(sources[0], dst); err != nil {
				return 0, err
			}
		}
	default:
		return 0, fmt.Errorf("map '%s' > '%s': %w: %d source channels, %d destination channels",
			from, to, ErrMappingCount, len(sources), len(destinations))
	}
	return len(destinations), nil
}

// Map adds a routing edge between two channels. Adding an existing edge is a no-op.
// Intended for configuration loading, not for backends.
func (c *Core) Map(from, to *Channel) error {
	if err := c.requireSetup("map channel"); err != nil {
		return err
	}
	if from == nil || to == nil {
		return fmt.Errorf("map channel: %w", ErrUnknownChannel)
	}

	m, ok := c.mappings[from]
	if !ok {
		m = &Mapping{From: from}
		c.mappings[from] = m
		c.mappingOrder = append(c.mappingOrder, m)
	}
	for _, existing := range m.To {
		if existing == to {
			return nil
		}
	}
	m.To = append(m.To, to)
	return nil
}

// Resolve returns the destinations of a source channel, or nil if it is unmapped.
// The returned slice must not be modified.
func (c *Core) Resolve(from *Channel) []*Channel {
	if m, ok := c.mappings[from]; ok {
		return m.To
	}
	return nil
}

// Mappings lists all mappings in the order their sources were first mapped.
func (c *Core) Mappings() []*Mapping {
	out := make([]*Mapping, len(c.mappingOrder))
	copy(out, c.mappingOrder)
	return out
}
