package filter

import (
	"path/filepath"

	"github.com/dyluth/patchbay/internal/backends/redis"
)

// Criteria defines filtering criteria for bus messages.
// All filters are ANDed together - a message must match ALL criteria to pass.
type Criteria struct {
	ChannelGlob string // Glob pattern for the channel name, empty = no filter
	Origin      string // Exact match for the publishing process, empty = no filter
}

// Matches returns true if the message matches all filter criteria.
func (c *Criteria) Matches(msg *redis.Message) bool {
	if c.ChannelGlob != "" {
		matched, err := filepath.Match(c.ChannelGlob, msg.Channel)
		if err != nil || !matched {
			return false
		}
	}

	if c.Origin != "" && msg.Origin != c.Origin {
		return false
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.ChannelGlob != "" || c.Origin != ""
}

// Validate reports a malformed glob pattern.
func (c *Criteria) Validate() error {
	if c.ChannelGlob == "" {
		return nil
	}
	_, err := filepath.Match(c.ChannelGlob, "")
	return err
}
