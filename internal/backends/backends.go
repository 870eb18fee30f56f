// Package backends is the static catalogue of backends compiled into patchbay.
package backends

import (
	"fmt"
	"log"
	"sort"

	"github.com/dyluth/patchbay/internal/backends/loopback"
	"github.com/dyluth/patchbay/internal/backends/lua"
	"github.com/dyluth/patchbay/internal/backends/midi"
	"github.com/dyluth/patchbay/internal/backends/redis"
	"github.com/dyluth/patchbay/pkg/router"
)

// Factory creates a backend bound to a router host.
type Factory func(host router.Host, logger *log.Logger) router.Backend

// Info describes one catalogue entry.
type Info struct {
	Name        string
	Description string
	Factory     Factory
}

var catalogue = []Info{
	{
		Name:        loopback.Name,
		Description: "re-injects every value on the channel it was delivered to",
		Factory:     func(h router.Host, l *log.Logger) router.Backend { return loopback.New(h, l) },
	},
	{
		Name:        lua.Name,
		Description: "routes values through Lua scripts",
		Factory:     func(h router.Host, l *log.Logger) router.Backend { return lua.New(h, l) },
	},
	{
		Name:        midi.Name,
		Description: "MIDI ports through the system MIDI driver",
		Factory:     func(h router.Host, l *log.Logger) router.Backend { return midi.New(h, l) },
	},
	{
		Name:        redis.Name,
		Description: "Redis pub/sub bridge with a hash of last values",
		Factory:     func(h router.Host, l *log.Logger) router.Backend { return redis.New(h, l) },
	},
}

// All lists the catalogue sorted by name.
func All() []Info {
	out := make([]Info, len(catalogue))
	copy(out, catalogue)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the catalogue entry for name.
func Lookup(name string) (Info, bool) {
	for _, info := range catalogue {
		if info.Name == name {
			return info, true
		}
	}
	return Info{}, false
}

// Register registers the named backends with core, in the given order.
func Register(core *router.Core, logger *log.Logger, names ...string) error {
	for _, name := range names {
		info, ok := Lookup(name)
		if !ok {
			return fmt.Errorf("%w '%s' (available: %v)", router.ErrUnknownBackend, name, Names())
		}
		if err := core.Register(info.Factory(core, logger)); err != nil {
			return err
		}
	}
	return nil
}

// Names lists the catalogued backend names sorted alphabetically.
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for _, info := range All() {
		names = append(names, info.Name)
	}
	return names
}
