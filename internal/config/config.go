package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dyluth/patchbay/pkg/router"
	"gopkg.in/yaml.v3"
)

// PatchbayConfig represents the top-level patchbay.yml configuration
type PatchbayConfig struct {
	Version   string             `yaml:"version"`
	Backends  map[string]Options `yaml:"backends,omitempty"` // backend-global options
	Instances []Instance         `yaml:"instances"`
	Mappings  []string           `yaml:"mappings"` // "a > b", "a < b" or "a = b"
}

// Instance represents a single configured backend instance
type Instance struct {
	Name    string  `yaml:"name"`
	Backend string  `yaml:"backend"`
	Options Options `yaml:"options,omitempty"`
}

// Option is a single key/value setting.
type Option struct {
	Key   string
	Value string
}

// Options keeps options in file order. Backends may depend on that order,
// and a key may repeat when written in list form:
//
//	options:
//	  - script: base.lua
//	  - script: show.lua
type Options []Option

// UnmarshalYAML accepts a mapping or a sequence of single-key mappings.
func (o *Options) UnmarshalYAML(value *yaml.Node) error {
	var out Options
	switch value.Kind {
	case yaml.MappingNode:
		pairs, err := scalarPairs(value)
		if err != nil {
			return err
		}
		out = pairs
	case yaml.SequenceNode:
		for _, item := range value.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: option list entries must be key: value mappings", item.Line)
			}
			pairs, err := scalarPairs(item)
			if err != nil {
				return err
			}
			out = append(out, pairs...)
		}
	default:
		return fmt.Errorf("line %d: options must be a mapping or a list of mappings", value.Line)
	}
	*o = out
	return nil
}

func scalarPairs(node *yaml.Node) (Options, error) {
	var out Options
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if key.Kind != yaml.ScalarNode || val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: option values must be scalars", key.Line)
		}
		out = append(out, Option{Key: key.Value, Value: val.Value})
	}
	return out, nil
}

// Get returns the last value set for key.
func (o Options) Get(key string) (string, bool) {
	for i := len(o) - 1; i >= 0; i-- {
		if o[i].Key == key {
			return o[i].Value, true
		}
	}
	return "", false
}

// Direction is the routing direction of a mapping line.
type Direction int

const (
	Forward Direction = iota // left > right
	Reverse                  // left < right
	Both                     // left = right
)

var directionTokens = map[byte]Direction{'>': Forward, '<': Reverse, '=': Both}

func (d Direction) String() string {
	switch d {
	case Reverse:
		return "<"
	case Both:
		return "="
	default:
		return ">"
	}
}

// Mapping is one parsed mapping line.
type Mapping struct {
	Left      string
	Right     string
	Direction Direction
}

// Edge is a directed source > destination pair of channel-specs.
type Edge struct {
	From string
	To   string
}

// ParseMapping parses "left > right", "left < right" or "left = right".
func ParseMapping(line string) (Mapping, error) {
	idx := strings.IndexAny(line, "<>=")
	if idx < 0 {
		return Mapping{}, fmt.Errorf("mapping '%s': missing direction (>, < or =)", line)
	}
	m := Mapping{
		Left:      strings.TrimSpace(line[:idx]),
		Right:     strings.TrimSpace(line[idx+1:]),
		Direction: directionTokens[line[idx]],
	}
	if m.Left == "" || m.Right == "" {
		return Mapping{}, fmt.Errorf("mapping '%s': both sides must name a channel", line)
	}
	if strings.ContainsAny(m.Right, "<>=") {
		return Mapping{}, fmt.Errorf("mapping '%s': more than one direction", line)
	}
	for _, side := range []string{m.Left, m.Right} {
		if _, _, err := router.SplitSpec(side); err != nil {
			return Mapping{}, fmt.Errorf("mapping '%s': %w", line, err)
		}
	}
	return m, nil
}

// Edges returns the directed edges of the mapping. "=" yields both directions.
func (m Mapping) Edges() []Edge {
	switch m.Direction {
	case Reverse:
		return []Edge{{From: m.Right, To: m.Left}}
	case Both:
		return []Edge{{From: m.Left, To: m.Right}, {From: m.Right, To: m.Left}}
	default:
		return []Edge{{From: m.Left, To: m.Right}}
	}
}

func (m Mapping) String() string {
	return fmt.Sprintf("%s %s %s", m.Left, m.Direction, m.Right)
}

// ParsedMappings parses every mapping line in order.
func (c *PatchbayConfig) ParsedMappings() ([]Mapping, error) {
	out := make([]Mapping, 0, len(c.Mappings))
	for i, line := range c.Mappings {
		m, err := ParseMapping(line)
		if err != nil {
			return nil, fmt.Errorf("mappings[%d]: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// BackendNames lists configured backend sections sorted by name.
func (c *PatchbayConfig) BackendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate performs strict validation on the configuration
func (c *PatchbayConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Required: at least one instance
	if len(c.Instances) == 0 {
		return fmt.Errorf("no instances defined")
	}

	seen := make(map[string]bool)
	for i, inst := range c.Instances {
		if err := inst.Validate(i); err != nil {
			return err
		}
		if seen[inst.Name] {
			return fmt.Errorf("duplicate instance name '%s'", inst.Name)
		}
		seen[inst.Name] = true
	}

	mappings, err := c.ParsedMappings()
	if err != nil {
		return err
	}
	for _, m := range mappings {
		for _, side := range []string{m.Left, m.Right} {
			name, _, _ := router.SplitSpec(side)
			if !seen[name] {
				return fmt.Errorf("mapping '%s': unknown instance '%s'", m, name)
			}
		}
	}
	return nil
}

// Validate performs validation on a single instance configuration
func (i *Instance) Validate(index int) error {
	if i.Name == "" {
		return fmt.Errorf("instances[%d]: name is required", index)
	}
	if strings.ContainsAny(i.Name, ". \t") {
		return fmt.Errorf("instance '%s': name must not contain dots or whitespace", i.Name)
	}
	if i.Backend == "" {
		return fmt.Errorf("instance '%s': backend is required", i.Name)
	}
	return nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*PatchbayConfig, error) {
	var config PatchbayConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Load reads and validates patchbay.yml from the specified path
func Load(path string) (*PatchbayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}
