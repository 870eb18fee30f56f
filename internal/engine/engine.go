// Package engine applies a patchbay configuration to a router core, runs the
// event loop and guarantees an orderly shutdown.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/dyluth/patchbay/internal/backends"
	"github.com/dyluth/patchbay/internal/config"
	"github.com/dyluth/patchbay/pkg/router"
	"github.com/google/uuid"
)

// Edge is one resolved routing edge between two concrete channel-specs.
type Edge struct {
	From string
	To   string
}

// Engine owns one router core for the lifetime of a configuration.
type Engine struct {
	cfg       *config.PatchbayConfig
	core      *router.Core
	logger    *log.Logger
	factories map[string]backends.Factory
	observer  router.Observer
	interval  time.Duration
	runID     string

	edges   []Edge
	setup   bool
	closed  bool
	running atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to the core and every backend.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithObserver installs a router observer, typically *metrics.Metrics.
func WithObserver(o router.Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithInterval overrides the default loop interval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.interval = d
	}
}

// WithFactory makes name resolve to factory instead of the catalogue entry.
func WithFactory(name string, factory backends.Factory) Option {
	return func(e *Engine) {
		e.factories[name] = factory
	}
}

// New creates an engine for cfg. The configuration is assumed to be validated.
func New(cfg *config.PatchbayConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		logger:    log.Default(),
		factories: make(map[string]backends.Factory),
		observer:  router.NopObserver{},
		runID:     uuid.New().String(),
	}
	for _, opt := range opts {
		opt(e)
	}

	coreOpts := []router.Option{router.WithLogger(e.logger), router.WithObserver(e.observer)}
	if e.interval > 0 {
		coreOpts = append(coreOpts, router.WithDefaultInterval(e.interval))
	}
	e.core = router.New(coreOpts...)
	return e
}

// Core returns the underlying router core.
func (e *Engine) Core() *router.Core {
	return e.core
}

// RunID identifies this engine in its JSON log events.
func (e *Engine) RunID() string {
	return e.runID
}

// Running reports whether the event loop is active. Safe for concurrent use.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Edges returns every resolved edge in mapping order. Valid after Setup.
func (e *Engine) Edges() []Edge {
	out := make([]Edge, len(e.edges))
	copy(out, e.edges)
	return out
}

// Setup performs the whole setup phase: register backends, apply backend
// options, create and configure instances, then map every channel-spec edge.
// Nothing is started.
func (e *Engine) Setup() error {
	if e.setup {
		return nil
	}
	e.setup = true

	names := e.backendOrder()
	for _, name := range names {
		if err := e.register(name); err != nil {
			return err
		}
	}

	for _, name := range e.cfg.BackendNames() {
		for _, opt := range e.cfg.Backends[name] {
			if err := e.core.ConfigureBackend(name, opt.Key, opt.Value); err != nil {
				return fmt.Errorf("backend '%s': %w", name, err)
			}
		}
	}

	for _, inst := range e.cfg.Instances {
		if _, err := e.core.CreateInstance(inst.Backend, inst.Name); err != nil {
			return fmt.Errorf("instance '%s': %w", inst.Name, err)
		}
		for _, opt := range inst.Options {
			if err := e.core.ConfigureInstance(inst.Name, opt.Key, opt.Value); err != nil {
				return fmt.Errorf("instance '%s': %w", inst.Name, err)
			}
		}
	}

	mappings, err := e.cfg.ParsedMappings()
	if err != nil {
		return err
	}
	for _, m := range mappings {
		for _, edge := range m.Edges() {
			if _, err := e.core.MapSpecs(edge.From, edge.To); err != nil {
				return fmt.Errorf("mapping '%s': %w", m, err)
			}
			pairs, err := expandEdge(edge)
			if err != nil {
				return fmt.Errorf("mapping '%s': %w", m, err)
			}
			e.edges = append(e.edges, pairs...)
		}
	}

	e.logEvent("setup_complete", map[string]interface{}{
		"backends":  len(names),
		"instances": len(e.cfg.Instances),
		"edges":     len(e.edges),
	})
	return nil
}

// backendOrder lists the backends to register: those used by instances in
// order of first use, then option-only sections in name order.
func (e *Engine) backendOrder() []string {
	var names []string
	seen := make(map[string]bool)
	for _, inst := range e.cfg.Instances {
		if !seen[inst.Backend] {
			seen[inst.Backend] = true
			names = append(names, inst.Backend)
		}
	}
	for _, name := range e.cfg.BackendNames() {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func (e *Engine) register(name string) error {
	if factory, ok := e.factories[name]; ok {
		return e.core.Register(factory(e.core, e.logger))
	}
	return backends.Register(e.core, e.logger, name)
}

// expandEdge pairs the textual expansions of both sides the way the core
// pairs the resolved channels.
func expandEdge(edge config.Edge) ([]Edge, error) {
	from, err := expandFull(edge.From)
	if err != nil {
		return nil, err
	}
	to, err := expandFull(edge.To)
	if err != nil {
		return nil, err
	}

	out := make([]Edge, 0, len(to))
	for i, dst := range to {
		src := from[0]
		if len(from) == len(to) {
			src = from[i]
		}
		out = append(out, Edge{From: src, To: dst})
	}
	return out, nil
}

// Expand expands a full "instance.channel-spec" into concrete specs.
func Expand(full string) ([]string, error) {
	return expandFull(full)
}

func expandFull(full string) ([]string, error) {
	inst, text, err := router.SplitSpec(full)
	if err != nil {
		return nil, err
	}
	spec, err := router.ParseSpec(text)
	if err != nil {
		return nil, err
	}
	expanded := spec.Expand()
	out := make([]string, len(expanded))
	for i, t := range expanded {
		out[i] = inst + "." + t
	}
	return out, nil
}

// Run sets the router up if needed, starts the backends and runs the event
// loop until ctx is cancelled or an iteration fails. The core is always
// shut down before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	defer e.Close()

	if err := e.Setup(); err != nil {
		return fmt.Errorf("failed to set up router: %w", err)
	}

	if err := e.core.Start(); err != nil {
		e.logEvent("start_failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to start backends: %w", err)
	}

	e.running.Store(true)
	defer e.running.Store(false)
	e.logEvent("loop_started", map[string]interface{}{})

	if err := e.core.Run(ctx); err != nil {
		e.logEvent("loop_failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	e.logEvent("loop_stopped", map[string]interface{}{})
	return nil
}

// Close shuts the core down. Backend shutdown errors are logged only.
// Calling Close more than once is a no-op.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if err := e.core.Shutdown(); err != nil {
		e.logger.Printf("[WARN] Errors during shutdown: %v", err)
	}
	e.logEvent("shutdown_complete", map[string]interface{}{})
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "engine"
	data["event_type"] = eventType
	data["run_id"] = e.runID

	jsonData, err := json.Marshal(data)
	if err != nil {
		e.logger.Printf("[ERROR] Failed to marshal log event: %v", err)
		return
	}

	e.logger.Println(string(jsonData))
}
