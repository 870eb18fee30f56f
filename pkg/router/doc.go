// Package router is the routing kernel of patchbay: it connects backends
// (MIDI devices, scripting engines, message brokers, loopbacks) through a
// declarative mapping table and drives them from one event loop.
//
// # Overview
//
// A Backend implements one protocol. Each backend may have many named
// Instances, and each instance exposes Channels identified by a 64-bit
// value whose meaning is private to the backend. Mappings connect a source
// channel to any number of destination channels, possibly of other
// backends. Values travel as a Value: an opaque backend-specific raw word
// plus a normalised double in [0, 1].
//
// # Phases
//
// A Core is set up once and then run:
//
//	core := router.New()
//	core.Register(loopback.New(core, log.Default()))
//	core.CreateInstance("loopback", "loop")
//	core.MapSpecs("in.ch0.note1-4", "loop.key1-4")
//	if err := core.Start(); err != nil { ... }
//	defer core.Shutdown()
//	err := core.Run(ctx)
//
// Registration, instance creation, channel allocation and mapping are only
// possible during setup. After Start the registries are read-only. Every
// callback runs on the goroutine that calls Run and the core takes no locks.
//
// # Channel specifications
//
// Mapping directives address channels as "instance.channel-text". The
// channel-text may contain numeric range tokens START-END or
// START-END:STEP. A spec with several tokens expands to the cross product
// of all of them, the leftmost token varying slowest:
//
//	pad.row1-2.col1-3 expands to
//	pad.row1.col1, pad.row1.col2, pad.row1.col3,
//	pad.row2.col1, pad.row2.col2, pad.row2.col3
//
// Two expansions are paired positionally when their sizes match. A single
// source channel is broadcast to all destinations. Any other combination is
// a configuration error.
//
// # Event loop
//
// Each iteration waits on all managed descriptors for at most the shortest
// Intervaler.Interval of any started backend (DefaultInterval otherwise),
// refreshes the timestamp and calls Process once per backend that has ready
// descriptors or manages none. Events pushed with Event are then resolved
// through the mapping table and delivered with one HandleEvent call per
// destination instance.
//
// Any error returned by Process or HandleEvent ends Run. Shutdown then calls
// every backend's Shutdown exactly once, started or not.
package router
