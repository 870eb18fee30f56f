// Package metrics exposes router activity as Prometheus metrics. Metrics
// implements router.Observer and is installed with router.WithObserver.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/dyluth/patchbay/pkg/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics contains all router metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Iterations       prometheus.Counter
	ReadyDescriptors prometheus.Histogram
	IterationSeconds prometheus.Histogram
	EventsInjected   *prometheus.CounterVec
	EventsDelivered  *prometheus.CounterVec
	DeliverySeconds  *prometheus.HistogramVec
	CallbackFailures *prometheus.CounterVec

	iterations    atomic.Uint64
	injected      atomic.Uint64
	delivered     atomic.Uint64
	failures      atomic.Uint64
	lastIteration atomic.Int64
}

// Snapshot is a point-in-time copy of the loop counters.
type Snapshot struct {
	Iterations    uint64    `json:"iterations"`
	Injected      uint64    `json:"events_injected"`
	Delivered     uint64    `json:"events_delivered"`
	Failures      uint64    `json:"failures"`
	LastIteration time.Time `json:"last_iteration"`
}

var _ router.Observer = (*Metrics)(nil)

// New creates the router metrics and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patchbay",
			Subsystem: "loop",
			Name:      "iterations_total",
			Help:      "Total number of event loop iterations",
		}),

		ReadyDescriptors: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "patchbay",
			Subsystem: "loop",
			Name:      "ready_descriptors",
			Help:      "Number of ready descriptors per loop iteration",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),

		IterationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "patchbay",
			Subsystem: "loop",
			Name:      "work_seconds",
			Help:      "Time spent processing and dispatching per iteration, excluding the wait",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),

		EventsInjected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "patchbay",
				Subsystem: "events",
				Name:      "injected_total",
				Help:      "Total number of events injected on mapped channels",
			},
			[]string{"backend", "instance"},
		),

		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "patchbay",
				Subsystem: "events",
				Name:      "delivered_total",
				Help:      "Total number of events delivered to destination instances",
			},
			[]string{"backend", "instance"},
		),

		DeliverySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "patchbay",
				Subsystem: "events",
				Name:      "delivery_seconds",
				Help:      "Duration of HandleEvent calls in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"backend"},
		),

		CallbackFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "patchbay",
				Subsystem: "backend",
				Name:      "failures_total",
				Help:      "Total number of failed backend callbacks",
			},
			[]string{"backend", "callback"},
		),
	}

	m.registry.MustRegister(
		m.Iterations,
		m.ReadyDescriptors,
		m.IterationSeconds,
		m.EventsInjected,
		m.EventsDelivered,
		m.DeliverySeconds,
		m.CallbackFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the Prometheus registry holding the router metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Iteration(ready int, elapsed time.Duration) {
	m.Iterations.Inc()
	m.ReadyDescriptors.Observe(float64(ready))
	m.IterationSeconds.Observe(elapsed.Seconds())
	m.iterations.Add(1)
	m.lastIteration.Store(time.Now().UnixNano())
}

func (m *Metrics) Injected(c *router.Channel) {
	m.EventsInjected.WithLabelValues(c.Instance.Backend.Name(), c.Instance.Name).Inc()
	m.injected.Add(1)
}

func (m *Metrics) Delivered(inst *router.Instance, events int, elapsed time.Duration) {
	backend := inst.Backend.Name()
	m.EventsDelivered.WithLabelValues(backend, inst.Name).Add(float64(events))
	m.DeliverySeconds.WithLabelValues(backend).Observe(elapsed.Seconds())
	m.delivered.Add(uint64(events))
}

func (m *Metrics) Failed(backend, callback string, err error) {
	m.CallbackFailures.WithLabelValues(backend, callback).Inc()
	m.failures.Add(1)
}

// Snapshot returns the current counters. Safe for concurrent use.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Iterations: m.iterations.Load(),
		Injected:   m.injected.Load(),
		Delivered:  m.delivered.Load(),
		Failures:   m.failures.Load(),
	}
	if last := m.lastIteration.Load(); last != 0 {
		s.LastIteration = time.Unix(0, last)
	}
	return s
}
