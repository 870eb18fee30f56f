package engine

import (
	"bytes"
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/dyluth/patchbay/internal/config"
	"github.com/dyluth/patchbay/pkg/router"
	"github.com/dyluth/patchbay/pkg/router/routertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pairConfig = `
version: "1.0"
backends:
  src:
    mode: fast
instances:
  - name: in1
    backend: src
    options:
      port: "1"
  - name: out1
    backend: dst
mappings:
  - in1.a1-2 > out1.b1-2
  - in1.fader = out1.level
`

type fixture struct {
	engine *Engine
	src    *routertest.Backend
	dst    *routertest.Backend
	logs   *bytes.Buffer
}

func newFixture(t *testing.T, yaml string) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)

	f := &fixture{logs: &bytes.Buffer{}}
	f.engine = New(cfg,
		WithLogger(log.New(f.logs, "", 0)),
		WithInterval(5*time.Millisecond),
		WithFactory("src", func(h router.Host, _ *log.Logger) router.Backend {
			f.src = routertest.New(h, "src")
			f.src.IntervalValue = 5 * time.Millisecond
			return f.src
		}),
		WithFactory("dst", func(h router.Host, _ *log.Logger) router.Backend {
			f.dst = routertest.New(h, "dst")
			return f.dst
		}),
	)
	t.Cleanup(f.engine.Close)
	return f
}

func TestSetup(t *testing.T) {
	f := newFixture(t, pairConfig)
	require.NoError(t, f.engine.Setup())

	assert.Equal(t, []string{"src", "dst"}, f.engine.Core().Backends())
	assert.Equal(t, "fast", f.src.Options["mode"])
	assert.Equal(t, "1", f.src.InstanceOpts["in1"]["port"])

	assert.Equal(t, []Edge{
		{From: "in1.a1", To: "out1.b1"},
		{From: "in1.a2", To: "out1.b2"},
		{From: "in1.fader", To: "out1.level"},
		{From: "out1.level", To: "in1.fader"},
	}, f.engine.Edges())
	assert.Len(t, f.engine.Core().Mappings(), 4)

	assert.Contains(t, f.logs.String(), `"event_type":"setup_complete"`)
	assert.Contains(t, f.logs.String(), `"run_id":"`+f.engine.RunID()+`"`)

	// A second call is a no-op.
	require.NoError(t, f.engine.Setup())
	assert.Len(t, f.engine.Edges(), 4)
}

func TestSetup_Broadcast(t *testing.T) {
	f := newFixture(t, `
version: "1.0"
instances:
  - {name: in1, backend: src}
  - {name: out1, backend: dst}
mappings:
  - in1.x < out1.led01-03
`)
	require.NoError(t, f.engine.Setup())
	assert.Equal(t, []Edge{
		{From: "out1.led01", To: "in1.x"},
		{From: "out1.led02", To: "in1.x"},
		{From: "out1.led03", To: "in1.x"},
	}, f.engine.Edges())
}

func TestSetup_Errors(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		f := newFixture(t, `
version: "1.0"
instances:
  - {name: x, backend: theremin}
`)
		assert.ErrorIs(t, f.engine.Setup(), router.ErrUnknownBackend)
	})

	t.Run("rejected backend option", func(t *testing.T) {
		f := newFixture(t, pairConfig)
		f.engine.factories["src"] = func(h router.Host, _ *log.Logger) router.Backend {
			f.src = routertest.New(h, "src")
			f.src.FailConfigure = true
			return f.src
		}
		err := f.engine.Setup()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backend 'src'")
	})

	t.Run("count mismatch", func(t *testing.T) {
		f := newFixture(t, `
version: "1.0"
instances:
  - {name: in1, backend: src}
  - {name: out1, backend: dst}
mappings:
  - in1.a1-2 > out1.b1-3
`)
		assert.ErrorIs(t, f.engine.Setup(), router.ErrMappingCount)
	})
}

func TestSetup_CatalogueBackend(t *testing.T) {
	cfg, err := config.Parse([]byte(`
version: "1.0"
instances:
  - {name: lb, backend: loopback}
mappings:
  - lb.in1-4 > lb.out1-4
`))
	require.NoError(t, err)

	e := New(cfg, WithLogger(log.New(io.Discard, "", 0)))
	defer e.Close()
	require.NoError(t, e.Setup())
	assert.Equal(t, []string{"loopback"}, e.Core().Backends())
	assert.Len(t, e.Edges(), 4)
}

func TestRun_DeliversEvents(t *testing.T) {
	f := newFixture(t, pairConfig)
	require.NoError(t, f.engine.Setup())
	f.src.Inject = []routertest.Injection{
		{Instance: "in1", Channel: "a2", Value: 0.5},
		{Instance: "in1", Channel: "fader", Value: 1},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, f.engine.Run(ctx))

	assert.Equal(t, map[string]map[string]float64{
		"out1": {"b2": 0.5, "level": 1},
	}, f.dst.Values())
	assert.Equal(t, 1, f.src.Started)
	assert.Equal(t, 1, f.src.ShutdownRuns)
	assert.Equal(t, 1, f.dst.ShutdownRuns)
	assert.False(t, f.engine.Running())

	logs := f.logs.String()
	assert.Contains(t, logs, `"event_type":"loop_started"`)
	assert.Contains(t, logs, `"event_type":"loop_stopped"`)
	assert.Contains(t, logs, `"event_type":"shutdown_complete"`)
}

func TestRun_StartFailure(t *testing.T) {
	f := newFixture(t, pairConfig)
	require.NoError(t, f.engine.Setup())
	f.dst.FailStart = true

	err := f.engine.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start backends")
	assert.Equal(t, 1, f.src.ShutdownRuns)
	assert.Equal(t, 1, f.dst.ShutdownRuns)
	assert.False(t, f.engine.Running())
	assert.Contains(t, f.logs.String(), `"event_type":"start_failed"`)
}

func TestRun_IterationFailure(t *testing.T) {
	f := newFixture(t, pairConfig)
	require.NoError(t, f.engine.Setup())
	f.src.FailProcess = assert.AnError

	err := f.engine.Run(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, f.src.ShutdownRuns)
	assert.Contains(t, f.logs.String(), `"event_type":"loop_failed"`)
}

func TestRun_SetupFailureStillShutsDown(t *testing.T) {
	f := newFixture(t, `
version: "1.0"
instances:
  - {name: in1, backend: src}
  - {name: out1, backend: dst}
mappings:
  - in1.a1-2 > out1.b1-3
`)
	err := f.engine.Run(context.Background())
	require.ErrorIs(t, err, router.ErrMappingCount)
	assert.Equal(t, 1, f.src.ShutdownRuns)
	assert.Zero(t, f.src.Started)
}

func TestClose_Idempotent(t *testing.T) {
	f := newFixture(t, pairConfig)
	require.NoError(t, f.engine.Setup())
	f.engine.Close()
	f.engine.Close()
	assert.Equal(t, 1, f.src.ShutdownRuns)
}

func TestExpand(t *testing.T) {
	specs, err := Expand("pad.row1-2.col3-4")
	require.NoError(t, err)
	assert.Equal(t, []string{"pad.row1.col3", "pad.row1.col4", "pad.row2.col3", "pad.row2.col4"}, specs)

	_, err = Expand("pad.note9-1")
	assert.ErrorIs(t, err, router.ErrInvertedRange)

	_, err = Expand("nodot")
	assert.Error(t, err)
}
