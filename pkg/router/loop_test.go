package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/dyluth/patchbay/pkg/router"
	"github.com/dyluth/patchbay/pkg/router/routertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestManageFD(t *testing.T) {
	core, _, _ := setupPair(t)
	r, _ := newPipe(t)

	assert.ErrorIs(t, core.ManageFD(r, "ghost", true, nil), router.ErrUnknownBackend)

	require.NoError(t, core.ManageFD(r, "src", true, nil))
	require.NoError(t, core.ManageFD(r, "src", true, "updated"))
	assert.Equal(t, 1, core.ManagedFDs())

	require.NoError(t, core.ManageFD(r, "src", false, nil))
	require.NoError(t, core.ManageFD(r, "src", false, nil), "double unregister is a no-op")
	assert.Equal(t, 0, core.ManagedFDs())
}

func TestIterate_ProcessOnlyWithReadiness(t *testing.T) {
	core, src, dst := setupPair(t)
	r1, w1 := newPipe(t)
	r2, _ := newPipe(t)
	require.NoError(t, core.ManageFD(r1, "src", true, nil))
	require.NoError(t, core.ManageFD(r2, "src", true, nil))
	require.NoError(t, core.Start())

	require.NoError(t, core.Iterate())
	assert.Equal(t, 0, src.Processed, "no descriptor was ready")
	assert.Equal(t, 1, dst.Processed, "backends without descriptors are polled every iteration")

	_, err := unix.Write(w1, []byte{1})
	require.NoError(t, err)
	require.NoError(t, core.Iterate())
	require.Equal(t, 1, src.Processed)
	assert.Equal(t, []int{r1}, src.ReadyFDs[0])
}

func TestIterate_ManagedAfterStart(t *testing.T) {
	core, src, _ := setupPair(t)
	require.NoError(t, core.Start())

	r, w := newPipe(t)
	require.NoError(t, core.ManageFD(r, "src", true, "conn"))
	_, err := unix.Write(w, []byte{1})
	require.NoError(t, err)

	require.NoError(t, core.Iterate())
	require.NotEmpty(t, src.ReadyFDs)
	assert.Equal(t, []int{r}, src.ReadyFDs[len(src.ReadyFDs)-1])

	require.NoError(t, core.ManageFD(r, "src", false, nil))
	processed := src.Processed
	require.NoError(t, core.Iterate())
	assert.Equal(t, processed+1, src.Processed, "without descriptors the backend is polled again")
}

func TestIterate_ReadyDescriptorOfUnstartedBackend(t *testing.T) {
	core, src, _ := setupPair(t)
	idle := routertest.New(core, "idle")
	require.NoError(t, core.Register(idle))

	r, w := newPipe(t)
	require.NoError(t, core.ManageFD(r, "idle", true, nil))
	_, err := unix.Write(w, []byte{1})
	require.NoError(t, err)
	require.NoError(t, core.Start())
	require.Zero(t, idle.Started, "backends without instances are not started")

	require.NoError(t, core.Iterate())
	require.Equal(t, 1, idle.Processed, "the owner must get the chance to drain its descriptor")
	assert.Equal(t, []int{r}, idle.ReadyFDs[0])
	assert.Equal(t, 1, src.Processed)

	buf := make([]byte, 1)
	_, err = unix.Read(r, buf)
	require.NoError(t, err)

	began := time.Now()
	require.NoError(t, core.Iterate())
	assert.GreaterOrEqual(t, time.Since(began), 4*time.Millisecond, "a drained descriptor lets the loop wait again")
	assert.Equal(t, 1, idle.Processed, "unstarted backends are not polled without readiness")
}

func TestIterate_HonoursShortestInterval(t *testing.T) {
	core := newCore(t, router.WithDefaultInterval(10*time.Second))
	fast := routertest.New(core, "fast")
	fast.IntervalValue = 10 * time.Millisecond
	slow := routertest.New(core, "slow")
	unused := routertest.New(core, "unused")
	unused.IntervalValue = time.Nanosecond
	for _, b := range []*routertest.Backend{fast, slow, unused} {
		require.NoError(t, core.Register(b))
	}
	_, err := core.CreateInstance("fast", "f")
	require.NoError(t, err)
	_, err = core.CreateInstance("slow", "s")
	require.NoError(t, err)
	require.NoError(t, core.Start())

	began := time.Now()
	require.NoError(t, core.Iterate())
	elapsed := time.Since(began)
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond, "unstarted backends do not shorten the wait")
	assert.Less(t, elapsed, time.Second)
}

func TestRun_StopsOnCancel(t *testing.T) {
	core := newCore(t, router.WithDefaultInterval(10*time.Second))
	b := routertest.New(core, "a")
	require.NoError(t, core.Register(b))
	_, err := core.CreateInstance("a", "x")
	require.NoError(t, err)

	assert.ErrorIs(t, core.Run(context.Background()), router.ErrNotRunning)
	require.NoError(t, core.Start())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- core.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.GreaterOrEqual(t, b.Processed, 1)
}

func TestRun_ReturnsIterationError(t *testing.T) {
	core, src, _ := setupPair(t)
	require.NoError(t, core.Start())
	src.FailProcess = assert.AnError

	err := core.Run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

type countingObserver struct {
	router.NopObserver
	iterations int
	injected   int
	delivered  int
	failed     []string
}

func (o *countingObserver) Iteration(int, time.Duration) { o.iterations++ }
func (o *countingObserver) Injected(*router.Channel)     { o.injected++ }

func (o *countingObserver) Delivered(_ *router.Instance, n int, _ time.Duration) {
	o.delivered += n
}

func (o *countingObserver) Failed(backend, callback string, _ error) {
	o.failed = append(o.failed, backend+" "+callback)
}

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	core := newCore(t, router.WithObserver(obs))
	src := routertest.New(core, "src")
	dst := routertest.New(core, "dst")
	require.NoError(t, core.Register(src))
	require.NoError(t, core.Register(dst))
	_, err := core.CreateInstance("src", "in1")
	require.NoError(t, err)
	_, err = core.CreateInstance("dst", "out1")
	require.NoError(t, err)
	_, err = core.MapSpecs("in1.a", "out1.b1-2")
	require.NoError(t, err)
	require.NoError(t, core.Start())

	src.Inject = []routertest.Injection{{Instance: "in1", Channel: "a", Value: 1}}
	require.NoError(t, core.Iterate())
	assert.Equal(t, 1, obs.iterations)
	assert.Equal(t, 1, obs.injected)
	assert.Equal(t, 2, obs.delivered)

	dst.FailHandle = assert.AnError
	src.Inject = []routertest.Injection{{Instance: "in1", Channel: "a", Value: 0}}
	assert.Error(t, core.Iterate())
	assert.Equal(t, []string{"dst handle event"}, obs.failed)
}
