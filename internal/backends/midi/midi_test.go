package midi

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/patchbay/pkg/router"
	"github.com/dyluth/patchbay/pkg/router/routertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"
)

// fakeDriver records sent messages and lets tests play messages into
// listening ports.
type fakeDriver struct {
	mu        sync.Mutex
	listeners map[string]func(gomidi.Message)
	sent      map[string][]gomidi.Message
	stopped   []string
	closed    []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		listeners: make(map[string]func(gomidi.Message)),
		sent:      make(map[string][]gomidi.Message),
	}
}

func (d *fakeDriver) Listen(port string, recv func(gomidi.Message)) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[port] = recv
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, port)
		d.stopped = append(d.stopped, port)
	}, nil
}

func (d *fakeDriver) Sender(port string) (func(gomidi.Message) error, func() error, error) {
	send := func(msg gomidi.Message) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.sent[port] = append(d.sent[port], msg)
		return nil
	}
	closer := func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.closed = append(d.closed, port)
		return nil
	}
	return send, closer, nil
}

// play delivers msg from a driver goroutine, as a real port would.
func (d *fakeDriver) play(t *testing.T, port string, msg gomidi.Message) {
	t.Helper()
	d.mu.Lock()
	recv := d.listeners[port]
	d.mu.Unlock()
	require.NotNil(t, recv, "no listener on %s", port)

	done := make(chan struct{})
	go func() {
		recv(msg)
		close(done)
	}()
	<-done
}

func setup(t *testing.T) (*router.Core, *fakeDriver, *routertest.Backend) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	core := router.New(router.WithLogger(logger), router.WithDefaultInterval(time.Millisecond))
	t.Cleanup(func() { _ = core.Shutdown() })

	driver := newFakeDriver()
	require.NoError(t, core.Register(New(core, logger, WithDriver(driver))))
	probe := routertest.New(core, "probe")
	require.NoError(t, core.Register(probe))

	_, err := core.CreateInstance(Name, "pad")
	require.NoError(t, err)
	require.NoError(t, core.ConfigureInstance("pad", "read", "Launchpad"))
	require.NoError(t, core.ConfigureInstance("pad", "write", "Launchpad"))
	_, err = core.CreateInstance(Name, "synth")
	require.NoError(t, err)
	require.NoError(t, core.ConfigureInstance("synth", "write", "Synth"))
	_, err = core.CreateInstance("probe", "p")
	require.NoError(t, err)
	return core, driver, probe
}

func TestConfigure(t *testing.T) {
	core, _, _ := setup(t)
	assert.NoError(t, core.ConfigureBackend(Name, "detect", "on"))
	assert.Error(t, core.ConfigureBackend(Name, "bogus", "1"))
	assert.Error(t, core.ConfigureInstance("pad", "bogus", "1"))
	_, err := core.MapSpecs("pad.note1", "p.x")
	assert.Error(t, err)
}

func TestStart_AssignsIdents(t *testing.T) {
	core, driver, _ := setup(t)
	require.NoError(t, core.Start())

	assert.Same(t, core.Instance("pad"), core.FindInstance(Name, 1))
	assert.Same(t, core.Instance("synth"), core.FindInstance(Name, 2))
	assert.Equal(t, 1, core.ManagedFDs())

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Contains(t, driver.listeners, "Launchpad")
	assert.NotContains(t, driver.listeners, "Synth")
}

func TestInput(t *testing.T) {
	core, driver, probe := setup(t)
	_, err := core.MapSpecs("pad.ch0.note60-61", "p.key1-2")
	require.NoError(t, err)
	_, err = core.MapSpecs("pad.ch1.pitch", "p.bend")
	require.NoError(t, err)
	_, err = core.MapSpecs("pad.ch0.cc1", "p.mod")
	require.NoError(t, err)
	require.NoError(t, core.Start())

	driver.play(t, "Launchpad", gomidi.NoteOn(0, 60, 127))
	driver.play(t, "Launchpad", gomidi.NoteOn(0, 62, 100)) // unmapped
	driver.play(t, "Launchpad", gomidi.Pitchbend(1, 8191))
	driver.play(t, "Launchpad", gomidi.ControlChange(0, 1, 0))
	require.NoError(t, core.Iterate())

	values := probe.Values()["p"]
	assert.Equal(t, 1.0, values["key1"])
	assert.Equal(t, 1.0, values["bend"])
	assert.Equal(t, 0.0, values["mod"])
	assert.NotContains(t, values, "key2")

	driver.play(t, "Launchpad", gomidi.NoteOff(0, 61))
	require.NoError(t, core.Iterate())
	assert.Equal(t, 0.0, probe.Values()["p"]["key2"])
}

func TestOutput(t *testing.T) {
	core, driver, probe := setup(t)
	_, err := core.MapSpecs("p.fader", "synth.ch1.cc7")
	require.NoError(t, err)
	_, err = core.MapSpecs("p.led1-2", "pad.ch0.note10-11")
	require.NoError(t, err)
	_, err = core.MapSpecs("p.wheel", "synth.ch0.pitch")
	require.NoError(t, err)
	require.NoError(t, core.Start())

	probe.Inject = []routertest.Injection{
		{Instance: "p", Channel: "fader", Value: 0.5},
		{Instance: "p", Channel: "led2", Value: 1},
		{Instance: "p", Channel: "wheel", Value: 0},
	}
	require.NoError(t, core.Iterate())

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Equal(t, []gomidi.Message{
		gomidi.ControlChange(1, 7, 64),
		gomidi.Pitchbend(0, -8192),
	}, driver.sent["Synth"])
	assert.Equal(t, []gomidi.Message{gomidi.NoteOn(0, 11, 127)}, driver.sent["Launchpad"])
}

func TestShutdown_ClosesPorts(t *testing.T) {
	core, driver, _ := setup(t)
	require.NoError(t, core.Start())
	require.NoError(t, core.Shutdown())

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Equal(t, []string{"Launchpad"}, driver.stopped)
	assert.ElementsMatch(t, []string{"Launchpad", "Synth"}, driver.closed)
	assert.Empty(t, driver.listeners)
}

func TestDecode(t *testing.T) {
	label, v, ok := Decode(gomidi.PolyAfterTouch(3, 40, 127))
	require.True(t, ok)
	assert.Equal(t, Label{TypePressure, 3, 40}, label)
	assert.Equal(t, 1.0, v.Normalised)
	assert.Equal(t, uint64(127), v.Raw.Uint())

	label, v, ok = Decode(gomidi.AfterTouch(2, 0))
	require.True(t, ok)
	assert.Equal(t, Label{TypeAftertouch, 2, 0}, label)
	assert.Equal(t, 0.0, v.Normalised)

	_, _, ok = Decode(gomidi.Message{0xF8})
	assert.False(t, ok, "realtime messages carry no channel value")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, label := range []Label{
		{TypeNote, 0, 60}, {TypeCC, 5, 7}, {TypePressure, 9, 1}, {TypeAftertouch, 1, 0}, {TypePitch, 15, 0},
	} {
		got, v, ok := Decode(Encode(label, 1))
		require.True(t, ok, label.String())
		assert.Equal(t, label, got)
		assert.Equal(t, 1.0, v.Normalised, label.String())
	}
}
