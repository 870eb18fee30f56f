// Package midi implements a backend for MIDI ports through gomidi.
//
// Each instance may read from and write to one named port. Channels are
// written ch<N>.<type><control>, for example ch0.note60, ch15.cc7 or
// ch2.pitch. Incoming messages are received on driver goroutines and
// handed to the router loop through a wake queue.
package midi

import (
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/dyluth/patchbay/internal/wakeq"
	"github.com/dyluth/patchbay/pkg/router"
	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/multierr"
)

// Name is the registry name of the MIDI backend.
const Name = "midi"

type instanceData struct {
	read  string
	write string

	stop     func()
	send     func(gomidi.Message) error
	closeOut func() error
}

// received is one message tagged with the ident of the instance that read it.
type received struct {
	ident uint64
	msg   gomidi.Message
}

// Backend is the MIDI backend.
type Backend struct {
	host   router.Host
	logger *log.Logger
	driver Driver
	detect bool
	queue  *wakeq.Queue[received]
}

// Option configures a Backend.
type Option func(*Backend)

// WithDriver replaces the gomidi port driver.
func WithDriver(d Driver) Option {
	return func(b *Backend) {
		b.driver = d
	}
}

// New creates a MIDI backend bound to host.
func New(host router.Host, logger *log.Logger, opts ...Option) *Backend {
	if logger == nil {
		logger = log.Default()
	}
	b := &Backend{host: host, logger: logger, driver: portDriver{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return Name }

// Configure accepts "detect" (on/off), which logs every incoming message
// with its channel spec.
func (b *Backend) Configure(option, value string) error {
	switch option {
	case "detect":
		b.detect = strings.EqualFold(value, "on") || strings.EqualFold(value, "true")
		return nil
	default:
		return fmt.Errorf("unknown MIDI backend option '%s'", option)
	}
}

func (b *Backend) CreateInstance() (*router.Instance, error) {
	inst := b.host.NewInstance()
	inst.Impl = &instanceData{}
	return inst, nil
}

func (b *Backend) ConfigureInstance(inst *router.Instance, option, value string) error {
	data := inst.Impl.(*instanceData)
	switch option {
	case "read", "source":
		data.read = value
	case "write", "target":
		data.write = value
	default:
		return fmt.Errorf("unknown MIDI instance option '%s'", option)
	}
	return nil
}

func (b *Backend) ParseChannel(inst *router.Instance, spec string) (*router.Channel, error) {
	label, err := ParseLabel(spec)
	if err != nil {
		return nil, err
	}
	return b.host.Channel(inst, label.Pack(), true), nil
}

// Start assigns each instance its ident and opens its ports.
func (b *Backend) Start() error {
	queue, err := wakeq.New[received]()
	if err != nil {
		return err
	}
	b.queue = queue
	if err := b.host.ManageFD(queue.FD(), Name, true, nil); err != nil {
		return err
	}

	for i, inst := range b.host.Instances(Name) {
		ident := uint64(i + 1)
		inst.Ident = ident
		data := inst.Impl.(*instanceData)

		if data.read != "" {
			stop, err := b.driver.Listen(data.read, func(msg gomidi.Message) {
				// only fails once the queue is closed during shutdown
				_ = queue.Push(received{ident: ident, msg: msg})
			})
			if err != nil {
				return fmt.Errorf("instance '%s': %w", inst.Name, err)
			}
			data.stop = stop
		}
		if data.write != "" {
			send, closer, err := b.driver.Sender(data.write)
			if err != nil {
				return fmt.Errorf("instance '%s': %w", inst.Name, err)
			}
			data.send = send
			data.closeOut = closer
		}
		b.logger.Printf("[INFO] MIDI instance '%s' connected (read: '%s', write: '%s')", inst.Name, data.read, data.write)
	}
	return nil
}

// Process turns queued messages into router events.
func (b *Backend) Process(ready []*router.ManagedFD) error {
	if b.queue == nil {
		return nil
	}
	for _, r := range b.queue.Drain() {
		inst := b.host.FindInstance(Name, r.ident)
		if inst == nil {
			continue
		}
		label, value, ok := Decode(r.msg)
		if !ok {
			continue
		}
		if b.detect {
			b.logger.Printf("[DEBUG] Incoming MIDI data on %s.%s: %.4f", inst.Name, label, value.Normalised)
		}
		ch := b.host.Channel(inst, label.Pack(), false)
		if ch == nil {
			continue
		}
		if err := b.host.Event(ch, value); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) HandleEvent(inst *router.Instance, events []router.Event) error {
	data := inst.Impl.(*instanceData)
	if data.send == nil {
		b.logger.Printf("[WARN] MIDI instance '%s' has no output port, dropping %d events", inst.Name, len(events))
		return nil
	}
	for _, ev := range events {
		msg := Encode(Unpack(ev.Channel.Ident), ev.Value.Normalised)
		if msg == nil {
			continue
		}
		if err := data.send(msg); err != nil {
			return fmt.Errorf("failed to send to '%s': %w", data.write, err)
		}
	}
	return nil
}

func (b *Backend) Shutdown() error {
	var errs error
	for _, inst := range b.host.Instances(Name) {
		data, ok := inst.Impl.(*instanceData)
		if !ok {
			continue
		}
		if data.stop != nil {
			data.stop()
		}
		if data.closeOut != nil {
			if err := data.closeOut(); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("failed to close output of '%s': %w", inst.Name, err))
			}
		}
		inst.Impl = nil
	}
	if b.queue != nil {
		errs = multierr.Append(errs, b.queue.Close())
		b.queue = nil
	}
	return errs
}

// Decode extracts the label and value of a channel voice message. Note-off
// messages decode as a note with value 0.
func Decode(msg gomidi.Message) (Label, router.Value, bool) {
	var channel, control, value uint8
	var relative int16
	var absolute uint16

	switch {
	case msg.GetNoteOn(&channel, &control, &value):
		return Label{TypeNote, channel, control}, seven(value), true
	case msg.GetNoteOff(&channel, &control, &value):
		return Label{TypeNote, channel, control}, seven(0), true
	case msg.GetControlChange(&channel, &control, &value):
		return Label{TypeCC, channel, control}, seven(value), true
	case msg.GetPolyAfterTouch(&channel, &control, &value):
		return Label{TypePressure, channel, control}, seven(value), true
	case msg.GetAfterTouch(&channel, &value):
		return Label{TypeAftertouch, channel, 0}, seven(value), true
	case msg.GetPitchBend(&channel, &relative, &absolute):
		return Label{TypePitch, channel, 0}, router.Value{
			Raw:        router.RawUint(uint64(absolute)),
			Normalised: float64(absolute) / 16383,
		}, true
	}
	return Label{}, router.Value{}, false
}

// Encode builds the message setting label to the normalised value v.
func Encode(label Label, v float64) gomidi.Message {
	switch label.Type {
	case TypeNote:
		return gomidi.NoteOn(label.Channel, label.Control, scale(v, 127))
	case TypeCC:
		return gomidi.ControlChange(label.Channel, label.Control, scale(v, 127))
	case TypePressure:
		return gomidi.PolyAfterTouch(label.Channel, label.Control, scale(v, 127))
	case TypeAftertouch:
		return gomidi.AfterTouch(label.Channel, scale(v, 127))
	case TypePitch:
		return gomidi.Pitchbend(label.Channel, int16(math.Round(v*16383))-8192)
	}
	return nil
}

func seven(v uint8) router.Value {
	return router.Value{Raw: router.RawUint(uint64(v)), Normalised: float64(v) / 127}
}

func scale(v, top float64) uint8 {
	return uint8(math.Round(v * top))
}
