// Package redis bridges router channels to Redis pub/sub.
//
// Each instance publishes the values delivered to its channels as JSON
// messages on a pub/sub channel and mirrors the last value of every
// channel into a hash. Messages published by other processes on the same
// pub/sub channel are injected as events. Every instance stamps its
// messages with its own origin, so two instances sharing a pub/sub channel
// receive each other's publications but never their own.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/dyluth/patchbay/internal/wakeq"
	"github.com/dyluth/patchbay/pkg/router"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

// Name is the registry name of the Redis backend.
const Name = "redis"

const (
	defaultAddress = "redis://localhost:6379"
	defaultTimeout = 2 * time.Second
)

// Message is the JSON payload exchanged on the pub/sub channel.
type Message struct {
	Origin  string  `json:"origin"`
	Channel string  `json:"channel"`
	Value   float64 `json:"value"`
}

// ChannelName returns the default pub/sub channel of an instance.
func ChannelName(instance string) string {
	return fmt.Sprintf("patchbay:%s", instance)
}

// ValuesKey returns the default hash key of an instance.
func ValuesKey(instance string) string {
	return fmt.Sprintf("patchbay:%s:values", instance)
}

type instanceData struct {
	origin  string
	address string
	channel string
	key     string
	restore bool

	names  []string
	client *redis.Client
	pubsub *redis.PubSub
	done   chan struct{}
}

func (d *instanceData) lookup(name string) int {
	for i, n := range d.names {
		if n == name {
			return i
		}
	}
	return -1
}

// inbound is a pub/sub payload or a restore request for one instance.
type inbound struct {
	ident   uint64
	payload string
	restore bool
}

// Backend is the Redis backend.
type Backend struct {
	host    router.Host
	logger  *log.Logger
	timeout time.Duration
	queue   *wakeq.Queue[inbound]
}

// New creates a Redis backend bound to host.
func New(host router.Host, logger *log.Logger) *Backend {
	if logger == nil {
		logger = log.Default()
	}
	return &Backend{
		host:    host,
		logger:  logger,
		timeout: defaultTimeout,
	}
}

func (b *Backend) Name() string { return Name }

// Origin returns the identifier inst stamps on the messages it publishes.
func (b *Backend) Origin(inst *router.Instance) string {
	return inst.Impl.(*instanceData).origin
}

// Configure accepts "timeout", a duration bounding every Redis round trip.
func (b *Backend) Configure(option, value string) error {
	switch option {
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid timeout '%s': must be a positive duration", value)
		}
		b.timeout = d
		return nil
	default:
		return fmt.Errorf("unknown redis backend option '%s'", option)
	}
}

func (b *Backend) CreateInstance() (*router.Instance, error) {
	inst := b.host.NewInstance()
	inst.Impl = &instanceData{origin: uuid.NewString(), address: defaultAddress}
	return inst, nil
}

func (b *Backend) ConfigureInstance(inst *router.Instance, option, value string) error {
	data := inst.Impl.(*instanceData)
	switch option {
	case "address":
		if _, err := redis.ParseURL(value); err != nil {
			return fmt.Errorf("invalid redis address '%s': %w", value, err)
		}
		data.address = value
	case "channel":
		data.channel = value
	case "key":
		data.key = value
	case "restore":
		restore, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid restore flag '%s': %w", value, err)
		}
		data.restore = restore
	default:
		return fmt.Errorf("unknown redis instance option '%s'", option)
	}
	return nil
}

func (b *Backend) ParseChannel(inst *router.Instance, spec string) (*router.Channel, error) {
	data := inst.Impl.(*instanceData)
	ident := data.lookup(spec)
	if ident < 0 {
		data.names = append(data.names, spec)
		ident = len(data.names) - 1
	}
	return b.host.Channel(inst, uint64(ident), true), nil
}

// Start connects every instance, subscribes to its pub/sub channel and
// starts one receive goroutine per instance.
func (b *Backend) Start() error {
	queue, err := wakeq.New[inbound]()
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
		if err := b.connect(inst, ident); err != nil {
			return fmt.Errorf("instance '%s': %w", inst.Name, err)
		}
	}
	return nil
}

func (b *Backend) connect(inst *router.Instance, ident uint64) error {
	data := inst.Impl.(*instanceData)
	if data.channel == "" {
		data.channel = ChannelName(inst.Name)
	}
	if data.key == "" {
		data.key = ValuesKey(inst.Name)
	}

	opts, err := redis.ParseURL(data.address)
	if err != nil {
		return fmt.Errorf("invalid redis address '%s': %w", data.address, err)
	}
	data.client = redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := data.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", data.address, err)
	}

	data.pubsub = data.client.Subscribe(ctx, data.channel)
	// wait for the subscription confirmation so no publication is missed
	if _, err := data.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", data.channel, err)
	}

	data.done = make(chan struct{})
	messages := data.pubsub.Channel()
	queue := b.queue
	go func() {
		defer close(data.done)
		for msg := range messages {
			if err := queue.Push(inbound{ident: ident, payload: msg.Payload}); err != nil {
				return
			}
		}
	}()

	if data.restore {
		if err := queue.Push(inbound{ident: ident, restore: true}); err != nil {
			return err
		}
	}
	b.logger.Printf("[INFO] Redis instance '%s' subscribed to '%s' on %s", inst.Name, data.channel, data.address)
	return nil
}

// Process injects received messages. An instance's own publications,
// malformed payloads and unknown channel names are skipped.
func (b *Backend) Process(ready []*router.ManagedFD) error {
	if b.queue == nil {
		return nil
	}
	for _, in := range b.queue.Drain() {
		inst := b.host.FindInstance(Name, in.ident)
		if inst == nil {
			continue
		}
		if in.restore {
			if err := b.restore(inst); err != nil {
				return err
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(in.payload), &msg); err != nil {
			b.logger.Printf("[WARN] Redis instance '%s': skipping malformed message: %v", inst.Name, err)
			continue
		}
		if msg.Origin == inst.Impl.(*instanceData).origin {
			continue
		}
		if err := b.inject(inst, msg.Channel, msg.Value); err != nil {
			return err
		}
	}
	return nil
}

// restore injects every value stored in the instance's hash.
func (b *Backend) restore(inst *router.Instance) error {
	data := inst.Impl.(*instanceData)
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	values, err := data.client.HGetAll(ctx, data.key).Result()
	if err != nil {
		return fmt.Errorf("failed to restore '%s': %w", data.key, err)
	}
	for _, name := range data.names {
		raw, ok := values[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			b.logger.Printf("[WARN] Redis instance '%s': stored value of '%s' is not a number: %q", inst.Name, name, raw)
			continue
		}
		if err := b.inject(inst, name, v); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) inject(inst *router.Instance, name string, v float64) error {
	idx := inst.Impl.(*instanceData).lookup(name)
	if idx < 0 {
		return nil
	}
	ch := b.host.Channel(inst, uint64(idx), false)
	if ch == nil {
		return nil
	}
	return b.host.Event(ch, router.Normalised(v))
}

// HandleEvent writes the whole batch in one pipeline: the hash is updated
// and one message is published per event.
func (b *Backend) HandleEvent(inst *router.Instance, events []router.Event) error {
	data := inst.Impl.(*instanceData)
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	_, err := data.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ev := range events {
			idx := int(ev.Channel.Ident)
			if idx >= len(data.names) {
				continue
			}
			name := data.names[idx]
			payload, err := json.Marshal(Message{Origin: data.origin, Channel: name, Value: ev.Value.Normalised})
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			pipe.HSet(ctx, data.key, name, strconv.FormatFloat(ev.Value.Normalised, 'f', -1, 64))
			pipe.Publish(ctx, data.channel, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish to '%s': %w", data.channel, err)
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
		if data.pubsub != nil {
			errs = multierr.Append(errs, data.pubsub.Close())
		}
		if data.done != nil {
			<-data.done
		}
		if data.client != nil {
			errs = multierr.Append(errs, data.client.Close())
		}
		inst.Impl = nil
	}
	if b.queue != nil {
		errs = multierr.Append(errs, b.queue.Close())
		b.queue = nil
	}
	return errs
}
