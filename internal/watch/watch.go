// Package watch follows the pub/sub bus and value hash written by redis
// backend instances.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/dyluth/patchbay/internal/backends/redis"
	"github.com/dyluth/patchbay/internal/filter"
	goredis "github.com/redis/go-redis/v9"
)

// Value is the last value stored for one channel.
type Value struct {
	Channel string  `json:"channel"`
	Value   float64 `json:"value"`
}

// Snapshot reads the value hash at key, sorted by channel name. Only the
// channel glob of criteria applies; the hash does not record origins.
// Entries that are not numbers are skipped.
func Snapshot(ctx context.Context, client *goredis.Client, key string, criteria *filter.Criteria) ([]Value, error) {
	byChannel := filter.Criteria{ChannelGlob: criteria.ChannelGlob}
	raw, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read values from '%s': %w", key, err)
	}

	values := make([]Value, 0, len(raw))
	for channel, text := range raw {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			continue
		}
		if !byChannel.Matches(&redis.Message{Channel: channel, Value: v}) {
			continue
		}
		values = append(values, Value{Channel: channel, Value: v})
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Channel < values[j].Channel })
	return values, nil
}

// Stream subscribes to the pub/sub channel and calls handle for every
// message matching criteria until ctx is cancelled or handle fails.
// Payloads that are not patchbay messages are skipped.
func Stream(ctx context.Context, client *goredis.Client, channel string, criteria *filter.Criteria, handle func(*redis.Message) error) error {
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so no message is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil

		case m, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to '%s' closed", channel)
			}

			var msg redis.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil || msg.Channel == "" {
				continue
			}
			if !criteria.Matches(&msg) {
				continue
			}
			if err := handle(&msg); err != nil {
				return err
			}
		}
	}
}
