package watch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/patchbay/internal/backends/redis"
	"github.com/dyluth/patchbay/internal/filter"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func publish(t *testing.T, mr *miniredis.Miniredis, channel string, msg redis.Message) {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	mr.Publish(channel, string(payload))
}

func TestSnapshot(t *testing.T) {
	mr, client := setupMiniredis(t)
	key := redis.ValuesKey("bus")
	mr.HSet(key, "fader2", "0.25")
	mr.HSet(key, "fader1", "1")
	mr.HSet(key, "led1", "0")
	mr.HSet(key, "broken", "not-a-number")

	t.Run("all values sorted", func(t *testing.T) {
		values, err := Snapshot(context.Background(), client, key, &filter.Criteria{})
		require.NoError(t, err)
		assert.Equal(t, []Value{
			{Channel: "fader1", Value: 1},
			{Channel: "fader2", Value: 0.25},
			{Channel: "led1", Value: 0},
		}, values)
	})

	t.Run("channel glob applies, origin does not", func(t *testing.T) {
		values, err := Snapshot(context.Background(), client, key, &filter.Criteria{ChannelGlob: "fader*", Origin: "x"})
		require.NoError(t, err)
		assert.Len(t, values, 2)
	})

	t.Run("missing key is empty", func(t *testing.T) {
		values, err := Snapshot(context.Background(), client, "nothing", &filter.Criteria{})
		require.NoError(t, err)
		assert.Empty(t, values)
	})
}

func TestStream(t *testing.T) {
	mr, client := setupMiniredis(t)
	channel := redis.ChannelName("bus")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *redis.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- Stream(ctx, client, channel, &filter.Criteria{ChannelGlob: "fader*"}, func(msg *redis.Message) error {
			received <- msg
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] == 1
	}, time.Second, 10*time.Millisecond)

	mr.Publish(channel, "not json")
	publish(t, mr, channel, redis.Message{Origin: "a", Channel: "led1", Value: 1})
	publish(t, mr, channel, redis.Message{Origin: "a", Channel: "fader1", Value: 0.5})

	select {
	case msg := <-received:
		assert.Equal(t, &redis.Message{Origin: "a", Channel: "fader1", Value: 0.5}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
	assert.Empty(t, received, "filtered and malformed messages are not delivered")
}

func TestStream_HandlerErrorStops(t *testing.T) {
	mr, client := setupMiniredis(t)
	channel := redis.ChannelName("bus")

	done := make(chan error, 1)
	go func() {
		done <- Stream(context.Background(), client, channel, &filter.Criteria{}, func(*redis.Message) error {
			return assert.AnError
		})
	}()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] == 1
	}, time.Second, 10*time.Millisecond)
	publish(t, mr, channel, redis.Message{Origin: "a", Channel: "x", Value: 0})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, assert.AnError)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not return the handler error")
	}
}

func TestStream_Unreachable(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := Stream(ctx, client, "x", &filter.Criteria{}, func(*redis.Message) error { return nil })
	assert.Error(t, err)
}
