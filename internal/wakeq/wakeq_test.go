package wakeq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func readable(t *testing.T, q *Queue[int], timeout time.Duration) bool {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(q.FD()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	require.NoError(t, err)
	return n > 0
}

func TestQueue_PushDrain(t *testing.T) {
	q, err := New[int]()
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	assert.False(t, readable(t, q, 10*time.Millisecond), "empty queue must not be readable")

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Push(3))
	assert.Equal(t, 3, q.Len())
	assert.True(t, readable(t, q, 100*time.Millisecond))

	assert.Equal(t, []int{1, 2, 3}, q.Drain())
	assert.Equal(t, 0, q.Len())
	assert.False(t, readable(t, q, 10*time.Millisecond), "drained queue must not stay readable")
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q, err := New[int]()
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				assert.NoError(t, q.Push(i))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, q.Drain(), 1000)
}

func TestQueue_Close(t *testing.T) {
	q, err := New[string]()
	require.NoError(t, err)

	require.NoError(t, q.Push("a"))
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Push("b"), ErrClosed)
	assert.Nil(t, q.Drain())

	// idempotent
	assert.NoError(t, q.Close())
}
