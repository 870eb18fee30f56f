// Package wakeq hands values from background goroutines to the router's
// event loop. Pushing a value makes the queue's descriptor readable;
// the loop-side consumer drains the descriptor and the values together.
package wakeq

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("wake queue closed")

// Queue is a goroutine-safe FIFO backed by a non-blocking self-pipe.
type Queue[T any] struct {
	mu        sync.Mutex
	items     []T
	r, w      int
	signalled bool
	closed    bool
}

// New creates a queue and its pipe.
func New[T any]() (*Queue[T], error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, fmt.Errorf("failed to set pipe non-blocking: %w", err)
		}
	}
	return &Queue[T]{r: p[0], w: p[1]}, nil
}

// FD returns the descriptor that becomes readable while values are queued.
func (q *Queue[T]) FD() int {
	return q.r
}

// Push appends v and signals the descriptor if it is not signalled yet.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, v)
	if !q.signalled {
		// EAGAIN means the pipe is already full, which is signal enough
		if _, err := unix.Write(q.w, []byte{1}); err != nil && !errors.Is(err, unix.EAGAIN) {
			return fmt.Errorf("failed to signal wake pipe: %w", err)
		}
		q.signalled = true
	}
	return nil
}

// Drain clears the descriptor and returns all queued values in push order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	var buf [64]byte
	for {
		n, err := unix.Read(q.r, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	q.signalled = false

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close releases both pipe ends. Queued values are discarded.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.items = nil
	return multierr.Combine(unix.Close(q.r), unix.Close(q.w))
}
