package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained.
var ErrQueueClosed = errors.New("audio: frame queue closed")

// FrameQueue is a bounded single-producer/single-consumer queue of frames.
// Push never blocks: when the queue is full the oldest frame is discarded
// and counted as dropped.
type FrameQueue struct {
	mu     sync.Mutex
	buf    []Frame
	head   int
	size   int
	closed bool
	notify chan struct{}
	space  chan struct{}

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameQueue{
		buf:    make([]Frame, capacity),
		notify: make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
	}
}

// Push enqueues f. It reports false when the queue has been closed.
func (q *FrameQueue) Push(f Frame) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.size == len(q.buf) {
		q.buf[q.head] = Frame{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped.Add(1)
	}
	q.buf[(q.head+q.size)%len(q.buf)] = f
	q.size++
	q.mu.Unlock()
	q.pushed.Add(1)
	q.signal()
	return true
}

// PushWait enqueues f, waiting for room instead of dropping. It is meant for
// file replay, where losing audio is never wanted.
func (q *FrameQueue) PushWait(ctx context.Context, f Frame) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.size < len(q.buf) {
			q.buf[(q.head+q.size)%len(q.buf)] = f
			q.size++
			q.mu.Unlock()
			q.pushed.Add(1)
			q.signal()
			return nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.space:
		}
	}
}

// Pop blocks until a frame is available, the queue is closed and empty, or
// ctx is done.
func (q *FrameQueue) Pop(ctx context.Context) (Frame, error) {
	for {
		q.mu.Lock()
		if q.size > 0 {
			f := q.buf[q.head]
			q.buf[q.head] = Frame{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			q.mu.Unlock()
			select {
			case q.space <- struct{}{}:
			default:
			}
			return f, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Frame{}, ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Close stops accepting frames. Frames already queued can still be popped.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	select {
	case q.space <- struct{}{}:
	default:
	}
}

func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *FrameQueue) Pushed() uint64  { return q.pushed.Load() }
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }

func (q *FrameQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
