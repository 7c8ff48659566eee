// Package queue provides a bounded in-process work queue with delayed
// enqueue.
//
// Items submitted with SubmitAt wait on a timer rather than a goroutine and
// enter the queue no earlier than their due time. A timer that fires while
// the queue is full re-arms itself instead of dropping the item.
package queue

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrFull is returned by Submit when the queue has no free capacity.
	ErrFull = errors.New("queue: full")

	// ErrClosed is returned when submitting to a closed queue.
	ErrClosed = errors.New("queue: closed")
)

// DefaultRetryInterval is how long a fired timer waits before trying again
// when the queue is full.
const DefaultRetryInterval = 100 * time.Millisecond

// Option configures a Queue.
type Option func(*options)

type options struct {
	retryInterval time.Duration
}

// WithRetryInterval sets the re-arm interval for delayed items that find
// the queue full.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryInterval = d
		}
	}
}

// Queue is a bounded FIFO of T.
type Queue[T any] struct {
	ch    chan T
	retry time.Duration

	mu     sync.Mutex
	closed bool
	timers map[*delayed]struct{}
}

type delayed struct {
	timer *time.Timer
}

// New creates a queue holding at most size items. A size below 1 is
// treated as 1.
func New[T any](size int, opts ...Option) *Queue[T] {
	if size < 1 {
		size = 1
	}
	o := options{retryInterval: DefaultRetryInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue[T]{
		ch:     make(chan T, size),
		retry:  o.retryInterval,
		timers: make(map[*delayed]struct{}),
	}
}

// Submit enqueues item without blocking.
func (q *Queue[T]) Submit(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitLocked(item)
}

func (q *Queue[T]) submitLocked(item T) error {
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// SubmitAt enqueues item at due. A due time in the past behaves like
// Submit.
func (q *Queue[T]) SubmitAt(item T, due time.Time) error {
	wait := time.Until(due)
	if wait <= 0 {
		return q.Submit(item)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.arm(item, wait)
	return nil
}

// arm requires q.mu.
func (q *Queue[T]) arm(item T, wait time.Duration) {
	d := &delayed{}
	d.timer = time.AfterFunc(wait, func() { q.fire(d, item) })
	q.timers[d] = struct{}{}
}

func (q *Queue[T]) fire(d *delayed, item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.timers[d]; !ok {
		return
	}
	delete(q.timers, d)

	if err := q.submitLocked(item); errors.Is(err, ErrFull) {
		q.arm(item, q.retry)
	}
}

// C returns the channel workers receive from. It is closed by Close.
func (q *Queue[T]) C() <-chan T { return q.ch }

// Len returns the number of items ready in the queue.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Scheduled returns the number of armed timers.
func (q *Queue[T]) Scheduled() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close stops all timers and closes the channel. Items still buffered can
// be drained from C. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for d := range q.timers {
		d.timer.Stop()
	}
	clear(q.timers)
	close(q.ch)
}
