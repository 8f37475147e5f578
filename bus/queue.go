package bus

import (
	"context"
	"sync/atomic"
	"time"

	"hvsupply/errcode"
)

// Queue is a fixed-capacity command channel with many senders and exactly
// one receiver. Delivery is FIFO per queue and at-most-once: TrySend drops
// on a full queue and reports it, callers may ignore the result.
//
// Queues live for the whole process and are never closed.
type Queue[T any] struct {
	name  string
	ch    chan T
	drops uint32
}

// NewQueue allocates a queue; capacity <= 0 selects 8.
func NewQueue[T any](name string, capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 8
	}
	return &Queue[T]{name: name, ch: make(chan T, capacity)}
}

func (q *Queue[T]) Name() string { return q.name }
func (q *Queue[T]) Len() int     { return len(q.ch) }
func (q *Queue[T]) Cap() int     { return cap(q.ch) }

// Drops counts TrySend calls rejected because the queue was full.
func (q *Queue[T]) Drops() uint32 { return atomic.LoadUint32(&q.drops) }

// Sender is the producer view handed to other tasks.
func (q *Queue[T]) Sender() Sender[T] { return Sender[T]{q: q} }

// Receiver is the consumer view; hand it to the owning task only.
func (q *Queue[T]) Receiver() Receiver[T] { return Receiver[T]{q: q} }

// -----------------------------------------------------------------------------
// Sender
// -----------------------------------------------------------------------------

type Sender[T any] struct{ q *Queue[T] }

// Valid reports whether the sender is bound to a queue.
func (s Sender[T]) Valid() bool { return s.q != nil }

// TrySend enqueues without blocking. It reports false when the queue is
// full (or the sender is unbound); the value is dropped.
func (s Sender[T]) TrySend(v T) bool {
	if s.q == nil {
		return false
	}
	select {
	case s.q.ch <- v:
		return true
	default:
		atomic.AddUint32(&s.q.drops, 1)
		return false
	}
}

// Send blocks until the value is enqueued or ctx ends. Only the calling
// task is suspended.
func (s Sender[T]) Send(ctx context.Context, v T) error {
	if s.q == nil {
		return errcode.InvalidParams
	}
	select {
	case s.q.ch <- v:
		return nil
	default:
	}
	select {
	case s.q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendTimeout blocks at most d. It returns errcode.Timeout when the queue
// stayed full for the whole window.
func (s Sender[T]) SendTimeout(v T, d time.Duration) error {
	if s.q == nil {
		return errcode.InvalidParams
	}
	select {
	case s.q.ch <- v:
		return nil
	default:
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case s.q.ch <- v:
		return nil
	case <-t.C:
		return &errcode.E{C: errcode.Timeout, Op: "send", Msg: s.q.name}
	}
}

// -----------------------------------------------------------------------------
// Receiver
// -----------------------------------------------------------------------------

type Receiver[T any] struct{ q *Queue[T] }

// Recv blocks for the next value or until ctx ends.
func (r Receiver[T]) Recv(ctx context.Context) (T, error) {
	select {
	case v := <-r.q.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryRecv returns the next value if one is pending.
func (r Receiver[T]) TryRecv() (T, bool) {
	select {
	case v := <-r.q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Drain returns every pending value in FIFO order without blocking.
func (r Receiver[T]) Drain(dst []T) []T {
	for {
		v, ok := r.TryRecv()
		if !ok {
			return dst
		}
		dst = append(dst, v)
	}
}

// C exposes the channel for select loops.
func (r Receiver[T]) C() <-chan T { return r.q.ch }
