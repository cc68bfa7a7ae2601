package driver

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/roach88/tempo/internal/ir"
)

// ContinueFunc is the deferred half of a handler. It runs when the virtual
// clock reaches the continuation's due time, and only if its wait point is
// still open.
type ContinueFunc func(ctx context.Context) error

// Continuation is a resumption bound to a wait point and a virtual time.
type Continuation struct {
	Point ir.WaitPoint
	Due   time.Time
	Run   ContinueFunc

	seq int64 // enqueue order, FIFO tie-break
}

// Seq returns the enqueue sequence number assigned by the queue.
func (c *Continuation) Seq() int64 { return c.seq }

// Queue holds pending continuations ordered by (Due, enqueue order).
//
// The queue is unbounded and single-consumer: the Runner drains it, while
// handlers and continuations (running inside a drain) may enqueue more.
type Queue struct {
	mu    sync.Mutex
	items []*Continuation // sorted by (Due, seq)
	seq   int64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{items: make([]*Continuation, 0, 16)}
}

func compareContinuations(a, b *Continuation) int {
	if c := a.Due.Compare(b.Due); c != 0 {
		return c
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

// Enqueue inserts c and assigns its sequence number.
func (q *Queue) Enqueue(c *Continuation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	c.seq = q.seq
	i, _ := slices.BinarySearchFunc(q.items, c, compareContinuations)
	q.items = slices.Insert(q.items, i, c)
}

// NextDue returns the due time of the earliest pending continuation.
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].Due, true
}

// Len returns the number of pending continuations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DrainDue yields, in order, every continuation due at or before now that was
// enqueued before the drain started. Each yielded continuation is removed
// from the queue before it is yielded.
//
// Continuations enqueued while the drain runs are never yielded by the same
// drain, even when already due; they stay queued for the next one. That
// keeps every drain finite. Stopping the iteration early leaves the rest
// queued.
func (q *Queue) DrainDue(now time.Time) iter.Seq[*Continuation] {
	return func(yield func(*Continuation) bool) {
		q.mu.Lock()
		watermark := q.seq
		q.mu.Unlock()

		for {
			c, ok := q.popDue(now, watermark)
			if !ok {
				return
			}
			if !yield(c) {
				return
			}
		}
	}
}

// popDue removes the first continuation with Due <= now and seq <= watermark.
func (q *Queue) popDue(now time.Time, watermark int64) (*Continuation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, c := range q.items {
		if c.Due.After(now) {
			return nil, false
		}
		if c.seq > watermark {
			continue
		}
		q.items = slices.Delete(q.items, i, i+1)
		return c, true
	}
	return nil, false
}
