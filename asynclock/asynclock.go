// Package asynclock implements a mutual exclusion lock with a bounded waiting
// queue and a configurable admission policy. Unlike sync.Mutex, callers wait
// cooperatively (context aware) and a full queue either rejects new arrivals
// (PolicyEarliest) or evicts the oldest waiter in favor of the newest one
// (PolicyLatest).
//
// With PolicyLatest and a queue limit of 1, a burst of identical requests
// collapses to at most one queued follow-up alongside the one in service,
// which bounds backlog while preserving the newest work.
package asynclock

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueLimit is returned when the waiting queue is full and the caller was
// not admitted.
var ErrQueueLimit = errors.New("asynclock: queue limit reached")

// Policy selects which waiter survives when the queue is full.
type Policy int

const (
	// PolicyEarliest keeps queued waiters in FIFO order; once the queue is
	// full, new arrivals are rejected.
	PolicyEarliest Policy = iota
	// PolicyLatest evicts the oldest queued waiter so that only the most
	// recent pending request survives alongside the one in service.
	PolicyLatest
)

type waiter struct {
	ready    chan struct{}
	rejected chan struct{}
}

// Lock is an async mutual exclusion lock. The zero value is not usable; use New.
type Lock struct {
	mu     sync.Mutex
	locked bool
	limit  int
	policy Policy
	queue  []*waiter
}

// New creates a Lock. limit bounds the number of queued waiters; a negative
// limit means unbounded.
func New(limit int, policy Policy) *Lock {
	return &Lock{limit: limit, policy: policy}
}

// Acquire obtains exclusive access, returning a release function. If the lock
// is held the caller enqueues, subject to the admission policy. Acquire
// returns ErrQueueLimit if the caller was rejected, or ctx.Err() if the
// context ends while waiting.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.mu.Unlock()
		return l.releaseFunc(), nil
	}

	if l.limit >= 0 && len(l.queue) >= l.limit {
		if l.policy != PolicyLatest {
			l.mu.Unlock()
			return nil, ErrQueueLimit
		}
		// Evict the oldest waiter in favor of this one. With limit 0 there
		// is nothing to evict and the caller becomes the sole pending waiter.
		if len(l.queue) > 0 {
			evicted := l.queue[0]
			l.queue = l.queue[1:]
			close(evicted.rejected)
		}
	}

	w := &waiter{ready: make(chan struct{}), rejected: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return l.releaseFunc(), nil
	case <-w.rejected:
		return nil, ErrQueueLimit
	case <-ctx.Done():
		l.remove(w)
		return nil, ctx.Err()
	}
}

// Do acquires the lock, runs fn and always releases afterward, even if fn
// returns an error or panics. A rejected acquisition returns ErrQueueLimit;
// callers that want burst-collapse semantics typically ignore it with
// errors.Is.
func (l *Lock) Do(ctx context.Context, fn func() error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (l *Lock) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(l.release)
	}
}

func (l *Lock) release() {
	l.mu.Lock()
	var next *waiter
	if n := len(l.queue); n > 0 {
		if l.policy == PolicyLatest {
			next = l.queue[n-1]
			l.queue = l.queue[:n-1]
		} else {
			next = l.queue[0]
			l.queue = l.queue[1:]
		}
	}
	if next == nil {
		l.locked = false
	}
	l.mu.Unlock()
	if next != nil {
		// Ownership transfers directly to the signalled waiter.
		close(next.ready)
	}
}

// remove drops a waiter whose context ended while queued. If the waiter was
// already signalled ready, ownership passed to it and the lock must be
// released again on its behalf.
func (l *Lock) remove(w *waiter) {
	l.mu.Lock()
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			l.mu.Unlock()
			return
		}
	}
	l.mu.Unlock()

	select {
	case <-w.ready:
		l.release()
	default:
	}
}
