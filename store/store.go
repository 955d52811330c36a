package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatloop/asynclock"
	"chatloop/logging"
)

// Subscriber observes store updates. It receives the new and the previous
// value and runs synchronously inside the update call.
type Subscriber[T any] func(newValue, oldValue T)

// Options configures a Store.
type Options struct {
	// FlushInterval is the quiet period after the last update before the
	// value is persisted. Successive updates within the interval coalesce
	// into a single write.
	FlushInterval time.Duration
	// Logger receives flush failures and subscriber panics.
	Logger logging.Logger
}

type subscriberEntry[T any] struct {
	id int
	fn Subscriber[T]
}

// Store holds a single value with synchronous subscriber notification and a
// debounced asynchronous flush to its Provider. Public methods are safe for
// concurrent use; subscribers may call Update re-entrantly.
type Store[T any] struct {
	provider Provider[T]
	logger   logging.Logger

	mu          sync.Mutex
	value       T
	subscribers []subscriberEntry[T]
	nextSubID   int
	timer       *time.Timer
	released    bool

	flushInterval time.Duration
	flushLock     *asynclock.Lock
}

// New constructs a Store seeded with the factory default. Call Init to load a
// previously persisted value.
func New[T any](provider Provider[T], defaultValue func() T, optFns ...func(o *Options)) *Store[T] {
	opts := Options{
		FlushInterval: time.Second,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store[T]{
		provider:      provider,
		logger:        opts.Logger,
		value:         defaultValue(),
		flushInterval: opts.FlushInterval,
		flushLock:     asynclock.New(0, asynclock.PolicyLatest),
	}
}

// NewMemory constructs a Store backed by a volatile in-memory provider.
func NewMemory[T any](defaultValue func() T, optFns ...func(o *Options)) *Store[T] {
	return New(NewMemoryProvider[T](), defaultValue, optFns...)
}

// Init loads the persisted value if one exists, keeping the factory default
// otherwise.
func (s *Store[T]) Init(ctx context.Context) error {
	present, err := s.provider.IsPresent(ctx)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	value, err := s.provider.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
	return nil
}

// Release cancels the pending flush timer and forces a final synchronous
// flush. The store remains readable afterward but schedules no further
// writes.
func (s *Store[T]) Release(ctx context.Context) error {
	s.mu.Lock()
	s.released = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	return s.flush(ctx)
}

// GetValue returns the current value. It never blocks on persistence.
func (s *Store[T]) GetValue() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the value, notifies subscribers and schedules a flush.
func (s *Store[T]) Set(value T) {
	s.Update(func(T) T { return value })
}

// Update applies a pure updater old -> new, notifies every subscriber with
// the (new, old) pair and schedules a debounced flush. A panicking subscriber
// is isolated: it neither aborts the update nor prevents later subscribers
// from running.
func (s *Store[T]) Update(by func(old T) T) {
	s.mu.Lock()
	oldValue := s.value
	newValue := by(oldValue)
	s.value = newValue
	subs := make([]subscriberEntry[T], len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, sub := range subs {
		s.notify(sub.fn, newValue, oldValue)
	}

	s.scheduleFlush()
}

func (s *Store[T]) notify(fn Subscriber[T], newValue, oldValue T) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store.subscriber.panic", "recover", r)
		}
	}()
	fn(newValue, oldValue)
}

// Subscribe registers a listener and returns its unsubscribe function.
func (s *Store[T]) Subscribe(fn Subscriber[T]) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers = append(s.subscribers, subscriberEntry[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

// scheduleFlush (re)arms the debounce timer so that a burst of updates
// produces one write after the quiet interval.
func (s *Store[T]) scheduleFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.flushInterval, func() {
		if err := s.flush(context.Background()); err != nil {
			s.logger.Error("store.flush.failed", "error", err)
		}
	})
}

// flush writes the latest value through the provider. Saves are serialized;
// a save racing an already queued one is dropped since the queued save will
// carry the newer value anyway. A failed flush does not roll back the
// in-memory value.
func (s *Store[T]) flush(ctx context.Context) error {
	err := s.flushLock.Do(ctx, func() error {
		return s.provider.Save(ctx, s.GetValue())
	})
	if err != nil && !errors.Is(err, asynclock.ErrQueueLimit) {
		return err
	}
	return nil
}
