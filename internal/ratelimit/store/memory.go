package store

import (
	"context"
	"sync"
	"time"
)

// entry represents a stored counter with expiration.
type entry struct {
	mu         sync.Mutex
	value      int64
	expiration time.Time
}

// MemoryStore implements Store using in-memory storage. Expired entries
// are reaped by a background cleanup loop.
type MemoryStore struct {
	data    sync.Map
	cleanup *time.Ticker
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates a new in-memory store with a
// custom cleanup interval.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	value, ok := s.data.Load(key)
	if !ok {
		return 0, &ErrKeyNotFound{Key: key}
	}

	e := value.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.expiration.IsZero() && time.Now().After(e.expiration) {
		s.data.Delete(key)
		return 0, &ErrKeyNotFound{Key: key}
	}

	return e.value, nil
}

// IncrementWithExpiry implements Store.
func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	value, _ := s.data.LoadOrStore(key, &entry{})
	e := value.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if !e.expiration.IsZero() && now.After(e.expiration) {
		e.value = 0
		e.expiration = time.Time{}
	}

	e.value += delta
	if e.value == delta && expiration > 0 {
		e.expiration = now.Add(expiration)
	}

	return e.value, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.data.Delete(key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.cleanup.Stop()
	close(s.done)
	return nil
}

// startCleanup periodically removes expired entries.
func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.done:
			return
		case <-s.cleanup.C:
			now := time.Now()
			s.data.Range(func(key, value interface{}) bool {
				e := value.(*entry)
				e.mu.Lock()
				expired := !e.expiration.IsZero() && now.After(e.expiration)
				e.mu.Unlock()
				if expired {
					s.data.Delete(key)
				}
				return true
			})
		}
	}
}
