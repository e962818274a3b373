// ABOUTME: Single-use state nonce store for the OAuth2 authorization flow
// ABOUTME: Thread-safe TTL cache with size-bounded O(1) eviction

package identity

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// stateEntry stores the issue timestamp and list element for one nonce
type stateEntry struct {
	issuedAt time.Time
	element  *list.Element
}

// StateStore issues and redeems single-use state nonces that bind an
// authorization redirect to its callback. A nonce is valid for one redemption
// within the TTL; redeeming consumes it, so a replayed callback is rejected.
// Uses a doubly-linked list to maintain issue order for O(1) eviction.
type StateStore struct {
	mu      sync.Mutex
	nonces  map[string]*stateEntry
	order   *list.List // nonces in issue order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewStateStore creates a state store with the given TTL and maximum size.
// A background goroutine periodically removes expired nonces.
func NewStateStore(ttl time.Duration, maxSize int) *StateStore {
	s := &StateStore{
		nonces:  make(map[string]*stateEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Issue creates and records a fresh nonce for an authorization redirect.
// If the store is at capacity, the oldest pending nonce is evicted.
func (s *StateStore) Issue() string {
	nonce := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.nonces) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.order.PushBack(nonce)
	s.nonces[nonce] = &stateEntry{issuedAt: time.Now(), element: elem}
	return nonce
}

// Redeem atomically consumes a nonce. Returns true exactly once per issued,
// unexpired nonce; racing redemptions cannot both succeed.
func (s *StateStore) Redeem(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.nonces[nonce]
	if !ok {
		return false
	}

	s.order.Remove(entry.element)
	delete(s.nonces, nonce)

	return time.Since(entry.issuedAt) < s.ttl
}

// evictOldest removes the oldest nonce. Must be called with mu held.
func (s *StateStore) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	nonce, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.nonces, nonce)
}

// cleanup runs in a background goroutine, removing expired nonces.
func (s *StateStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCleanup()
		case <-s.done:
			return
		}
	}
}

func (s *StateStore) runCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for nonce, entry := range s.nonces {
		if now.Sub(entry.issuedAt) > s.ttl {
			s.order.Remove(entry.element)
			delete(s.nonces, nonce)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (s *StateStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
