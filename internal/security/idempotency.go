package security

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// IdempotencyStore caches tool call responses by caller-supplied key
// so a retried request replays the first result instead of running
// the tool again.
type IdempotencyStore struct {
	entries map[string]*IdempotencyEntry
	mu      sync.RWMutex
	ttl     time.Duration
}

// IdempotencyEntry is one cached response.
type IdempotencyEntry struct {
	Key       string      `json:"key"`
	ToolName  string      `json:"tool_name"`
	Response  interface{} `json:"response"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// NewIdempotencyStore creates a store and starts its background
// cleanup of expired entries.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	store := &IdempotencyStore{
		entries: make(map[string]*IdempotencyEntry),
		ttl:     ttl,
	}
	go store.cleanup()
	return store
}

// Check returns the cached entry for a key, if one exists and has not
// expired.
func (s *IdempotencyStore) Check(key string) (*IdempotencyEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		return nil, false
	}
	return entry, true
}

// Store caches the response of a completed tool call under the key.
func (s *IdempotencyStore) Store(key, toolName string, response interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.entries[key] = &IdempotencyEntry{
		Key:       key,
		ToolName:  toolName,
		Response:  response,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
}

// Delete removes a cached entry.
func (s *IdempotencyStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// cleanup periodically removes expired entries.
func (s *IdempotencyStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for key, entry := range s.entries {
			if now.After(entry.ExpiresAt) {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}

// GenerateRequestID generates a unique request id for response
// correlation.
func GenerateRequestID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
