// Package security holds the transport-level guards in front of the
// tool dispatch surface: a sliding-window rate limiter, an idempotency
// store for replaying repeated tool calls, and the fiber middleware
// that applies them.
package security

import (
	"sync"
	"time"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests per window.
	RequestsPerWindow int
	// WindowDuration is the length of the sliding window.
	WindowDuration time.Duration
	// BurstMax caps requests within any single second. Zero disables
	// the burst check.
	BurstMax int
}

// DefaultRateLimitConfig returns the stock limiter settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstMax:          20,
	}
}

// RateLimiter is a sliding-window limiter keyed by client id. Each
// client keeps the timestamps of its recent requests; a request is
// allowed when both the window count and the per-second burst count
// are under their limits.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*window
	limit   int
	window  time.Duration
	burst   int
}

type window struct {
	hits []time.Time
}

// prune drops hits at or before the cutoff, in place.
func (w *window) prune(cutoff time.Time) {
	keep := w.hits[:0]
	for _, t := range w.hits {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	w.hits = keep
}

// NewRateLimiter creates a rate limiter and starts its background
// cleanup of idle clients.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*window),
		limit:   config.RequestsPerWindow,
		window:  config.WindowDuration,
		burst:   config.BurstMax,
	}
	go rl.cleanup()
	return rl
}

// Allow records a request for the client and reports whether it fits
// inside the window and burst limits.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, exists := rl.clients[clientID]
	if !exists {
		w = &window{hits: make([]time.Time, 0, rl.limit)}
		rl.clients[clientID] = w
	}
	w.prune(now.Add(-rl.window))

	if len(w.hits) >= rl.limit {
		return false
	}
	if rl.burst > 0 {
		burstCutoff := now.Add(-time.Second)
		recent := 0
		for _, t := range w.hits {
			if t.After(burstCutoff) {
				recent++
			}
		}
		if recent >= rl.burst {
			return false
		}
	}

	w.hits = append(w.hits, now)
	return true
}

// RateLimitInfo carries the values exposed in X-RateLimit headers.
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Info returns the current window state for a client. ResetAt is when
// the oldest recorded request falls out of the window.
func (rl *RateLimiter) Info(clientID string) RateLimitInfo {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	info := RateLimitInfo{Limit: rl.limit, Remaining: rl.limit, ResetAt: time.Now()}
	w, exists := rl.clients[clientID]
	if !exists {
		return info
	}
	w.prune(time.Now().Add(-rl.window))
	info.Remaining = rl.limit - len(w.hits)
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	if len(w.hits) > 0 {
		info.ResetAt = w.hits[0].Add(rl.window)
	}
	return info
}

// cleanup periodically drops clients with no requests left in the
// window so the map does not grow with every client ever seen.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.window)
		for id, w := range rl.clients {
			w.prune(cutoff)
			if len(w.hits) == 0 {
				delete(rl.clients, id)
			}
		}
		rl.mu.Unlock()
	}
}
