// Package fetch implements the HTTP and headless-browser acquisition tiers,
// including the rotating header-profile pool they draw from.
package fetch

import (
	"log/slog"
	"sync"
)

// Profile is one complete request-header set. The pool hands out copies;
// callers never mutate a profile.
type Profile map[string]string

// HeaderPool rotates a fixed set of header profiles, tracking per-profile
// failures. When every profile has been marked failed the pool resets
// itself and starts over; no profile is ever removed within a run.
//
// The pool is owned by whoever constructs the HTTP client and passed by
// handle; it is never ambient package state. All methods are safe for
// concurrent use.
type HeaderPool struct {
	mu       sync.Mutex
	profiles []Profile
	cursor   int
	failed   map[int]struct{}
	log      *slog.Logger
}

// NewHeaderPool creates a pool over the given profiles. The slice must be
// non-empty; the config validator guarantees this at startup.
func NewHeaderPool(profiles []Profile, log *slog.Logger) *HeaderPool {
	return &HeaderPool{
		profiles: profiles,
		failed:   make(map[int]struct{}),
		log:      log.With("component", "header_pool"),
	}
}

// Next returns the next non-failed profile, wrapping around. If all
// profiles are flagged failed the pool auto-resets first.
func (p *HeaderPool) Next() Profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.failed) >= len(p.profiles) {
		p.log.Warn("all header profiles failed, resetting pool", "profiles", len(p.profiles))
		p.failed = make(map[int]struct{})
		p.cursor = 0
	}

	for i := 0; i < len(p.profiles); i++ {
		if _, bad := p.failed[p.cursor]; !bad {
			break
		}
		p.cursor = (p.cursor + 1) % len(p.profiles)
	}

	profile := make(Profile, len(p.profiles[p.cursor]))
	for k, v := range p.profiles[p.cursor] {
		profile[k] = v
	}
	return profile
}

// MarkFailed flags the profile under the cursor as failed.
func (p *HeaderPool) MarkFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed[p.cursor] = struct{}{}
	p.log.Warn("header profile marked failed", "index", p.cursor)
}

// Advance moves the cursor to the next profile so consecutive requests
// spread load across the pool.
func (p *HeaderPool) Advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = (p.cursor + 1) % len(p.profiles)
}

// Reset clears all failure flags and rewinds the cursor.
func (p *HeaderPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = make(map[int]struct{})
	p.cursor = 0
}

// Size returns the number of profiles in the pool.
func (p *HeaderPool) Size() int {
	return len(p.profiles)
}
