// Package domain defines the identity cache's types and ports
package domain

import (
	"context"
	"time"
)

// Entry is one cached resolution outcome. Found=false caches a not-found
// answer so known-unresolvable identifiers never burn API budget again
// within the freshness window
type Entry struct {
	Email      string
	Login      string
	ProfileURL string
	Found      bool
	CachedAt   time.Time
}

// Fresh reports whether the entry is still usable under the given window
func (e Entry) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(e.CachedAt) < window
}

// CachePort is the two-tier identity cache surface
type CachePort interface {
	// Get returns a fresh entry for the identifier; ok=false is a miss
	// (absent or stale)
	Get(ctx context.Context, email string) (Entry, bool, error)

	// Put records a resolution outcome, positive or negative
	Put(ctx context.Context, e Entry) error
}
