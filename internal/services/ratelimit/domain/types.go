// Package domain defines the rate limit coordinator's types and ports
package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// State is the persisted view of one credential's rate budget
type State struct {
	CredKey   string
	Remaining int
	Limit     int
	ResetAt   time.Time
	UpdatedAt time.Time
}

// Meta is rate metadata observed on an upstream response
type Meta struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Zero reports whether no metadata was observed
func (m Meta) Zero() bool { return m == Meta{} }

// CredKey fingerprints a credential for shared-state keying. The raw token
// never reaches storage. Anonymous calls share one bucket
func CredKey(credential string) string {
	if credential == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8])
}

// CoordinatorPort gates calls against a shared rate budget
type CoordinatorPort interface {
	// Acquire blocks (ctx-cancellable) while the credential's remaining
	// budget sits at or below the safety threshold and the reset lies in
	// the future
	Acquire(ctx context.Context, credKey string) error

	// Observe folds response metadata into shared state. Every response
	// should be observed, success or failure
	Observe(ctx context.Context, credKey string, m Meta) error
}
