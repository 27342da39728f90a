// Package domain defines the repository catalog's types and ports
package domain

import (
	"strings"
	"time"
)

// State is the repository lifecycle state persisted in Postgres
type State string

const (
	// StatePending means submitted and waiting for extraction to begin
	StatePending State = "pending"

	// StateCommitsProcessing means the extraction worker owns the repository
	StateCommitsProcessing State = "commits_processing"

	// StateUsersProcessing means identity batches are in flight
	StateUsersProcessing State = "users_processing"

	// StateCompleted means every author identifier resolved
	StateCompleted State = "completed"

	// StateCompletedPartial means processing finished with unresolved authors
	StateCompletedPartial State = "completed_partial"

	// StateFailed means processing stopped on an admission or infra failure
	StateFailed State = "failed"
)

// Terminal reports whether the state ends a processing run.
// A new submission is the only way out of a terminal state
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCompletedPartial || s == StateFailed
}

// CanTransition is the single authority for lifecycle moves. failed is
// re-enterable by the extraction worker because a queued retry may land
// after the repository was already marked failed
func CanTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateCommitsProcessing
	case StateFailed:
		return to == StateCommitsProcessing
	case StateCommitsProcessing:
		return to == StateUsersProcessing || to == StateFailed
	case StateUsersProcessing:
		return to == StateCompleted || to == StateCompletedPartial || to == StateFailed
	default:
		return false
	}
}

// Repository is one tracked source repository
type Repository struct {
	ID              int64
	URL             string
	State           State
	SizeBytes       int64
	CommitCount     int64
	FailureReason   string
	LastProcessedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Submission is the validated input to Submit
type Submission struct {
	URL        string `validate:"required,min=8"`
	Credential string `validate:"omitempty,min=8"`
}

// LeaderboardRow is one ranked contributor. Login and ProfileURL are empty
// for rows that fall back to the raw author email
type LeaderboardRow struct {
	Rank     int
	Login    string
	Email    string
	Profile  string
	Commits  int64
	Resolved bool
}

// NormalizeURL canonicalizes a source URL for identity comparison:
// trims whitespace, lowercases scheme and host, drops a trailing slash
// and a trailing .git suffix
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	// lowercase scheme://host only, path stays as-is
	if i := strings.Index(s, "://"); i >= 0 {
		rest := s[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			s = strings.ToLower(s[:i+3]+rest[:j]) + rest[j:]
		} else {
			s = strings.ToLower(s)
		}
	}
	return s
}

// NormalizeEmail case-folds an author identifier for aggregation and caching
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
