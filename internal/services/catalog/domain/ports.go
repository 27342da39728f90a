package domain

import "context"

// CatalogPort is the submission-facing surface
type CatalogPort interface {
	// Submit admits a repository URL. New URLs start at pending; URLs whose
	// previous run reached a terminal state re-enter at pending. A URL with a
	// run in flight is returned unchanged
	Submit(ctx context.Context, sub Submission) (Repository, error)

	// Leaderboard returns contributors ranked by commit count (desc, email
	// asc tiebreak), resolved identities first-class and unresolved raw
	// emails unioned in
	Leaderboard(ctx context.Context, repoID int64) ([]LeaderboardRow, error)
}

// LifecyclePort is the worker-facing surface for guarded state moves
type LifecyclePort interface {
	// Get returns the repository by id
	Get(ctx context.Context, repoID int64) (Repository, error)

	// Transition moves the repository from expected to next atomically.
	// A conflict (row not in expected) returns ErrorCodeConflict
	Transition(ctx context.Context, repoID int64, expected, next State) error

	// MarkFailed transitions to failed from any non-terminal state and
	// records the reason
	MarkFailed(ctx context.Context, repoID int64, reason string) error

	// SetStats records observed size and commit count after materialization
	SetStats(ctx context.Context, repoID int64, sizeBytes, commitCount int64) error

	// MarkProcessed stamps last_processed_at at the end of a successful run
	MarkProcessed(ctx context.Context, repoID int64) error
}
