package domain

import (
	"context"
	"time"
)

// EnqueuerPort admits jobs with per-key deduplication.
// If an admissible job with key already exists in a non-terminal state the
// existing job is returned instead of creating a duplicate
type EnqueuerPort interface {
	Enqueue(ctx context.Context, kind Kind, key string, repoID int64, payload any, opts Options) (Job, error)
}

// ConsumerPort is the worker-facing surface. Lease grants exclusive claims
// (no two consumers see the same job concurrently); Ack/Retry/Fail settle them
type ConsumerPort interface {
	Lease(ctx context.Context, kind Kind, n int, leaseFor time.Duration) ([]Job, error)
	Ack(ctx context.Context, j Job) error

	// Retry schedules another attempt with exponential backoff, or settles the
	// job as terminally failed when the attempt budget is spent.
	// Returns true when the job went terminal
	Retry(ctx context.Context, j Job, cause error) (bool, error)

	// Fail settles the job as terminally failed regardless of remaining attempts
	Fail(ctx context.Context, j Job, cause error) error

	// ReapExpired returns leases whose holder went away back to waiting
	ReapExpired(ctx context.Context, kind Kind) (int, error)
}

// InspectorPort answers queue questions without claiming work
type InspectorPort interface {
	// OutstandingForRepo counts non-terminal jobs of kind for the repository
	OutstandingForRepo(ctx context.Context, kind Kind, repoID int64) (int, error)
}
