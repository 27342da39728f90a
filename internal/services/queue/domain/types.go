// Package domain defines the job queue's types and ports
package domain

import (
	"encoding/json"
	"time"
)

// Kind enumerates the two task kinds the pipeline knows about
type Kind string

const (
	// KindExtract clones/updates a repository and aggregates commit counts
	KindExtract Kind = "extract"

	// KindResolveBatch resolves one fixed-size group of author identifiers
	KindResolveBatch Kind = "resolve_batch"
)

// Status is the job lifecycle state persisted in Postgres
type Status string

const (
	// StatusWaiting means the job is enqueued and eligible once next_attempt_at passes
	StatusWaiting Status = "waiting"

	// StatusActive means a consumer holds a lease on the job
	StatusActive Status = "active"

	// StatusCompleted is terminal success (row usually removed instead)
	StatusCompleted Status = "completed"

	// StatusFailed is terminal failure past the retry budget; retained for postmortem
	StatusFailed Status = "failed"
)

// Terminal reports whether the status ends the job's lifecycle
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Job is one unit of queued work
type Job struct {
	ID               string
	Kind             Kind
	Key              string
	RepoID           int64
	Payload          json.RawMessage
	Status           Status
	Attempts         int
	MaxAttempts      int
	BackoffBase      time.Duration
	RemoveOnComplete bool
	RemoveOnFail     bool
	LastError        string
	NextAttemptAt    time.Time
	LeasedUntil      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Options tunes retry and retention behavior at enqueue time
type Options struct {
	MaxAttempts int           // <=0 -> 3
	BackoffBase time.Duration // <=0 -> 60s, exponential per attempt
	KeepOnDone  bool          // retain the row on completion (default remove)
	DropOnFail  bool          // remove the row on terminal failure (default retain)
}

// Normalize fills zero values with the queue defaults
func (o Options) Normalize() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Minute
	}
	return o
}

// Backoff returns the retry delay after the given attempt count (1-based),
// exponential from base, capped at 10 minutes
func Backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if attempts < 1 {
		attempts = 1
	}
	ms := min(int64(base/time.Millisecond)<<uint(attempts-1), int64(10*time.Minute/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}
