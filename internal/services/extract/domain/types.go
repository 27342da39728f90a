// Package domain defines the commit extraction worker's types and ports
package domain

import (
	"context"
	"time"
)

// Payload is the extraction job body
type Payload struct {
	RepoID     int64  `json:"repo_id"`
	RepoURL    string `json:"repo_url"`
	Credential string `json:"credential,omitempty"`
}

// Commit is one entry of the streamed commit log. AuthorEmail arrives
// as written; aggregation case-folds it
type Commit struct {
	AuthorEmail string
	When        time.Time
}

// AuthorCount is one aggregated author bucket
type AuthorCount struct {
	AuthorEmail string
	Commits     int64
}

// Handle points at a materialized working copy
type Handle struct {
	Path  string
	Fresh bool // first materialization, as opposed to an incremental refresh
}

// StoragePort is the working-copy seam. Materialize is incremental when a
// prior copy for the same url exists
type StoragePort interface {
	Materialize(ctx context.Context, url, credential string) (Handle, error)
	Size(ctx context.Context, h Handle) (int64, error)
	CommitCount(ctx context.Context, h Handle) (int64, error)

	// CommitLog streams commits oldest first; fn returning an error stops
	// the stream and surfaces that error
	CommitLog(ctx context.Context, h Handle, fn func(Commit) error) error

	// Release keeps the copy for future incremental refreshes
	Release(ctx context.Context, h Handle) error

	// Remove discards the copy, used when admission rejects the repository
	Remove(ctx context.Context, h Handle) error
}

// SizeProbePort asks the hosting service for the advertised repository size
// before any materialization happens. ok=false means no answer was
// available and the caller should proceed to materialize
type SizeProbePort interface {
	ReportedSize(ctx context.Context, url, credential string) (bytes int64, ok bool, err error)
}

// WorkerPort runs the extraction loop until ctx is done
type WorkerPort interface {
	Run(ctx context.Context) error
}
