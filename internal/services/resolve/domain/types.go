// Package domain defines the identity resolution worker's types and ports
package domain

import "context"

// BatchPayload is the identity batch job body. Authors are case-normalized
// and sorted by the extraction stage
type BatchPayload struct {
	RepoID     int64    `json:"repo_id"`
	RepoURL    string   `json:"repo_url"`
	Authors    []string `json:"authors"`
	Credential string   `json:"credential,omitempty"`
}

// AuthorCommits pairs an author identifier with its commit count
type AuthorCommits struct {
	Email   string
	Commits int64
}

// Identity is a resolved platform account
type Identity struct {
	Login      string
	ProfileURL string
	Email      string
}

// RateMeta is the rate-limit metadata observed on an API response.
// A zero value means the response carried none
type RateMeta struct {
	Remaining int
	Limit     int
	ResetAt   int64 // unix seconds
}

// Zero reports whether no metadata was observed
func (m RateMeta) Zero() bool { return m == RateMeta{} }

// LookupPort resolves one author identifier against the hosting platform.
// Not-found is ErrorCodeNotFound; transient upstream trouble is
// ErrorCodeUnavailable or ErrorCodeTooManyRequests
type LookupPort interface {
	Lookup(ctx context.Context, email, credential string) (Identity, RateMeta, error)
}

// WorkerPort runs the resolution loop until ctx is done
type WorkerPort interface {
	Run(ctx context.Context) error
}
