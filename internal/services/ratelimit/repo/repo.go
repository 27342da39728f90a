// Package repo provides postgres access for shared rate limit state
package repo

import (
	"context"

	"gitrank/internal/modkit/repokit"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/store"
	"gitrank/internal/services/ratelimit/domain"
)

// Repo defines the rate limit state contract
type Repo interface {
	// Observe folds one response's metadata into the credential's row.
	// Within a window (same reset_at) remaining only ratchets down; a later
	// reset_at replaces the window wholesale
	Observe(ctx context.Context, credKey string, m domain.Meta) error

	// Snapshot reads the credential's current state; ok=false when the
	// credential has never been observed
	Snapshot(ctx context.Context, credKey string) (domain.State, bool, error)
}

type (
	// PG is a Postgres binder for Repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for Repo
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) Repo { return &queries{q: q} }

// Observe is a single atomic upsert so concurrent workers can never wind
// remaining back up within a window
func (r *queries) Observe(ctx context.Context, credKey string, m domain.Meta) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO rate_limit_state (cred_key, remaining, rl_limit, reset_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (cred_key) DO UPDATE SET
			remaining = CASE
				WHEN excluded.reset_at > rate_limit_state.reset_at THEN excluded.remaining
				ELSE LEAST(rate_limit_state.remaining, excluded.remaining)
			END,
			rl_limit = excluded.rl_limit,
			reset_at = GREATEST(rate_limit_state.reset_at, excluded.reset_at),
			updated_at = now()
	`, credKey, max(m.Remaining, 0), m.Limit, m.ResetAt.UTC())
	return err
}

func (r *queries) Snapshot(ctx context.Context, credKey string) (domain.State, bool, error) {
	st, err := store.One(ctx, r.q, func(row store.Row) (domain.State, error) {
		var out domain.State
		err := row.Scan(&out.CredKey, &out.Remaining, &out.Limit, &out.ResetAt, &out.UpdatedAt)
		return out, err
	}, `
		SELECT cred_key, remaining, rl_limit, reset_at, updated_at
		FROM rate_limit_state WHERE cred_key = $1
	`, credKey)
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			return domain.State{}, false, nil
		}
		return domain.State{}, false, err
	}
	return st, true, nil
}
