// Package repo provides the durable tier of the identity cache
package repo

import (
	"context"

	"gitrank/internal/modkit/repokit"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/store"
	"gitrank/internal/services/idcache/domain"
)

// Repo defines the durable cache contract
type Repo interface {
	Get(ctx context.Context, email string) (domain.Entry, bool, error)
	Put(ctx context.Context, e domain.Entry) error

	// Purge drops a stale row so the table does not accumulate dead entries
	Purge(ctx context.Context, email string) error
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

func (r *queries) Get(ctx context.Context, email string) (domain.Entry, bool, error) {
	e, err := store.One(ctx, r.q, func(row store.Row) (domain.Entry, error) {
		var out domain.Entry
		err := row.Scan(&out.Email, &out.Login, &out.ProfileURL, &out.Found, &out.CachedAt)
		return out, err
	}, `
		SELECT author_email, COALESCE(login, ''), COALESCE(profile_url, ''), found, cached_at
		FROM identity_cache WHERE author_email = $1
	`, email)
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			return domain.Entry{}, false, nil
		}
		return domain.Entry{}, false, err
	}
	return e, true, nil
}

func (r *queries) Put(ctx context.Context, e domain.Entry) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO identity_cache (author_email, login, profile_url, found, cached_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)
		ON CONFLICT (author_email) DO UPDATE SET
			login = excluded.login,
			profile_url = excluded.profile_url,
			found = excluded.found,
			cached_at = excluded.cached_at
	`, e.Email, e.Login, e.ProfileURL, e.Found, e.CachedAt.UTC())
	return err
}

func (r *queries) Purge(ctx context.Context, email string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM identity_cache WHERE author_email = $1`, email)
	return err
}
