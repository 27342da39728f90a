// Package repo provides postgres access for contributors and resolution marks
package repo

import (
	"context"

	"gitrank/internal/modkit/repokit"
	"gitrank/internal/platform/store"
	"gitrank/internal/services/resolve/domain"
)

// Repo defines the resolution repository contract
type Repo interface {
	// AggregateCounts returns author email -> commit count for the given
	// authors of a repository
	AggregateCounts(ctx context.Context, repoID int64, authors []string) (map[string]int64, error)

	// UpsertContributor records or refreshes a resolved identity
	UpsertContributor(ctx context.Context, email string, id domain.Identity) error

	// UpsertRepoContributor links a contributor to a repository with its count
	UpsertRepoContributor(ctx context.Context, repoID int64, email string, commits int64) error

	// MarkResolved flips the resolved flag on the given aggregates
	MarkResolved(ctx context.Context, repoID int64, authors []string) error

	// UnresolvedCount counts aggregates still unresolved for the repository
	UnresolvedCount(ctx context.Context, repoID int64) (int64, error)
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

func (r *queries) AggregateCounts(ctx context.Context, repoID int64, authors []string) (map[string]int64, error) {
	rows, err := store.Many(ctx, r.q, func(row store.Row) (domain.AuthorCommits, error) {
		var out domain.AuthorCommits
		err := row.Scan(&out.Email, &out.Commits)
		return out, err
	}, `
		SELECT author_email, commits FROM commit_aggregates
		WHERE repo_id = $1 AND author_email = ANY($2)
	`, repoID, authors)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Email] = row.Commits
	}
	return out, nil
}

func (r *queries) UpsertContributor(ctx context.Context, email string, id domain.Identity) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO contributors (author_email, login, profile_url, display_email, resolved_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), now())
		ON CONFLICT (author_email) DO UPDATE SET
			login = excluded.login,
			profile_url = excluded.profile_url,
			display_email = excluded.display_email,
			resolved_at = now()
	`, email, id.Login, id.ProfileURL, id.Email)
	return err
}

func (r *queries) UpsertRepoContributor(ctx context.Context, repoID int64, email string, commits int64) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO repo_contributors (repo_id, author_email, commits)
		VALUES ($1, $2, $3)
		ON CONFLICT (repo_id, author_email) DO UPDATE SET commits = excluded.commits
	`, repoID, email, commits)
	return err
}

func (r *queries) MarkResolved(ctx context.Context, repoID int64, authors []string) error {
	if len(authors) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx, `
		UPDATE commit_aggregates SET resolved = true
		WHERE repo_id = $1 AND author_email = ANY($2)
	`, repoID, authors)
	return err
}

func (r *queries) UnresolvedCount(ctx context.Context, repoID int64) (int64, error) {
	return store.Scalar[int64](ctx, r.q, `
		SELECT count(*) FROM commit_aggregates WHERE repo_id = $1 AND NOT resolved
	`, repoID)
}
