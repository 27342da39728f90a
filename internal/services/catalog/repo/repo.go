// Package repo provides postgres access for the repository catalog
package repo

import (
	"context"

	"gitrank/internal/modkit/repokit"
	"gitrank/internal/platform/store"
	"gitrank/internal/services/catalog/domain"
)

// Repo defines the catalog repository contract
type Repo interface {
	// Upsert inserts the URL at pending, or revives a terminal row to
	// pending; rows with a run in flight come back unchanged
	Upsert(ctx context.Context, url string) (domain.Repository, error)

	// Get returns the repository by id
	Get(ctx context.Context, id int64) (domain.Repository, error)

	// Transition moves state from expected to next; moved=false means the
	// row was not in expected
	Transition(ctx context.Context, id int64, expected, next domain.State) (moved bool, err error)

	// MarkFailed forces failed with a reason from any non-terminal state
	MarkFailed(ctx context.Context, id int64, reason string) error

	// SetStats records the observed size and commit count
	SetStats(ctx context.Context, id int64, sizeBytes, commitCount int64) error

	// MarkProcessed stamps last_processed_at
	MarkProcessed(ctx context.Context, id int64) error

	// Leaderboard returns ranked rows, resolved joins plus unresolved
	// aggregates, ordered by commits desc then email asc
	Leaderboard(ctx context.Context, repoID int64) ([]domain.LeaderboardRow, error)
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

const repoColumns = `
	id, url, state, size_bytes, commit_count,
	COALESCE(failure_reason, ''), last_processed_at, created_at, updated_at
`

func scanRepository(r store.Row) (domain.Repository, error) {
	var out domain.Repository
	err := r.Scan(
		&out.ID, &out.URL, &out.State, &out.SizeBytes, &out.CommitCount,
		&out.FailureReason, &out.LastProcessedAt, &out.CreatedAt, &out.UpdatedAt,
	)
	return out, err
}

// Upsert revives terminal rows to pending in the same statement so a
// re-submission can never race a concurrent run into a double pending
func (r *queries) Upsert(ctx context.Context, url string) (domain.Repository, error) {
	const sql = `
		INSERT INTO repositories (url, state)
		VALUES ($1, 'pending')
		ON CONFLICT (url) DO UPDATE SET
			state = CASE
				WHEN repositories.state IN ('completed', 'completed_partial', 'failed')
				THEN 'pending'::text
				ELSE repositories.state
			END,
			failure_reason = CASE
				WHEN repositories.state IN ('completed', 'completed_partial', 'failed')
				THEN NULL
				ELSE repositories.failure_reason
			END,
			updated_at = now()
		RETURNING ` + repoColumns
	return scanRepository(r.q.QueryRow(ctx, sql, url))
}

func (r *queries) Get(ctx context.Context, id int64) (domain.Repository, error) {
	return store.One(ctx, r.q, scanRepository,
		`SELECT `+repoColumns+` FROM repositories WHERE id = $1`, id)
}

func (r *queries) Transition(ctx context.Context, id int64, expected, next domain.State) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE repositories SET state = $3, updated_at = now()
		WHERE id = $1 AND state = $2
	`, id, expected, next)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *queries) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE repositories SET
			state = 'failed',
			failure_reason = NULLIF($2, ''),
			updated_at = now()
		WHERE id = $1 AND state NOT IN ('completed', 'completed_partial')
	`, id, reason)
	return err
}

func (r *queries) SetStats(ctx context.Context, id int64, sizeBytes, commitCount int64) error {
	_, err := r.q.Exec(ctx, `
		UPDATE repositories SET size_bytes = $2, commit_count = $3, updated_at = now()
		WHERE id = $1
	`, id, sizeBytes, commitCount)
	return err
}

func (r *queries) MarkProcessed(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `
		UPDATE repositories SET last_processed_at = now(), updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *queries) Leaderboard(ctx context.Context, repoID int64) ([]domain.LeaderboardRow, error) {
	const sql = `
		SELECT login, author_email, profile_url, commits, resolved FROM (
			SELECT
				c.login            AS login,
				rc.author_email    AS author_email,
				COALESCE(c.profile_url, '') AS profile_url,
				rc.commits         AS commits,
				true               AS resolved
			FROM repo_contributors rc
			JOIN contributors c ON c.author_email = rc.author_email
			WHERE rc.repo_id = $1
			UNION ALL
			SELECT
				''              AS login,
				ca.author_email AS author_email,
				''              AS profile_url,
				ca.commits      AS commits,
				false           AS resolved
			FROM commit_aggregates ca
			WHERE ca.repo_id = $1 AND NOT ca.resolved
		) board
		ORDER BY commits DESC, author_email ASC
	`
	return store.Many(ctx, r.q, func(row store.Row) (domain.LeaderboardRow, error) {
		var out domain.LeaderboardRow
		err := row.Scan(&out.Login, &out.Email, &out.Profile, &out.Commits, &out.Resolved)
		return out, err
	}, sql, repoID)
}
