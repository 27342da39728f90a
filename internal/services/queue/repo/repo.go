// Package repo provides postgres access for the job queue
package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"gitrank/internal/modkit/repokit"
	"gitrank/internal/services/queue/domain"
)

// Repo defines the queue repository contract
type Repo interface {
	// Insert creates a waiting job unless a non-terminal job with the same key
	// exists; created=false means the key was occupied
	Insert(ctx context.Context, j domain.Job) (created bool, err error)

	// FindActiveByKey returns the non-terminal job holding key, if any
	FindActiveByKey(ctx context.Context, key string) (domain.Job, bool, error)

	// Lease claims up to n due jobs of kind for leaseFor, bumping attempts
	Lease(ctx context.Context, kind domain.Kind, n int, leaseFor time.Duration) ([]domain.Job, error)

	// Complete removes the job when removeOnComplete, else marks it completed
	Complete(ctx context.Context, id string, removeOnComplete bool) error

	// Reschedule returns the job to waiting with a retry delay
	Reschedule(ctx context.Context, id string, delay time.Duration, lastErr string) error

	// FailTerminal removes the job when removeOnFail, else marks it failed
	FailTerminal(ctx context.Context, id string, removeOnFail bool, lastErr string) error

	// ReapExpired moves expired active leases back to waiting
	ReapExpired(ctx context.Context, kind domain.Kind) (int, error)

	// CountOutstanding counts non-terminal jobs of kind for a repository
	CountOutstanding(ctx context.Context, kind domain.Kind, repoID int64) (int, error)
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

// NewID mints a job row id
func NewID() string { return uuid.NewString() }

const jobColumns = `
	id, kind, key, repo_id, payload, status, attempts, max_attempts,
	backoff_base_ms, remove_on_complete, remove_on_fail,
	COALESCE(last_error, ''), next_attempt_at, leased_until, created_at, updated_at
`

func scanJob(r repokit.Row) (domain.Job, error) {
	var j domain.Job
	var payload []byte
	var backoffMs int64
	err := r.Scan(
		&j.ID, &j.Kind, &j.Key, &j.RepoID, &payload, &j.Status, &j.Attempts, &j.MaxAttempts,
		&backoffMs, &j.RemoveOnComplete, &j.RemoveOnFail,
		&j.LastError, &j.NextAttemptAt, &j.LeasedUntil, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	j.Payload = json.RawMessage(payload)
	j.BackoffBase = time.Duration(backoffMs) * time.Millisecond
	return j, nil
}

// Insert relies on the partial unique index jobs_active_key_ux
// (UNIQUE (key) WHERE status IN ('waiting','active')) for the
// at-most-one-concurrent-job-per-key guarantee
func (r *queries) Insert(ctx context.Context, j domain.Job) (bool, error) {
	const sql = `
		INSERT INTO jobs (
			id, kind, key, repo_id, payload, status, attempts, max_attempts,
			backoff_base_ms, remove_on_complete, remove_on_fail, next_attempt_at
		)
		VALUES ($1, $2, $3, $4, $5, 'waiting', 0, $6, $7, $8, $9, now())
		ON CONFLICT (key) WHERE status IN ('waiting','active') DO NOTHING
	`
	tag, err := r.q.Exec(ctx, sql,
		j.ID, j.Kind, j.Key, j.RepoID, []byte(j.Payload),
		j.MaxAttempts, j.BackoffBase.Milliseconds(), j.RemoveOnComplete, j.RemoveOnFail,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *queries) FindActiveByKey(ctx context.Context, key string) (domain.Job, bool, error) {
	const sql = `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE key = $1 AND status IN ('waiting','active')
	`
	rows, err := r.q.Query(ctx, sql, key)
	if err != nil {
		return domain.Job{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.Job{}, false, rows.Err()
	}
	j, err := scanJob(rowAdapter{rows})
	if err != nil {
		return domain.Job{}, false, err
	}
	return j, true, rows.Err()
}

// Lease claims due jobs with SKIP LOCKED so concurrent consumers never
// observe the same row; an attempt begins at claim time
func (r *queries) Lease(ctx context.Context, kind domain.Kind, n int, leaseFor time.Duration) ([]domain.Job, error) {
	const sql = `
		WITH due AS (
			SELECT id
			FROM jobs
			WHERE kind = $1 AND status = 'waiting' AND next_attempt_at <= now()
			ORDER BY next_attempt_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j SET
			status = 'active',
			attempts = j.attempts + 1,
			leased_until = now() + $3::interval,
			updated_at = now()
		FROM due
		WHERE j.id = due.id
		RETURNING ` + jobColumns
	rows, err := r.q.Query(ctx, sql, kind, n, leaseFor.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rowAdapter{rows})
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *queries) Complete(ctx context.Context, id string, removeOnComplete bool) error {
	if removeOnComplete {
		_, err := r.q.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
		return err
	}
	_, err := r.q.Exec(ctx, `
		UPDATE jobs SET status = 'completed', leased_until = NULL, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *queries) Reschedule(ctx context.Context, id string, delay time.Duration, lastErr string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE jobs SET
			status = 'waiting',
			leased_until = NULL,
			last_error = NULLIF($2, ''),
			next_attempt_at = now() + $3::interval,
			updated_at = now()
		WHERE id = $1
	`, id, lastErr, delay.String())
	return err
}

func (r *queries) FailTerminal(ctx context.Context, id string, removeOnFail bool, lastErr string) error {
	if removeOnFail {
		_, err := r.q.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
		return err
	}
	_, err := r.q.Exec(ctx, `
		UPDATE jobs SET
			status = 'failed',
			leased_until = NULL,
			last_error = NULLIF($2, ''),
			updated_at = now()
		WHERE id = $1
	`, id, lastErr)
	return err
}

func (r *queries) ReapExpired(ctx context.Context, kind domain.Kind) (int, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE jobs SET status = 'waiting', leased_until = NULL, updated_at = now()
		WHERE kind = $1 AND status = 'active' AND leased_until < now()
	`, kind)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *queries) CountOutstanding(ctx context.Context, kind domain.Kind, repoID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*) FROM jobs
		WHERE kind = $1 AND repo_id = $2 AND status IN ('waiting','active')
	`, kind, repoID).Scan(&n)
	return n, err
}

// rowAdapter lets scanJob read from a positioned Rows
type rowAdapter struct{ rows repokit.Rows }

func (a rowAdapter) Scan(dest ...any) error { return a.rows.Scan(dest...) }
