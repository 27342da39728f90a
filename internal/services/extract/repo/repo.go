// Package repo provides postgres access for commit aggregates
package repo

import (
	"context"
	"fmt"
	"strings"

	"gitrank/internal/modkit/repokit"
	"gitrank/internal/platform/store"
	"gitrank/internal/services/extract/domain"
)

// insertChunk bounds one multi-row VALUES statement
const insertChunk = 500

// Repo defines the aggregate repository contract
type Repo interface {
	// ReplaceAggregates swaps the repository's aggregate set wholesale so a
	// re-run never leaves counts from a previous materialization behind
	ReplaceAggregates(ctx context.Context, repoID int64, counts []domain.AuthorCount) error

	// UnresolvedCount counts aggregates still lacking an identity
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

func (r *queries) ReplaceAggregates(ctx context.Context, repoID int64, counts []domain.AuthorCount) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM commit_aggregates WHERE repo_id = $1`, repoID); err != nil {
		return err
	}
	for start := 0; start < len(counts); start += insertChunk {
		end := min(start+insertChunk, len(counts))
		if err := r.insertAggregates(ctx, repoID, counts[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *queries) UnresolvedCount(ctx context.Context, repoID int64) (int64, error) {
	return store.Scalar[int64](ctx, r.q, `
		SELECT count(*) FROM commit_aggregates WHERE repo_id = $1 AND NOT resolved
	`, repoID)
}

func (r *queries) insertAggregates(ctx context.Context, repoID int64, counts []domain.AuthorCount) error {
	if len(counts) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO commit_aggregates (repo_id, author_email, commits, resolved) VALUES `)

	args := make([]any, 0, len(counts)*3)
	for i, c := range counts {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*3 + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,false)", base, base+1, base+2)
		args = append(args, repoID, c.AuthorEmail, c.Commits)
	}

	_, err := r.q.Exec(ctx, sb.String(), args...)
	return err
}
