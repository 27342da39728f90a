package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	perr "gitrank/internal/platform/errors"
)

// fakeRows drives the helpers without a live backend
type fakeRows struct {
	rows [][]any
	i    int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.i < len(r.rows) {
		r.i++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan arity: got %d want %d", len(dest), len(row))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *int64:
			*p = row[i].(int64)
		case *bool:
			*p = row[i].(bool)
		default:
			return fmt.Errorf("unsupported dest %T", d)
		}
	}
	return nil
}

func (r *fakeRows) Err() error        { return r.err }
func (r *fakeRows) Close()            {}
func (r *fakeRows) Columns() []string { return nil }

type scanRow func(dest ...any) error

func (f scanRow) Scan(dest ...any) error { return f(dest...) }

// fakeQuerier serves canned rows for Query and QueryRow
type fakeQuerier struct {
	rows     [][]any
	queryErr error
}

func (f *fakeQuerier) Exec(context.Context, string, ...any) (CommandTag, error) {
	return nil, errors.New("not used")
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (Rows, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{rows: f.rows}, nil
}

func (f *fakeQuerier) QueryRow(context.Context, string, ...any) Row {
	return scanRow(func(dest ...any) error {
		r := &fakeRows{rows: f.rows}
		if !r.Next() {
			return errors.New("no rows in result set")
		}
		return r.Scan(dest...)
	})
}

type pair struct {
	Email   string
	Commits int64
}

func scanPair(r Row) (pair, error) {
	var p pair
	err := r.Scan(&p.Email, &p.Commits)
	return p, err
}

func TestScalar(t *testing.T) {
	ctx := context.Background()

	q := &fakeQuerier{rows: [][]any{{int64(42)}}}
	n, err := Scalar[int64](ctx, q, "SELECT count(*) FROM jobs")
	require.NoError(t, err)
	require.Equal(t, int64(42), n)

	empty := &fakeQuerier{}
	_, err = Scalar[int64](ctx, empty, "SELECT count(*) FROM jobs")
	require.Error(t, err)
}

func TestOne(t *testing.T) {
	ctx := context.Background()

	t.Run("single row", func(t *testing.T) {
		q := &fakeQuerier{rows: [][]any{{"ada@example.com", int64(7)}}}
		got, err := One(ctx, q, scanPair, "SELECT ...")
		require.NoError(t, err)
		require.Equal(t, pair{Email: "ada@example.com", Commits: 7}, got)
	})

	t.Run("empty is not found", func(t *testing.T) {
		q := &fakeQuerier{}
		_, err := One(ctx, q, scanPair, "SELECT ...")
		require.ErrorIs(t, err, perr.ErrNotFound)
	})

	t.Run("more than one row", func(t *testing.T) {
		q := &fakeQuerier{rows: [][]any{
			{"a@example.com", int64(1)},
			{"b@example.com", int64(2)},
		}}
		_, err := One(ctx, q, scanPair, "SELECT ...")
		require.Error(t, err)
		require.NotErrorIs(t, err, perr.ErrNotFound)
	})

	t.Run("query error passthrough", func(t *testing.T) {
		boom := errors.New("boom")
		q := &fakeQuerier{queryErr: boom}
		_, err := One(ctx, q, scanPair, "SELECT ...")
		require.ErrorIs(t, err, boom)
	})
}

func TestMany(t *testing.T) {
	ctx := context.Background()

	t.Run("maps all rows in order", func(t *testing.T) {
		q := &fakeQuerier{rows: [][]any{
			{"a@example.com", int64(3)},
			{"b@example.com", int64(2)},
			{"c@example.com", int64(1)},
		}}
		got, err := Many(ctx, q, scanPair, "SELECT ...")
		require.NoError(t, err)
		require.Equal(t, []pair{
			{"a@example.com", 3},
			{"b@example.com", 2},
			{"c@example.com", 1},
		}, got)
	})

	t.Run("empty result is nil", func(t *testing.T) {
		q := &fakeQuerier{}
		got, err := Many(ctx, q, scanPair, "SELECT ...")
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("scan error stops iteration", func(t *testing.T) {
		q := &fakeQuerier{rows: [][]any{{"only-one-column"}}}
		_, err := Many(ctx, q, scanPair, "SELECT ...")
		require.Error(t, err)
	})
}
