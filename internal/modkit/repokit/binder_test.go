package repokit

import (
	"context"
	"testing"

	"gitrank/internal/platform/store"
	kit "gitrank/internal/platform/testkit"
)

type fakeRepo struct{ q Queryer }

type fakeQueryer struct{}

func (fakeQueryer) Exec(context.Context, string, ...any) (store.CommandTag, error) {
	return nil, nil
}
func (fakeQueryer) Query(context.Context, string, ...any) (store.Rows, error) { return nil, nil }
func (fakeQueryer) QueryRow(context.Context, string, ...any) store.Row        { return nil }

func TestBindFunc(t *testing.T) {
	b := BindFunc[fakeRepo](func(q Queryer) fakeRepo { return fakeRepo{q: q} })
	q := fakeQueryer{}
	if got := b.Bind(q); got.q != Queryer(q) {
		t.Fatalf("Bind did not pass the queryer through")
	}
}

func TestMustBind(t *testing.T) {
	b := BindFunc[fakeRepo](func(q Queryer) fakeRepo { return fakeRepo{q: q} })

	got := MustBind[fakeRepo](b, fakeQueryer{})
	if got.q == nil {
		t.Fatalf("MustBind returned unbound repo")
	}

	kit.MustPanic(t, func() { MustBind[fakeRepo](b, nil) })
}

func TestWithTx(t *testing.T) {
	tx := txStub{}
	called := false
	err := WithTx(context.Background(), tx, func(q Queryer) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("WithTx err=%v called=%v", err, called)
	}
}

type txStub struct{ fakeQueryer }

func (txStub) Tx(ctx context.Context, fn func(q store.RowQuerier) error) error {
	return fn(fakeQueryer{})
}
