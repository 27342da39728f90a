package service

import (
	"context"
	"testing"
	"time"

	"gitrank/internal/modkit"
	"gitrank/internal/modkit/repokit"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/store"
	"gitrank/internal/services/catalog/domain"
	crepo "gitrank/internal/services/catalog/repo"
	queuedom "gitrank/internal/services/queue/domain"
)

type fakeTx struct{}

func (fakeTx) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (fakeTx) Query(context.Context, string, ...any) (store.Rows, error)      { return nil, nil }
func (fakeTx) QueryRow(context.Context, string, ...any) store.Row             { return nil }
func (fakeTx) Tx(ctx context.Context, fn func(q store.RowQuerier) error) error {
	return fn(fakeTx{})
}

type fakeRepo struct {
	byURL  map[string]*domain.Repository
	nextID int64

	failedReasons map[int64]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byURL: map[string]*domain.Repository{}, failedReasons: map[int64]string{}}
}

func (f *fakeRepo) Upsert(_ context.Context, url string) (domain.Repository, error) {
	if r, ok := f.byURL[url]; ok {
		if r.State.Terminal() {
			r.State = domain.StatePending
			r.FailureReason = ""
		}
		return *r, nil
	}
	f.nextID++
	r := &domain.Repository{ID: f.nextID, URL: url, State: domain.StatePending, CreatedAt: time.Now()}
	f.byURL[url] = r
	return *r, nil
}

func (f *fakeRepo) Get(_ context.Context, id int64) (domain.Repository, error) {
	for _, r := range f.byURL {
		if r.ID == id {
			return *r, nil
		}
	}
	return domain.Repository{}, perr.ErrNotFound
}

func (f *fakeRepo) Transition(_ context.Context, id int64, expected, next domain.State) (bool, error) {
	for _, r := range f.byURL {
		if r.ID == id && r.State == expected {
			r.State = next
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) MarkFailed(_ context.Context, id int64, reason string) error {
	f.failedReasons[id] = reason
	for _, r := range f.byURL {
		if r.ID == id && !r.State.Terminal() {
			r.State = domain.StateFailed
			r.FailureReason = reason
		}
	}
	return nil
}

func (f *fakeRepo) SetStats(context.Context, int64, int64, int64) error { return nil }
func (f *fakeRepo) MarkProcessed(context.Context, int64) error          { return nil }

func (f *fakeRepo) Leaderboard(context.Context, int64) ([]domain.LeaderboardRow, error) {
	return []domain.LeaderboardRow{
		{Login: "alice", Email: "alice@x.io", Commits: 10, Resolved: true},
		{Email: "ghost@x.io", Commits: 4},
	}, nil
}

type fakeEnqueuer struct {
	calls []string // keys in call order
	jobs  map[string]queuedom.Job
}

func (f *fakeEnqueuer) Enqueue(
	_ context.Context, kind queuedom.Kind, key string, repoID int64, _ any, _ queuedom.Options,
) (queuedom.Job, error) {
	if f.jobs == nil {
		f.jobs = map[string]queuedom.Job{}
	}
	f.calls = append(f.calls, key)
	if j, ok := f.jobs[key]; ok {
		return j, nil
	}
	j := queuedom.Job{ID: key, Kind: kind, Key: key, RepoID: repoID}
	f.jobs[key] = j
	return j, nil
}

func newTestSvc(f *fakeRepo, e *fakeEnqueuer) *Svc {
	s := New(modkit.Deps{PG: fakeTx{}}, e)
	s.binder = repokit.BindFunc[crepo.Repo](func(repokit.Queryer) crepo.Repo { return f })
	return s
}

func TestSubmitNewRepositoryEnqueuesExtraction(t *testing.T) {
	f := newFakeRepo()
	e := &fakeEnqueuer{}
	s := newTestSvc(f, e)

	r, err := s.Submit(context.Background(), domain.Submission{URL: "https://example.com/org/repo.git"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r.State != domain.StatePending {
		t.Fatalf("state = %s, want pending", r.State)
	}
	if r.URL != "https://example.com/org/repo" {
		t.Fatalf("url not normalized: %q", r.URL)
	}
	if len(e.calls) != 1 || e.calls[0] != queuedom.ExtractKey(r.ID) {
		t.Fatalf("enqueue calls = %v", e.calls)
	}
}

func TestSubmitInFlightDoesNotEnqueue(t *testing.T) {
	ctx := context.Background()
	f := newFakeRepo()
	e := &fakeEnqueuer{}
	s := newTestSvc(f, e)

	r, err := s.Submit(ctx, domain.Submission{URL: "https://example.com/org/repo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.byURL[r.URL].State = domain.StateCommitsProcessing

	again, err := s.Submit(ctx, domain.Submission{URL: "https://example.com/org/repo"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.ID != r.ID {
		t.Fatalf("resubmission minted a new repository: %d vs %d", again.ID, r.ID)
	}
	if len(e.calls) != 1 {
		t.Fatalf("in-flight resubmission enqueued: %v", e.calls)
	}
}

func TestSubmitTerminalRepositoryReenters(t *testing.T) {
	ctx := context.Background()
	f := newFakeRepo()
	e := &fakeEnqueuer{}
	s := newTestSvc(f, e)

	r, err := s.Submit(ctx, domain.Submission{URL: "https://example.com/org/repo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.byURL[r.URL].State = domain.StateFailed
	f.byURL[r.URL].FailureReason = "too large"

	again, err := s.Submit(ctx, domain.Submission{URL: "https://example.com/org/repo"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.State != domain.StatePending {
		t.Fatalf("terminal repo did not re-enter pending: %s", again.State)
	}
	if again.FailureReason != "" {
		t.Fatalf("failure reason survived revival: %q", again.FailureReason)
	}
	if len(e.calls) != 2 {
		t.Fatalf("revival must enqueue a fresh extraction: %v", e.calls)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	s := newTestSvc(newFakeRepo(), &fakeEnqueuer{})

	_, err := s.Submit(context.Background(), domain.Submission{URL: "   "})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !perr.IsCode(err, perr.ErrorCodeValidation) {
		t.Fatalf("code = %v, want validation", perr.CodeOf(err))
	}
}

func TestTransitionGuards(t *testing.T) {
	ctx := context.Background()
	f := newFakeRepo()
	s := newTestSvc(f, &fakeEnqueuer{})

	r, err := s.Submit(ctx, domain.Submission{URL: "https://example.com/org/repo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := s.Transition(ctx, r.ID, domain.StatePending, domain.StateCommitsProcessing); err != nil {
		t.Fatalf("legal transition: %v", err)
	}

	// illegal edge is rejected before touching storage
	err = s.Transition(ctx, r.ID, domain.StatePending, domain.StateCompleted)
	if !perr.IsCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("illegal edge code = %v, want conflict", perr.CodeOf(err))
	}

	// stale expectation is a conflict
	err = s.Transition(ctx, r.ID, domain.StatePending, domain.StateCommitsProcessing)
	if !perr.IsCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("stale expected code = %v, want conflict", perr.CodeOf(err))
	}
}

func TestLeaderboardRanks(t *testing.T) {
	ctx := context.Background()
	f := newFakeRepo()
	s := newTestSvc(f, &fakeEnqueuer{})

	r, err := s.Submit(ctx, domain.Submission{URL: "https://example.com/org/repo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rows, err := s.Leaderboard(ctx, r.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Rank != 1 || rows[1].Rank != 2 {
		t.Fatalf("ranks = %d, %d", rows[0].Rank, rows[1].Rank)
	}
	if !rows[0].Resolved || rows[1].Resolved {
		t.Fatalf("resolution flags wrong: %+v", rows)
	}
}
