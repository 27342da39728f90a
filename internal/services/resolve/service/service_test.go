package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gitrank/internal/modkit"
	"gitrank/internal/modkit/repokit"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/store"
	catalogdom "gitrank/internal/services/catalog/domain"
	icdom "gitrank/internal/services/idcache/domain"
	queuedom "gitrank/internal/services/queue/domain"
	rldom "gitrank/internal/services/ratelimit/domain"
	"gitrank/internal/services/resolve/domain"
	rrepo "gitrank/internal/services/resolve/repo"
)

type fakeTx struct{}

func (fakeTx) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (fakeTx) Query(context.Context, string, ...any) (store.Rows, error)      { return nil, nil }
func (fakeTx) QueryRow(context.Context, string, ...any) store.Row             { return nil }
func (fakeTx) Tx(ctx context.Context, fn func(q store.RowQuerier) error) error {
	return fn(fakeTx{})
}

type fakeRepo struct {
	counts       map[string]int64
	contributors map[string]domain.Identity
	joins        map[string]int64
	resolvedSet  map[string]bool
	unresolved   int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		counts:       map[string]int64{},
		contributors: map[string]domain.Identity{},
		joins:        map[string]int64{},
		resolvedSet:  map[string]bool{},
	}
}

func (f *fakeRepo) AggregateCounts(_ context.Context, _ int64, authors []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, a := range authors {
		out[a] = f.counts[a]
	}
	return out, nil
}

func (f *fakeRepo) UpsertContributor(_ context.Context, email string, id domain.Identity) error {
	f.contributors[email] = id
	return nil
}

func (f *fakeRepo) UpsertRepoContributor(_ context.Context, _ int64, email string, commits int64) error {
	f.joins[email] = commits
	return nil
}

func (f *fakeRepo) MarkResolved(_ context.Context, _ int64, authors []string) error {
	for _, a := range authors {
		f.resolvedSet[a] = true
	}
	return nil
}

func (f *fakeRepo) UnresolvedCount(context.Context, int64) (int64, error) {
	return f.unresolved, nil
}

type fakeQueue struct {
	acked       []string
	failed      []string
	retried     []string
	outstanding int
}

func (f *fakeQueue) Lease(context.Context, queuedom.Kind, int, time.Duration) ([]queuedom.Job, error) {
	return nil, nil
}
func (f *fakeQueue) Ack(_ context.Context, j queuedom.Job) error {
	f.acked = append(f.acked, j.ID)
	return nil
}
func (f *fakeQueue) Retry(_ context.Context, j queuedom.Job, _ error) (bool, error) {
	f.retried = append(f.retried, j.ID)
	return j.Attempts >= j.MaxAttempts, nil
}
func (f *fakeQueue) Fail(_ context.Context, j queuedom.Job, _ error) error {
	f.failed = append(f.failed, j.ID)
	return nil
}
func (f *fakeQueue) ReapExpired(context.Context, queuedom.Kind) (int, error) { return 0, nil }
func (f *fakeQueue) OutstandingForRepo(context.Context, queuedom.Kind, int64) (int, error) {
	return f.outstanding, nil
}

type fakeLifecycle struct {
	state     catalogdom.State
	processed bool
}

func (f *fakeLifecycle) Get(context.Context, int64) (catalogdom.Repository, error) {
	return catalogdom.Repository{State: f.state}, nil
}
func (f *fakeLifecycle) Transition(_ context.Context, _ int64, expected, next catalogdom.State) error {
	if f.state != expected {
		return perr.Conflictf("not in %s", expected)
	}
	f.state = next
	return nil
}
func (f *fakeLifecycle) MarkFailed(_ context.Context, _ int64, _ string) error {
	f.state = catalogdom.StateFailed
	return nil
}
func (f *fakeLifecycle) SetStats(context.Context, int64, int64, int64) error { return nil }
func (f *fakeLifecycle) MarkProcessed(context.Context, int64) error {
	f.processed = true
	return nil
}

type fakeCache struct {
	entries map[string]icdom.Entry
	puts    []icdom.Entry
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string]icdom.Entry{}} }

func (f *fakeCache) Get(_ context.Context, email string) (icdom.Entry, bool, error) {
	e, ok := f.entries[email]
	return e, ok, nil
}
func (f *fakeCache) Put(_ context.Context, e icdom.Entry) error {
	f.puts = append(f.puts, e)
	f.entries[e.Email] = e
	return nil
}

type fakeLimiter struct {
	acquires int
	observed []rldom.Meta
}

func (f *fakeLimiter) Acquire(context.Context, string) error { f.acquires++; return nil }
func (f *fakeLimiter) Observe(_ context.Context, _ string, m rldom.Meta) error {
	f.observed = append(f.observed, m)
	return nil
}

// fakeLookup scripts per-email responses; repeated transient errors pop in order
type fakeLookup struct {
	identities map[string]domain.Identity
	errs       map[string][]error
	calls      []string
	meta       domain.RateMeta
}

func (f *fakeLookup) Lookup(_ context.Context, email, _ string) (domain.Identity, domain.RateMeta, error) {
	f.calls = append(f.calls, email)
	if errs := f.errs[email]; len(errs) > 0 {
		err := errs[0]
		f.errs[email] = errs[1:]
		return domain.Identity{}, f.meta, err
	}
	if id, ok := f.identities[email]; ok {
		return id, f.meta, nil
	}
	return domain.Identity{}, f.meta, perr.NotFoundf("no account for %s", email)
}

type fixture struct {
	svc    *Svc
	repo   *fakeRepo
	queue  *fakeQueue
	life   *fakeLifecycle
	cache  *fakeCache
	limit  *fakeLimiter
	lookup *fakeLookup
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newFakeRepo(),
		queue:  &fakeQueue{},
		life:   &fakeLifecycle{state: catalogdom.StateUsersProcessing},
		cache:  newFakeCache(),
		limit:  &fakeLimiter{},
		lookup: &fakeLookup{identities: map[string]domain.Identity{}, errs: map[string][]error{}},
	}
	f.svc = New(modkit.Deps{PG: fakeTx{}}, Config{LookupRetries: 2},
		f.queue, f.queue, f.life, f.cache, f.limit, f.lookup)
	f.svc.binder = repokit.BindFunc[rrepo.Repo](func(repokit.Queryer) rrepo.Repo { return f.repo })
	return f
}

func batchJob(t *testing.T, authors []string) queuedom.Job {
	t.Helper()
	raw, err := json.Marshal(domain.BatchPayload{
		RepoID: 1, RepoURL: "https://example.com/org/repo", Authors: authors,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return queuedom.Job{ID: "b1", Kind: queuedom.KindResolveBatch, RepoID: 1, Payload: raw,
		Attempts: 1, MaxAttempts: 3}
}

func TestBatchResolvesAndCompletes(t *testing.T) {
	fx := newFixture()
	fx.repo.counts = map[string]int64{"alice@x.io": 10, "bob@x.io": 5}
	fx.lookup.identities["alice@x.io"] = domain.Identity{Login: "alice", ProfileURL: "https://x/alice"}
	fx.lookup.identities["bob@x.io"] = domain.Identity{Login: "bob", ProfileURL: "https://x/bob"}

	if err := fx.svc.handleJob(context.Background(), batchJob(t, []string{"alice@x.io", "bob@x.io"})); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if fx.repo.joins["alice@x.io"] != 10 || fx.repo.joins["bob@x.io"] != 5 {
		t.Fatalf("join counts = %v", fx.repo.joins)
	}
	if !fx.repo.resolvedSet["alice@x.io"] || !fx.repo.resolvedSet["bob@x.io"] {
		t.Fatalf("resolution marks = %v", fx.repo.resolvedSet)
	}
	if len(fx.queue.acked) != 1 {
		t.Fatalf("acks = %v", fx.queue.acked)
	}
	if fx.life.state != catalogdom.StateCompleted {
		t.Fatalf("state = %s, want completed", fx.life.state)
	}
	if !fx.life.processed {
		t.Fatal("last_processed_at not stamped")
	}
}

func TestCacheHitSkipsLookup(t *testing.T) {
	fx := newFixture()
	fx.repo.counts = map[string]int64{"alice@x.io": 10}
	fx.cache.entries["alice@x.io"] = icdom.Entry{
		Email: "alice@x.io", Login: "alice", Found: true, CachedAt: time.Now(),
	}

	if err := fx.svc.handleJob(context.Background(), batchJob(t, []string{"alice@x.io"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fx.lookup.calls) != 0 {
		t.Fatalf("cache hit still called the API: %v", fx.lookup.calls)
	}
	if fx.limit.acquires != 0 {
		t.Fatalf("cache hit still acquired budget %d times", fx.limit.acquires)
	}
	if fx.repo.joins["alice@x.io"] != 10 {
		t.Fatalf("joins = %v", fx.repo.joins)
	}
}

func TestNegativeCacheHitSkipsLookup(t *testing.T) {
	fx := newFixture()
	fx.cache.entries["ghost@x.io"] = icdom.Entry{Email: "ghost@x.io", Found: false, CachedAt: time.Now()}
	fx.repo.unresolved = 1

	if err := fx.svc.handleJob(context.Background(), batchJob(t, []string{"ghost@x.io"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fx.lookup.calls) != 0 {
		t.Fatalf("negative hit still called the API: %v", fx.lookup.calls)
	}
	if fx.life.state != catalogdom.StateCompletedPartial {
		t.Fatalf("state = %s, want completed_partial", fx.life.state)
	}
}

func TestNotFoundCachesNegativeAndContinues(t *testing.T) {
	fx := newFixture()
	fx.repo.counts = map[string]int64{"alice@x.io": 10}
	fx.lookup.identities["alice@x.io"] = domain.Identity{Login: "alice"}
	fx.repo.unresolved = 1

	if err := fx.svc.handleJob(context.Background(), batchJob(t, []string{"ghost@x.io", "alice@x.io"})); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// the miss after ghost kept going and resolved alice
	if _, ok := fx.repo.contributors["alice@x.io"]; !ok {
		t.Fatalf("batch stopped at not-found: %v", fx.repo.contributors)
	}
	var ghostCached bool
	for _, p := range fx.cache.puts {
		if p.Email == "ghost@x.io" && !p.Found {
			ghostCached = true
		}
	}
	if !ghostCached {
		t.Fatalf("not-found outcome not cached: %+v", fx.cache.puts)
	}
	if fx.life.state != catalogdom.StateCompletedPartial {
		t.Fatalf("state = %s, want completed_partial", fx.life.state)
	}
}

func TestTransientErrorsRetryThenLeaveUnresolved(t *testing.T) {
	fx := newFixture()
	fx.lookup.errs["flaky@x.io"] = []error{
		perr.Unavailablef("upstream 502"),
		perr.Unavailablef("upstream 502"),
		perr.Unavailablef("upstream 502"),
	}
	fx.repo.unresolved = 1

	if err := fx.svc.handleJob(context.Background(), batchJob(t, []string{"flaky@x.io"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fx.lookup.calls) != 3 {
		t.Fatalf("calls = %d, want 3 (1 + 2 retries)", len(fx.lookup.calls))
	}
	// exhausted transients are not cached so a later run can retry
	if _, ok := fx.cache.entries["flaky@x.io"]; ok {
		t.Fatal("transient failure was cached")
	}
	if len(fx.queue.acked) != 1 {
		t.Fatal("batch with unresolved members must still ack")
	}
}

func TestRateMetaObservedOnErrors(t *testing.T) {
	fx := newFixture()
	fx.lookup.meta = domain.RateMeta{Remaining: 3, Limit: 60, ResetAt: 1750000000}
	fx.lookup.errs["flaky@x.io"] = []error{perr.Unavailablef("upstream 502")}
	fx.lookup.identities["flaky@x.io"] = domain.Identity{Login: "flaky"}

	if err := fx.svc.handleJob(context.Background(), batchJob(t, []string{"flaky@x.io"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	// one observation for the error response, one for the success
	if len(fx.limit.observed) != 2 {
		t.Fatalf("observations = %d, want 2", len(fx.limit.observed))
	}
	if fx.limit.observed[0].Remaining != 3 {
		t.Fatalf("observed meta = %+v", fx.limit.observed[0])
	}
}

func TestFinalizeWaitsForSiblingBatches(t *testing.T) {
	fx := newFixture()
	fx.queue.outstanding = 2
	fx.lookup.identities["alice@x.io"] = domain.Identity{Login: "alice"}

	if err := fx.svc.handleJob(context.Background(), batchJob(t, []string{"alice@x.io"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if fx.life.state != catalogdom.StateUsersProcessing {
		t.Fatalf("state = %s, want users_processing while siblings remain", fx.life.state)
	}
}

func TestConcurrentFinalizeConflictIsBenign(t *testing.T) {
	fx := newFixture()
	fx.life.state = catalogdom.StateCompleted // sibling won the race
	fx.lookup.identities["alice@x.io"] = domain.Identity{Login: "alice"}

	if err := fx.svc.handleJob(context.Background(), batchJob(t, []string{"alice@x.io"})); err != nil {
		t.Fatalf("conflict surfaced as failure: %v", err)
	}
}
