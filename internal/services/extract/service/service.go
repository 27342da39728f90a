// Package service implements the commit extraction worker
package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	catalogdom "gitrank/internal/services/catalog/domain"
	"gitrank/internal/services/extract/domain"
	xrepo "gitrank/internal/services/extract/repo"
	queuedom "gitrank/internal/services/queue/domain"
	resolvedom "gitrank/internal/services/resolve/domain"

	"gitrank/internal/modkit"
	"gitrank/internal/modkit/repokit"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
)

// Config controls the extraction worker
type Config struct {
	MaxRepoSizeBytes  int64
	MaxCommitCount    int64
	IdentityBatchSize int
	Concurrency       int
	TakeBatch         int
	LeaseFor          time.Duration
	TickEvery         time.Duration
}

// Svc implements the extraction worker
type Svc struct {
	db      repokit.TxRunner
	binder  repokit.Binder[xrepo.Repo]
	queue   queuedom.ConsumerPort
	enqueue queuedom.EnqueuerPort
	inspect queuedom.InspectorPort
	repos   catalogdom.LifecyclePort
	storage domain.StoragePort
	probe   domain.SizeProbePort
	cfg     Config
	deps    modkit.Deps
}

// New constructs the extraction worker service
func New(
	deps modkit.Deps,
	cfg Config,
	queue queuedom.ConsumerPort,
	enqueue queuedom.EnqueuerPort,
	inspect queuedom.InspectorPort,
	repos catalogdom.LifecyclePort,
	storage domain.StoragePort,
	probe domain.SizeProbePort,
) *Svc {
	if cfg.IdentityBatchSize <= 0 {
		cfg.IdentityBatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.TakeBatch <= 0 {
		cfg.TakeBatch = 4
	}
	if cfg.LeaseFor <= 0 {
		cfg.LeaseFor = 15 * time.Minute
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = time.Second
	}
	return &Svc{
		db:      deps.PG,
		binder:  xrepo.NewPG(),
		queue:   queue,
		enqueue: enqueue,
		inspect: inspect,
		repos:   repos,
		storage: storage,
		probe:   probe,
		cfg:     cfg,
		deps:    deps,
	}
}

// Run leases extraction jobs until ctx is done
func (s *Svc) Run(ctx context.Context) error {
	log := logger.Named("extract-worker")
	ticker := time.NewTicker(s.cfg.TickEvery)
	defer ticker.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.queue.ReapExpired(ctx, queuedom.KindExtract); err != nil {
				log.Error().Err(err).Msg("reap expired leases failed")
			}
			jobs, err := s.queue.Lease(ctx, queuedom.KindExtract, s.cfg.TakeBatch, s.cfg.LeaseFor)
			if err != nil {
				log.Error().Err(err).Msg("lease extraction jobs failed")
				continue
			}
			for i := range jobs {
				j := jobs[i]
				g.Go(func() error {
					if err := s.handleJob(gctx, j); err != nil {
						log.Warn().Err(err).Str("job_id", j.ID).Msg("extraction job failed")
					}
					return nil
				})
			}
		}
	}
}

// handleJob drives one extraction attempt end to end
func (s *Svc) handleJob(ctx context.Context, j queuedom.Job) error {
	var p domain.Payload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		err = perr.Wrap(err, perr.ErrorCodeInvalidArgument, "extract: bad payload")
		_ = s.queue.Fail(ctx, j, err)
		return err
	}
	ctx = logger.WithJob(ctx, j.ID, p.RepoURL)

	if ok, err := s.begin(ctx, p.RepoID); err != nil {
		return s.settle(ctx, j, p, err)
	} else if !ok {
		// repository moved on without us (completed by a concurrent run);
		// nothing to do for this job
		_ = s.queue.Ack(ctx, j)
		return nil
	}

	if err := s.extract(ctx, p); err != nil {
		return s.settle(ctx, j, p, err)
	}
	return s.queue.Ack(ctx, j)
}

// begin moves the repository into commits_processing. ok=false means the
// repository is not in a state this worker may claim
func (s *Svc) begin(ctx context.Context, repoID int64) (bool, error) {
	err := s.repos.Transition(ctx, repoID, catalogdom.StatePending, catalogdom.StateCommitsProcessing)
	if err == nil {
		return true, nil
	}
	if !perr.IsCode(err, perr.ErrorCodeConflict) {
		return false, err
	}
	// a retried job re-enters from failed
	err = s.repos.Transition(ctx, repoID, catalogdom.StateFailed, catalogdom.StateCommitsProcessing)
	if err == nil {
		return true, nil
	}
	if !perr.IsCode(err, perr.ErrorCodeConflict) {
		return false, err
	}
	// a reclaimed lease finds the row already claimed by the lost attempt
	r, gerr := s.repos.Get(ctx, repoID)
	if gerr != nil {
		return false, gerr
	}
	return r.State == catalogdom.StateCommitsProcessing, nil
}

// extract materializes the working copy, enforces admission, aggregates the
// commit log and hands the author set to the identity stage
func (s *Svc) extract(ctx context.Context, p domain.Payload) error {
	// advertised size check runs before any transfer so an oversized
	// repository costs nothing to reject; anonymous submissions skip it
	// and rely on the post-materialization check
	if p.Credential != "" && s.probe != nil && s.cfg.MaxRepoSizeBytes > 0 {
		if bytes, ok, err := s.probe.ReportedSize(ctx, p.RepoURL, p.Credential); err == nil && ok {
			if bytes > s.cfg.MaxRepoSizeBytes {
				return perr.TooLargef("extract: reported size %d exceeds limit %d", bytes, s.cfg.MaxRepoSizeBytes)
			}
		}
	}

	h, err := s.storage.Materialize(ctx, p.RepoURL, p.Credential)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeMaterialization, "extract: materialize")
	}

	size, err := s.storage.Size(ctx, h)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeMaterialization, "extract: size")
	}
	if s.cfg.MaxRepoSizeBytes > 0 && size > s.cfg.MaxRepoSizeBytes {
		_ = s.storage.Remove(ctx, h)
		return perr.TooLargef("extract: size %d exceeds limit %d", size, s.cfg.MaxRepoSizeBytes)
	}

	commits, err := s.storage.CommitCount(ctx, h)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeMaterialization, "extract: commit count")
	}
	if s.cfg.MaxCommitCount > 0 && commits > s.cfg.MaxCommitCount {
		_ = s.storage.Remove(ctx, h)
		return perr.TooManyCommitsf("extract: %d commits exceed limit %d", commits, s.cfg.MaxCommitCount)
	}

	if err := s.repos.SetStats(ctx, p.RepoID, size, commits); err != nil {
		return err
	}

	counts, err := s.aggregate(ctx, h)
	if err != nil {
		return err
	}

	err = s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).ReplaceAggregates(ctx, p.RepoID, counts)
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "extract: replace aggregates")
	}

	if err := s.fanOut(ctx, p, counts); err != nil {
		return err
	}

	if err := s.storage.Release(ctx, h); err != nil {
		logger.C(ctx).Warn().Err(err).Msg("extract: release working copy failed")
	}

	logger.C(ctx).Info().
		Int64("repo_id", p.RepoID).
		Int64("size_bytes", size).
		Int64("commits", commits).
		Int("authors", len(counts)).
		Msg("extract: repository aggregated")
	return nil
}

// aggregate streams the commit log once, bucketing by case-folded author
// email, and returns the buckets sorted by email
func (s *Svc) aggregate(ctx context.Context, h domain.Handle) ([]domain.AuthorCount, error) {
	byAuthor := map[string]int64{}
	err := s.storage.CommitLog(ctx, h, func(c domain.Commit) error {
		email := catalogdom.NormalizeEmail(c.AuthorEmail)
		if email == "" {
			return nil
		}
		byAuthor[email]++
		return nil
	})
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeMaterialization, "extract: commit log")
	}

	counts := make([]domain.AuthorCount, 0, len(byAuthor))
	for email, n := range byAuthor {
		counts = append(counts, domain.AuthorCount{AuthorEmail: email, Commits: n})
	}
	sort.Slice(counts, func(i, k int) bool { return counts[i].AuthorEmail < counts[k].AuthorEmail })
	return counts, nil
}

// fanOut enqueues one identity batch per IdentityBatchSize slice of the
// sorted author set, then advances the lifecycle. The transition happens
// only after every batch is enqueued so a crash mid fan-out retries the
// whole extraction rather than stranding the repository
func (s *Svc) fanOut(ctx context.Context, p domain.Payload, counts []domain.AuthorCount) error {
	authors := make([]string, len(counts))
	for i, c := range counts {
		authors[i] = c.AuthorEmail
	}

	for start := 0; start < len(authors); start += s.cfg.IdentityBatchSize {
		end := min(start+s.cfg.IdentityBatchSize, len(authors))
		batch := authors[start:end]

		payload := resolvedom.BatchPayload{
			RepoID:     p.RepoID,
			RepoURL:    p.RepoURL,
			Authors:    batch,
			Credential: p.Credential,
		}
		_, err := s.enqueue.Enqueue(ctx,
			queuedom.KindResolveBatch, queuedom.BatchKey(p.RepoID, batch), p.RepoID, payload, queuedom.Options{})
		if err != nil {
			return err
		}
	}

	if err := s.repos.Transition(ctx,
		p.RepoID, catalogdom.StateCommitsProcessing, catalogdom.StateUsersProcessing); err != nil {
		return err
	}

	if len(authors) == 0 {
		// nothing to resolve; the run is already complete
		return s.finishRun(ctx, p.RepoID)
	}

	// a fast resolve worker can settle every batch while the repository is
	// still in commits_processing; its finalize loses the transition race,
	// so pick the run up here once no batch remains outstanding
	outstanding, err := s.inspect.OutstandingForRepo(ctx, queuedom.KindResolveBatch, p.RepoID)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "extract: outstanding check")
	}
	if outstanding == 0 {
		return s.finishRun(ctx, p.RepoID)
	}
	return nil
}

// finishRun moves a users_processing repository to its terminal success
// state based on how many aggregates remain unresolved. A transition
// conflict means a resolve finalize got there first
func (s *Svc) finishRun(ctx context.Context, repoID int64) error {
	var unresolved int64
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		unresolved, err = s.binder.Bind(q).UnresolvedCount(ctx, repoID)
		return err
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "extract: unresolved count")
	}

	next := catalogdom.StateCompleted
	if unresolved > 0 {
		next = catalogdom.StateCompletedPartial
	}
	if err := s.repos.Transition(ctx, repoID, catalogdom.StateUsersProcessing, next); err != nil {
		if perr.IsCode(err, perr.ErrorCodeConflict) {
			return nil
		}
		return err
	}
	return s.repos.MarkProcessed(ctx, repoID)
}

// settle routes a failed attempt: admission rejections are terminal and
// recorded on the repository; anything else retries with backoff until the
// attempt budget is spent
func (s *Svc) settle(ctx context.Context, j queuedom.Job, p domain.Payload, cause error) error {
	if perr.Admission(cause) {
		if err := s.repos.MarkFailed(ctx, p.RepoID, cause.Error()); err != nil {
			logger.C(ctx).Error().Err(err).Msg("extract: mark failed")
		}
		_ = s.queue.Fail(ctx, j, cause)
		return cause
	}

	terminal, err := s.queue.Retry(ctx, j, cause)
	if err != nil {
		logger.C(ctx).Error().Err(err).Msg("extract: retry settle failed")
	}
	if terminal {
		if err := s.repos.MarkFailed(ctx, p.RepoID, cause.Error()); err != nil {
			logger.C(ctx).Error().Err(err).Msg("extract: mark failed")
		}
	}
	return cause
}
