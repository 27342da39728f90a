// Package service implements the identity resolution worker
package service

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	catalogdom "gitrank/internal/services/catalog/domain"
	icdom "gitrank/internal/services/idcache/domain"
	queuedom "gitrank/internal/services/queue/domain"
	rldom "gitrank/internal/services/ratelimit/domain"
	"gitrank/internal/services/resolve/domain"
	rrepo "gitrank/internal/services/resolve/repo"

	"gitrank/internal/modkit"
	"gitrank/internal/modkit/repokit"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
)

// Config controls the resolution worker
type Config struct {
	Concurrency   int
	TakeBatch     int
	LeaseFor      time.Duration
	TickEvery     time.Duration
	LookupRetries int // transient retries per identifier
}

// outcome is one identifier's resolution result
type outcome struct {
	email    string
	identity domain.Identity
	resolved bool
}

// Svc implements the resolution worker
type Svc struct {
	db      repokit.TxRunner
	binder  repokit.Binder[rrepo.Repo]
	queue   queuedom.ConsumerPort
	inspect queuedom.InspectorPort
	repos   catalogdom.LifecyclePort
	cache   icdom.CachePort
	limiter rldom.CoordinatorPort
	lookup  domain.LookupPort
	cfg     Config
	deps    modkit.Deps
}

// New constructs the resolution worker service
func New(
	deps modkit.Deps,
	cfg Config,
	queue queuedom.ConsumerPort,
	inspect queuedom.InspectorPort,
	repos catalogdom.LifecyclePort,
	cache icdom.CachePort,
	limiter rldom.CoordinatorPort,
	lookup domain.LookupPort,
) *Svc {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.TakeBatch <= 0 {
		cfg.TakeBatch = 4
	}
	if cfg.LeaseFor <= 0 {
		cfg.LeaseFor = 10 * time.Minute
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = time.Second
	}
	if cfg.LookupRetries <= 0 {
		cfg.LookupRetries = 2
	}
	return &Svc{
		db:      deps.PG,
		binder:  rrepo.NewPG(),
		queue:   queue,
		inspect: inspect,
		repos:   repos,
		cache:   cache,
		limiter: limiter,
		lookup:  lookup,
		cfg:     cfg,
		deps:    deps,
	}
}

// Run leases identity batch jobs until ctx is done
func (s *Svc) Run(ctx context.Context) error {
	log := logger.Named("resolve-worker")
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
			if _, err := s.queue.ReapExpired(ctx, queuedom.KindResolveBatch); err != nil {
				log.Error().Err(err).Msg("reap expired leases failed")
			}
			jobs, err := s.queue.Lease(ctx, queuedom.KindResolveBatch, s.cfg.TakeBatch, s.cfg.LeaseFor)
			if err != nil {
				log.Error().Err(err).Msg("lease resolve jobs failed")
				continue
			}
			for i := range jobs {
				j := jobs[i]
				g.Go(func() error {
					if err := s.handleJob(gctx, j); err != nil {
						log.Warn().Err(err).Str("job_id", j.ID).Msg("resolve job failed")
					}
					return nil
				})
			}
		}
	}
}

// handleJob resolves one author batch end to end
func (s *Svc) handleJob(ctx context.Context, j queuedom.Job) error {
	var p domain.BatchPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		err = perr.Wrap(err, perr.ErrorCodeInvalidArgument, "resolve: bad payload")
		_ = s.queue.Fail(ctx, j, err)
		return err
	}
	ctx = logger.WithJob(ctx, j.ID, p.RepoURL)

	outcomes, err := s.resolveBatch(ctx, p)
	if err != nil {
		terminal, rerr := s.queue.Retry(ctx, j, err)
		if rerr != nil {
			logger.C(ctx).Error().Err(rerr).Msg("resolve: retry settle failed")
		}
		if terminal {
			// the batch's aggregates stay unresolved; the run can still end
			// as completed_partial once the sibling batches drain
			s.finalize(ctx, p.RepoID)
		}
		return err
	}

	if err := s.persist(ctx, p.RepoID, outcomes); err != nil {
		terminal, rerr := s.queue.Retry(ctx, j, err)
		if rerr != nil {
			logger.C(ctx).Error().Err(rerr).Msg("resolve: retry settle failed")
		}
		if terminal {
			s.finalize(ctx, p.RepoID)
		}
		return err
	}

	if err := s.queue.Ack(ctx, j); err != nil {
		return err
	}
	s.finalize(ctx, p.RepoID)
	return nil
}

// resolveBatch walks the author set in its fixed order, consulting the
// cache first and the upstream API only on a miss
func (s *Svc) resolveBatch(ctx context.Context, p domain.BatchPayload) ([]outcome, error) {
	credKey := rldom.CredKey(p.Credential)
	out := make([]outcome, 0, len(p.Authors))

	for _, email := range p.Authors {
		if e, ok, err := s.cache.Get(ctx, email); err != nil {
			return nil, err
		} else if ok {
			out = append(out, outcome{
				email:    email,
				identity: domain.Identity{Login: e.Login, ProfileURL: e.ProfileURL},
				resolved: e.Found,
			})
			continue
		}

		o, err := s.resolveOne(ctx, credKey, email, p.Credential)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// resolveOne performs a rate-gated lookup with bounded transient retries.
// Spent retries leave the identifier unresolved without failing the batch
func (s *Svc) resolveOne(ctx context.Context, credKey, email, credential string) (outcome, error) {
	for attempt := 0; attempt <= s.cfg.LookupRetries; attempt++ {
		if err := s.limiter.Acquire(ctx, credKey); err != nil {
			return outcome{}, err
		}

		id, meta, err := s.lookup.Lookup(ctx, email, credential)

		// every response's budget metadata flows into shared state,
		// including error responses
		if !meta.Zero() {
			if oerr := s.limiter.Observe(ctx, credKey, rldom.Meta{
				Remaining: meta.Remaining,
				Limit:     meta.Limit,
				ResetAt:   time.Unix(meta.ResetAt, 0).UTC(),
			}); oerr != nil {
				logger.C(ctx).Warn().Err(oerr).Msg("resolve: observe rate meta failed")
			}
		}

		switch {
		case err == nil:
			if cerr := s.cache.Put(ctx, icdom.Entry{
				Email: email, Login: id.Login, ProfileURL: id.ProfileURL, Found: true,
			}); cerr != nil {
				logger.C(ctx).Warn().Err(cerr).Str("email", email).Msg("resolve: cache put failed")
			}
			return outcome{email: email, identity: id, resolved: true}, nil

		case perr.IsCode(err, perr.ErrorCodeNotFound):
			if cerr := s.cache.Put(ctx, icdom.Entry{Email: email, Found: false}); cerr != nil {
				logger.C(ctx).Warn().Err(cerr).Str("email", email).Msg("resolve: cache put failed")
			}
			return outcome{email: email}, nil

		case perr.Retryable(err):
			logger.C(ctx).Debug().Err(err).Str("email", email).Int("attempt", attempt+1).
				Msg("resolve: transient lookup failure")
			continue

		default:
			return outcome{}, err
		}
	}

	// transient budget spent; not cached so a later run can try again
	logger.C(ctx).Info().Str("email", email).Msg("resolve: identifier left unresolved")
	return outcome{email: email}, nil
}

// persist writes the batch's outcomes in one transaction: contributor rows,
// repository joins carrying the aggregate counts, and resolution marks
func (s *Svc) persist(ctx context.Context, repoID int64, outcomes []outcome) error {
	resolved := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.resolved {
			resolved = append(resolved, o.email)
		}
	}

	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		r := s.binder.Bind(q)

		counts, err := r.AggregateCounts(ctx, repoID, resolved)
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			if !o.resolved {
				continue
			}
			if err := r.UpsertContributor(ctx, o.email, o.identity); err != nil {
				return err
			}
			if err := r.UpsertRepoContributor(ctx, repoID, o.email, counts[o.email]); err != nil {
				return err
			}
		}
		return r.MarkResolved(ctx, repoID, resolved)
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "resolve: persist batch")
	}

	logger.C(ctx).Info().
		Int64("repo_id", repoID).
		Int("batch", len(outcomes)).
		Int("resolved", len(resolved)).
		Msg("resolve: batch persisted")
	return nil
}

// finalize closes the run when this was the last outstanding batch. The
// losing side of a concurrent finalize sees a transition conflict, which
// is benign
func (s *Svc) finalize(ctx context.Context, repoID int64) {
	outstanding, err := s.inspect.OutstandingForRepo(ctx, queuedom.KindResolveBatch, repoID)
	if err != nil {
		logger.C(ctx).Error().Err(err).Msg("resolve: outstanding check failed")
		return
	}
	if outstanding > 0 {
		return
	}

	var unresolved int64
	err = s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		unresolved, err = s.binder.Bind(q).UnresolvedCount(ctx, repoID)
		return err
	})
	if err != nil {
		logger.C(ctx).Error().Err(err).Msg("resolve: unresolved count failed")
		return
	}

	next := catalogdom.StateCompleted
	if unresolved > 0 {
		next = catalogdom.StateCompletedPartial
	}
	err = s.repos.Transition(ctx, repoID, catalogdom.StateUsersProcessing, next)
	if err != nil {
		if !perr.IsCode(err, perr.ErrorCodeConflict) {
			logger.C(ctx).Error().Err(err).Msg("resolve: finalize transition failed")
		}
		return
	}
	if err := s.repos.MarkProcessed(ctx, repoID); err != nil {
		logger.C(ctx).Error().Err(err).Msg("resolve: mark processed failed")
	}

	logger.C(ctx).Info().
		Int64("repo_id", repoID).
		Int64("unresolved", unresolved).
		Str("state", string(next)).
		Msg("resolve: repository run finished")
}
