// Package service implements the shared rate limit coordinator
package service

import (
	"context"
	"time"

	"gitrank/internal/modkit"
	"gitrank/internal/modkit/repokit"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
	"gitrank/internal/services/ratelimit/domain"
	rlrepo "gitrank/internal/services/ratelimit/repo"
)

// Config controls the coordinator
type Config struct {
	// SafetyThreshold is the remaining-call floor below which callers wait
	SafetyThreshold int

	// ResetBuffer pads the wait past the advertised reset instant
	ResetBuffer time.Duration
}

// Svc implements domain.CoordinatorPort over shared postgres state
type Svc struct {
	db     repokit.TxRunner
	binder repokit.Binder[rlrepo.Repo]
	cfg    Config
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	deps   modkit.Deps
}

// New constructs the coordinator
func New(deps modkit.Deps, cfg Config) *Svc {
	if cfg.SafetyThreshold <= 0 {
		cfg.SafetyThreshold = 10
	}
	if cfg.ResetBuffer <= 0 {
		cfg.ResetBuffer = 5 * time.Second
	}
	return &Svc{
		db:     deps.PG,
		binder: rlrepo.NewPG(),
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepCtx,
		deps:   deps,
	}
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire blocks while the credential's budget sits at or below the safety
// threshold and the advertised reset lies in the future. Unknown credentials
// proceed immediately; the first observed response seeds their state
func (s *Svc) Acquire(ctx context.Context, credKey string) error {
	for {
		st, known, err := s.snapshot(ctx, credKey)
		if err != nil {
			return err
		}
		if !known || st.Remaining > s.cfg.SafetyThreshold {
			return nil
		}

		wait := st.ResetAt.Sub(s.now()) + s.cfg.ResetBuffer
		if wait <= 0 {
			// window already rolled over, the next observation refreshes state
			return nil
		}

		logger.C(ctx).Info().
			Str("cred_key", credKey).
			Int("remaining", st.Remaining).
			Time("reset_at", st.ResetAt).
			Dur("wait", wait).
			Msg("ratelimit: budget exhausted, waiting for reset")

		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Observe folds response metadata into shared state. Zero metadata is
// dropped so responses without rate headers never clobber real state
func (s *Svc) Observe(ctx context.Context, credKey string, m domain.Meta) error {
	if m.Zero() {
		return nil
	}
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).Observe(ctx, credKey, m)
	})
	return perr.WrapIf(err, perr.ErrorCodeDB, "ratelimit: observe")
}

func (s *Svc) snapshot(ctx context.Context, credKey string) (domain.State, bool, error) {
	var st domain.State
	var known bool
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		st, known, err = s.binder.Bind(q).Snapshot(ctx, credKey)
		return err
	})
	if err != nil {
		return domain.State{}, false, perr.Wrap(err, perr.ErrorCodeDB, "ratelimit: snapshot")
	}
	return st, known, nil
}
