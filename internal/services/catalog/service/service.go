// Package service implements repository submission, lifecycle and leaderboard
package service

import (
	"context"

	"github.com/go-playground/validator/v10"

	"gitrank/internal/modkit"
	"gitrank/internal/modkit/repokit"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
	"gitrank/internal/services/catalog/domain"
	crepo "gitrank/internal/services/catalog/repo"
	queuedom "gitrank/internal/services/queue/domain"
)

// Service implements the catalog ports
type Service interface {
	domain.CatalogPort
	domain.LifecyclePort
}

// Svc implements the repository catalog
type Svc struct {
	db       repokit.TxRunner
	binder   repokit.Binder[crepo.Repo]
	enqueuer queuedom.EnqueuerPort
	validate *validator.Validate
	deps     modkit.Deps
}

// New constructs the catalog service
func New(deps modkit.Deps, enqueuer queuedom.EnqueuerPort) *Svc {
	return &Svc{
		db:       deps.PG,
		binder:   crepo.NewPG(),
		enqueuer: enqueuer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		deps:     deps,
	}
}

// Submit admits a repository URL into the pipeline. New URLs and URLs whose
// previous run ended (completed, completed_partial or failed) start a fresh
// run at pending and get an extraction job; a URL with a run in flight is
// returned unchanged and nothing is enqueued
func (s *Svc) Submit(ctx context.Context, sub domain.Submission) (domain.Repository, error) {
	sub.URL = domain.NormalizeURL(sub.URL)
	if err := s.validate.Struct(sub); err != nil {
		return domain.Repository{}, perr.Wrap(err, perr.ErrorCodeValidation, "catalog: invalid submission")
	}

	var out domain.Repository
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		out, err = s.binder.Bind(q).Upsert(ctx, sub.URL)
		return err
	})
	if err != nil {
		return domain.Repository{}, perr.Wrap(err, perr.ErrorCodeDB, "catalog: upsert submission")
	}

	if out.State != domain.StatePending {
		logger.C(ctx).Info().
			Int64("repo_id", out.ID).
			Str("state", string(out.State)).
			Msg("catalog: submission joined run in flight")
		return out, nil
	}

	payload := struct {
		RepoID     int64  `json:"repo_id"`
		RepoURL    string `json:"repo_url"`
		Credential string `json:"credential,omitempty"`
	}{RepoID: out.ID, RepoURL: out.URL, Credential: sub.Credential}

	_, err = s.enqueuer.Enqueue(ctx,
		queuedom.KindExtract, queuedom.ExtractKey(out.ID), out.ID, payload, queuedom.Options{})
	if err != nil {
		return domain.Repository{}, err
	}

	logger.C(ctx).Info().
		Int64("repo_id", out.ID).
		Str("url", out.URL).
		Msg("catalog: repository submitted")
	return out, nil
}

// Leaderboard returns the ranked contributors of a repository
func (s *Svc) Leaderboard(ctx context.Context, repoID int64) ([]domain.LeaderboardRow, error) {
	var rows []domain.LeaderboardRow
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		r := s.binder.Bind(q)
		if _, err := r.Get(ctx, repoID); err != nil {
			return err
		}
		var err error
		rows, err = r.Leaderboard(ctx, repoID)
		return err
	})
	if err != nil {
		return nil, perr.WrapIf(err, perr.ErrorCodeDB, "catalog: leaderboard")
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// Get returns the repository by id
func (s *Svc) Get(ctx context.Context, repoID int64) (domain.Repository, error) {
	var out domain.Repository
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		out, err = s.binder.Bind(q).Get(ctx, repoID)
		return err
	})
	return out, err
}

// Transition performs a guarded lifecycle move
func (s *Svc) Transition(ctx context.Context, repoID int64, expected, next domain.State) error {
	if !domain.CanTransition(expected, next) {
		return perr.Conflictf("catalog: illegal transition %s -> %s", expected, next)
	}
	var moved bool
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		moved, err = s.binder.Bind(q).Transition(ctx, repoID, expected, next)
		return err
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "catalog: transition")
	}
	if !moved {
		return perr.Conflictf("catalog: repo %d not in %s", repoID, expected)
	}
	logger.C(ctx).Debug().
		Int64("repo_id", repoID).
		Str("from", string(expected)).
		Str("to", string(next)).
		Msg("catalog: state transition")
	return nil
}

// MarkFailed forces the repository to failed and records why
func (s *Svc) MarkFailed(ctx context.Context, repoID int64, reason string) error {
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).MarkFailed(ctx, repoID, reason)
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "catalog: mark failed")
	}
	logger.C(ctx).Warn().
		Int64("repo_id", repoID).
		Str("reason", reason).
		Msg("catalog: repository failed")
	return nil
}

// SetStats records observed size and commit count
func (s *Svc) SetStats(ctx context.Context, repoID int64, sizeBytes, commitCount int64) error {
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).SetStats(ctx, repoID, sizeBytes, commitCount)
	})
	return perr.WrapIf(err, perr.ErrorCodeDB, "catalog: set stats")
}

// MarkProcessed stamps the end of a successful run
func (s *Svc) MarkProcessed(ctx context.Context, repoID int64) error {
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).MarkProcessed(ctx, repoID)
	})
	return perr.WrapIf(err, perr.ErrorCodeDB, "catalog: mark processed")
}
