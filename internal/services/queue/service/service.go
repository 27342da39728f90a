// Package service implements the deduplicating job queue
package service

import (
	"context"
	"encoding/json"
	"time"

	"gitrank/internal/modkit"
	"gitrank/internal/modkit/repokit"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
	"gitrank/internal/services/queue/domain"
	qrepo "gitrank/internal/services/queue/repo"
)

// Service implements the queue ports
type Service interface {
	domain.EnqueuerPort
	domain.ConsumerPort
	domain.InspectorPort
}

// Svc implements the deduplicating job queue over postgres
type Svc struct {
	db     repokit.TxRunner
	binder repokit.Binder[qrepo.Repo]
	newID  func() string
	deps   modkit.Deps
}

// New constructs the queue service
func New(deps modkit.Deps) *Svc {
	return &Svc{
		db:     deps.PG,
		binder: qrepo.NewPG(),
		newID:  qrepo.NewID,
		deps:   deps,
	}
}

// Enqueue submits a job, deduplicating on key. When a waiting or active job
// already holds the key, that job is returned unchanged and nothing new is
// created. Jobs in terminal states never block a fresh submission
func (s *Svc) Enqueue(
	ctx context.Context,
	kind domain.Kind,
	key string,
	repoID int64,
	payload any,
	opts domain.Options,
) (domain.Job, error) {
	opts = opts.Normalize()

	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Job{}, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "queue: encode payload")
	}

	j := domain.Job{
		ID:               s.newID(),
		Kind:             kind,
		Key:              key,
		RepoID:           repoID,
		Payload:          raw,
		Status:           domain.StatusWaiting,
		MaxAttempts:      opts.MaxAttempts,
		BackoffBase:      opts.BackoffBase,
		RemoveOnComplete: !opts.KeepOnDone,
		RemoveOnFail:     opts.DropOnFail,
	}

	var out domain.Job
	err = s.db.Tx(ctx, func(q repokit.Queryer) error {
		r := s.binder.Bind(q)

		// Two passes cover the race where the key holder reaches a terminal
		// state between the skipped insert and the lookup
		for attempt := 0; attempt < 2; attempt++ {
			created, err := r.Insert(ctx, j)
			if err != nil {
				return err
			}
			if created {
				now := time.Now().UTC()
				out = j
				out.NextAttemptAt = now
				out.CreatedAt = now
				out.UpdatedAt = now
				logger.C(ctx).Debug().
					Str("kind", string(kind)).
					Str("key", key).
					Str("job_id", j.ID).
					Msg("queue: job enqueued")
				return nil
			}
			existing, found, err := r.FindActiveByKey(ctx, key)
			if err != nil {
				return err
			}
			if found {
				out = existing
				logger.C(ctx).Debug().
					Str("kind", string(kind)).
					Str("key", key).
					Str("job_id", existing.ID).
					Msg("queue: job deduplicated")
				return nil
			}
		}
		return perr.Conflictf("queue: key %q contended", key)
	})
	if err != nil {
		if perr.IsRetryable(err) || perr.IsCode(err, perr.ErrorCodeDB) {
			return domain.Job{}, perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: enqueue unavailable")
		}
		return domain.Job{}, err
	}
	return out, nil
}

// Lease claims up to n due jobs of kind for leaseFor
func (s *Svc) Lease(ctx context.Context, kind domain.Kind, n int, leaseFor time.Duration) ([]domain.Job, error) {
	var out []domain.Job
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		out, err = s.binder.Bind(q).Lease(ctx, kind, n, leaseFor)
		return err
	})
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: lease")
	}
	return out, nil
}

// Ack finishes a leased job successfully
func (s *Svc) Ack(ctx context.Context, j domain.Job) error {
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).Complete(ctx, j.ID, j.RemoveOnComplete)
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: ack")
	}
	return nil
}

// Retry returns a leased job to waiting with exponential backoff, or fails
// it terminally when attempts are exhausted. terminal reports which path ran
func (s *Svc) Retry(ctx context.Context, j domain.Job, cause error) (terminal bool, err error) {
	if j.Attempts >= j.MaxAttempts {
		return true, s.Fail(ctx, j, cause)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	delay := domain.Backoff(j.BackoffBase, j.Attempts)
	err = s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).Reschedule(ctx, j.ID, delay, msg)
	})
	if err != nil {
		return false, perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: retry")
	}
	logger.C(ctx).Info().
		Str("job_id", j.ID).
		Int("attempt", j.Attempts).
		Dur("delay", delay).
		Str("cause", msg).
		Msg("queue: job rescheduled")
	return false, nil
}

// Fail finishes a leased job as a terminal failure
func (s *Svc) Fail(ctx context.Context, j domain.Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).FailTerminal(ctx, j.ID, j.RemoveOnFail, msg)
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: fail")
	}
	logger.C(ctx).Warn().
		Str("job_id", j.ID).
		Int("attempts", j.Attempts).
		Str("cause", msg).
		Msg("queue: job failed terminally")
	return nil
}

// ReapExpired returns jobs whose lease lapsed to waiting so another
// consumer can claim them
func (s *Svc) ReapExpired(ctx context.Context, kind domain.Kind) (int, error) {
	var n int
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		n, err = s.binder.Bind(q).ReapExpired(ctx, kind)
		return err
	})
	if err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: reap")
	}
	if n > 0 {
		logger.C(ctx).Info().Int("reaped", n).Str("kind", string(kind)).Msg("queue: expired leases reclaimed")
	}
	return n, nil
}

// OutstandingForRepo counts non-terminal jobs of kind for a repository
func (s *Svc) OutstandingForRepo(ctx context.Context, kind domain.Kind, repoID int64) (int, error) {
	var n int
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		n, err = s.binder.Bind(q).CountOutstanding(ctx, kind, repoID)
		return err
	})
	if err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: outstanding")
	}
	return n, nil
}
