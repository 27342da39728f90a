// Package service implements the two-tier identity cache
package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"gitrank/internal/modkit"
	"gitrank/internal/modkit/repokit"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
	"gitrank/internal/services/idcache/domain"
	icrepo "gitrank/internal/services/idcache/repo"
)

// Config controls the cache tiers
type Config struct {
	// Freshness is the window inside which cached outcomes are authoritative
	Freshness time.Duration

	// MemoryEntries bounds the in-process tier
	MemoryEntries int
}

// Svc implements domain.CachePort: an expirable in-process LRU in front of
// a durable postgres tier shared across workers
type Svc struct {
	db     repokit.TxRunner
	binder repokit.Binder[icrepo.Repo]
	mem    *expirable.LRU[string, domain.Entry]
	cfg    Config
	now    func() time.Time
	deps   modkit.Deps
}

// New constructs the cache
func New(deps modkit.Deps, cfg Config) *Svc {
	if cfg.Freshness <= 0 {
		cfg.Freshness = 30 * 24 * time.Hour
	}
	if cfg.MemoryEntries <= 0 {
		cfg.MemoryEntries = 4096
	}
	return &Svc{
		db:     deps.PG,
		binder: icrepo.NewPG(),
		mem:    expirable.NewLRU[string, domain.Entry](cfg.MemoryEntries, nil, cfg.Freshness),
		cfg:    cfg,
		now:    time.Now,
		deps:   deps,
	}
}

// Get returns a fresh cached outcome for the identifier. Stale durable rows
// are purged lazily on the way out
func (s *Svc) Get(ctx context.Context, email string) (domain.Entry, bool, error) {
	if e, ok := s.mem.Get(email); ok && e.Fresh(s.now(), s.cfg.Freshness) {
		return e, true, nil
	}

	var e domain.Entry
	var found bool
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		e, found, err = s.binder.Bind(q).Get(ctx, email)
		return err
	})
	if err != nil {
		return domain.Entry{}, false, perr.Wrap(err, perr.ErrorCodeDB, "idcache: get")
	}
	if !found {
		return domain.Entry{}, false, nil
	}
	if !e.Fresh(s.now(), s.cfg.Freshness) {
		err := s.db.Tx(ctx, func(q repokit.Queryer) error {
			return s.binder.Bind(q).Purge(ctx, email)
		})
		if err != nil {
			logger.C(ctx).Warn().Err(err).Str("email", email).Msg("idcache: purge stale entry failed")
		}
		return domain.Entry{}, false, nil
	}

	s.mem.Add(email, e)
	return e, true, nil
}

// Put records an outcome in both tiers
func (s *Svc) Put(ctx context.Context, e domain.Entry) error {
	if e.CachedAt.IsZero() {
		e.CachedAt = s.now()
	}
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).Put(ctx, e)
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "idcache: put")
	}
	s.mem.Add(e.Email, e)
	return nil
}
