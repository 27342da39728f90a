package module

import (
	"time"

	"gitrank/internal/platform/config"
)

// Options controls the extraction worker
type Options struct {
	MaxRepoSizeBytes  int64
	MaxCommitCount    int64
	IdentityBatchSize int
	Concurrency       int
	TakeBatch         int
	LeaseFor          time.Duration
	TickEvery         time.Duration

	GitRoot      string
	CloneTimeout time.Duration
}

// FromConfig reads with PIPELINE_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("PIPELINE_")
	return Options{
		MaxRepoSizeBytes:  c.MayInt64("MAX_REPO_SIZE_BYTES", 2<<30),
		MaxCommitCount:    c.MayInt64("MAX_COMMIT_COUNT", 200_000),
		IdentityBatchSize: c.MayInt("IDENTITY_BATCH_SIZE", 10),
		Concurrency:       c.MayInt("EXTRACT_CONCURRENCY", 2),
		TakeBatch:         c.MayInt("EXTRACT_TAKE_BATCH", 4),
		LeaseFor:          c.MayDuration("EXTRACT_LEASE_FOR", 15*time.Minute),
		TickEvery:         c.MayDuration("EXTRACT_TICK_EVERY", time.Second),
		GitRoot:           c.MayString("GIT_ROOT", ""),
		CloneTimeout:      c.MayDuration("CLONE_TIMEOUT", 30*time.Minute),
	}
}
