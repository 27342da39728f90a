package module

import (
	"time"

	"gitrank/internal/platform/config"
)

// Options controls the resolution worker and its supporting services
type Options struct {
	Concurrency   int
	TakeBatch     int
	LeaseFor      time.Duration
	TickEvery     time.Duration
	LookupRetries int

	RateSafetyThreshold int
	RateResetBuffer     time.Duration

	IdentityFreshness time.Duration
	CacheEntries      int
}

// FromConfig reads with PIPELINE_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("PIPELINE_")
	return Options{
		Concurrency:         c.MayInt("RESOLVE_CONCURRENCY", 2),
		TakeBatch:           c.MayInt("RESOLVE_TAKE_BATCH", 4),
		LeaseFor:            c.MayDuration("RESOLVE_LEASE_FOR", 10*time.Minute),
		TickEvery:           c.MayDuration("RESOLVE_TICK_EVERY", time.Second),
		LookupRetries:       c.MayInt("LOOKUP_RETRIES", 2),
		RateSafetyThreshold: c.MayInt("RATE_SAFETY_THRESHOLD", 10),
		RateResetBuffer:     c.MayDuration("RATE_RESET_BUFFER", 5*time.Second),
		IdentityFreshness:   c.MayDuration("IDENTITY_FRESHNESS", 30*24*time.Hour),
		CacheEntries:        c.MayInt("IDENTITY_CACHE_ENTRIES", 4096),
	}
}
