// Package module wires the identity resolution worker and exposes its ports
package module

import (
	"gitrank/internal/adapters/identity"
	"gitrank/internal/modkit"
	catalogdom "gitrank/internal/services/catalog/domain"
	icservice "gitrank/internal/services/idcache/service"
	queuedom "gitrank/internal/services/queue/domain"
	rlservice "gitrank/internal/services/ratelimit/service"
	"gitrank/internal/services/resolve/service"
)

// Module defines the resolution worker module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the resolution worker module with its ports. The rate
// limit coordinator and identity cache are internal collaborators built
// here rather than standalone modules
func New(
	deps modkit.Deps,
	overrides Options,
	queue queuedom.ConsumerPort,
	inspect queuedom.InspectorPort,
	repos catalogdom.LifecyclePort,
) *Module {
	opts := FromConfig(deps.Cfg)

	if overrides.Concurrency != 0 {
		opts.Concurrency = overrides.Concurrency
	}
	if overrides.TakeBatch != 0 {
		opts.TakeBatch = overrides.TakeBatch
	}
	if overrides.LeaseFor != 0 {
		opts.LeaseFor = overrides.LeaseFor
	}
	if overrides.TickEvery != 0 {
		opts.TickEvery = overrides.TickEvery
	}
	if overrides.LookupRetries != 0 {
		opts.LookupRetries = overrides.LookupRetries
	}
	if overrides.RateSafetyThreshold != 0 {
		opts.RateSafetyThreshold = overrides.RateSafetyThreshold
	}
	if overrides.RateResetBuffer != 0 {
		opts.RateResetBuffer = overrides.RateResetBuffer
	}
	if overrides.IdentityFreshness != 0 {
		opts.IdentityFreshness = overrides.IdentityFreshness
	}
	if overrides.CacheEntries != 0 {
		opts.CacheEntries = overrides.CacheEntries
	}

	limiter := rlservice.New(deps, rlservice.Config{
		SafetyThreshold: opts.RateSafetyThreshold,
		ResetBuffer:     opts.RateResetBuffer,
	})
	cache := icservice.New(deps, icservice.Config{
		Freshness:     opts.IdentityFreshness,
		MemoryEntries: opts.CacheEntries,
	})
	lookup := identity.New()

	svc := service.New(deps, service.Config{
		Concurrency:   opts.Concurrency,
		TakeBatch:     opts.TakeBatch,
		LeaseFor:      opts.LeaseFor,
		TickEvery:     opts.TickEvery,
		LookupRetries: opts.LookupRetries,
	}, queue, inspect, repos, cache, limiter, lookup)

	m := &Module{deps: deps}
	m.ports = Ports{Worker: svc}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "resolve" }
