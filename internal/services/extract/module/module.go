// Package module wires the commit extraction worker and exposes its ports
package module

import (
	"gitrank/internal/adapters/gitstore"
	"gitrank/internal/adapters/identity"
	"gitrank/internal/modkit"
	catalogdom "gitrank/internal/services/catalog/domain"
	"gitrank/internal/services/extract/service"
	queuedom "gitrank/internal/services/queue/domain"
)

// Module defines the extraction worker module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the extraction worker module with its ports
func New(
	deps modkit.Deps,
	overrides Options,
	queue queuedom.ConsumerPort,
	enqueue queuedom.EnqueuerPort,
	inspect queuedom.InspectorPort,
	repos catalogdom.LifecyclePort,
) *Module {
	opts := FromConfig(deps.Cfg)

	if overrides.MaxRepoSizeBytes != 0 {
		opts.MaxRepoSizeBytes = overrides.MaxRepoSizeBytes
	}
	if overrides.MaxCommitCount != 0 {
		opts.MaxCommitCount = overrides.MaxCommitCount
	}
	if overrides.IdentityBatchSize != 0 {
		opts.IdentityBatchSize = overrides.IdentityBatchSize
	}
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
	if overrides.GitRoot != "" {
		opts.GitRoot = overrides.GitRoot
	}
	if overrides.CloneTimeout != 0 {
		opts.CloneTimeout = overrides.CloneTimeout
	}

	storage := gitstore.New(gitstore.Options{Root: opts.GitRoot, CloneTimeout: opts.CloneTimeout})
	probe := identity.New()

	svc := service.New(deps, service.Config{
		MaxRepoSizeBytes:  opts.MaxRepoSizeBytes,
		MaxCommitCount:    opts.MaxCommitCount,
		IdentityBatchSize: opts.IdentityBatchSize,
		Concurrency:       opts.Concurrency,
		TakeBatch:         opts.TakeBatch,
		LeaseFor:          opts.LeaseFor,
		TickEvery:         opts.TickEvery,
	}, queue, enqueue, inspect, repos, storage, probe)

	m := &Module{deps: deps}
	m.ports = Ports{Worker: svc}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "extract" }
