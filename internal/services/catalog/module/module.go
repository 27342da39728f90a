// Package module wires the repository catalog and exposes its ports
package module

import (
	"gitrank/internal/modkit"
	"gitrank/internal/services/catalog/service"
	queuedom "gitrank/internal/services/queue/domain"
)

// Module defines the catalog module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the catalog module with its ports
func New(deps modkit.Deps, enqueuer queuedom.EnqueuerPort) *Module {
	svc := service.New(deps, enqueuer)

	m := &Module{deps: deps}
	m.ports = Ports{
		Catalog:   svc,
		Lifecycle: svc,
	}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "catalog" }
