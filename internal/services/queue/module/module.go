// Package module wires the job queue service and exposes its ports
package module

import (
	"gitrank/internal/modkit"
	"gitrank/internal/services/queue/service"
)

// Module defines the queue module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the queue module with its ports
func New(deps modkit.Deps) *Module {
	svc := service.New(deps)

	m := &Module{deps: deps}
	m.ports = Ports{
		Enqueuer:  svc,
		Consumer:  svc,
		Inspector: svc,
	}
	return m
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Name returns the module name
func (m *Module) Name() string { return "queue" }
