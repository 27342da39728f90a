// Package module defines the minimal contract for a modkit module
package module

// Module defines the minimal contract used by modkit
// workers and CLIs compose modules by name and exchange typed port sets
type Module interface {
	Ports() any
	Name() string
}

// MustPortsOf asserts the module's ports to T and panics on mismatch
// nice for bootstrap in main where a wiring bug should halt the process
func MustPortsOf[T any](m Module) T {
	v, ok := m.Ports().(T)
	if !ok {
		panic("module: ports type mismatch for " + m.Name())
	}
	return v
}
