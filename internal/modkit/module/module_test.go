package module

import (
	"testing"

	kit "gitrank/internal/platform/testkit"
)

type queuePorts struct{ name string }

type stubModule struct{ ports any }

func (stubModule) Name() string { return "stub" }
func (m stubModule) Ports() any { return m.ports }

func TestMustPortsOf(t *testing.T) {
	m := stubModule{ports: queuePorts{name: "q"}}
	got := MustPortsOf[queuePorts](m)
	if got.name != "q" {
		t.Fatalf("MustPortsOf = %+v", got)
	}

	kit.MustPanic(t, func() { _ = MustPortsOf[string](m) })
}

func TestRegisterAndPortsAs(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	Register("queue", queuePorts{name: "queue"})

	got, ok := PortsAs[queuePorts]("queue")
	if !ok || got.name != "queue" {
		t.Fatalf("PortsAs = %+v ok=%v", got, ok)
	}

	// missing name
	if _, ok := PortsAs[queuePorts]("catalog"); ok {
		t.Fatalf("PortsAs should miss for unregistered name")
	}

	// wrong type assertion
	if _, ok := PortsAs[string]("queue"); ok {
		t.Fatalf("PortsAs should fail for mismatched type")
	}

	// re-register replaces
	Register("queue", queuePorts{name: "queue-v2"})
	got, _ = PortsAs[queuePorts]("queue")
	if got.name != "queue-v2" {
		t.Fatalf("Register should replace, got %+v", got)
	}
}

func TestReset(t *testing.T) {
	Register("temp", queuePorts{})
	Reset()
	if _, ok := PortsAs[queuePorts]("temp"); ok {
		t.Fatalf("Reset should clear the registry")
	}
}
