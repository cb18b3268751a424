package wake

import (
	"testing"
	"time"

	"github.com/shady2k/lifemodel/internal/energy"
	"github.com/shady2k/lifemodel/internal/pattern"
	"github.com/shady2k/lifemodel/internal/signal"
)

// S6: energy gate.
func TestEnergyGate(t *testing.T) {
	e := energy.New(energy.WithInitial(0.05))
	acks := pattern.NewAckRegistry(0.2)
	eng := New(Config{EnergyWakeFloor: 0.1, ContactUrgeBaseThreshold: 0.5}, e, acks)

	now := time.Now()
	normal := signal.New(signal.TypeContactUrge, "core", signal.Metrics{Value: 0.9}, now)
	normal.Priority = signal.PriorityNormal

	d := eng.Decide([]*signal.Signal{normal}, nil)
	if d.ShouldWake {
		t.Fatal("expected no wake: energy below floor suppresses non-critical")
	}

	critical := signal.New(signal.TypeContactUrge, "core", signal.Metrics{Value: 0.9}, now)
	critical.Priority = signal.PriorityCritical
	d2 := eng.Decide([]*signal.Signal{critical}, nil)
	if !d2.ShouldWake {
		t.Fatal("expected wake: CRITICAL bypasses energy floor")
	}
}

func TestUserMessageAlwaysWakes(t *testing.T) {
	e := energy.New(energy.WithInitial(1))
	acks := pattern.NewAckRegistry(0.2)
	eng := New(DefaultConfig(), e, acks)

	s := signal.New(signal.TypeUserMessage, "telegram", signal.Metrics{Value: 0}, time.Now())
	s.Priority = signal.PriorityLow
	d := eng.Decide([]*signal.Signal{s}, nil)
	if !d.ShouldWake {
		t.Fatal("user_message should always wake regardless of priority")
	}
}

func TestThoughtBypassesEnergyGate(t *testing.T) {
	e := energy.New(energy.WithInitial(0))
	acks := pattern.NewAckRegistry(0.2)
	eng := New(Config{EnergyWakeFloor: 0.5}, e, acks)

	s := signal.New(signal.TypeThought, "loop", signal.Metrics{Value: 0}, time.Now())
	d := eng.Decide([]*signal.Signal{s}, nil)
	if !d.ShouldWake || d.Reason != "thought" {
		t.Fatalf("expected thought to wake, got %+v", d)
	}
}

func TestNoTriggerNoWake(t *testing.T) {
	e := energy.New(energy.WithInitial(1))
	acks := pattern.NewAckRegistry(0.2)
	eng := New(DefaultConfig(), e, acks)
	d := eng.Decide(nil, nil)
	if d.ShouldWake {
		t.Fatal("expected no wake with no signals")
	}
}

func TestPluginEventSchemaRejection(t *testing.T) {
	reg := NewPluginSchemaRegistry()
	reg.Register("webhook", `{"type":"object","properties":{"amount":{"type":"number"}},"required":["amount"]}`)

	e := energy.New(energy.WithInitial(1))
	acks := pattern.NewAckRegistry(0.2)
	eng := New(DefaultConfig(), e, acks, WithSchemaRegistry(reg))

	bad := signal.New(signal.TypePluginEvent, "webhook-plugin", signal.Metrics{Value: 0.9}, time.Now())
	bad.Priority = signal.PriorityNormal
	bad.Data = &signal.Data{Kind: "webhook", Fields: map[string]any{"wrong": "field"}}

	d := eng.Decide([]*signal.Signal{bad}, nil)
	if d.ShouldWake {
		t.Fatal("invalid plugin event should be dropped before it can trigger a wake")
	}
}
