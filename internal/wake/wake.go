// Package wake implements the threshold/wake engine: a gated disjunction
// that decides whether a tick should run the agentic loop.
package wake

import (
	"log/slog"

	"github.com/shady2k/lifemodel/internal/aggregate"
	"github.com/shady2k/lifemodel/internal/pattern"
	"github.com/shady2k/lifemodel/internal/signal"
)

// EnergyReader exposes just the energy projections the wake engine needs,
// so it never holds a mutable back-reference to the orchestrator's energy
// model.
type EnergyReader interface {
	Value() float64
	CalculateWakeThreshold(base float64) float64
}

// Decision is the wake engine's output.
type Decision struct {
	ShouldWake     bool
	Reason         string
	TriggerSignals []*signal.Signal
}

// Config tunes the wake engine's thresholds.
type Config struct {
	EnergyWakeFloor       float64
	ContactUrgeBaseThreshold float64
}

// DefaultConfig mirrors the faithful re-implementation's defaults.
func DefaultConfig() Config {
	return Config{
		EnergyWakeFloor:          0.1,
		ContactUrgeBaseThreshold: 0.5,
	}
}

// Engine evaluates the gated disjunction described in the core loop's wake
// contract.
type Engine struct {
	cfg    Config
	energy EnergyReader
	acks   *pattern.AckRegistry
	log    *slog.Logger
	schemas *PluginSchemaRegistry
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSchemaRegistry supplies the plugin-event schema validator; without one,
// plugin-event signals are never dropped for schema reasons.
func WithSchemaRegistry(r *PluginSchemaRegistry) Option {
	return func(e *Engine) { e.schemas = r }
}

// New constructs a wake Engine.
func New(cfg Config, energy EnergyReader, acks *pattern.AckRegistry, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		energy: energy,
		acks:   acks,
		log:    slog.Default().With("component", "wake"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// filterPluginEvents drops plugin_event signals that fail schema validation,
// logging a warning for each, before they are allowed to participate in the
// wake decision.
func (e *Engine) filterPluginEvents(signals []*signal.Signal) []*signal.Signal {
	if e.schemas == nil {
		return signals
	}
	out := make([]*signal.Signal, 0, len(signals))
	for _, s := range signals {
		if s.Type != signal.TypePluginEvent || s.Data == nil {
			out = append(out, s)
			continue
		}
		if err := e.schemas.Validate(s.Data.Kind, s.Data.Fields); err != nil {
			e.log.Warn("dropping invalid plugin event", "event_kind", s.Data.Kind, "error", err)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Decide evaluates the wake disjunction in priority order: first match wins.
func (e *Engine) Decide(tickSignals []*signal.Signal, buckets []aggregate.Bucket) Decision {
	tickSignals = e.filterPluginEvents(tickSignals)

	// 1. CRITICAL/HIGH priority, or any user_message, always wakes.
	for _, s := range tickSignals {
		if s.Priority.AtLeast(signal.PriorityHigh) || s.Type == signal.TypeUserMessage {
			return Decision{ShouldWake: true, Reason: "high_priority_or_user_message", TriggerSignals: []*signal.Signal{s}}
		}
	}

	// 2. Any thought signal bypasses the energy gate; thoughts must be
	// processed.
	for _, s := range tickSignals {
		if s.Type == signal.TypeThought {
			return Decision{ShouldWake: true, Reason: "thought", TriggerSignals: []*signal.Signal{s}}
		}
	}

	energyGated := e.energy.Value() < e.cfg.EnergyWakeFloor
	if energyGated {
		for _, s := range tickSignals {
			if s.Priority == signal.PriorityCritical {
				return Decision{ShouldWake: true, Reason: "critical_under_energy_floor", TriggerSignals: []*signal.Signal{s}}
			}
		}
		return Decision{ShouldWake: false, Reason: "energy_floor"}
	}

	// 4. Contact urge / threshold-crossed above the derived wake threshold.
	threshold := e.energy.CalculateWakeThreshold(e.cfg.ContactUrgeBaseThreshold)
	for _, s := range tickSignals {
		if (s.Type == signal.TypeContactUrge || s.Type == signal.TypeThresholdCross) && s.Metrics.Value > threshold {
			return Decision{ShouldWake: true, Reason: "threshold_crossed", TriggerSignals: []*signal.Signal{s}}
		}
	}

	// 5. Pattern-break signals, subject to ack suppression (already applied
	// upstream by the pattern detector before these signals were emitted;
	// here we only gate on presence).
	for _, s := range tickSignals {
		if s.Type == signal.TypePatternBreak {
			return Decision{ShouldWake: true, Reason: "pattern_break", TriggerSignals: []*signal.Signal{s}}
		}
	}

	return Decision{ShouldWake: false, Reason: "no_trigger"}
}
