// Package energy tracks the single scalar that drives how aggressively and
// how often the pipeline wakes, following the drain/recharge bookkeeping
// contract of the core loop orchestrator.
package energy

import (
	"math"
	"sync"
	"time"
)

// DrainKind enumerates the operations that cost energy.
type DrainKind string

const (
	DrainTick         DrainKind = "tick"
	DrainEvent        DrainKind = "event"
	DrainLLM          DrainKind = "llm"
	DrainMessage      DrainKind = "message"
	DrainMotorOneshot DrainKind = "motor_oneshot"
	DrainMotorAgentic DrainKind = "motor_agentic"
)

// RechargeKind enumerates the operations that restore energy.
type RechargeKind string

const (
	RechargeTime            RechargeKind = "time"
	RechargeNight           RechargeKind = "night"
	RechargePositiveFeedback RechargeKind = "positive_feedback"
)

// Config holds the per-kind amounts and bounds. Amounts are the energy units
// subtracted or added by a single unmultiplied operation.
type Config struct {
	MinEnergy float64
	MaxEnergy float64

	DrainAmounts map[DrainKind]float64

	RechargeTimeAmount  float64
	NightStartHour      int
	NightEndHour        int
	NightRechargeMultiplier float64
}

// DefaultConfig mirrors the amounts a faithful re-implementation uses absent
// operator-supplied tuning.
func DefaultConfig() Config {
	return Config{
		MinEnergy: 0,
		MaxEnergy: 1,
		DrainAmounts: map[DrainKind]float64{
			DrainTick:         0.001,
			DrainEvent:        0.005,
			DrainLLM:          0.02,
			DrainMessage:      0.01,
			DrainMotorOneshot: 0.03,
			DrainMotorAgentic: 0.05,
		},
		RechargeTimeAmount:      0.002,
		NightStartHour:          22,
		NightEndHour:            7,
		NightRechargeMultiplier: 3,
	}
}

// Option configures a Model at construction time.
type Option func(*Model)

// WithNow injects a clock, overriding the default time.Now, so that
// night-recharge math can be tested deterministically.
func WithNow(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option {
	return func(m *Model) { m.cfg = cfg }
}

// WithInitial sets the starting energy value (pre-clamped, pre-rounded).
func WithInitial(v float64) Option {
	return func(m *Model) { m.value = v }
}

// Model owns the single energy scalar. All mutator methods are atomic with
// respect to each other; readers observe a point-in-time snapshot.
type Model struct {
	mu    sync.Mutex
	value float64
	cfg   Config
	now   func() time.Time
}

// New constructs a Model at MaxEnergy unless overridden via WithInitial.
func New(opts ...Option) *Model {
	m := &Model{
		cfg: DefaultConfig(),
		now: time.Now,
	}
	m.value = m.cfg.MaxEnergy
	for _, opt := range opts {
		opt(m)
	}
	m.value = clampRound(m.value, m.cfg.MinEnergy, m.cfg.MaxEnergy)
	return m
}

func clampRound(v, min, max float64) float64 {
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return math.Round(v*1000) / 1000
}

// Value returns the current energy scalar.
func (m *Model) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// Drain subtracts the configured amount for kind, clamps, and rounds.
func (m *Model) Drain(kind DrainKind) float64 {
	amount := m.cfg.DrainAmounts[kind]
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = clampRound(m.value-amount, m.cfg.MinEnergy, m.cfg.MaxEnergy)
	return m.value
}

// Recharge adds the configured amount for kind scaled by multiplier (default
// 1), clamps, and rounds. positive_feedback applies 5x the base time amount
// regardless of the RechargeTimeAmount tuning for other kinds.
func (m *Model) Recharge(kind RechargeKind, multiplier float64) float64 {
	if multiplier == 0 {
		multiplier = 1
	}
	var base float64
	switch kind {
	case RechargeTime, RechargeNight:
		base = m.cfg.RechargeTimeAmount
	case RechargePositiveFeedback:
		base = m.cfg.RechargeTimeAmount * 5
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = clampRound(m.value+base*multiplier, m.cfg.MinEnergy, m.cfg.MaxEnergy)
	return m.value
}

// isNight reports whether hour falls within [nightStart, nightEnd), wrapping
// around midnight when start > end.
func isNight(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// TickRecharge wraps Recharge(time|night) using the configured night window
// and multiplier, keyed off the model's clock.
func (m *Model) TickRecharge() float64 {
	hour := m.now().Hour()
	if isNight(hour, m.cfg.NightStartHour, m.cfg.NightEndHour) {
		return m.Recharge(RechargeNight, m.cfg.NightRechargeMultiplier)
	}
	return m.Recharge(RechargeTime, 1)
}

// CalculateWakeThreshold projects a base threshold against the current
// energy: min(base * (1 + (1 - energy)), 0.99).
func (m *Model) CalculateWakeThreshold(base float64) float64 {
	v := m.Value()
	projected := base * (1 + (1 - v))
	if projected > 0.99 {
		return 0.99
	}
	return projected
}

// CalculateTickMultiplier projects the tick-interval multiplier from the
// current energy: 1 + (1 - energy).
func (m *Model) CalculateTickMultiplier() float64 {
	return 1 + (1 - m.Value())
}
