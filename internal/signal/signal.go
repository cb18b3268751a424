// Package signal defines the common data envelope shared by every internal
// stimulus flowing through the pipeline: sensory input, internal neuron
// readings, derived aggregation output, plugin events, and thoughts.
package signal

import (
	"time"

	"github.com/google/uuid"
)

// Type partitions signals into the closed tag set the aggregator and wake
// engine key their logic on.
type Type string

const (
	TypeUserMessage    Type = "user_message"
	TypeChannelEvent   Type = "channel_event"
	TypeContactUrge    Type = "contact_urge"
	TypeEnergyLevel    Type = "energy_level"
	TypeThresholdCross Type = "threshold_crossed"
	TypePatternBreak   Type = "pattern_break"
	TypePluginEvent    Type = "plugin_event"
	TypeThought        Type = "thought"
)

// Category groups Type values for TTL lookup and wake-gating purposes.
type Category string

const (
	CategorySensory Category = "sensory"
	CategoryInternal Category = "internal"
	CategoryMeta     Category = "meta"
	CategoryPlugin   Category = "plugin"
	CategoryThought  Category = "thought"
)

var categoryByType = map[Type]Category{
	TypeUserMessage:    CategorySensory,
	TypeChannelEvent:   CategorySensory,
	TypeContactUrge:    CategoryInternal,
	TypeEnergyLevel:    CategoryInternal,
	TypeThresholdCross: CategoryMeta,
	TypePatternBreak:   CategoryMeta,
	TypePluginEvent:    CategoryPlugin,
	TypeThought:        CategoryThought,
}

// CategoryOf reports the partition a signal type belongs to. Unknown types
// default to CategoryMeta since they are, by construction, derived signals.
func CategoryOf(t Type) Category {
	if c, ok := categoryByType[t]; ok {
		return c
	}
	return CategoryMeta
}

// Priority orders signals for wake-gating; CRITICAL always wakes, IDLE never
// does on its own.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityNormal   Priority = "NORMAL"
	PriorityLow      Priority = "LOW"
	PriorityIdle     Priority = "IDLE"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 4,
	PriorityHigh:     3,
	PriorityNormal:   2,
	PriorityLow:      1,
	PriorityIdle:     0,
}

// AtLeast reports whether p is ranked at or above other.
func (p Priority) AtLeast(other Priority) bool {
	return priorityRank[p] >= priorityRank[other]
}

// Metrics carries the scalar readings most signals attach.
type Metrics struct {
	Value         float64  `json:"value"`
	PreviousValue *float64 `json:"previousValue,omitempty"`
	RateOfChange  *float64 `json:"rateOfChange,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

// Data is an opaque, discriminated payload. Kind names the concrete shape a
// consumer should expect in Fields; the pipeline core never interprets it.
type Data struct {
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Signal is the uniformly shaped envelope for every internal stimulus.
type Signal struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	Priority      Priority  `json:"priority"`
	Metrics       Metrics   `json:"metrics"`
	Data          *Data     `json:"data,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	ParentID      string    `json:"parentId,omitempty"`
}

// defaultTTL maps each type to its per-type time-to-live. A missing entry (or
// an explicit nil in this table) means the signal accumulates indefinitely.
var defaultTTL = map[Type]*time.Duration{
	TypeUserMessage:    durPtr(24 * time.Hour),
	TypeChannelEvent:   durPtr(24 * time.Hour),
	TypeContactUrge:    durPtr(6 * time.Hour),
	TypeEnergyLevel:    durPtr(1 * time.Hour),
	TypeThresholdCross: durPtr(30 * time.Minute),
	TypePatternBreak:   durPtr(1 * time.Hour),
	TypePluginEvent:    durPtr(12 * time.Hour),
	TypeThought:        nil,
}

func durPtr(d time.Duration) *time.Duration { return &d }

// New constructs a Signal, generating its id and stamping timestamp/priority
// defaults, then applying the per-type TTL unless the caller already set one.
func New(typ Type, source string, metrics Metrics, now time.Time) *Signal {
	s := &Signal{
		ID:        uuid.NewString(),
		Type:      typ,
		Source:    source,
		Timestamp: now,
		Priority:  PriorityNormal,
		Metrics:   metrics,
	}
	if ttl, ok := defaultTTL[typ]; ok && ttl != nil {
		exp := now.Add(*ttl)
		s.ExpiresAt = &exp
	}
	return s
}

// Expired reports whether the signal's TTL has passed as of now. Signals with
// no ExpiresAt never expire.
func (s *Signal) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}
