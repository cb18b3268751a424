// Package pattern implements anomaly/silence detection with an
// acknowledgment registry that suppresses repeated fires at similar values.
package pattern

import (
	"sync"
	"time"

	"github.com/shady2k/lifemodel/internal/signal"
)

// DefaultConditionKey is used by detectors that do not distinguish multiple
// conditions per pattern id.
const DefaultConditionKey = "default"

// Match is what a Detector emits when its condition fires.
type Match struct {
	PatternID    string
	ConditionKey string
	ConditionVal float64
	Confidence   float64
	Reason       string
}

// Detector evaluates activity history against its own trigger condition.
type Detector interface {
	ID() string
	Detect(now time.Time, activity []ActivityPoint) (Match, bool)
}

// ActivityPoint is one tick's worth of observed activity, used by the
// sudden-silence detector's rolling window.
type ActivityPoint struct {
	At           time.Time
	UserMessages int
}

// ackEntry is one acknowledged (patternId, conditionKey) pair.
type ackEntry struct {
	value          float64
	acknowledgedAt time.Time
}

// AckRegistry maps (patternId, conditionKey) to the last acknowledged value,
// suppressing re-fires until the value changes significantly.
type AckRegistry struct {
	mu                       sync.Mutex
	entries                  map[string]ackEntry
	significantChangeThreshold float64
}

// NewAckRegistry constructs a registry using the default significant-change
// threshold of 0.2 unless overridden.
func NewAckRegistry(significantChangeThreshold float64) *AckRegistry {
	if significantChangeThreshold <= 0 {
		significantChangeThreshold = 0.2
	}
	return &AckRegistry{
		entries:                    make(map[string]ackEntry),
		significantChangeThreshold: significantChangeThreshold,
	}
}

func ackKey(patternID, conditionKey string) string { return patternID + "\x00" + conditionKey }

// Acknowledge records that a consumer has processed patternID/conditionKey
// at value, suppressing future matches within the threshold.
func (r *AckRegistry) Acknowledge(patternID, conditionKey string, value float64, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[ackKey(patternID, conditionKey)] = ackEntry{value: value, acknowledgedAt: now}
}

// IsSuppressed reports whether a match at conditionValue should be
// suppressed because it's within the acknowledged delta.
func (r *AckRegistry) IsSuppressed(patternID, conditionKey string, conditionValue float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ackKey(patternID, conditionKey)]
	if !ok {
		return false
	}
	delta := conditionValue - e.value
	if delta < 0 {
		delta = -delta
	}
	return delta < r.significantChangeThreshold
}

// Clear removes an acknowledgment, e.g. because the delta was significant or
// the pattern did not match this tick.
func (r *AckRegistry) Clear(patternID, conditionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, ackKey(patternID, conditionKey))
}

// evaluateAck applies the ack-suppression rule to a raw match: suppress if
// within threshold of the acknowledged value, else clear the stale
// acknowledgment and let it through.
func evaluateAck(r *AckRegistry, m Match) (Match, bool) {
	if r.IsSuppressed(m.PatternID, m.ConditionKey, m.ConditionVal) {
		return Match{}, false
	}
	r.Clear(m.PatternID, m.ConditionKey)
	return m, true
}

// SilenceDetectorConfig tunes the sudden-silence built-in detector.
type SilenceDetectorConfig struct {
	SilenceThresholdMs int64
}

// SilenceDetector implements the built-in "sudden_silence" pattern: activity
// was sustained, then stopped abruptly.
type SilenceDetector struct {
	cfg            SilenceDetectorConfig
	lastActivityAt time.Time
}

// NewSilenceDetector constructs the built-in sudden-silence detector.
func NewSilenceDetector(cfg SilenceDetectorConfig) *SilenceDetector {
	if cfg.SilenceThresholdMs <= 0 {
		cfg.SilenceThresholdMs = 30 * 60 * 1000
	}
	return &SilenceDetector{cfg: cfg}
}

func (d *SilenceDetector) ID() string { return "sudden_silence" }

// RecordActivity updates the last-seen activity timestamp when a tick saw
// user messages. Callers feed this once per tick before Detect.
func (d *SilenceDetector) RecordActivity(now time.Time, userMessages int) {
	if userMessages > 0 {
		d.lastActivityAt = now
	}
}

// Detect evaluates: average activity in the last 3*threshold window was
// above 1, the current tick had zero user messages, and the silence
// duration since last activity exceeds the threshold.
func (d *SilenceDetector) Detect(now time.Time, activity []ActivityPoint) (Match, bool) {
	threshold := time.Duration(d.cfg.SilenceThresholdMs) * time.Millisecond
	windowStart := now.Add(-3 * threshold)

	var sum, count int
	for _, p := range activity {
		if p.At.Before(windowStart) {
			continue
		}
		sum += p.UserMessages
		count++
	}
	if count == 0 {
		return Match{}, false
	}
	avg := float64(sum) / float64(count)

	currentTickMessages := 0
	if len(activity) > 0 {
		currentTickMessages = activity[len(activity)-1].UserMessages
	}

	if d.lastActivityAt.IsZero() {
		return Match{}, false
	}
	silenceDuration := now.Sub(d.lastActivityAt)

	if avg > 1 && currentTickMessages == 0 && silenceDuration > threshold {
		confidence := float64(silenceDuration) / float64(2*threshold)
		if confidence > 1 {
			confidence = 1
		}
		return Match{
			PatternID:    d.ID(),
			ConditionKey: DefaultConditionKey,
			ConditionVal: confidence,
			Confidence:   confidence,
			Reason:       "sustained activity followed by silence",
		}, true
	}
	return Match{}, false
}

// Registry runs a fixed list of detectors against the current tick's
// activity history, applying acknowledgment suppression.
type Registry struct {
	detectors []Detector
	acks      *AckRegistry
}

// NewRegistry constructs a pattern registry from the given detectors.
func NewRegistry(acks *AckRegistry, detectors ...Detector) *Registry {
	return &Registry{detectors: detectors, acks: acks}
}

// Detect runs every registered detector and returns the (ack-filtered)
// matches. A detector that does not match this tick has its default
// acknowledgment cleared so it can fire again on re-occurrence.
func (r *Registry) Detect(now time.Time, activity []ActivityPoint) []Match {
	var out []Match
	for _, d := range r.detectors {
		m, matched := d.Detect(now, activity)
		if !matched {
			r.acks.Clear(d.ID(), DefaultConditionKey)
			continue
		}
		if accepted, ok := evaluateAck(r.acks, m); ok {
			out = append(out, accepted)
		}
	}
	return out
}

// Acknowledge exposes the registry's ack registry to external callers.
func (r *Registry) Acknowledge(patternID, conditionKey string, value float64, now time.Time) {
	r.acks.Acknowledge(patternID, conditionKey, value, now)
}

// ToSignal converts a match into a pattern_break signal.
func (m Match) ToSignal(source string, now time.Time) *signal.Signal {
	conf := m.Confidence
	s := signal.New(signal.TypePatternBreak, source, signal.Metrics{Value: m.ConditionVal, Confidence: &conf}, now)
	s.Data = &signal.Data{
		Kind: "pattern_match",
		Fields: map[string]any{
			"patternId":    m.PatternID,
			"conditionKey": m.ConditionKey,
			"reason":       m.Reason,
		},
	}
	return s
}
