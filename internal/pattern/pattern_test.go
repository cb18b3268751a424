package pattern

import (
	"testing"
	"time"
)

// S5: pattern ack suppression.
func TestAckSuppression(t *testing.T) {
	r := NewAckRegistry(0.2)
	now := time.Now()
	r.Acknowledge("sudden_silence", DefaultConditionKey, 0.9, now)

	if !r.IsSuppressed("sudden_silence", DefaultConditionKey, 0.95) {
		t.Fatal("delta 0.05 < 0.2 threshold should be suppressed")
	}
	if r.IsSuppressed("sudden_silence", DefaultConditionKey, 0.6) {
		t.Fatal("delta 0.3 >= 0.2 threshold should not be suppressed")
	}
}

func TestSilenceDetectorFires(t *testing.T) {
	d := NewSilenceDetector(SilenceDetectorConfig{SilenceThresholdMs: 1000})
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var activity []ActivityPoint
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * 500 * time.Millisecond)
		activity = append(activity, ActivityPoint{At: at, UserMessages: 2})
		d.RecordActivity(at, 2)
	}
	// silence now: no messages, long gap
	now := base.Add(5 * time.Second)
	activity = append(activity, ActivityPoint{At: now, UserMessages: 0})

	m, ok := d.Detect(now, activity)
	if !ok {
		t.Fatal("expected silence pattern to fire")
	}
	if m.Confidence <= 0 || m.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", m.Confidence)
	}
}

func TestSilenceDetectorDoesNotFireWithoutPriorActivity(t *testing.T) {
	d := NewSilenceDetector(SilenceDetectorConfig{SilenceThresholdMs: 1000})
	now := time.Now()
	_, ok := d.Detect(now, []ActivityPoint{{At: now, UserMessages: 0}})
	if ok {
		t.Fatal("should not fire without any recorded prior activity")
	}
}

func TestRegistryClearsAckWhenNoMatch(t *testing.T) {
	acks := NewAckRegistry(0.2)
	d := NewSilenceDetector(SilenceDetectorConfig{SilenceThresholdMs: 1000})
	reg := NewRegistry(acks, d)

	acks.Acknowledge(d.ID(), DefaultConditionKey, 0.9, time.Now())
	// no activity recorded -> detector never matches -> ack cleared
	reg.Detect(time.Now(), nil)

	if acks.IsSuppressed(d.ID(), DefaultConditionKey, 0.9) {
		t.Fatal("ack should be cleared when pattern does not match")
	}
}
