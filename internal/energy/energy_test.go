package energy

import (
	"testing"
	"time"
)

func TestDrainClampsAtMin(t *testing.T) {
	m := New(WithInitial(0.001))
	m.Drain(DrainMotorAgentic)
	if m.Value() != 0 {
		t.Fatalf("expected clamp to 0, got %v", m.Value())
	}
}

func TestRechargeClampsAtMax(t *testing.T) {
	m := New(WithInitial(0.999))
	m.Recharge(RechargePositiveFeedback, 1)
	if m.Value() != 1 {
		t.Fatalf("expected clamp to 1, got %v", m.Value())
	}
}

func TestRoundedToThreeDecimals(t *testing.T) {
	m := New(WithInitial(0.5))
	v := m.Drain(DrainTick)
	if v != 0.499 {
		t.Fatalf("expected 0.499, got %v", v)
	}
}

func TestCalculateWakeThresholdCapped(t *testing.T) {
	m := New(WithInitial(0))
	got := m.CalculateWakeThreshold(0.6)
	if got != 0.99 {
		t.Fatalf("expected capped at 0.99, got %v", got)
	}
	// invariant 4: calculateWakeThreshold(b) <= min(b*2, 0.99)
	for _, e := range []float64{0, 0.25, 0.5, 0.75, 1} {
		m2 := New(WithInitial(e))
		w := m2.CalculateWakeThreshold(0.3)
		max := 0.3 * 2
		if max > 0.99 {
			max = 0.99
		}
		if w > max {
			t.Fatalf("energy=%v: wake threshold %v exceeds bound %v", e, w, max)
		}
	}
}

func TestCalculateTickMultiplier(t *testing.T) {
	m := New(WithInitial(1))
	if got := m.CalculateTickMultiplier(); got != 1 {
		t.Fatalf("full energy should yield multiplier 1, got %v", got)
	}
	m2 := New(WithInitial(0))
	if got := m2.CalculateTickMultiplier(); got != 2 {
		t.Fatalf("zero energy should yield multiplier 2, got %v", got)
	}
}

func TestTickRechargeNightWraparound(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC)
	m := New(WithInitial(0.5), WithNow(func() time.Time { return fixed }))
	before := m.Value()
	m.TickRecharge()
	cfg := DefaultConfig()
	want := clampRound(before+cfg.RechargeTimeAmount*cfg.NightRechargeMultiplier, 0, 1)
	if m.Value() != want {
		t.Fatalf("expected night recharge %v, got %v", want, m.Value())
	}
}

func TestIsNightWraparound(t *testing.T) {
	if !isNight(23, 22, 7) {
		t.Fatal("23:00 should be night with wraparound window")
	}
	if !isNight(6, 22, 7) {
		t.Fatal("06:00 should still be night")
	}
	if isNight(12, 22, 7) {
		t.Fatal("noon should not be night")
	}
}
