package main

import (
	"testing"
	"time"
)

var dialT0 = time.Unix(1000, 0)

func ms(n int) time.Time { return dialT0.Add(time.Duration(n) * time.Millisecond) }

// TestDialState_AddStep_Basic tests basic step tracking
func TestDialState_AddStep_Basic(t *testing.T) {
	var d DialReducerState

	for i := 1; i <= 3; i++ {
		count := d.addStep(1, ms(i*10), 200)
		if count != i {
			t.Errorf("step %d: expected count=%d, got %d", i, i, count)
		}
	}
}

// TestDialState_AddStep_DirectionChange tests that direction changes
// don't count toward the velocity threshold
func TestDialState_AddStep_DirectionChange(t *testing.T) {
	var d DialReducerState

	d.addStep(1, ms(0), 200)
	d.addStep(1, ms(10), 200)
	count := d.addStep(1, ms(20), 200)
	if count != 3 {
		t.Errorf("expected 3 right steps, got %d", count)
	}

	count = d.addStep(-1, ms(30), 200)
	if count != 1 {
		t.Errorf("expected count=1 for new direction, got %d", count)
	}

	count = d.addStep(1, ms(40), 200)
	if count != 4 {
		t.Errorf("expected count=4 (3 old + 1 new right steps still in window), got %d", count)
	}
}

// TestDialState_AddStep_PartialExpiry tests that some steps expire while others remain
func TestDialState_AddStep_PartialExpiry(t *testing.T) {
	var d DialReducerState
	windowMS := 100

	d.addStep(1, ms(0), windowMS)
	d.addStep(1, ms(60), windowMS)
	d.addStep(1, ms(61), windowMS)

	// 120ms after the first step, 60ms after the last two
	count := d.addStep(1, ms(120), windowMS)
	if count != 3 {
		t.Errorf("expected count=3 (2 recent + 1 new), got %d", count)
	}
	if len(d.RecentSteps) != 3 {
		t.Errorf("expected expired step to be pruned, have %d", len(d.RecentSteps))
	}
}

// TestDialState_AddStep_ZeroWindow tests behavior with zero window
func TestDialState_AddStep_ZeroWindow(t *testing.T) {
	var d DialReducerState

	if count := d.addStep(1, ms(0), 0); count != 1 {
		t.Errorf("expected count=1 with zero window, got %d", count)
	}
	if count := d.addStep(1, ms(0), 0); count != 1 {
		t.Errorf("expected count=1 with zero window (previous expired), got %d", count)
	}
}

// TestDialDegrees_SlowTurn applies the base step size.
func TestDialDegrees_SlowTurn(t *testing.T) {
	var d DialReducerState
	cfg := DialConfig{DegPerStep: 2, VelocityWindowMS: 200, VelocityThreshold: 3, VelocityMultiplier: 3}

	if got := d.dialDegrees(1, ms(0), cfg); got != 2 {
		t.Errorf("expected 2 degrees, got %v", got)
	}
	if got := d.dialDegrees(-1, ms(500), cfg); got != -2 {
		t.Errorf("expected -2 degrees, got %v", got)
	}
	if got := d.dialDegrees(0, ms(600), cfg); got != 0 {
		t.Errorf("expected 0 degrees for no steps, got %v", got)
	}
}

// TestDialDegrees_FastSpinMultiplies scales once the threshold is hit.
func TestDialDegrees_FastSpinMultiplies(t *testing.T) {
	var d DialReducerState
	cfg := DialConfig{DegPerStep: 2, VelocityWindowMS: 200, VelocityThreshold: 3, VelocityMultiplier: 3}

	d.dialDegrees(1, ms(0), cfg)
	d.dialDegrees(1, ms(20), cfg)
	if got := d.dialDegrees(1, ms(40), cfg); got != 6 {
		t.Errorf("expected multiplied 6 degrees on third fast step, got %v", got)
	}

	// A batched report of several detents counts each one.
	var batched DialReducerState
	if got := batched.dialDegrees(-4, ms(0), cfg); got != -24 {
		t.Errorf("expected -24 degrees for a fast batch of 4, got %v", got)
	}
}

// TestReduce_SteeringDial_RequiresLiveInputs refuses dial turns before the sweep ends.
func TestReduce_SteeringDial_RequiresLiveInputs(t *testing.T) {
	cfg := testConsoleConfig()
	s := NewConsoleState(DefaultTuning())

	rr := Reduce(s, TimedEvent{Event: SteeringDialTurn{Steps: 2}, At: ms(0)}, cfg)
	if rr.Rejected == nil {
		t.Fatalf("expected dial turn to be refused while powered off")
	}
	if rr.State.Control.SteeringDeg != 0 {
		t.Fatalf("expected steering unchanged, got %v", rr.State.Control.SteeringDeg)
	}

	rr = Reduce(drivingState(), TimedEvent{Event: SteeringDialTurn{Steps: 2}, At: ms(0)}, cfg)
	if rr.Rejected != nil {
		t.Fatalf("unexpected refusal: %v", rr.Rejected)
	}
	if rr.State.Control.SteeringDeg != 2*defaultDialDegPerStep {
		t.Fatalf("expected %v degrees, got %v", 2*defaultDialDegPerStep, rr.State.Control.SteeringDeg)
	}
}
