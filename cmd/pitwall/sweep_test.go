package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSweepDisplayValue(t *testing.T) {
	at := func(units float64) time.Duration {
		return time.Duration(units * float64(sweepUnit))
	}
	const full, live = 100.0, 20.0

	tests := []struct {
		units float64
		want  float64
	}{
		{0, 0},
		{0.25, 50},
		{0.5, 100},
		{0.75, 50},
		{1, 0},
		{1.25, 50},
		{1.5, 50},
		{1.75, 35},
		{2, live},
		{3, live},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, sweepDisplayValue(at(tt.units), full, live), 1e-6, "at %.2f units", tt.units)
	}
}

func TestReduce_SweepCompletesAndHandsOver(t *testing.T) {
	cfg := testConsoleConfig()
	t0 := time.Unix(5000, 0)

	s := NewConsoleState(DefaultTuning())
	rr := Reduce(s, TimedEvent{Event: SetSystemActive{Active: true}, At: t0}, cfg)
	run := rr.State.Run

	var frames int
	for at := t0.Add(defaultSweepFrame); at.Before(t0.Add(sweepDuration)); at = at.Add(defaultSweepFrame) {
		rr = Reduce(rr.State, TaskTick{Task: TaskSweep, Run: run, Now: at}, cfg)
		frames++
		assert.True(t, rr.State.Modes.StartingUp)
		assert.LessOrEqual(t, rr.State.Sweep.Display, maxSpeed)
	}
	assert.Greater(t, frames, 40)

	rr = Reduce(rr.State, TaskTick{Task: TaskSweep, Run: run, Now: t0.Add(sweepDuration)}, cfg)
	assert.True(t, rr.State.Modes.SystemActive)
	assert.False(t, rr.State.Modes.StartingUp)

	var done bool
	for _, b := range rr.Broadcasts {
		if f, ok := b.(BroadcastSweepFrame); ok && f.Done {
			done = true
		}
	}
	assert.True(t, done)
	assert.Contains(t, rr.Commands, Command(CmdStopTask{Task: TaskSweep}))
}
