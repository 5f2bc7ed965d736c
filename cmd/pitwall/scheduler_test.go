package main

import (
	"context"
	"testing"
	"time"
)

func nextTick(t *testing.T, ch <-chan Event, timeout time.Duration) TaskTick {
	t.Helper()
	select {
	case ev := <-ch:
		tick, ok := ev.(TaskTick)
		if !ok {
			t.Fatalf("expected TaskTick, got %T", ev)
		}
		return tick
	case <-time.After(timeout):
		t.Fatalf("no tick within %s", timeout)
	}
	return TaskTick{}
}

func TestTickerScheduler_TicksCarryTaskAndRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Event, 8)
	s := newTickerScheduler(ctx, out)
	defer s.StopAll()

	s.Start(TaskIntegrator, 5*time.Millisecond, "run-7")

	first := nextTick(t, out, time.Second)
	if first.Task != TaskIntegrator || first.Run != "run-7" {
		t.Fatalf("unexpected tick %+v", first)
	}
	if first.Dt != 0 {
		t.Fatalf("first tick should have Dt=0, got %v", first.Dt)
	}

	second := nextTick(t, out, time.Second)
	if second.Dt <= 0 {
		t.Fatalf("expected positive Dt on second tick, got %v", second.Dt)
	}
}

func TestTickerScheduler_StopHaltsTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Event, 64)
	s := newTickerScheduler(ctx, out)

	s.Start(TaskSensors, 2*time.Millisecond, "run-1")
	nextTick(t, out, time.Second)
	s.Stop(TaskSensors)

	// Drain anything buffered before Stop returned.
	for len(out) > 0 {
		<-out
	}
	select {
	case ev := <-out:
		t.Fatalf("tick after Stop: %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestTickerScheduler_StartReplacesRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Event, 64)
	s := newTickerScheduler(ctx, out)
	defer s.StopAll()

	s.Start(TaskAutopilot, 2*time.Millisecond, "run-1")
	nextTick(t, out, time.Second)
	s.Start(TaskAutopilot, 2*time.Millisecond, "run-2")
	for len(out) > 0 {
		<-out
	}

	for i := 0; i < 3; i++ {
		if tick := nextTick(t, out, time.Second); tick.Run != "run-2" {
			t.Fatalf("expected ticks from run-2 only, got %q", tick.Run)
		}
	}
}

func TestTickerScheduler_StopAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Event, 64)
	s := newTickerScheduler(ctx, out)

	s.Start(TaskIntegrator, 2*time.Millisecond, "run-1")
	s.Start(TaskVitals, 2*time.Millisecond, "run-1")
	nextTick(t, out, time.Second)
	s.StopAll()

	for len(out) > 0 {
		<-out
	}
	select {
	case ev := <-out:
		t.Fatalf("tick after StopAll: %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestTickerScheduler_IgnoresNonPositivePeriod(t *testing.T) {
	out := make(chan Event, 1)
	s := newTickerScheduler(context.Background(), out)
	s.Start(TaskSweep, 0, "run-1")

	s.mu.Lock()
	n := len(s.tasks)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no task for a zero period, got %d", n)
	}
}
