package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ============================================================================
// Central Daemon Loop - Reducer-driven console brain
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands + broadcasts.
//   - The daemon loop is the only place that executes side effects.
//   - Feed readings and link results are turned into Events and fed back into
//     the reducer.
//   - Explicit event and command queues (no nested/re-entrant execution).
//
// ============================================================================

// runDaemon is the main daemon loop that:
//   - Receives operator Events and scheduler TaskTicks
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands and feeds observations back into the reducer
//   - Publishes broadcasts to every telemetry consumer without blocking
//
// Shutdown semantics:
//   - Exits when ctx is canceled (all tasks are stopped first)
//   - Exits cleanly when the events channel is closed
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	ticks <-chan Event,
	fx *Effects,
	state *ConsoleState,
	cfg ConsoleConfig,
	broadcasts []chan<- StateBroadcast,
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("console state is nil")
		return
	}
	defer fx.Scheduler.StopAll()

	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	var mirror metricsMirror
	publish := func(bs []StateBroadcast) {
		for _, b := range bs {
			mirror.observe(b)
			for _, ch := range broadcasts {
				select {
				case ch <- b:
				default:
					TelemetryDropped.WithLabelValues("daemon_queue_full").Inc()
				}
			}
		}
	}

	// Reduce all queued events, enqueuing any resulting commands.
	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			kind := eventKind(ev)
			ReducerEventsTotal.WithLabelValues(kind).Inc()

			rr := Reduce(state, ev, cfg)
			if rr.State != nil {
				state = rr.State
			}
			if rr.Rejected != nil {
				ReducerRejectedTotal.WithLabelValues(kind).Inc()
				logger.Debug("action refused", "action", kind, "reason", rr.Rejected)
				continue
			}
			if tick, ok := ev.(TaskTick); ok && tick.Run != state.Run {
				OrphanTicksTotal.Inc()
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	// Execute all queued commands, enqueuing observation events.
	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(ctx, fx, cmd, logger, enqueueEvent)

			// Observations are reduced promptly so follow-up commands run in order.
			flushEvents()
		}
	}

	handle := func(ev Event) {
		start := time.Now()
		enqueueEvent(ev)
		flushEvents()
		flushCommands()
		ReducerLatency.Observe(time.Since(start).Seconds())
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			handle(stampEvent(ev, time.Now()))

		case tick := <-ticks:
			if t, ok := tick.(TaskTick); ok {
				TaskTicksTotal.WithLabelValues(string(t.Task)).Inc()
			}
			handle(tick)
		}
	}
}

// stampEvent wraps operator actions in TimedEvent. Internal events already
// carry their own timestamps.
func stampEvent(ev Event, now time.Time) Event {
	switch ev.(type) {
	case TimedEvent, TaskTick, SensorsObserved, VitalsObserved,
		LinkConnected, LinkFailed, CommandFailed:
		return ev
	}
	return TimedEvent{Event: ev, At: now}
}

// eventKind is a low-cardinality label for metrics and logs.
func eventKind(ev Event) string {
	switch e := ev.(type) {
	case TimedEvent:
		if name, ok := actionName(e.Event); ok {
			return name
		}
		return eventKind(e.Event)
	case TaskTick:
		return "tick_" + string(e.Task)
	}
	name := fmt.Sprintf("%T", ev)
	return strings.ToLower(strings.TrimPrefix(name, "main."))
}

// metricsMirror copies telemetry into gauges and counts autopilot status
// entries (not every accel change).
type metricsMirror struct {
	status AutopilotStatus
}

func (m *metricsMirror) observe(b StateBroadcast) {
	switch b := b.(type) {
	case BroadcastSpeedChanged:
		VehicleSpeed.Set(b.Speed)
	case BroadcastAutopilotChanged:
		if b.Autopilot.Status != m.status {
			m.status = b.Autopilot.Status
			AutopilotTransitions.WithLabelValues(string(b.Autopilot.Status)).Inc()
		}
	}
}
