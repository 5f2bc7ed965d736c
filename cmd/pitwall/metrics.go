package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Console counters and gauges. Labels stay low-cardinality: event/command
// kinds and task names only.

var (
	// Reducer
	ReducerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitwall",
		Subsystem: "reducer",
		Name:      "events_total",
		Help:      "Total events reduced, by kind",
	}, []string{"kind"})

	ReducerRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitwall",
		Subsystem: "reducer",
		Name:      "rejected_total",
		Help:      "Operator actions refused by mode policy",
	}, []string{"kind"})

	ReducerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pitwall",
		Subsystem: "reducer",
		Name:      "reduce_duration_seconds",
		Help:      "Time spent reducing one event including its follow-ups",
		Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	// Scheduler
	TaskTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitwall",
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Task ticks delivered to the daemon",
	}, []string{"task"})

	OrphanTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pitwall",
		Subsystem: "scheduler",
		Name:      "orphan_ticks_total",
		Help:      "Ticks dropped because their run was retired",
	})

	// Link
	LinkCommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitwall",
		Subsystem: "link",
		Name:      "commands_sent_total",
		Help:      "Commands written to the vehicle link",
	}, []string{"command"})

	LinkCommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitwall",
		Subsystem: "link",
		Name:      "command_errors_total",
		Help:      "Commands that failed to send (never retried)",
	}, []string{"command"})

	LinkCommandsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pitwall",
		Subsystem: "link",
		Name:      "commands_dropped_total",
		Help:      "Commands dropped because the dispatch queue was full",
	})

	LinkUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pitwall",
		Subsystem: "link",
		Name:      "connected",
		Help:      "1 while the vehicle link is connected",
	})

	// Vehicle
	VehicleSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pitwall",
		Subsystem: "vehicle",
		Name:      "speed",
		Help:      "Integrated speed value (0-100)",
	})

	AutopilotTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitwall",
		Subsystem: "autopilot",
		Name:      "transitions_total",
		Help:      "Autopilot status entries, by status",
	}, []string{"status"})

	// Telemetry
	TelemetryClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pitwall",
		Subsystem: "telemetry",
		Name:      "clients",
		Help:      "Connected telemetry WebSocket clients",
	})

	TelemetryDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitwall",
		Subsystem: "telemetry",
		Name:      "dropped_total",
		Help:      "Telemetry messages dropped, by reason",
	}, []string{"reason"})

	RecorderErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pitwall",
		Subsystem: "recorder",
		Name:      "errors_total",
		Help:      "Failed telemetry stream appends",
	})
)
