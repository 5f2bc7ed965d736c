package main

import (
	"math"
	"time"
)

// ==============================
// Broadcasts (telemetry)
// ==============================

// StateBroadcast is a reducer-emitted, externally consumable state change.
// The telemetry broadcaster and the recorder consume these; they never see
// ConsoleState directly.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastSpeedChanged is emitted when the speed, rounded to 0.1, changes.
type BroadcastSpeedChanged struct {
	Speed float64
	At    time.Time
}

type BroadcastModesChanged struct {
	Modes      ModeFlags
	SpeedLimit float64
	At         time.Time
}

// BroadcastControlsChanged covers steering, pedals and gear (not speed).
type BroadcastControlsChanged struct {
	Control ControlState
	At      time.Time
}

type BroadcastAutopilotChanged struct {
	Autopilot AutopilotTelemetry
	At        time.Time
}

type BroadcastSensorsChanged struct {
	Distances      Distances
	ReportedStatus AutopilotStatus
	At             time.Time
}

type BroadcastVitalsChanged struct {
	Vitals Vitals
	At     time.Time
}

type BroadcastTuningChanged struct {
	Values map[string]float64
	At     time.Time
}

type BroadcastLinkChanged struct {
	Link LinkState
	At   time.Time
}

// BroadcastSweepFrame is one gauge position during the power-on sweep.
type BroadcastSweepFrame struct {
	Display float64
	Done    bool
	At      time.Time
}

func (BroadcastSpeedChanged) broadcastMarker()     {}
func (BroadcastModesChanged) broadcastMarker()     {}
func (BroadcastControlsChanged) broadcastMarker()  {}
func (BroadcastAutopilotChanged) broadcastMarker() {}
func (BroadcastSensorsChanged) broadcastMarker()   {}
func (BroadcastVitalsChanged) broadcastMarker()    {}
func (BroadcastTuningChanged) broadcastMarker()    {}
func (BroadcastLinkChanged) broadcastMarker()      {}
func (BroadcastSweepFrame) broadcastMarker()       {}

// StateSnapshot is a coherent copy of the console state for new telemetry
// clients and the control tool.
type StateSnapshot struct {
	Run        RunID              `json:"run,omitempty"`
	Control    ControlState       `json:"control"`
	Modes      ModeFlags          `json:"modes"`
	SpeedLimit float64            `json:"speed_limit"`
	Autopilot  AutopilotTelemetry `json:"autopilot"`
	Sensors    *Distances         `json:"sensors,omitempty"`
	Vitals     Vitals             `json:"vitals"`
	Tuning     map[string]float64 `json:"tuning"`
	Link       LinkState          `json:"link"`
	At         time.Time          `json:"at"`
}

// Snapshot copies the externally visible state.
func (s *ConsoleState) Snapshot(now time.Time) StateSnapshot {
	snap := StateSnapshot{
		Run:        s.Run,
		Control:    s.Control,
		Modes:      s.Modes,
		SpeedLimit: s.SpeedLimit,
		Autopilot:  s.Autopilot.Telemetry(),
		Vitals:     s.Vitals,
		Tuning:     s.Tuning.Values(),
		Link:       s.Link,
		At:         now,
	}
	if s.Sensors.Known {
		d := s.Sensors.Latest
		snap.Sensors = &d
	}
	return snap
}

// roundTenth matches the precision of the speed gauge.
func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// diffBroadcasts compares the externally visible parts of two states.
func diffBroadcasts(prev, next *ConsoleState, at time.Time) []StateBroadcast {
	var out []StateBroadcast

	if roundTenth(prev.Control.Speed) != roundTenth(next.Control.Speed) {
		out = append(out, BroadcastSpeedChanged{Speed: roundTenth(next.Control.Speed), At: at})
	}
	if prev.Modes != next.Modes || prev.SpeedLimit != next.SpeedLimit {
		out = append(out, BroadcastModesChanged{Modes: next.Modes, SpeedLimit: next.SpeedLimit, At: at})
	}
	pc, nc := prev.Control, next.Control
	pc.Speed, nc.Speed = 0, 0
	if pc != nc {
		out = append(out, BroadcastControlsChanged{Control: next.Control, At: at})
	}
	if pa, na := prev.Autopilot.Telemetry(), next.Autopilot.Telemetry(); pa != na {
		out = append(out, BroadcastAutopilotChanged{Autopilot: na, At: at})
	}
	if prev.Sensors.Latest != next.Sensors.Latest || prev.Sensors.Known != next.Sensors.Known ||
		prev.Sensors.ReportedStatus != next.Sensors.ReportedStatus {
		out = append(out, BroadcastSensorsChanged{
			Distances:      next.Sensors.Latest,
			ReportedStatus: next.Sensors.ReportedStatus,
			At:             at,
		})
	}
	if prev.Vitals != next.Vitals {
		out = append(out, BroadcastVitalsChanged{Vitals: next.Vitals, At: at})
	}
	if prev.Tuning != next.Tuning {
		out = append(out, BroadcastTuningChanged{Values: next.Tuning.Values(), At: at})
	}
	if prev.Link != next.Link {
		out = append(out, BroadcastLinkChanged{Link: next.Link, At: at})
	}
	return out
}
