package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Gear is the selected transmission gear.
type Gear string

const (
	GearReverse Gear = "R"
	GearNeutral Gear = "N"
	GearFirst   Gear = "1"
	GearSecond  Gear = "2"
	GearThird   Gear = "3"
	GearSport   Gear = "S"
)

// gearOrder is the shifter sequence used by paddle shifts.
var gearOrder = []Gear{GearReverse, GearNeutral, GearFirst, GearSecond, GearThird, GearSport}

var gearMultipliers = map[Gear]float64{
	GearReverse: -0.3,
	GearNeutral: 0,
	GearFirst:   0.5,
	GearSecond:  0.7,
	GearThird:   0.9,
	GearSport:   1.2,
}

// ParseGear validates a gear string.
func ParseGear(s string) (Gear, error) {
	g := Gear(s)
	if _, ok := gearMultipliers[g]; !ok {
		return "", fmt.Errorf("unknown gear %q (must be one of R, N, 1, 2, 3, S)", s)
	}
	return g, nil
}

func shiftGear(g Gear, delta int) Gear {
	idx := 1
	for i, o := range gearOrder {
		if o == g {
			idx = i
			break
		}
	}
	idx += delta
	if idx < 0 {
		idx = 0
	}
	if idx >= len(gearOrder) {
		idx = len(gearOrder) - 1
	}
	return gearOrder[idx]
}

// RunID identifies one power-on cycle. Ticks from a retired run are ignored.
type RunID string

func newRunID() RunID { return RunID(uuid.NewString()) }

// ConsoleState is the daemon-owned state container.
//
// Only the daemon goroutine touches it; everything else sees snapshots
// (StateSnapshot) or reducer-emitted broadcasts.
type ConsoleState struct {
	Control    ControlState
	Modes      ModeFlags
	SpeedLimit float64

	Run   RunID
	Sweep SweepState

	Autopilot AutopilotState
	Tuning    TuningConfig

	Sensors SensorState
	Vitals  Vitals
	Link    LinkState

	// Dial is the steering dial velocity window (reducer-owned).
	Dial DialReducerState

	Intent ConsoleIntent
}

// ControlState is the operator/vehicle drive state.
type ControlState struct {
	SteeringDeg float64 `json:"steering_deg"`
	Throttle    bool    `json:"throttle"`
	Brake       bool    `json:"brake"`
	Gear        Gear    `json:"gear"`
	Speed       float64 `json:"speed"`
}

// ModeFlags are updated only through the supervisor transitions.
type ModeFlags struct {
	SystemActive      bool `json:"system_active"`
	StartingUp        bool `json:"starting_up"`
	AutoMode          bool `json:"auto_mode"`
	EmergencyStop     bool `json:"emergency_stop"`
	AutopilotOn       bool `json:"autopilot"`
	SpeedLimitEnabled bool `json:"speed_limit_enabled"`
	SonarEnabled      bool `json:"sonar"`
	IREnabled         bool `json:"infrared"`
}

// SweepState tracks the power-on gauge sweep.
type SweepState struct {
	StartedAt time.Time
	Display   float64
}

// SensorState is the last known sonar picture.
type SensorState struct {
	Latest Distances
	Known  bool
	At     time.Time

	// ReportedStatus is the vehicle's own status hint, if it sends one.
	ReportedStatus AutopilotStatus
}

// LinkState is the console's view of the vehicle link.
type LinkState struct {
	Connected  bool   `json:"connected"`
	Connecting bool   `json:"connecting"`
	Addr       string `json:"addr"`
	LastError  string `json:"last_error,omitempty"`

	// Attempt numbers dials so a late result can be told apart from the
	// current one, even for the same address.
	Attempt uint64 `json:"-"`
}

// ConsoleIntent holds inputs that are coalesced and flushed on the next
// integrator tick (latest wins).
type ConsoleIntent struct {
	SteeringDeg *float64
}

// NewConsoleState returns the power-off state.
func NewConsoleState(tuning TuningConfig) *ConsoleState {
	return &ConsoleState{
		Control:    ControlState{Gear: GearNeutral},
		SpeedLimit: maxSpeedLimit,
		Autopilot:  NewAutopilotState(),
		Tuning:     tuning,
	}
}

// Ceiling is the speed cap for the current mode.
func (s *ConsoleState) Ceiling() float64 {
	if s.Modes.SpeedLimitEnabled {
		return s.SpeedLimit
	}
	return maxSpeed
}

// InputsAccepted reports whether drive inputs are live: powered on and the
// startup sweep finished.
func (s *ConsoleState) InputsAccepted() bool {
	return s.Modes.SystemActive && !s.Modes.StartingUp
}

func (s *ConsoleState) setSteeringIntent(deg float64) {
	s.Intent.SteeringDeg = &deg
}

// consumeSteeringIntent returns (value, true) if a steering change is pending.
func (s *ConsoleState) consumeSteeringIntent() (float64, bool) {
	if s.Intent.SteeringDeg == nil {
		return 0, false
	}
	v := *s.Intent.SteeringDeg
	s.Intent.SteeringDeg = nil
	return v, true
}
