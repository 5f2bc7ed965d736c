package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Operator Actions
// ============================================================================
// Actions represent operator intent from any source (wheel/pedals, IPC,
// control tool). The daemon loop wraps them in TimedEvent and the reducer
// applies mode policy.
// ============================================================================

// Action is a marker interface for operator actions.
type Action interface {
	eventMarker()
}

// SetSystemActive powers the console on (startup sweep first) or off.
type SetSystemActive struct {
	Active bool `json:"active"`
}

// SetEmergencyStop latches or releases the emergency stop.
type SetEmergencyStop struct {
	Active bool `json:"active"`
}

// SetAutoMode toggles synthetic held throttle.
type SetAutoMode struct {
	Active bool `json:"active"`
}

// SetAutopilot engages or disengages the obstacle-avoidance automaton.
type SetAutopilot struct {
	Active bool `json:"active"`
}

// SetSpeedLimit enables a speed ceiling. Value is clamped to 10..100.
type SetSpeedLimit struct {
	Enabled bool    `json:"enabled"`
	Value   float64 `json:"value"`
}

type SetThrottle struct {
	Active bool `json:"active"`
}

type SetBrake struct {
	Active bool `json:"active"`
}

type SetGear struct {
	Gear Gear `json:"gear"`
}

// ShiftGear moves along R N 1 2 3 S (paddles).
type ShiftGear struct {
	Delta int `json:"delta"`
}

// SetSteering sets the wheel angle in signed degrees.
type SetSteering struct {
	Degrees float64 `json:"degrees"`
}

// SteeringDialTurn is a raw rotary detent count; the reducer applies
// velocity scaling.
type SteeringDialTurn struct {
	Steps int `json:"steps"`
}

type SetSonar struct {
	Enabled bool `json:"enabled"`
}

type SetInfrared struct {
	Enabled bool `json:"enabled"`
}

// ToggleMode flips a named mode relative to current state. Input devices use
// it because they do not know the current state.
type ToggleMode struct {
	Mode string `json:"mode"`
}

// Maneuver asks the vehicle to run a canned move ("launch", "donut").
type Maneuver struct {
	Name string `json:"name"`
}

// ConnectLink dials the vehicle link.
type ConnectLink struct {
	Addr string `json:"addr"`
}

type DisconnectLink struct{}

// SetTuning edits one tuning parameter.
type SetTuning struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type ResetTuning struct{}

func (SetSystemActive) eventMarker()  {}
func (SetEmergencyStop) eventMarker() {}
func (SetAutoMode) eventMarker()      {}
func (SetAutopilot) eventMarker()     {}
func (SetSpeedLimit) eventMarker()    {}
func (SetThrottle) eventMarker()      {}
func (SetBrake) eventMarker()         {}
func (SetGear) eventMarker()          {}
func (ShiftGear) eventMarker()        {}
func (SetSteering) eventMarker()      {}
func (SteeringDialTurn) eventMarker() {}
func (SetSonar) eventMarker()         {}
func (SetInfrared) eventMarker()      {}
func (ToggleMode) eventMarker()       {}
func (Maneuver) eventMarker()         {}
func (ConnectLink) eventMarker()      {}
func (DisconnectLink) eventMarker()   {}
func (SetTuning) eventMarker()        {}
func (ResetTuning) eventMarker()      {}

// Toggleable mode names accepted by ToggleMode.
const (
	ModeSystem        = "system"
	ModeEmergencyStop = "emergency_stop"
	ModeAuto          = "auto_mode"
	ModeAutopilot     = "autopilot"
	ModeSpeedLimit    = "speed_limit"
	ModeSonar         = "sonar"
	ModeInfrared      = "infrared"
)

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an action with a type discriminator for JSON.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// actionTypes maps wire names to zero values of each action.
var actionTypes = map[string]func() Action{
	"system_active":  func() Action { return &SetSystemActive{} },
	"emergency_stop": func() Action { return &SetEmergencyStop{} },
	"auto_mode":      func() Action { return &SetAutoMode{} },
	"autopilot":      func() Action { return &SetAutopilot{} },
	"speed_limit":    func() Action { return &SetSpeedLimit{} },
	"throttle":       func() Action { return &SetThrottle{} },
	"brake":          func() Action { return &SetBrake{} },
	"gear":           func() Action { return &SetGear{} },
	"shift_gear":     func() Action { return &ShiftGear{} },
	"steering":       func() Action { return &SetSteering{} },
	"steering_dial":  func() Action { return &SteeringDialTurn{} },
	"sonar":          func() Action { return &SetSonar{} },
	"infrared":       func() Action { return &SetInfrared{} },
	"toggle_mode":    func() Action { return &ToggleMode{} },
	"maneuver":       func() Action { return &Maneuver{} },
	"connect":        func() Action { return &ConnectLink{} },
	"disconnect":     func() Action { return &DisconnectLink{} },
	"set_tuning":     func() Action { return &SetTuning{} },
	"reset_tuning":   func() Action { return &ResetTuning{} },
}

// UnmarshalEvent deserializes a JSON envelope into a concrete action value.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	mk, ok := actionTypes[env.Type]
	if !ok {
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
	ptr := mk()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ptr); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
	}
	return derefAction(ptr), nil
}

// derefAction turns the decode pointer back into the value type the reducer
// switches on.
func derefAction(a Action) Action {
	switch p := a.(type) {
	case *SetSystemActive:
		return *p
	case *SetEmergencyStop:
		return *p
	case *SetAutoMode:
		return *p
	case *SetAutopilot:
		return *p
	case *SetSpeedLimit:
		return *p
	case *SetThrottle:
		return *p
	case *SetBrake:
		return *p
	case *SetGear:
		return *p
	case *ShiftGear:
		return *p
	case *SetSteering:
		return *p
	case *SteeringDialTurn:
		return *p
	case *SetSonar:
		return *p
	case *SetInfrared:
		return *p
	case *ToggleMode:
		return *p
	case *Maneuver:
		return *p
	case *ConnectLink:
		return *p
	case *DisconnectLink:
		return *p
	case *SetTuning:
		return *p
	case *ResetTuning:
		return *p
	}
	return a
}

// MarshalEvent serializes an action into a JSON envelope.
func MarshalEvent(e Event) ([]byte, error) {
	name, ok := actionName(e)
	if !ok {
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}
	env := EventEnvelope{Type: name}
	switch e.(type) {
	case DisconnectLink, ResetTuning:
	default:
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

func actionName(e Event) (string, bool) {
	switch e.(type) {
	case SetSystemActive:
		return "system_active", true
	case SetEmergencyStop:
		return "emergency_stop", true
	case SetAutoMode:
		return "auto_mode", true
	case SetAutopilot:
		return "autopilot", true
	case SetSpeedLimit:
		return "speed_limit", true
	case SetThrottle:
		return "throttle", true
	case SetBrake:
		return "brake", true
	case SetGear:
		return "gear", true
	case ShiftGear:
		return "shift_gear", true
	case SetSteering:
		return "steering", true
	case SteeringDialTurn:
		return "steering_dial", true
	case SetSonar:
		return "sonar", true
	case SetInfrared:
		return "infrared", true
	case ToggleMode:
		return "toggle_mode", true
	case Maneuver:
		return "maneuver", true
	case ConnectLink:
		return "connect", true
	case DisconnectLink:
		return "disconnect", true
	case SetTuning:
		return "set_tuning", true
	case ResetTuning:
		return "reset_tuning", true
	}
	return "", false
}
