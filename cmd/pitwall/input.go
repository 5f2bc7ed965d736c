package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// readInputEvents reads input events from a single device and sends them to a
// channel. It blocks on read; closing f ends it with an error on readErr.
func readInputEvents(f *os.File, events chan<- inputEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- ev
	}
}

// ============================================================================
// Wheel / pedal / keyboard translation
// ============================================================================

// InputMapping calibrates raw device axes.
type InputMapping struct {
	SteeringAxisMax int32 // ABS_X full-scale value (centre is half)
	PedalAxisMax    int32
	PedalDeadzone   float64 // fraction of travel ignored at rest
	InvertPedals    bool    // most wheels report released as full-scale
	MaxSteeringDeg  float64
}

// inputMapper turns evdev events into operator actions. It only keeps enough
// state to report edges (pedal crossed the deadzone, steering degree changed);
// mode policy stays in the reducer.
type inputMapper struct {
	cfg InputMapping

	throttle  bool
	brake     bool
	steerDeg  float64
	steerSeen bool
}

func newInputMapper(cfg InputMapping) *inputMapper {
	if cfg.SteeringAxisMax <= 0 {
		cfg.SteeringAxisMax = defaultSteeringAxisRange
	}
	if cfg.PedalAxisMax <= 0 {
		cfg.PedalAxisMax = defaultPedalAxisRange
	}
	if cfg.MaxSteeringDeg <= 0 {
		cfg.MaxSteeringDeg = defaultMaxSteer
	}
	return &inputMapper{cfg: cfg}
}

// keyToggles maps keys to ToggleMode on press.
var keyToggles = map[uint16]string{
	KEY_SPACE: ModeEmergencyStop,
	KEY_A:     ModeAuto,
	KEY_P:     ModeAutopilot,
	KEY_S:     ModeSonar,
	KEY_I:     ModeInfrared,
	KEY_L:     ModeSpeedLimit,
	KEY_F1:    ModeSystem,
}

// translate returns the actions for one input event, or nil.
func (m *inputMapper) translate(ev inputEvent) []Action {
	switch ev.Type {
	case EV_ABS:
		return m.translateAxis(ev)
	case EV_REL:
		switch ev.Code {
		case REL_DIAL, REL_WHEEL, REL_MISC:
			if ev.Value != 0 {
				return []Action{SteeringDialTurn{Steps: int(ev.Value)}}
			}
		}
		return nil
	case EV_KEY:
		return m.translateKey(ev)
	}
	return nil
}

func (m *inputMapper) translateAxis(ev inputEvent) []Action {
	switch ev.Code {
	case ABS_X:
		half := float64(m.cfg.SteeringAxisMax) / 2
		deg := math.Round((float64(ev.Value) - half) / half * m.cfg.MaxSteeringDeg)
		deg = clamp(deg, -m.cfg.MaxSteeringDeg, m.cfg.MaxSteeringDeg)
		if m.steerSeen && deg == m.steerDeg {
			return nil
		}
		m.steerSeen = true
		m.steerDeg = deg
		return []Action{SetSteering{Degrees: deg}}

	case ABS_RZ, ABS_GAS:
		pressed := m.pedalPressed(ev.Value)
		if pressed == m.throttle {
			return nil
		}
		m.throttle = pressed
		return []Action{SetThrottle{Active: pressed}}

	case ABS_Z, ABS_BRAKE:
		pressed := m.pedalPressed(ev.Value)
		if pressed == m.brake {
			return nil
		}
		m.brake = pressed
		return []Action{SetBrake{Active: pressed}}
	}
	return nil
}

func (m *inputMapper) pedalPressed(v int32) bool {
	travel := float64(v) / float64(m.cfg.PedalAxisMax)
	if m.cfg.InvertPedals {
		travel = 1 - travel
	}
	return travel > m.cfg.PedalDeadzone
}

func (m *inputMapper) translateKey(ev inputEvent) []Action {
	held := ev.Value == evValuePress || ev.Value == evValueRepeat

	switch ev.Code {
	// Arrow keys stand in for pedals on a keyboard.
	case KEY_UP:
		if ev.Value == evValueRepeat {
			return nil
		}
		return []Action{SetThrottle{Active: held}}
	case KEY_DOWN:
		if ev.Value == evValueRepeat {
			return nil
		}
		return []Action{SetBrake{Active: held}}
	}

	if ev.Value != evValuePress {
		return nil
	}

	switch ev.Code {
	case BTN_GEAR_UP:
		return []Action{ShiftGear{Delta: 1}}
	case BTN_GEAR_DOWN:
		return []Action{ShiftGear{Delta: -1}}
	case KEY_ESC:
		return []Action{SetSystemActive{Active: false}}
	case KEY_F2:
		return []Action{Maneuver{Name: "launch"}}
	case KEY_D:
		return []Action{Maneuver{Name: "donut"}}
	}
	if mode, ok := keyToggles[ev.Code]; ok {
		return []Action{ToggleMode{Mode: mode}}
	}
	return nil
}
