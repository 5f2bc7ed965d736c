package main

import "math"

// EffectiveInputs are the drive signals the integrator acts on after mode
// arbitration.
type EffectiveInputs struct {
	ThrottleActive bool
	BrakeActive    bool
	Gear           Gear
	Ceiling        float64
}

// effectiveInputs resolves raw operator intent against the mode flags.
// Auto mode stands in for a held throttle; an engaged autopilot replaces the
// operator's inputs with the automaton's drive request.
func (s *ConsoleState) effectiveInputs() EffectiveInputs {
	in := EffectiveInputs{
		ThrottleActive: s.Control.Throttle || s.Modes.AutoMode,
		BrakeActive:    s.Control.Brake,
		Gear:           s.Control.Gear,
		Ceiling:        s.Ceiling(),
	}
	if s.Modes.AutopilotOn {
		d := s.Autopilot.Drive()
		in.ThrottleActive = d.Throttle
		in.BrakeActive = d.Brake
		in.Gear = d.Gear
		in.Ceiling = math.Min(in.Ceiling, d.Target)
	}
	return in
}

// stepSpeed advances Control.Speed by one integrator tick.
func (s *ConsoleState) stepSpeed() {
	if s.Modes.EmergencyStop {
		s.Control.Speed = 0
		s.Control.Throttle = false
		return
	}
	if !s.Modes.SystemActive {
		s.Control.Speed = 0
		return
	}

	in := s.effectiveInputs()
	m := gearMultipliers[in.Gear]
	speed := s.Control.Speed

	switch {
	case in.ThrottleActive && !in.BrakeActive && in.Gear != GearNeutral:
		speed = clamp(speed+throttleGain*m, 0, in.Ceiling)
	case in.BrakeActive:
		speed = math.Max(0, speed-brakeDecel)
	default:
		speed = math.Max(0, speed-coastDecel)
	}

	// Speed is a magnitude; direction lives in the gear.
	speed = math.Max(0, speed)
	s.Control.Speed = math.Min(speed, s.Ceiling())
}
