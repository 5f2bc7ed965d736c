package main

import (
	"fmt"
	"math"
	"time"
)

// ConsoleConfig holds reducer policy that is fixed for the process lifetime.
type ConsoleConfig struct {
	IntegratorPeriod time.Duration
	AutopilotPeriod  time.Duration
	SensorPeriod     time.Duration
	VitalsPeriod     time.Duration
	SweepFrame       time.Duration

	MaxSteeringDeg float64
	LinkAddr       string
	Dial           DialConfig

	// NewRunID mints the id for a power-on cycle.
	NewRunID func() RunID
}

// DefaultConsoleConfig returns production timings.
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		IntegratorPeriod: defaultIntegratorPeriod,
		AutopilotPeriod:  defaultAutopilotPeriod,
		SensorPeriod:     defaultSensorPeriod,
		VitalsPeriod:     defaultVitalsPeriod,
		SweepFrame:       defaultSweepFrame,
		MaxSteeringDeg:   defaultMaxSteer,
		Dial: DialConfig{
			DegPerStep:         defaultDialDegPerStep,
			VelocityWindowMS:   defaultDialVelocityWindowMS,
			VelocityThreshold:  defaultDialVelocityThreshold,
			VelocityMultiplier: defaultDialVelocityMultiplier,
		},
		NewRunID: newRunID,
	}
}

// errTransition explains why a supervisor transition was refused.
type errTransition struct {
	op     string
	reason string
}

func (e errTransition) Error() string { return fmt.Sprintf("%s refused: %s", e.op, e.reason) }

// Refusal reasons.
const (
	reasonEmergencyStop = "emergency stop active"
	reasonNotReady      = "system not accepting inputs"
	reasonAutopilot     = "autopilot engaged"
)

// emit queues a link command when the link is up. Commands are never
// buffered for a later connection.
func (s *ConsoleState) emit(name string, value any) []Command {
	if !s.Link.Connected {
		return nil
	}
	return []Command{CmdSend{Link: LinkCommand{Name: name, Value: value}}}
}

// manualInputError reports why a manual drive input cannot be applied now.
func (s *ConsoleState) manualInputError(op string) error {
	switch {
	case !s.InputsAccepted():
		return errTransition{op: op, reason: reasonNotReady}
	case s.Modes.AutopilotOn:
		return errTransition{op: op, reason: reasonAutopilot}
	}
	return nil
}

// setEmergencyStop is always permitted. Activation drops the throttle and
// auto mode on the same transition.
func (s *ConsoleState) setEmergencyStop(active bool) ([]Command, error) {
	if s.Modes.EmergencyStop == active {
		return nil, nil
	}
	s.Modes.EmergencyStop = active
	if active {
		s.Control.Throttle = false
		s.Modes.AutoMode = false
	}
	return s.emit(linkEmergencyStop, active), nil
}

func (s *ConsoleState) setAutoMode(active bool) ([]Command, error) {
	if active && s.Modes.EmergencyStop {
		return nil, errTransition{op: "auto_mode", reason: reasonEmergencyStop}
	}
	if err := s.manualInputError("auto_mode"); err != nil {
		return nil, err
	}
	if s.Modes.AutoMode == active {
		return nil, nil
	}
	s.Modes.AutoMode = active
	return s.emit(linkAutoMode, active), nil
}

// setAutopilot engages or disengages the automaton. Either way the automaton
// starts from CRUISING with empty history.
func (s *ConsoleState) setAutopilot(active bool, cfg ConsoleConfig) ([]Command, error) {
	if active {
		if s.Modes.EmergencyStop {
			return nil, errTransition{op: "autopilot", reason: reasonEmergencyStop}
		}
		if !s.InputsAccepted() {
			return nil, errTransition{op: "autopilot", reason: reasonNotReady}
		}
	}
	if s.Modes.AutopilotOn == active {
		return nil, nil
	}

	s.Modes.AutopilotOn = active
	s.Autopilot.Reset()

	cmds := s.emit(linkAutopilot, active)
	if active {
		cmds = append(cmds, CmdStartTask{Task: TaskAutopilot, Period: cfg.AutopilotPeriod, Run: s.Run})
	} else {
		cmds = append(cmds, CmdStopTask{Task: TaskAutopilot})
	}
	return cmds, nil
}

// setSystemActive powers the console on or off.
//
// Power-on only starts the gauge sweep; SystemActive flips when the sweep
// completes (see finishSweep). Power-off is unconditional and retires the
// run so ticks already queued for it are dropped.
func (s *ConsoleState) setSystemActive(active bool, now time.Time, cfg ConsoleConfig) ([]Command, error) {
	if active {
		if s.Modes.SystemActive || s.Modes.StartingUp {
			return nil, nil
		}
		s.Run = cfg.NewRunID()
		s.Modes.StartingUp = true
		s.Sweep = SweepState{StartedAt: now}
		cmds := []Command{CmdStartTask{Task: TaskSweep, Period: cfg.SweepFrame, Run: s.Run}}
		return append(cmds, s.emit(linkPower, "start")...), nil
	}

	wasOn := s.Modes.SystemActive || s.Modes.StartingUp
	s.powerOff()
	cmds := []Command{CmdStopAllTasks{}}
	if wasOn {
		cmds = append(cmds, s.emit(linkPower, "stop")...)
	}
	return cmds, nil
}

func (s *ConsoleState) powerOff() {
	s.Run = ""
	s.Control.Speed = 0
	s.Control.Throttle = false
	s.Control.Brake = false
	s.Control.Gear = GearNeutral
	s.Modes.SystemActive = false
	s.Modes.StartingUp = false
	s.Modes.AutoMode = false
	s.Modes.EmergencyStop = false
	s.Modes.AutopilotOn = false
	s.Autopilot.Reset()
	s.Sweep = SweepState{}
	s.Intent = ConsoleIntent{}
}

// finishSweep completes power-on and starts the run tasks.
func (s *ConsoleState) finishSweep(cfg ConsoleConfig) []Command {
	s.Modes.StartingUp = false
	s.Modes.SystemActive = true
	s.Sweep.Display = s.Control.Speed
	return []Command{
		CmdStopTask{Task: TaskSweep},
		CmdStartTask{Task: TaskIntegrator, Period: cfg.IntegratorPeriod, Run: s.Run},
		CmdStartTask{Task: TaskSensors, Period: cfg.SensorPeriod, Run: s.Run},
		CmdStartTask{Task: TaskVitals, Period: cfg.VitalsPeriod, Run: s.Run},
	}
}

// setSpeedLimit clamps the limit to [10,100] and the speed to the new ceiling.
func (s *ConsoleState) setSpeedLimit(enabled bool, value float64) ([]Command, error) {
	if math.IsNaN(value) {
		value = s.SpeedLimit
	}
	value = clamp(value, minSpeedLimit, maxSpeedLimit)
	if s.Modes.SpeedLimitEnabled == enabled && s.SpeedLimit == value {
		return nil, nil
	}
	s.Modes.SpeedLimitEnabled = enabled
	s.SpeedLimit = value
	s.Control.Speed = math.Min(s.Control.Speed, s.Ceiling())
	return s.emit(linkSpeedLimit, speedLimitValue{Enabled: enabled, Value: value}), nil
}

func (s *ConsoleState) setThrottle(active bool) ([]Command, error) {
	if err := s.manualInputError("throttle"); err != nil {
		return nil, err
	}
	if active && s.Modes.EmergencyStop {
		return nil, errTransition{op: "throttle", reason: reasonEmergencyStop}
	}
	if s.Control.Throttle == active {
		return nil, nil
	}
	s.Control.Throttle = active
	return s.emit(linkThrottle, active), nil
}

func (s *ConsoleState) setBrake(active bool) ([]Command, error) {
	if err := s.manualInputError("brake"); err != nil {
		return nil, err
	}
	if s.Control.Brake == active {
		return nil, nil
	}
	s.Control.Brake = active
	return s.emit(linkBrake, active), nil
}

func (s *ConsoleState) setGear(g Gear) ([]Command, error) {
	if _, err := ParseGear(string(g)); err != nil {
		return nil, err
	}
	if err := s.manualInputError("gear"); err != nil {
		return nil, err
	}
	if s.Control.Gear == g {
		return nil, nil
	}
	s.Control.Gear = g
	return s.emit(linkGear, string(g)), nil
}

// setSteering records the wheel angle. The link update is coalesced and sent
// on the next integrator tick.
func (s *ConsoleState) setSteering(deg float64, cfg ConsoleConfig) ([]Command, error) {
	if err := s.manualInputError("steering"); err != nil {
		return nil, err
	}
	if math.IsNaN(deg) {
		return nil, errTransition{op: "steering", reason: "not a number"}
	}
	limit := cfg.MaxSteeringDeg
	if limit <= 0 {
		limit = defaultMaxSteer
	}
	deg = clamp(deg, -limit, limit)
	if s.Control.SteeringDeg == deg {
		return nil, nil
	}
	s.Control.SteeringDeg = deg
	s.setSteeringIntent(deg)
	return nil, nil
}

// flushSteering turns a pending steering intent into a link command.
func (s *ConsoleState) flushSteering() []Command {
	deg, ok := s.consumeSteeringIntent()
	if !ok {
		return nil
	}
	return s.emit(linkSteering, int(math.Round(deg)))
}

func (s *ConsoleState) setSonar(enabled bool) ([]Command, error) {
	if err := s.manualInputError("sonar"); err != nil {
		return nil, err
	}
	if s.Modes.SonarEnabled == enabled {
		return nil, nil
	}
	s.Modes.SonarEnabled = enabled
	return s.emit(linkSonar, enabled), nil
}

func (s *ConsoleState) setInfrared(enabled bool) ([]Command, error) {
	if err := s.manualInputError("infrared"); err != nil {
		return nil, err
	}
	if s.Modes.IREnabled == enabled {
		return nil, nil
	}
	s.Modes.IREnabled = enabled
	return s.emit(linkIRControl, enabled), nil
}

var maneuvers = map[string]bool{"launch": true, "donut": true}

// maneuver asks the vehicle for a canned move; it changes no console state.
func (s *ConsoleState) maneuver(name string) ([]Command, error) {
	if !maneuvers[name] {
		return nil, fmt.Errorf("unknown maneuver %q", name)
	}
	if err := s.manualInputError("maneuver"); err != nil {
		return nil, err
	}
	return s.emit(linkAction, name), nil
}

// toggleMode flips a named mode relative to the current state.
func (s *ConsoleState) toggleMode(mode string, now time.Time, cfg ConsoleConfig) ([]Command, error) {
	switch mode {
	case ModeSystem:
		return s.setSystemActive(!(s.Modes.SystemActive || s.Modes.StartingUp), now, cfg)
	case ModeEmergencyStop:
		return s.setEmergencyStop(!s.Modes.EmergencyStop)
	case ModeAuto:
		return s.setAutoMode(!s.Modes.AutoMode)
	case ModeAutopilot:
		return s.setAutopilot(!s.Modes.AutopilotOn, cfg)
	case ModeSpeedLimit:
		return s.setSpeedLimit(!s.Modes.SpeedLimitEnabled, s.SpeedLimit)
	case ModeSonar:
		return s.setSonar(!s.Modes.SonarEnabled)
	case ModeInfrared:
		return s.setInfrared(!s.Modes.IREnabled)
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}

// dropLink resets the drive state when the link goes away.
func (s *ConsoleState) dropLink(lastErr string) {
	s.Link.Connected = false
	s.Link.Connecting = false
	s.Link.LastError = lastErr
	s.Control.Speed = 0
	s.Control.Throttle = false
	s.Control.Brake = false
	s.Control.Gear = GearNeutral
}
