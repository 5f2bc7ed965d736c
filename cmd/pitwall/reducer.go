package main

import (
	"errors"
	"time"
)

// This file implements the reducer-style architecture building blocks:
//
//   - Events: inputs to the reducer (operator actions, task ticks, feed
//     observations, link results, command failures)
//   - Commands: side effects requested by the reducer (commands.go)
//   - Broadcasts: telemetry derived from state changes (broadcasts.go)
//   - Reduce(): computes next state + commands + broadcasts, without I/O
//
// The daemon loop is responsible for executing Commands and feeding
// observations back as Events.

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// TimedEvent wraps an operator action with the time the daemon received it.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// TaskTick is emitted by the Scheduler for a periodic task.
// Dt is the wall-clock delta in seconds since the previous tick of the task.
type TaskTick struct {
	Task TaskID
	Run  RunID
	Now  time.Time
	Dt   float64
}

func (TaskTick) eventMarker() {}

// SensorsObserved is the result of a CmdReadSensors poll.
// Fresh is false when the feed had nothing new.
type SensorsObserved struct {
	Run       RunID
	Distances Distances
	Fresh     bool
	Hint      AutopilotStatus
	HintKnown bool
	At        time.Time
}

func (SensorsObserved) eventMarker() {}

type VitalsObserved struct {
	Run    RunID
	Vitals Vitals
	At     time.Time
}

func (VitalsObserved) eventMarker() {}

// LinkConnected reports a successful CmdDialLink. Sink is not installed yet;
// the reducer decides whether it is still wanted.
type LinkConnected struct {
	Addr    string
	Attempt uint64
	Sink    CommandSink
	At      time.Time
}

func (LinkConnected) eventMarker() {}

type LinkFailed struct {
	Addr    string
	Attempt uint64
	Err     error
	At      time.Time
}

func (LinkFailed) eventMarker() {}

// CommandFailed is emitted when executing a Command fails.
type CommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (CommandFailed) eventMarker() {}

// RequestStateSnapshot asks the reducer to publish a StateSnapshot on Reply.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ==============================
// Reducer input/output
// ==============================

// ReduceResult is the output of Reduce(): next state, Commands to execute and
// telemetry Broadcasts. Rejected is set when an operator action was refused
// by mode policy; the state is unchanged in that case.
type ReduceResult struct {
	State      *ConsoleState
	Commands   []Command
	Broadcasts []StateBroadcast
	Rejected   error
}

// Reduce is the reducer:
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not read the clock; every timestamp comes from the event
//
// The daemon loop must:
// - execute Commands
// - translate responses into Events
// - feed those Events back into Reduce()
func Reduce(s *ConsoleState, e Event, cfg ConsoleConfig) ReduceResult {
	if s == nil {
		s = NewConsoleState(DefaultTuning())
	}

	prev := *s
	var (
		cmds     []Command
		extra    []StateBroadcast
		rejected error
		at       time.Time
	)

	switch ev := e.(type) {
	case TimedEvent:
		at = ev.At
		cmds, rejected = reduceAction(s, ev.Event, ev.At, cfg)

	case TaskTick:
		at = ev.Now
		if ev.Run == "" || ev.Run != s.Run {
			// Orphan tick from a retired run.
			break
		}
		cmds, extra = reduceTick(s, ev, cfg)

	case SensorsObserved:
		at = ev.At
		if ev.Run == "" || ev.Run != s.Run {
			break
		}
		if ev.Fresh {
			s.Sensors.Latest = ev.Distances
			s.Sensors.Known = true
			s.Sensors.At = ev.At
			if s.Modes.AutopilotOn {
				s.Autopilot.Observe(ev.Distances.Front, ev.Distances.Rear, s.Tuning)
			}
		}
		if ev.HintKnown {
			s.Sensors.ReportedStatus = ev.Hint
		}

	case VitalsObserved:
		at = ev.At
		if ev.Run == "" || ev.Run != s.Run {
			break
		}
		s.Vitals = ev.Vitals

	case LinkConnected:
		at = ev.At
		if !s.Link.Connecting || ev.Attempt != s.Link.Attempt || ev.Addr != s.Link.Addr {
			// Dial finished after the operator gave up on it. Only its own
			// sink is closed; the live one stays installed.
			if ev.Sink != nil {
				cmds = append(cmds, CmdDiscardSink{Sink: ev.Sink})
			}
			break
		}
		s.Link.Connecting = false
		s.Link.Connected = true
		s.Link.LastError = ""
		cmds = append(cmds, CmdInstallSink{Sink: ev.Sink})

	case LinkFailed:
		at = ev.At
		if !s.Link.Connecting || ev.Attempt != s.Link.Attempt || ev.Addr != s.Link.Addr {
			break
		}
		s.Link.Connecting = false
		if ev.Err != nil {
			s.Link.LastError = ev.Err.Error()
		}

	case CommandFailed:
		at = ev.At
		if errors.Is(ev.Err, ErrLinkClosed) && s.Link.Connected {
			s.dropLink(ev.Err.Error())
			cmds = append(cmds, CmdCloseLink{})
		}

	case RequestStateSnapshot:
		cmds = append(cmds, CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: s.Snapshot(at)})

	default:
		// Unknown event type: no-op.
	}

	if rejected != nil {
		return ReduceResult{State: s, Rejected: rejected}
	}

	broadcasts := diffBroadcasts(&prev, s, at)
	broadcasts = append(broadcasts, extra...)

	return ReduceResult{
		State:      s,
		Commands:   cmds,
		Broadcasts: broadcasts,
	}
}

func reduceAction(s *ConsoleState, a Event, at time.Time, cfg ConsoleConfig) ([]Command, error) {
	switch a := a.(type) {
	case SetSystemActive:
		return s.setSystemActive(a.Active, at, cfg)
	case SetEmergencyStop:
		return s.setEmergencyStop(a.Active)
	case SetAutoMode:
		return s.setAutoMode(a.Active)
	case SetAutopilot:
		return s.setAutopilot(a.Active, cfg)
	case SetSpeedLimit:
		return s.setSpeedLimit(a.Enabled, a.Value)
	case SetThrottle:
		return s.setThrottle(a.Active)
	case SetBrake:
		return s.setBrake(a.Active)
	case SetGear:
		return s.setGear(a.Gear)
	case ShiftGear:
		return s.setGear(shiftGear(s.Control.Gear, a.Delta))
	case SetSteering:
		return s.setSteering(a.Degrees, cfg)
	case SteeringDialTurn:
		if err := s.manualInputError("steering"); err != nil {
			return nil, err
		}
		delta := s.Dial.dialDegrees(a.Steps, at, cfg.Dial)
		return s.setSteering(s.Control.SteeringDeg+delta, cfg)
	case SetSonar:
		return s.setSonar(a.Enabled)
	case SetInfrared:
		return s.setInfrared(a.Enabled)
	case ToggleMode:
		return s.toggleMode(a.Mode, at, cfg)
	case Maneuver:
		return s.maneuver(a.Name)
	case ConnectLink:
		return s.connectLink(a.Addr, cfg)
	case DisconnectLink:
		if !s.Link.Connected && !s.Link.Connecting {
			return nil, nil
		}
		s.dropLink("")
		return []Command{CmdCloseLink{}}, nil
	case SetTuning:
		before := s.Tuning
		if _, err := s.Tuning.Set(a.Name, a.Value); err != nil {
			return nil, err
		}
		if s.Tuning == before {
			return nil, nil
		}
		return []Command{CmdSaveTuning{Tuning: s.Tuning}}, nil
	case ResetTuning:
		before := s.Tuning
		s.Tuning.Reset()
		if s.Tuning == before {
			return nil, nil
		}
		return []Command{CmdSaveTuning{Tuning: s.Tuning}}, nil
	case RequestStateSnapshot:
		return []Command{CmdPublishStateSnapshot{Reply: a.Reply, Snapshot: s.Snapshot(at)}}, nil
	}
	return nil, nil
}

func reduceTick(s *ConsoleState, ev TaskTick, cfg ConsoleConfig) ([]Command, []StateBroadcast) {
	switch ev.Task {
	case TaskSweep:
		if !s.Modes.StartingUp {
			return nil, nil
		}
		elapsed := ev.Now.Sub(s.Sweep.StartedAt)
		if elapsed >= sweepDuration {
			cmds := s.finishSweep(cfg)
			return cmds, []StateBroadcast{BroadcastSweepFrame{Display: s.Sweep.Display, Done: true, At: ev.Now}}
		}
		s.Sweep.Display = sweepDisplayValue(elapsed, maxSpeed, s.Control.Speed)
		return nil, []StateBroadcast{BroadcastSweepFrame{Display: s.Sweep.Display, At: ev.Now}}

	case TaskIntegrator:
		cmds := s.flushSteering()
		s.stepSpeed()
		return cmds, nil

	case TaskAutopilot:
		if s.Modes.AutopilotOn {
			s.Autopilot.Step(tickDt(ev.Dt, cfg.AutopilotPeriod), s.Tuning)
		}
		return nil, nil

	case TaskSensors:
		return []Command{CmdReadSensors{Run: s.Run}}, nil

	case TaskVitals:
		return []Command{CmdSampleVitals{Run: s.Run, Speed: s.Control.Speed}}, nil
	}
	return nil, nil
}

// tickDt falls back to the nominal period for the first tick and caps late
// ticks at two periods.
func tickDt(dt float64, period time.Duration) float64 {
	nominal := period.Seconds()
	if nominal <= 0 {
		return dt
	}
	if dt <= 0 {
		return nominal
	}
	if dt > 2*nominal {
		return 2 * nominal
	}
	return dt
}

func (s *ConsoleState) connectLink(addr string, cfg ConsoleConfig) ([]Command, error) {
	if addr == "" {
		addr = cfg.LinkAddr
	}
	if s.Link.Connecting {
		return nil, errTransition{op: "connect", reason: "dial in progress"}
	}
	if s.Link.Connected && s.Link.Addr == addr {
		return nil, nil
	}

	var cmds []Command
	if s.Link.Connected {
		s.dropLink("")
		cmds = append(cmds, CmdCloseLink{})
	}
	s.Link.Connecting = true
	s.Link.Addr = addr
	s.Link.LastError = ""
	s.Link.Attempt++
	return append(cmds, CmdDialLink{Addr: addr, Attempt: s.Link.Attempt}), nil
}
