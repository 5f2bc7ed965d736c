package main

import (
	"fmt"
	"time"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
// Link sends, task scheduling, feed sampling and tuning persistence all go
// through here so the reducer stays free of I/O.
type Command interface {
	commandMarker()
	String() string
}

// LinkCommand is one fire-and-forget message for the vehicle controller.
type LinkCommand struct {
	Name  string `json:"command"`
	Value any    `json:"value"`
}

// Link command names understood by the vehicle controller.
const (
	linkSteering      = "steering"
	linkThrottle      = "throttle"
	linkBrake         = "brake"
	linkGear          = "gear"
	linkEmergencyStop = "emergency_stop"
	linkAutoMode      = "auto_mode"
	linkAutopilot     = "autopilot"
	linkIRControl     = "ir_control"
	linkSonar         = "sonar"
	linkSpeedLimit    = "speed_limit"
	linkPower         = "power"
	linkAction        = "action"
)

// speedLimitValue is the payload of the speed_limit link command.
type speedLimitValue struct {
	Enabled bool    `json:"enabled"`
	Value   float64 `json:"value"`
}

// CmdSend forwards a LinkCommand to the CommandSink.
type CmdSend struct {
	Link LinkCommand
}

func (CmdSend) commandMarker() {}
func (c CmdSend) String() string {
	return fmt.Sprintf("CmdSend(%s=%v)", c.Link.Name, c.Link.Value)
}

// TaskID names a periodic task driven by the Scheduler.
type TaskID string

const (
	TaskSweep      TaskID = "sweep"
	TaskIntegrator TaskID = "integrator"
	TaskAutopilot  TaskID = "autopilot"
	TaskSensors    TaskID = "sensors"
	TaskVitals     TaskID = "vitals"
)

// CmdStartTask (re)starts a periodic task for the given run.
type CmdStartTask struct {
	Task   TaskID
	Period time.Duration
	Run    RunID
}

func (CmdStartTask) commandMarker() {}
func (c CmdStartTask) String() string {
	return fmt.Sprintf("CmdStartTask(task=%s, period=%s)", c.Task, c.Period)
}

type CmdStopTask struct {
	Task TaskID
}

func (CmdStopTask) commandMarker()   {}
func (c CmdStopTask) String() string { return fmt.Sprintf("CmdStopTask(task=%s)", c.Task) }

// CmdStopAllTasks halts every periodic task; it returns only after the
// ticker goroutines have exited.
type CmdStopAllTasks struct{}

func (CmdStopAllTasks) commandMarker() {}
func (CmdStopAllTasks) String() string { return "CmdStopAllTasks()" }

// CmdReadSensors polls the SensorFeed and reports SensorsObserved.
type CmdReadSensors struct {
	Run RunID
}

func (CmdReadSensors) commandMarker() {}
func (CmdReadSensors) String() string { return "CmdReadSensors()" }

// CmdSampleVitals polls the VitalsFeed and reports VitalsObserved.
type CmdSampleVitals struct {
	Run   RunID
	Speed float64
}

func (CmdSampleVitals) commandMarker() {}
func (c CmdSampleVitals) String() string {
	return fmt.Sprintf("CmdSampleVitals(speed=%.1f)", c.Speed)
}

// CmdDialLink opens the vehicle link in the background. The result comes
// back as LinkConnected or LinkFailed carrying the same Attempt.
type CmdDialLink struct {
	Addr    string
	Attempt uint64
}

func (CmdDialLink) commandMarker() {}
func (c CmdDialLink) String() string {
	return fmt.Sprintf("CmdDialLink(addr=%s, attempt=%d)", c.Addr, c.Attempt)
}

// CmdInstallSink hands an accepted dial result to the dispatcher.
type CmdInstallSink struct {
	Sink CommandSink
}

func (CmdInstallSink) commandMarker() {}
func (CmdInstallSink) String() string { return "CmdInstallSink()" }

// CmdDiscardSink closes a dial result nobody wants anymore.
type CmdDiscardSink struct {
	Sink CommandSink
}

func (CmdDiscardSink) commandMarker() {}
func (CmdDiscardSink) String() string { return "CmdDiscardSink()" }

type CmdCloseLink struct{}

func (CmdCloseLink) commandMarker() {}
func (CmdCloseLink) String() string { return "CmdCloseLink()" }

// CmdSaveTuning persists the tuning table (no-op without a tuning file).
type CmdSaveTuning struct {
	Tuning TuningConfig
}

func (CmdSaveTuning) commandMarker() {}
func (CmdSaveTuning) String() string { return "CmdSaveTuning()" }

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }
