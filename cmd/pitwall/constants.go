package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01
	EV_REL = 0x02
	EV_ABS = 0x03

	ABS_X     = 0x00 // steering wheel
	ABS_Z     = 0x02 // brake pedal on most wheels
	ABS_RZ    = 0x05 // throttle pedal on most wheels
	ABS_GAS   = 0x09
	ABS_BRAKE = 0x0a

	KEY_ESC   = 1
	KEY_SPACE = 57
	KEY_A     = 30
	KEY_P     = 25
	KEY_S     = 31
	KEY_I     = 23
	KEY_L     = 38
	KEY_D     = 32
	KEY_UP    = 103
	KEY_DOWN  = 108
	KEY_F1    = 59
	KEY_F2    = 60

	BTN_GEAR_DOWN = 0x124 // BTN_BASE3 on G29-style wheels
	BTN_GEAR_UP   = 0x125 // BTN_BASE4

	// Rotary encoder relative axis codes
	REL_DIAL  = 0x07
	REL_WHEEL = 0x08
	REL_MISC  = 0x09
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Console timing defaults.
const (
	defaultIntegratorPeriod = 100 * time.Millisecond
	defaultAutopilotPeriod  = 100 * time.Millisecond
	defaultSensorPeriod     = 300 * time.Millisecond
	defaultVitalsPeriod     = 200 * time.Millisecond
	defaultSweepFrame       = 50 * time.Millisecond

	// The gauge sweep runs two progress units of 1.2s each.
	sweepUnit     = 1200 * time.Millisecond
	sweepDuration = 2 * sweepUnit
)

// Speed integration constants (speed is a 0..100 percentage).
const (
	maxSpeed        = 100.0
	throttleGain    = 2.0 // speed += throttleGain * gearMultiplier per tick
	brakeDecel      = 5.0
	coastDecel      = 0.5
	minSpeedLimit   = 10.0
	maxSpeedLimit   = 100.0
	defaultMaxSteer = 90.0 // degrees either side of centre

	linkDialTimeout = 3 * time.Second
)

// Steering dial (rotary encoder) defaults.
const (
	defaultDialDegPerStep         = 2.0
	defaultDialVelocityWindowMS   = 200
	defaultDialVelocityMultiplier = 3.0
	defaultDialVelocityThreshold  = 3
)

// Input axis calibration.
const (
	defaultPedalDeadzone     = 0.08
	defaultSteeringAxisRange = 65535
	defaultPedalAxisRange    = 255
)

// Queues and sampling.
const (
	defaultTelemetryCoalesceWindow  = 50 * time.Millisecond
	defaultTelemetryBroadcastBuffer = 256
	defaultDispatchQueue            = 64
	defaultEventQueue               = 128
	defaultRecorderMaxLen           = 10000
	defaultFailureLogsPerSecond     = 1.0
	defaultFailureLogBurst          = 3
	defaultSnapshotRequestTimeout   = time.Second
	defaultSimulatedSensorSeed      = 1
)
