package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the pitwall console.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config. The config file is the primary surface; flags are
// small overrides on top of it.
type Config struct {
	Console   ConsoleFileConfig  `yaml:"console"`
	Link      LinkConfig         `yaml:"link"`
	Sensors   SensorsConfig      `yaml:"sensors"`
	Input     InputConfig        `yaml:"input"`
	IPC       IPCConfig          `yaml:"ipc"`
	Telemetry TelemetryConfig    `yaml:"telemetry"`
	Recorder  RecorderFileConfig `yaml:"recorder"`
	Tuning    TuningFileConfig   `yaml:"tuning"`
	Logging   LoggingConfig      `yaml:"logging"`
}

// ConsoleFileConfig is the YAML form of ConsoleConfig (periods in ms).
type ConsoleFileConfig struct {
	IntegratorPeriodMS int     `yaml:"integrator_period_ms"`
	AutopilotPeriodMS  int     `yaml:"autopilot_period_ms"`
	SensorPeriodMS     int     `yaml:"sensor_period_ms"`
	VitalsPeriodMS     int     `yaml:"vitals_period_ms"`
	SweepFrameMS       int     `yaml:"sweep_frame_ms"`
	MaxSteeringDeg     float64 `yaml:"max_steering_deg"`

	Dial DialFileConfig `yaml:"dial"`
}

type DialFileConfig struct {
	DegPerStep         float64 `yaml:"deg_per_step"`
	VelocityWindowMS   int     `yaml:"velocity_window_ms"`
	VelocityThreshold  int     `yaml:"velocity_threshold"`
	VelocityMultiplier float64 `yaml:"velocity_multiplier"`
}

type LinkConfig struct {
	Kind           string `yaml:"kind"` // ws, can or none
	Addr           string `yaml:"addr"`
	ConnectOnStart bool   `yaml:"connect_on_start"`
	QueueSize      int    `yaml:"queue_size,omitempty"`
}

type SensorsConfig struct {
	Source string `yaml:"source"` // only "simulated" today
	Seed   int64  `yaml:"seed"`
}

type InputConfig struct {
	Devices []string `yaml:"devices,omitempty"` // empty disables local input

	SteeringAxisMax int32   `yaml:"steering_axis_max"`
	PedalAxisMax    int32   `yaml:"pedal_axis_max"`
	PedalDeadzone   float64 `yaml:"pedal_deadzone"`
	InvertPedals    bool    `yaml:"invert_pedals"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type TelemetryConfig struct {
	Port       int `yaml:"port"` // 0 disables the HTTP listener
	CoalesceMS int `yaml:"coalesce_ms"`
}

type RecorderFileConfig struct {
	RedisURL string `yaml:"redis_url"` // empty disables recording
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

type TuningFileConfig struct {
	File string `yaml:"file"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		Console: ConsoleFileConfig{
			IntegratorPeriodMS: int(defaultIntegratorPeriod / time.Millisecond),
			AutopilotPeriodMS:  int(defaultAutopilotPeriod / time.Millisecond),
			SensorPeriodMS:     int(defaultSensorPeriod / time.Millisecond),
			VitalsPeriodMS:     int(defaultVitalsPeriod / time.Millisecond),
			SweepFrameMS:       int(defaultSweepFrame / time.Millisecond),
			MaxSteeringDeg:     defaultMaxSteer,
			Dial: DialFileConfig{
				DegPerStep:         defaultDialDegPerStep,
				VelocityWindowMS:   defaultDialVelocityWindowMS,
				VelocityThreshold:  defaultDialVelocityThreshold,
				VelocityMultiplier: defaultDialVelocityMultiplier,
			},
		},
		Link: LinkConfig{
			Kind:      LinkKindNone,
			QueueSize: defaultDispatchQueue,
		},
		Sensors: SensorsConfig{
			Source: "simulated",
			Seed:   defaultSimulatedSensorSeed,
		},
		Input: InputConfig{
			SteeringAxisMax: defaultSteeringAxisRange,
			PedalAxisMax:    defaultPedalAxisRange,
			PedalDeadzone:   defaultPedalDeadzone,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/pitwall.sock",
		},
		Telemetry: TelemetryConfig{
			Port:       3002,
			CoalesceMS: int(defaultTelemetryCoalesceWindow / time.Millisecond),
		},
		Recorder: RecorderFileConfig{
			Stream: "pitwall:telemetry",
			MaxLen: defaultRecorderMaxLen,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries command-line overrides. Each override is applied only
// if its pointer is non-nil; main.go decides which flags exist.
type FlagOverrides struct {
	LinkKind      *string
	LinkAddr      *string
	IPCSocketPath *string
	TelemetryPort *int
	InputDevice   *string
	TuningFile    *string
	RedisURL      *string
	LogLevel      *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if
// it holds a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LinkKind != nil {
		cfg.Link.Kind = *o.LinkKind
	}
	if o.LinkAddr != nil {
		cfg.Link.Addr = *o.LinkAddr
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.TelemetryPort != nil {
		cfg.Telemetry.Port = *o.TelemetryPort
	}
	if o.InputDevice != nil {
		if *o.InputDevice == "" {
			cfg.Input.Devices = nil
		} else {
			cfg.Input.Devices = []string{*o.InputDevice}
		}
	}
	if o.TuningFile != nil {
		cfg.Tuning.File = *o.TuningFile
	}
	if o.RedisURL != nil {
		cfg.Recorder.RedisURL = *o.RedisURL
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Console
	periods := []struct {
		name string
		ms   int
	}{
		{"console.integrator_period_ms", c.Console.IntegratorPeriodMS},
		{"console.autopilot_period_ms", c.Console.AutopilotPeriodMS},
		{"console.sensor_period_ms", c.Console.SensorPeriodMS},
		{"console.vitals_period_ms", c.Console.VitalsPeriodMS},
		{"console.sweep_frame_ms", c.Console.SweepFrameMS},
	}
	for _, p := range periods {
		if p.ms <= 0 || p.ms > 10000 {
			return fmt.Errorf("%s must be between 1 and 10000", p.name)
		}
	}
	if c.Console.MaxSteeringDeg <= 0 || c.Console.MaxSteeringDeg > 180 {
		return errors.New("console.max_steering_deg must be in (0, 180]")
	}
	if c.Console.Dial.DegPerStep <= 0 {
		return errors.New("console.dial.deg_per_step must be > 0")
	}
	if c.Console.Dial.VelocityWindowMS < 0 {
		return errors.New("console.dial.velocity_window_ms must be >= 0")
	}
	if c.Console.Dial.VelocityMultiplier < 1 {
		return errors.New("console.dial.velocity_multiplier must be >= 1")
	}

	// Link
	switch c.Link.Kind {
	case LinkKindWS, LinkKindCAN:
		if c.Link.ConnectOnStart && c.Link.Addr == "" {
			return fmt.Errorf("link.connect_on_start is true but link.addr is empty")
		}
	case LinkKindNone:
	default:
		return fmt.Errorf("link.kind must be %q, %q or %q", LinkKindWS, LinkKindCAN, LinkKindNone)
	}
	if c.Link.QueueSize < 0 {
		return errors.New("link.queue_size must be >= 0")
	}

	// Sensors
	if c.Sensors.Source != "simulated" {
		return fmt.Errorf("sensors.source %q is not supported (only \"simulated\")", c.Sensors.Source)
	}

	// Input
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}
	if c.Input.SteeringAxisMax <= 0 || c.Input.PedalAxisMax <= 0 {
		return errors.New("input axis ranges must be > 0")
	}
	if c.Input.PedalDeadzone < 0 || c.Input.PedalDeadzone >= 1 {
		return errors.New("input.pedal_deadzone must be in [0, 1)")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Telemetry
	if c.Telemetry.Port < 0 || c.Telemetry.Port > 65535 {
		return errors.New("telemetry.port must be between 0 and 65535")
	}
	if c.Telemetry.CoalesceMS <= 0 {
		return errors.New("telemetry.coalesce_ms must be > 0")
	}

	// Recorder
	if c.Recorder.RedisURL != "" {
		if c.Recorder.Stream == "" {
			return errors.New("recorder.redis_url is set but recorder.stream is empty")
		}
		if c.Recorder.MaxLen <= 0 {
			return errors.New("recorder.max_len must be > 0")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// ToConsoleConfig converts the file config into reducer policy.
func (c *Config) ToConsoleConfig() ConsoleConfig {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	cfg := DefaultConsoleConfig()
	cfg.IntegratorPeriod = ms(c.Console.IntegratorPeriodMS)
	cfg.AutopilotPeriod = ms(c.Console.AutopilotPeriodMS)
	cfg.SensorPeriod = ms(c.Console.SensorPeriodMS)
	cfg.VitalsPeriod = ms(c.Console.VitalsPeriodMS)
	cfg.SweepFrame = ms(c.Console.SweepFrameMS)
	cfg.MaxSteeringDeg = c.Console.MaxSteeringDeg
	cfg.LinkAddr = c.Link.Addr
	cfg.Dial = DialConfig{
		DegPerStep:         c.Console.Dial.DegPerStep,
		VelocityWindowMS:   c.Console.Dial.VelocityWindowMS,
		VelocityThreshold:  c.Console.Dial.VelocityThreshold,
		VelocityMultiplier: c.Console.Dial.VelocityMultiplier,
	}
	return cfg
}

// ToInputMapping returns the axis calibration for the input mapper.
func (c *Config) ToInputMapping() InputMapping {
	return InputMapping{
		SteeringAxisMax: c.Input.SteeringAxisMax,
		PedalAxisMax:    c.Input.PedalAxisMax,
		PedalDeadzone:   c.Input.PedalDeadzone,
		InvertPedals:    c.Input.InvertPedals,
		MaxSteeringDeg:  c.Console.MaxSteeringDeg,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
// This is handy for config values like tuning.file.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
