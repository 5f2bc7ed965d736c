package main

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TuningConfig holds the constants that shape autopilot behaviour.
//
// The YAML/JSON keys are the flat parameter names operators see in the editor,
// so a tuning file is just a mapping of NAME: value.
type TuningConfig struct {
	FrontCriticalCM float64 `yaml:"FRONT_CRITICAL_CM" json:"FRONT_CRITICAL_CM"`
	RearBlockedCM   float64 `yaml:"REAR_BLOCKED_CM" json:"REAR_BLOCKED_CM"`
	RearCriticalCM  float64 `yaml:"REAR_CRITICAL_CM" json:"REAR_CRITICAL_CM"`
	DangerCM        float64 `yaml:"DANGER_CM" json:"DANGER_CM"`
	FullSpeedCM     float64 `yaml:"FULL_SPEED_CM" json:"FULL_SPEED_CM"`
	EscapeClearCM   float64 `yaml:"ESCAPE_CLEAR_CM" json:"ESCAPE_CLEAR_CM"`

	MaxSpeed       float64 `yaml:"MAX_SPEED" json:"MAX_SPEED"`
	MinSpeed       float64 `yaml:"MIN_SPEED" json:"MIN_SPEED"`
	ReverseSpeed   float64 `yaml:"REVERSE_SPEED" json:"REVERSE_SPEED"`
	PivotSpeed     float64 `yaml:"PIVOT_SPEED" json:"PIVOT_SPEED"`
	UTurnSpeed     float64 `yaml:"UTURN_SPEED" json:"UTURN_SPEED"`
	StuckBoostStep float64 `yaml:"STUCK_BOOST_STEP" json:"STUCK_BOOST_STEP"`
	StuckBoostMax  float64 `yaml:"STUCK_BOOST_MAX" json:"STUCK_BOOST_MAX"`

	ReverseDuration      float64 `yaml:"REVERSE_DURATION" json:"REVERSE_DURATION"`
	ReverseStep          float64 `yaml:"REVERSE_STEP" json:"REVERSE_STEP"`
	PivotDuration        float64 `yaml:"PIVOT_DURATION" json:"PIVOT_DURATION"`
	RecoveryDuration     float64 `yaml:"RECOVERY_DURATION" json:"RECOVERY_DURATION"`
	UTurnDuration        float64 `yaml:"UTURN_DURATION" json:"UTURN_DURATION"`
	StuckTimeThresh      float64 `yaml:"STUCK_TIME_THRESH" json:"STUCK_TIME_THRESH"`
	StuckRecheckInterval float64 `yaml:"STUCK_RECHECK_INTERVAL" json:"STUCK_RECHECK_INTERVAL"`

	SonarHistoryLen     float64 `yaml:"SONAR_HISTORY_LEN" json:"SONAR_HISTORY_LEN"`
	StuckDistanceThresh float64 `yaml:"STUCK_DISTANCE_THRESH" json:"STUCK_DISTANCE_THRESH"`
	StuckMoveReset      float64 `yaml:"STUCK_MOVE_RESET" json:"STUCK_MOVE_RESET"`
	MaxNormalEscapes    float64 `yaml:"MAX_NORMAL_ESCAPES" json:"MAX_NORMAL_ESCAPES"`
}

// DefaultTuning returns the factory tuning table.
func DefaultTuning() TuningConfig {
	return TuningConfig{
		FrontCriticalCM: 5,
		RearBlockedCM:   3,
		RearCriticalCM:  5,
		DangerCM:        40,
		FullSpeedCM:     100,
		EscapeClearCM:   20,

		MaxSpeed:       80,
		MinSpeed:       30,
		ReverseSpeed:   40,
		PivotSpeed:     50,
		UTurnSpeed:     70,
		StuckBoostStep: 5,
		StuckBoostMax:  80,

		ReverseDuration:      1,
		ReverseStep:          1,
		PivotDuration:        1,
		RecoveryDuration:     1,
		UTurnDuration:        0.8,
		StuckTimeThresh:      1,
		StuckRecheckInterval: 1,

		SonarHistoryLen:     3,
		StuckDistanceThresh: 2,
		StuckMoveReset:      5,
		MaxNormalEscapes:    2,
	}
}

// TuningGroup is the editor grouping of a parameter.
type TuningGroup string

const (
	TuningGroupDistance TuningGroup = "distance"
	TuningGroupSpeed    TuningGroup = "speed"
	TuningGroupDuration TuningGroup = "duration"
	TuningGroupFilter   TuningGroup = "filter"
)

// TuningParam describes one editable parameter.
type TuningParam struct {
	Name  string      `json:"name"`
	Group TuningGroup `json:"group"`
	Unit  string      `json:"unit"`
	Min   float64     `json:"min"`
	Max   float64     `json:"max"`
	Step  float64     `json:"step"`

	field func(*TuningConfig) *float64
}

var tuningParams = []TuningParam{
	{Name: "FRONT_CRITICAL_CM", Group: TuningGroupDistance, Unit: "cm", Min: 2, Max: 100, Step: 1, field: func(t *TuningConfig) *float64 { return &t.FrontCriticalCM }},
	{Name: "REAR_BLOCKED_CM", Group: TuningGroupDistance, Unit: "cm", Min: 2, Max: 100, Step: 1, field: func(t *TuningConfig) *float64 { return &t.RearBlockedCM }},
	{Name: "REAR_CRITICAL_CM", Group: TuningGroupDistance, Unit: "cm", Min: 2, Max: 100, Step: 1, field: func(t *TuningConfig) *float64 { return &t.RearCriticalCM }},
	{Name: "DANGER_CM", Group: TuningGroupDistance, Unit: "cm", Min: 2, Max: 100, Step: 1, field: func(t *TuningConfig) *float64 { return &t.DangerCM }},
	{Name: "FULL_SPEED_CM", Group: TuningGroupDistance, Unit: "cm", Min: 100, Max: 500, Step: 5, field: func(t *TuningConfig) *float64 { return &t.FullSpeedCM }},
	{Name: "ESCAPE_CLEAR_CM", Group: TuningGroupDistance, Unit: "cm", Min: 5, Max: 100, Step: 5, field: func(t *TuningConfig) *float64 { return &t.EscapeClearCM }},

	{Name: "MAX_SPEED", Group: TuningGroupSpeed, Unit: "%", Min: 10, Max: 100, Step: 5, field: func(t *TuningConfig) *float64 { return &t.MaxSpeed }},
	{Name: "MIN_SPEED", Group: TuningGroupSpeed, Unit: "%", Min: 10, Max: 100, Step: 5, field: func(t *TuningConfig) *float64 { return &t.MinSpeed }},
	{Name: "REVERSE_SPEED", Group: TuningGroupSpeed, Unit: "%", Min: 10, Max: 100, Step: 5, field: func(t *TuningConfig) *float64 { return &t.ReverseSpeed }},
	{Name: "PIVOT_SPEED", Group: TuningGroupSpeed, Unit: "%", Min: 10, Max: 100, Step: 5, field: func(t *TuningConfig) *float64 { return &t.PivotSpeed }},
	{Name: "UTURN_SPEED", Group: TuningGroupSpeed, Unit: "%", Min: 20, Max: 100, Step: 5, field: func(t *TuningConfig) *float64 { return &t.UTurnSpeed }},
	{Name: "STUCK_BOOST_STEP", Group: TuningGroupSpeed, Unit: "%", Min: 1, Max: 20, Step: 1, field: func(t *TuningConfig) *float64 { return &t.StuckBoostStep }},
	{Name: "STUCK_BOOST_MAX", Group: TuningGroupSpeed, Unit: "%", Min: 30, Max: 100, Step: 5, field: func(t *TuningConfig) *float64 { return &t.StuckBoostMax }},

	{Name: "REVERSE_DURATION", Group: TuningGroupDuration, Unit: "s", Min: 0.1, Max: 5, Step: 0.1, field: func(t *TuningConfig) *float64 { return &t.ReverseDuration }},
	{Name: "REVERSE_STEP", Group: TuningGroupDuration, Unit: "s", Min: 0, Max: 5, Step: 0.1, field: func(t *TuningConfig) *float64 { return &t.ReverseStep }},
	{Name: "PIVOT_DURATION", Group: TuningGroupDuration, Unit: "s", Min: 0.1, Max: 5, Step: 0.1, field: func(t *TuningConfig) *float64 { return &t.PivotDuration }},
	{Name: "RECOVERY_DURATION", Group: TuningGroupDuration, Unit: "s", Min: 0.1, Max: 5, Step: 0.1, field: func(t *TuningConfig) *float64 { return &t.RecoveryDuration }},
	{Name: "UTURN_DURATION", Group: TuningGroupDuration, Unit: "s", Min: 0.1, Max: 5, Step: 0.1, field: func(t *TuningConfig) *float64 { return &t.UTurnDuration }},
	{Name: "STUCK_TIME_THRESH", Group: TuningGroupDuration, Unit: "s", Min: 0.1, Max: 5, Step: 0.1, field: func(t *TuningConfig) *float64 { return &t.StuckTimeThresh }},
	{Name: "STUCK_RECHECK_INTERVAL", Group: TuningGroupDuration, Unit: "s", Min: 0.1, Max: 5, Step: 0.1, field: func(t *TuningConfig) *float64 { return &t.StuckRecheckInterval }},

	{Name: "SONAR_HISTORY_LEN", Group: TuningGroupFilter, Unit: "samples", Min: 1, Max: 5, Step: 1, field: func(t *TuningConfig) *float64 { return &t.SonarHistoryLen }},
	{Name: "STUCK_DISTANCE_THRESH", Group: TuningGroupFilter, Unit: "cm", Min: 1, Max: 20, Step: 1, field: func(t *TuningConfig) *float64 { return &t.StuckDistanceThresh }},
	{Name: "STUCK_MOVE_RESET", Group: TuningGroupFilter, Unit: "cm", Min: 1, Max: 20, Step: 1, field: func(t *TuningConfig) *float64 { return &t.StuckMoveReset }},
	{Name: "MAX_NORMAL_ESCAPES", Group: TuningGroupFilter, Unit: "attempts", Min: 1, Max: 10, Step: 1, field: func(t *TuningConfig) *float64 { return &t.MaxNormalEscapes }},
}

var (
	ErrUnknownTuningParam = errors.New("unknown tuning parameter")
	ErrNonFiniteTuning    = errors.New("tuning value must be finite")
)

// TuningParams returns the editor table in display order.
func TuningParams() []TuningParam {
	out := make([]TuningParam, len(tuningParams))
	copy(out, tuningParams)
	return out
}

func lookupTuningParam(name string) (TuningParam, bool) {
	for _, p := range tuningParams {
		if p.Name == name {
			return p, true
		}
	}
	return TuningParam{}, false
}

// Get returns the value of a named parameter.
func (t TuningConfig) Get(name string) (float64, error) {
	p, ok := lookupTuningParam(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTuningParam, name)
	}
	return *p.field(&t), nil
}

// Set applies an operator edit and returns the value actually stored.
//
// The value is snapped to the editor step, clamped to the editor range and
// finally clamped to the paired bound (REAR_CRITICAL_CM >= REAR_BLOCKED_CM,
// MAX_SPEED >= MIN_SPEED). The pair clamp runs last so a partner loaded off
// the step grid can never be overtaken by the snap.
func (t *TuningConfig) Set(name string, v float64) (float64, error) {
	p, ok := lookupTuningParam(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTuningParam, name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s", ErrNonFiniteTuning, name)
	}

	v = clamp(snapToStep(v, p.Min, p.Step), p.Min, p.Max)
	switch name {
	case "REAR_BLOCKED_CM":
		v = math.Min(v, t.RearCriticalCM)
	case "REAR_CRITICAL_CM":
		v = math.Max(v, t.RearBlockedCM)
	case "MIN_SPEED":
		v = math.Min(v, t.MaxSpeed)
	case "MAX_SPEED":
		v = math.Max(v, t.MinSpeed)
	}

	*p.field(t) = v
	return v, nil
}

// Reset restores every parameter to its default.
func (t *TuningConfig) Reset() {
	*t = DefaultTuning()
}

// Values returns the flat NAME -> value mapping.
func (t TuningConfig) Values() map[string]float64 {
	out := make(map[string]float64, len(tuningParams))
	for _, p := range tuningParams {
		out[p.Name] = *p.field(&t)
	}
	return out
}

// Validate checks ranges and the cross-parameter invariants.
func (t TuningConfig) Validate() error {
	for _, p := range tuningParams {
		v := *p.field(&t)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s", ErrNonFiniteTuning, p.Name)
		}
		if v < p.Min || v > p.Max {
			return fmt.Errorf("%s must be between %g and %g (got %g)", p.Name, p.Min, p.Max, v)
		}
	}
	if t.RearCriticalCM < t.RearBlockedCM {
		return errors.New("REAR_CRITICAL_CM must be >= REAR_BLOCKED_CM")
	}
	if t.MaxSpeed < t.MinSpeed {
		return errors.New("MAX_SPEED must be >= MIN_SPEED")
	}
	return nil
}

// historyLen and maxEscapes are integral parameters stored as float64.
func (t TuningConfig) historyLen() int {
	n := int(math.Round(t.SonarHistoryLen))
	if n < 1 {
		return 1
	}
	return n
}

func (t TuningConfig) maxEscapes() int {
	return int(math.Round(t.MaxNormalEscapes))
}

func snapToStep(v, lo, step float64) float64 {
	if step <= 0 {
		return v
	}
	n := math.Round((v - lo) / step)
	return math.Round((lo+n*step)*1e6) / 1e6
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LoadTuningFile reads a YAML tuning file on top of the defaults.
// A missing file yields the defaults.
func LoadTuningFile(path string) (TuningConfig, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	b, err := os.ReadFile(ExpandPath(path))
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return TuningConfig{}, fmt.Errorf("read tuning file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return TuningConfig{}, fmt.Errorf("decode tuning yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return TuningConfig{}, fmt.Errorf("tuning file %s: %w", path, err)
	}
	return t, nil
}

// SaveTuningFile writes the tuning table atomically (temp file + rename).
func SaveTuningFile(path string, t TuningConfig) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create tuning dir: %w", err)
	}

	// Emit keys in editor order so diffs stay readable.
	var doc yaml.Node
	doc.Kind = yaml.MappingNode
	for _, p := range tuningParams {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: p.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%g", *p.field(&t))},
		)
	}
	b, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode tuning yaml: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write tuning file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace tuning file: %w", err)
	}
	return nil
}
