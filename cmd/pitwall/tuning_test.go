package main

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTuning_IsValid(t *testing.T) {
	require.NoError(t, DefaultTuning().Validate())
}

func TestTuningReset_ReadsBackDefaultTable(t *testing.T) {
	tun := DefaultTuning()
	_, err := tun.Set("MAX_SPEED", 55)
	require.NoError(t, err)
	_, err = tun.Set("UTURN_DURATION", 2)
	require.NoError(t, err)

	tun.Reset()

	want := map[string]float64{
		"FRONT_CRITICAL_CM": 5, "REAR_BLOCKED_CM": 3, "REAR_CRITICAL_CM": 5,
		"DANGER_CM": 40, "FULL_SPEED_CM": 100, "ESCAPE_CLEAR_CM": 20,
		"MAX_SPEED": 80, "MIN_SPEED": 30, "REVERSE_SPEED": 40, "PIVOT_SPEED": 50,
		"UTURN_SPEED": 70, "STUCK_BOOST_STEP": 5, "STUCK_BOOST_MAX": 80,
		"REVERSE_DURATION": 1, "REVERSE_STEP": 1, "PIVOT_DURATION": 1,
		"RECOVERY_DURATION": 1, "UTURN_DURATION": 0.8, "STUCK_TIME_THRESH": 1,
		"STUCK_RECHECK_INTERVAL": 1, "SONAR_HISTORY_LEN": 3,
		"STUCK_DISTANCE_THRESH": 2, "STUCK_MOVE_RESET": 5, "MAX_NORMAL_ESCAPES": 2,
	}
	assert.Equal(t, want, tun.Values())
	assert.Equal(t, DefaultTuning(), tun)
}

func TestTuningSet_ClampsAndSnaps(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"FRONT_CRITICAL_CM", 7.4, 7},
		{"FRONT_CRITICAL_CM", -3, 2},
		{"FULL_SPEED_CM", 900, 500},
		{"FULL_SPEED_CM", 212, 210},
		{"UTURN_DURATION", 0.83, 0.8},
		{"SONAR_HISTORY_LEN", 4.6, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tun := DefaultTuning()
			got, err := tun.Set(tt.name, tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)

			read, err := tun.Get(tt.name)
			require.NoError(t, err)
			assert.Equal(t, got, read)
			assert.NoError(t, tun.Validate())
		})
	}
}

func TestTuningSet_KeepsPairedBounds(t *testing.T) {
	tun := DefaultTuning()

	got, err := tun.Set("REAR_BLOCKED_CM", 50)
	require.NoError(t, err)
	assert.Equal(t, tun.RearCriticalCM, got)

	got, err = tun.Set("MAX_SPEED", 10)
	require.NoError(t, err)
	assert.Equal(t, tun.MinSpeed, got)

	require.NoError(t, tun.Validate())
}

func TestTuningSet_RejectsUnknownAndNonFinite(t *testing.T) {
	tun := DefaultTuning()

	_, err := tun.Set("WARP_FACTOR", 9)
	assert.True(t, errors.Is(err, ErrUnknownTuningParam))

	_, err = tun.Set("MAX_SPEED", math.NaN())
	assert.True(t, errors.Is(err, ErrNonFiniteTuning))
	_, err = tun.Set("MAX_SPEED", math.Inf(1))
	assert.True(t, errors.Is(err, ErrNonFiniteTuning))

	assert.Equal(t, DefaultTuning(), tun)
}

func TestTuningParams_CoverEveryField(t *testing.T) {
	params := TuningParams()
	require.Len(t, params, 24)

	seen := map[string]bool{}
	for _, p := range params {
		assert.False(t, seen[p.Name], "duplicate %s", p.Name)
		seen[p.Name] = true
		assert.Less(t, p.Min, p.Max, p.Name)
	}
}

func TestTuningFile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tuning.yaml")

	tun := DefaultTuning()
	_, err := tun.Set("PIVOT_SPEED", 65)
	require.NoError(t, err)
	require.NoError(t, SaveTuningFile(path, tun))

	loaded, err := LoadTuningFile(path)
	require.NoError(t, err)
	assert.Equal(t, tun, loaded)
}

func TestLoadTuningFile_MissingYieldsDefaults(t *testing.T) {
	loaded, err := LoadTuningFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTuning(), loaded)

	loaded, err = LoadTuningFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTuning(), loaded)
}

func TestLoadTuningFile_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":  "WARP_FACTOR: 9\n",
		"out of range": "MAX_SPEED: 300\n",
		"inverted":     "REAR_BLOCKED_CM: 40\nREAR_CRITICAL_CM: 10\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tuning.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadTuningFile(path)
			assert.Error(t, err)
		})
	}
}

func TestTuningSet_PairedBoundAfterOffStepLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("MAX_SPEED: 78\nREAR_CRITICAL_CM: 12.5\n"), 0o644))

	tun, err := LoadTuningFile(path)
	require.NoError(t, err)

	// 78 snaps to 80 on the 5% grid, which would overtake MAX_SPEED.
	got, err := tun.Set("MIN_SPEED", 78)
	require.NoError(t, err)
	assert.Equal(t, 78.0, got)
	assert.LessOrEqual(t, tun.MinSpeed, tun.MaxSpeed)

	got, err = tun.Set("MIN_SPEED", 77)
	require.NoError(t, err)
	assert.Equal(t, 75.0, got)

	got, err = tun.Set("REAR_BLOCKED_CM", 13)
	require.NoError(t, err)
	assert.Equal(t, 12.5, got)

	require.NoError(t, tun.Validate())
	assert.LessOrEqual(t, cruiseAccel(1000, tun), tun.MaxSpeed)
}

func TestTuningSet_EditSurvivesSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("MAX_SPEED: 78\n"), 0o644))

	tun, err := LoadTuningFile(path)
	require.NoError(t, err)
	_, err = tun.Set("MIN_SPEED", 100)
	require.NoError(t, err)
	_, err = tun.Set("REVERSE_DURATION", 1.37)
	require.NoError(t, err)
	require.NoError(t, SaveTuningFile(path, tun))

	reloaded, err := LoadTuningFile(path)
	require.NoError(t, err)
	assert.Equal(t, tun, reloaded)
	assert.Equal(t, 78.0, reloaded.MinSpeed)
	assert.InDelta(t, 1.4, reloaded.ReverseDuration, 1e-9)
}
