package main

import (
	"math/rand"
	"sync"
)

// Distances is one sonar sweep in centimetres.
type Distances struct {
	Front float64 `json:"front"`
	Rear  float64 `json:"rear"`
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// SensorFeed supplies sonar readings and, optionally, the vehicle's own
// autopilot status. A false second return means "nothing new"; callers keep
// the last known value.
type SensorFeed interface {
	NextDistances() (Distances, bool)
	NextStatusHint() (AutopilotStatus, bool)
}

// simulatedFeed produces bench-test readings in the ranges the dashboard
// was designed around.
type simulatedFeed struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSimulatedFeed(seed int64) *simulatedFeed {
	return &simulatedFeed{rng: rand.New(rand.NewSource(seed))}
}

func (f *simulatedFeed) NextDistances() (Distances, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Distances{
		Front: float64(35 + f.rng.Intn(21)),
		Rear:  float64(60 + f.rng.Intn(41)),
		Left:  float64(20 + f.rng.Intn(26)),
		Right: float64(30 + f.rng.Intn(41)),
	}, true
}

// The bench feed has no onboard autopilot to report.
func (f *simulatedFeed) NextStatusHint() (AutopilotStatus, bool) {
	return "", false
}
