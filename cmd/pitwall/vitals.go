package main

import (
	"math"
	"math/rand"
	"sync"
)

// Vitals are the secondary gauges: power, drivetrain and compute health.
type Vitals struct {
	BatteryPercent float64    `json:"battery_percent"`
	RPM            float64    `json:"rpm"`
	TemperatureC   float64    `json:"temperature_c"`
	CPUClockMHz    float64    `json:"cpu_clock_mhz"`
	GPUClockMHz    float64    `json:"gpu_clock_mhz"`
	Accel          [3]float64 `json:"accel_g"`
}

// VitalsFeed samples vitals given the current speed.
type VitalsFeed interface {
	Sample(speed float64) Vitals
}

// simulatedVitals drifts plausibly with speed; the battery only drains.
type simulatedVitals struct {
	mu      sync.Mutex
	rng     *rand.Rand
	battery float64
	temp    float64
}

func newSimulatedVitals(seed int64) *simulatedVitals {
	return &simulatedVitals{
		rng:     rand.New(rand.NewSource(seed)),
		battery: 75,
		temp:    45,
	}
}

func (v *simulatedVitals) Sample(speed float64) Vitals {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.battery = math.Max(0, v.battery-0.001-speed*0.0002)
	target := 45 + speed*0.35
	v.temp += (target - v.temp) * 0.05

	return Vitals{
		BatteryPercent: round2(v.battery),
		RPM:            math.Round(800 + speed*62 + v.rng.Float64()*40),
		TemperatureC:   round2(v.temp),
		CPUClockMHz:    math.Round(1400 + speed*4 + v.rng.Float64()*100),
		GPUClockMHz:    math.Round(600 + speed*3 + v.rng.Float64()*80),
		Accel: [3]float64{
			round2(0.95 + v.rng.Float64()*0.1 - 0.05),
			round2(0.2 + v.rng.Float64()*0.3 - 0.15),
			round2(-0.1 + v.rng.Float64()*0.2 - 0.1),
		},
	}
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
