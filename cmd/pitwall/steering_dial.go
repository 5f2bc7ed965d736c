package main

import "time"

// DialConfig controls how steering dial detents become degrees.
type DialConfig struct {
	DegPerStep         float64
	VelocityWindowMS   int
	VelocityThreshold  int
	VelocityMultiplier float64
}

// DialReducerState tracks recent dial detents for velocity detection.
// Fast spinning scales the step size so a full lock is a quick flick.
type DialReducerState struct {
	RecentSteps []DialStep
}

// DialStep is one observed detent. Direction is -1 or +1.
type DialStep struct {
	At        time.Time
	Direction int
}

// addStep records a detent at `at` and returns the count of steps in the
// same direction within the velocity window (including this one).
func (d *DialReducerState) addStep(direction int, at time.Time, windowMS int) int {
	cutoff := at.Add(-time.Duration(windowMS) * time.Millisecond)

	filtered := d.RecentSteps[:0]
	for _, s := range d.RecentSteps {
		if s.At.After(cutoff) {
			filtered = append(filtered, s)
		}
	}
	filtered = append(filtered, DialStep{At: at, Direction: direction})
	d.RecentSteps = filtered

	sameDir := 0
	for _, s := range filtered {
		if s.Direction == direction {
			sameDir++
		}
	}
	return sameDir
}

// dialDegrees converts a raw dial turn into a signed steering delta.
func (d *DialReducerState) dialDegrees(steps int, at time.Time, cfg DialConfig) float64 {
	if steps == 0 {
		return 0
	}
	dir := 1
	if steps < 0 {
		dir = -1
	}

	degPerStep := cfg.DegPerStep
	if degPerStep <= 0 {
		degPerStep = defaultDialDegPerStep
	}

	window := cfg.VelocityWindowMS
	if window <= 0 {
		window = defaultDialVelocityWindowMS
	}

	var count int
	n := steps * dir
	for i := 0; i < n; i++ {
		count = d.addStep(dir, at, window)
	}

	delta := float64(steps) * degPerStep
	if cfg.VelocityThreshold > 0 && count >= cfg.VelocityThreshold && cfg.VelocityMultiplier > 1 {
		delta *= cfg.VelocityMultiplier
	}
	return delta
}
