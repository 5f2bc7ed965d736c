package main

import "math"

// AutopilotStatus is the driving status reported by the obstacle-avoidance automaton.
type AutopilotStatus string

const (
	StatusCruising   AutopilotStatus = "CRUISING"
	StatusPanicBrake AutopilotStatus = "PANIC_BRAKE"
	StatusReversing  AutopilotStatus = "REVERSING"
	StatusStuck      AutopilotStatus = "STUCK"
	StatusPivoting   AutopilotStatus = "PIVOTING"
	StatusRecovery   AutopilotStatus = "RECOVERY"
)

var autopilotStatuses = []AutopilotStatus{
	StatusCruising, StatusPanicBrake, StatusReversing, StatusStuck, StatusPivoting, StatusRecovery,
}

// ParseAutopilotStatus maps a wire string to a status.
func ParseAutopilotStatus(s string) (AutopilotStatus, bool) {
	for _, st := range autopilotStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// durations accumulate in float steps; treat anything this close as elapsed
const elapsedEps = 1e-9

func reached(elapsed, d float64) bool { return elapsed >= d-elapsedEps }

// AutopilotState is the reducer-owned automaton state.
//
// Step is evaluated once per autonomy tick with the filtered front/rear
// distances. The first matching rule wins: PANIC_BRAKE, then the handler for
// the current status (STUCK, REVERSING, PIVOTING, RECOVERY, CRUISING).
type AutopilotState struct {
	Status       AutopilotStatus
	AccelPercent float64
	DistanceCM   float64

	// Raw sonar windows; cleared on disengage and re-settled on RECOVERY.
	Front distanceFilter
	Rear  distanceFilter

	elapsed float64 // seconds in the current status

	// escape episode
	attempt        int
	uturn          bool
	unresolved     bool
	resumeReverse  bool
	reverseElapsed float64

	// stuck detection window
	stuckRef    float64
	stuckRefSet bool
	stuckFor    float64
	sinceBoost  float64
	boost       float64
}

// NewAutopilotState returns the resting state.
func NewAutopilotState() AutopilotState {
	return AutopilotState{Status: StatusCruising}
}

// Reset drops all history and returns to CRUISING.
func (a *AutopilotState) Reset() {
	*a = NewAutopilotState()
}

// Observe pushes one raw sonar sample into both channel windows.
func (a *AutopilotState) Observe(front, rear float64, t TuningConfig) {
	n := t.historyLen()
	a.Front.Push(front, n)
	a.Rear.Push(rear, n)
}

// Step advances the automaton by dt seconds.
func (a *AutopilotState) Step(dt float64, t TuningConfig) {
	if a.Status == "" {
		a.Status = StatusCruising
	}
	front, ok := a.Front.Mean()
	if !ok {
		// Nothing sensed yet: hold still.
		a.AccelPercent = 0
		return
	}
	rear, ok := a.Rear.Mean()
	if !ok {
		rear = math.Inf(1)
	}
	a.DistanceCM = front

	if front <= t.FrontCriticalCM {
		if a.Status != StatusPanicBrake {
			a.resumeReverse = a.Status == StatusReversing
			a.enter(StatusPanicBrake)
		}
		a.AccelPercent = 0
		return
	}

	a.elapsed += dt

	switch a.Status {
	case StatusPanicBrake:
		if a.resumeReverse {
			// Same attempt, keep the reverse time already spent.
			a.resumeReverse = false
			a.enter(StatusReversing)
			a.AccelPercent = t.ReverseSpeed
			return
		}
		a.beginEscape(rear, t)

	case StatusStuck:
		a.stepStuck(front, rear, dt, t)

	case StatusReversing:
		a.reverseElapsed += dt
		if rear <= t.RearCriticalCM || reached(a.reverseElapsed, a.reverseDuration(t)) {
			a.enterPivot(false, t)
			return
		}
		a.AccelPercent = t.ReverseSpeed

	case StatusPivoting:
		d, speed := t.PivotDuration, t.PivotSpeed
		if a.uturn {
			d, speed = t.UTurnDuration, t.UTurnSpeed
		}
		if !reached(a.elapsed, d) {
			a.AccelPercent = speed
			return
		}
		if front > t.EscapeClearCM {
			a.enterRecovery(t)
			return
		}
		a.beginEscape(rear, t)

	case StatusRecovery:
		if reached(a.elapsed, t.RecoveryDuration) {
			a.enter(StatusCruising)
			a.attempt = 0
			a.resetStuckWindow(front)
			a.AccelPercent = cruiseAccel(front, t)
			return
		}
		a.AccelPercent = t.MinSpeed

	default:
		cruise := cruiseAccel(front, t)
		if a.updateStuck(front, dt, t) && reached(a.stuckFor, t.StuckTimeThresh) {
			a.enter(StatusStuck)
			a.boost = 0
			a.sinceBoost = 0
		}
		a.AccelPercent = cruise
	}
}

func (a *AutopilotState) stepStuck(front, rear, dt float64, t TuningConfig) {
	if a.unresolved {
		if front > t.EscapeClearCM {
			a.unresolved = false
			a.enterRecovery(t)
			return
		}
		a.AccelPercent = 0
		return
	}

	cruise := cruiseAccel(front, t)
	if !a.updateStuck(front, dt, t) {
		a.enter(StatusCruising)
		a.boost = 0
		a.AccelPercent = cruise
		return
	}

	a.sinceBoost += dt
	if reached(a.sinceBoost, t.StuckRecheckInterval) {
		a.sinceBoost = 0
		if cruise+a.boost >= t.StuckBoostMax {
			a.boost = 0
			a.beginEscape(rear, t)
			return
		}
		a.boost += t.StuckBoostStep
	}
	a.AccelPercent = math.Min(cruise+a.boost, t.StuckBoostMax)
}

// beginEscape starts a new escape attempt, or gives up once the attempt
// budget is spent. A rear that is already blocked turns the attempt into a
// U-turn pivot; the U-turn still counts as an attempt.
func (a *AutopilotState) beginEscape(rear float64, t TuningConfig) {
	if a.attempt >= t.maxEscapes() {
		a.enter(StatusStuck)
		a.unresolved = true
		a.AccelPercent = 0
		return
	}
	a.attempt++
	a.reverseElapsed = 0
	if rear <= t.RearBlockedCM {
		a.enterPivot(true, t)
		return
	}
	a.enter(StatusReversing)
	a.AccelPercent = t.ReverseSpeed
}

func (a *AutopilotState) reverseDuration(t TuningConfig) float64 {
	n := a.attempt - 1
	if n < 0 {
		n = 0
	}
	return t.ReverseDuration + float64(n)*t.ReverseStep
}

func (a *AutopilotState) enterPivot(uturn bool, t TuningConfig) {
	a.enter(StatusPivoting)
	a.uturn = uturn
	if uturn {
		a.AccelPercent = t.UTurnSpeed
	} else {
		a.AccelPercent = t.PivotSpeed
	}
}

func (a *AutopilotState) enterRecovery(t TuningConfig) {
	a.enter(StatusRecovery)
	a.Front.resettle()
	a.Rear.resettle()
	a.AccelPercent = t.MinSpeed
}

func (a *AutopilotState) enter(s AutopilotStatus) {
	a.Status = s
	a.elapsed = 0
	if s != StatusPivoting {
		a.uturn = false
	}
}

// updateStuck maintains the stuck window and reports whether the vehicle
// currently looks stuck: an obstacle in view, no real improvement in front
// distance and no displacement beyond STUCK_MOVE_RESET since the window opened.
func (a *AutopilotState) updateStuck(front, dt float64, t TuningConfig) bool {
	if front >= t.FullSpeedCM {
		a.resetStuckWindow(front)
		return false
	}
	if !a.stuckRefSet {
		a.resetStuckWindow(front)
		return true
	}
	delta := front - a.stuckRef
	if delta > t.StuckDistanceThresh || math.Abs(delta) > t.StuckMoveReset {
		a.resetStuckWindow(front)
		return false
	}
	a.stuckFor += dt
	return true
}

func (a *AutopilotState) resetStuckWindow(front float64) {
	a.stuckRef = front
	a.stuckRefSet = true
	a.stuckFor = 0
}

// cruiseAccel scales linearly from DANGER_CM (0%) to FULL_SPEED_CM (100%)
// and clamps into [MIN_SPEED, MAX_SPEED].
func cruiseAccel(front float64, t TuningConfig) float64 {
	span := t.FullSpeedCM - t.DangerCM
	var pct float64
	switch {
	case span <= 0 && front > t.DangerCM:
		pct = 100
	case span <= 0:
		pct = 0
	default:
		pct = 100 * (front - t.DangerCM) / span
	}
	return clamp(pct, t.MinSpeed, t.MaxSpeed)
}

// AutopilotDrive is what the automaton asks of the drivetrain this tick.
type AutopilotDrive struct {
	Throttle bool
	Brake    bool
	Gear     Gear
	Target   float64
}

// Drive maps the current status onto effective drive inputs.
func (a AutopilotState) Drive() AutopilotDrive {
	switch a.Status {
	case StatusPanicBrake:
		return AutopilotDrive{Brake: true, Gear: GearNeutral}
	case StatusReversing:
		return AutopilotDrive{Throttle: true, Gear: GearReverse, Target: a.AccelPercent}
	case StatusPivoting:
		return AutopilotDrive{Throttle: true, Gear: GearFirst, Target: a.AccelPercent}
	case StatusStuck:
		if a.unresolved {
			return AutopilotDrive{Brake: true, Gear: GearNeutral}
		}
	}
	return AutopilotDrive{Throttle: a.AccelPercent > 0, Gear: GearSecond, Target: a.AccelPercent}
}

// AutopilotTelemetry is the externally visible part of AutopilotState.
type AutopilotTelemetry struct {
	Status       AutopilotStatus `json:"status"`
	AccelPercent float64         `json:"acceleration_percent"`
	DistanceCM   float64         `json:"distance_cm"`
	Attempt      int             `json:"escape_attempt"`
	Boost        float64         `json:"boost"`
	Unresolved   bool            `json:"unresolved"`
}

func (a AutopilotState) Telemetry() AutopilotTelemetry {
	return AutopilotTelemetry{
		Status:       a.Status,
		AccelPercent: a.AccelPercent,
		DistanceCM:   a.DistanceCM,
		Attempt:      a.attempt,
		Boost:        a.boost,
		Unresolved:   a.unresolved,
	}
}
