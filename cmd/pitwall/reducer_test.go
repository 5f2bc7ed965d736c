package main

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var reduceT0 = time.Unix(2000, 0)

func findBroadcast[T StateBroadcast](bs []StateBroadcast) (T, bool) {
	for _, b := range bs {
		if v, ok := b.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func findCommand[T Command](cmds []Command) (T, bool) {
	for _, c := range cmds {
		if v, ok := c.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func TestReduce_RejectedActionHasNoBroadcasts(t *testing.T) {
	s := connected(drivingState())
	s.Modes.EmergencyStop = true

	rr := Reduce(s, TimedEvent{Event: SetThrottle{Active: true}, At: reduceT0}, testConsoleConfig())

	var te errTransition
	if !errors.As(rr.Rejected, &te) {
		t.Fatalf("expected errTransition, got %v", rr.Rejected)
	}
	if len(rr.Commands) != 0 || len(rr.Broadcasts) != 0 {
		t.Fatalf("rejected action leaked output: cmds=%v broadcasts=%v", rr.Commands, rr.Broadcasts)
	}
	if rr.State.Control.Throttle {
		t.Fatalf("throttle should remain released")
	}
}

func TestReduce_OrphanTickIgnored(t *testing.T) {
	s := drivingState()
	s.Control.Gear = GearFirst
	s.Control.Throttle = true

	rr := Reduce(s, TaskTick{Task: TaskIntegrator, Run: "run-0", Now: reduceT0}, testConsoleConfig())
	if rr.State.Control.Speed != 0 {
		t.Fatalf("orphan tick moved the speed to %v", rr.State.Control.Speed)
	}
	if len(rr.Broadcasts) != 0 {
		t.Fatalf("orphan tick produced broadcasts: %v", rr.Broadcasts)
	}

	rr = Reduce(s, TaskTick{Task: TaskIntegrator, Run: s.Run, Now: reduceT0}, testConsoleConfig())
	if rr.State.Control.Speed != 1.0 {
		t.Fatalf("expected speed 1.0 after a live tick, got %v", rr.State.Control.Speed)
	}
	b, ok := findBroadcast[BroadcastSpeedChanged](rr.Broadcasts)
	if !ok || b.Speed != 1.0 {
		t.Fatalf("expected speed broadcast of 1.0, got %+v (found=%v)", b, ok)
	}
}

func TestDiffBroadcasts_SpeedRoundedToTenth(t *testing.T) {
	prev := drivingState()
	prev.Control.Speed = 12.04

	next := *prev
	next.Control.Speed = 12.01
	if bs := diffBroadcasts(prev, &next, reduceT0); len(bs) != 0 {
		t.Fatalf("sub-tenth change should not broadcast, got %v", bs)
	}

	next.Control.Speed = 11.94
	bs := diffBroadcasts(prev, &next, reduceT0)
	b, ok := findBroadcast[BroadcastSpeedChanged](bs)
	if !ok {
		t.Fatalf("expected a speed broadcast, got %v", bs)
	}
	if b.Speed != 11.9 {
		t.Fatalf("expected 11.9, got %v", b.Speed)
	}
	if _, ok := findBroadcast[BroadcastControlsChanged](bs); ok {
		t.Fatalf("speed alone must not count as a controls change")
	}
}

func TestReduce_ConnectFlow(t *testing.T) {
	cfg := testConsoleConfig()
	cfg.LinkAddr = "ws://vehicle:8080/ws"
	s := drivingState()

	rr := Reduce(s, TimedEvent{Event: ConnectLink{}, At: reduceT0}, cfg)
	dial, ok := findCommand[CmdDialLink](rr.Commands)
	if !ok || dial.Addr != cfg.LinkAddr {
		t.Fatalf("expected CmdDialLink to the configured address, got %v", rr.Commands)
	}
	if !rr.State.Link.Connecting {
		t.Fatalf("expected connecting state")
	}

	rr = Reduce(s, TimedEvent{Event: ConnectLink{}, At: reduceT0}, cfg)
	if rr.Rejected == nil {
		t.Fatalf("second connect during a dial should be refused")
	}

	sink := &fakeSink{}
	rr = Reduce(s, LinkConnected{Addr: cfg.LinkAddr, Attempt: dial.Attempt, Sink: sink, At: reduceT0}, cfg)
	if !rr.State.Link.Connected || rr.State.Link.Connecting {
		t.Fatalf("expected connected link, got %+v", rr.State.Link)
	}
	install, ok := findCommand[CmdInstallSink](rr.Commands)
	if !ok || install.Sink != CommandSink(sink) {
		t.Fatalf("expected CmdInstallSink with the dialed sink, got %v", rr.Commands)
	}
	if _, ok := findBroadcast[BroadcastLinkChanged](rr.Broadcasts); !ok {
		t.Fatalf("expected link broadcast")
	}

	rr = Reduce(s, TimedEvent{Event: SetGear{Gear: GearFirst}, At: reduceT0}, cfg)
	sent := sentLinkCommands(rr.Commands)
	if len(sent) != 1 || sent[0].Name != linkGear || sent[0].Value != "1" {
		t.Fatalf("expected gear command once connected, got %v", sent)
	}
}

func TestReduce_LinkFailedRecordsError(t *testing.T) {
	cfg := testConsoleConfig()
	s := drivingState()
	rr := Reduce(s, TimedEvent{Event: ConnectLink{Addr: "ws://a"}, At: reduceT0}, cfg)
	dial, _ := findCommand[CmdDialLink](rr.Commands)

	rr = Reduce(s, LinkFailed{Addr: "ws://a", Attempt: dial.Attempt - 1, Err: errors.New("old"), At: reduceT0}, cfg)
	if !rr.State.Link.Connecting {
		t.Fatalf("a failure from an older attempt must not end the current dial")
	}

	rr = Reduce(s, LinkFailed{Addr: "ws://a", Attempt: dial.Attempt, Err: errors.New("connection refused"), At: reduceT0}, cfg)
	if rr.State.Link.Connecting || rr.State.Link.Connected {
		t.Fatalf("expected idle link, got %+v", rr.State.Link)
	}
	if rr.State.Link.LastError != "connection refused" {
		t.Fatalf("expected last error recorded, got %q", rr.State.Link.LastError)
	}
}

func TestReduce_StaleLinkConnectedIsDiscarded(t *testing.T) {
	cfg := testConsoleConfig()
	s := drivingState()
	rr := Reduce(s, TimedEvent{Event: ConnectLink{Addr: "ws://a"}, At: reduceT0}, cfg)
	stale, _ := findCommand[CmdDialLink](rr.Commands)
	Reduce(s, TimedEvent{Event: DisconnectLink{}, At: reduceT0}, cfg)

	late := &fakeSink{}
	rr = Reduce(s, LinkConnected{Addr: "ws://a", Attempt: stale.Attempt, Sink: late, At: reduceT0}, cfg)
	discard, ok := findCommand[CmdDiscardSink](rr.Commands)
	if !ok || discard.Sink != CommandSink(late) {
		t.Fatalf("expected CmdDiscardSink for a dial the operator abandoned, got %v", rr.Commands)
	}
	if _, ok := findCommand[CmdCloseLink](rr.Commands); ok {
		t.Fatalf("a late dial must not close the dispatcher's sink")
	}
	if rr.State.Link.Connected {
		t.Fatalf("stale dial must not mark the link connected")
	}
}

func TestReduce_LateDialAfterReconnect(t *testing.T) {
	cfg := testConsoleConfig()
	s := drivingState()

	rr := Reduce(s, TimedEvent{Event: ConnectLink{Addr: "ws://a"}, At: reduceT0}, cfg)
	first, _ := findCommand[CmdDialLink](rr.Commands)
	Reduce(s, TimedEvent{Event: DisconnectLink{}, At: reduceT0}, cfg)
	rr = Reduce(s, TimedEvent{Event: ConnectLink{Addr: "ws://a"}, At: reduceT0}, cfg)
	second, _ := findCommand[CmdDialLink](rr.Commands)
	if second.Attempt == first.Attempt {
		t.Fatalf("each dial needs its own attempt, got %d twice", first.Attempt)
	}

	current := &fakeSink{}
	rr = Reduce(s, LinkConnected{Addr: "ws://a", Attempt: second.Attempt, Sink: current, At: reduceT0}, cfg)
	if _, ok := findCommand[CmdInstallSink](rr.Commands); !ok {
		t.Fatalf("expected CmdInstallSink, got %v", rr.Commands)
	}

	// Same address, older attempt: only the late sink goes away.
	late := &fakeSink{}
	rr = Reduce(s, LinkConnected{Addr: "ws://a", Attempt: first.Attempt, Sink: late, At: reduceT0}, cfg)
	if len(rr.Commands) != 1 {
		t.Fatalf("expected a single discard, got %v", rr.Commands)
	}
	if d, ok := rr.Commands[0].(CmdDiscardSink); !ok || d.Sink != CommandSink(late) {
		t.Fatalf("expected CmdDiscardSink for the late sink, got %v", rr.Commands)
	}
	if !rr.State.Link.Connected || len(rr.Broadcasts) != 0 {
		t.Fatalf("live link must be untouched, got %+v broadcasts=%v", rr.State.Link, rr.Broadcasts)
	}
}

func TestReduce_LinkClosedDropsDriveState(t *testing.T) {
	s := connected(drivingState())
	s.Control.Gear = GearSecond
	s.Control.Throttle = true
	s.Control.Speed = 25

	err := fmt.Errorf("%w: broken pipe", ErrLinkClosed)
	rr := Reduce(s, CommandFailed{Command: CmdSend{}, Err: err, At: reduceT0}, testConsoleConfig())

	if rr.State.Link.Connected {
		t.Fatalf("link should be down")
	}
	if rr.State.Control.Speed != 0 || rr.State.Control.Throttle || rr.State.Control.Gear != GearNeutral {
		t.Fatalf("drive state not reset: %+v", rr.State.Control)
	}
	if _, ok := findCommand[CmdCloseLink](rr.Commands); !ok {
		t.Fatalf("expected CmdCloseLink, got %v", rr.Commands)
	}

	// Other failures leave the link alone.
	s = connected(drivingState())
	rr = Reduce(s, CommandFailed{Command: CmdSaveTuning{}, Err: errors.New("disk full"), At: reduceT0}, testConsoleConfig())
	if !rr.State.Link.Connected {
		t.Fatalf("unrelated failure dropped the link")
	}
}

func TestReduce_TuningEditPersists(t *testing.T) {
	s := drivingState()

	rr := Reduce(s, TimedEvent{Event: SetTuning{Name: "DANGER_CM", Value: 45}, At: reduceT0}, testConsoleConfig())
	if rr.Rejected != nil {
		t.Fatalf("unexpected refusal: %v", rr.Rejected)
	}
	save, ok := findCommand[CmdSaveTuning](rr.Commands)
	if !ok || save.Tuning.DangerCM != 45 {
		t.Fatalf("expected CmdSaveTuning with DANGER_CM=45, got %v", rr.Commands)
	}
	b, ok := findBroadcast[BroadcastTuningChanged](rr.Broadcasts)
	if !ok || b.Values["DANGER_CM"] != 45 {
		t.Fatalf("expected tuning broadcast, got %v", rr.Broadcasts)
	}

	rr = Reduce(s, TimedEvent{Event: SetTuning{Name: "DANGER_CM", Value: 45}, At: reduceT0}, testConsoleConfig())
	if len(rr.Commands) != 0 || len(rr.Broadcasts) != 0 {
		t.Fatalf("unchanged value should be a no-op, got cmds=%v broadcasts=%v", rr.Commands, rr.Broadcasts)
	}

	rr = Reduce(s, TimedEvent{Event: SetTuning{Name: "NOPE", Value: 1}, At: reduceT0}, testConsoleConfig())
	if !errors.Is(rr.Rejected, ErrUnknownTuningParam) {
		t.Fatalf("expected ErrUnknownTuningParam, got %v", rr.Rejected)
	}

	rr = Reduce(s, TimedEvent{Event: ResetTuning{}, At: reduceT0}, testConsoleConfig())
	if _, ok := findCommand[CmdSaveTuning](rr.Commands); !ok {
		t.Fatalf("reset after an edit should persist, got %v", rr.Commands)
	}
	if rr.State.Tuning != DefaultTuning() {
		t.Fatalf("reset did not restore defaults")
	}
}

func TestReduce_PairedTuningEditSavesValidTable(t *testing.T) {
	s := drivingState()
	s.Tuning.MaxSpeed = 78

	rr := Reduce(s, TimedEvent{Event: SetTuning{Name: "MIN_SPEED", Value: 78}, At: reduceT0}, testConsoleConfig())
	if rr.Rejected != nil {
		t.Fatalf("unexpected refusal: %v", rr.Rejected)
	}
	save, ok := findCommand[CmdSaveTuning](rr.Commands)
	if !ok {
		t.Fatalf("expected CmdSaveTuning, got %v", rr.Commands)
	}
	if err := save.Tuning.Validate(); err != nil {
		t.Fatalf("saved tuning must stay loadable: %v", err)
	}
	if save.Tuning.MinSpeed != 78 {
		t.Fatalf("MIN_SPEED = %v, want 78", save.Tuning.MinSpeed)
	}
}

func TestReduce_SnapshotRequest(t *testing.T) {
	s := drivingState()
	s.Control.Speed = 3
	reply := make(chan StateSnapshot, 1)

	rr := Reduce(s, RequestStateSnapshot{Reply: reply}, testConsoleConfig())
	pub, ok := findCommand[CmdPublishStateSnapshot](rr.Commands)
	if !ok {
		t.Fatalf("expected CmdPublishStateSnapshot, got %v", rr.Commands)
	}
	if pub.Snapshot.Run != "run-1" || pub.Snapshot.Control.Speed != 3 {
		t.Fatalf("snapshot does not reflect state: %+v", pub.Snapshot)
	}
	if pub.Snapshot.Sensors != nil {
		t.Fatalf("no sensor data yet, expected nil sensors")
	}
	if len(pub.Snapshot.Tuning) != len(tuningParams) {
		t.Fatalf("expected %d tuning values, got %d", len(tuningParams), len(pub.Snapshot.Tuning))
	}
}

func TestReduce_EmergencyStopHaltsWithinOneTick(t *testing.T) {
	cfg := testConsoleConfig()
	s := connected(drivingState())
	s.Control.Gear = GearThird
	s.Control.Throttle = true
	s.Control.Speed = 40

	rr := Reduce(s, TimedEvent{Event: SetEmergencyStop{Active: true}, At: reduceT0}, cfg)
	sent := sentLinkCommands(rr.Commands)
	if len(sent) != 1 || sent[0].Name != linkEmergencyStop || sent[0].Value != true {
		t.Fatalf("expected emergency_stop=true on the link, got %v", sent)
	}

	rr = Reduce(s, TaskTick{Task: TaskIntegrator, Run: s.Run, Now: reduceT0.Add(50 * time.Millisecond)}, cfg)
	if rr.State.Control.Speed != 0 {
		t.Fatalf("expected speed 0 after one tick, got %v", rr.State.Control.Speed)
	}
	b, ok := findBroadcast[BroadcastSpeedChanged](rr.Broadcasts)
	if !ok || b.Speed != 0 {
		t.Fatalf("expected speed broadcast of 0, got %v", rr.Broadcasts)
	}
}

func TestReduce_SensorsObservation(t *testing.T) {
	s := drivingState()
	d := Distances{Front: 50, Rear: 80, Left: 30, Right: 40}

	rr := Reduce(s, SensorsObserved{Run: "run-9", Distances: d, Fresh: true, At: reduceT0}, testConsoleConfig())
	if rr.State.Sensors.Known {
		t.Fatalf("observation from another run must be ignored")
	}

	rr = Reduce(s, SensorsObserved{Run: s.Run, Distances: d, Fresh: true, Hint: StatusReversing, HintKnown: true, At: reduceT0}, testConsoleConfig())
	if !rr.State.Sensors.Known || rr.State.Sensors.Latest != d {
		t.Fatalf("expected sensors recorded, got %+v", rr.State.Sensors)
	}
	b, ok := findBroadcast[BroadcastSensorsChanged](rr.Broadcasts)
	if !ok || b.ReportedStatus != StatusReversing {
		t.Fatalf("expected sensors broadcast with hint, got %v", rr.Broadcasts)
	}
	if _, ok := rr.State.Autopilot.Front.Mean(); ok {
		t.Fatalf("autopilot is not engaged and should not buffer samples")
	}
}

func TestReduce_AutopilotTickFollowsSensors(t *testing.T) {
	cfg := testConsoleConfig()
	s := drivingState()
	Reduce(s, TimedEvent{Event: SetAutopilot{Active: true}, At: reduceT0}, cfg)

	Reduce(s, SensorsObserved{Run: s.Run, Distances: Distances{Front: 70, Rear: 80}, Fresh: true, At: reduceT0}, cfg)
	rr := Reduce(s, TaskTick{Task: TaskAutopilot, Run: s.Run, Now: reduceT0, Dt: 0}, cfg)

	ap := rr.State.Autopilot
	if ap.Status != StatusCruising {
		t.Fatalf("expected CRUISING, got %s", ap.Status)
	}
	if ap.DistanceCM != 70 {
		t.Fatalf("expected distance 70, got %v", ap.DistanceCM)
	}
	// 70cm is halfway between DANGER_CM (40) and FULL_SPEED_CM (100).
	if ap.AccelPercent != 50 {
		t.Fatalf("expected 50%% acceleration, got %v", ap.AccelPercent)
	}
	if _, ok := findBroadcast[BroadcastAutopilotChanged](rr.Broadcasts); !ok {
		t.Fatalf("expected autopilot broadcast")
	}
}

func TestTickDt(t *testing.T) {
	period := 100 * time.Millisecond
	tests := []struct {
		dt   float64
		want float64
	}{
		{0, 0.1},
		{0.05, 0.05},
		{0.1, 0.1},
		{0.5, 0.2},
	}
	for _, tt := range tests {
		if got := tickDt(tt.dt, period); got != tt.want {
			t.Errorf("tickDt(%v) = %v, want %v", tt.dt, got, tt.want)
		}
	}
}
