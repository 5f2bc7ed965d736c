package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func collectEvents() (*[]Event, func(Event)) {
	var got []Event
	return &got, func(ev Event) { got = append(got, ev) }
}

func TestRunEffect_SaveTuningWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	fx := &Effects{Scheduler: newManualScheduler(), TuningFile: path}

	tuning := DefaultTuning()
	if _, err := tuning.Set("ESCAPE_CLEAR_CM", 35); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, onEvent := collectEvents()
	runEffect(context.Background(), fx, CmdSaveTuning{Tuning: tuning}, discardLogger(), onEvent)
	if len(*got) != 0 {
		t.Fatalf("expected no events, got %v", *got)
	}

	loaded, err := LoadTuningFile(path)
	if err != nil {
		t.Fatalf("LoadTuningFile: %v", err)
	}
	if loaded.EscapeClearCM != 35 {
		t.Fatalf("ESCAPE_CLEAR_CM = %v, want 35", loaded.EscapeClearCM)
	}
}

func TestRunEffect_SaveTuningFailureReported(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	fx := &Effects{Scheduler: newManualScheduler(), TuningFile: filepath.Join(blocker, "tuning.yaml")}

	got, onEvent := collectEvents()
	runEffect(context.Background(), fx, CmdSaveTuning{Tuning: DefaultTuning()}, discardLogger(), onEvent)

	if len(*got) != 1 {
		t.Fatalf("expected one event, got %v", *got)
	}
	failed, ok := (*got)[0].(CommandFailed)
	if !ok || failed.Err == nil {
		t.Fatalf("expected CommandFailed with an error, got %#v", (*got)[0])
	}
}

func TestRunEffect_ReadSensors(t *testing.T) {
	feed := &scriptedFeed{
		distances: []Distances{{Front: 44, Rear: 90, Left: 21, Right: 33}},
		hints:     []AutopilotStatus{StatusPivoting},
	}
	fx := &Effects{Scheduler: newManualScheduler(), Sensors: feed}

	got, onEvent := collectEvents()
	runEffect(context.Background(), fx, CmdReadSensors{Run: "run-3"}, discardLogger(), onEvent)
	runEffect(context.Background(), fx, CmdReadSensors{Run: "run-3"}, discardLogger(), onEvent)

	if len(*got) != 2 {
		t.Fatalf("expected two observations, got %v", *got)
	}
	first := (*got)[0].(SensorsObserved)
	if first.Run != "run-3" || !first.Fresh || first.Distances.Front != 44 {
		t.Fatalf("unexpected first observation %+v", first)
	}
	if !first.HintKnown || first.Hint != StatusPivoting {
		t.Fatalf("expected PIVOTING hint, got %+v", first)
	}

	second := (*got)[1].(SensorsObserved)
	if second.Fresh || second.HintKnown {
		t.Fatalf("exhausted feed should report nothing fresh, got %+v", second)
	}
}

func TestRunEffect_SampleVitals(t *testing.T) {
	fx := &Effects{Scheduler: newManualScheduler(), Vitals: newSimulatedVitals(1)}

	got, onEvent := collectEvents()
	runEffect(context.Background(), fx, CmdSampleVitals{Run: "run-1", Speed: 10}, discardLogger(), onEvent)

	if len(*got) != 1 {
		t.Fatalf("expected one observation, got %v", *got)
	}
	obs := (*got)[0].(VitalsObserved)
	if obs.Run != "run-1" {
		t.Fatalf("run = %q, want run-1", obs.Run)
	}
	if obs.Vitals.RPM <= 1400 {
		t.Fatalf("rpm should follow speed, got %v", obs.Vitals.RPM)
	}
}

func TestRunEffect_SnapshotReplyNeverBlocks(t *testing.T) {
	fx := &Effects{Scheduler: newManualScheduler()}
	reply := make(chan StateSnapshot) // nobody reading

	done := make(chan struct{})
	go func() {
		defer close(done)
		runEffect(context.Background(), fx, CmdPublishStateSnapshot{Reply: reply}, discardLogger(), func(Event) {})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runEffect blocked on an unread reply channel")
	}
}

func TestRunEffect_SendWithoutDispatcherFails(t *testing.T) {
	fx := &Effects{Scheduler: newManualScheduler()}

	got, onEvent := collectEvents()
	runEffect(context.Background(), fx, CmdSend{Link: LinkCommand{Name: linkBrake, Value: true}}, discardLogger(), onEvent)

	if len(*got) != 1 {
		t.Fatalf("expected one event, got %v", *got)
	}
	failed := (*got)[0].(CommandFailed)
	if !errors.Is(failed.Err, errNoLink{}) {
		t.Fatalf("expected errNoLink, got %v", failed.Err)
	}
}

func TestRunEffect_TaskControl(t *testing.T) {
	sched := newManualScheduler()
	fx := &Effects{Scheduler: sched}
	noop := func(Event) {}

	runEffect(context.Background(), fx, CmdStartTask{Task: TaskVitals, Period: time.Second, Run: "run-2"}, discardLogger(), noop)
	if run, ok := sched.run(TaskVitals); !ok || run != "run-2" {
		t.Fatalf("expected vitals task on run-2, got %q (running=%v)", run, ok)
	}

	runEffect(context.Background(), fx, CmdStopTask{Task: TaskVitals}, discardLogger(), noop)
	if _, ok := sched.run(TaskVitals); ok {
		t.Fatalf("vitals task still running after stop")
	}

	runEffect(context.Background(), fx, CmdStopAllTasks{}, discardLogger(), noop)
	if n := sched.stopAllCalls(); n != 1 {
		t.Fatalf("StopAll calls = %d, want 1", n)
	}
}

// TestRunEffect_DialLeavesInstallToReducer checks that a finished dial only
// reports its sink; the dispatcher is untouched until CmdInstallSink.
func TestRunEffect_DialLeavesInstallToReducer(t *testing.T) {
	sink := &fakeSink{}
	posted := make(chan Event, 1)
	disp := NewDispatcher(discardLogger(), DispatcherConfig{})
	fx := &Effects{
		Scheduler:  newManualScheduler(),
		Dispatcher: disp,
		Dial: func(ctx context.Context, addr string) (CommandSink, error) {
			return sink, nil
		},
		Post: func(ev Event) { posted <- ev },
	}

	runEffect(context.Background(), fx, CmdDialLink{Addr: "ws://v", Attempt: 4}, discardLogger(), func(Event) {})

	var lc LinkConnected
	select {
	case ev := <-posted:
		var ok bool
		if lc, ok = ev.(LinkConnected); !ok {
			t.Fatalf("expected LinkConnected, got %T", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("dial result never posted")
	}
	if lc.Addr != "ws://v" || lc.Attempt != 4 || lc.Sink != CommandSink(sink) {
		t.Fatalf("unexpected dial result %+v", lc)
	}
	if disp.current() != nil {
		t.Fatalf("dial installed its sink before the reducer accepted it")
	}

	runEffect(context.Background(), fx, CmdInstallSink{Sink: lc.Sink}, discardLogger(), func(Event) {})
	if disp.current() != CommandSink(sink) {
		t.Fatalf("CmdInstallSink did not install the sink")
	}

	runEffect(context.Background(), fx, CmdCloseLink{}, discardLogger(), func(Event) {})
	if disp.current() != nil || !sink.isClosed() {
		t.Fatalf("CmdCloseLink should close and forget the sink")
	}
}

func TestRunEffect_DialFailureCarriesAttempt(t *testing.T) {
	posted := make(chan Event, 1)
	fx := &Effects{
		Scheduler: newManualScheduler(),
		Dial: func(ctx context.Context, addr string) (CommandSink, error) {
			return nil, errors.New("connection refused")
		},
		Post: func(ev Event) { posted <- ev },
	}

	runEffect(context.Background(), fx, CmdDialLink{Addr: "ws://v", Attempt: 2}, discardLogger(), func(Event) {})

	select {
	case ev := <-posted:
		lf, ok := ev.(LinkFailed)
		if !ok || lf.Attempt != 2 || lf.Err == nil {
			t.Fatalf("expected LinkFailed for attempt 2, got %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("dial failure never posted")
	}
}

func TestRunEffect_DiscardSinkKeepsLiveSink(t *testing.T) {
	live, late := &fakeSink{}, &fakeSink{}
	disp := NewDispatcher(discardLogger(), DispatcherConfig{})
	disp.SetSink(live)
	fx := &Effects{Scheduler: newManualScheduler(), Dispatcher: disp}

	runEffect(context.Background(), fx, CmdDiscardSink{Sink: late}, discardLogger(), func(Event) {})

	if !late.isClosed() {
		t.Fatalf("late sink should be closed")
	}
	if live.isClosed() || disp.current() != CommandSink(live) {
		t.Fatalf("live sink must stay installed")
	}
}

func TestRunEffect_InstallWithoutDispatcherClosesSink(t *testing.T) {
	sink := &fakeSink{}
	fx := &Effects{Scheduler: newManualScheduler()}

	runEffect(context.Background(), fx, CmdInstallSink{Sink: sink}, discardLogger(), func(Event) {})

	if !sink.isClosed() {
		t.Fatalf("sink with nowhere to go should be closed")
	}
}
