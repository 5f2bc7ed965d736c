package main

import (
	"context"
	"log/slog"
	"time"
)

// Effects bundles everything runEffect may touch. Only the daemon goroutine
// calls runEffect; background work (link dials) reports back through Post.
type Effects struct {
	Scheduler  Scheduler
	Dispatcher *Dispatcher
	Dial       LinkDialer
	Sensors    SensorFeed
	Vitals     VitalsFeed

	// TuningFile is rewritten after each accepted tuning edit. Empty disables
	// persistence.
	TuningFile string

	// Post delivers an Event from a background goroutine to the daemon loop.
	Post func(Event)
}

// runEffect executes a single reducer-emitted Command against external
// systems and emits observation Events via onEvent.
//
// It must never call Reduce() directly; the daemon loop sequences
// Reduce -> Commands -> runEffect -> Events -> Reduce.
func runEffect(
	ctx context.Context,
	fx *Effects,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		return
	}

	now := time.Now()

	switch c := cmd.(type) {
	case CmdSend:
		if fx.Dispatcher == nil {
			onEvent(CommandFailed{Command: cmd, Err: errNoLink{}, At: now})
			return
		}
		fx.Dispatcher.Enqueue(c.Link)

	case CmdStartTask:
		fx.Scheduler.Start(c.Task, c.Period, c.Run)

	case CmdStopTask:
		fx.Scheduler.Stop(c.Task)

	case CmdStopAllTasks:
		fx.Scheduler.StopAll()

	case CmdReadSensors:
		if fx.Sensors == nil {
			return
		}
		d, fresh := fx.Sensors.NextDistances()
		hint, hintKnown := fx.Sensors.NextStatusHint()
		onEvent(SensorsObserved{
			Run:       c.Run,
			Distances: d,
			Fresh:     fresh,
			Hint:      hint,
			HintKnown: hintKnown,
			At:        now,
		})

	case CmdSampleVitals:
		if fx.Vitals == nil {
			return
		}
		onEvent(VitalsObserved{Run: c.Run, Vitals: fx.Vitals.Sample(c.Speed), At: now})

	case CmdDialLink:
		if fx.Dial == nil || fx.Post == nil {
			onEvent(LinkFailed{Addr: c.Addr, Attempt: c.Attempt, Err: errNoLink{}, At: now})
			return
		}
		// Dialing can take seconds; never hold the loop for it. The sink is
		// only installed once the reducer accepts the result.
		go func(addr string, attempt uint64) {
			dctx, cancel := context.WithTimeout(ctx, linkDialTimeout)
			defer cancel()

			sink, err := fx.Dial(dctx, addr)
			if err != nil {
				logger.Warn("vehicle link dial failed", "addr", addr, "error", err)
				fx.Post(LinkFailed{Addr: addr, Attempt: attempt, Err: err, At: time.Now()})
				return
			}
			fx.Post(LinkConnected{Addr: addr, Attempt: attempt, Sink: sink, At: time.Now()})
		}(c.Addr, c.Attempt)

	case CmdInstallSink:
		if fx.Dispatcher == nil {
			if c.Sink != nil {
				_ = c.Sink.Close()
			}
			return
		}
		fx.Dispatcher.SetSink(c.Sink)

	case CmdDiscardSink:
		if c.Sink == nil {
			return
		}
		if err := c.Sink.Close(); err != nil {
			logger.Debug("closing stale link sink", "error", err)
		}

	case CmdCloseLink:
		if fx.Dispatcher != nil {
			fx.Dispatcher.CloseSink()
		}

	case CmdSaveTuning:
		if fx.TuningFile == "" {
			return
		}
		if err := SaveTuningFile(fx.TuningFile, c.Tuning); err != nil {
			logger.Error("saving tuning failed", "path", fx.TuningFile, "error", err)
			onEvent(CommandFailed{Command: cmd, Err: err, At: now})
			return
		}
		logger.Debug("tuning saved", "path", fx.TuningFile)

	case CmdPublishStateSnapshot:
		// Deliver reducer-produced snapshot to the requester.
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the daemon loop indefinitely.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
		onEvent(CommandFailed{
			Command: cmd,
			Err:     errUnknownCommand{cmd: cmd},
			At:      now,
		})
	}
}

// errNoLink indicates a link command was issued without a dispatcher or dialer.
type errNoLink struct{}

func (errNoLink) Error() string { return "no vehicle link configured" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
