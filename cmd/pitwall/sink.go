package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// ErrLinkClosed marks a send that failed because the link is gone. The
// reducer treats it as a disconnect.
var ErrLinkClosed = errors.New("vehicle link closed")

// CommandSink delivers fire-and-forget commands to the vehicle controller.
// This allows for fakes in tests.
type CommandSink interface {
	Send(ctx context.Context, cmd LinkCommand) error
	Close() error
}

// LinkDialer opens a CommandSink for addr.
type LinkDialer func(ctx context.Context, addr string) (CommandSink, error)

// ============================================================================
// Dispatcher
// ============================================================================

// Dispatcher owns the current CommandSink and a bounded send queue drained by
// a single worker goroutine. Enqueue never blocks the daemon loop: a full
// queue drops the command. Failed sends are logged (rate-sampled) and never
// retried.
type Dispatcher struct {
	logger  *slog.Logger
	queue   chan LinkCommand
	limiter *rate.Limiter

	// onLinkLost is told about sends that failed because the link closed.
	onLinkLost func(LinkCommand, error)

	mu   sync.Mutex
	sink CommandSink
}

type DispatcherConfig struct {
	QueueSize         int
	FailureLogsPerSec float64
	FailureLogBurst   int
	OnLinkLost        func(LinkCommand, error)
}

func NewDispatcher(logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultDispatchQueue
	}
	perSec := cfg.FailureLogsPerSec
	if perSec <= 0 {
		perSec = defaultFailureLogsPerSecond
	}
	burst := cfg.FailureLogBurst
	if burst <= 0 {
		burst = defaultFailureLogBurst
	}
	return &Dispatcher{
		logger:     logger,
		queue:      make(chan LinkCommand, size),
		limiter:    rate.NewLimiter(rate.Limit(perSec), burst),
		onLinkLost: cfg.OnLinkLost,
	}
}

// Enqueue schedules cmd for sending. It reports false if the queue was full.
func (d *Dispatcher) Enqueue(cmd LinkCommand) bool {
	select {
	case d.queue <- cmd:
		return true
	default:
		LinkCommandsDropped.Inc()
		if d.limiter.Allow() {
			d.logger.Warn("link dispatch queue full, dropping command", "command", cmd.Name)
		}
		return false
	}
}

// SetSink installs an accepted dial result, closing any previous sink.
func (d *Dispatcher) SetSink(s CommandSink) {
	d.mu.Lock()
	old := d.sink
	d.sink = s
	d.mu.Unlock()

	if old != nil && old != s {
		_ = old.Close()
	}
	if s != nil {
		LinkUp.Set(1)
	}
}

// CloseSink closes and forgets the current sink.
func (d *Dispatcher) CloseSink() {
	d.SetSink(nil)
	LinkUp.Set(0)
}

func (d *Dispatcher) current() CommandSink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sink
}

// Run drains the queue until ctx is canceled, then closes the sink.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.CloseSink()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.queue:
			d.send(ctx, cmd)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, cmd LinkCommand) {
	sink := d.current()
	if sink == nil {
		// Disconnected: drop.
		d.logger.Debug("no link, dropping command", "command", cmd.Name)
		return
	}

	if err := sink.Send(ctx, cmd); err != nil {
		LinkCommandErrors.WithLabelValues(cmd.Name).Inc()
		if d.limiter.Allow() {
			d.logger.Warn("link send failed", "command", cmd.Name, "error", err)
		}
		// A sink replaced while this send was in flight is not the link.
		if errors.Is(err, ErrLinkClosed) && d.onLinkLost != nil && d.current() == sink {
			d.onLinkLost(cmd, err)
		}
		return
	}
	LinkCommandsSent.WithLabelValues(cmd.Name).Inc()
}

// ============================================================================
// Null link
// ============================================================================

// nullSink accepts everything and only logs. Used for bench runs without a
// vehicle.
type nullSink struct {
	logger *slog.Logger
}

func dialNullLink(logger *slog.Logger) LinkDialer {
	return func(ctx context.Context, addr string) (CommandSink, error) {
		return &nullSink{logger: logger}, nil
	}
}

func (s *nullSink) Send(ctx context.Context, cmd LinkCommand) error {
	s.logger.Debug("link command", "command", cmd.Name, "value", cmd.Value)
	return nil
}

func (s *nullSink) Close() error { return nil }

// newLinkDialer picks the link implementation by kind.
func newLinkDialer(kind string, logger *slog.Logger) (LinkDialer, error) {
	switch kind {
	case LinkKindWS:
		return dialWSLink(logger), nil
	case LinkKindCAN:
		return dialCANLink(logger), nil
	case LinkKindNone, "":
		return dialNullLink(logger), nil
	}
	return nil, fmt.Errorf("unknown link kind %q", kind)
}

const (
	LinkKindWS   = "ws"
	LinkKindCAN  = "can"
	LinkKindNone = "none"
)
