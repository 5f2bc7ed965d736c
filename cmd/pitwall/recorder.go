package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// streamWriter appends one entry to a capped stream.
type streamWriter interface {
	Append(ctx context.Context, stream string, maxLen int64, fields map[string]any) error
	Close() error
}

// redisStream is a streamWriter backed by Redis Streams (XADD MAXLEN ~).
type redisStream struct {
	client *redis.Client
}

func newRedisStream(ctx context.Context, url string) (*redisStream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &redisStream{client: client}, nil
}

func (s *redisStream) Append(ctx context.Context, stream string, maxLen int64, fields map[string]any) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: fields,
	}).Err()
}

func (s *redisStream) Close() error {
	return s.client.Close()
}

// RecorderConfig controls where telemetry is recorded.
type RecorderConfig struct {
	Stream string
	MaxLen int64
}

// Recorder mirrors telemetry broadcasts into a stream so drives can be
// replayed and inspected after the fact. Each entry carries the same
// {type, ts, data} shape as the telemetry websocket.
type Recorder struct {
	logger *slog.Logger
	w      streamWriter
	cfg    RecorderConfig
}

func NewRecorder(logger *slog.Logger, w streamWriter, cfg RecorderConfig) *Recorder {
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaultRecorderMaxLen
	}
	if cfg.Stream == "" {
		cfg.Stream = "pitwall:telemetry"
	}
	return &Recorder{logger: logger, w: w, cfg: cfg}
}

// Run records broadcasts from src until ctx is canceled or src is closed.
// Write failures are counted and logged; recording never blocks the daemon.
func (r *Recorder) Run(ctx context.Context, src <-chan StateBroadcast) {
	defer func() {
		if err := r.w.Close(); err != nil {
			r.logger.Debug("recorder close", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-src:
			if !ok {
				return
			}
			if err := r.record(ctx, b); err != nil {
				RecorderErrors.Inc()
				r.logger.Warn("telemetry record failed", "error", err)
			}
		}
	}
}

func (r *Recorder) record(ctx context.Context, b StateBroadcast) error {
	ev, ok := convertBroadcast(b)
	if !ok {
		return nil
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return r.w.Append(ctx, r.cfg.Stream, r.cfg.MaxLen, map[string]any{
		"type": ev.Type,
		"ts":   ts.UTC().Format(time.RFC3339Nano),
		"data": string(data),
	})
}
