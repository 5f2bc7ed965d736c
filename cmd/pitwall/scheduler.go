package main

import (
	"context"
	"sync"
	"time"
)

// Scheduler drives the periodic tasks of a run.
//
// Start replaces any running ticker for the task. Stop and StopAll return
// only after the affected ticker goroutines have exited, so no tick is
// produced for a task after it was stopped.
type Scheduler interface {
	Start(task TaskID, period time.Duration, run RunID)
	Stop(task TaskID)
	StopAll()
}

// tickerScheduler is the production Scheduler. Each task gets its own
// time.Ticker; a slow daemon loop makes the ticker drop ticks rather than
// queue them, so a task never runs twice concurrently.
type tickerScheduler struct {
	ctx context.Context
	out chan<- Event

	mu    sync.Mutex
	tasks map[TaskID]*tickerTask
}

type tickerTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newTickerScheduler(ctx context.Context, out chan<- Event) *tickerScheduler {
	return &tickerScheduler{
		ctx:   ctx,
		out:   out,
		tasks: make(map[TaskID]*tickerTask),
	}
}

func (s *tickerScheduler) Start(task TaskID, period time.Duration, run RunID) {
	if period <= 0 {
		return
	}
	s.Stop(task)

	ctx, cancel := context.WithCancel(s.ctx)
	t := &tickerTask{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.tasks[task] = t
	s.mu.Unlock()

	go s.run(ctx, t, task, period, run)
}

func (s *tickerScheduler) run(ctx context.Context, t *tickerTask, task TaskID, period time.Duration, run RunID) {
	defer close(t.done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			var dt float64
			if !last.IsZero() {
				dt = now.Sub(last).Seconds()
			}
			last = now

			select {
			case s.out <- TaskTick{Task: task, Run: run, Now: now, Dt: dt}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *tickerScheduler) Stop(task TaskID) {
	s.mu.Lock()
	t, ok := s.tasks[task]
	delete(s.tasks, task)
	s.mu.Unlock()

	if ok {
		t.cancel()
		<-t.done
	}
}

func (s *tickerScheduler) StopAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[TaskID]*tickerTask)
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}
