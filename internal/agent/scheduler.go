package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Cycler runs one agent cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (*CycleResult, error)
}

// Scheduler periodically triggers agent cycles.
type Scheduler struct {
	agent    Cycler
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	running  atomic.Bool
}

// NewScheduler creates a scheduler. Non-positive intervals default to five
// minutes.
func NewScheduler(agent Cycler, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		agent:    agent,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start runs the loop until ctx is done or Stop is called. Call it once, in a
// goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	defer close(s.done)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			// A tick that raced Stop is dropped.
			select {
			case <-s.stop:
				return
			default:
			}
			s.safeRun(ctx)
		}
	}
}

// Stop signals the loop to exit. A cycle in flight runs to completion first.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed once Start has returned.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("panic in agent scheduler", zap.String("panic", fmt.Sprint(r)))
		}
	}()

	res, err := s.agent.RunCycle(ctx)
	if err != nil {
		zap.L().Warn("scheduled cycle failed", zap.Error(err))
		return
	}
	zap.L().Debug("scheduled cycle finished",
		zap.String("kind", res.Kind.String()),
		zap.String("run_id", res.RunID),
	)
}
