package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synaptica-ai/appointment-intake/pkg/common/logger"
	"github.com/synaptica-ai/appointment-intake/pkg/observability/metrics"
)

type SweepFunc func(ctx context.Context) error

// Scheduler runs a sweep at start and then on every tick. A tick that finds
// a sweep still running is skipped rather than started alongside it.
type Scheduler struct {
	interval time.Duration
	sweep    SweepFunc
	local    *LocalLock
	shared   Lock

	wg      sync.WaitGroup
	runs    atomic.Int64
	skipped atomic.Int64
}

func New(interval time.Duration, sweep SweepFunc, shared Lock) *Scheduler {
	return &Scheduler{
		interval: interval,
		sweep:    sweep,
		local:    &LocalLock{},
		shared:   shared,
	}
}

// Run blocks until ctx is cancelled. It does not wait for an in-flight sweep;
// that sweep sees the cancelled context and stops between files.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Log.WithField("interval", s.interval.String()).Info("scheduler started")

	s.trigger(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.trigger(ctx)
		case <-ctx.Done():
			logger.Log.Info("scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	release, ok, _ := s.local.TryAcquire(ctx)
	if !ok {
		s.skip("previous sweep still running, tick skipped")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		s.runShared(ctx)
	}()
}

func (s *Scheduler) runShared(ctx context.Context) {
	if s.shared != nil {
		release, ok, err := s.shared.TryAcquire(ctx)
		if err != nil {
			logger.Log.WithError(err).Warn("sweep lock unavailable, tick skipped")
			s.skipped.Add(1)
			metrics.ObserveSweepSkipped()
			return
		}
		if !ok {
			s.skip("another replica is sweeping, tick skipped")
			return
		}
		defer release()
	}

	s.runs.Add(1)
	if err := s.sweep(ctx); err != nil {
		logger.Log.WithError(err).Error("sweep failed")
	}
}

func (s *Scheduler) skip(msg string) {
	s.skipped.Add(1)
	metrics.ObserveSweepSkipped()
	logger.Log.Warn(msg)
}

// Wait blocks until the sweep goroutines started so far have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) Runs() int64    { return s.runs.Load() }
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }
