package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

// DefaultWatchdogSpec is used when no schedule is configured
const DefaultWatchdogSpec = "@every 30s"

// StallChecker flags jobs without recent progress and reports how many were newly flagged
type StallChecker interface {
	CheckStalled(ctx context.Context) int
}

// WatchdogService periodically sweeps running jobs for stalled progress
type WatchdogService struct {
	checker StallChecker
	spec    string
	sweeps  atomic.Int64
}

// NewWatchdogService validates the cron schedule up front so a typo fails at startup
func NewWatchdogService(checker StallChecker, spec string) (*WatchdogService, error) {
	if spec == "" {
		spec = DefaultWatchdogSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid watchdog schedule %q: %w", spec, err)
	}
	return &WatchdogService{checker: checker, spec: spec}, nil
}

// Run sweeps on schedule until ctx is cancelled and waits for a sweep in flight
func (s *WatchdogService) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule watchdog: %w", err)
	}

	debug.Info("stall watchdog running on schedule %s", s.spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	debug.Info("stall watchdog stopped after %d sweeps", s.sweeps.Load())
	return nil
}

// Sweep runs one check immediately
func (s *WatchdogService) Sweep(ctx context.Context) int {
	s.sweeps.Add(1)
	n := s.checker.CheckStalled(ctx)
	if n > 0 {
		debug.Warning("watchdog flagged %d stalled job(s)", n)
	}
	return n
}

// Sweeps returns how many sweeps have run
func (s *WatchdogService) Sweeps() int64 {
	return s.sweeps.Load()
}
