package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingChecker struct {
	calls atomic.Int64
	stall int
}

func (c *countingChecker) CheckStalled(context.Context) int {
	c.calls.Add(1)
	return c.stall
}

func TestNewWatchdogServiceRejectsBadSpec(t *testing.T) {
	_, err := NewWatchdogService(&countingChecker{}, "every now and then")
	assert.Error(t, err)

	s, err := NewWatchdogService(&countingChecker{}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultWatchdogSpec, s.spec)
}

func TestWatchdogSweepsOnSchedule(t *testing.T) {
	checker := &countingChecker{stall: 1}
	s, err := NewWatchdogService(checker, "@every 1s")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return checker.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, checker.calls.Load(), s.Sweeps())
}

func TestSweepReturnsFlagged(t *testing.T) {
	s, err := NewWatchdogService(&countingChecker{stall: 2}, "@every 1m")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Sweep(context.Background()))
	assert.Equal(t, int64(1), s.Sweeps())
}
