package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTickerSchedulerRunsTask(t *testing.T) {
	s := NewTickerScheduler(zap.NewNop())

	var ticks atomic.Int64
	s.Schedule("count", func() { ticks.Add(1) }, 5*time.Millisecond)
	require.NoError(t, s.Startup())
	defer s.Shutdown()

	assert.Eventually(t, func() bool { return ticks.Load() >= 2 },
		2*time.Second, 5*time.Millisecond)
}

func TestTickerSchedulerScheduleAfterStartup(t *testing.T) {
	s := NewTickerScheduler(zap.NewNop())
	require.NoError(t, s.Startup())
	defer s.Shutdown()

	var ticks atomic.Int64
	s.Schedule("late", func() { ticks.Add(1) }, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return ticks.Load() >= 1 },
		2*time.Second, 5*time.Millisecond)
}

func TestTickerSchedulerStartupTwiceFails(t *testing.T) {
	s := NewTickerScheduler(zap.NewNop())
	require.NoError(t, s.Startup())
	defer s.Shutdown()

	assert.Error(t, s.Startup())
}

func TestTickerSchedulerShutdownIdempotent(t *testing.T) {
	s := NewTickerScheduler(zap.NewNop())
	var ticks atomic.Int64
	s.Schedule("count", func() { ticks.Add(1) }, time.Millisecond)
	require.NoError(t, s.Startup())

	assert.NoError(t, s.Shutdown())
	assert.NoError(t, s.Shutdown())

	stopped := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load(), "no ticks after shutdown")
}

func TestTickerSchedulerStartupAfterShutdownFails(t *testing.T) {
	s := NewTickerScheduler(zap.NewNop())
	require.NoError(t, s.Startup())
	require.NoError(t, s.Shutdown())

	assert.Error(t, s.Startup())
}
