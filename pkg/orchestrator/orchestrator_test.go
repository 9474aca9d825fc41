package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock is stepped manually between heartbeats
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) time() time.Time { return c.now }

func (c *fixedClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestOrchestrator(start time.Time) (*Orchestrator, *fixedClock) {
	clock := &fixedClock{now: start}
	o := New(config.Orchestrator{}).WithClock(clock.time)
	return o, clock
}

// tuesdayNoon is an arbitrary fixed instant outside every report gate
var tuesdayNoon = time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

func TestHeartbeat_RunsDueTasks(t *testing.T) {
	o, clock := newTestOrchestrator(tuesdayNoon)

	var runs atomic.Int64
	o.Register("metrics_collection", 5*time.Minute, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	// First heartbeat always runs the task
	o.Heartbeat(context.Background())
	assert.Equal(t, int64(1), runs.Load())

	// Not due yet
	clock.advance(time.Minute)
	o.Heartbeat(context.Background())
	assert.Equal(t, int64(1), runs.Load())

	// Past the interval
	clock.advance(5 * time.Minute)
	o.Heartbeat(context.Background())
	assert.Equal(t, int64(2), runs.Load())
}

func TestHeartbeat_ReturnsBeatSummary(t *testing.T) {
	o, clock := newTestOrchestrator(tuesdayNoon)

	o.Register("steady", time.Minute, func(ctx context.Context) error {
		return nil
	})
	o.Register("flaky", time.Minute, func(ctx context.Context) error {
		return errors.New("upstream down")
	})

	beat := o.Heartbeat(context.Background())
	require.NotNil(t, beat)
	assert.Equal(t, tuesdayNoon, beat.Timestamp)
	assert.Equal(t, int64(1), beat.RunCount)
	assert.Equal(t, 2, beat.TasksExecuted)
	assert.Equal(t, 1, beat.Successful)
	assert.Equal(t, 1, beat.Failed)

	require.Len(t, beat.Results, 2)
	byName := map[string]TaskResult{}
	for _, r := range beat.Results {
		byName[r.Name] = r
	}
	assert.True(t, byName["steady"].Success)
	assert.Empty(t, byName["steady"].Error)
	assert.False(t, byName["flaky"].Success)
	assert.Equal(t, "upstream down", byName["flaky"].Error)

	// Nothing due on the next beat, but the summary still reports it
	clock.advance(time.Second)
	beat = o.Heartbeat(context.Background())
	assert.Equal(t, int64(2), beat.RunCount)
	assert.Equal(t, 0, beat.TasksExecuted)
	assert.Empty(t, beat.Results)
}

func TestHeartbeat_PanicDoesNotDisturbPeers(t *testing.T) {
	o, _ := newTestOrchestrator(tuesdayNoon)

	var peerRan atomic.Bool
	o.Register("exploding", time.Minute, func(ctx context.Context) error {
		panic("boom")
	})
	o.Register("steady", time.Minute, func(ctx context.Context) error {
		peerRan.Store(true)
		return nil
	})

	var beat *Beat
	require.NotPanics(t, func() {
		beat = o.Heartbeat(context.Background())
	})
	assert.True(t, peerRan.Load())

	// The panicking task still shows up in the beat summary
	assert.Equal(t, 1, beat.Successful)
	assert.Equal(t, 1, beat.Failed)
	for _, r := range beat.Results {
		if r.Name == "exploding" {
			assert.False(t, r.Success)
			assert.Contains(t, r.Error, "panic")
		}
	}

	status := o.Status()
	require.Len(t, status.Tasks, 2)
	assert.Equal(t, int64(1), status.Tasks[0].Failures)
	assert.Equal(t, int64(0), status.Tasks[1].Failures)
}

func TestHeartbeat_FailureCounted(t *testing.T) {
	o, clock := newTestOrchestrator(tuesdayNoon)

	o.Register("flaky", time.Minute, func(ctx context.Context) error {
		return errors.New("upstream down")
	})

	o.Heartbeat(context.Background())
	clock.advance(2 * time.Minute)
	o.Heartbeat(context.Background())

	status := o.Status()
	require.Len(t, status.Tasks, 1)
	assert.Equal(t, int64(2), status.Tasks[0].Runs)
	assert.Equal(t, int64(2), status.Tasks[0].Failures)
	assert.Equal(t, int64(2), status.Heartbeats)
}

func TestDailyReport_OncePerCalendarDay(t *testing.T) {
	// 08:59 on a Wednesday, one minute before the default daily hour
	o, clock := newTestOrchestrator(time.Date(2026, 3, 4, 8, 59, 0, 0, time.UTC))

	var runs atomic.Int64
	o.RegisterDaily(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	o.Heartbeat(context.Background())
	assert.Equal(t, int64(0), runs.Load())

	// Inside the 09:00 hour
	clock.advance(10 * time.Minute)
	o.Heartbeat(context.Background())
	assert.Equal(t, int64(1), runs.Load())

	// Still the same hour of the same day
	clock.advance(30 * time.Minute)
	o.Heartbeat(context.Background())
	assert.Equal(t, int64(1), runs.Load())

	// Next day at 09:00
	clock.advance(24 * time.Hour)
	o.Heartbeat(context.Background())
	assert.Equal(t, int64(2), runs.Load())

	assert.Equal(t, clock.now, o.Status().LastDaily)
}

func TestDailyReport_ConfiguredHour(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)}
	o := New(config.Orchestrator{DailyReportHour: 17}).WithClock(clock.time)

	var runs atomic.Int64
	o.RegisterDaily(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	o.Heartbeat(context.Background())
	assert.Equal(t, int64(0), runs.Load())

	clock.advance(8 * time.Hour)
	o.Heartbeat(context.Background())
	assert.Equal(t, int64(1), runs.Load())
}

func TestWeeklyReport_MondaysOnly(t *testing.T) {
	// Monday 2026-03-02 at the default weekly hour
	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	o, clock := newTestOrchestrator(monday)

	var runs atomic.Int64
	o.RegisterWeekly(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	o.Heartbeat(context.Background())
	assert.Equal(t, int64(1), runs.Load())

	// Same Monday, later in the hour
	clock.advance(20 * time.Minute)
	o.Heartbeat(context.Background())
	assert.Equal(t, int64(1), runs.Load())

	// Tuesday at the weekly hour
	clock.advance(24 * time.Hour)
	o.Heartbeat(context.Background())
	assert.Equal(t, int64(1), runs.Load())

	// Next Monday
	clock.now = monday.AddDate(0, 0, 7)
	o.Heartbeat(context.Background())
	assert.Equal(t, int64(2), runs.Load())
}

func TestStartAndStop(t *testing.T) {
	o := New(config.Orchestrator{HeartbeatSeconds: 3600})

	var runs atomic.Int64
	o.Register("once", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	done := make(chan error, 1)
	go func() {
		done <- o.Start(context.Background())
	}()

	// The first heartbeat fires immediately
	require.Eventually(t, func() bool {
		return runs.Load() == 1
	}, time.Second, 10*time.Millisecond)
	assert.True(t, o.Status().Running)

	o.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop")
	}
	assert.False(t, o.Status().Running)

	// Stop is idempotent
	o.Stop()
}

func TestStart_RejectsDoubleStart(t *testing.T) {
	o := New(config.Orchestrator{HeartbeatSeconds: 3600})

	go o.Start(context.Background())
	require.Eventually(t, func() bool {
		return o.Status().Running
	}, time.Second, 10*time.Millisecond)
	defer o.Stop()

	assert.Error(t, o.Start(context.Background()))
}

func TestStart_ContextCancellation(t *testing.T) {
	o := New(config.Orchestrator{HeartbeatSeconds: 3600})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- o.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return o.Status().Running
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not exit on cancellation")
	}
}

func TestDefaultIntervals(t *testing.T) {
	m, l, a := DefaultIntervals()
	assert.Equal(t, 5*time.Minute, m)
	assert.Equal(t, 10*time.Minute, l)
	assert.Equal(t, 2*time.Minute, a)
}
