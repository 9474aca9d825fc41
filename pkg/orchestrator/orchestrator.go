package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
)

const (
	defaultHeartbeat       = 60 * time.Second
	defaultDailyHour       = 9
	defaultWeeklyHour      = 10
	defaultMetricsInterval = 5 * time.Minute
	defaultLogsInterval    = 10 * time.Minute
	defaultAlertsInterval  = 2 * time.Minute
)

// TaskFunc is one scheduled unit of work
type TaskFunc func(ctx context.Context) error

// Task is a named periodic task tracked by the scheduler
type Task struct {
	Name     string
	Interval time.Duration
	fn       TaskFunc

	lastRun  time.Time
	runs     int64
	failures int64
}

// TaskStatus is the externally visible state of one task
type TaskStatus struct {
	Name     string
	Interval time.Duration
	LastRun  time.Time
	Runs     int64
	Failures int64
}

// Summary describes the scheduler's activity since start
type Summary struct {
	Running    bool
	Heartbeats int64
	LastDaily  time.Time
	LastWeekly time.Time
	Tasks      []TaskStatus
}

// TaskResult records one task execution within a heartbeat
type TaskResult struct {
	Name       string
	Success    bool
	Error      string
	DurationMs int64
}

// Beat summarizes one heartbeat: which tasks ran and how they fared
type Beat struct {
	Timestamp     time.Time
	RunCount      int64
	TasksExecuted int
	Successful    int
	Failed        int
	Results       []TaskResult
}

// Orchestrator runs the heartbeat loop: on every tick it finds due tasks
// and runs them concurrently, each isolated from the others
type Orchestrator struct {
	cfg   config.Orchestrator
	clock func() time.Time

	mu         sync.Mutex
	tasks      []*Task
	dailyFn    TaskFunc
	weeklyFn   TaskFunc
	lastDaily  time.Time
	lastWeekly time.Time
	heartbeats int64
	running    bool
	stopCh     chan struct{}
}

// New creates an orchestrator
func New(cfg config.Orchestrator) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		clock: time.Now,
	}
}

// WithClock overrides the time source
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Register adds a periodic task. A task is due when its interval has
// elapsed since its last run; it always runs on the first heartbeat.
func (o *Orchestrator) Register(name string, interval time.Duration, fn TaskFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks = append(o.tasks, &Task{Name: name, Interval: interval, fn: fn})
}

// RegisterDaily sets the daily report task, run once per calendar day at
// the configured hour
func (o *Orchestrator) RegisterDaily(fn TaskFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dailyFn = fn
}

// RegisterWeekly sets the weekly report task, run Mondays at the
// configured hour with at least six days between runs
func (o *Orchestrator) RegisterWeekly(fn TaskFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.weeklyFn = fn
}

// Start runs the heartbeat loop until Stop or context cancellation. The
// first heartbeat fires immediately.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.stopCh = make(chan struct{})
	stopCh := o.stopCh
	o.mu.Unlock()

	interval := time.Duration(o.cfg.HeartbeatSeconds) * time.Second
	if interval <= 0 {
		interval = defaultHeartbeat
	}

	logger := log.WithComponent("orchestrator")
	logger.Info().
		Dur("interval", interval).
		Msg("orchestrator started")

	o.Heartbeat(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.Heartbeat(ctx)
		case <-stopCh:
			logger.Info().Msg("orchestrator stopped")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop signals the heartbeat loop to exit
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.running = false
	close(o.stopCh)
}

// Heartbeat runs all currently due tasks concurrently and returns the
// per-beat summary. A task that panics or errors never disturbs its
// peers or the loop.
func (o *Orchestrator) Heartbeat(ctx context.Context) *Beat {
	start := o.clock()
	metrics.HeartbeatsTotal.Inc()

	due := o.collectDue(start)
	results := make([]TaskResult, len(due))
	if len(due) > 0 {
		var wg sync.WaitGroup
		for i, task := range due {
			wg.Add(1)
			go func(i int, t *Task) {
				defer wg.Done()
				results[i] = o.runTask(ctx, t)
			}(i, task)
		}
		wg.Wait()
	}

	o.mu.Lock()
	o.heartbeats++
	runCount := o.heartbeats
	o.mu.Unlock()

	beat := &Beat{
		Timestamp:     start,
		RunCount:      runCount,
		TasksExecuted: len(results),
		Results:       results,
	}
	for _, r := range results {
		if r.Success {
			beat.Successful++
		} else {
			beat.Failed++
		}
	}

	metrics.HeartbeatDuration.Observe(time.Since(start).Seconds())
	return beat
}

// collectDue gathers periodic tasks past their interval plus any report
// task whose schedule gate opens now
func (o *Orchestrator) collectDue(now time.Time) []*Task {
	o.mu.Lock()
	defer o.mu.Unlock()

	var due []*Task
	for _, t := range o.tasks {
		if t.lastRun.IsZero() || now.Sub(t.lastRun) >= t.Interval {
			t.lastRun = now
			due = append(due, t)
		}
	}

	if o.dailyFn != nil && o.dailyDue(now) {
		o.lastDaily = now
		due = append(due, &Task{Name: "daily_report", fn: o.dailyFn})
	}
	if o.weeklyFn != nil && o.weeklyDue(now) {
		o.lastWeekly = now
		due = append(due, &Task{Name: "weekly_report", fn: o.weeklyFn})
	}
	return due
}

// dailyDue opens once per calendar day at the configured hour
func (o *Orchestrator) dailyDue(now time.Time) bool {
	hour := o.cfg.DailyReportHour
	if hour <= 0 {
		hour = defaultDailyHour
	}
	if now.Hour() != hour {
		return false
	}
	if o.lastDaily.IsZero() {
		return true
	}
	y1, m1, d1 := o.lastDaily.Date()
	y2, m2, d2 := now.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

// weeklyDue opens Mondays at the configured hour, at most once per week
func (o *Orchestrator) weeklyDue(now time.Time) bool {
	hour := o.cfg.WeeklyReportHour
	if hour <= 0 {
		hour = defaultWeeklyHour
	}
	if now.Weekday() != time.Monday || now.Hour() != hour {
		return false
	}
	if o.lastWeekly.IsZero() {
		return true
	}
	return now.Sub(o.lastWeekly) >= 6*24*time.Hour
}

func (o *Orchestrator) runTask(ctx context.Context, t *Task) (result TaskResult) {
	result.Name = t.Name
	started := time.Now()
	logger := log.WithComponent("orchestrator")

	defer func() {
		result.DurationMs = time.Since(started).Milliseconds()
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
			metrics.TasksExecutedTotal.WithLabelValues(t.Name, "panic").Inc()
			o.mu.Lock()
			t.failures++
			o.mu.Unlock()
			logger.Error().
				Str("task", t.Name).
				Interface("panic", r).
				Msg("task panicked")
		}
	}()

	err := t.fn(ctx)

	o.mu.Lock()
	t.runs++
	if err != nil {
		t.failures++
	}
	o.mu.Unlock()

	if err != nil {
		result.Error = err.Error()
		metrics.TasksExecutedTotal.WithLabelValues(t.Name, "failure").Inc()
		logger.Warn().
			Err(err).
			Str("task", t.Name).
			Msg("task failed")
		return result
	}
	result.Success = true
	metrics.TasksExecutedTotal.WithLabelValues(t.Name, "success").Inc()
	return result
}

// Status returns the scheduler summary
func (o *Orchestrator) Status() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Summary{
		Running:    o.running,
		Heartbeats: o.heartbeats,
		LastDaily:  o.lastDaily,
		LastWeekly: o.lastWeekly,
	}
	for _, t := range o.tasks {
		s.Tasks = append(s.Tasks, TaskStatus{
			Name:     t.Name,
			Interval: t.Interval,
			LastRun:  t.lastRun,
			Runs:     t.runs,
			Failures: t.failures,
		})
	}
	return s
}

// DefaultIntervals returns the standard collection cadence: metrics
// every five minutes, log scans every ten, alert evaluation every two
func DefaultIntervals() (metricsInterval, logsInterval, alertsInterval time.Duration) {
	return defaultMetricsInterval, defaultLogsInterval, defaultAlertsInterval
}
