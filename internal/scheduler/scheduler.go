// Package scheduler polls the due-queue of scheduled jobs and runs each due
// entry through the same job runner as on-demand jobs, one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kiranshivaraju/autolister/internal/config"
	"github.com/kiranshivaraju/autolister/internal/jobstatus"
	"github.com/kiranshivaraju/autolister/internal/metrics"
	"github.com/kiranshivaraju/autolister/internal/runner"
	"github.com/kiranshivaraju/autolister/internal/stopsignal"
	"github.com/kiranshivaraju/autolister/internal/workflow"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

var (
	// ErrExecutionTimeout marks a scheduled run that exceeded the hard timeout.
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrStopRequested ends a tick early when the stop marker appears.
	ErrStopRequested = errors.New("scheduler stop requested")
	// ErrDeferred means another workflow run held the lock; the entry stays pending.
	ErrDeferred = errors.New("scheduled job deferred")
)

const runningLogEvery = 10

// Queue is the due-queue and the records a scheduled run touches.
type Queue interface {
	ListDue(ctx context.Context, before time.Time) ([]*models.ScheduledJob, error)
	MarkCompleted(ctx context.Context, id int64) error
	Reschedule(ctx context.Context, id int64, next time.Time) error
	MarkFailed(ctx context.Context, id int64, message string) error
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	RecordUpload(ctx context.Context, rec *models.UploadRecord) error
}

// Executor runs one workflow process to completion.
type Executor interface {
	Start(ctx context.Context, profiles []workflow.ProfileRef, listings []workflow.ListingRef, opts ...runner.StartOption) (runner.Handle, error)
	Wait(ctx context.Context) (jobstatus.JobStatus, error)
	Stop(ctx context.Context) (runner.StopResult, error)
}

// Heartbeat publishes liveness for dashboards running in other processes.
type Heartbeat interface {
	Beat(ctx context.Context, at time.Time) error
}

// Claimer hands each due entry to at most one scheduler process.
type Claimer interface {
	Claim(ctx context.Context, scheduledJobID int64, ttl time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, scheduledJobID int64) error
}

type Config struct {
	Interval    time.Duration
	Lookahead   time.Duration
	ExecTimeout time.Duration
	Pause       time.Duration
}

// DefaultConfig polls every minute, looks two minutes ahead, bounds each run
// at ten minutes and pauses five seconds between entries.
func DefaultConfig() Config {
	return Config{
		Interval:    60 * time.Second,
		Lookahead:   2 * time.Minute,
		ExecTimeout: 600 * time.Second,
		Pause:       5 * time.Second,
	}
}

func ConfigFrom(sc config.SchedulerConfig) Config {
	return Config{
		Interval:    sc.Interval,
		Lookahead:   sc.Lookahead,
		ExecTimeout: sc.ExecTimeout,
		Pause:       sc.Pause,
	}
}

// State is a snapshot of the loop for status reporting.
type State struct {
	Running   bool      `json:"running"`
	Iteration int       `json:"iteration"`
	LastTick  time.Time `json:"last_tick,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Loop struct {
	cfg       Config
	queue     Queue
	exec      Executor
	stop      *stopsignal.Marker
	heartbeat Heartbeat
	claims    Claimer
	metrics   *metrics.Collector
	now       func() time.Time
	wake      chan struct{}

	mu    sync.Mutex
	state State
}

func New(cfg Config, q Queue, exec Executor, stop *stopsignal.Marker, hb Heartbeat, m *metrics.Collector) *Loop {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Lookahead < 0 {
		cfg.Lookahead = def.Lookahead
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = def.ExecTimeout
	}
	if cfg.Pause < 0 {
		cfg.Pause = def.Pause
	}
	return &Loop{
		cfg:       cfg,
		queue:     q,
		exec:      exec,
		stop:      stop,
		heartbeat: hb,
		metrics:   m,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
}

// UseClaims makes the loop claim each entry before running it. Call before Run.
func (l *Loop) UseClaims(c Claimer) {
	l.claims = c
}

// Run polls until the stop marker appears or ctx is cancelled. Errors inside a
// tick are logged and the loop carries on at the next interval.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.stop.Clear(); err != nil {
		slog.Warn("could not remove scheduler stop marker", "error", err)
	}
	l.setRunning(true)
	defer l.setRunning(false)

	slog.Info("scheduler started",
		"interval", l.cfg.Interval,
		"lookahead", l.cfg.Lookahead,
		"stop_marker", l.stop.Path(),
	)

	for {
		if ctx.Err() != nil {
			slog.Info("scheduler context cancelled, shutting down")
			return nil
		}
		if l.stop.Requested() {
			slog.Info("stop marker detected, shutting down scheduler")
			return nil
		}

		iteration := l.nextIteration()
		if iteration%runningLogEvery == 1 {
			slog.Info("scheduler is running", "iteration", iteration, "time", l.now().Format(time.RFC3339))
		}

		err := l.safeTick(ctx, l.now())
		l.recordTick(err)
		if errors.Is(err, ErrStopRequested) {
			slog.Info("stop marker detected, shutting down scheduler")
			return nil
		}
		if err != nil && ctx.Err() == nil {
			slog.Error("scheduler tick failed", "iteration", iteration, "error", err)
			l.metrics.SchedulerError()
		}

		if !l.sleep(ctx, l.cfg.Interval) {
			return nil
		}
	}
}

func (l *Loop) safeTick(ctx context.Context, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scheduler tick: %v", r)
		}
	}()
	return l.Tick(ctx, now)
}

// Tick runs every entry due at or before now plus the lookahead, in queue
// order.
func (l *Loop) Tick(ctx context.Context, now time.Time) error {
	l.metrics.SchedulerTick()
	if l.heartbeat != nil {
		if err := l.heartbeat.Beat(ctx, now); err != nil {
			slog.Warn("scheduler heartbeat failed", "error", err)
		}
	}

	due, err := l.queue.ListDue(ctx, now.Add(l.cfg.Lookahead))
	if err != nil {
		return fmt.Errorf("list due scheduled jobs: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	slog.Info("found due scheduled jobs", "count", len(due))

	for i, job := range due {
		if l.stop.Requested() {
			return ErrStopRequested
		}
		if !l.claim(ctx, job) {
			continue
		}
		err := l.execute(ctx, job)
		switch {
		case errors.Is(err, ErrDeferred):
			slog.Info("workflow busy, scheduled job left pending", "scheduled_job_id", job.ID)
			l.release(ctx, job)
		case err != nil:
			slog.Error("scheduled job failed", "scheduled_job_id", job.ID, "error", err)
		default:
			slog.Info("scheduled job completed", "scheduled_job_id", job.ID)
		}
		if i < len(due)-1 && !l.sleep(ctx, l.cfg.Pause) {
			return ctx.Err()
		}
	}
	return nil
}

// claim reports whether this loop may run job. A claim store that is down
// does not block the run; the run lock still serializes workflow processes.
func (l *Loop) claim(ctx context.Context, job *models.ScheduledJob) bool {
	if l.claims == nil {
		return true
	}
	ok, err := l.claims.Claim(ctx, job.ID, l.cfg.ExecTimeout+l.cfg.Lookahead+l.cfg.Interval)
	if err != nil {
		slog.Warn("could not claim scheduled job, running anyway", "scheduled_job_id", job.ID, "error", err)
		return true
	}
	if !ok {
		slog.Info("scheduled job claimed by another scheduler, skipping", "scheduled_job_id", job.ID)
	}
	return ok
}

func (l *Loop) release(ctx context.Context, job *models.ScheduledJob) {
	if l.claims == nil {
		return
	}
	if err := l.claims.ReleaseClaim(context.WithoutCancel(ctx), job.ID); err != nil {
		slog.Warn("could not release scheduled job claim", "scheduled_job_id", job.ID, "error", err)
	}
}

// execute runs one entry and records the result on it. The returned error is
// for logging; the entry has already been marked, except for ErrDeferred
// where it stays pending for a later tick.
func (l *Loop) execute(ctx context.Context, job *models.ScheduledJob) error {
	slog.Info("executing scheduled job",
		"scheduled_job_id", job.ID,
		"listing_id", job.ListingID,
		"profile", job.ProfileName,
		"next_run_at", job.NextRunAt,
	)

	listing, err := l.queue.GetListing(ctx, job.ListingID)
	if err != nil {
		return l.fail(ctx, job, "failed", fmt.Errorf("load listing %d: %w", job.ListingID, err))
	}
	if job.ProfilePath == "" || job.Location == "" {
		return l.fail(ctx, job, "failed", errors.New("missing profile path or location"))
	}

	profile := workflow.ProfileRef{
		Path:        job.ProfilePath,
		Location:    job.Location,
		DisplayName: job.ProfileName,
	}
	ref := workflow.ListingRefFromModel(listing)

	execCtx, cancel := context.WithTimeout(ctx, l.cfg.ExecTimeout)
	defer cancel()

	if _, err := l.exec.Start(execCtx, []workflow.ProfileRef{profile}, []workflow.ListingRef{ref},
		runner.WithScheduledJob(strconv.FormatInt(job.ID, 10))); err != nil {
		if errors.Is(err, runner.ErrAlreadyRunning) {
			l.metrics.ScheduledExecution("deferred")
			return fmt.Errorf("%w: %w", ErrDeferred, err)
		}
		return l.fail(ctx, job, "failed", err)
	}

	st, err := l.exec.Wait(execCtx)
	if err != nil {
		// Never leave a timed-out or interrupted run alive into the next one.
		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer stopCancel()
		if _, serr := l.exec.Stop(stopCtx); serr != nil {
			slog.Error("failed to stop scheduled run", "scheduled_job_id", job.ID, "error", serr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return l.fail(ctx, job, "timeout", ErrExecutionTimeout)
		}
		return l.fail(ctx, job, "interrupted", fmt.Errorf("execution interrupted: %w", err))
	}
	if st.State != jobstatus.StateCompleted {
		msg := st.Message
		if msg == "" {
			msg = string(st.State)
		}
		return l.fail(ctx, job, "failed", fmt.Errorf("workflow ended in state %s: %s", st.State, msg))
	}

	return l.complete(ctx, job, listing)
}

func (l *Loop) complete(ctx context.Context, job *models.ScheduledJob, listing *models.Listing) error {
	dbCtx := context.WithoutCancel(ctx)

	if job.Recurrence == "" || job.Recurrence == models.RecurrenceNone {
		if err := l.queue.MarkCompleted(dbCtx, job.ID); err != nil {
			return fmt.Errorf("mark scheduled job completed: %w", err)
		}
	} else {
		next, err := NextRun(job.Recurrence, job.NextRunAt)
		if err != nil {
			return l.fail(ctx, job, "failed", err)
		}
		if err := l.queue.Reschedule(dbCtx, job.ID, next); err != nil {
			return fmt.Errorf("reschedule scheduled job: %w", err)
		}
		slog.Info("scheduled job rescheduled", "scheduled_job_id", job.ID, "next_run_at", next)
	}
	l.metrics.ScheduledExecution("completed")

	listingID := job.ListingID
	scheduledID := job.ID
	rec := &models.UploadRecord{
		ProfileName:   job.ProfileName,
		ProfileFolder: filepath.Base(job.ProfilePath),
		ListingID:     &listingID,
		VehicleInfo: models.VehicleInfo{
			Year: listing.Year, Make: listing.Make, Model: listing.Model,
			Price: listing.Price, Mileage: listing.Mileage,
		},
		Status:         models.UploadStatusCompleted,
		Location:       job.Location,
		AttemptNumber:  1,
		ScheduledJobID: &scheduledID,
	}
	if err := l.queue.RecordUpload(dbCtx, rec); err != nil {
		slog.Warn("failed to record scheduled upload history", "scheduled_job_id", job.ID, "error", err)
	}
	return nil
}

func (l *Loop) fail(ctx context.Context, job *models.ScheduledJob, result string, cause error) error {
	l.metrics.ScheduledExecution(result)
	msg := models.Truncate(cause.Error(), models.ErrorMessageMax)
	if err := l.queue.MarkFailed(context.WithoutCancel(ctx), job.ID, msg); err != nil {
		return errors.Join(cause, fmt.Errorf("mark scheduled job failed: %w", err))
	}
	return cause
}

// NextRun advances prev by the recurrence interval: one day, one week, or a
// fixed thirty days for monthly. The result is anchored on prev, not on now.
func NextRun(recurrence string, prev time.Time) (time.Time, error) {
	var every time.Duration
	switch recurrence {
	case models.RecurrenceDaily:
		every = 24 * time.Hour
	case models.RecurrenceWeekly:
		every = 7 * 24 * time.Hour
	case models.RecurrenceMonthly:
		every = 30 * 24 * time.Hour
	default:
		return time.Time{}, fmt.Errorf("unknown recurrence %q", recurrence)
	}
	// ConstantDelaySchedule rounds down to whole seconds; put prev's fraction back.
	frac := time.Duration(prev.Nanosecond())
	return cron.Every(every).Next(prev).Add(frac), nil
}

// Wake interrupts the current sleep so the loop re-checks the stop marker.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// State returns a snapshot of the loop.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// sleep waits for d. It returns false if ctx ended.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-l.wake:
		return true
	case <-timer.C:
		return true
	}
}

func (l *Loop) setRunning(running bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Running = running
}

func (l *Loop) nextIteration() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Iteration++
	return l.state.Iteration
}

func (l *Loop) recordTick(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.LastTick = l.now()
	l.state.LastError = ""
	if err != nil && !errors.Is(err, ErrStopRequested) {
		l.state.LastError = err.Error()
	}
}
