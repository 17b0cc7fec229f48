// Package runner launches the workflow process and supervises it: single-flight
// start, cooperative-then-forced stop, and status reconciliation that folds a
// finished run's tallies into the stats ledger exactly once.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/autolister/internal/config"
	"github.com/kiranshivaraju/autolister/internal/filestore"
	"github.com/kiranshivaraju/autolister/internal/jobstatus"
	"github.com/kiranshivaraju/autolister/internal/ledger"
	"github.com/kiranshivaraju/autolister/internal/metrics"
	"github.com/kiranshivaraju/autolister/internal/stopsignal"
	"github.com/kiranshivaraju/autolister/internal/workflow"
)

// OutputFileName receives the workflow process's stdout and stderr. It is
// truncated at the start of every run.
const OutputFileName = "bot_output.log"

const (
	defaultStopGrace = 10 * time.Second
	defaultStopPoll  = time.Second
	killWait         = 5 * time.Second
)

type Config struct {
	WorkDir     string
	Command     string
	Args        []string
	MaxListings int
	MaxProfiles int
	// StopGrace is how long Stop waits for a cooperative exit, polling every
	// StopPoll, before killing the process tree.
	StopGrace time.Duration
	StopPoll  time.Duration
}

// ConfigFrom maps the service's workflow settings onto a runner Config.
func ConfigFrom(wc config.WorkflowConfig) Config {
	return Config{
		WorkDir:     wc.WorkDir,
		Command:     wc.Command,
		Args:        wc.Args,
		MaxListings: wc.MaxListings,
		MaxProfiles: wc.MaxProfiles,
		StopGrace:   wc.StopGrace,
	}
}

// Handle identifies a launched run.
type Handle struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// StopResult describes what Stop had to do.
type StopResult struct {
	WasRunning bool `json:"was_running"`
	Forced     bool `json:"forced"`
	PID        int  `json:"pid,omitempty"`
}

// process is the runner's handle on one launched child.
type process struct {
	Handle

	done     chan struct{}
	exitCode int
	waitErr  error
	exitedAt time.Time

	// folded is set once the exit has been folded into the ledger.
	folded bool
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// JobRunner owns the workflow child process. One instance is shared by every
// caller in the service.
type JobRunner struct {
	cfg     Config
	status  *jobstatus.Store
	ledger  *ledger.Ledger
	stop    *stopsignal.Marker
	metrics *metrics.Collector
	now     func() time.Time

	mu   sync.Mutex
	proc *process
}

func New(cfg Config, status *jobstatus.Store, l *ledger.Ledger, stop *stopsignal.Marker, m *metrics.Collector) *JobRunner {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.StopPoll <= 0 {
		cfg.StopPoll = defaultStopPoll
	}
	return &JobRunner{
		cfg:     cfg,
		status:  status,
		ledger:  l,
		stop:    stop,
		metrics: m,
		now:     time.Now,
	}
}

// StartOption customises a single start request.
type StartOption func(*startParams)

type startParams struct {
	scheduledJobID string
	message        string
}

// WithScheduledJob tags the run with the due-queue entry that triggered it.
func WithScheduledJob(id string) StartOption {
	return func(p *startParams) {
		p.scheduledJobID = id
		p.message = fmt.Sprintf("Executing scheduled job #%s", id)
	}
}

// Start validates the request and launches the workflow process.
func (r *JobRunner) Start(ctx context.Context, profiles []workflow.ProfileRef, listings []workflow.ListingRef, opts ...StartOption) (Handle, error) {
	params := startParams{message: "Starting job"}
	for _, opt := range opts {
		opt(&params)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proc != nil && !r.proc.exited() {
		r.metrics.JobRejected("already_running")
		return Handle{}, ErrAlreadyRunning
	}
	if err := r.validate(profiles, listings); err != nil {
		r.metrics.JobRejected("validation")
		return Handle{}, err
	}
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	// A previous run that nobody polled is folded before it is replaced.
	r.reconcileLocked()

	lock, err := filestore.AcquireRunLock(r.cfg.WorkDir)
	if err != nil {
		if errors.Is(err, filestore.ErrLocked) {
			r.metrics.JobRejected("already_running")
			return Handle{}, fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
		}
		return Handle{}, fmt.Errorf("acquire run lock: %w", err)
	}

	h, err := r.launch(lock, profiles, listings, params)
	if err != nil {
		_ = lock.Release()
		msg := fmt.Sprintf("Failed to start job: %v", err)
		if _, serr := r.status.Update(func(st *jobstatus.JobStatus) {
			st.State = jobstatus.StateError
			st.Message = msg
			st.ProcessRunning = false
		}); serr != nil {
			slog.Error("failed to record launch error", "error", serr)
		}
		r.metrics.JobRejected("launch")
		return Handle{}, err
	}
	return h, nil
}

// CheckSelection applies the selection size limits alone, so callers can
// reject an oversized request before resolving its listings.
func (r *JobRunner) CheckSelection(profiles, listings int) error {
	if profiles == 0 {
		return invalid("profiles", "No profiles selected")
	}
	if listings == 0 {
		return invalid("listings", "No listings selected")
	}
	if r.cfg.MaxProfiles > 0 && profiles > r.cfg.MaxProfiles {
		return invalid("profiles", fmt.Sprintf(
			"You can only select up to %d profiles at a time. Currently selected: %d", r.cfg.MaxProfiles, profiles))
	}
	if r.cfg.MaxListings > 0 && listings > r.cfg.MaxListings {
		return invalid("listings", fmt.Sprintf(
			"You can only select up to %d listings at a time. Currently selected: %d", r.cfg.MaxListings, listings))
	}
	return nil
}

func (r *JobRunner) validate(profiles []workflow.ProfileRef, listings []workflow.ListingRef) error {
	if err := r.CheckSelection(len(profiles), len(listings)); err != nil {
		return err
	}

	var noPath, noLocation []string
	for _, p := range profiles {
		if strings.TrimSpace(p.Path) == "" {
			noPath = append(noPath, p.Name())
		}
		if strings.TrimSpace(p.Location) == "" {
			noLocation = append(noLocation, p.Name())
		}
	}
	if len(noPath) > 0 {
		return invalid("path", "The following profiles are missing a path: "+strings.Join(noPath, ", "))
	}
	if len(noLocation) > 0 {
		return invalid("location", "The following profiles are missing locations: "+strings.Join(noLocation, ", "))
	}
	return nil
}

// launch runs with r.mu held and the run lock acquired.
func (r *JobRunner) launch(lock filestore.RunLock, profiles []workflow.ProfileRef, listings []workflow.ListingRef, params startParams) (Handle, error) {
	if err := r.stop.Clear(); err != nil {
		return Handle{}, err
	}
	if err := workflow.WriteInputs(r.cfg.WorkDir, profiles, listings); err != nil {
		return Handle{}, err
	}

	startedAt := r.now()
	runID := uuid.NewString()
	if _, err := r.status.Update(func(st *jobstatus.JobStatus) {
		*st = jobstatus.JobStatus{
			State:          jobstatus.StateStarting,
			Message:        params.message,
			StartedAt:      filestore.NewTimestamp(startedAt),
			TotalProfiles:  len(profiles),
			TotalListings:  len(listings),
			ProcessRunning: true,
			RunID:          runID,
			ScheduledJobID: params.scheduledJobID,
		}
	}); err != nil {
		return Handle{}, err
	}

	out, err := os.Create(filepath.Join(r.cfg.WorkDir, OutputFileName))
	if err != nil {
		return Handle{}, fmt.Errorf("create output log: %w", err)
	}

	cmd := exec.Command(r.cfg.Command, r.cfg.Args...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONUTF8=1")
	cmd.Stdout = out
	cmd.Stderr = out
	detach(cmd)

	if err := cmd.Start(); err != nil {
		_ = out.Close()
		return Handle{}, fmt.Errorf("launch workflow process: %w", err)
	}

	p := &process{
		Handle: Handle{RunID: runID, PID: cmd.Process.Pid, StartedAt: startedAt},
		done:   make(chan struct{}),
	}
	if err := lock.Claim(p.PID, runID); err != nil {
		slog.Warn("failed to record run lock owner", "pid", p.PID, "error", err)
	}

	go func() {
		err := cmd.Wait()
		_ = out.Close()
		p.waitErr = err
		p.exitCode = cmd.ProcessState.ExitCode()
		p.exitedAt = r.now()
		if err := lock.Release(); err != nil {
			slog.Warn("failed to release run lock", "error", err)
		}
		close(p.done)
	}()

	r.proc = p
	r.metrics.JobStarted()
	slog.Info("workflow started",
		"run_id", runID,
		"pid", p.PID,
		"profiles", len(profiles),
		"listings", len(listings),
	)
	return p.Handle, nil
}

// Status returns the current job document with process_running derived from
// actual process liveness. When the tracked child has exited this is where its
// results are folded into the ledger.
func (r *JobRunner) Status() jobstatus.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.reconcileLocked(); ok {
		return st
	}

	st := r.status.Load()
	if r.proc != nil && !r.proc.exited() {
		st.ProcessRunning = true
		return st
	}
	// Nothing alive here; a child launched by another process may still hold
	// the run lock.
	_, st.ProcessRunning = filestore.LiveOwner(r.cfg.WorkDir)
	return st
}

// Running reports whether a workflow process is alive.
func (r *JobRunner) Running() bool {
	return r.Status().ProcessRunning
}

// reconcileLocked folds the tracked child's exit exactly once. It reports the
// reconciled document and true when a fold happened.
func (r *JobRunner) reconcileLocked() (jobstatus.JobStatus, bool) {
	p := r.proc
	if p == nil || p.folded || !p.exited() {
		return jobstatus.JobStatus{}, false
	}
	p.folded = true

	terminal := jobstatus.StateCompleted
	if p.exitCode != 0 {
		terminal = jobstatus.StateError
	}
	duration := p.exitedAt.Sub(p.StartedAt)

	st, err := r.status.Update(func(st *jobstatus.JobStatus) {
		if terminal == jobstatus.StateError {
			st.Message = exitMessage(st.Message, p.exitCode, p.waitErr)
		}
		st.State = terminal
		st.ProcessRunning = false
		if st.RunID == "" {
			st.RunID = p.RunID
		}
		if st.StartedAt.IsZero() {
			st.StartedAt = filestore.NewTimestamp(p.StartedAt)
		}
	})
	if err != nil {
		slog.Error("failed to record job exit", "run_id", p.RunID, "error", err)
	}

	entries := foldEntries(st, duration)
	if _, err := r.ledger.RecordOutcomes(entries); err != nil {
		slog.Error("failed to fold job results into stats", "run_id", p.RunID, "error", err)
	}
	if err := workflow.RemoveInputs(r.cfg.WorkDir); err != nil {
		slog.Warn("failed to remove workflow inputs", "error", err)
	}

	r.metrics.JobExited(string(terminal), duration.Seconds())
	r.metrics.ListingOutcome(string(ledger.OutcomeSuccess), st.Results.Success)
	r.metrics.ListingOutcome(string(ledger.OutcomeFailed), st.Results.Failed)
	r.metrics.ListingOutcome(string(ledger.OutcomeSkipped), st.Results.Skipped)

	slog.Info("workflow exited",
		"run_id", p.RunID,
		"pid", p.PID,
		"exit_code", p.exitCode,
		"state", terminal,
		"success", st.Results.Success,
		"failed", st.Results.Failed,
		"skipped", st.Results.Skipped,
		"duration_s", int(duration.Seconds()),
	)
	return st, true
}

func exitMessage(current string, code int, waitErr error) string {
	msg := fmt.Sprintf("Process exited with code %d", code)
	if code < 0 && waitErr != nil {
		msg = fmt.Sprintf("Process terminated: %v", waitErr)
	}
	if current != "" {
		msg = current + " (" + msg + ")"
	}
	return msg
}

// foldEntries expands the reported tallies into one ledger entry per unit.
// Per-listing labels come from the workflow's detail list where it has them.
// Every entry carries the run's aggregate duration since the workflow does not
// time listings individually.
func foldEntries(st jobstatus.JobStatus, duration time.Duration) []ledger.Entry {
	want := map[ledger.Outcome]int{
		ledger.OutcomeSuccess: st.Results.Success,
		ledger.OutcomeFailed:  st.Results.Failed,
		ledger.OutcomeSkipped: st.Results.Skipped,
	}
	entries := make([]ledger.Entry, 0, st.Results.Total())

	for _, d := range st.Results.Details {
		o := ledger.Outcome(d.Status)
		if want[o] <= 0 {
			continue
		}
		want[o]--
		entries = append(entries, ledger.Entry{
			Profile:  d.Profile,
			Listing:  d.Listing,
			Outcome:  o,
			Duration: duration,
			Message:  d.Message,
		})
	}

	profile := st.CurrentProfile
	if profile == "" {
		profile = "Batch"
	}
	listing := st.CurrentListing
	if listing == "" {
		listing = fmt.Sprintf("%d listing(s)", st.TotalListings)
	}
	for _, o := range []ledger.Outcome{ledger.OutcomeSuccess, ledger.OutcomeFailed, ledger.OutcomeSkipped} {
		for i := 0; i < want[o]; i++ {
			e := ledger.Entry{Profile: profile, Listing: listing, Outcome: o, Duration: duration}
			if o != ledger.OutcomeSuccess {
				e.Message = st.Message
			}
			entries = append(entries, e)
		}
	}
	return entries
}

// Wait blocks until the tracked child exits or ctx is done, then returns the
// reconciled status.
func (r *JobRunner) Wait(ctx context.Context) (jobstatus.JobStatus, error) {
	r.mu.Lock()
	p := r.proc
	r.mu.Unlock()

	if p != nil {
		select {
		case <-p.done:
		case <-ctx.Done():
			return r.Status(), ctx.Err()
		}
	}
	return r.Status(), nil
}

// Stop requests a cooperative stop, waits out the grace period, then kills the
// process tree. It returns once no workflow process is running. Stopping with
// no job is not an error: the stop marker alone is the contract.
func (r *JobRunner) Stop(ctx context.Context) (StopResult, error) {
	if err := r.stop.Set(); err != nil {
		slog.Error("failed to write stop marker", "error", err)
	}

	r.mu.Lock()
	p := r.proc
	if p != nil && p.exited() {
		p = nil
	}
	r.mu.Unlock()

	if p != nil {
		res := StopResult{WasRunning: true, PID: p.PID}
		r.markStopping()
		if !r.awaitExit(ctx, p.exited) {
			res.Forced = true
			r.forceKill(p.PID)
			select {
			case <-p.done:
			case <-time.After(killWait):
				return res, fmt.Errorf("workflow process %d did not exit after kill", p.PID)
			}
		}
		r.Status()
		return res, nil
	}

	// The handle is gone (for example after a restart) but a child may still
	// hold the run lock.
	owner, ok := filestore.LiveOwner(r.cfg.WorkDir)
	if !ok {
		return StopResult{}, nil
	}
	res := StopResult{WasRunning: true, PID: owner.PID}
	r.markStopping()
	gone := func() bool { return !filestore.ProcessAlive(owner.PID) }
	if !r.awaitExit(ctx, gone) {
		res.Forced = true
		r.forceKill(owner.PID)
		deadline := time.Now().Add(killWait)
		for filestore.ProcessAlive(owner.PID) {
			if time.Now().After(deadline) {
				return res, fmt.Errorf("workflow process %d did not exit after kill", owner.PID)
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
	if _, err := r.status.Update(func(st *jobstatus.JobStatus) {
		st.State = jobstatus.StateError
		st.Message = "Stopped by user"
		st.ProcessRunning = false
	}); err != nil {
		slog.Error("failed to record stop", "error", err)
	}
	return res, nil
}

func (r *JobRunner) markStopping() {
	if _, err := r.status.Update(func(st *jobstatus.JobStatus) {
		st.State = jobstatus.StateStopping
		st.Message = "Stop requested, finishing current operation"
	}); err != nil {
		slog.Error("failed to mark job stopping", "error", err)
	}
}

// awaitExit polls exited for the grace period. It returns false if the
// process is still alive afterwards or ctx ended first.
func (r *JobRunner) awaitExit(ctx context.Context, exited func() bool) bool {
	polls := int(r.cfg.StopGrace / r.cfg.StopPoll)
	if polls < 1 {
		polls = 1
	}
	for i := 0; i < polls; i++ {
		if exited() {
			return true
		}
		select {
		case <-ctx.Done():
			return exited()
		case <-time.After(r.cfg.StopPoll):
		}
	}
	return exited()
}

func (r *JobRunner) forceKill(pid int) {
	slog.Warn("workflow did not stop in time, killing process tree", "pid", pid, "grace", r.cfg.StopGrace)
	if err := killTree(pid); err != nil {
		slog.Error("failed to kill workflow process tree", "pid", pid, "error", err)
	}
	r.metrics.ForcedKill()
}

// ResetState returns the job document to idle. It refuses while a job runs.
func (r *JobRunner) ResetState() (jobstatus.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reconcileLocked()
	if r.proc != nil && !r.proc.exited() {
		return r.status.Load(), ErrAlreadyRunning
	}
	if _, ok := filestore.LiveOwner(r.cfg.WorkDir); ok {
		return r.status.Load(), ErrAlreadyRunning
	}
	r.proc = nil
	return r.status.Reset()
}

// ResetStale returns a document left behind by an earlier process to idle.
// It reports false, and leaves the document alone, when a live process still
// owns the run.
func (r *JobRunner) ResetStale() (bool, error) {
	if _, err := r.ResetState(); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
