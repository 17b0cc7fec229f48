package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/autolister/internal/stopsignal"
)

// ErrAlreadyRunning is returned when a scheduler loop is already active, in
// this process or, judging by its heartbeat, in another one.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// HeartbeatReader returns the last heartbeat published by any scheduler.
type HeartbeatReader interface {
	LastBeat(ctx context.Context) (time.Time, bool, error)
}

// ControlStatus is what the dashboard reports about the scheduler.
type ControlStatus struct {
	Running       bool       `json:"running"`
	InProcess     bool       `json:"in_process"`
	StopRequested bool       `json:"stop_requested"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	Loop          State      `json:"loop"`
}

// Controller starts and stops an in-process Loop on behalf of the dashboard.
type Controller struct {
	base       context.Context
	loop       *Loop
	stop       *stopsignal.Marker
	beats      HeartbeatReader
	staleAfter time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	// localEnded is when the local loop last returned. Heartbeats up to then
	// were written by it.
	localEnded time.Time
}

// NewController ties the loop's lifetime to base, normally the server's root
// context. beats may be nil.
func NewController(base context.Context, loop *Loop, beats HeartbeatReader) *Controller {
	return &Controller{
		base:       base,
		loop:       loop,
		stop:       loop.stop,
		beats:      beats,
		staleAfter: 2*loop.cfg.Interval + loop.cfg.ExecTimeout,
	}
}

func (c *Controller) runningLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Start launches the loop in the background.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runningLocked() {
		return ErrAlreadyRunning
	}
	if at, ok := c.externalBeat(ctx); ok {
		slog.Info("scheduler heartbeat is fresh, refusing second loop", "last_heartbeat", at)
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(c.base)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go func() {
		defer close(done)
		if err := c.loop.Run(ctx); err != nil {
			slog.Error("scheduler loop exited", "error", err)
		}
		c.mu.Lock()
		c.localEnded = time.Now()
		c.mu.Unlock()
	}()
	return nil
}

// Stop writes the scheduler stop marker, which also stops an out-of-process
// scheduler sharing the working directory, and wakes the local loop.
func (c *Controller) Stop() error {
	if err := c.stop.Set(); err != nil {
		return err
	}
	c.loop.Wake()
	return nil
}

// Shutdown cancels the local loop and waits for it to return.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) Status(ctx context.Context) ControlStatus {
	c.mu.Lock()
	inProcess := c.runningLocked()
	localEnded := c.localEnded
	c.mu.Unlock()

	st := ControlStatus{
		InProcess:     inProcess,
		Running:       inProcess,
		StopRequested: c.stop.Requested(),
		Loop:          c.loop.State(),
	}
	if c.beats != nil {
		if at, ok, err := c.beats.LastBeat(ctx); err == nil && ok {
			st.LastHeartbeat = &at
			if !inProcess && at.After(localEnded) && time.Since(at) <= c.staleAfter {
				st.Running = true
			}
		}
	}
	return st
}

func (c *Controller) externalBeat(ctx context.Context) (time.Time, bool) {
	if c.beats == nil {
		return time.Time{}, false
	}
	at, ok, err := c.beats.LastBeat(ctx)
	if err != nil || !ok || !at.After(c.localEnded) {
		return time.Time{}, false
	}
	return at, time.Since(at) <= c.staleAfter
}
