package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/internal/scheduler"
)

// SchedulerControl is scheduler.Controller as seen by the dashboard.
type SchedulerControl interface {
	Start(ctx context.Context) error
	Stop() error
	Status(ctx context.Context) scheduler.ControlStatus
}

type SchedulerHandlers struct {
	ctl SchedulerControl
}

func NewSchedulerHandlers(ctl SchedulerControl) *SchedulerHandlers {
	return &SchedulerHandlers{ctl: ctl}
}

// Start handles POST /api/v1/scheduler/start.
func (h *SchedulerHandlers) Start(w http.ResponseWriter, r *http.Request) {
	err := h.ctl.Start(r.Context())
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		response.Error(w, http.StatusConflict, response.CodeAlreadyRunning, err.Error(), nil)
		return
	}
	if err != nil {
		internalError(w, r, err, "Failed to start scheduler")
		return
	}
	response.Accepted(w, h.ctl.Status(r.Context()))
}

// Stop handles POST /api/v1/scheduler/stop. The loop exits at its next check
// of the stop marker; a run already in progress finishes first.
func (h *SchedulerHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.Stop(); err != nil {
		internalError(w, r, err, "Failed to stop scheduler")
		return
	}
	response.Accepted(w, h.ctl.Status(r.Context()))
}

// Status handles GET /api/v1/scheduler/status.
func (h *SchedulerHandlers) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, h.ctl.Status(r.Context()))
}
