package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/internal/jobstatus"
	"github.com/kiranshivaraju/autolister/internal/runner"
	"github.com/kiranshivaraju/autolister/internal/store"
	"github.com/kiranshivaraju/autolister/internal/workflow"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

// JobRunner is the on-demand job surface of runner.JobRunner.
type JobRunner interface {
	Start(ctx context.Context, profiles []workflow.ProfileRef, listings []workflow.ListingRef, opts ...runner.StartOption) (runner.Handle, error)
	Stop(ctx context.Context) (runner.StopResult, error)
	Status() jobstatus.JobStatus
	ResetState() (jobstatus.JobStatus, error)
	CheckSelection(profiles, listings int) error
}

// JobInputs resolves a start request's listing ids and profile locations.
type JobInputs interface {
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	ListProfileLocations(ctx context.Context) (map[string]string, error)
}

type JobHandlers struct {
	runner JobRunner
	inputs JobInputs
}

func NewJobHandlers(r JobRunner, inputs JobInputs) *JobHandlers {
	return &JobHandlers{runner: r, inputs: inputs}
}

type startJobRequest struct {
	Profiles   []workflow.ProfileRef `json:"profiles"`
	ListingIDs []int64               `json:"listing_ids"`
}

// Start handles POST /api/v1/jobs.
func (h *JobHandlers) Start(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}

	if err := h.runner.CheckSelection(len(req.Profiles), len(req.ListingIDs)); err != nil {
		startFailed(w, r, err)
		return
	}

	profiles, err := h.fillLocations(r.Context(), req.Profiles)
	if err != nil {
		internalError(w, r, err, "Failed to load profile locations")
		return
	}

	listings := make([]workflow.ListingRef, 0, len(req.ListingIDs))
	for _, id := range req.ListingIDs {
		l, err := h.inputs.GetListing(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			invalidField(w, "listing_ids", fmt.Sprintf("listing %d not found", id))
			return
		}
		if err != nil {
			internalError(w, r, err, "Failed to load listings")
			return
		}
		listings = append(listings, workflow.ListingRefFromModel(l))
	}

	handle, err := h.runner.Start(r.Context(), profiles, listings)
	if err != nil {
		startFailed(w, r, err)
		return
	}
	slog.Info("job started from dashboard",
		"run_id", handle.RunID, "pid", handle.PID,
		"profiles", len(profiles), "listings", len(listings))
	response.Accepted(w, handle)
}

func startFailed(w http.ResponseWriter, r *http.Request, err error) {
	var verr *runner.ValidationError
	switch {
	case errors.As(err, &verr):
		invalidField(w, verr.Field, verr.Message)
	case errors.Is(err, runner.ErrAlreadyRunning):
		response.Error(w, http.StatusConflict, response.CodeAlreadyRunning, err.Error(), nil)
	default:
		internalError(w, r, err, "Failed to start job")
	}
}

// fillLocations supplies saved locations for profiles sent without one.
// Saved locations are keyed by profile folder name.
func (h *JobHandlers) fillLocations(ctx context.Context, profiles []workflow.ProfileRef) ([]workflow.ProfileRef, error) {
	var saved map[string]string
	out := make([]workflow.ProfileRef, len(profiles))
	for i, p := range profiles {
		if p.FolderName == "" && p.Path != "" {
			p.FolderName = filepath.Base(p.Path)
		}
		if p.Location == "" && p.FolderName != "" {
			if saved == nil {
				var err error
				if saved, err = h.inputs.ListProfileLocations(ctx); err != nil {
					return nil, err
				}
			}
			p.Location = saved[p.FolderName]
		}
		out[i] = p
	}
	return out, nil
}

// Stop handles POST /api/v1/jobs/stop. It blocks through the grace period.
func (h *JobHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.Stop(r.Context())
	if err != nil {
		internalError(w, r, err, "Failed to stop job")
		return
	}
	response.JSON(w, res)
}

// Status handles GET /api/v1/jobs/status.
func (h *JobHandlers) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, h.runner.Status())
}

// Reset handles POST /api/v1/jobs/reset.
func (h *JobHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	st, err := h.runner.ResetState()
	if errors.Is(err, runner.ErrAlreadyRunning) {
		response.Error(w, http.StatusConflict, response.CodeAlreadyRunning,
			"Cannot reset while a job is running", nil)
		return
	}
	if err != nil {
		internalError(w, r, err, "Failed to reset job state")
		return
	}
	response.JSON(w, st)
}
