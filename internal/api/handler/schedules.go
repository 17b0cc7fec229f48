package handler

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/internal/cache"
	"github.com/kiranshivaraju/autolister/internal/store"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

const scheduleStatsTTL = time.Minute

// ScheduleStore is the due-queue as the dashboard edits it.
type ScheduleStore interface {
	CreateScheduledJob(ctx context.Context, job *models.ScheduledJob) error
	ListScheduledJobs(ctx context.Context, filter store.ScheduleFilter) ([]*models.ScheduledJob, error)
	GetScheduledJob(ctx context.Context, id int64) (*models.ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id int64, opts ...store.ScheduleUpdateOption) error
	DeleteScheduledJob(ctx context.Context, id int64) error
	ScheduleStats(ctx context.Context, now time.Time) (*models.ScheduleStats, error)
	ListProfileLocations(ctx context.Context) (map[string]string, error)
}

type ScheduleHandlers struct {
	store ScheduleStore
	cache StatsCache
	now   func() time.Time
}

// NewScheduleHandlers caches stats in c when it is non-nil.
func NewScheduleHandlers(s ScheduleStore, c StatsCache) *ScheduleHandlers {
	return &ScheduleHandlers{store: s, cache: c, now: time.Now}
}

// parseScheduleTime accepts RFC 3339 and the zone-less form sent by
// datetime-local inputs, which is read as UTC.
func parseScheduleTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type createScheduleRequest struct {
	ListingID   int64  `json:"listing_id"`
	ProfileName string `json:"profile_name"`
	ProfilePath string `json:"profile_path"`
	Location    string `json:"location"`
	ScheduledAt string `json:"scheduled_at"`
	Recurrence  string `json:"recurrence"`
}

// Create handles POST /api/v1/schedules.
func (h *ScheduleHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}

	bad := map[string]string{}
	if req.ListingID <= 0 {
		bad["listing_id"] = "listing_id is required"
	}
	if strings.TrimSpace(req.ProfileName) == "" {
		bad["profile_name"] = "profile_name is required"
	}
	if strings.TrimSpace(req.ProfilePath) == "" {
		bad["profile_path"] = "profile_path is required"
	}
	at, ok := parseScheduleTime(req.ScheduledAt)
	if !ok {
		bad["scheduled_at"] = "scheduled_at must be an ISO 8601 date and time"
	}
	if req.Recurrence == "" {
		req.Recurrence = models.RecurrenceNone
	}
	if !models.ValidRecurrence(req.Recurrence) {
		bad["recurrence"] = "recurrence must be one of none, daily, weekly, monthly"
	}
	if len(bad) > 0 {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid schedule", bad)
		return
	}

	if strings.TrimSpace(req.Location) == "" {
		saved, err := h.store.ListProfileLocations(r.Context())
		if err != nil {
			internalError(w, r, err, "Failed to load profile locations")
			return
		}
		req.Location = saved[filepath.Base(req.ProfilePath)]
		if req.Location == "" {
			invalidField(w, "location", "location is required when the profile has no saved location")
			return
		}
	}

	job := &models.ScheduledJob{
		ListingID:   req.ListingID,
		ProfileName: strings.TrimSpace(req.ProfileName),
		ProfilePath: req.ProfilePath,
		Location:    strings.TrimSpace(req.Location),
		ScheduledAt: at,
		Recurrence:  req.Recurrence,
	}
	if err := h.store.CreateScheduledJob(r.Context(), job); err != nil {
		storeError(w, r, err, "listing")
		return
	}
	invalidate(r.Context(), h.cache, cache.ScheduleStatsKey())
	response.Created(w, job)
}

// List handles GET /api/v1/schedules?status=&profile=&listing_id=&upcoming=true.
func (h *ScheduleHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ScheduleFilter{
		Status:      q.Get("status"),
		ProfileName: q.Get("profile"),
	}
	if filter.Status != "" && !models.ValidScheduleStatus(filter.Status) {
		invalidField(w, "status", "unknown status "+strconv.Quote(filter.Status))
		return
	}
	if v := q.Get("listing_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			invalidField(w, "listing_id", "listing_id must be a positive integer")
			return
		}
		filter.ListingID = id
	}
	if upcoming, _ := strconv.ParseBool(q.Get("upcoming")); upcoming {
		filter.UpcomingAfter = h.now()
	}

	jobs, err := h.store.ListScheduledJobs(r.Context(), filter)
	if err != nil {
		internalError(w, r, err, "Failed to list scheduled jobs")
		return
	}
	response.JSON(w, jobs)
}

// Stats handles GET /api/v1/schedules/stats.
func (h *ScheduleHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := cachedJSON(r.Context(), h.cache, cache.ScheduleStatsKey(), scheduleStatsTTL,
		func() (*models.ScheduleStats, error) {
			return h.store.ScheduleStats(r.Context(), h.now())
		})
	if err != nil {
		internalError(w, r, err, "Failed to compute schedule stats")
		return
	}
	response.JSON(w, stats)
}

// Get handles GET /api/v1/schedules/{id}.
func (h *ScheduleHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.store.GetScheduledJob(r.Context(), id)
	if err != nil {
		storeError(w, r, err, "scheduled job")
		return
	}
	response.JSON(w, job)
}

type updateScheduleRequest struct {
	ScheduledAt *string `json:"scheduled_at"`
	Status      *string `json:"status"`
	Recurrence  *string `json:"recurrence"`
}

// Update handles PATCH /api/v1/schedules/{id}. Moving the time moves the
// next run with it.
func (h *ScheduleHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}

	var opts []store.ScheduleUpdateOption
	bad := map[string]string{}
	if req.ScheduledAt != nil {
		at, ok := parseScheduleTime(*req.ScheduledAt)
		switch {
		case !ok:
			bad["scheduled_at"] = "scheduled_at must be an ISO 8601 date and time"
		case !at.After(h.now()):
			bad["scheduled_at"] = store.ErrScheduleInPast.Error()
		default:
			opts = append(opts, store.WithScheduledAt(at))
		}
	}
	if req.Status != nil {
		if models.ValidScheduleStatus(*req.Status) {
			opts = append(opts, store.WithScheduleStatus(*req.Status))
		} else {
			bad["status"] = "status must be one of pending, completed, failed, cancelled"
		}
	}
	if req.Recurrence != nil {
		if models.ValidRecurrence(*req.Recurrence) {
			opts = append(opts, store.WithRecurrence(*req.Recurrence))
		} else {
			bad["recurrence"] = "recurrence must be one of none, daily, weekly, monthly"
		}
	}
	if len(bad) > 0 {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid schedule update", bad)
		return
	}
	if len(opts) == 0 {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "No fields to update", nil)
		return
	}

	if err := h.store.UpdateScheduledJob(r.Context(), id, opts...); err != nil {
		storeError(w, r, err, "scheduled job")
		return
	}
	invalidate(r.Context(), h.cache, cache.ScheduleStatsKey())

	job, err := h.store.GetScheduledJob(r.Context(), id)
	if err != nil {
		storeError(w, r, err, "scheduled job")
		return
	}
	response.JSON(w, job)
}

// Delete handles DELETE /api/v1/schedules/{id}.
func (h *ScheduleHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteScheduledJob(r.Context(), id); err != nil {
		storeError(w, r, err, "scheduled job")
		return
	}
	invalidate(r.Context(), h.cache, cache.ScheduleStatsKey())
	response.NoContent(w)
}
