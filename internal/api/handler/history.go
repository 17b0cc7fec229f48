package handler

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/internal/cache"
	"github.com/kiranshivaraju/autolister/internal/store"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

const (
	uploadStatsTTL = 5 * time.Minute
	dateLayout     = "2006-01-02"
)

// exportColumns is the header row of the history CSV export.
var exportColumns = []string{
	"Upload ID", "Date & Time", "Profile Name", "Profile Folder",
	"Vehicle Year", "Vehicle Make", "Vehicle Model", "Price", "Mileage",
	"Location", "Status", "Error Message", "Marketplace URL", "Attempt Number",
}

// UploadHistory is the upload attempt log.
type UploadHistory interface {
	RecordUpload(ctx context.Context, rec *models.UploadRecord) error
	UpdateUploadStatus(ctx context.Context, id int64, status string, opts ...store.UploadUpdateOption) error
	ListUploads(ctx context.Context, filter store.UploadFilter) ([]*models.UploadRecord, int, error)
	CountUploadsByStatus(ctx context.Context, filter store.UploadFilter) (*models.UploadStatusCounts, error)
	ExportUploads(ctx context.Context, filter store.UploadFilter) ([]*models.UploadRecord, error)
	UploadStats(ctx context.Context, days int) (*models.UploadStats, error)
}

type HistoryHandlers struct {
	store UploadHistory
	cache StatsCache
	now   func() time.Time
}

func NewHistoryHandlers(s UploadHistory, c StatsCache) *HistoryHandlers {
	return &HistoryHandlers{store: s, cache: c, now: time.Now}
}

// filter reads profile, status, dateFrom and dateTo. Dates are whole days and
// dateTo is inclusive. Malformed dates are ignored.
func (h *HistoryHandlers) filter(r *http.Request) store.UploadFilter {
	q := r.URL.Query()
	f := store.UploadFilter{
		ProfileName: q.Get("profile"),
		Status:      q.Get("status"),
	}
	if v := q.Get("dateFrom"); v != "" {
		if t, err := time.Parse(dateLayout, v); err == nil {
			f.From = t
		} else {
			slog.Warn("ignoring malformed dateFrom", "value", v)
		}
	}
	if v := q.Get("dateTo"); v != "" {
		if t, err := time.Parse(dateLayout, v); err == nil {
			f.To = t.AddDate(0, 0, 1)
		} else {
			slog.Warn("ignoring malformed dateTo", "value", v)
		}
	}
	return f
}

// List handles GET /api/v1/history. The summary counts every status within
// the other filters.
func (h *HistoryHandlers) List(w http.ResponseWriter, r *http.Request) {
	f := h.filter(r)
	page := queryInt(r, "page", 1)
	size := queryInt(r, "page_size", store.DefaultPageSize)
	if size < 1 || size > store.MaxPageSize {
		size = store.DefaultPageSize
	}
	f.Page, f.Limit, _ = store.Paginate(page, size)

	uploads, total, err := h.store.ListUploads(r.Context(), f)
	if err != nil {
		internalError(w, r, err, "Failed to retrieve upload history")
		return
	}
	counts, err := h.store.CountUploadsByStatus(r.Context(), f)
	if err != nil {
		internalError(w, r, err, "Failed to retrieve upload history")
		return
	}
	response.Collection(w, uploads, response.NewPaginationMeta(f.Page, f.Limit, total), counts)
}

// Export handles GET /api/v1/history/export.
func (h *HistoryHandlers) Export(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.store.ExportUploads(r.Context(), h.filter(r))
	if err != nil {
		internalError(w, r, err, "Failed to export history")
		return
	}

	name := fmt.Sprintf("upload_history_%s.csv", h.now().Format("20060102_150405"))
	response.Attachment(w, "text/csv; charset=utf-8", name)

	cw := csv.NewWriter(w)
	cw.Write(exportColumns)
	for _, u := range uploads {
		cw.Write(exportRow(u))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.Error("history export interrupted", "rows", len(uploads), "error", err)
		return
	}
	slog.Info("exported upload history", "rows", len(uploads))
}

func exportRow(u *models.UploadRecord) []string {
	return []string{
		strconv.FormatInt(u.ID, 10),
		u.UploadedAt.UTC().Format(time.RFC3339),
		u.ProfileName,
		u.ProfileFolder,
		cell(u.VehicleInfo.Year),
		cell(u.VehicleInfo.Make),
		cell(u.VehicleInfo.Model),
		cell(u.VehicleInfo.Price),
		cell(u.VehicleInfo.Mileage),
		u.Location,
		u.Status,
		deref(u.ErrorMessage),
		deref(u.MarketplaceURL),
		strconv.Itoa(u.AttemptNumber),
	}
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Stats handles GET /api/v1/history/stats?days=N.
func (h *HistoryHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", store.DefaultStatsDays)
	if days < 1 {
		days = store.DefaultStatsDays
	}
	if days > store.MaxStatsDays {
		days = store.MaxStatsDays
	}

	stats, err := cachedJSON(r.Context(), h.cache, cache.UploadStatsKey(days), uploadStatsTTL,
		func() (*models.UploadStats, error) {
			return h.store.UploadStats(r.Context(), days)
		})
	if err != nil {
		internalError(w, r, err, "Failed to compute upload stats")
		return
	}
	response.JSON(w, stats)
}

type trackUploadRequest struct {
	ProfileName    *string             `json:"profile_name"`
	ProfileFolder  string              `json:"profile_folder"`
	ListingID      *int64              `json:"listing_id"`
	VehicleInfo    *models.VehicleInfo `json:"vehicle_info"`
	Status         string              `json:"status"`
	ErrorMessage   string              `json:"error_message"`
	Location       string              `json:"location"`
	MarketplaceURL string              `json:"marketplace_url"`
	AttemptNumber  int                 `json:"attempt_number"`
	ScheduledJobID *int64              `json:"scheduled_job_id"`
}

// Track handles POST /api/v1/history. The workflow process reports each
// attempt here.
func (h *HistoryHandlers) Track(w http.ResponseWriter, r *http.Request) {
	var req trackUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}

	var missing []string
	if req.ProfileName == nil {
		missing = append(missing, "profile_name")
	}
	if req.ListingID == nil {
		missing = append(missing, "listing_id")
	}
	if req.VehicleInfo == nil {
		missing = append(missing, "vehicle_info")
	}
	if len(missing) > 0 {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
			"Missing required fields: "+strings.Join(missing, ", "), map[string]any{"missing": missing})
		return
	}
	if !validUploadStatus(w, req.Status) {
		return
	}

	rec := &models.UploadRecord{
		ProfileName:    *req.ProfileName,
		ProfileFolder:  req.ProfileFolder,
		ListingID:      req.ListingID,
		VehicleInfo:    *req.VehicleInfo,
		Status:         req.Status,
		Location:       req.Location,
		AttemptNumber:  req.AttemptNumber,
		ScheduledJobID: req.ScheduledJobID,
	}
	if req.ErrorMessage != "" {
		rec.ErrorMessage = &req.ErrorMessage
	}
	if req.MarketplaceURL != "" {
		rec.MarketplaceURL = &req.MarketplaceURL
	}

	if err := h.store.RecordUpload(r.Context(), rec); err != nil {
		storeError(w, r, err, "listing")
		return
	}
	h.invalidateStats(r.Context())
	response.Created(w, rec)
}

// UpdateStatus handles PATCH /api/v1/history/{id}.
func (h *HistoryHandlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status         string `json:"status"`
		ErrorMessage   string `json:"error_message"`
		MarketplaceURL string `json:"marketplace_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	if req.Status == "" {
		req.Status = models.UploadStatusPending
	}
	if !validUploadStatus(w, req.Status) {
		return
	}

	var opts []store.UploadUpdateOption
	if req.ErrorMessage != "" {
		opts = append(opts, store.WithErrorMessage(req.ErrorMessage))
	}
	if req.MarketplaceURL != "" {
		opts = append(opts, store.WithMarketplaceURL(req.MarketplaceURL))
	}
	if err := h.store.UpdateUploadStatus(r.Context(), id, req.Status, opts...); err != nil {
		storeError(w, r, err, "upload record")
		return
	}
	h.invalidateStats(r.Context())
	response.JSON(w, map[string]any{"id": id, "status": req.Status})
}

// validUploadStatus accepts any label the column can hold; the workflow
// process reports its own status names.
func validUploadStatus(w http.ResponseWriter, status string) bool {
	if len(status) > models.UploadStatusMax {
		invalidField(w, "status", fmt.Sprintf("status must be at most %d characters", models.UploadStatusMax))
		return false
	}
	return true
}

// invalidateStats drops the default window. Other windows expire on their TTL.
func (h *HistoryHandlers) invalidateStats(ctx context.Context) {
	invalidate(ctx, h.cache, cache.UploadStatsKey(store.DefaultStatsDays))
}
