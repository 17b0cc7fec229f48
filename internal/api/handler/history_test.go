package handler

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/internal/cache"
	"github.com/kiranshivaraju/autolister/internal/store"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

func TestHistory_FilterDates(t *testing.T) {
	h := NewHistoryHandlers(&mockStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?profile=Main&status=failed&dateFrom=2026-03-01&dateTo=2026-03-05", nil)
	f := h.filter(req)
	if f.ProfileName != "Main" || f.Status != "failed" {
		t.Errorf("unexpected filter: %+v", f)
	}
	if !f.From.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected From: %v", f.From)
	}
	if !f.To.Equal(time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("dateTo should be inclusive, got To %v", f.To)
	}

	f = h.filter(httptest.NewRequest(http.MethodGet, "/api/v1/history?dateFrom=03/01/2026&dateTo=soon", nil))
	if !f.From.IsZero() || !f.To.IsZero() {
		t.Errorf("malformed dates should be ignored: %+v", f)
	}
}

func TestHistory_List(t *testing.T) {
	var listed store.UploadFilter
	s := &mockStore{
		listUploads: func(f store.UploadFilter) ([]*models.UploadRecord, int, error) {
			listed = f
			return []*models.UploadRecord{{ID: 1, Status: "success"}, {ID: 2, Status: "failed"}}, 45, nil
		},
		countUploads: func(store.UploadFilter) (*models.UploadStatusCounts, error) {
			return &models.UploadStatusCounts{Success: 30, Failed: 15, Total: 45}, nil
		},
	}
	h := NewHistoryHandlers(s, nil)

	rec := serve(h.List, http.MethodGet, "/api/v1/history?page=2&page_size=20", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data    []models.UploadRecord     `json:"data"`
		Meta    response.PaginationMeta   `json:"meta"`
		Summary models.UploadStatusCounts `json:"summary"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if listed.Page != 2 || listed.Limit != 20 {
		t.Errorf("unexpected paging: %+v", listed)
	}
	if len(body.Data) != 2 || body.Meta.Total != 45 || body.Meta.TotalPages != 3 || !body.Meta.HasNext {
		t.Errorf("unexpected page: %+v", body.Meta)
	}
	if body.Summary.Success != 30 || body.Summary.Total != 45 {
		t.Errorf("unexpected summary: %+v", body.Summary)
	}
}

func TestHistory_ListClampsPageSize(t *testing.T) {
	var listed store.UploadFilter
	h := NewHistoryHandlers(&mockStore{listUploads: func(f store.UploadFilter) ([]*models.UploadRecord, int, error) {
		listed = f
		return nil, 0, nil
	}}, nil)

	serve(h.List, http.MethodGet, "/api/v1/history?page_size=5000", nil)
	if listed.Limit != store.DefaultPageSize || listed.Page != 1 {
		t.Errorf("expected default paging, got %+v", listed)
	}
}

func TestHistory_Export(t *testing.T) {
	msg := "price field missing"
	s := &mockStore{exportUpload: func(store.UploadFilter) ([]*models.UploadRecord, error) {
		return []*models.UploadRecord{{
			ID:            3,
			ProfileName:   "Main",
			ProfileFolder: "main",
			VehicleInfo:   models.VehicleInfo{Year: 2019, Make: "Honda", Model: "Civic, EX"},
			Status:        "failed",
			ErrorMessage:  &msg,
			Location:      "Austin, TX",
			AttemptNumber: 2,
			UploadedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		}}, nil
	}}
	h := NewHistoryHandlers(s, nil)
	h.now = func() time.Time { return time.Date(2026, 3, 10, 14, 5, 9, 0, time.UTC) }

	rec := serve(h.Export, http.MethodGet, "/api/v1/history/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "upload_history_20260310_140509.csv") {
		t.Errorf("unexpected disposition %q", cd)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %d rows", len(rows))
	}
	if len(rows[0]) != 14 || rows[0][0] != "Upload ID" || rows[0][13] != "Attempt Number" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	row := rows[1]
	if row[0] != "3" || row[4] != "2019" || row[6] != "Civic, EX" || row[11] != msg || row[12] != "" || row[13] != "2" {
		t.Errorf("unexpected row: %v", row)
	}
}

func TestHistory_StatsClampsAndCaches(t *testing.T) {
	var gotDays []int
	s := &mockStore{uploadStats: func(days int) (*models.UploadStats, error) {
		gotDays = append(gotDays, days)
		return &models.UploadStats{PeriodDays: days, TotalUploads: 4}, nil
	}}
	c := newMemCache()
	h := NewHistoryHandlers(s, c)

	var stats models.UploadStats
	parseData(t, serve(h.Stats, http.MethodGet, "/api/v1/history/stats?days=9999", nil), http.StatusOK, &stats)
	if stats.PeriodDays != store.MaxStatsDays {
		t.Errorf("expected clamp to %d, got %d", store.MaxStatsDays, stats.PeriodDays)
	}
	parseData(t, serve(h.Stats, http.MethodGet, "/api/v1/history/stats?days=0", nil), http.StatusOK, &stats)
	if stats.PeriodDays != store.DefaultStatsDays {
		t.Errorf("expected default window, got %d", stats.PeriodDays)
	}
	parseData(t, serve(h.Stats, http.MethodGet, "/api/v1/history/stats", nil), http.StatusOK, &stats)

	if len(gotDays) != 2 {
		t.Errorf("expected the default window to be served from cache, store saw %v", gotDays)
	}
	if _, ok, _ := c.Get(context.Background(), cache.UploadStatsKey(store.DefaultStatsDays)); !ok {
		t.Error("expected default window to be cached")
	}
}

func TestHistory_Track(t *testing.T) {
	var saved *models.UploadRecord
	s := &mockStore{recordUpload: func(rec *models.UploadRecord) error {
		rec.ID = 12
		saved = rec
		return nil
	}}
	c := newMemCache()
	h := NewHistoryHandlers(s, c)

	body := map[string]any{
		"profile_name":    "Main",
		"profile_folder":  "main",
		"listing_id":      7,
		"vehicle_info":    map[string]any{"year": 2019, "make": "Honda"},
		"status":          "success",
		"marketplace_url": "https://example.com/item/1",
		"attempt_number":  1,
	}
	var got models.UploadRecord
	parseData(t, serve(h.Track, http.MethodPost, "/api/v1/history", body), http.StatusCreated, &got)
	if got.ID != 12 || saved == nil || *saved.ListingID != 7 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if saved.MarketplaceURL == nil || *saved.MarketplaceURL != "https://example.com/item/1" || saved.ErrorMessage != nil {
		t.Errorf("unexpected optional fields: %+v", saved)
	}
	if len(c.deletes) != 1 || c.deletes[0] != cache.UploadStatsKey(store.DefaultStatsDays) {
		t.Errorf("expected stats invalidation, got %v", c.deletes)
	}
}

func TestHistory_TrackRejects(t *testing.T) {
	h := NewHistoryHandlers(&mockStore{recordUpload: func(*models.UploadRecord) error {
		return store.ErrNotFound
	}}, nil)

	e := parseErr(t, serve(h.Track, http.MethodPost, "/", map[string]any{"profile_name": "Main"}), http.StatusBadRequest)
	missing, _ := e.Details["missing"].([]any)
	if len(missing) != 2 {
		t.Errorf("expected listing_id and vehicle_info missing, got %v", e.Details)
	}

	body := map[string]any{
		"profile_name": "Main",
		"listing_id":   7,
		"vehicle_info": map[string]any{},
		"status":       strings.Repeat("s", models.UploadStatusMax+1),
	}
	parseErr(t, serve(h.Track, http.MethodPost, "/", body), http.StatusBadRequest)

	body["status"] = "success"
	parseErr(t, serve(h.Track, http.MethodPost, "/", body), http.StatusNotFound)
}

func TestHistory_UpdateStatus(t *testing.T) {
	var gotStatus string
	var optCount int
	s := &mockStore{updateUpload: func(id int64, status string, opts ...store.UploadUpdateOption) error {
		if id == 404 {
			return store.ErrNotFound
		}
		gotStatus, optCount = status, len(opts)
		return nil
	}}
	h := NewHistoryHandlers(s, nil)

	var got map[string]any
	rec := serve(h.UpdateStatus, http.MethodPatch, "/", map[string]string{"error_message": "timeout"}, "id", "5")
	parseData(t, rec, http.StatusOK, &got)
	if gotStatus != models.UploadStatusPending || optCount != 1 {
		t.Errorf("expected pending with one option, got %q %d", gotStatus, optCount)
	}
	if got["status"] != "pending" {
		t.Errorf("unexpected response: %v", got)
	}

	parseErr(t, serve(h.UpdateStatus, http.MethodPatch, "/", map[string]string{"status": "failed"}, "id", "404"), http.StatusNotFound)
}
