package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/autolister/internal/store"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

func TestFlexInt(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{`2019`, 2019, false},
		{`2019.0`, 2019, false},
		{`"2019"`, 2019, false},
		{`"12,500"`, 12500, false},
		{`null`, 0, false},
		{`""`, 0, false},
		{`"abc"`, 0, true},
	}
	for _, tt := range tests {
		var f flexInt
		err := json.Unmarshal([]byte(tt.in), &f)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.in)
			}
			continue
		}
		if err != nil || int(f) != tt.want {
			t.Errorf("%s: got %d, %v", tt.in, f, err)
		}
	}
}

func validListingBody() map[string]any {
	return map[string]any{
		"year":    "2018",
		"make":    " Honda ",
		"model":   "Civic",
		"mileage": 42000,
		"price":   "15,900",
	}
}

func TestListings_Create(t *testing.T) {
	var saved *models.Listing
	s := &mockStore{createListing: func(l *models.Listing) error {
		l.ID = 9
		saved = l
		return nil
	}}
	h := NewListingHandlers(s)

	var got models.Listing
	parseData(t, serve(h.Create, http.MethodPost, "/api/v1/listings", validListingBody()), http.StatusCreated, &got)
	if got.ID != 9 || saved == nil {
		t.Fatalf("expected listing to be saved, got %+v", got)
	}
	if saved.Make != "Honda" || saved.Year != 2018 || saved.Price != 15900 {
		t.Errorf("unexpected listing: %+v", saved)
	}
}

func TestListings_CreateValidation(t *testing.T) {
	h := NewListingHandlers(&mockStore{createListing: func(*models.Listing) error {
		t.Fatal("store must not be called")
		return nil
	}})
	h.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name  string
		patch map[string]any
		field string
	}{
		{"year too old", map[string]any{"year": 1899}, "year"},
		{"year too new", map[string]any{"year": 2029}, "year"},
		{"missing make", map[string]any{"make": "  "}, "make"},
		{"missing model", map[string]any{"model": ""}, "model"},
		{"negative mileage", map[string]any{"mileage": -1}, "mileage"},
		{"negative price", map[string]any{"price": "-5"}, "price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validListingBody()
			for k, v := range tt.patch {
				body[k] = v
			}
			e := parseErr(t, serve(h.Create, http.MethodPost, "/api/v1/listings", body), http.StatusBadRequest)
			if _, ok := e.Details[tt.field]; !ok {
				t.Errorf("expected %s in details, got %v", tt.field, e.Details)
			}
		})
	}

	parseErr(t, serve(h.Create, http.MethodPost, "/api/v1/listings", `{"year": "soon"}`), http.StatusBadRequest)
}

func TestListings_GetAndUpdate(t *testing.T) {
	s := &mockStore{
		getListing: func(id int64) (*models.Listing, error) {
			if id != 3 {
				return nil, store.ErrNotFound
			}
			return listingFixture(3), nil
		},
		updateListing: func(l *models.Listing) error {
			if l.ID != 3 {
				return store.ErrNotFound
			}
			return nil
		},
	}
	h := NewListingHandlers(s)

	var got models.Listing
	parseData(t, serve(h.Get, http.MethodGet, "/api/v1/listings/3", nil, "id", "3"), http.StatusOK, &got)
	if got.ID != 3 {
		t.Errorf("expected listing 3, got %d", got.ID)
	}
	parseErr(t, serve(h.Get, http.MethodGet, "/api/v1/listings/4", nil, "id", "4"), http.StatusNotFound)

	parseData(t, serve(h.Update, http.MethodPut, "/api/v1/listings/3", validListingBody(), "id", "3"), http.StatusOK, &got)
	if got.ID != 3 || got.Model != "Civic" {
		t.Errorf("unexpected update result: %+v", got)
	}
	parseErr(t, serve(h.Update, http.MethodPut, "/api/v1/listings/4", validListingBody(), "id", "4"), http.StatusNotFound)
}

func TestListings_RecycleBin(t *testing.T) {
	var deleted, restored, purged int64
	s := &mockStore{
		softDeleteListing: func(id int64) error { deleted = id; return nil },
		restoreListing:    func(id int64) error { restored = id; return nil },
		purgeListing: func(id int64) error {
			if id == 99 {
				return store.ErrNotFound
			}
			purged = id
			return nil
		},
		listDeleted: func() ([]*models.Listing, error) {
			return []*models.Listing{listingFixture(5)}, nil
		},
	}
	h := NewListingHandlers(s)

	if rec := serve(h.Delete, http.MethodDelete, "/", nil, "id", "5"); rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	if rec := serve(h.Restore, http.MethodPost, "/", nil, "id", "6"); rec.Code != http.StatusNoContent {
		t.Errorf("restore: expected 204, got %d", rec.Code)
	}
	if rec := serve(h.Purge, http.MethodDelete, "/", nil, "id", "7"); rec.Code != http.StatusNoContent {
		t.Errorf("purge: expected 204, got %d", rec.Code)
	}
	if deleted != 5 || restored != 6 || purged != 7 {
		t.Errorf("wrong ids: %d %d %d", deleted, restored, purged)
	}
	parseErr(t, serve(h.Purge, http.MethodDelete, "/", nil, "id", "99"), http.StatusNotFound)

	var bin []models.Listing
	parseData(t, serve(h.ListDeleted, http.MethodGet, "/api/v1/listings/deleted", nil), http.StatusOK, &bin)
	if len(bin) != 1 || bin[0].ID != 5 {
		t.Errorf("unexpected recycle bin: %+v", bin)
	}
}

func TestProfiles_List(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"beta", "alpha", ".cache"} {
		if err := os.Mkdir(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewProfileHandlers(dir, &mockStore{locations: map[string]string{"beta": "Austin, TX"}})

	var got []profileView
	parseData(t, serve(h.List, http.MethodGet, "/api/v1/profiles", nil), http.StatusOK, &got)
	if len(got) != 2 {
		t.Fatalf("expected 2 profiles, got %+v", got)
	}
	if got[0].FolderName != "alpha" || got[1].FolderName != "beta" {
		t.Errorf("expected sorted folders, got %+v", got)
	}
	if got[0].Location != "" || got[1].Location != "Austin, TX" {
		t.Errorf("unexpected locations: %+v", got)
	}
}

func TestProfiles_ListMissingDir(t *testing.T) {
	h := NewProfileHandlers(filepath.Join(t.TempDir(), "nope"), &mockStore{})

	var got []profileView
	parseData(t, serve(h.List, http.MethodGet, "/api/v1/profiles", nil), http.StatusOK, &got)
	if len(got) != 0 {
		t.Errorf("expected empty list, got %+v", got)
	}
}

func TestProfiles_SetLocation(t *testing.T) {
	var folder, location string
	s := &mockStore{upsertLocation: func(f, l string) error {
		folder, location = f, l
		return nil
	}}
	h := NewProfileHandlers(t.TempDir(), s)

	var got profileView
	rec := serve(h.SetLocation, http.MethodPut, "/", map[string]string{"location": " Denver, CO "}, "folder", "alpha")
	parseData(t, rec, http.StatusOK, &got)
	if folder != "alpha" || location != "Denver, CO" || got.Location != "Denver, CO" {
		t.Errorf("unexpected upsert: %q %q %+v", folder, location, got)
	}

	parseErr(t, serve(h.SetLocation, http.MethodPut, "/", map[string]string{"location": ""}, "folder", "alpha"), http.StatusBadRequest)
	parseErr(t, serve(h.SetLocation, http.MethodPut, "/", map[string]string{"location": "x"}, "folder", "../etc"), http.StatusBadRequest)
}
