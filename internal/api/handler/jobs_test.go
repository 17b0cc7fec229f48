package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kiranshivaraju/autolister/internal/jobstatus"
	"github.com/kiranshivaraju/autolister/internal/runner"
	"github.com/kiranshivaraju/autolister/internal/workflow"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

type mockRunner struct {
	start  func(profiles []workflow.ProfileRef, listings []workflow.ListingRef) (runner.Handle, error)
	stop   func() (runner.StopResult, error)
	status jobstatus.JobStatus
	reset  func() (jobstatus.JobStatus, error)
	check  func(profiles, listings int) error
}

func (m *mockRunner) Start(_ context.Context, p []workflow.ProfileRef, l []workflow.ListingRef, _ ...runner.StartOption) (runner.Handle, error) {
	return m.start(p, l)
}

func (m *mockRunner) Stop(_ context.Context) (runner.StopResult, error) {
	return m.stop()
}

func (m *mockRunner) Status() jobstatus.JobStatus {
	return m.status
}

func (m *mockRunner) ResetState() (jobstatus.JobStatus, error) {
	return m.reset()
}

func (m *mockRunner) CheckSelection(profiles, listings int) error {
	if m.check == nil {
		return nil
	}
	return m.check(profiles, listings)
}

var _ JobRunner = (*runner.JobRunner)(nil)

func listingFixture(id int64) *models.Listing {
	return &models.Listing{ID: id, Year: 2019, Make: "Honda", Model: "Civic", Mileage: 42000, Price: 15500}
}

func TestStartJob_ResolvesListingsAndLocations(t *testing.T) {
	var gotProfiles []workflow.ProfileRef
	var gotListings []workflow.ListingRef
	r := &mockRunner{start: func(p []workflow.ProfileRef, l []workflow.ListingRef) (runner.Handle, error) {
		gotProfiles, gotListings = p, l
		return runner.Handle{RunID: "run-1", PID: 4242, StartedAt: time.Now()}, nil
	}}
	s := &mockStore{
		getListing: func(id int64) (*models.Listing, error) { return listingFixture(id), nil },
		locations:  map[string]string{"Profile 2": "Austin, TX"},
	}
	h := NewJobHandlers(r, s)

	rec := serve(h.Start, http.MethodPost, "/api/v1/jobs", map[string]any{
		"profiles": []map[string]string{
			{"path": "/profiles/Profile 1", "location": "Dallas, TX", "user_name": "Ann"},
			{"path": "/profiles/Profile 2", "user_name": "Bob"},
		},
		"listing_ids": []int64{7, 9},
	})

	var handle runner.Handle
	parseData(t, rec, http.StatusAccepted, &handle)
	if handle.RunID != "run-1" || handle.PID != 4242 {
		t.Errorf("unexpected handle: %+v", handle)
	}
	if len(gotProfiles) != 2 || gotProfiles[0].Location != "Dallas, TX" {
		t.Fatalf("unexpected profiles: %+v", gotProfiles)
	}
	if gotProfiles[1].Location != "Austin, TX" || gotProfiles[1].FolderName != "Profile 2" {
		t.Errorf("saved location not applied: %+v", gotProfiles[1])
	}
	if len(gotListings) != 2 || gotListings[0].Make != "Honda" || gotListings[0].Year != "2019" {
		t.Errorf("unexpected listings: %+v", gotListings)
	}
}

func TestStartJob_UnknownListing(t *testing.T) {
	r := &mockRunner{start: func([]workflow.ProfileRef, []workflow.ListingRef) (runner.Handle, error) {
		t.Fatal("runner must not be called")
		return runner.Handle{}, nil
	}}
	h := NewJobHandlers(r, &mockStore{})

	rec := serve(h.Start, http.MethodPost, "/api/v1/jobs", map[string]any{
		"profiles":    []map[string]string{{"path": "/p/1", "location": "X"}},
		"listing_ids": []int64{404},
	})

	e := parseErr(t, rec, http.StatusBadRequest)
	if e.Details["listing_ids"] != "listing 404 not found" {
		t.Errorf("unexpected details: %v", e.Details)
	}
}

func TestStartJob_ValidationError(t *testing.T) {
	r := &mockRunner{start: func([]workflow.ProfileRef, []workflow.ListingRef) (runner.Handle, error) {
		return runner.Handle{}, &runner.ValidationError{
			Field:   "listings",
			Message: "Maximum 50 listings allowed, got 51",
		}
	}}
	h := NewJobHandlers(r, &mockStore{getListing: func(id int64) (*models.Listing, error) {
		return listingFixture(id), nil
	}})

	rec := serve(h.Start, http.MethodPost, "/api/v1/jobs", map[string]any{
		"profiles":    []map[string]string{{"path": "/p/1", "location": "X"}},
		"listing_ids": []int64{1},
	})

	e := parseErr(t, rec, http.StatusBadRequest)
	if e.Code != "INVALID_REQUEST" || e.Message != "Maximum 50 listings allowed, got 51" {
		t.Errorf("unexpected error: %+v", e)
	}
	if _, ok := e.Details["listings"]; !ok {
		t.Errorf("expected details to name the field: %v", e.Details)
	}
}

func TestStartJob_OversizedSelectionSkipsLookups(t *testing.T) {
	limits := runner.New(runner.Config{MaxListings: 2, MaxProfiles: 5}, nil, nil, nil, nil)
	r := &mockRunner{
		check: limits.CheckSelection,
		start: func([]workflow.ProfileRef, []workflow.ListingRef) (runner.Handle, error) {
			t.Fatal("runner must not be called")
			return runner.Handle{}, nil
		},
	}
	lookups := 0
	h := NewJobHandlers(r, &mockStore{getListing: func(id int64) (*models.Listing, error) {
		lookups++
		return listingFixture(id), nil
	}})

	rec := serve(h.Start, http.MethodPost, "/api/v1/jobs", map[string]any{
		"profiles":    []map[string]string{{"path": "/p/1", "location": "X"}},
		"listing_ids": []int64{1, 2, 3},
	})

	e := parseErr(t, rec, http.StatusBadRequest)
	want := "You can only select up to 2 listings at a time. Currently selected: 3"
	if e.Details["listings"] != want {
		t.Errorf("unexpected details: %v", e.Details)
	}
	if lookups != 0 {
		t.Errorf("expected no listing lookups, got %d", lookups)
	}
}

func TestStartJob_AlreadyRunning(t *testing.T) {
	r := &mockRunner{start: func([]workflow.ProfileRef, []workflow.ListingRef) (runner.Handle, error) {
		return runner.Handle{}, runner.ErrAlreadyRunning
	}}
	h := NewJobHandlers(r, &mockStore{})

	rec := serve(h.Start, http.MethodPost, "/api/v1/jobs", map[string]any{"profiles": []any{}})

	if e := parseErr(t, rec, http.StatusConflict); e.Code != "ALREADY_RUNNING" {
		t.Errorf("expected ALREADY_RUNNING, got %s", e.Code)
	}
}

func TestStartJob_LaunchFailure(t *testing.T) {
	r := &mockRunner{start: func([]workflow.ProfileRef, []workflow.ListingRef) (runner.Handle, error) {
		return runner.Handle{}, errors.New("exec: python: not found")
	}}
	h := NewJobHandlers(r, &mockStore{})

	rec := serve(h.Start, http.MethodPost, "/api/v1/jobs", map[string]any{"profiles": []any{}})

	if e := parseErr(t, rec, http.StatusInternalServerError); e.Code != "INTERNAL_ERROR" {
		t.Errorf("expected INTERNAL_ERROR, got %s", e.Code)
	}
}

func TestStartJob_InvalidBody(t *testing.T) {
	h := NewJobHandlers(&mockRunner{}, &mockStore{})

	rec := serve(h.Start, http.MethodPost, "/api/v1/jobs", "{not json")

	parseErr(t, rec, http.StatusBadRequest)
}

func TestStopJob(t *testing.T) {
	r := &mockRunner{stop: func() (runner.StopResult, error) {
		return runner.StopResult{WasRunning: true, Forced: true, PID: 99}, nil
	}}
	h := NewJobHandlers(r, &mockStore{})

	var res runner.StopResult
	parseData(t, serve(h.Stop, http.MethodPost, "/api/v1/jobs/stop", nil), http.StatusOK, &res)
	if !res.WasRunning || !res.Forced || res.PID != 99 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestJobStatus(t *testing.T) {
	r := &mockRunner{status: jobstatus.JobStatus{
		State:          jobstatus.StateRunning,
		TotalListings:  3,
		ProcessRunning: true,
		Results:        jobstatus.Results{Success: 1},
	}}
	h := NewJobHandlers(r, &mockStore{})

	var st map[string]any
	parseData(t, serve(h.Status, http.MethodGet, "/api/v1/jobs/status", nil), http.StatusOK, &st)
	if st["status"] != "running" || st["process_running"] != true || st["total_listings"] != float64(3) {
		t.Errorf("unexpected status: %v", st)
	}
}

func TestResetJob(t *testing.T) {
	h := NewJobHandlers(&mockRunner{reset: func() (jobstatus.JobStatus, error) {
		return jobstatus.Idle(time.Now()), nil
	}}, &mockStore{})

	var st map[string]any
	parseData(t, serve(h.Reset, http.MethodPost, "/api/v1/jobs/reset", nil), http.StatusOK, &st)
	if st["status"] != "idle" {
		t.Errorf("expected idle, got %v", st["status"])
	}

	h = NewJobHandlers(&mockRunner{reset: func() (jobstatus.JobStatus, error) {
		return jobstatus.JobStatus{State: jobstatus.StateRunning}, runner.ErrAlreadyRunning
	}}, &mockStore{})
	parseErr(t, serve(h.Reset, http.MethodPost, "/api/v1/jobs/reset", nil), http.StatusConflict)
}
