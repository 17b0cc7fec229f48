package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/autolister/internal/api/middleware"
	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	StartJob  http.HandlerFunc
	StopJob   http.HandlerFunc
	JobStatus http.HandlerFunc
	ResetJob  http.HandlerFunc

	GetStats    http.HandlerFunc
	ResetStats  http.HandlerFunc
	ActivityLog http.HandlerFunc

	GetRunConfig    http.HandlerFunc
	UpdateRunConfig http.HandlerFunc

	ListScreenshots  http.HandlerFunc
	GetScreenshot    http.HandlerFunc
	ClearScreenshots http.HandlerFunc

	ListListings   http.HandlerFunc
	GetListing     http.HandlerFunc
	CreateListing  http.HandlerFunc
	UpdateListing  http.HandlerFunc
	DeleteListing  http.HandlerFunc
	ListDeleted    http.HandlerFunc
	RestoreListing http.HandlerFunc
	PurgeListing   http.HandlerFunc

	ListProfiles       http.HandlerFunc
	SetProfileLocation http.HandlerFunc

	ListSchedules  http.HandlerFunc
	ScheduleStats  http.HandlerFunc
	GetSchedule    http.HandlerFunc
	CreateSchedule http.HandlerFunc
	UpdateSchedule http.HandlerFunc
	DeleteSchedule http.HandlerFunc

	StartScheduler  http.HandlerFunc
	StopScheduler   http.HandlerFunc
	SchedulerStatus http.HandlerFunc

	ListHistory   http.HandlerFunc
	ExportHistory http.HandlerFunc
	HistoryStats  http.HandlerFunc
	TrackUpload   http.HandlerFunc
	UpdateUpload  http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRead))

			r.Get("/api/v1/jobs/status", orNotImplemented(deps.JobStatus))

			r.Get("/api/v1/stats", orNotImplemented(deps.GetStats))
			r.Get("/api/v1/stats/activity", orNotImplemented(deps.ActivityLog))

			r.Get("/api/v1/config", orNotImplemented(deps.GetRunConfig))

			r.Get("/api/v1/screenshots", orNotImplemented(deps.ListScreenshots))
			r.Get("/api/v1/screenshots/{name}", orNotImplemented(deps.GetScreenshot))

			r.Get("/api/v1/listings", orNotImplemented(deps.ListListings))
			r.Get("/api/v1/listings/deleted", orNotImplemented(deps.ListDeleted))
			r.Get("/api/v1/listings/{id}", orNotImplemented(deps.GetListing))

			r.Get("/api/v1/profiles", orNotImplemented(deps.ListProfiles))

			r.Get("/api/v1/schedules", orNotImplemented(deps.ListSchedules))
			r.Get("/api/v1/schedules/stats", orNotImplemented(deps.ScheduleStats))
			r.Get("/api/v1/schedules/{id}", orNotImplemented(deps.GetSchedule))

			r.Get("/api/v1/scheduler/status", orNotImplemented(deps.SchedulerStatus))

			r.Get("/api/v1/history", orNotImplemented(deps.ListHistory))
			r.Get("/api/v1/history/export", orNotImplemented(deps.ExportHistory))
			r.Get("/api/v1/history/stats", orNotImplemented(deps.HistoryStats))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeWrite))

			r.Post("/api/v1/jobs", orNotImplemented(deps.StartJob))
			r.Post("/api/v1/jobs/stop", orNotImplemented(deps.StopJob))
			r.Post("/api/v1/jobs/reset", orNotImplemented(deps.ResetJob))

			r.Post("/api/v1/stats/reset", orNotImplemented(deps.ResetStats))

			r.Put("/api/v1/config", orNotImplemented(deps.UpdateRunConfig))

			r.Delete("/api/v1/screenshots", orNotImplemented(deps.ClearScreenshots))

			r.Post("/api/v1/listings", orNotImplemented(deps.CreateListing))
			r.Put("/api/v1/listings/{id}", orNotImplemented(deps.UpdateListing))
			r.Delete("/api/v1/listings/{id}", orNotImplemented(deps.DeleteListing))
			r.Post("/api/v1/listings/{id}/restore", orNotImplemented(deps.RestoreListing))
			r.Delete("/api/v1/listings/{id}/permanent", orNotImplemented(deps.PurgeListing))

			r.Put("/api/v1/profiles/{folder}/location", orNotImplemented(deps.SetProfileLocation))

			r.Post("/api/v1/schedules", orNotImplemented(deps.CreateSchedule))
			r.Patch("/api/v1/schedules/{id}", orNotImplemented(deps.UpdateSchedule))
			r.Delete("/api/v1/schedules/{id}", orNotImplemented(deps.DeleteSchedule))

			r.Post("/api/v1/scheduler/start", orNotImplemented(deps.StartScheduler))
			r.Post("/api/v1/scheduler/stop", orNotImplemented(deps.StopScheduler))

			r.Post("/api/v1/history", orNotImplemented(deps.TrackUpload))
			r.Patch("/api/v1/history/{id}", orNotImplemented(deps.UpdateUpload))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
