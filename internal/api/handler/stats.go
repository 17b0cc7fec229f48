package handler

import (
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/internal/ledger"
)

const maxActivityLines = 1000

// StatsLedger is the run counter and activity log.
type StatsLedger interface {
	GetStats() ledger.Stats
	Reset() (ledger.Stats, error)
	ActivityLog(maxLines int) (string, error)
}

type StatsHandlers struct {
	ledger StatsLedger
}

func NewStatsHandlers(l StatsLedger) *StatsHandlers {
	return &StatsHandlers{ledger: l}
}

// Get handles GET /api/v1/stats.
func (h *StatsHandlers) Get(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, h.ledger.GetStats())
}

// Reset handles POST /api/v1/stats/reset.
func (h *StatsHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Reset()
	if err != nil {
		internalError(w, r, err, "Failed to reset stats")
		return
	}
	response.JSON(w, stats)
}

// Activity handles GET /api/v1/stats/activity?lines=N.
func (h *StatsHandlers) Activity(w http.ResponseWriter, r *http.Request) {
	lines := ledger.DefaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxActivityLines {
			invalidField(w, "lines", "lines must be between 1 and "+strconv.Itoa(maxActivityLines))
			return
		}
		lines = n
	}

	text, err := h.ledger.ActivityLog(lines)
	if err != nil {
		internalError(w, r, err, "Failed to read activity log")
		return
	}
	response.JSON(w, map[string]any{"lines": lines, "log": text})
}
