package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/internal/workflow"
)

// RunConfigHandlers reads and patches the workflow's bot_config.json.
type RunConfigHandlers struct {
	dir string
	mu  sync.Mutex
}

func NewRunConfigHandlers(workDir string) *RunConfigHandlers {
	return &RunConfigHandlers{dir: workDir}
}

// Get handles GET /api/v1/config.
func (h *RunConfigHandlers) Get(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	cfg := workflow.LoadRunConfig(h.dir)
	h.mu.Unlock()
	response.JSON(w, cfg)
}

// Update handles PUT /api/v1/config. The body is a partial document; absent
// keys keep their saved values.
func (h *RunConfigHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		invalidBody(w)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cfg := workflow.LoadRunConfig(h.dir)
	if err := cfg.Apply(patch); err != nil {
		var cerr *workflow.ConfigError
		if errors.As(err, &cerr) {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid configuration", cerr.Fields)
			return
		}
		internalError(w, r, err, "Failed to apply configuration")
		return
	}
	if err := workflow.SaveRunConfig(h.dir, cfg); err != nil {
		internalError(w, r, err, "Failed to save configuration")
		return
	}
	slog.Info("run config updated", "max_groups", cfg.MaxGroups, "headless", cfg.Headless)
	response.JSON(w, cfg)
}
