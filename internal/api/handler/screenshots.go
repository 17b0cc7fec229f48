package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/internal/workflow"
)

type ScreenshotHandlers struct {
	dir string
}

func NewScreenshotHandlers(workDir string) *ScreenshotHandlers {
	return &ScreenshotHandlers{dir: workDir}
}

// List handles GET /api/v1/screenshots.
func (h *ScreenshotHandlers) List(w http.ResponseWriter, r *http.Request) {
	shots, err := workflow.ListScreenshots(h.dir)
	if err != nil {
		internalError(w, r, err, "Failed to list screenshots")
		return
	}
	response.JSON(w, shots)
}

// Get handles GET /api/v1/screenshots/{name}.
func (h *ScreenshotHandlers) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		invalidField(w, "name", "invalid screenshot name")
		return
	}
	http.ServeFile(w, r, filepath.Join(h.dir, workflow.ScreenshotDirName, name))
}

// Clear handles DELETE /api/v1/screenshots.
func (h *ScreenshotHandlers) Clear(w http.ResponseWriter, r *http.Request) {
	n, err := workflow.ClearScreenshots(h.dir)
	if err != nil {
		internalError(w, r, err, "Failed to clear screenshots")
		return
	}
	response.JSON(w, map[string]int{"deleted": n})
}
