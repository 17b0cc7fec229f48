package handler

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

// ProfileLocations stores the marketplace location per profile folder.
type ProfileLocations interface {
	ListProfileLocations(ctx context.Context) (map[string]string, error)
	UpsertProfileLocation(ctx context.Context, folderName, location string) error
}

type ProfileHandlers struct {
	dir       string
	locations ProfileLocations
}

// NewProfileHandlers lists browser profiles as the subdirectories of dir.
func NewProfileHandlers(dir string, locations ProfileLocations) *ProfileHandlers {
	return &ProfileHandlers{dir: dir, locations: locations}
}

type profileView struct {
	FolderName string `json:"folder_name"`
	Path       string `json:"path"`
	Location   string `json:"location"`
}

// List handles GET /api/v1/profiles.
func (h *ProfileHandlers) List(w http.ResponseWriter, r *http.Request) {
	saved, err := h.locations.ListProfileLocations(r.Context())
	if err != nil {
		internalError(w, r, err, "Failed to load profile locations")
		return
	}

	entries, err := os.ReadDir(h.dir)
	if err != nil && !os.IsNotExist(err) {
		internalError(w, r, err, "Failed to read profiles directory")
		return
	}
	if os.IsNotExist(err) {
		slog.Warn("profiles directory missing", "dir", h.dir)
	}

	profiles := make([]profileView, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path, err := filepath.Abs(filepath.Join(h.dir, e.Name()))
		if err != nil {
			path = filepath.Join(h.dir, e.Name())
		}
		profiles = append(profiles, profileView{
			FolderName: e.Name(),
			Path:       path,
			Location:   saved[e.Name()],
		})
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].FolderName < profiles[j].FolderName })
	response.JSON(w, profiles)
}

// SetLocation handles PUT /api/v1/profiles/{folder}/location.
func (h *ProfileHandlers) SetLocation(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	if folder == "" || folder != filepath.Base(folder) || len(folder) > models.ProfileNameMax {
		invalidField(w, "folder", "invalid profile folder")
		return
	}

	var req struct {
		Location string `json:"location"`
	}
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	req.Location = strings.TrimSpace(req.Location)
	if req.Location == "" {
		invalidField(w, "location", "location is required")
		return
	}
	req.Location = models.Truncate(req.Location, models.LocationMax)

	if err := h.locations.UpsertProfileLocation(r.Context(), folder, req.Location); err != nil {
		storeError(w, r, err, "profile location")
		return
	}
	slog.Info("profile location updated", "folder", folder, "location", req.Location)
	response.JSON(w, profileView{
		FolderName: folder,
		Path:       filepath.Join(h.dir, folder),
		Location:   req.Location,
	})
}
