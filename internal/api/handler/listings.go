package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

// ListingStore is the listing catalogue, including the recycle bin.
type ListingStore interface {
	ListListings(ctx context.Context) ([]*models.Listing, error)
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	CreateListing(ctx context.Context, listing *models.Listing) error
	UpdateListing(ctx context.Context, listing *models.Listing) error
	SoftDeleteListing(ctx context.Context, id int64) error
	ListDeletedListings(ctx context.Context) ([]*models.Listing, error)
	RestoreListing(ctx context.Context, id int64) error
	PermanentlyDeleteListing(ctx context.Context, id int64) error
}

type ListingHandlers struct {
	store ListingStore
	now   func() time.Time
}

func NewListingHandlers(s ListingStore) *ListingHandlers {
	return &ListingHandlers{store: s, now: time.Now}
}

// flexInt accepts 2019, 2019.0 and "2019". Spreadsheet imports send all three.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Errorf("not a number: %s", s)
	}
	*f = flexInt(int(v))
	return nil
}

type listingRequest struct {
	Year             flexInt `json:"year"`
	Make             string  `json:"make"`
	Model            string  `json:"model"`
	Mileage          flexInt `json:"mileage"`
	Price            flexInt `json:"price"`
	BodyStyle        string  `json:"body_style"`
	ExteriorColor    string  `json:"exterior_color"`
	InteriorColor    string  `json:"interior_color"`
	VehicleCondition string  `json:"vehicle_condition"`
	FuelType         string  `json:"fuel_type"`
	Transmission     string  `json:"transmission"`
	Description      string  `json:"description"`
	ImagesPath       string  `json:"images_path"`
	ImageFolder      string  `json:"image_folder"`
}

// validate returns field errors; an empty map means the request is usable.
func (req *listingRequest) validate(now time.Time) map[string]string {
	bad := map[string]string{}
	if req.Year < 1900 || int(req.Year) > now.Year()+2 {
		bad["year"] = fmt.Sprintf("year must be between 1900 and %d", now.Year()+2)
	}
	if strings.TrimSpace(req.Make) == "" {
		bad["make"] = "make is required"
	}
	if strings.TrimSpace(req.Model) == "" {
		bad["model"] = "model is required"
	}
	if req.Mileage < 0 {
		bad["mileage"] = "mileage must not be negative"
	}
	if req.Price < 0 {
		bad["price"] = "price must not be negative"
	}
	return bad
}

func (req *listingRequest) toModel() *models.Listing {
	return &models.Listing{
		Year:             int(req.Year),
		Make:             strings.TrimSpace(req.Make),
		Model:            strings.TrimSpace(req.Model),
		Mileage:          int(req.Mileage),
		Price:            int(req.Price),
		BodyStyle:        req.BodyStyle,
		ExteriorColor:    req.ExteriorColor,
		InteriorColor:    req.InteriorColor,
		VehicleCondition: req.VehicleCondition,
		FuelType:         req.FuelType,
		Transmission:     req.Transmission,
		Description:      req.Description,
		ImagesPath:       req.ImagesPath,
		ImageFolder:      req.ImageFolder,
	}
}

func (h *ListingHandlers) decode(w http.ResponseWriter, r *http.Request) (*models.Listing, bool) {
	var req listingRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return nil, false
	}
	if bad := req.validate(h.now()); len(bad) > 0 {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid listing", bad)
		return nil, false
	}
	return req.toModel(), true
}

// List handles GET /api/v1/listings.
func (h *ListingHandlers) List(w http.ResponseWriter, r *http.Request) {
	listings, err := h.store.ListListings(r.Context())
	if err != nil {
		internalError(w, r, err, "Failed to list listings")
		return
	}
	response.JSON(w, listings)
}

// Get handles GET /api/v1/listings/{id}.
func (h *ListingHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	l, err := h.store.GetListing(r.Context(), id)
	if err != nil {
		storeError(w, r, err, "listing")
		return
	}
	response.JSON(w, l)
}

// Create handles POST /api/v1/listings.
func (h *ListingHandlers) Create(w http.ResponseWriter, r *http.Request) {
	l, ok := h.decode(w, r)
	if !ok {
		return
	}
	if err := h.store.CreateListing(r.Context(), l); err != nil {
		storeError(w, r, err, "listing")
		return
	}
	response.Created(w, l)
}

// Update handles PUT /api/v1/listings/{id}.
func (h *ListingHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	l, ok := h.decode(w, r)
	if !ok {
		return
	}
	l.ID = id
	if err := h.store.UpdateListing(r.Context(), l); err != nil {
		storeError(w, r, err, "listing")
		return
	}
	response.JSON(w, l)
}

// Delete handles DELETE /api/v1/listings/{id}. The listing moves to the
// recycle bin.
func (h *ListingHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.store.SoftDeleteListing)
}

// ListDeleted handles GET /api/v1/listings/deleted.
func (h *ListingHandlers) ListDeleted(w http.ResponseWriter, r *http.Request) {
	listings, err := h.store.ListDeletedListings(r.Context())
	if err != nil {
		internalError(w, r, err, "Failed to list deleted listings")
		return
	}
	response.JSON(w, listings)
}

// Restore handles POST /api/v1/listings/{id}/restore.
func (h *ListingHandlers) Restore(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.store.RestoreListing)
}

// Purge handles DELETE /api/v1/listings/{id}/permanent.
func (h *ListingHandlers) Purge(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.store.PermanentlyDeleteListing)
}

func (h *ListingHandlers) byID(w http.ResponseWriter, r *http.Request, op func(context.Context, int64) error) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := op(r.Context(), id); err != nil {
		storeError(w, r, err, "listing")
		return
	}
	response.NoContent(w)
}

var _ json.Unmarshaler = (*flexInt)(nil)
