// Package workflow describes the contract with the external workflow process:
// the input files it reads from the working directory, its run configuration,
// and the screenshots it leaves behind.
package workflow

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/autolister/internal/filestore"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

const (
	ProfilesFileName = "selected_profiles.txt"
	ListingsFileName = "selected_listings.csv"
)

// ListingColumns is the header row of the listings file, in order.
var ListingColumns = []string{
	"Year", "Make", "Model", "Mileage", "Price", "Body Style", "Exterior Color",
	"Interior Color", "Vehicle Condition", "Fuel Type", "Transmission",
	"Description", "Images Path",
}

// ProfileRef is one browser profile to post from.
type ProfileRef struct {
	Path        string `json:"path"`
	Location    string `json:"location"`
	DisplayName string `json:"user_name"`
	FolderName  string `json:"folder_name,omitempty"`
}

// Name is the label used in logs and the activity log.
func (p ProfileRef) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.FolderName != "" {
		return p.FolderName
	}
	return filepath.Base(p.Path)
}

// ListingRef is one row of the listings file.
type ListingRef struct {
	Year             string `json:"year"`
	Make             string `json:"make"`
	Model            string `json:"model"`
	Mileage          string `json:"mileage"`
	Price            string `json:"price"`
	BodyStyle        string `json:"body_style"`
	ExteriorColor    string `json:"exterior_color"`
	InteriorColor    string `json:"interior_color"`
	VehicleCondition string `json:"vehicle_condition"`
	FuelType         string `json:"fuel_type"`
	Transmission     string `json:"transmission"`
	Description      string `json:"description"`
	ImagesPath       string `json:"images_path"`
}

// Label is the "Year Make Model" descriptor the workflow process reports.
func (l ListingRef) Label() string {
	return strings.Join([]string{l.Year, l.Make, l.Model}, " ")
}

func (l ListingRef) row() []string {
	return []string{
		l.Year, l.Make, l.Model, l.Mileage, l.Price, l.BodyStyle, l.ExteriorColor,
		l.InteriorColor, l.VehicleCondition, l.FuelType, l.Transmission,
		l.Description, l.ImagesPath,
	}
}

// ListingRefFromModel converts a stored listing into a listings-file row.
func ListingRefFromModel(m *models.Listing) ListingRef {
	return ListingRef{
		Year:             strconv.Itoa(m.Year),
		Make:             m.Make,
		Model:            m.Model,
		Mileage:          strconv.Itoa(m.Mileage),
		Price:            strconv.Itoa(m.Price),
		BodyStyle:        m.BodyStyle,
		ExteriorColor:    m.ExteriorColor,
		InteriorColor:    m.InteriorColor,
		VehicleCondition: m.VehicleCondition,
		FuelType:         m.FuelType,
		Transmission:     m.Transmission,
		Description:      m.Description,
		ImagesPath:       m.ImagesPath,
	}
}

// WriteInputs writes the profile list and listings file the workflow process
// reads on startup.
func WriteInputs(dir string, profiles []ProfileRef, listings []ListingRef) error {
	var pb strings.Builder
	for _, p := range profiles {
		fmt.Fprintf(&pb, "%s|%s|%s\n", p.Path, p.Location, p.DisplayName)
	}
	if err := filestore.WriteBytes(filepath.Join(dir, ProfilesFileName), []byte(pb.String())); err != nil {
		return fmt.Errorf("write profiles file: %w", err)
	}

	var lb bytes.Buffer
	w := csv.NewWriter(&lb)
	if err := w.Write(ListingColumns); err != nil {
		return fmt.Errorf("encode listings header: %w", err)
	}
	for _, l := range listings {
		if err := w.Write(l.row()); err != nil {
			return fmt.Errorf("encode listing %q: %w", l.Label(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode listings: %w", err)
	}
	if err := filestore.WriteBytes(filepath.Join(dir, ListingsFileName), lb.Bytes()); err != nil {
		return fmt.Errorf("write listings file: %w", err)
	}
	return nil
}

// RemoveInputs deletes the input files once a run has finished.
func RemoveInputs(dir string) error {
	var errs []error
	for _, name := range []string{ProfilesFileName, ListingsFileName} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ProgressPercent is the share of (profile, listing) pairs completed when the
// workflow is at zero-based listingIdx within zero-based profileIdx, clamped
// to [0,100].
func ProgressPercent(profileIdx, totalProfiles, listingIdx, totalListings int) int {
	if totalProfiles <= 0 || totalListings <= 0 {
		return 0
	}
	done := profileIdx*totalListings + listingIdx
	return min(max(done*100/(totalProfiles*totalListings), 0), 100)
}
