package models

import "time"

// Column widths for listing text fields. Longer input is truncated on write.
const (
	ListingMakeMax        = 100
	ListingShortFieldMax  = 50
	ListingDescriptionMax = 5000
	ListingImagesPathMax  = 500
	ListingImageFolderMax = 100
)

// Listing is one vehicle for sale. A non-nil DeletedAt marks a soft-deleted
// listing that can still be restored.
type Listing struct {
	ID               int64      `db:"id"                json:"id"`
	Year             int        `db:"year"              json:"year"`
	Make             string     `db:"make"              json:"make"`
	Model            string     `db:"model"             json:"model"`
	Mileage          int        `db:"mileage"           json:"mileage"`
	Price            int        `db:"price"             json:"price"`
	BodyStyle        string     `db:"body_style"        json:"body_style"`
	ExteriorColor    string     `db:"exterior_color"    json:"exterior_color"`
	InteriorColor    string     `db:"interior_color"    json:"interior_color"`
	VehicleCondition string     `db:"vehicle_condition" json:"vehicle_condition"`
	FuelType         string     `db:"fuel_type"         json:"fuel_type"`
	Transmission     string     `db:"transmission"      json:"transmission"`
	Description      string     `db:"description"       json:"description"`
	ImagesPath       string     `db:"images_path"       json:"images_path"`
	ImageFolder      string     `db:"image_folder"      json:"image_folder"`
	DeletedAt        *time.Time `db:"deleted_at"        json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"        json:"updated_at"`
}

// Clamp truncates text fields to their column widths.
func (l *Listing) Clamp() {
	l.Make = Truncate(l.Make, ListingMakeMax)
	l.Model = Truncate(l.Model, ListingMakeMax)
	l.BodyStyle = Truncate(l.BodyStyle, ListingShortFieldMax)
	l.ExteriorColor = Truncate(l.ExteriorColor, ListingShortFieldMax)
	l.InteriorColor = Truncate(l.InteriorColor, ListingShortFieldMax)
	l.VehicleCondition = Truncate(l.VehicleCondition, ListingShortFieldMax)
	l.FuelType = Truncate(l.FuelType, ListingShortFieldMax)
	l.Transmission = Truncate(l.Transmission, ListingShortFieldMax)
	l.Description = Truncate(l.Description, ListingDescriptionMax)
	l.ImagesPath = Truncate(l.ImagesPath, ListingImagesPathMax)
	l.ImageFolder = Truncate(l.ImageFolder, ListingImageFolderMax)
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
