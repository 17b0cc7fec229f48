package models

import "time"

const (
	UploadStatusPending    = "pending"
	UploadStatusInProgress = "in_progress"
	UploadStatusSuccess    = "success"
	UploadStatusFailed     = "failed"
	UploadStatusCompleted  = "completed"
)

const (
	MarketplaceURLMax = 500
	UploadStatusMax   = 20
)

// VehicleInfo is the listing snapshot stored with an upload attempt.
type VehicleInfo struct {
	Year    any `json:"year,omitempty"`
	Make    any `json:"make,omitempty"`
	Model   any `json:"model,omitempty"`
	Price   any `json:"price,omitempty"`
	Mileage any `json:"mileage,omitempty"`
}

// UploadRecord is one attempt to publish a listing from a profile.
type UploadRecord struct {
	ID             int64       `db:"id"               json:"id"`
	ProfileName    string      `db:"profile_name"     json:"profile_name"`
	ProfileFolder  string      `db:"profile_folder"   json:"profile_folder"`
	ListingID      *int64      `db:"listing_id"       json:"listing_id,omitempty"`
	VehicleInfo    VehicleInfo `db:"vehicle_info"     json:"vehicle_info"`
	Status         string      `db:"status"           json:"status"`
	ErrorMessage   *string     `db:"error_message"    json:"error_message,omitempty"`
	Location       string      `db:"location"         json:"location"`
	MarketplaceURL *string     `db:"marketplace_url"  json:"marketplace_url,omitempty"`
	AttemptNumber  int         `db:"attempt_number"   json:"attempt_number"`
	ScheduledJobID *int64      `db:"scheduled_job_id" json:"scheduled_job_id,omitempty"`
	UploadedAt     time.Time   `db:"upload_datetime"  json:"upload_datetime"`
	UpdatedAt      time.Time   `db:"updated_at"       json:"updated_at"`
}

// Clamp truncates text fields to their column widths.
func (u *UploadRecord) Clamp() {
	u.ProfileName = Truncate(u.ProfileName, ProfileNameMax)
	u.ProfileFolder = Truncate(u.ProfileFolder, ProfileNameMax)
	u.Location = Truncate(u.Location, LocationMax)
	if u.ErrorMessage != nil {
		msg := Truncate(*u.ErrorMessage, ErrorMessageMax)
		u.ErrorMessage = &msg
	}
	if u.MarketplaceURL != nil {
		url := Truncate(*u.MarketplaceURL, MarketplaceURLMax)
		u.MarketplaceURL = &url
	}
}

// UploadStatusCounts is the per-status breakdown returned with history pages.
type UploadStatusCounts struct {
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Total      int `json:"total"`
}

// Add counts n records of status. Statuses outside the breakdown still count
// toward Total.
func (c *UploadStatusCounts) Add(status string, n int) {
	c.Total += n
	switch status {
	case UploadStatusSuccess:
		c.Success += n
	case UploadStatusFailed:
		c.Failed += n
	case UploadStatusPending:
		c.Pending += n
	case UploadStatusInProgress:
		c.InProgress += n
	}
}

// UploadStats aggregates uploads over a trailing window of days.
type UploadStats struct {
	TotalUploads int                `json:"total_uploads"`
	ByStatus     UploadStatusCounts `json:"by_status"`
	ByProfile    map[string]int     `json:"by_profile"`
	SuccessRate  float64            `json:"success_rate"`
	PeriodDays   int                `json:"period_days"`
}
