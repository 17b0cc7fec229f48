package models

import "time"

const (
	ScheduleStatusPending   = "pending"
	ScheduleStatusCompleted = "completed"
	ScheduleStatusFailed    = "failed"
	ScheduleStatusCancelled = "cancelled"
)

const (
	RecurrenceNone    = "none"
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
)

// Column widths shared by scheduled jobs and upload history.
const (
	ProfileNameMax  = 100
	ProfilePathMax  = 500
	LocationMax     = 200
	ErrorMessageMax = 500
)

// ScheduledJob is one entry in the due-queue. NextRunAt advances only after a
// successful run of a recurring entry; a failed run is never rescheduled.
type ScheduledJob struct {
	ID           int64     `db:"id"            json:"id"`
	ListingID    int64     `db:"listing_id"    json:"listing_id"`
	ProfileName  string    `db:"profile_name"  json:"profile_name"`
	ProfilePath  string    `db:"profile_path"  json:"profile_path"`
	Location     string    `db:"location"      json:"location"`
	ScheduledAt  time.Time `db:"scheduled_at"  json:"scheduled_at"`
	NextRunAt    time.Time `db:"next_run_at"   json:"next_run_at"`
	Status       string    `db:"status"        json:"status"`
	Recurrence   string    `db:"recurrence"    json:"recurrence"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

func ValidScheduleStatus(s string) bool {
	switch s {
	case ScheduleStatusPending, ScheduleStatusCompleted, ScheduleStatusFailed, ScheduleStatusCancelled:
		return true
	}
	return false
}

func ValidRecurrence(r string) bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

// ScheduleStats counts due-queue entries by status.
type ScheduleStats struct {
	Pending      int `json:"pending"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	Cancelled    int `json:"cancelled"`
	Total        int `json:"total"`
	Upcoming7Day int `json:"upcoming_7_days"`
}
