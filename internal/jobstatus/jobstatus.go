// Package jobstatus owns the current-job snapshot document (bot_status.json).
// The workflow process overwrites the same file as it progresses, so reads are
// tolerant of its field spellings and of corrupt or missing content.
package jobstatus

import (
	"encoding/json"
	"time"

	"github.com/kiranshivaraju/autolister/internal/filestore"
	"github.com/kiranshivaraju/autolister/internal/workflow"
)

// Timestamp is the tolerant time type shared with the stats ledger.
type Timestamp = filestore.Timestamp

// FileName is the status document's name inside the working directory.
const FileName = "bot_status.json"

type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Active reports whether the state describes a job that has not reached a
// terminal state. The workflow process also reports transient labels such as
// "processing" and "retrying", which count as active.
func (s State) Active() bool {
	switch s {
	case StateIdle, StateCompleted, StateError, "stopped", "":
		return false
	}
	return true
}

type Results struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Details []Detail `json:"details,omitempty"`
}

// Total is the number of listing outcomes the workflow has reported.
func (r Results) Total() int {
	return r.Success + r.Failed + r.Skipped
}

// Detail is one per-listing entry reported by the workflow process.
type Detail struct {
	Profile string `json:"profile,omitempty"`
	Listing string `json:"listing,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// JobStatus is the single current-job snapshot.
type JobStatus struct {
	State               State     `json:"status"`
	Message             string    `json:"message"`
	StartedAt           Timestamp `json:"started_at"`
	UpdatedAt           Timestamp `json:"updated_at"`
	TotalProfiles       int       `json:"total_profiles"`
	TotalListings       int       `json:"total_listings"`
	CurrentProfileIndex int       `json:"current_profile_index"`
	CurrentListingIndex int       `json:"current_listing_index"`
	CurrentProfile      string    `json:"current_profile"`
	CurrentListing      string    `json:"current_listing"`
	Progress            int       `json:"progress"`
	Results             Results   `json:"results"`
	ProcessRunning      bool      `json:"process_running"`
	RunID               string    `json:"run_id,omitempty"`
	ScheduledJobID      string    `json:"scheduled_job_id,omitempty"`
}

// Idle returns the reset document.
func Idle(now time.Time) JobStatus {
	return JobStatus{
		State:     StateIdle,
		Message:   "Ready",
		UpdatedAt: filestore.NewTimestamp(now),
	}
}

// UnmarshalJSON accepts the workflow process's short index names
// (current_profile_idx, current_listing_idx) alongside the canonical ones.
// A document without progress gets it derived from its one-based indices.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	type plain JobStatus
	aux := struct {
		*plain
		Progress   *int `json:"progress"`
		ProfileIdx *int `json:"current_profile_idx"`
		ListingIdx *int `json:"current_listing_idx"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ProfileIdx != nil && s.CurrentProfileIndex == 0 {
		s.CurrentProfileIndex = *aux.ProfileIdx
	}
	if aux.ListingIdx != nil && s.CurrentListingIndex == 0 {
		s.CurrentListingIndex = *aux.ListingIdx
	}
	if aux.Progress != nil {
		s.Progress = min(max(*aux.Progress, 0), 100)
	} else {
		s.Progress = workflow.ProgressPercent(s.CurrentProfileIndex-1, s.TotalProfiles,
			s.CurrentListingIndex-1, s.TotalListings)
	}
	return nil
}
