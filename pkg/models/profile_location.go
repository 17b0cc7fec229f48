package models

import "time"

// ProfileLocation is the marketplace location a browser profile posts from,
// keyed by the profile's folder name.
type ProfileLocation struct {
	FolderName string    `db:"folder_name" json:"folder_name"`
	Location   string    `db:"location"    json:"location"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}
