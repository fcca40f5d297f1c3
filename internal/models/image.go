package models

import "time"

// SavedImage is a completed restoration kept in the user's gallery.
type SavedImage struct {
	ID           string
	UserID       string
	JobID        *string
	OriginalURL  string
	EditedURL    string
	Prompt       string
	Tags         []string
	HD           bool
	ThumbnailURL *string
	CreatedAt    time.Time
}
