package ids

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// New returns a random UUID, the primary key format used by every table.
func New() string {
	return uuid.NewString()
}

// Sortable returns a k-sortable identifier for stream payloads and log correlation.
func Sortable() string {
	return ksuid.New().String()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
