package storage

import (
	"time"

	"github.com/google/uuid"
)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// nowUTC returns the current time formatted the way all timestamp columns
// written by the application store it.
func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
