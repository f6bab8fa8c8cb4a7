package platform

import "github.com/google/uuid"

// NewID returns a random UUID used as the primary key of fleet records.
func NewID() string {
	return uuid.New().String()
}
