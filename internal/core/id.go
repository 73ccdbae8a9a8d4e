package core

import "github.com/google/uuid"

// NewID returns a random UUID string for tasks and runs.
func NewID() string {
	return uuid.NewString()
}
