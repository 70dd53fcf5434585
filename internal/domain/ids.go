package domain

import "github.com/google/uuid"

// NewCompletionID mints a time-ordered id for a new AgentCompletion.
// UUID v7 keeps completion ids roughly sortable by creation time, which
// the storage layer relies on for its default listing order.
func NewCompletionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
