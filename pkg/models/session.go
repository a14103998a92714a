package models

import "time"

// SessionStatus is the lifecycle status of an alert session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusPartial    SessionStatus = "partial"
	SessionStatusFailed     SessionStatus = "failed"
)

// IsTerminal reports whether the status is a terminal one.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusPartial, SessionStatusFailed:
		return true
	default:
		return false
	}
}

// ExecutionStatus is the lifecycle status of a stage execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusActive    ExecutionStatus = "active"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// SessionFilters contains filtering options for listing sessions.
type SessionFilters struct {
	Status        string     `json:"status,omitempty"`
	AlertType     string     `json:"alert_type,omitempty"`
	ChainID       string     `json:"chain_id,omitempty"`
	StartedAfter  *time.Time `json:"started_after,omitempty"`
	StartedBefore *time.Time `json:"started_before,omitempty"`

	// Pagination (1-based page; size capped by the store)
	Page int `json:"page,omitempty"`
	Size int `json:"size,omitempty"`
}
