package models

import (
	"encoding/json"
	"time"
)

// QueuedAction is a unit of pending work awaiting replay against the fleet API.
// A row exists only while the action is pending; terminal actions are removed
// (synced) or moved to the dead-letter collection.
type QueuedAction struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	LastError  *string         `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DeadLetterAction is a queued action that reached a terminal failure:
// either its retries were exhausted or no handler was registered for its
// type. Kept for operator inspection and manual replay.
type DeadLetterAction struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	Reason     string          `json:"reason"` // retries_exhausted, handler_missing
	LastError  *string         `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FailedAt   time.Time       `json:"failed_at"`
}
