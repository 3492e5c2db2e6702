// Package events provides an in-process event bus for action progress,
// price refreshes and dust sweeps.
package events

import (
	"time"
)

// EventType represents different event types
type EventType string

const (
	ActionStarted     EventType = "ACTION_STARTED"
	ActionCompleted   EventType = "ACTION_COMPLETED"
	ActionFailed      EventType = "ACTION_FAILED"
	CheckpointReached EventType = "CHECKPOINT_REACHED"

	PricesRefreshed EventType = "PRICES_REFRESHED"
	DustConverted   EventType = "DUST_CONVERTED"
	ErrorOccurred   EventType = "ERROR_OCCURRED"
)

// AllTypes lists every event type a stream can subscribe to.
var AllTypes = []EventType{
	ActionStarted,
	ActionCompleted,
	ActionFailed,
	CheckpointReached,
	PricesRefreshed,
	DustConverted,
	ErrorOccurred,
}

// Event is a single bus message.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
