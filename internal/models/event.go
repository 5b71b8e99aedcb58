package models

import (
	"time"
)

// Store action phases
const (
	PhasePending   = "pending"
	PhaseFulfilled = "fulfilled"
	PhaseRejected  = "rejected"
)

// StoreEvent is emitted every time the state container reduces an action
type StoreEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Operation  string    `json:"operation"` // list, create, update, delete, test, or a local action
	Phase      string    `json:"phase,omitempty"`
	ConfigID   int64     `json:"configId,omitempty"`
	DeviceID   int64     `json:"deviceId,omitempty"`
	Generation uint64    `json:"generation,omitempty"`
	Stale      bool      `json:"stale,omitempty"` // settlement discarded by the stale guard
	Error      string    `json:"error,omitempty"`
	Configs    int       `json:"configs"` // collection size after the reduction
}

// EventFilter represents filters for querying store events
type EventFilter struct {
	Operation string    `json:"operation,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	ConfigID  int64     `json:"configId,omitempty"`
	StartTime time.Time `json:"startTime,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}
