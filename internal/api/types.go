package api

import (
	"github.com/obsidianstack/sortline/internal/conveyor"
	"github.com/obsidianstack/sortline/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State       string          `json:"state"` // "ok" | "degraded"
	Conveyor    conveyor.Status `json:"conveyor"`
	Phase       conveyor.Phase  `json:"phase"`
	EventCount  int             `json:"event_count"`
	AlertCount  int             `json:"alert_count"`
	StreamError string          `json:"stream_error,omitempty"`
}

// FilterRequest is the body of PUT /api/v1/filter.
type FilterRequest struct {
	Filter string `json:"filter"`
}

// FilterResponse is the payload for GET and PUT /api/v1/filter.
type FilterResponse struct {
	Filter string `json:"filter"`
}

// EventsResponse is the payload for GET /api/v1/events.
type EventsResponse struct {
	Events []types.SortEvent `json:"events"`
	Count  int               `json:"count"`
}

// ClearResponse is the payload for DELETE /api/v1/events.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// ConveyorResponse is the payload for the /api/v1/conveyor/* actions.
type ConveyorResponse struct {
	Active bool            `json:"active"`
	Status conveyor.Status `json:"status"`
}

// FaultResponse is the payload for POST /api/v1/conveyor/fault.
type FaultResponse struct {
	Event  types.SortEvent `json:"event"`
	Status conveyor.Status `json:"status"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
