package api

import (
	"github.com/casewatch/casewatch/pkg/types"
	"github.com/casewatch/casewatch/server/internal/store"
)

// EventsRequest is the body of POST /api/v1/events.
type EventsRequest struct {
	Source  string              `json:"source,omitempty"`
	BatchID string              `json:"batch_id,omitempty"`
	Events  []types.ChangeEvent `json:"events"`
}

// EventsResponse is the payload of POST /api/v1/events.
type EventsResponse struct {
	Accepted  int `json:"accepted"`
	NewlySeen int `json:"newly_seen"`
	Ignored   int `json:"ignored"`
}

// FlushResponse is the payload of POST /api/v1/ingest-complete.
type FlushResponse struct {
	Flushed int `json:"flushed"`
}

// PendingResponse is the payload of GET /api/v1/pending.
type PendingResponse struct {
	Tree    []types.DAOEventKey `json:"tree"`
	Results []types.DAOEventKey `json:"results"`
}

// HealthResponse is the payload of GET /api/v1/health.
type HealthResponse struct {
	Status         string `json:"status"`
	TreeTracked    int    `json:"tree_tracked"`
	TreeArmed      bool   `json:"tree_armed"`
	ResultsPending int    `json:"results_pending"`
	ResultsArmed   bool   `json:"results_armed"`
	Clients        int    `json:"clients"`
	Producers      int    `json:"producers"`
}

// ProducersResponse is the payload of GET /api/v1/producers.
type ProducersResponse struct {
	Producers []store.Producer `json:"producers"`
}

type errorResponse struct {
	Error string `json:"error"`
}
