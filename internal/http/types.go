package http

import (
	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
	"github.com/fyrsmithlabs/assessd/internal/orchestrator"
	"github.com/fyrsmithlabs/assessd/internal/telemetry"
)

// HealthResponse is the response body for GET /health. Status is "ok" or
// "degraded".
type HealthResponse struct {
	Status    string                  `json:"status"`
	RunID     string                  `json:"run_id,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// BreakpointList is the response body for GET /api/v1/breakpoints.
type BreakpointList struct {
	Breakpoints []*breakpoint.Breakpoint `json:"breakpoints"`
	Count       int                      `json:"count"`
}

// ResolveRequest is the request body for POST /api/v1/breakpoints/:id/resolve.
//
//	{"decision": "modify", "payload": {"thresholds": {"min-score": 75}},
//	 "resolved_by": "alice", "comment": "known false positive"}
type ResolveRequest struct {
	Decision   string         `json:"decision"`
	Payload    map[string]any `json:"payload,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	Comment    string         `json:"comment,omitempty"`
}

// RunList is the response body for GET /api/v1/runs.
type RunList struct {
	Runs  []orchestrator.Summary `json:"runs"`
	Count int                    `json:"count"`
}
