package incidentapi

import (
	"github.com/linnemanlabs/sentinel/internal/incident"
	"github.com/linnemanlabs/sentinel/internal/pattern"
)

// IngestResponse is returned by POST /api/v1/incidents.
type IngestResponse struct {
	IncidentID string          `json:"incident_id"`
	Status     incident.Status `json:"status"`
}

// ListResponse is returned by GET /api/v1/incidents.
type ListResponse struct {
	Incidents []*incident.Record `json:"incidents"`
}

// ApproveRequest is the body of POST /api/v1/incidents/{id}/approve.
type ApproveRequest struct {
	Decision   string `json:"decision" validate:"required,oneof=approve reject"`
	ApprovedBy string `json:"approved_by,omitempty" validate:"omitempty,max=256"`
	Notes      string `json:"notes,omitempty" validate:"omitempty,max=4096"`
}

// ApproveResponse carries the label of the recorded transition.
type ApproveResponse struct {
	StateTransition string `json:"state_transition"`
}

// RetryRequest is the optional body of POST /api/v1/incidents/{id}/retry.
// An empty stage restarts from triage.
type RetryRequest struct {
	Stage string `json:"stage,omitempty"`
}

// RetryResponse reports where the rerun ended.
type RetryResponse struct {
	IncidentID string          `json:"incident_id"`
	Status     incident.Status `json:"status"`
	Stage      incident.Stage  `json:"stage"`
}

// SyntheticRequest overrides the defaults of a synthetic 5xx incident.
// Zero values fall back to the checkout-api demo scenario.
type SyntheticRequest struct {
	IncidentID   string  `json:"incident_id,omitempty"`
	Service      string  `json:"service,omitempty"`
	Env          string  `json:"env,omitempty"`
	ErrorRate    float64 `json:"error_rate,omitempty" validate:"gte=0,lte=1"`
	BaselineRate float64 `json:"baseline_5xx_rate,omitempty" validate:"gte=0,lte=1"`
	Endpoint     string  `json:"endpoint,omitempty"`
	P95LatencyMs float64 `json:"p95_latency_ms,omitempty" validate:"gte=0"`
	RunbookHint  string  `json:"runbook_hint,omitempty"`
}

// SyntheticResponse reports the outcome of a synthetic run.
type SyntheticResponse struct {
	IncidentID string          `json:"incident_id"`
	Status     incident.Status `json:"status"`
	PRURL      string          `json:"pr_url,omitempty"`
}

// PatternsResponse is returned by GET /api/v1/patterns.
type PatternsResponse struct {
	Patterns []pattern.Record `json:"patterns"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
