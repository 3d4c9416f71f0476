package incidentapi

import (
	"net/http"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// Demo scenario used when a synthetic request leaves fields unset.
const (
	syntheticService      = "checkout-api"
	syntheticEnv          = "prod"
	syntheticSignal       = "http_5xx_rate"
	syntheticErrorRate    = 0.21
	syntheticBaselineRate = 0.01
	syntheticEndpoint     = "/checkout"
	syntheticP95Ms        = 1480.0
	syntheticRunbookHint  = "rollback_recent_release_or_adjust_timeout"
)

func (a *API) handleSynthetic(w http.ResponseWriter, r *http.Request) {
	var req SyntheticRequest
	if err := decode(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid synthetic parameters")
		return
	}

	rec, err := a.svc.Ingest(r.Context(), syntheticEnvelope(req))
	if err != nil {
		a.writeServiceError(w, r, err, "failed to run synthetic incident")
		return
	}
	annotate(r, rec)

	writeJSON(w, http.StatusOK, SyntheticResponse{
		IncidentID: rec.Incident.ID,
		Status:     rec.Status,
		PRURL:      rec.LinkedArtifacts["pr_url"],
	})
}

func syntheticEnvelope(req SyntheticRequest) incident.Envelope {
	return incident.Envelope{
		ID:         req.IncidentID,
		Service:    or(req.Service, syntheticService),
		Env:        or(req.Env, syntheticEnv),
		SignalType: syntheticSignal,
		SignalPayload: map[string]any{
			"error_rate":        orFloat(req.ErrorRate, syntheticErrorRate),
			"baseline_5xx_rate": orFloat(req.BaselineRate, syntheticBaselineRate),
			"endpoint":          or(req.Endpoint, syntheticEndpoint),
			"p95_latency_ms":    orFloat(req.P95LatencyMs, syntheticP95Ms),
		},
		RunbookHint: or(req.RunbookHint, syntheticRunbookHint),
	}
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
