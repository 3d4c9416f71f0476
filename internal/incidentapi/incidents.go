package incidentapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sentinel/internal/incident"
	"github.com/linnemanlabs/sentinel/internal/pattern"
	"github.com/linnemanlabs/sentinel/internal/pipeline"
)

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var env incident.Envelope
	if err := decode(w, r, &env, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	rec, err := a.svc.Ingest(r.Context(), env)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to ingest incident")
		return
	}
	annotate(r, rec)

	writeJSON(w, http.StatusOK, IngestResponse{IncidentID: rec.Incident.ID, Status: rec.Status})
}

func (a *API) handleList(w http.ResponseWriter, _ *http.Request) {
	recs := a.svc.List()
	if recs == nil {
		recs = []*incident.Record{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Incidents: recs})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("sentinel.incident.id", id))

	rec, err := a.svc.Get(id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to get incident")
		return
	}
	annotate(r, rec)

	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("sentinel.incident.id", id))

	var req ApproveRequest
	if err := decode(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, incident.ErrInvalidDecision.Error())
		return
	}

	label, err := a.svc.Approve(r.Context(), id, pipeline.Approval{
		By:       req.ApprovedBy,
		Decision: incident.Decision(req.Decision),
		Notes:    req.Notes,
	})
	if err != nil {
		a.writeServiceError(w, r, err, "failed to record approval")
		return
	}

	writeJSON(w, http.StatusOK, ApproveResponse{StateTransition: label})
}

func (a *API) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("sentinel.incident.id", id))

	var req RetryRequest
	if err := decode(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Stage == "" {
		req.Stage = r.URL.Query().Get("stage")
	}

	rec, err := a.svc.Retry(r.Context(), id, req.Stage)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to retry incident")
		return
	}
	annotate(r, rec)

	writeJSON(w, http.StatusOK, RetryResponse{IncidentID: rec.Incident.ID, Status: rec.Status, Stage: rec.Stage})
}

func (a *API) handlePatterns(w http.ResponseWriter, r *http.Request) {
	limit := pattern.DefaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := a.svc.Patterns(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list patterns")
		return
	}
	if recs == nil {
		recs = []pattern.Record{}
	}
	writeJSON(w, http.StatusOK, PatternsResponse{Patterns: recs})
}

func annotate(r *http.Request, rec *incident.Record) {
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("sentinel.incident.id", rec.Incident.ID),
		attribute.String("sentinel.incident.status", string(rec.Status)),
		attribute.String("sentinel.incident.fingerprint", rec.Fingerprint),
	)
}
