// Package incidentapi exposes the remediation pipeline over HTTP.
package incidentapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sentinel/internal/authmw"
	"github.com/linnemanlabs/sentinel/internal/incident"
	"github.com/linnemanlabs/sentinel/internal/pattern"
	"github.com/linnemanlabs/sentinel/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// Service defines the pipeline operations the API needs.
type Service interface {
	Ingest(ctx context.Context, env incident.Envelope) (*incident.Record, error)
	Get(id string) (*incident.Record, error)
	List() []*incident.Record
	Approve(ctx context.Context, id string, a pipeline.Approval) (string, error)
	Retry(ctx context.Context, id, stage string) (*incident.Record, error)
	Patterns(ctx context.Context, limit int) ([]pattern.Record, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      Service
	token    string
	validate *validator.Validate
}

// New creates a new API handler. Mutating routes require token as a bearer
// credential unless it is empty.
func New(logger log.Logger, svc Service, token string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		token:    token,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/incidents", a.handleList)
		r.Get("/incidents/{id}", a.handleGet)
		r.Get("/patterns", a.handlePatterns)

		r.Group(func(r chi.Router) {
			r.Use(authmw.BearerToken(a.token))
			r.Post("/incidents", a.handleIngest)
			r.Post("/incidents/synthetic/5xx", a.handleSynthetic)
			r.Post("/incidents/{id}/approve", a.handleApprove)
			r.Post("/incidents/{id}/retry", a.handleRetry)
		})
	})
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// optional is set.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeServiceError maps pipeline errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var verr *incident.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid incident", Fields: verr.Fields})
	case errors.Is(err, incident.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, incident.ErrInvalidDecision), errors.Is(err, incident.ErrInvalidStage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, incident.ErrAlreadyExists),
		errors.Is(err, incident.ErrNotAwaitingApproval),
		errors.Is(err, incident.ErrRetryNotAllowed),
		errors.Is(err, incident.ErrIncidentBusy),
		errors.Is(err, incident.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
