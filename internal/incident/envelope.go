package incident

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultEndpoint is used in fingerprints when the payload names no endpoint.
const DefaultEndpoint = "global"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Envelope is the caller-supplied description of an incident. It is created
// once at ingestion and never mutated.
type Envelope struct {
	ID            string         `json:"incident_id" validate:"required"`
	Service       string         `json:"service" validate:"required"`
	Env           string         `json:"env" validate:"required"`
	SignalType    string         `json:"signal_type" validate:"required"`
	SignalPayload map[string]any `json:"signal_payload" validate:"required"`
	StartTime     time.Time      `json:"start_time"`
	RunbookHint   string         `json:"runbook_hint,omitempty"`
}

// Validate checks the envelope for missing required fields.
func (e *Envelope) Validate() error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string]string{"envelope": err.Error()}}
	}
	ve := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		ve.Fields[jsonName(fe.StructField())] = fe.Tag()
	}
	return ve
}

// Fingerprint identifies "the same kind of incident" for dedup and pattern
// lookup: service, env, signal type and endpoint joined by colons.
func (e *Envelope) Fingerprint() string {
	endpoint := e.Endpoint()
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return strings.Join([]string{e.Service, e.Env, e.SignalType, endpoint}, ":")
}

// Endpoint returns the payload's endpoint tag, or "" when absent.
func (e *Envelope) Endpoint() string {
	s, _ := e.SignalPayload["endpoint"].(string)
	return s
}

// ErrorRate returns the payload's numeric error_rate, or 0 when absent or
// not a number.
func (e *Envelope) ErrorRate() float64 {
	v, _ := PayloadFloat(e.SignalPayload, "error_rate")
	return v
}

// PayloadFloat reads a numeric payload field. JSON decoding yields float64
// or json.Number depending on the decoder; both are accepted, as are the
// integer kinds callers construct by hand.
func PayloadFloat(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func (e *Envelope) clone() Envelope {
	cp := *e
	cp.SignalPayload = cloneMap(e.SignalPayload)
	return cp
}

func jsonName(field string) string {
	switch field {
	case "ID":
		return "incident_id"
	case "Service":
		return "service"
	case "Env":
		return "env"
	case "SignalType":
		return "signal_type"
	case "SignalPayload":
		return "signal_payload"
	default:
		return strings.ToLower(field)
	}
}

// ValidationError reports malformed or incomplete incident input. It maps
// field names to the failed rule.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, k := range sortedKeys(e.Fields) {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid incident: " + strings.Join(parts, ", ")
}
