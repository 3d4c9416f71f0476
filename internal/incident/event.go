package incident

import "time"

// EventKind enumerates pipeline events.
type EventKind string

const (
	EventIncidentReceived       EventKind = "IncidentReceived"
	EventTriageCompleted        EventKind = "TriageCompleted"
	EventInvestigationCompleted EventKind = "InvestigationCompleted"
	EventPatchGenerated         EventKind = "PatchGenerated"
	EventVerificationCompleted  EventKind = "VerificationCompleted"
	EventApprovalPackageReady   EventKind = "ApprovalPackageReady"
	EventIncidentEscalated      EventKind = "IncidentEscalated"
	EventIncidentApproved       EventKind = "IncidentApproved"
	EventIncidentRejected       EventKind = "IncidentRejected"
	EventRetryTriggered         EventKind = "RetryTriggered"
	EventIncidentFailed         EventKind = "IncidentFailed"
)

// Event is one entry in a record's append-only log.
type Event struct {
	Kind      EventKind      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Count returns how many events of the given kind the record holds.
func (r *Record) Count(kind EventKind) int {
	n := 0
	for i := range r.Events {
		if r.Events[i].Kind == kind {
			n++
		}
	}
	return n
}
