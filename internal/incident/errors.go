package incident

import "errors"

var (
	// ErrNotFound is returned for unknown incident ids.
	ErrNotFound = errors.New("incident not found")

	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("incident already exists")

	// ErrInvalidTransition is returned when a status change is not in the allowed table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotAwaitingApproval is returned when a decision arrives for an incident that is not pr_ready.
	ErrNotAwaitingApproval = errors.New("incident is not awaiting approval")

	ErrInvalidDecision = errors.New("decision must be approve or reject")
	ErrInvalidStage    = errors.New("resume stage must be triage, investigation or patch")

	// ErrIncidentBusy is returned when another run currently holds the incident.
	ErrIncidentBusy = errors.New("incident is being processed")

	// ErrRetryNotAllowed is returned for retries of approved or rejected incidents.
	ErrRetryNotAllowed = errors.New("retry not allowed after a human decision")
)
