package incident

import "time"

// Status tracks where an incident is in the pipeline.
type Status string

const (
	// StatusReceived means accepted into the ledger, triage not yet run
	StatusReceived Status = "received"

	// StatusDuplicate means suppressed by an active incident with the same fingerprint
	StatusDuplicate Status = "duplicate"

	// StatusBlocked means outside autonomous policy
	StatusBlocked Status = "blocked"

	// StatusInvestigating means gathering evidence
	StatusInvestigating Status = "investigating"

	// StatusPatching means a patch proposal is being generated
	StatusPatching Status = "patching"

	// StatusVerifying means a proposal is under test and canary replay
	StatusVerifying Status = "verifying"

	// StatusPRReady means an approval package is waiting on a human
	StatusPRReady Status = "pr_ready"

	// StatusApproved means a human signed off on the package
	StatusApproved Status = "approved"

	// StatusRejected means a human declined the package
	StatusRejected Status = "rejected"

	// StatusEscalated means handed off to a human with a reason
	StatusEscalated Status = "escalated"

	// StatusFailed means the engine detected an illegal state change
	StatusFailed Status = "failed"
)

// IsTerminal reports whether a pipeline run stops at this status.
// pr_ready is terminal for the run even though a human decision may follow.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDuplicate, StatusBlocked, StatusPRReady, StatusApproved,
		StatusRejected, StatusEscalated, StatusFailed:
		return true
	}
	return false
}

// IsActive reports whether an incident in this status suppresses new
// incidents with the same fingerprint.
func (s Status) IsActive() bool {
	switch s {
	case StatusReceived, StatusInvestigating, StatusPatching, StatusVerifying, StatusPRReady:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusReceived:      {StatusDuplicate, StatusBlocked, StatusInvestigating, StatusPatching, StatusEscalated, StatusFailed},
	StatusInvestigating: {StatusPatching, StatusEscalated, StatusFailed},
	StatusPatching:      {StatusVerifying, StatusEscalated, StatusFailed},
	StatusVerifying:     {StatusPatching, StatusPRReady, StatusEscalated, StatusFailed},
	StatusPRReady:       {StatusApproved, StatusRejected, StatusReceived},
	StatusEscalated:     {StatusReceived},
	StatusDuplicate:     {StatusReceived},
	StatusBlocked:       {StatusReceived},
	StatusFailed:        {StatusReceived},
}

// CanTransition reports whether moving from one status to another is in the
// allowed table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Stage is the pipeline stage label shown alongside status.
type Stage string

const (
	StageReceived      Stage = "received"
	StageTriage        Stage = "triage"
	StageInvestigation Stage = "investigation"
	StagePatch         Stage = "patch"
	StageVerification  Stage = "verification"
	StageApproval      Stage = "approval"
	StageApproved      Stage = "approved"
	StageRejected      Stage = "rejected"
	StageEscalated     Stage = "escalated"
	StageFailed        Stage = "failed"
	StageDuplicate     Stage = "duplicate"
	StageBlocked       Stage = "blocked"
)

// ParseResumeStage maps a retry request onto the stage the pipeline
// re-enters at. Empty means triage.
func ParseResumeStage(s string) (Stage, error) {
	switch s {
	case "", "triage", "received":
		return StageTriage, nil
	case "investigation", "investigating":
		return StageInvestigation, nil
	case "patch", "patching", "verification", "verifying":
		return StagePatch, nil
	default:
		return "", ErrInvalidStage
	}
}

// Decision is a human verdict on an approval package.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision validates a decision value.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApprove, DecisionReject:
		return Decision(s), nil
	default:
		return "", ErrInvalidDecision
	}
}

// Investigation is the evidence-gathering artifact.
type Investigation struct {
	Confidence         float64        `json:"confidence"`
	Reason             string         `json:"reason"`
	SuspectedRelease   string         `json:"suspected_release"`
	AffectedEndpoints  []string       `json:"affected_endpoints"`
	CorrelatedMetrics  map[string]any `json:"correlated_metrics"`
	LogEvidence        []string       `json:"log_evidence"`
	HistoricalPatterns bool           `json:"historical_patterns"`
}

// DiffStats summarizes a unified diff.
type DiffStats struct {
	Files   int `json:"files"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// PatchProposal is a candidate fix produced by the patch generator.
type PatchProposal struct {
	Branch       string    `json:"branch"`
	PatchText    string    `json:"patch_text"`
	DiffSummary  string    `json:"diff_summary"`
	FilesChanged []string  `json:"files_changed"`
	Risk         string    `json:"risk"`
	Hypothesis   string    `json:"hypothesis"`
	Stats        DiffStats `json:"stats"`
}

// CanaryResult is the outcome of replaying traffic against a proposal.
type CanaryResult struct {
	Status         string  `json:"status"`
	BaselineRate   float64 `json:"baseline_5xx_rate"`
	PostPatchRate  float64 `json:"post_patch_5xx_rate"`
	LatencyDeltaMs float64 `json:"latency_delta_ms"`
}

// VerificationReport is the classified result of testing a proposal.
type VerificationReport struct {
	Passed          bool              `json:"pass_fail"`
	TestResults     map[string]string `json:"test_results"`
	Canary          CanaryResult      `json:"canary_result"`
	RegressionFlags []string          `json:"regression_flags"`
}

// PullRequest describes a draft pull request created for human review.
type PullRequest struct {
	URL        string `json:"url"`
	Number     int    `json:"number"`
	Title      string `json:"title"`
	HeadBranch string `json:"head_branch"`
	BaseBranch string `json:"base_branch"`
}

// ApprovalPackage bundles everything a human needs to sign off.
type ApprovalPackage struct {
	PR                PullRequest       `json:"pr"`
	RCASummary        string            `json:"rca_summary"`
	EvidenceLinks     map[string]string `json:"evidence_links"`
	RollbackPlan      []string          `json:"rollback_plan"`
	TelemetrySnapshot map[string]any    `json:"telemetry_snapshot"`
}

// Record is the mutable, ledger-owned state of one incident.
type Record struct {
	Incident        Envelope            `json:"incident"`
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	Stage           Stage               `json:"stage"`
	Confidence      float64             `json:"confidence"`
	LastError       string              `json:"last_error,omitempty"`
	LinkedArtifacts map[string]string   `json:"linked_artifacts"`
	Events          []Event             `json:"events"`
	Investigation   *Investigation      `json:"investigation,omitempty"`
	Patch           *PatchProposal      `json:"patch,omitempty"`
	Verification    *VerificationReport `json:"verification,omitempty"`
	Approval        *ApprovalPackage    `json:"approval_package,omitempty"`
	PatchAttempts   int                 `json:"patch_attempts"`
	CreatedAt       time.Time           `json:"created_at"`
	StartedAt       time.Time           `json:"started_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	FinishedAt      *time.Time          `json:"finished_at,omitempty"`
}

// NewRecord wraps an envelope in a fresh record with status received.
func NewRecord(env Envelope, now time.Time) *Record {
	return &Record{
		Incident:        env.clone(),
		Fingerprint:     env.Fingerprint(),
		Status:          StatusReceived,
		Stage:           StageReceived,
		LinkedArtifacts: map[string]string{},
		CreatedAt:       now,
		StartedAt:       now,
		UpdatedAt:       now,
	}
}

// ClearDerived drops every artifact and error produced by a previous run.
// The investigation is kept when keepInvestigation is set.
func (r *Record) ClearDerived(keepInvestigation bool) {
	if !keepInvestigation {
		r.Investigation = nil
		r.Confidence = 0
	}
	r.Patch = nil
	r.Verification = nil
	r.Approval = nil
	r.LinkedArtifacts = map[string]string{}
	r.LastError = ""
	r.FinishedAt = nil
}
