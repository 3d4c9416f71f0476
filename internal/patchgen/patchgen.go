// Package patchgen produces candidate configuration fixes for an
// investigated incident.
package patchgen

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// Generator turns an investigation into a patch proposal. attempt is the
// incident's running patch-attempt counter; it keeps branch names unique
// across attempts and retries.
type Generator interface {
	Generate(ctx context.Context, env incident.Envelope, inv incident.Investigation, attempt int) (*incident.PatchProposal, error)
}

// BranchName returns the head branch for an attempt.
func BranchName(incidentID string, attempt int) string {
	return fmt.Sprintf("sentinel/%s-attempt-%d", incidentID, attempt)
}
