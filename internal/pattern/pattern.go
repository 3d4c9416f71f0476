// Package pattern stores lessons learned from remediated incidents so that
// later investigations of the same fingerprint can reuse them.
package pattern

import (
	"context"
	"time"
)

// DefaultListLimit bounds ListRecent when the caller passes a
// non-positive limit.
const DefaultListLimit = 20

// OutcomePendingApproval is recorded when a patch has been packaged for
// human review but not yet decided.
const OutcomePendingApproval = "pending_approval"

// Record is a single saved incident pattern.
type Record struct {
	ID           int64     `json:"id"`
	Fingerprint  string    `json:"fingerprint"`
	RootCause    string    `json:"root_cause"`
	FixSignature string    `json:"fix_signature"`
	Outcome      string    `json:"outcome"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists pattern records. FindLatest returns false when nothing
// has been stored for the fingerprint.
type Store interface {
	Save(ctx context.Context, r Record) error
	FindLatest(ctx context.Context, fingerprint string) (*Record, bool, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
}

// Limit normalises a caller supplied list limit.
func Limit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
