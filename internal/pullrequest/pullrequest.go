// Package pullrequest opens draft pull requests for approval packages.
package pullrequest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// Request describes a draft pull request to open.
type Request struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// Creator opens draft pull requests.
type Creator interface {
	CreateDraft(ctx context.Context, req Request) (*incident.PullRequest, error)
}

// Simulated is a non-networked Creator. PR numbers are derived from the
// head branch so the same branch always maps to the same URL.
type Simulated struct {
	owner, repo string
}

// NewSimulated returns a Simulated creator for owner/repo.
func NewSimulated(owner, repo string) *Simulated {
	return &Simulated{owner: owner, repo: repo}
}

// CreateDraft implements Creator.
func (s *Simulated) CreateDraft(_ context.Context, req Request) (*incident.PullRequest, error) {
	sum := sha256.Sum256([]byte(req.Head))
	prefix, err := strconv.ParseUint(hex.EncodeToString(sum[:])[:6], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("derive pr number: %w", err)
	}
	number := int(prefix % 100000)
	return &incident.PullRequest{
		URL:        fmt.Sprintf("https://github.com/%s/%s/pull/%d", s.owner, s.repo, number),
		Number:     number,
		Title:      req.Title,
		HeadBranch: req.Head,
		BaseBranch: req.Base,
	}, nil
}
