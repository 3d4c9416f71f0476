package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/linnemanlabs/sentinel/internal/incident"
	"github.com/linnemanlabs/sentinel/internal/patchgen"
)

// PatchAgent requests proposals from a generator and checks that the
// returned patch text is a well-formed unified diff.
type PatchAgent struct {
	gen patchgen.Generator
}

// NewPatchAgent wraps gen.
func NewPatchAgent(gen patchgen.Generator) *PatchAgent {
	return &PatchAgent{gen: gen}
}

// Propose asks the generator for attempt's proposal and fills in the
// branch, changed files and diff stats from the patch text.
func (a *PatchAgent) Propose(ctx context.Context, env incident.Envelope, inv incident.Investigation, attempt int) (*incident.PatchProposal, error) {
	p, err := a.gen.Generate(ctx, env, inv, attempt)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("generator returned no proposal")
	}
	if p.Branch == "" {
		p.Branch = patchgen.BranchName(env.ID, attempt)
	}

	files, stats, err := inspectDiff(p.PatchText)
	if err != nil {
		return nil, err
	}
	if len(p.FilesChanged) == 0 {
		p.FilesChanged = files
	}
	p.Stats = stats
	return p, nil
}

func inspectDiff(patch string) ([]string, incident.DiffStats, error) {
	if strings.TrimSpace(patch) == "" {
		return nil, incident.DiffStats{}, errors.New("empty patch text")
	}
	fds, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, incident.DiffStats{}, fmt.Errorf("parse patch: %w", err)
	}
	if len(fds) == 0 {
		return nil, incident.DiffStats{}, errors.New("patch contains no file diffs")
	}

	var stats incident.DiffStats
	files := make([]string, 0, len(fds))
	for _, fd := range fds {
		name := fd.NewName
		if name == "/dev/null" {
			name = fd.OrigName
		}
		files = append(files, stripPrefix(name))

		// go-diff folds a removed line paired with an added one into
		// Changed; count it on both sides.
		st := fd.Stat()
		stats.Added += int(st.Added + st.Changed)
		stats.Removed += int(st.Deleted + st.Changed)
	}
	stats.Files = len(files)
	return files, stats, nil
}

func stripPrefix(name string) string {
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}
