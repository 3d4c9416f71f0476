package incident

import (
	"maps"
	"slices"
	"sort"
)

// Clone returns a deep copy of the record. The ledger hands out clones so
// readers never share memory with the record it owns.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Incident = r.Incident.clone()
	cp.LinkedArtifacts = maps.Clone(r.LinkedArtifacts)
	if r.Events != nil {
		cp.Events = make([]Event, len(r.Events))
		for i, ev := range r.Events {
			ev.Payload = cloneMap(ev.Payload)
			cp.Events[i] = ev
		}
	}
	if r.Investigation != nil {
		inv := *r.Investigation
		inv.AffectedEndpoints = slices.Clone(inv.AffectedEndpoints)
		inv.CorrelatedMetrics = cloneMap(inv.CorrelatedMetrics)
		inv.LogEvidence = slices.Clone(inv.LogEvidence)
		cp.Investigation = &inv
	}
	if r.Patch != nil {
		p := *r.Patch
		p.FilesChanged = slices.Clone(p.FilesChanged)
		cp.Patch = &p
	}
	if r.Verification != nil {
		v := *r.Verification
		v.TestResults = maps.Clone(v.TestResults)
		v.RegressionFlags = slices.Clone(v.RegressionFlags)
		cp.Verification = &v
	}
	if r.Approval != nil {
		a := *r.Approval
		a.EvidenceLinks = maps.Clone(a.EvidenceLinks)
		a.RollbackPlan = slices.Clone(a.RollbackPlan)
		a.TelemetrySnapshot = cloneMap(a.TelemetrySnapshot)
		cp.Approval = &a
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// cloneMap copies payload maps, descending into nested maps and slices that
// JSON decoding produces.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
