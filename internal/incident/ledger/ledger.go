// Package ledger provides the in-memory incident ledger that backs the
// pipeline engine.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

type entry struct {
	rec  *incident.Record
	seq  uint64
	busy bool
}

// Ledger holds incident records in memory. A single mutex guards the map;
// every method is a short critical section and returns copies, so no caller
// ever shares memory with a stored record.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*entry
	seq     uint64
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for updated-at stamps and the
// dedupe window.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New initializes an empty Ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		records: make(map[string]*entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Create stores a copy of the record. Fails with ErrAlreadyExists when the
// incident id is taken.
func (l *Ledger) Create(r *incident.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[r.Incident.ID]; ok {
		return incident.ErrAlreadyExists
	}
	l.seq++
	l.records[r.Incident.ID] = &entry{rec: r.Clone(), seq: l.seq}
	return nil
}

// Get returns a copy of the record.
func (l *Ledger) Get(id string) (*incident.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.records[id]
	if !ok {
		return nil, incident.ErrNotFound
	}
	return e.rec.Clone(), nil
}

// List returns copies of every record, oldest first.
func (l *Ledger) List() []*incident.Record {
	l.mu.Lock()
	out := make([]*incident.Record, 0, len(l.records))
	for _, e := range l.records {
		out = append(out, e.rec.Clone())
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Incident.ID < out[j].Incident.ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// AppendEvent appends to the record's event log and refreshes its
// updated-at timestamp.
func (l *Ledger) AppendEvent(id string, kind incident.EventKind, payload map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.records[id]
	if !ok {
		return incident.ErrNotFound
	}
	now := l.now()
	if payload == nil {
		payload = map[string]any{}
	}
	e.rec.Events = append(e.rec.Events, incident.Event{Kind: kind, Timestamp: now, Payload: payload})
	e.rec.UpdatedAt = now
	return nil
}

// Update applies fn to a working copy of the record and commits it when fn
// returns nil. The committed record has its updated-at refreshed. A copy of
// the committed record is returned.
func (l *Ledger) Update(id string, fn func(r *incident.Record) error) (*incident.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.records[id]
	if !ok {
		return nil, incident.ErrNotFound
	}
	work := e.rec.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.UpdatedAt = l.now()
	e.rec = work
	return work.Clone(), nil
}

// FindRecentDuplicates returns every record created before excludeID with
// the same fingerprint, an active status and a last update within the
// trailing window. Records created after excludeID never count, so of two
// concurrent arrivals only the later one is a duplicate.
func (l *Ledger) FindRecentDuplicates(fingerprint, excludeID string, window time.Duration) []*incident.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	before := l.seq + 1
	if self, ok := l.records[excludeID]; ok {
		before = self.seq
	}
	cutoff := l.now().Add(-window)
	var out []*incident.Record
	for id, e := range l.records {
		if id == excludeID || e.seq >= before || e.rec.Fingerprint != fingerprint {
			continue
		}
		if !e.rec.Status.IsActive() || e.rec.UpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, e.rec.Clone())
	}
	return out
}

// Claim marks the incident as held by one pipeline run. The returned
// release func must be called when the run ends. A second claim before
// release fails with ErrIncidentBusy.
func (l *Ledger) Claim(id string) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.records[id]
	if !ok {
		return nil, incident.ErrNotFound
	}
	if e.busy {
		return nil, incident.ErrIncidentBusy
	}
	e.busy = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			e.busy = false
			l.mu.Unlock()
		})
	}, nil
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
