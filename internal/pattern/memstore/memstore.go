// Package memstore is an in-process pattern.Store used for development and
// tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/sentinel/internal/pattern"
)

// Store keeps pattern records in insertion order.
type Store struct {
	mu      sync.RWMutex
	records []pattern.Record
	nextID  int64
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{now: time.Now}
}

// Save appends r, assigning an ID and a creation time when missing.
func (s *Store) Save(_ context.Context, r pattern.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.records = append(s.records, r)
	return nil
}

// FindLatest returns the most recently saved record for fingerprint.
func (s *Store) FindLatest(_ context.Context, fingerprint string) (*pattern.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Fingerprint == fingerprint {
			r := s.records[i]
			return &r, true, nil
		}
	}
	return nil, false, nil
}

// ListRecent returns up to limit records, newest first.
func (s *Store) ListRecent(_ context.Context, limit int) ([]pattern.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = pattern.Limit(limit)
	out := make([]pattern.Record, 0, min(limit, len(s.records)))
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}
