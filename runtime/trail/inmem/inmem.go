// Package inmem provides an in-memory implementation of trail.Store.
//
// The in-memory store is intended for tests and local development. It is
// not durable and should not be used in production.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jobctl/jobctl/runtime/trail"
)

// Store implements trail.Store in memory.
type Store struct {
	mu      sync.Mutex
	records []trail.Record
}

// New returns a new in-memory trail store.
func New() *Store {
	return &Store{}
}

// Append implements trail.Store.
func (s *Store) Append(_ context.Context, r trail.Record) error {
	if r.Location == "" {
		return fmt.Errorf("location is required")
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// Query implements trail.Store.
func (s *Store) Query(_ context.Context, q trail.Query) ([]trail.Scored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var out []trail.Scored
	for _, r := range s.records {
		if q.Location != "" && r.Location != q.Location {
			continue
		}
		if q.Scent != "" && r.Scent != q.Scent {
			continue
		}
		if !q.Since.IsZero() && r.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && r.CreatedAt.After(q.Until) {
			continue
		}
		if r.Expired(now) {
			continue
		}
		out = append(out, trail.Scored{Record: r, Strength: r.EffectiveStrength(now, q.HalfLife)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Record.CreatedAt.After(out[j].Record.CreatedAt) })
	return out, nil
}
