// Package memory provides an in-process persistent store for tests and
// ephemeral runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"regland/pkg/genome"
)

// Compile-time contract assertion.
var _ genome.PersistentStore = (*Store)(nil)

// Store keeps the dataset and the latest derived tables in memory. Values
// are deep-copied on the way in and out so callers never share state with it.
type Store struct {
	mu      sync.RWMutex
	dataset []byte
	derived *genome.DerivedTables
	writes  int
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{}
}

// ReplaceDerived stores a copy of the tables.
func (s *Store) ReplaceDerived(ctx context.Context, t genome.DerivedTables) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := t.Clone()
	s.mu.Lock()
	s.derived = &cp
	s.writes++
	s.mu.Unlock()
	return nil
}

// LoadDerived returns a copy of the stored tables.
func (s *Store) LoadDerived(ctx context.Context) (genome.DerivedTables, bool, error) {
	if err := ctx.Err(); err != nil {
		return genome.DerivedTables{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.derived == nil {
		return genome.DerivedTables{}, false, nil
	}
	return s.derived.Clone(), true, nil
}

// ReplaceDataset stores an encoded copy of the dataset and drops the derived
// tables computed from the previous one.
func (s *Store) ReplaceDataset(ctx context.Context, d genome.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	s.mu.Lock()
	s.dataset = data
	s.derived = nil
	s.mu.Unlock()
	return nil
}

// LoadDataset decodes the stored dataset; an empty store yields an empty
// dataset.
func (s *Store) LoadDataset(ctx context.Context) (genome.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return genome.Dataset{}, err
	}
	s.mu.RLock()
	data := s.dataset
	s.mu.RUnlock()
	var d genome.Dataset
	if len(data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return genome.Dataset{}, fmt.Errorf("decode dataset: %w", err)
	}
	return d, nil
}

// Writes returns how many derived replacements have been stored.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
