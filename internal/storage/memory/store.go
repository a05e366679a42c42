// Package memory implements an in-memory scholarship store for tests and
// local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/grantwell/scholarship-ingest/internal/dedup"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

// Store keeps scholarship records in process memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]scholar.Scholarship
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]scholar.Scholarship)}
}

// Find returns records matching the filter, ordered by creation time.
func (s *Store) Find(_ context.Context, filter scholar.StoreFilter) ([]scholar.Scholarship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scholar.Scholarship
	for _, record := range s.records {
		if filter.ActiveOnly && !record.IsActive {
			continue
		}
		if filter.SourceName != "" && record.SourceName != filter.SourceName {
			continue
		}
		if filter.DedupKey != "" && dedup.Key(record.Title, record.Provider) != filter.DedupKey {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Save inserts or replaces a record by ID. At most one active record may
// exist per dedup key; a second active save with the same key fails with
// ErrDuplicate so concurrent ingest workers cannot double-insert.
func (s *Store) Save(_ context.Context, record scholar.Scholarship) error {
	if record.ID == "" {
		return scholar.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.IsActive {
		key := dedup.Key(record.Title, record.Provider)
		for _, existing := range s.records {
			if existing.ID == record.ID || !existing.IsActive {
				continue
			}
			if dedup.Key(existing.Title, existing.Provider) == key {
				return scholar.ErrDuplicate
			}
		}
	}
	s.records[record.ID] = record
	return nil
}

// Update applies the non-nil patch fields to a stored record.
func (s *Store) Update(_ context.Context, id string, patch scholar.ScholarshipPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return scholar.ErrNotFound
	}
	if patch.ApplicationLink != nil {
		record.ApplicationLink = *patch.ApplicationLink
	}
	if patch.IsActive != nil {
		record.IsActive = *patch.IsActive
	}
	if patch.LinkStatus != nil {
		record.LinkStatus = *patch.LinkStatus
	}
	if patch.QualityScore != nil {
		record.QualityScore = *patch.QualityScore
	}
	if patch.LastValidated != nil {
		record.LastValidated = *patch.LastValidated
	}
	record.UpdatedAt = time.Now().UTC()
	s.records[id] = record
	return nil
}

// Stats aggregates record counts and the average quality score.
func (s *Store) Stats(context.Context) (scholar.IngestStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := scholar.IngestStats{TotalRecords: len(s.records)}
	var scoreSum int
	for _, record := range s.records {
		if record.IsActive {
			stats.ActiveRecords++
		}
		scoreSum += record.QualityScore
	}
	if stats.TotalRecords > 0 {
		stats.AverageQualityScore = float64(scoreSum) / float64(stats.TotalRecords)
	}
	return stats, nil
}

var _ scholar.Store = (*Store)(nil)
