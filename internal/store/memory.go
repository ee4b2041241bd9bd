package store

import (
	"context"
	"sync"

	"github.com/nvandessel/fluidrig/internal/models"
)

// MemoryDataset implements Dataset with a slice.
type MemoryDataset struct {
	mu      sync.RWMutex
	records []models.AffinityRecord
	sources map[string]bool
}

// NewMemoryDataset creates an empty in-memory data set.
func NewMemoryDataset() *MemoryDataset {
	return &MemoryDataset{sources: make(map[string]bool)}
}

// Append adds records to the data set.
func (s *MemoryDataset) Append(ctx context.Context, records []models.AffinityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, records...)
	for _, r := range records {
		if r.Source != "" {
			s.sources[r.Source] = true
		}
	}
	return nil
}

// List returns a copy of every record.
func (s *MemoryDataset) List(ctx context.Context) ([]models.AffinityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.AffinityRecord(nil), s.records...), nil
}

// Count returns the number of records.
func (s *MemoryDataset) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records), nil
}

// HasSource reports whether the source was already ingested.
func (s *MemoryDataset) HasSource(ctx context.Context, source string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sources[source], nil
}

// Clear removes all records.
func (s *MemoryDataset) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.sources = make(map[string]bool)
	return nil
}

// Close is a no-op.
func (s *MemoryDataset) Close() error {
	return nil
}
