// Package store defines the Dataset interface holding the measurement
// records behind the affinity analyzer.
package store

import (
	"context"
	"fmt"

	"github.com/nvandessel/fluidrig/internal/models"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Dataset stores affinity records in ingestion order.
type Dataset interface {
	// Append adds records atomically: either all are stored or none.
	Append(ctx context.Context, records []models.AffinityRecord) error

	// List returns every record in ingestion order.
	List(ctx context.Context) ([]models.AffinityRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// HasSource reports whether any record came from the named source.
	HasSource(ctx context.Context, source string) (bool, error)

	// Clear removes every record.
	Clear(ctx context.Context) error

	Close() error
}

// Open returns a data set for the named backend. Both backends live only as
// long as the process.
func Open(backend string) (Dataset, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryDataset(), nil
	case BackendSQLite:
		return NewSQLiteDataset()
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
