package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nvandessel/fluidrig/internal/models"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteDataset implements Dataset on an in-memory SQLite database.
type SQLiteDataset struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteDataset opens a private in-memory database and creates the
// schema.
func NewSQLiteDataset() (*SQLiteDataset, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection would get its own :memory: database.
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteDataset{db: db}, nil
}

// Append inserts records in one transaction.
func (s *SQLiteDataset) Append(ctx context.Context, records []models.AffinityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO measurements (label, concentration, affinity, experiment_id, source, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Label, r.Concentration, r.Value, r.ExperimentID,
			nullString(r.Source), r.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.ExperimentID, err)
		}
	}

	return tx.Commit()
}

// List returns every record ordered by insertion.
func (s *SQLiteDataset) List(ctx context.Context) ([]models.AffinityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT label, concentration, affinity, experiment_id, source, recorded_at
		FROM measurements ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	var out []models.AffinityRecord
	for rows.Next() {
		var (
			r          models.AffinityRecord
			source     sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&r.Label, &r.Concentration, &r.Value, &r.ExperimentID, &source, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		r.Source = source.String
		r.Timestamp, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp %q: %w", recordedAt, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *SQLiteDataset) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM measurements`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count measurements: %w", err)
	}
	return n, nil
}

// HasSource reports whether any record came from source.
func (s *SQLiteDataset) HasSource(ctx context.Context, source string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM measurements WHERE source = ?)`, source).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up source: %w", err)
	}
	return exists, nil
}

// Clear deletes every record.
func (s *SQLiteDataset) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM measurements`); err != nil {
		return fmt.Errorf("failed to clear measurements: %w", err)
	}
	return nil
}

// Close closes the database. The data is gone afterwards.
func (s *SQLiteDataset) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
