package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// migrations holds the DDL of each schema version; index i upgrades a
// database from version i to i+1.
var migrations = []string{
	`CREATE TABLE measurements (
	    seq INTEGER PRIMARY KEY AUTOINCREMENT,
	    label TEXT NOT NULL,
	    concentration REAL NOT NULL CHECK (concentration > 0),
	    affinity REAL NOT NULL,
	    experiment_id TEXT NOT NULL,
	    source TEXT,
	    recorded_at TEXT NOT NULL
	);
	CREATE INDEX idx_measurements_source ON measurements(source);
	CREATE INDEX idx_measurements_label ON measurements(label);`,
}

// SchemaVersion is the version a fresh database is migrated to.
var SchemaVersion = len(migrations)

const versionTable = `CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
)`

// InitSchema brings db up to SchemaVersion, applying each pending
// migration in its own transaction. An existing database is integrity
// checked first; one written by a newer build is refused.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, versionTable); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	current, err := getSchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}
	if current > 0 {
		if err := ValidateIntegrity(ctx, db); err != nil {
			return fmt.Errorf("database integrity check failed: %w", err)
		}
	}

	for v := current; v < SchemaVersion; v++ {
		if err := migrate(ctx, db, v+1, migrations[v]); err != nil {
			return fmt.Errorf("migrating to version %d: %w", v+1, err)
		}
	}
	return nil
}

// getSchemaVersion returns the highest applied version, 0 for a fresh
// database.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(v.Int64), nil
}

func migrate(ctx context.Context, db *sql.DB, version int, ddl string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidateIntegrity runs PRAGMA integrity_check and returns every problem
// it reports.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("running integrity_check: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("scanning integrity_check: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(problems) > 0 {
		return errors.New("integrity_check: " + strings.Join(problems, "; "))
	}
	return nil
}
