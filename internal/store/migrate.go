package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

func schemaVersion(conn *sql.DB) (int, error) {
	var v int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// setSchemaVersion runs outside any transaction; modernc ignores
// user_version writes made inside one. Every migration is idempotent DDL, so
// a crash between commit and this call only re-runs the last step.
func setSchemaVersion(conn *sql.DB, v int) error {
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("setting schema version %d: %w", v, err)
	}
	return nil
}

// migrate applies every migration newer than the stored user_version, each in
// its own transaction.
func migrate(conn *sql.DB) error {
	from, err := schemaVersion(conn)
	if err != nil {
		return err
	}
	to := latestVersion()
	if from >= to {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= from {
			continue
		}
		if err := applyMigration(conn, m); err != nil {
			return err
		}
		if err := setSchemaVersion(conn, m.Version); err != nil {
			return err
		}
	}

	zap.S().Infof("Job database schema migrated from v%d to v%d", from, to)
	return nil
}

func applyMigration(conn *sql.DB, m Migration) error {
	zap.S().Debugf("Applying migration %d: %s", m.Version, m.Description)

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d commit: %w", m.Version, err)
	}
	return nil
}
