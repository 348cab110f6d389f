// Package sqlite provides a SQLite-backed implementation of the eventlog Journal interface.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/rugwirobaker/irrigate/internal/eventlog"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Journal implements eventlog.Journal using SQLite
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ eventlog.Journal = (*Journal)(nil)

// New opens the database at dbPath and runs migrations
func New(dbPath string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger,
	}

	if err := j.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("SQLite event journal initialized", "db_path", dbPath)

	return j, nil
}

// runMigrations applies all pending migrations
func (j *Journal) runMigrations() error {
	migrations := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}

	n, err := migrate.Exec(j.db, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return err
	}

	if n > 0 {
		j.logger.Info("Applied migrations", "count", n)
	} else {
		j.logger.Debug("No new migrations to apply")
	}

	return nil
}

// Load returns all events in insertion order
func (j *Journal) Load(ctx context.Context) ([]eventlog.Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT timestamp, event_type, message
		FROM events ORDER BY id
	`)
	if err != nil {
		j.logger.Error("Database error", "error", err)
		return nil, err
	}
	defer rows.Close()

	var entries []eventlog.Entry
	for rows.Next() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var e eventlog.Entry
		if err := rows.Scan(&e.Timestamp, &e.EventType, &e.Message); err != nil {
			j.logger.Error("Failed to scan row", "error", err)
			return nil, fmt.Errorf("%w: %v", eventlog.ErrCorrupt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	j.logger.Debug("Loaded events", "count", len(entries))
	return entries, nil
}

// Append inserts a single event
func (j *Journal) Append(ctx context.Context, entry eventlog.Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (timestamp, event_type, message)
		VALUES (?, ?, ?)
	`, entry.Timestamp, entry.EventType, entry.Message)
	if err != nil {
		j.logger.Error("Database error", "error", err, "event_type", entry.EventType)
		return err
	}

	j.logger.Debug("Event stored", "event_type", entry.EventType)
	return nil
}

// Close cleans up journal resources
func (j *Journal) Close() error {
	j.logger.Info("Closing SQLite event journal")
	return j.db.Close()
}
