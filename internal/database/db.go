// Package database provides database setup, models, and the data access layer (Store).
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/mindjournal/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// connParams are applied by the driver to every new connection. Timestamps
// are written in SQLite's text format; every writer stores UTC, so ORDER BY
// created_at and the expiry/staleness range filters compare chronologically.
var connParams = url.Values{
	"_pragma":      {"busy_timeout(5000)", "journal_mode(WAL)", "synchronous(NORMAL)"},
	"_time_format": {"sqlite"},
}

// DataSourceName returns the modernc DSN for the database file at path.
// Query parameters already present on path take precedence over the defaults.
func DataSourceName(path string) string {
	base, rawQuery, _ := strings.Cut(path, "?")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		q = url.Values{}
	}
	for k, v := range connParams {
		if _, ok := q[k]; !ok {
			q[k] = v
		}
	}
	return base + "?" + q.Encode()
}

// NewDB opens the journal database at dbPath, applies the embedded migrations
// and returns the connection pool.
func NewDB(dbPath string) (*sqlx.DB, error) {
	log := slog.Default().With("component", "database")

	db, err := sqlx.Connect("sqlite", DataSourceName(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// A single connection; ConsumeLinkCode's read-then-delete must not interleave.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	version, err := ApplyMigrations(db.DB, log)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Error closing database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Info("Database ready", "path", dbPath, "schema_version", version)
	return db, nil
}

// CloseDB closes the database connection pool.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Error closing database connection", "error", err)
	}
}

// ApplyMigrations brings the schema up to date from the embedded migration
// files and returns the resulting schema version.
func ApplyMigrations(db *sql.DB, log *slog.Logger) (uint, error) {
	if db == nil {
		return 0, errors.New("database connection is nil, cannot apply migrations")
	}
	if log == nil {
		log = slog.Default()
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, fmt.Errorf("failed to create embed source driver instance: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("failed to create sqlite database driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}

	log.Debug("Migrations applied", "schema_version", version)
	return version, nil
}
