// Package database provides the PostgreSQL client, embedded migrations, and
// health checks.
package database

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps the database/sql pool (for transactions and NOTIFY publishing),
// an sqlx handle (for struct scanning in the repositories), and a pgx pool
// (for CopyFrom batch inserts).
type Client struct {
	db   *stdsql.DB
	sqlx *sqlx.DB
	pool *pgxpool.Pool
	dsn  string
}

// DB returns the underlying database connection for health checks, direct
// queries, and the stream publisher.
func (c *Client) DB() *stdsql.DB {
	return c.db
}

// SQLX returns the sqlx wrapper used by the repositories.
func (c *Client) SQLX() *sqlx.DB {
	return c.sqlx
}

// Pool returns the pgx pool used for CopyFrom batch writes.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// ConnString returns the DSN, used by the NOTIFY listener to open its
// dedicated connection.
func (c *Client) ConnString() string {
	return c.dsn
}

// Close releases both pools.
func (c *Client) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return c.db.Close()
}

// New creates a database client with connection pooling and runs migrations.
func New(ctx context.Context, cfg Config) (*Client, error) {
	dsn := cfg.ConnString()

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, db, cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	return &Client{
		db:   db,
		sqlx: sqlx.NewDb(db, "pgx"),
		pool: pool,
		dsn:  dsn,
	}, nil
}

// runMigrations applies pending migrations using golang-migrate with
// embedded migration files, so production deployments need no external
// files, then creates the custom indexes migrate SQL doesn't carry.
func runMigrations(ctx context.Context, db *stdsql.DB, cfg Config) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found - binary may be built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the migration source driver. We must NOT call m.Close()
	// because that also closes the database driver, which calls db.Close()
	// on the shared *sql.DB passed via postgres.WithInstance().
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	if err := createSearchIndexes(ctx, db); err != nil {
		return fmt.Errorf("failed to create search indexes: %w", err)
	}

	return nil
}

// hasEmbeddedMigrations checks if the embedded FS contains any .sql files.
func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			return true, nil
		}
	}
	return false, nil
}
