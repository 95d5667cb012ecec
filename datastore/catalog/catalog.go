// Package catalog implements a SQL-backed datastore catalog. A catalog is a
// shared registry of dataset references and metadata that multiple workspaces
// sync against, backed by Postgres in production and an embedded database in
// tests.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // postgres driver
)

// DefaultDriver is the database/sql driver used when Config.Driver is empty.
const DefaultDriver = "postgres"

// Config holds the connection settings for a catalog.
type Config struct {
	// Driver is the database/sql driver name. Defaults to "postgres".
	Driver string `json:"driver"`
	// DSN is the data source name, e.g. a lib/pq connection string.
	DSN string `json:"dsn"`
}

// CatalogStore exposes CRUD over the catalog tables. All operations take a
// context and run against the bound querier, which is either the database
// pool or an open transaction (see WithTx).
type CatalogStore struct {
	db *sql.DB
	q  querier
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the catalog database described by the config.
func Open(cfg Config) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("catalog DSN is required")
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DefaultDriver
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an existing database handle. The caller retains ownership
// of the handle when using this constructor directly.
func NewWithDB(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db, q: db}
}

// Close releases the underlying database handle.
func (s *CatalogStore) Close() error {
	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

// EnsureSchema creates the catalog tables. It is intended for fresh catalogs
// and test databases; running it against an initialized catalog returns an
// error from the database.
func (s *CatalogStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{schemaDatasetRefs, schemaDatasetMetadata, schemaRunMetadata} {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create catalog schema: %w", err)
		}
	}

	return nil
}

// WithTx runs fn against a CatalogStore bound to a single transaction. The
// transaction is committed when fn returns nil and rolled back otherwise.
func (s *CatalogStore) WithTx(ctx context.Context, fn func(tx *CatalogStore) error) error {
	if s.db == nil {
		return errors.New("catalog store is not bound to a database pool")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin catalog transaction: %w", err)
	}

	if err := fn(&CatalogStore{db: s.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}

		return err
	}

	return tx.Commit()
}
