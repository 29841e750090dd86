// Package sqlstore provides a SQL-backed implementation of the storage.Store interface.
// SQLite (pure Go, no CGO) and PostgreSQL (pgx) share one schema and one query builder;
// only placeholder syntax and error classification differ.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // Pure Go SQLite driver (no CGO)

	"github.com/ikimina/circles/internal/storage"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// Dialect names accepted by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Store implements storage.Store on database/sql.
type Store struct {
	db      *sql.DB
	dialect string
}

// New creates a SQLite-backed Store with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*Store, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	return open(db, DialectSQLite)
}

// NewPostgres creates a PostgreSQL-backed Store from a pgx connection string.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return open(db, DialectPostgres)
}

// Open creates a Store for the named dialect. For SQLite the source is a file path,
// for PostgreSQL a connection string.
func Open(dialect, source string) (*Store, error) {
	switch dialect {
	case DialectSQLite, "":
		return New(source)
	case DialectPostgres:
		return NewPostgres(source)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dialect)
	}
}

func open(db *sql.DB, dialect string) (*Store, error) {
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db, dialect: dialect}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into the dialect's form.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// classify maps driver errors onto storage sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", storage.ErrConflict, pgErr.ConstraintName)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}
