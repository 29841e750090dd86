package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// usersSchema holds the identity tables that are not exposed as collections.
const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
)`

// sqlType maps a column type to a declaration both SQLite and PostgreSQL accept.
func sqlType(t columnType) string {
	switch t {
	case colInt:
		return "BIGINT"
	case colMoney:
		return "NUMERIC"
	case colBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// createStatements renders the DDL for every registered collection.
// Statements are ordered by collection name so migrations are deterministic.
func createStatements() []string {
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)

	stmts := []string{usersSchema}
	for _, name := range names {
		c := collections[name]

		defs := make([]string, 0, len(c.columns))
		for _, col := range c.columns {
			def := quote(col.name) + " " + sqlType(col.typ)
			if col.name == "id" {
				def += " PRIMARY KEY"
			}
			if col.def != "" {
				def += " DEFAULT " + col.def
			}
			defs = append(defs, def)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
			quote(c.name), strings.Join(defs, ",\n    ")))

		for _, cols := range c.unique {
			stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
				quote("uq_"+c.name+"_"+strings.Join(cols, "_")), quote(c.name), quoteAll(cols)))
		}
		for _, col := range c.index {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				quote("idx_"+c.name+"_"+col), quote(c.name), quote(col)))
		}
	}
	return stmts
}

// runMigrations executes the schema setup.
// These run on startup to ensure tables exist.
func runMigrations(ctx context.Context, db *sql.DB) error {
	for _, stmt := range createStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func quoteAll(idents []string) string {
	q := make([]string, len(idents))
	for i, id := range idents {
		q[i] = quote(id)
	}
	return strings.Join(q, ", ")
}
