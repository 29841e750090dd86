package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ikimina/circles/internal/storage"
)

// Find returns the rows matching q.
func (s *Store) Find(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	c, err := lookup(q.Collection)
	if err != nil {
		return nil, err
	}

	where, args, empty, err := s.where(c, q.Filters)
	if err != nil {
		return nil, err
	}
	if empty {
		// An IN filter over no values matches nothing.
		return []storage.Record{}, nil
	}

	query := "SELECT " + selectList(c) + " FROM " + quote(c.name) + where
	if q.OrderBy != "" {
		if _, err := c.field(q.OrderBy); err != nil {
			return nil, err
		}
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		// id breaks ties between rows written in the same millisecond
		query += fmt.Sprintf(" ORDER BY %s %s, %s %s", quote(q.OrderBy), dir, quote("id"), dir)
	}
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}

	return s.queryRows(ctx, s.db, c, query, args...)
}

// Insert persists a new row. Missing id and creation timestamp are generated.
func (s *Store) Insert(ctx context.Context, collection string, rec storage.Record) (storage.Record, error) {
	c, err := lookup(collection)
	if err != nil {
		return nil, err
	}

	row := make(storage.Record, len(rec)+2)
	for k, v := range rec {
		row[k] = v
	}
	if id, _ := row["id"].(string); id == "" {
		row["id"] = uuid.New().String()
	}
	if c.created != "" {
		if v, ok := row[c.created]; !ok || v == nil || isZero(v) {
			row[c.created] = time.Now().UnixMilli()
		}
	}

	cols := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for _, col := range c.columns {
		v, ok := row[col.name]
		if !ok {
			continue
		}
		cv, err := coerce(c, col, v)
		if err != nil {
			return nil, err
		}
		cols = append(cols, quote(col.name))
		args = append(args, cv)
	}
	for k := range row {
		if _, err := c.field(k); err != nil {
			return nil, err
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(c.name), strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", c.name, classify(err))
	}

	return s.byID(ctx, s.db, c, row["id"].(string))
}

// Update applies patch to the row with the given id.
func (s *Store) Update(ctx context.Context, collection, id string, patch storage.Record) (storage.Record, error) {
	c, err := lookup(collection)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return s.byID(ctx, s.db, c, id)
	}

	sets := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch)+1)
	for _, col := range c.columns {
		v, ok := patch[col.name]
		if !ok {
			continue
		}
		if col.name == "id" {
			return nil, fmt.Errorf("%w: id is immutable", storage.ErrUnknownField)
		}
		cv, err := coerce(c, col, v)
		if err != nil {
			return nil, err
		}
		sets = append(sets, quote(col.name)+" = ?")
		args = append(args, cv)
	}
	for k := range patch {
		if _, err := c.field(k); err != nil {
			return nil, err
		}
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", quote(c.name), strings.Join(sets, ", "), quote("id"))
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", c.name, classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s %s", storage.ErrNotFound, c.name, id)
	}

	return s.byID(ctx, s.db, c, id)
}

// Delete removes every row matching all filters and returns the removed rows.
func (s *Store) Delete(ctx context.Context, collection string, filters []storage.Filter) ([]storage.Record, error) {
	c, err := lookup(collection)
	if err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: refusing to delete from %s without filters", storage.ErrInvalidValue, c.name)
	}

	where, args, empty, err := s.where(c, filters)
	if err != nil {
		return nil, err
	}
	if empty {
		return []storage.Record{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	removed, err := s.queryRows(ctx, tx, c, "SELECT "+selectList(c)+" FROM "+quote(c.name)+where, args...)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return removed, nil
	}

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM "+quote(c.name)+where), args...); err != nil {
		return nil, fmt.Errorf("failed to delete from %s: %w", c.name, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return removed, nil
}

// Adjust atomically adds delta to an integer field of one row.
func (s *Store) Adjust(ctx context.Context, collection, id, field string, delta int64) (storage.Record, error) {
	c, err := lookup(collection)
	if err != nil {
		return nil, err
	}
	col, err := c.field(field)
	if err != nil {
		return nil, err
	}
	if col.typ != colInt {
		return nil, fmt.Errorf("%w: %s.%s is not an integer field", storage.ErrUnknownField, c.name, field)
	}

	query := fmt.Sprintf("UPDATE %s SET %s = COALESCE(%s, 0) + ? WHERE %s = ?",
		quote(c.name), quote(field), quote(field), quote("id"))
	res, err := s.db.ExecContext(ctx, s.rebind(query), delta, id)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust %s.%s: %w", c.name, field, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s %s", storage.ErrNotFound, c.name, id)
	}

	return s.byID(ctx, s.db, c, id)
}

// TopicOf returns the value of the collection's topic column.
func (s *Store) TopicOf(collection string, rec storage.Record) string {
	c, ok := collections[collection]
	if !ok || c.topic == "" {
		return ""
	}
	return rec.String(c.topic)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) byID(ctx context.Context, q querier, c *collection, id string) (storage.Record, error) {
	rows, err := s.queryRows(ctx, q, c,
		"SELECT "+selectList(c)+" FROM "+quote(c.name)+" WHERE "+quote("id")+" = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %s", storage.ErrNotFound, c.name, id)
	}
	return rows[0], nil
}

func (s *Store) queryRows(ctx context.Context, q querier, c *collection, query string, args ...any) ([]storage.Record, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
	}
	defer rows.Close()

	out := []storage.Record{}
	for rows.Next() {
		vals := make([]any, len(c.columns))
		ptrs := make([]any, len(c.columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", c.name, err)
		}

		rec := make(storage.Record, len(c.columns))
		for i, col := range c.columns {
			rec[col.name] = normalize(col, vals[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", c.name, err)
	}

	return out, nil
}

// where renders the filters as a WHERE clause. empty reports an IN filter
// with no values, which can never match.
func (s *Store) where(c *collection, filters []storage.Filter) (string, []any, bool, error) {
	if len(filters) == 0 {
		return "", nil, false, nil
	}

	clauses := make([]string, 0, len(filters))
	var args []any
	for _, f := range filters {
		col, err := c.field(f.Field)
		if err != nil {
			return "", nil, false, err
		}
		switch f.Op {
		case storage.OpEq, "":
			if f.Value == nil {
				clauses = append(clauses, quote(col.name)+" IS NULL")
				continue
			}
			v, err := coerce(c, col, f.Value)
			if err != nil {
				return "", nil, false, err
			}
			clauses = append(clauses, quote(col.name)+" = ?")
			args = append(args, v)
		case storage.OpIn:
			values, err := listValues(f.Value)
			if err != nil {
				return "", nil, false, fmt.Errorf("filter on %s.%s: %w", c.name, col.name, err)
			}
			if len(values) == 0 {
				return "", nil, true, nil
			}
			for _, v := range values {
				cv, err := coerce(c, col, v)
				if err != nil {
					return "", nil, false, err
				}
				args = append(args, cv)
			}
			clauses = append(clauses, quote(col.name)+" IN ("+placeholders(len(values))+")")
		default:
			return "", nil, false, fmt.Errorf("%w: unsupported filter operator %q", storage.ErrInvalidValue, f.Op)
		}
	}

	return " WHERE " + strings.Join(clauses, " AND "), args, false, nil
}

func listValues(v any) ([]any, error) {
	switch vs := v.(type) {
	case []any:
		return vs, nil
	case []string:
		out := make([]any, len(vs))
		for i, s := range vs {
			out[i] = s
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: in filter needs a list, got %T", storage.ErrInvalidValue, v)
	}
}

func selectList(c *collection) string {
	cols := make([]string, len(c.columns))
	for i, col := range c.columns {
		cols[i] = quote(col.name)
	}
	return strings.Join(cols, ", ")
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isZero(v any) bool {
	switch n := v.(type) {
	case int64:
		return n == 0
	case int:
		return n == 0
	case float64:
		return n == 0
	case json.Number:
		return n.String() == "0"
	}
	return false
}

// coerce converts a decoded value (often from JSON) into the column's SQL type.
func coerce(c *collection, col column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		v = dv
	}

	bad := func() error {
		return fmt.Errorf("%w: %v (%T) for %s.%s", storage.ErrInvalidValue, v, v, c.name, col.name)
	}

	switch col.typ {
	case colInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case float64:
			return int64(n), nil
		case json.Number:
			return n.Int64()
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, bad()
			}
			return i, nil
		}
	case colMoney:
		switch n := v.(type) {
		case float64, int64, int:
			return n, nil
		case json.Number:
			return n.String(), nil
		case string:
			if _, err := strconv.ParseFloat(n, 64); err != nil {
				return nil, bad()
			}
			return n, nil
		}
	case colBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case float64:
			return b != 0, nil
		case int64:
			return b != 0, nil
		}
	case colText:
		switch t := v.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		}
	}
	return nil, bad()
}

// normalize converts a scanned driver value into the form records carry:
// text as string, integers as int64, money as a decimal string, flags as bool.
func normalize(col column, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}

	switch col.typ {
	case colInt:
		switch n := v.(type) {
		case float64:
			return int64(n)
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i
			}
		}
	case colMoney:
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(n, 10)
		}
	case colBool:
		switch b := v.(type) {
		case int64:
			return b != 0
		case string:
			return b == "1" || strings.EqualFold(b, "true")
		}
	}
	return v
}
