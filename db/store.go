// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/daystogether/models"
)

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
	ErrInvalidValue  = errors.New("invalid column value")
	ErrReadOnly      = errors.New("table is read-only")
	ErrConflict      = errors.New("row conflicts with an existing row")
	ErrNoFilter      = errors.New("filter required")
)

// Row is one record as the service sees it: column name to value.
// Text columns hold string or nil, JSON columns hold json.RawMessage.
type Row map[string]any

// Filter is an equality match on one column
type Filter struct {
	Column string
	Value  string
}

type Query struct {
	Columns []string
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Publisher receives a change event for every successful write
type Publisher interface {
	Publish(ev models.ChangeEvent)
}

// Store executes row-level operations against the registered tables.
type Store struct {
	db      *sql.DB
	dialect string
	pub     Publisher
	now     func() time.Time
}

// NewStore creates a store. dialect is "sqlite" or "postgres".
// pub may be nil when no change feed is needed.
func NewStore(db *sql.DB, dialect string, pub Publisher) *Store {
	return &Store{db: db, dialect: dialect, pub: pub, now: time.Now}
}

// DB returns the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// LookupTable returns the registered table or ErrUnknownTable
func LookupTable(name string) (Table, error) {
	t, ok := Tables[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

// Select returns the rows of table matching q
func (s *Store) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	t, err := LookupTable(table)
	if err != nil {
		return nil, err
	}
	if t.Virtual {
		return s.selectVirtual(ctx, t)
	}

	cols := q.Columns
	if len(cols) == 0 {
		cols = t.columnNames()
	}
	defs := make([]Column, len(cols))
	for i, name := range cols {
		c, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, name)
		}
		defs[i] = c
	}

	where, args, err := s.where(t, q.Filters, 0)
	if err != nil {
		return nil, err
	}

	orderBy, desc := q.OrderBy, q.Desc
	if orderBy == "" {
		orderBy, desc = t.OrderBy, t.OrderDesc
	}
	if _, ok := t.Column(orderBy); !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, orderBy)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(quoteList(cols))
	b.WriteString(" FROM ")
	b.WriteString(quote(t.Name))
	b.WriteString(where)
	b.WriteString(" ORDER BY ")
	b.WriteString(quote(orderBy))
	if desc {
		b.WriteString(" DESC")
	} else {
		b.WriteString(" ASC")
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	result := []Row{}
	for rows.Next() {
		values := make([]sql.NullString, len(defs))
		dest := make([]any, len(defs))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		result = append(result, decodeRow(defs, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}

	return result, nil
}

// Count returns the number of rows in table
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	t, err := LookupTable(table)
	if err != nil {
		return 0, err
	}
	if t.Virtual {
		return 1, nil
	}

	var n int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(t.Name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Insert adds a row, assigning its id and any missing timestamps,
// and returns the stored row.
func (s *Store) Insert(ctx context.Context, table string, row Row) (Row, error) {
	t, err := LookupTable(table)
	if err != nil {
		return nil, err
	}
	if t.Virtual {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, table)
	}

	values := make(map[string]sql.NullString, len(t.Columns))
	for name, v := range row {
		c, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, name)
		}
		ns, err := encodeValue(c, v)
		if err != nil {
			return nil, err
		}
		values[name] = ns
	}

	if v := values["id"]; !v.Valid || v.String == "" {
		values["id"] = sql.NullString{String: uuid.NewString(), Valid: true}
	}
	for _, c := range t.Columns {
		if c.Kind == KindTimestamp {
			if v := values[c.Name]; !v.Valid || v.String == "" {
				values[c.Name] = sql.NullString{String: models.FormatTimestamp(s.now()), Valid: true}
			}
		}
		if c.Kind == KindJSON {
			if v := values[c.Name]; !v.Valid {
				values[c.Name] = sql.NullString{String: "[]", Valid: true}
			}
		}
	}

	cols := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, c := range t.Columns {
		v, ok := values[c.Name]
		if !ok {
			continue
		}
		cols = append(cols, c.Name)
		args = append(args, v)
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = s.placeholder(i + 1)
	}

	query := "INSERT INTO " + quote(t.Name) + " (" + quoteList(cols) + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, table)
		}
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	id := values["id"].String
	created, err := s.rowByID(ctx, t, id)
	if err != nil {
		return nil, err
	}

	slog.Info("row inserted", "table", table, "id", id)
	s.publish(t.Name, models.EventInsert, created, nil)
	return created, nil
}

// Update applies patch to every row matching filters and returns how many
// rows changed. Matching nothing is not an error.
func (s *Store) Update(ctx context.Context, table string, filters []Filter, patch Row) (int, error) {
	t, err := LookupTable(table)
	if err != nil {
		return 0, err
	}
	if t.Virtual {
		return 0, fmt.Errorf("%w: %s", ErrReadOnly, table)
	}
	if len(filters) == 0 {
		return 0, fmt.Errorf("update %s: %w", table, ErrNoFilter)
	}

	var sets []string
	var args []any
	for _, c := range t.Columns {
		v, ok := patch[c.Name]
		if !ok || c.Name == "id" {
			continue
		}
		ns, err := encodeValue(c, v)
		if err != nil {
			return 0, err
		}
		args = append(args, ns)
		sets = append(sets, quote(c.Name)+" = "+s.placeholder(len(args)))
	}
	for name := range patch {
		if _, ok := t.Column(name); !ok {
			return 0, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, name)
		}
	}
	if len(sets) == 0 {
		return 0, nil
	}

	ids, err := s.matchingIDs(ctx, t, filters)
	if err != nil {
		return 0, err
	}

	query := "UPDATE " + quote(t.Name) + " SET " + strings.Join(sets, ", ") + " WHERE " + quote("id") + " = " + s.placeholder(len(args)+1)
	changed := make([]string, 0, len(ids))
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, query, append(args, id)...)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, fmt.Errorf("%w: %s", ErrConflict, table)
			}
			return 0, fmt.Errorf("update %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			continue
		}
		changed = append(changed, id)
	}

	for _, id := range changed {
		updated, err := s.rowByID(ctx, t, id)
		if err != nil {
			slog.Warn("failed to reload updated row", "table", table, "id", id, "error", err)
			continue
		}
		s.publish(t.Name, models.EventUpdate, updated, nil)
	}

	slog.Info("rows updated", "table", table, "count", len(changed))
	return len(changed), nil
}

// Delete removes every row matching filters. An empty filter list deletes
// the whole table and is only honored when all is true.
func (s *Store) Delete(ctx context.Context, table string, filters []Filter, all bool) (int, error) {
	t, err := LookupTable(table)
	if err != nil {
		return 0, err
	}
	if t.Virtual {
		return 0, fmt.Errorf("%w: %s", ErrReadOnly, table)
	}
	if len(filters) == 0 && !all {
		return 0, fmt.Errorf("delete %s: %w", table, ErrNoFilter)
	}

	ids, err := s.matchingIDs(ctx, t, filters)
	if err != nil {
		return 0, err
	}

	query := "DELETE FROM " + quote(t.Name) + " WHERE " + quote("id") + " = " + s.placeholder(1)
	deleted := 0
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, query, id)
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", table, err)
		}
		// Another writer may have removed the row since it was matched
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			continue
		}
		deleted++
		s.publish(t.Name, models.EventDelete, nil, Row{"id": id})
	}

	slog.Info("rows deleted", "table", table, "count", deleted)
	return deleted, nil
}

func (s *Store) selectVirtual(ctx context.Context, t Table) ([]Row, error) {
	switch t.Name {
	case models.TableBlessingStats:
		n, err := s.Count(ctx, models.TableBlessings)
		if err != nil {
			return nil, err
		}
		return []Row{{"id": "total", "count": n}}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTable, t.Name)
}

func (s *Store) rowByID(ctx context.Context, t Table, id string) (Row, error) {
	rows, err := s.Select(ctx, t.Name, Query{Filters: []Filter{{Column: "id", Value: id}}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("row %s.%s vanished", t.Name, id)
	}
	return rows[0], nil
}

func (s *Store) matchingIDs(ctx context.Context, t Table, filters []Filter) ([]string, error) {
	rows, err := s.Select(ctx, t.Name, Query{Columns: []string{"id"}, Filters: filters, OrderBy: "id"})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if id, ok := r["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) where(t Table, filters []Filter, offset int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, len(filters))
	args := make([]any, len(filters))
	for i, f := range filters {
		if _, ok := t.Column(f.Column); !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, f.Column)
		}
		clauses[i] = quote(f.Column) + " = " + s.placeholder(offset+i+1)
		args[i] = f.Value
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (s *Store) placeholder(n int) string {
	if s.dialect == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (s *Store) publish(table, kind string, newRow, oldRow Row) {
	if s.pub == nil {
		return
	}
	ev := models.ChangeEvent{Topic: table, Event: kind}
	if newRow != nil {
		b, err := json.Marshal(newRow)
		if err != nil {
			slog.Error("failed to encode change event", "table", table, "error", err)
			return
		}
		ev.New = b
	}
	if oldRow != nil {
		b, err := json.Marshal(oldRow)
		if err != nil {
			slog.Error("failed to encode change event", "table", table, "error", err)
			return
		}
		ev.Old = b
	}
	s.pub.Publish(ev)
}

func encodeValue(c Column, v any) (sql.NullString, error) {
	if v == nil {
		if c.Kind == KindJSON {
			return sql.NullString{String: "[]", Valid: true}, nil
		}
		return sql.NullString{}, nil
	}
	if c.Kind == KindJSON {
		if raw, ok := v.(json.RawMessage); ok {
			return sql.NullString{String: string(raw), Valid: true}, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return sql.NullString{}, fmt.Errorf("%w: %s: %v", ErrInvalidValue, c.Name, err)
		}
		return sql.NullString{String: string(b), Valid: true}, nil
	}
	str, ok := v.(string)
	if !ok {
		return sql.NullString{}, fmt.Errorf("%w: %s must be a string", ErrInvalidValue, c.Name)
	}
	return sql.NullString{String: str, Valid: true}, nil
}

func decodeRow(defs []Column, values []sql.NullString) Row {
	row := make(Row, len(defs))
	for i, c := range defs {
		v := values[i]
		switch {
		case !v.Valid && c.Kind == KindJSON:
			row[c.Name] = json.RawMessage("[]")
		case !v.Valid && c.Nullable:
			row[c.Name] = nil
		case !v.Valid:
			row[c.Name] = ""
		case c.Kind == KindJSON:
			row[c.Name] = json.RawMessage(v.String)
		default:
			row[c.Name] = v.String
		}
	}
	return row
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func quoteList(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = quote(id)
	}
	return strings.Join(quoted, ", ")
}
