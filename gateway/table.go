// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/danielhkuo/daystogether/models"
)

// Change is a decoded change-feed event. Row is the new row for INSERT and
// UPDATE; for DELETE only Key is set.
type Change[T models.Record] struct {
	Kind string
	Key  string
	Row  T
}

// Table is a typed view of one collection. Rows are decoded and validated
// here, so callers never handle raw payloads.
type Table[T models.Record] struct {
	svc  Service
	name string
}

func NewTable[T models.Record](svc Service, name string) *Table[T] {
	return &Table[T]{svc: svc, name: name}
}

func (t *Table[T]) Name() string { return t.name }

// FetchAll returns the rows matching q. Rows that fail to decode or validate
// are logged and skipped.
func (t *Table[T]) FetchAll(ctx context.Context, q Query) ([]T, error) {
	raw, err := t.svc.Select(ctx, t.name, q)
	if err != nil {
		return nil, err
	}
	rows := make([]T, 0, len(raw))
	for _, r := range raw {
		row, err := t.decode(r)
		if err != nil {
			slog.Warn("skipping invalid row", "table", t.name, "error", err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchOne returns the first row matching q, or ErrNotFound
func (t *Table[T]) FetchOne(ctx context.Context, q Query) (T, error) {
	q.Limit = 1
	rows, err := t.FetchAll(ctx, q)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(rows) == 0 {
		var zero T
		return zero, fmt.Errorf("%s: %w", t.name, ErrNotFound)
	}
	return rows[0], nil
}

func (t *Table[T]) Count(ctx context.Context) (int, error) {
	return t.svc.Count(ctx, t.name)
}

// Insert writes row and returns the row as stored, with the identity and
// defaults the service assigned.
func (t *Table[T]) Insert(ctx context.Context, row T) (T, error) {
	var zero T
	if err := row.Validate(); err != nil {
		return zero, err
	}
	raw, err := t.svc.Insert(ctx, t.name, row)
	if err != nil {
		return zero, err
	}
	created, err := t.decode(raw)
	if err != nil {
		return zero, err
	}
	return created, nil
}

// Update applies patch to the row with the given id
func (t *Table[T]) Update(ctx context.Context, id string, patch any) error {
	if id == "" {
		return fmt.Errorf("update %s: %w", t.name, models.ErrMissingID)
	}
	return t.svc.Update(ctx, t.name, []Filter{Eq("id", id)}, patch)
}

func (t *Table[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("delete %s: %w", t.name, models.ErrMissingID)
	}
	return t.svc.Delete(ctx, t.name, []Filter{Eq("id", id)})
}

// DeleteWhere removes the rows matching every filter. At least one filter
// is required.
func (t *Table[T]) DeleteWhere(ctx context.Context, filters ...Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("delete %s: %w", t.name, ErrNoFilter)
	}
	return t.svc.Delete(ctx, t.name, filters)
}

// Subscribe delivers decoded changes to handler. Events that do not decode
// are logged and dropped.
func (t *Table[T]) Subscribe(ctx context.Context, handler func(Change[T])) (*Subscription, error) {
	return t.svc.Subscribe(ctx, t.name, func(ev models.ChangeEvent) {
		ch, err := t.decodeChange(ev)
		if err != nil {
			slog.Warn("dropping change event", "table", t.name, "event", ev.Event, "error", err)
			return
		}
		handler(ch)
	})
}

func (t *Table[T]) decodeChange(ev models.ChangeEvent) (Change[T], error) {
	switch ev.Event {
	case models.EventInsert, models.EventUpdate:
		row, err := t.decode(ev.New)
		if err != nil {
			return Change[T]{}, err
		}
		return Change[T]{Kind: ev.Event, Key: row.Key(), Row: row}, nil
	case models.EventDelete:
		var old struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Old, &old); err != nil || old.ID == "" {
			return Change[T]{}, fmt.Errorf("%w: delete without id", ErrInvalidRow)
		}
		return Change[T]{Kind: ev.Event, Key: old.ID}, nil
	}
	return Change[T]{}, fmt.Errorf("%w: unknown event %q", ErrInvalidRow, ev.Event)
}

func (t *Table[T]) decode(raw json.RawMessage) (T, error) {
	var row T
	if err := json.Unmarshal(raw, &row); err != nil {
		return row, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	if row.Key() == "" {
		return row, fmt.Errorf("%w: %v", ErrInvalidRow, models.ErrMissingID)
	}
	if err := row.Validate(); err != nil {
		return row, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	return row, nil
}
