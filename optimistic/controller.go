// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/reconcile"
)

// ErrPending is returned for rows whose insert has not been confirmed
var ErrPending = errors.New("row is still being saved")

// Controller applies writes to the local mirror before the service
// confirms them and undoes them when the service refuses.
type Controller[T models.Record] struct {
	table  *gateway.Table[T]
	mirror *reconcile.Mirror[T]
}

func NewController[T models.Record](table *gateway.Table[T], mirror *reconcile.Mirror[T]) *Controller[T] {
	return &Controller[T]{table: table, mirror: mirror}
}

func (c *Controller[T]) Mirror() *reconcile.Mirror[T] { return c.mirror }

// Create shows draft at once under a provisional key, then inserts it.
// On success the stored row replaces the provisional entry; on failure the
// entry is dropped and the error returned. Invalid drafts never reach the
// mirror or the service.
func (c *Controller[T]) Create(ctx context.Context, draft T) (T, error) {
	var zero T
	if err := draft.Validate(); err != nil {
		return zero, err
	}

	tmp := c.mirror.AddProvisional(draft)
	created, err := c.table.Insert(ctx, draft)
	if err != nil {
		c.mirror.Discard(tmp)
		slog.Info("optimistic insert rolled back", "table", c.table.Name(), "error", err)
		return zero, err
	}
	c.mirror.Confirm(tmp, created)
	return created, nil
}

// Delete hides the row at once, then deletes it. When the service refuses,
// the row is restored and the error returned, unless the feed reported it
// deleted in the meantime.
func (c *Controller[T]) Delete(ctx context.Context, key string) error {
	if reconcile.IsProvisional(key) {
		return ErrPending
	}

	removed, ok := c.mirror.Remove(key)
	if err := c.table.Delete(ctx, key); err != nil {
		if ok {
			c.mirror.Restore(removed)
		}
		slog.Info("optimistic delete rolled back", "table", c.table.Name(), "id", key, "error", err)
		return err
	}
	return nil
}

// Update shows apply(row) at once, then sends patch. apply must keep the
// row's identity. On failure the previous row comes back.
func (c *Controller[T]) Update(ctx context.Context, key string, patch any, apply func(T) T) error {
	if reconcile.IsProvisional(key) {
		return ErrPending
	}

	old, ok := c.mirror.Get(key)
	if ok {
		next := apply(old)
		if next.Key() != key {
			return fmt.Errorf("update %s: edit changed the row identity", key)
		}
		c.mirror.Upsert(next)
	}

	if err := c.table.Update(ctx, key, patch); err != nil {
		if ok {
			c.mirror.Restore(old)
		}
		slog.Info("optimistic update rolled back", "table", c.table.Name(), "id", key, "error", err)
		return err
	}
	return nil
}

// Toggle flips membership by running the inverse of the current state.
// Nothing changes locally; the change feed reports the outcome.
func Toggle(ctx context.Context, present bool, add, remove func(context.Context) error) error {
	if present {
		return remove(ctx)
	}
	return add(ctx)
}
