// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app

import (
	"context"
	"fmt"

	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/optimistic"
	"github.com/danielhkuo/daystogether/reconcile"
)

// BlessingCounter shows how many blessings the couple has received. Each
// client may bless once per session.
//
// The count is the number of blessing ids mirrored locally. A pending
// blessing is a provisional entry, so it counts once before the service
// answers and still once after its feed echo arrives.
type BlessingCounter struct {
	ctl  *optimistic.Controller[models.Blessing]
	sub  *gateway.Subscription
	once optimistic.Once
}

// OpenBlessingCounter loads the current blessings and follows new ones
// until Close.
func OpenBlessingCounter(ctx context.Context, actx *Context) (*BlessingCounter, error) {
	table := gateway.NewTable[models.Blessing](actx.Service, models.TableBlessings)
	mirror := reconcile.NewRecordMirror[models.Blessing](nil)
	sub, err := reconcile.Follow(ctx, table, mirror, gateway.Query{Columns: []string{"id"}})
	if err != nil {
		return nil, fmt.Errorf("open blessings: %w", err)
	}
	return &BlessingCounter{ctl: optimistic.NewController(table, mirror), sub: sub}, nil
}

func (b *BlessingCounter) Count() int { return b.ctl.Mirror().Len() }

// Blessed reports whether this session's blessing went through
func (b *BlessingCounter) Blessed() bool { return b.once.Done() }

// Bless adds one to the count at once and records it. When the write
// fails the count drops back and the caller may try again.
func (b *BlessingCounter) Bless(ctx context.Context) error {
	return b.once.Do(func() error {
		_, err := b.ctl.Create(ctx, models.Blessing{})
		return err
	})
}

func (b *BlessingCounter) OnChange(fn func()) (cancel func()) {
	return b.ctl.Mirror().OnChange(fn)
}

func (b *BlessingCounter) Close() { b.sub.Unsubscribe() }
