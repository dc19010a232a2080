// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
)

// Follow keeps m in step with table. It subscribes first, loads the rows
// matching q, and then folds in every event that arrived during the load,
// so no write made after Follow starts is lost. The caller releases the
// returned subscription on teardown.
func Follow[T models.Record](ctx context.Context, table *gateway.Table[T], m *Mirror[T], q gateway.Query) (*gateway.Subscription, error) {
	var (
		mu      sync.Mutex
		ready   bool
		pending []gateway.Change[T]
	)

	sub, err := table.Subscribe(ctx, func(ch gateway.Change[T]) {
		mu.Lock()
		defer mu.Unlock()
		if !ready {
			pending = append(pending, ch)
			return
		}
		m.Apply(ch.Kind, ch.Key, ch.Row)
	})
	if err != nil {
		return nil, fmt.Errorf("follow %s: %w", table.Name(), err)
	}

	rows, err := table.FetchAll(ctx, q)
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("follow %s: %w", table.Name(), err)
	}

	mu.Lock()
	m.Reset(rows)
	for _, ch := range pending {
		m.Apply(ch.Kind, ch.Key, ch.Row)
	}
	pending = nil
	ready = true
	mu.Unlock()

	return sub, nil
}
