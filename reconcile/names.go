// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
)

// NameSet caches only the names of a collection's rows. Delete events carry
// nothing but the row id, so any delete reloads the whole set.
type NameSet struct {
	load func(ctx context.Context) ([]string, error)

	mu       sync.Mutex
	names    map[string]bool
	gen      int
	inflight int
	// names added while the latest load is in flight
	pending  []string
	listener func()
}

// NewNameSet creates an empty set filled by load
func NewNameSet(load func(ctx context.Context) ([]string, error)) *NameSet {
	return &NameSet{load: load, names: make(map[string]bool)}
}

// OnChange sets the function run after every change
func (s *NameSet) OnChange(fn func()) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

// Load replaces the set with a fresh fetch. Names added while the fetch is
// in flight survive the replace. When loads overlap, only the most recently
// started one is applied.
func (s *NameSet) Load(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.inflight++
	s.pending = nil
	s.mu.Unlock()

	names, err := s.load(ctx)

	s.mu.Lock()
	s.inflight--
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	pending := s.pending
	s.pending = nil
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.names = make(map[string]bool, len(names)+len(pending))
	for _, n := range names {
		s.names[n] = true
	}
	for _, n := range pending {
		s.names[n] = true
	}
	s.unlockAndNotify()
	return nil
}

// Add records name locally
func (s *NameSet) Add(name string) {
	s.mu.Lock()
	if s.inflight > 0 {
		s.pending = append(s.pending, name)
	}
	if s.names[name] {
		s.mu.Unlock()
		return
	}
	s.names[name] = true
	s.unlockAndNotify()
}

// Apply folds one change event in. Inserts add the name; anything else
// triggers a reload.
func (s *NameSet) Apply(ctx context.Context, kind, name string) {
	if kind == models.EventInsert && name != "" {
		s.Add(name)
		return
	}
	if err := s.Load(ctx); err != nil {
		slog.Warn("failed to reload names", "event", kind, "error", err)
	}
}

func (s *NameSet) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[name]
}

// Names returns the names in sorted order
func (s *NameSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.names))
	for n := range s.names {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (s *NameSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// Loading reports whether a fetch is in progress
func (s *NameSet) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

func (s *NameSet) unlockAndNotify() {
	fn := s.listener
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FollowNames keeps s in step with table, using name to read a row's name.
// ctx also bounds the reloads triggered by delete events.
func FollowNames[T models.Record](ctx context.Context, table *gateway.Table[T], s *NameSet, name func(T) string) (*gateway.Subscription, error) {
	sub, err := table.Subscribe(ctx, func(ch gateway.Change[T]) {
		var n string
		if ch.Kind == models.EventInsert {
			n = name(ch.Row)
		}
		s.Apply(ctx, ch.Kind, n)
	})
	if err != nil {
		return nil, fmt.Errorf("follow %s names: %w", table.Name(), err)
	}
	if err := s.Load(ctx); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("follow %s names: %w", table.Name(), err)
	}
	return sub, nil
}
