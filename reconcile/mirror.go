// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package reconcile

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/danielhkuo/daystogether/models"
)

// ProvisionalPrefix marks keys the client made up for rows the service has
// not confirmed yet.
const ProvisionalPrefix = "tmp-"

// deletedCapacity bounds how many deleted identities a mirror remembers
const deletedCapacity = 256

// IsProvisional reports whether key was issued by AddProvisional
func IsProvisional(key string) bool {
	return strings.HasPrefix(key, ProvisionalPrefix)
}

// Entry is one mirrored item with its identity
type Entry[T any] struct {
	Key         string
	Item        T
	Provisional bool
}

// Mirror is the local copy of a remote collection. It holds at most one
// entry per identity, whatever order responses and feed events arrive in.
type Mirror[T any] struct {
	mu      sync.Mutex
	key     func(T) string
	less    func(a, b T) bool
	entries []Entry[T]
	// identities the feed has reported deleted
	deleted *ttlcache.Cache[string, struct{}]

	nextListener int
	listeners    map[int]func()
}

// NewMirror creates a mirror keyed by key. less orders Items; nil keeps
// arrival order.
func NewMirror[T any](key func(T) string, less func(a, b T) bool) *Mirror[T] {
	return &Mirror[T]{
		key:       key,
		less:      less,
		deleted:   ttlcache.New[string, struct{}](ttlcache.WithCapacity[string, struct{}](deletedCapacity)),
		listeners: make(map[int]func()),
	}
}

// NewRecordMirror creates a mirror keyed by the record id
func NewRecordMirror[T models.Record](less func(a, b T) bool) *Mirror[T] {
	return NewMirror(func(r T) string { return r.Key() }, less)
}

// OnChange registers fn to run after every change. fn runs outside the
// mirror's lock, on the goroutine that made the change.
func (m *Mirror[T]) OnChange(fn func()) (cancel func()) {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Reset replaces the confirmed entries with items. Provisional entries
// survive, since their writes are still in flight. Duplicate identities in
// items collapse to the first.
func (m *Mirror[T]) Reset(items []T) {
	m.mu.Lock()
	seen := make(map[string]bool, len(items))
	entries := make([]Entry[T], 0, len(items))
	for _, e := range m.entries {
		if e.Provisional {
			entries = append(entries, e)
		}
	}
	for _, item := range items {
		k := m.key(item)
		if seen[k] {
			continue
		}
		seen[k] = true
		entries = append(entries, Entry[T]{Key: k, Item: item})
	}
	m.entries = entries
	m.sortLocked()
	m.unlockAndNotify()
}

// Apply folds one change-feed event into the mirror: INSERT adds if the
// identity is absent, UPDATE upserts, DELETE removes. A deleted identity
// is remembered so late confirmations and rollbacks cannot bring it back.
// It reports whether the mirror changed.
func (m *Mirror[T]) Apply(kind, key string, item T) bool {
	switch kind {
	case models.EventInsert:
		return m.Insert(item)
	case models.EventUpdate:
		m.Upsert(item)
		return true
	case models.EventDelete:
		m.mu.Lock()
		m.deleted.Set(key, struct{}{}, ttlcache.NoTTL)
		m.mu.Unlock()
		_, ok := m.Remove(key)
		return ok
	}
	return false
}

// Insert adds item unless its identity is already present
func (m *Mirror[T]) Insert(item T) bool {
	k := m.key(item)
	m.mu.Lock()
	if m.indexLocked(k) >= 0 {
		m.mu.Unlock()
		return false
	}
	m.entries = append(m.entries, Entry[T]{Key: k, Item: item})
	m.sortLocked()
	m.unlockAndNotify()
	return true
}

// Upsert adds item or replaces the entry with the same identity
func (m *Mirror[T]) Upsert(item T) {
	m.mu.Lock()
	m.upsertLocked(item)
	m.unlockAndNotify()
}

// Restore puts item back after a failed write, unless the feed has since
// deleted it. It reports whether item was restored.
func (m *Mirror[T]) Restore(item T) bool {
	m.mu.Lock()
	if m.deleted.Has(m.key(item)) {
		m.mu.Unlock()
		return false
	}
	m.upsertLocked(item)
	m.unlockAndNotify()
	return true
}

// Deleted reports whether the feed has reported key deleted
func (m *Mirror[T]) Deleted(key string) bool {
	return m.deleted.Has(key)
}

// Remove drops the entry with key and returns it
func (m *Mirror[T]) Remove(key string) (T, bool) {
	m.mu.Lock()
	i := m.indexLocked(key)
	if i < 0 {
		m.mu.Unlock()
		var zero T
		return zero, false
	}
	removed := m.entries[i].Item
	m.entries = slices.Delete(m.entries, i, i+1)
	m.unlockAndNotify()
	return removed, true
}

// AddProvisional shows item before the service has confirmed it and
// returns the temporary key it is filed under.
func (m *Mirror[T]) AddProvisional(item T) string {
	k := ProvisionalPrefix + uuid.NewString()
	m.mu.Lock()
	m.entries = append(m.entries, Entry[T]{Key: k, Item: item, Provisional: true})
	m.sortLocked()
	m.unlockAndNotify()
	return k
}

// Confirm swaps the provisional entry for the row the service stored. When
// the feed already delivered that row, the provisional entry is dropped.
// When the feed already deleted it, nothing is added back.
func (m *Mirror[T]) Confirm(tmpKey string, item T) {
	k := m.key(item)
	m.mu.Lock()
	gone := m.deleted.Has(k)
	tmp := m.indexLocked(tmpKey)
	existing := m.indexLocked(k)
	switch {
	case gone && tmp >= 0:
		m.entries = slices.Delete(m.entries, tmp, tmp+1)
	case gone:
		m.mu.Unlock()
		return
	case existing >= 0 && tmp >= 0:
		m.entries = slices.Delete(m.entries, tmp, tmp+1)
	case existing >= 0:
		// Already confirmed through the feed
	case tmp >= 0:
		m.entries[tmp] = Entry[T]{Key: k, Item: item}
	default:
		m.entries = append(m.entries, Entry[T]{Key: k, Item: item})
	}
	m.sortLocked()
	m.unlockAndNotify()
}

// Discard drops a provisional entry after its write failed
func (m *Mirror[T]) Discard(tmpKey string) bool {
	_, ok := m.Remove(tmpKey)
	return ok
}

// Items returns the mirrored items in order
func (m *Mirror[T]) Items() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]T, len(m.entries))
	for i, e := range m.entries {
		items[i] = e.Item
	}
	return items
}

// Entries returns the mirrored entries in order
func (m *Mirror[T]) Entries() []Entry[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

func (m *Mirror[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Confirmed counts the entries the service has acknowledged
func (m *Mirror[T]) Confirmed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if !e.Provisional {
			n++
		}
	}
	return n
}

func (m *Mirror[T]) Get(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(key); i >= 0 {
		return m.entries[i].Item, true
	}
	var zero T
	return zero, false
}

func (m *Mirror[T]) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexLocked(key) >= 0
}

func (m *Mirror[T]) upsertLocked(item T) {
	k := m.key(item)
	if i := m.indexLocked(k); i >= 0 {
		m.entries[i] = Entry[T]{Key: k, Item: item}
	} else {
		m.entries = append(m.entries, Entry[T]{Key: k, Item: item})
	}
	m.sortLocked()
}

func (m *Mirror[T]) indexLocked(key string) int {
	return slices.IndexFunc(m.entries, func(e Entry[T]) bool { return e.Key == key })
}

func (m *Mirror[T]) sortLocked() {
	if m.less == nil {
		return
	}
	slices.SortStableFunc(m.entries, func(a, b Entry[T]) int {
		switch {
		case m.less(a.Item, b.Item):
			return -1
		case m.less(b.Item, a.Item):
			return 1
		}
		return 0
	})
}

// unlockAndNotify releases the lock and then runs the listeners
func (m *Mirror[T]) unlockAndNotify() {
	listeners := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
