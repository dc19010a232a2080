// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/gateway/gatewaytest"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/reconcile"
)

func byDate(a, b models.Message) bool { return a.Date < b.Date }

func TestMirrorApply(t *testing.T) {
	m := reconcile.NewRecordMirror(byDate)

	assert.True(t, m.Apply(models.EventInsert, "a", models.Message{ID: "a", Text: "one", Date: "2"}))
	assert.False(t, m.Apply(models.EventInsert, "a", models.Message{ID: "a", Text: "dup", Date: "2"}))
	assert.True(t, m.Apply(models.EventInsert, "b", models.Message{ID: "b", Text: "zero", Date: "1"}))

	items := m.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, "one", items[1].Text)

	assert.True(t, m.Apply(models.EventUpdate, "a", models.Message{ID: "a", Text: "edited", Date: "2"}))
	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "edited", got.Text)

	assert.True(t, m.Apply(models.EventDelete, "a", models.Message{}))
	assert.False(t, m.Apply(models.EventDelete, "a", models.Message{}))
	assert.False(t, m.Contains("a"))
	assert.Equal(t, 1, m.Len())

	assert.False(t, m.Apply("TRUNCATE", "", models.Message{}))
}

func TestMirrorResetKeepsProvisional(t *testing.T) {
	m := reconcile.NewRecordMirror[models.Message](nil)
	tmp := m.AddProvisional(models.Message{Text: "sending"})
	assert.True(t, reconcile.IsProvisional(tmp))

	m.Reset([]models.Message{{ID: "a"}, {ID: "a"}, {ID: "b"}})

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 2, m.Confirmed())
	assert.True(t, m.Contains(tmp))
}

// Every arrival order of insert response and feed echo ends with exactly
// one entry for the stored row.
func TestMirrorOneEntryPerIdentity(t *testing.T) {
	stored := models.Message{ID: "srv-1", Text: "hi", Date: "1"}

	orders := map[string]func(m *reconcile.Mirror[models.Message], tmp string){
		"response first": func(m *reconcile.Mirror[models.Message], tmp string) {
			m.Confirm(tmp, stored)
			m.Apply(models.EventInsert, stored.ID, stored)
		},
		"feed first": func(m *reconcile.Mirror[models.Message], tmp string) {
			m.Apply(models.EventInsert, stored.ID, stored)
			m.Confirm(tmp, stored)
		},
		"feed twice": func(m *reconcile.Mirror[models.Message], tmp string) {
			m.Apply(models.EventInsert, stored.ID, stored)
			m.Confirm(tmp, stored)
			m.Apply(models.EventInsert, stored.ID, stored)
		},
		"refetch between": func(m *reconcile.Mirror[models.Message], tmp string) {
			m.Apply(models.EventInsert, stored.ID, stored)
			m.Reset([]models.Message{stored})
			m.Confirm(tmp, stored)
		},
	}

	for name, apply := range orders {
		t.Run(name, func(t *testing.T) {
			m := reconcile.NewRecordMirror(byDate)
			tmp := m.AddProvisional(models.Message{Text: "hi", Date: "1"})
			apply(m, tmp)

			entries := m.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, "srv-1", entries[0].Key)
			assert.False(t, entries[0].Provisional)
		})
	}
}

// A row the feed deleted stays gone, even when the insert response or a
// rollback arrives after the delete event.
func TestMirrorDeletedStaysDeleted(t *testing.T) {
	stored := models.Message{ID: "srv-1", Text: "hi", Date: "1"}

	t.Run("late confirm", func(t *testing.T) {
		m := reconcile.NewRecordMirror(byDate)
		tmp := m.AddProvisional(models.Message{Text: "hi", Date: "1"})
		m.Apply(models.EventInsert, stored.ID, stored)
		m.Apply(models.EventDelete, stored.ID, models.Message{})
		m.Confirm(tmp, stored)

		assert.Zero(t, m.Len())
		assert.True(t, m.Deleted(stored.ID))
	})

	t.Run("late confirm without echo", func(t *testing.T) {
		m := reconcile.NewRecordMirror(byDate)
		m.AddProvisional(models.Message{Text: "hi", Date: "1"})
		m.Apply(models.EventDelete, stored.ID, models.Message{})
		m.Confirm("tmp-unknown", stored)

		require.Equal(t, 1, m.Len())
		assert.True(t, m.Entries()[0].Provisional)
	})

	t.Run("restore", func(t *testing.T) {
		m := reconcile.NewRecordMirror(byDate)
		m.Insert(stored)
		removed, ok := m.Remove(stored.ID)
		require.True(t, ok)
		m.Apply(models.EventDelete, stored.ID, models.Message{})

		assert.False(t, m.Restore(removed))
		assert.Zero(t, m.Len())
	})

	t.Run("restore live row", func(t *testing.T) {
		m := reconcile.NewRecordMirror(byDate)
		m.Insert(stored)
		removed, _ := m.Remove(stored.ID)

		assert.True(t, m.Restore(removed))
		assert.True(t, m.Contains(stored.ID))
	})
}

func TestMirrorDiscard(t *testing.T) {
	m := reconcile.NewRecordMirror[models.Message](nil)
	tmp := m.AddProvisional(models.Message{Text: "x"})

	assert.True(t, m.Discard(tmp))
	assert.False(t, m.Discard(tmp))
	assert.Zero(t, m.Len())
}

func TestMirrorOnChange(t *testing.T) {
	m := reconcile.NewRecordMirror[models.Message](nil)
	calls := 0
	cancel := m.OnChange(func() {
		// Listeners run outside the lock and may read the mirror
		_ = m.Items()
		calls++
	})

	m.Insert(models.Message{ID: "a"})
	m.Insert(models.Message{ID: "a"})
	m.Upsert(models.Message{ID: "a", Text: "x"})
	assert.Equal(t, 2, calls)

	cancel()
	m.Remove("a")
	assert.Equal(t, 2, calls)
}

func TestFollow(t *testing.T) {
	fake := gatewaytest.New(t)
	fake.Seed(models.TableMessages, models.Message{Text: "before"})

	table := gateway.NewTable[models.Message](fake, models.TableMessages)
	m := reconcile.NewRecordMirror(byDate)
	sub, err := reconcile.Follow(t.Context(), table, m, gateway.Query{})
	require.NoError(t, err)

	require.Equal(t, 1, m.Len())

	id := fake.Seed(models.TableMessages, models.Message{Text: "after"})
	assert.Equal(t, 2, m.Len())

	fake.RemoveRow(models.TableMessages, id)
	assert.Equal(t, 1, m.Len())

	sub.Unsubscribe()
	fake.Seed(models.TableMessages, models.Message{Text: "unheard"})
	assert.Equal(t, 1, m.Len())
	assert.Zero(t, fake.Subscribers(models.TableMessages))
}

// Writes that land while the snapshot is loading are neither lost nor
// doubled.
func TestFollowWriteDuringFetch(t *testing.T) {
	fake := gatewaytest.New(t)
	table := gateway.NewTable[models.Message](fake, models.TableMessages)
	m := reconcile.NewRecordMirror(byDate)

	release := fake.Gate(gatewaytest.OpSelect, models.TableMessages)

	var wg sync.WaitGroup
	var followErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, followErr = reconcile.Follow(t.Context(), table, m, gateway.Query{})
	}()

	require.Eventually(t, func() bool {
		return fake.CallCount(gatewaytest.OpSelect, models.TableMessages) == 1
	}, time.Second, time.Millisecond)

	// The row is both in the snapshot and in the buffered events
	fake.Seed(models.TableMessages, models.Message{Text: "racing"})
	release()
	wg.Wait()

	require.NoError(t, followErr)
	assert.Equal(t, 1, m.Len())
}

func TestFollowFetchFailure(t *testing.T) {
	fake := gatewaytest.New(t)
	fake.FailOnce(gatewaytest.OpSelect, models.TableMessages, errors.New("offline"))

	table := gateway.NewTable[models.Message](fake, models.TableMessages)
	_, err := reconcile.Follow(t.Context(), table, reconcile.NewRecordMirror(byDate), gateway.Query{})

	require.Error(t, err)
	assert.Zero(t, fake.Subscribers(models.TableMessages))
}

func TestFollowNames(t *testing.T) {
	fake := gatewaytest.New(t)
	fake.Seed(models.TableVisitedPlaces, models.VisitedPlace{Name: "北京市"})

	table := gateway.NewTable[models.VisitedPlace](fake, models.TableVisitedPlaces)
	set := reconcile.NewNameSet(func(ctx context.Context) ([]string, error) {
		rows, err := table.FetchAll(ctx, gateway.Query{Columns: []string{"id", "name"}})
		if err != nil {
			return nil, err
		}
		names := make([]string, len(rows))
		for i, r := range rows {
			names[i] = r.Name
		}
		return names, nil
	})

	sub, err := reconcile.FollowNames(t.Context(), table, set, func(p models.VisitedPlace) string { return p.Name })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Equal(t, []string{"北京市"}, set.Names())
	selects := fake.CallCount(gatewaytest.OpSelect, models.TableVisitedPlaces)

	id := fake.Seed(models.TableVisitedPlaces, models.VisitedPlace{Name: "上海市"})
	assert.True(t, set.Has("上海市"))
	assert.Equal(t, selects, fake.CallCount(gatewaytest.OpSelect, models.TableVisitedPlaces), "inserts need no refetch")

	fake.RemoveRow(models.TableVisitedPlaces, id)
	assert.False(t, set.Has("上海市"))
	assert.Equal(t, selects+1, fake.CallCount(gatewaytest.OpSelect, models.TableVisitedPlaces), "deletes refetch")
	assert.Equal(t, 1, set.Len())
}

// A name inserted after the snapshot was read survives the snapshot
// landing.
func TestFollowNamesInsertDuringLoad(t *testing.T) {
	fake := gatewaytest.New(t)
	table := gateway.NewTable[models.VisitedPlace](fake, models.TableVisitedPlaces)

	fetched := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	set := reconcile.NewNameSet(func(ctx context.Context) ([]string, error) {
		rows, err := table.FetchAll(ctx, gateway.Query{Columns: []string{"id", "name"}})
		if err != nil {
			return nil, err
		}
		once.Do(func() {
			close(fetched)
			<-release
		})
		names := make([]string, len(rows))
		for i, r := range rows {
			names[i] = r.Name
		}
		return names, nil
	})

	var wg sync.WaitGroup
	var sub *gateway.Subscription
	var followErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		sub, followErr = reconcile.FollowNames(t.Context(), table, set, func(p models.VisitedPlace) string { return p.Name })
	}()

	<-fetched
	fake.Seed(models.TableVisitedPlaces, models.VisitedPlace{Name: "北京市"})
	close(release)
	wg.Wait()

	require.NoError(t, followErr)
	defer sub.Unsubscribe()
	assert.Equal(t, []string{"北京市"}, set.Names())
	assert.False(t, set.Loading())
}

// When loads overlap, the one started last wins regardless of finish order.
func TestNameSetOverlappingLoads(t *testing.T) {
	first := make(chan struct{})
	var calls atomic.Int32
	set := reconcile.NewNameSet(func(ctx context.Context) ([]string, error) {
		if calls.Add(1) == 1 {
			<-first
			return []string{"stale"}, nil
		}
		return []string{"fresh"}, nil
	})

	done := make(chan error, 1)
	go func() { done <- set.Load(t.Context()) }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, set.Load(t.Context()))
	assert.True(t, set.Loading())
	close(first)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"fresh"}, set.Names())
	assert.False(t, set.Loading())
}
