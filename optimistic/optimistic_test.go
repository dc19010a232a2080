// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package optimistic_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/gateway/gatewaytest"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/optimistic"
	"github.com/danielhkuo/daystogether/reconcile"
)

func newAchievements(t *testing.T) (*gatewaytest.Fake, *optimistic.Controller[models.Achievement]) {
	t.Helper()
	fake := gatewaytest.New(t)
	table := gateway.NewTable[models.Achievement](fake, models.TableAchievements)
	mirror := reconcile.NewRecordMirror(func(a, b models.Achievement) bool { return a.Date > b.Date })
	sub, err := reconcile.Follow(t.Context(), table, mirror, gateway.Query{})
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)
	return fake, optimistic.NewController(table, mirror)
}

func TestCreateShowsProvisionalThenConfirms(t *testing.T) {
	fake, ctl := newAchievements(t)
	release := fake.Gate(gatewaytest.OpInsert, models.TableAchievements)

	done := make(chan error, 1)
	go func() {
		_, err := ctl.Create(context.Background(), models.Achievement{Title: "Trip", Date: "2024-05-01", Icon: "✈️"})
		done <- err
	}()

	require.Eventually(t, func() bool { return ctl.Mirror().Len() == 1 }, time.Second, time.Millisecond)
	assert.True(t, ctl.Mirror().Entries()[0].Provisional)

	release()
	require.NoError(t, <-done)

	entries := ctl.Mirror().Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Provisional)
	assert.Equal(t, "Trip", entries[0].Item.Title)
}

func TestCreateFailureRollsBack(t *testing.T) {
	fake, ctl := newAchievements(t)
	fake.Seed(models.TableAchievements, models.Achievement{Title: "Met", Date: "2020-01-01", Icon: "💕"})
	require.Equal(t, 1, ctl.Mirror().Len())

	fake.FailOnce(gatewaytest.OpInsert, models.TableAchievements, nil)
	_, err := ctl.Create(t.Context(), models.Achievement{Title: "Trip", Date: "2024-05-01", Icon: "✈️"})

	assert.ErrorIs(t, err, gatewaytest.ErrInjected)
	assert.Equal(t, 1, ctl.Mirror().Len())
	assert.Equal(t, 1, ctl.Mirror().Confirmed())
}

func TestCreateRejectsInvalidDraft(t *testing.T) {
	fake, ctl := newAchievements(t)

	_, err := ctl.Create(t.Context(), models.Achievement{Title: "No date"})
	assert.ErrorIs(t, err, models.ErrInvalidDate)
	assert.Zero(t, ctl.Mirror().Len())
	assert.Zero(t, fake.CallCount(gatewaytest.OpInsert, models.TableAchievements))
}

func TestCreateFeedBeforeResponse(t *testing.T) {
	fake, ctl := newAchievements(t)

	// Fake delivers the echo before Insert returns
	_, err := ctl.Create(t.Context(), models.Achievement{Title: "A", Date: "2024-01-01"})
	require.NoError(t, err)
	assert.Equal(t, 1, ctl.Mirror().Len())

	// Response before echo
	fake.HoldEvents()
	_, err = ctl.Create(t.Context(), models.Achievement{Title: "B", Date: "2024-02-01"})
	require.NoError(t, err)
	fake.Flush()

	assert.Equal(t, 2, ctl.Mirror().Len())
	assert.Equal(t, 2, ctl.Mirror().Confirmed())
}

func TestDeleteFailureRestores(t *testing.T) {
	fake, ctl := newAchievements(t)
	id := fake.Seed(models.TableAchievements, models.Achievement{Title: "Met", Date: "2020-01-01"})

	fake.FailOnce(gatewaytest.OpDelete, models.TableAchievements, nil)
	err := ctl.Delete(t.Context(), id)

	assert.ErrorIs(t, err, gatewaytest.ErrInjected)
	assert.True(t, ctl.Mirror().Contains(id))

	require.NoError(t, ctl.Delete(t.Context(), id))
	assert.False(t, ctl.Mirror().Contains(id))
	assert.Empty(t, fake.Rows(models.TableAchievements))
}

// A failed delete does not bring back a row the feed has since deleted
func TestDeleteFailureAfterFeedDelete(t *testing.T) {
	fake, ctl := newAchievements(t)
	id := fake.Seed(models.TableAchievements, models.Achievement{Title: "Met", Date: "2020-01-01"})

	release := fake.Gate(gatewaytest.OpDelete, models.TableAchievements)
	fake.FailOnce(gatewaytest.OpDelete, models.TableAchievements, nil)

	errc := make(chan error, 1)
	go func() { errc <- ctl.Delete(t.Context(), id) }()
	require.Eventually(t, func() bool {
		return fake.CallCount(gatewaytest.OpDelete, models.TableAchievements) == 1
	}, time.Second, time.Millisecond)

	// The partner's delete reaches the feed first
	fake.RemoveRow(models.TableAchievements, id)
	release()

	assert.ErrorIs(t, <-errc, gatewaytest.ErrInjected)
	assert.False(t, ctl.Mirror().Contains(id))
	assert.Zero(t, ctl.Mirror().Len())
}

func TestDeleteProvisional(t *testing.T) {
	_, ctl := newAchievements(t)
	tmp := ctl.Mirror().AddProvisional(models.Achievement{Title: "x"})

	assert.ErrorIs(t, ctl.Delete(t.Context(), tmp), optimistic.ErrPending)
	assert.True(t, ctl.Mirror().Contains(tmp))
}

func TestUpdateRollsBack(t *testing.T) {
	fake, ctl := newAchievements(t)
	id := fake.Seed(models.TableAchievements, models.Achievement{Title: "Met", Date: "2020-01-01"})
	rename := func(a models.Achievement) models.Achievement { a.Title = "Renamed"; return a }

	fake.FailOnce(gatewaytest.OpUpdate, models.TableAchievements, nil)
	err := ctl.Update(t.Context(), id, map[string]string{"title": "Renamed"}, rename)
	assert.Error(t, err)
	got, _ := ctl.Mirror().Get(id)
	assert.Equal(t, "Met", got.Title)

	require.NoError(t, ctl.Update(t.Context(), id, map[string]string{"title": "Renamed"}, rename))
	got, _ = ctl.Mirror().Get(id)
	assert.Equal(t, "Renamed", got.Title)
}

func TestGuard(t *testing.T) {
	var g optimistic.Guard
	entered := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Do(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	assert.True(t, g.Busy())
	called := false
	err := g.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, optimistic.ErrBusy)
	assert.False(t, called)

	close(release)
	wg.Wait()
	assert.False(t, g.Busy())
	assert.NoError(t, g.Do(func() error { return nil }))
}

func TestOnce(t *testing.T) {
	var o optimistic.Once
	boom := errors.New("boom")

	assert.ErrorIs(t, o.Do(func() error { return boom }), boom)
	assert.False(t, o.Done())

	assert.NoError(t, o.Do(func() error { return nil }))
	assert.True(t, o.Done())

	assert.ErrorIs(t, o.Do(func() error { return nil }), optimistic.ErrAlreadyDone)
}

func TestToggle(t *testing.T) {
	var added, removed int
	add := func(context.Context) error { added++; return nil }
	remove := func(context.Context) error { removed++; return nil }

	require.NoError(t, optimistic.Toggle(t.Context(), false, add, remove))
	require.NoError(t, optimistic.Toggle(t.Context(), true, add, remove))
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
}
