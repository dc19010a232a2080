// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/daystogether/app"
	"github.com/danielhkuo/daystogether/gateway/gatewaytest"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/optimistic"
)

func openBlessings(t *testing.T, fake *gatewaytest.Fake, actx *app.Context) *app.BlessingCounter {
	t.Helper()
	b, err := app.OpenBlessingCounter(t.Context(), actx)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestBlessingCounterCounts(t *testing.T) {
	fake, actx := newTestContext(t)
	fake.Seed(models.TableBlessings, models.Blessing{})
	fake.Seed(models.TableBlessings, models.Blessing{})
	b := openBlessings(t, fake, actx)
	require.Equal(t, 2, b.Count())

	require.NoError(t, b.Bless(t.Context()))
	assert.Equal(t, 3, b.Count())
	assert.True(t, b.Blessed())

	assert.ErrorIs(t, b.Bless(t.Context()), optimistic.ErrAlreadyDone)
	assert.Equal(t, 3, b.Count())

	// Someone else blesses
	fake.Seed(models.TableBlessings, models.Blessing{})
	assert.Equal(t, 4, b.Count())
	assert.Len(t, fake.Rows(models.TableBlessings), 4)
}

func TestBlessingFailureRestoresCount(t *testing.T) {
	fake, actx := newTestContext(t)
	fake.Seed(models.TableBlessings, models.Blessing{})
	b := openBlessings(t, fake, actx)
	before := b.Count()

	fake.FailOnce(gatewaytest.OpInsert, models.TableBlessings, nil)
	err := b.Bless(t.Context())

	assert.ErrorIs(t, err, gatewaytest.ErrInjected)
	assert.Equal(t, before, b.Count())
	assert.False(t, b.Blessed())

	// The failed attempt does not use up the session's blessing
	require.NoError(t, b.Bless(t.Context()))
	assert.Equal(t, before+1, b.Count())
}

func TestBlessingPendingCountsOnce(t *testing.T) {
	fake, actx := newTestContext(t)
	b := openBlessings(t, fake, actx)
	release := fake.Gate(gatewaytest.OpInsert, models.TableBlessings)

	done := make(chan error, 1)
	go func() { done <- b.Bless(t.Context()) }()

	require.Eventually(t, func() bool { return b.Count() == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, b.Bless(t.Context()), optimistic.ErrBusy)

	release()
	require.NoError(t, <-done)
	assert.Equal(t, 1, b.Count())
}

func TestBlessingResponseBeforeFeed(t *testing.T) {
	fake, actx := newTestContext(t)
	b := openBlessings(t, fake, actx)

	fake.HoldEvents()
	require.NoError(t, b.Bless(t.Context()))
	assert.Equal(t, 1, b.Count())

	fake.Flush()
	assert.Equal(t, 1, b.Count())
}
