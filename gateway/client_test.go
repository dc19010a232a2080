// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package gateway_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/daystogether/cliparse"
	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/realtime"
	"github.com/danielhkuo/daystogether/router"
	"github.com/danielhkuo/daystogether/testutil"
)

type service struct {
	srv   *httptest.Server
	hub   *realtime.Hub
	cfg   cliparse.Config
	conns *trackingListener
}

// trackingListener remembers accepted connections so a test can cut them,
// including hijacked websockets the test server no longer tracks.
type trackingListener struct {
	net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func (l *trackingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err == nil {
		l.mu.Lock()
		l.conns = append(l.conns, c)
		l.mu.Unlock()
	}
	return c, err
}

func (l *trackingListener) dropAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.conns {
		c.Close()
	}
	l.conns = nil
}

func startService(t *testing.T) *service {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	conns := &trackingListener{Listener: ln}
	baseURL := "http://" + ln.Addr().String()

	cfg := testutil.GetTestConfig()
	cfg.PublicURL = baseURL
	hub := realtime.NewHub()
	store := testutil.SetupTestStore(t, hub)

	srv := httptest.NewUnstartedServer(router.NewRouter(store, hub, testutil.SetupTestBuckets(t, baseURL), cfg))
	srv.Listener.Close()
	srv.Listener = conns
	srv.Start()
	t.Cleanup(srv.Close)

	return &service{srv: srv, hub: hub, cfg: cfg, conns: conns}
}

func (s *service) client(t *testing.T, key string, opts ...gateway.Option) *gateway.Client {
	t.Helper()
	c, err := gateway.New(cliparse.ClientConfig{ServiceURL: s.srv.URL, ServiceKey: key}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewRequiresEndpointAndKey(t *testing.T) {
	_, err := gateway.New(cliparse.ClientConfig{ServiceKey: "k"})
	assert.Error(t, err)

	_, err = gateway.New(cliparse.ClientConfig{ServiceURL: "http://localhost"})
	assert.Error(t, err)
}

func TestRowRoundTrip(t *testing.T) {
	s := startService(t)
	c := s.client(t, testutil.AnonKey(t, s.cfg))
	ctx := t.Context()
	messages := gateway.NewTable[models.Message](c, models.TableMessages)

	first, err := messages.Insert(ctx, models.Message{Text: "first", Sender: models.Name1})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.NotEmpty(t, first.Date)

	_, err = messages.Insert(ctx, models.Message{Text: "second", Sender: models.Name2})
	require.NoError(t, err)

	rows, err := messages.FetchAll(ctx, gateway.Query{OrderBy: "date"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "first", rows[0].Text)
	assert.Equal(t, "second", rows[1].Text)

	one, err := messages.FetchOne(ctx, gateway.Query{Filters: []gateway.Filter{gateway.Eq("sender", "name2")}})
	require.NoError(t, err)
	assert.Equal(t, "second", one.Text)

	_, err = messages.FetchOne(ctx, gateway.Query{Filters: []gateway.Filter{gateway.Eq("text", "nope")}})
	assert.ErrorIs(t, err, gateway.ErrNotFound)

	require.NoError(t, messages.Update(ctx, first.ID, map[string]string{"text": "edited"}))
	edited, err := messages.FetchOne(ctx, gateway.Query{Filters: []gateway.Filter{gateway.Eq("id", first.ID)}})
	require.NoError(t, err)
	assert.Equal(t, "edited", edited.Text)

	n, err := messages.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, messages.Delete(ctx, first.ID))
	n, err = messages.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRequestErrors(t *testing.T) {
	s := startService(t)
	ctx := t.Context()

	_, err := s.client(t, "garbage").Count(ctx, models.TableMessages)
	var reqErr *gateway.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)

	c := s.client(t, testutil.AnonKey(t, s.cfg))

	_, err = c.Select(ctx, "guestbook", gateway.Query{})
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.Status)

	_, err = c.Insert(ctx, models.TableBlessingStats, map[string]string{})
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusMethodNotAllowed, reqErr.Status)

	// Emptying a collection needs a service_role key
	err = c.Delete(ctx, models.TableMessages, nil)
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusForbidden, reqErr.Status)

	admin := s.client(t, testutil.ServiceKey(t, s.cfg))
	assert.NoError(t, admin.Delete(ctx, models.TableMessages, nil))

	err = c.Update(ctx, models.TableMessages, nil, map[string]string{"text": "x"})
	assert.ErrorIs(t, err, gateway.ErrNoFilter)
}

func TestTableRejectsInvalidRows(t *testing.T) {
	s := startService(t)
	c := s.client(t, testutil.AnonKey(t, s.cfg))
	ctx := t.Context()

	// Written untyped, so the service stores a sender the client rejects
	_, err := c.Insert(ctx, models.TableMessages, map[string]string{"text": "bad", "sender": "name3"})
	require.NoError(t, err)
	_, err = c.Insert(ctx, models.TableMessages, map[string]string{"text": "good", "sender": "name1"})
	require.NoError(t, err)

	rows, err := gateway.NewTable[models.Message](c, models.TableMessages).FetchAll(ctx, gateway.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "good", rows[0].Text)

	_, err = gateway.NewTable[models.PhotoPost](c, models.TablePhotos).Insert(ctx, models.PhotoPost{})
	assert.ErrorIs(t, err, models.ErrNoImages)

	assert.ErrorIs(t, gateway.NewTable[models.Song](c, models.TableSongs).Delete(ctx, ""), models.ErrMissingID)
}

func TestStorageRoundTrip(t *testing.T) {
	s := startService(t)
	c := s.client(t, testutil.AnonKey(t, s.cfg))
	ctx := t.Context()

	url, err := c.Upload(ctx, models.BucketMusic, "a song.mp3", strings.NewReader("ID3"))
	require.NoError(t, err)
	assert.Equal(t, c.PublicURL(models.BucketMusic, "a song.mp3"), url)

	resp, err := http.Get(url)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ID3", string(body))

	objects, err := c.List(ctx, models.BucketMusic)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "a song.mp3", objects[0].Name)

	require.NoError(t, c.Remove(ctx, models.BucketMusic, "a song.mp3"))
	objects, err = c.List(ctx, models.BucketMusic)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestSubscribeDeliversChanges(t *testing.T) {
	s := startService(t)
	c := s.client(t, testutil.AnonKey(t, s.cfg))
	ctx := t.Context()
	places := gateway.NewTable[models.VisitedPlace](c, models.TableVisitedPlaces)

	changes := make(chan gateway.Change[models.VisitedPlace], 8)
	sub, err := places.Subscribe(ctx, func(ch gateway.Change[models.VisitedPlace]) { changes <- ch })
	require.NoError(t, err)

	created, err := places.Insert(ctx, models.VisitedPlace{Name: "北京市"})
	require.NoError(t, err)

	ch := receive(t, changes)
	assert.Equal(t, models.EventInsert, ch.Kind)
	assert.Equal(t, created.ID, ch.Key)
	assert.Equal(t, "北京市", ch.Row.Name)

	require.NoError(t, places.Delete(ctx, created.ID))
	ch = receive(t, changes)
	assert.Equal(t, models.EventDelete, ch.Kind)
	assert.Equal(t, created.ID, ch.Key)

	sub.Unsubscribe()
	sub.Unsubscribe()
	waitFor(t, func() bool { return s.hub.Subscribers(models.TableVisitedPlaces) == 0 })
}

func TestSubscribeSharesOneTopic(t *testing.T) {
	s := startService(t)
	c := s.client(t, testutil.AnonKey(t, s.cfg))
	ctx := t.Context()

	var mu sync.Mutex
	var a, b int
	subA, err := c.Subscribe(ctx, models.TableBlessings, func(models.ChangeEvent) { mu.Lock(); a++; mu.Unlock() })
	require.NoError(t, err)
	subB, err := c.Subscribe(ctx, models.TableBlessings, func(models.ChangeEvent) { mu.Lock(); b++; mu.Unlock() })
	require.NoError(t, err)
	assert.Equal(t, 1, s.hub.Subscribers(models.TableBlessings))

	_, err = c.Insert(ctx, models.TableBlessings, map[string]string{})
	require.NoError(t, err)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return a == 1 && b == 1 })

	// The topic stays subscribed while one listener remains
	subA.Unsubscribe()
	_, err = c.Insert(ctx, models.TableBlessings, map[string]string{})
	require.NoError(t, err)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return b == 2 })
	mu.Lock()
	assert.Equal(t, 1, a)
	mu.Unlock()

	subB.Unsubscribe()
	waitFor(t, func() bool { return s.hub.Subscribers(models.TableBlessings) == 0 })
}

func TestSubscribeUnknownTopicRejected(t *testing.T) {
	s := startService(t)
	c := s.client(t, testutil.AnonKey(t, s.cfg))

	done := make(chan error, 1)
	go func() {
		_, err := c.Subscribe(context.Background(), "guestbook", func(models.ChangeEvent) {})
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, gateway.ErrRejected)
		assert.Contains(t, err.Error(), "unknown topic")
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribe to an unknown topic did not return")
	}

	// The connection stays usable
	_, err := c.Subscribe(t.Context(), models.TableMessages, func(models.ChangeEvent) {})
	assert.NoError(t, err)
}

func TestSubscribeRejectsBadKey(t *testing.T) {
	s := startService(t)
	c := s.client(t, "garbage")

	_, err := c.Subscribe(t.Context(), models.TableMessages, func(models.ChangeEvent) {})
	var reqErr *gateway.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
}

func TestPresence(t *testing.T) {
	s := startService(t)
	key := testutil.AnonKey(t, s.cfg)
	me := s.client(t, key)
	partner := s.client(t, key)
	ctx := t.Context()

	states := make(chan gateway.PresenceState, 16)
	sub, err := me.WatchPresence(ctx, models.TopicPresence, func(st gateway.PresenceState) { states <- st })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, partner.Track(ctx, models.TopicPresence, models.Presence{User: models.Name2, IsFocused: true}))

	st := receiveState(t, states, func(st gateway.PresenceState) bool { return len(st) == 1 })
	for _, ps := range st {
		assert.Equal(t, models.Name2, ps[0].User)
	}

	require.NoError(t, partner.Untrack(ctx, models.TopicPresence))
	receiveState(t, states, func(st gateway.PresenceState) bool { return len(st) == 0 })

	assert.ErrorIs(t, me.Track(ctx, models.TopicPresence, models.Presence{User: "name3"}), models.ErrInvalidParticipant)
}

func TestClientReconnects(t *testing.T) {
	s := startService(t)
	c := s.client(t, testutil.AnonKey(t, s.cfg), gateway.WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	ctx := t.Context()

	events := make(chan models.ChangeEvent, 64)
	_, err := c.Subscribe(ctx, models.TablePublicMessages, func(ev models.ChangeEvent) { events <- ev })
	require.NoError(t, err)

	// Cut every connection; the client must dial back in and resubscribe
	s.conns.dropAll()

	require.Eventually(t, func() bool {
		if _, err := c.Insert(ctx, models.TablePublicMessages, map[string]string{"text": "still here"}); err != nil {
			return false
		}
		select {
		case ev := <-events:
			return ev.Event == models.EventInsert
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}

func TestClosedClient(t *testing.T) {
	s := startService(t)
	c := s.client(t, testutil.AnonKey(t, s.cfg))
	require.NoError(t, c.Close())

	_, err := c.Subscribe(t.Context(), models.TableMessages, func(models.ChangeEvent) {})
	assert.True(t, errors.Is(err, gateway.ErrClosed))
	assert.NoError(t, c.Close())
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	panic("unreachable")
}

func receiveState(t *testing.T, ch <-chan gateway.PresenceState, want func(gateway.PresenceState) bool) gateway.PresenceState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-ch:
			if want(st) {
				return st
			}
		case <-deadline:
			t.Fatal("timed out waiting for presence state")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
