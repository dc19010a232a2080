// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package gatewaytest provides an in-process gateway for tests. It runs the
// real row store on in-memory SQLite and the real realtime hub, and adds
// failure injection, call gating and held event delivery on top.
package gatewaytest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/danielhkuo/daystogether/db"
	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/realtime"
	"github.com/danielhkuo/daystogether/storage"
	"github.com/danielhkuo/daystogether/testutil"
)

// BaseURL is the service address used in public object links
const BaseURL = "https://fake.invalid"

// Operations that can be failed or gated
const (
	OpSelect    = "select"
	OpCount     = "count"
	OpInsert    = "insert"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpSubscribe = "subscribe"
	OpUpload    = "upload"
	OpRemove    = "remove"
	OpList      = "list"
	OpTrack     = "track"
)

// ErrInjected is the default error returned by Fail and FailOnce
var ErrInjected = errors.New("injected failure")

// selfKey is the presence key of the client under test
const selfKey = "self"

// Call is one recorded gateway call. Target is the table, bucket or topic.
type Call struct {
	Op     string
	Target string
}

type failure struct {
	err  error
	once bool
}

// Fake implements gateway.Service, gateway.Storage and gateway.Presence.
type Fake struct {
	t       *testing.T
	store   *db.Store
	buckets *storage.Buckets
	hub     *realtime.Hub

	mu       sync.Mutex
	calls    []Call
	failures map[Call]failure
	gates    map[Call]chan struct{}
	holding  bool
	held     []models.ChangeEvent
}

var (
	_ gateway.Service  = (*Fake)(nil)
	_ gateway.Storage  = (*Fake)(nil)
	_ gateway.Presence = (*Fake)(nil)
)

// New returns an empty fake. Change events are delivered synchronously
// while the write that caused them is still in progress, which is the
// "feed before response" ordering.
func New(t *testing.T) *Fake {
	t.Helper()
	f := &Fake{
		t:        t,
		buckets:  testutil.SetupTestBuckets(t, BaseURL),
		hub:      realtime.NewHub(),
		failures: make(map[Call]failure),
		gates:    make(map[Call]chan struct{}),
	}
	f.store = testutil.SetupTestStore(t, publisherFunc(f.publish))
	return f
}

type publisherFunc func(models.ChangeEvent)

func (fn publisherFunc) Publish(ev models.ChangeEvent) { fn(ev) }

func (f *Fake) publish(ev models.ChangeEvent) {
	f.mu.Lock()
	if f.holding {
		f.held = append(f.held, ev)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.hub.Publish(ev)
}

// HoldEvents queues change events until Flush, so a write's response
// reaches the caller before its feed echo.
func (f *Fake) HoldEvents() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holding = true
}

// Flush delivers the held events in order and resumes immediate delivery
func (f *Fake) Flush() {
	f.mu.Lock()
	held := f.held
	f.held = nil
	f.holding = false
	f.mu.Unlock()

	for _, ev := range held {
		f.hub.Publish(ev)
	}
}

// Fail makes every op on target return err until Heal. A nil err means
// ErrInjected.
func (f *Fake) Fail(op, target string, err error) {
	f.setFailure(op, target, err, false)
}

// FailOnce makes the next op on target return err
func (f *Fake) FailOnce(op, target string, err error) {
	f.setFailure(op, target, err, true)
}

func (f *Fake) setFailure(op, target string, err error, once bool) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[Call{op, target}] = failure{err: err, once: once}
}

// Heal clears every injected failure
func (f *Fake) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.failures)
}

// Gate blocks op on target until the returned release func is called.
// Release is idempotent.
func (f *Fake) Gate(op, target string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[Call{op, target}] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gates[Call{op, target}] == ch {
				delete(f.gates, Call{op, target})
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns the recorded calls in order
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallCount returns how many times op was called on target
func (f *Fake) CallCount(op, target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op && c.Target == target {
			n++
		}
	}
	return n
}

// enter records the call, waits on any gate and returns the injected error
func (f *Fake) enter(ctx context.Context, op, target string) error {
	key := Call{op, target}

	f.mu.Lock()
	f.calls = append(f.calls, key)
	gate := f.gates[key]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.failures[key]
	if !ok {
		return nil
	}
	if fl.once {
		delete(f.failures, key)
	}
	return fl.err
}

// Seed writes row directly, as another client would. The change feed sees
// the write; failures and gates do not apply.
func (f *Fake) Seed(table string, row any) string {
	f.t.Helper()
	r, err := toRow(row)
	if err != nil {
		f.t.Fatalf("Failed to encode seed row for %s: %v", table, err)
	}
	created, err := f.store.Insert(context.Background(), table, r)
	if err != nil {
		f.t.Fatalf("Failed to seed %s: %v", table, err)
	}
	return created["id"].(string)
}

// RemoveRow deletes a row directly, as another client would
func (f *Fake) RemoveRow(table, id string) {
	f.t.Helper()
	if _, err := f.store.Delete(context.Background(), table, []db.Filter{{Column: "id", Value: id}}, false); err != nil {
		f.t.Fatalf("Failed to remove %s/%s: %v", table, id, err)
	}
}

// Rows returns the stored rows of table in its default order
func (f *Fake) Rows(table string) []json.RawMessage {
	f.t.Helper()
	rows, err := f.store.Select(context.Background(), table, db.Query{})
	if err != nil {
		f.t.Fatalf("Failed to read %s: %v", table, err)
	}
	return encodeRows(f.t, rows)
}

// Objects returns the object keys in bucket
func (f *Fake) Objects(bucket string) []string {
	f.t.Helper()
	infos, err := f.buckets.List(context.Background(), bucket)
	if err != nil {
		f.t.Fatalf("Failed to list %s: %v", bucket, err)
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	slices.Sort(names)
	return names
}

// PutObject stores an object directly
func (f *Fake) PutObject(bucket, key string, data []byte) string {
	f.t.Helper()
	if _, err := f.buckets.Upload(context.Background(), bucket, key, bytes.NewReader(data)); err != nil {
		f.t.Fatalf("Failed to put %s/%s: %v", bucket, key, err)
	}
	return f.buckets.PublicURL(bucket, key)
}

// SetPresence tracks p under key, as another connection would
func (f *Fake) SetPresence(key string, p models.Presence) {
	f.hub.Track(models.TopicPresence, key, p)
}

// RemovePresence drops the presence tracked under key
func (f *Fake) RemovePresence(key string) {
	f.hub.Untrack(models.TopicPresence, key)
}

// PresenceState returns what the presence topic currently holds
func (f *Fake) PresenceState() gateway.PresenceState {
	return f.hub.PresenceState(models.TopicPresence)
}

// Subscribers returns how many listeners topic has
func (f *Fake) Subscribers(topic string) int {
	return f.hub.Subscribers(topic)
}

// Service

func (f *Fake) Select(ctx context.Context, table string, q gateway.Query) ([]json.RawMessage, error) {
	if err := f.enter(ctx, OpSelect, table); err != nil {
		return nil, err
	}
	rows, err := f.store.Select(ctx, table, toQuery(q))
	if err != nil {
		return nil, err
	}
	return encodeRows(f.t, rows), nil
}

func (f *Fake) Count(ctx context.Context, table string) (int, error) {
	if err := f.enter(ctx, OpCount, table); err != nil {
		return 0, err
	}
	return f.store.Count(ctx, table)
}

func (f *Fake) Insert(ctx context.Context, table string, row any) (json.RawMessage, error) {
	if err := f.enter(ctx, OpInsert, table); err != nil {
		return nil, err
	}
	r, err := toRow(row)
	if err != nil {
		return nil, err
	}
	created, err := f.store.Insert(ctx, table, r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(created)
}

func (f *Fake) Update(ctx context.Context, table string, filters []gateway.Filter, patch any) error {
	if err := f.enter(ctx, OpUpdate, table); err != nil {
		return err
	}
	if len(filters) == 0 {
		return gateway.ErrNoFilter
	}
	r, err := toRow(patch)
	if err != nil {
		return err
	}
	_, err = f.store.Update(ctx, table, toFilters(filters), r)
	return err
}

func (f *Fake) Delete(ctx context.Context, table string, filters []gateway.Filter) error {
	if err := f.enter(ctx, OpDelete, table); err != nil {
		return err
	}
	_, err := f.store.Delete(ctx, table, toFilters(filters), len(filters) == 0)
	return err
}

func (f *Fake) Subscribe(ctx context.Context, topic string, handler func(models.ChangeEvent)) (*gateway.Subscription, error) {
	if err := f.enter(ctx, OpSubscribe, topic); err != nil {
		return nil, err
	}
	if _, err := db.LookupTable(topic); err != nil {
		return nil, err
	}
	unsub := f.hub.Subscribe(topic, realtime.SinkFunc(func(fr models.Frame) bool {
		if fr.Type == models.FrameChange && fr.Change != nil {
			handler(*fr.Change)
		}
		return true
	}))
	return gateway.NewSubscription(unsub), nil
}

// Storage

func (f *Fake) Upload(ctx context.Context, bucket, key string, r io.Reader) (string, error) {
	if err := f.enter(ctx, OpUpload, bucket); err != nil {
		return "", err
	}
	if _, err := f.buckets.Upload(ctx, bucket, key, r); err != nil {
		return "", err
	}
	return f.buckets.PublicURL(bucket, key), nil
}

func (f *Fake) PublicURL(bucket, key string) string {
	return f.buckets.PublicURL(bucket, key)
}

func (f *Fake) Remove(ctx context.Context, bucket string, keys ...string) error {
	if err := f.enter(ctx, OpRemove, bucket); err != nil {
		return err
	}
	_, err := f.buckets.Remove(ctx, bucket, keys...)
	return err
}

func (f *Fake) List(ctx context.Context, bucket string) ([]models.ObjectInfo, error) {
	if err := f.enter(ctx, OpList, bucket); err != nil {
		return nil, err
	}
	return f.buckets.List(ctx, bucket)
}

// Presence

func (f *Fake) WatchPresence(ctx context.Context, topic string, handler func(gateway.PresenceState)) (*gateway.Subscription, error) {
	if err := f.enter(ctx, OpSubscribe, topic); err != nil {
		return nil, err
	}
	unsub := f.hub.Subscribe(topic, realtime.SinkFunc(func(fr models.Frame) bool {
		if fr.Type == models.FramePresenceState {
			handler(fr.Presences)
		}
		return true
	}))
	return gateway.NewSubscription(unsub), nil
}

func (f *Fake) Track(ctx context.Context, topic string, p models.Presence) error {
	if err := f.enter(ctx, OpTrack, topic); err != nil {
		return err
	}
	if !p.User.Valid() {
		return fmt.Errorf("track %s: %w", topic, models.ErrInvalidParticipant)
	}
	f.hub.Track(topic, selfKey, p)
	return nil
}

func (f *Fake) Untrack(ctx context.Context, topic string) error {
	f.hub.Untrack(topic, selfKey)
	return nil
}

func toRow(v any) (db.Row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var row db.Row
	if err := json.Unmarshal(b, &row); err != nil {
		return nil, fmt.Errorf("row must be a JSON object: %w", err)
	}
	return row, nil
}

func toQuery(q gateway.Query) db.Query {
	return db.Query{
		Columns: q.Columns,
		Filters: toFilters(q.Filters),
		OrderBy: q.OrderBy,
		Desc:    q.Desc,
		Limit:   q.Limit,
	}
}

func toFilters(filters []gateway.Filter) []db.Filter {
	out := make([]db.Filter, len(filters))
	for i, fl := range filters {
		out[i] = db.Filter{Column: fl.Column, Value: fl.Value}
	}
	return out
}

func encodeRows(t *testing.T, rows []db.Row) []json.RawMessage {
	out := make([]json.RawMessage, len(rows))
	for i, r := range rows {
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("Failed to encode row: %v", err)
		}
		out[i] = b
	}
	return out
}
