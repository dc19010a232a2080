// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danielhkuo/daystogether/models"
)

var (
	ErrNotFound   = errors.New("row not found")
	ErrInvalidRow = errors.New("invalid row from service")
	ErrNoFilter   = errors.New("filter required")
	ErrClosed     = errors.New("gateway closed")
	ErrRejected   = errors.New("rejected by service")
)

// RequestError is returned when the service answers with a non-2xx status.
// Transport failures are returned unwrapped from net/http.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("service returned %d: %s", e.Status, e.Message)
}

// Filter is an equality match on one column
type Filter struct {
	Column string
	Value  string
}

// Eq builds a column = value filter
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// Query selects rows from a collection. The zero value selects every column
// in the collection's default order.
type Query struct {
	Columns []string
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// PresenceState maps a connection key to the presences it tracks
type PresenceState map[string][]models.Presence

// Service is row-level access to the named collections and their change feeds.
type Service interface {
	Select(ctx context.Context, table string, q Query) ([]json.RawMessage, error)
	Count(ctx context.Context, table string) (int, error)
	Insert(ctx context.Context, table string, row any) (json.RawMessage, error)
	Update(ctx context.Context, table string, filters []Filter, patch any) error
	Delete(ctx context.Context, table string, filters []Filter) error
	// Subscribe delivers change events for topic in arrival order. It returns
	// once the subscription is active.
	Subscribe(ctx context.Context, topic string, handler func(models.ChangeEvent)) (*Subscription, error)
}

// Storage is access to the binary buckets.
type Storage interface {
	// Upload stores r under bucket/key and returns its public URL
	Upload(ctx context.Context, bucket, key string, r io.Reader) (string, error)
	PublicURL(bucket, key string) string
	Remove(ctx context.Context, bucket string, keys ...string) error
	List(ctx context.Context, bucket string) ([]models.ObjectInfo, error)
}

// Presence is the ephemeral per-connection state on a presence topic.
type Presence interface {
	WatchPresence(ctx context.Context, topic string, handler func(PresenceState)) (*Subscription, error)
	Track(ctx context.Context, topic string, p models.Presence) error
	Untrack(ctx context.Context, topic string) error
}

// Subscription is the handle for one feed or presence listener.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Unsubscribe stops delivery. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
