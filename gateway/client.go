// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/daystogether/cliparse"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/storage"
)

// Client talks to the service over HTTP and one shared websocket.
// It implements Service, Storage and Presence.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
	dialer  *websocket.Dialer

	minBackoff time.Duration
	maxBackoff time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// wmu serializes websocket writes
	wmu sync.Mutex
	// dialMu serializes the first dial
	dialMu sync.Mutex

	mu        sync.Mutex
	started   bool
	closed    bool
	conn      *websocket.Conn
	nextID    uint64
	changes   map[string]map[uint64]func(models.ChangeEvent)
	presences map[string]map[uint64]func(PresenceState)
	tracked   map[string]models.Presence
	lastState map[string]PresenceState
	acked     map[string]bool
	waiters   map[string][]chan error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBackoff sets the reconnect delay range; the delay doubles per failed
// attempt up to max.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Client) {
		c.minBackoff = min
		c.maxBackoff = max
	}
}

// New creates a client. A missing endpoint or key is an error.
func New(cfg cliparse.ClientConfig, opts ...Option) (*Client, error) {
	if cfg.ServiceURL == "" {
		return nil, errors.New("service URL required")
	}
	if cfg.ServiceKey == "" {
		return nil, errors.New("service key required")
	}
	if _, err := url.Parse(cfg.ServiceURL); err != nil {
		return nil, fmt.Errorf("invalid service URL: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		baseURL:    strings.TrimRight(cfg.ServiceURL, "/"),
		key:        cfg.ServiceKey,
		http:       &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		ctx:        ctx,
		cancel:     cancel,
		changes:    make(map[string]map[uint64]func(models.ChangeEvent)),
		presences:  make(map[string]map[uint64]func(PresenceState)),
		tracked:    make(map[string]models.Presence),
		lastState:  make(map[string]PresenceState),
		acked:      make(map[string]bool),
		waiters:    make(map[string][]chan error),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Select implements Service
func (c *Client) Select(ctx context.Context, table string, q Query) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/rest/v1/"+url.PathEscape(table), queryValues(q), nil, &rows); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return rows, nil
}

// Count implements Service
func (c *Client) Count(ctx context.Context, table string) (int, error) {
	var resp models.CountResponse
	if err := c.do(ctx, http.MethodGet, "/rest/v1/"+url.PathEscape(table)+"/count", nil, nil, &resp); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return resp.Count, nil
}

// Insert implements Service
func (c *Client) Insert(ctx context.Context, table string, row any) (json.RawMessage, error) {
	body, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode %s row: %w", table, err)
	}
	var created json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/rest/v1/"+url.PathEscape(table), nil, jsonBody(body), &created); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return created, nil
}

// Update implements Service
func (c *Client) Update(ctx context.Context, table string, filters []Filter, patch any) error {
	if len(filters) == 0 {
		return fmt.Errorf("update %s: %w", table, ErrNoFilter)
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode %s patch: %w", table, err)
	}
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/"+url.PathEscape(table), queryValues(Query{Filters: filters}), jsonBody(body), nil); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

// Delete implements Service. No filters empties the collection, which the
// service only allows for service_role keys.
func (c *Client) Delete(ctx context.Context, table string, filters []Filter) error {
	if err := c.do(ctx, http.MethodDelete, "/rest/v1/"+url.PathEscape(table), queryValues(Query{Filters: filters}), nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

// Upload implements Storage
func (c *Client) Upload(ctx context.Context, bucket, key string, r io.Reader) (string, error) {
	var resp models.UploadResponse
	path := "/storage/v1/object/" + url.PathEscape(bucket) + "/" + url.PathEscape(key)
	if err := c.do(ctx, http.MethodPost, path, nil, body{r: r, contentType: "application/octet-stream"}, &resp); err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return resp.URL, nil
}

// PublicURL implements Storage
func (c *Client) PublicURL(bucket, key string) string {
	return storage.PublicURL(c.baseURL, bucket, key)
}

// Remove implements Storage
func (c *Client) Remove(ctx context.Context, bucket string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	b, err := json.Marshal(models.RemoveObjectsRequest{Prefixes: keys})
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodDelete, "/storage/v1/object/"+url.PathEscape(bucket), nil, jsonBody(b), nil); err != nil {
		return fmt.Errorf("remove from %s: %w", bucket, err)
	}
	return nil
}

// List implements Storage
func (c *Client) List(ctx context.Context, bucket string) ([]models.ObjectInfo, error) {
	var resp models.ListObjectsResponse
	if err := c.do(ctx, http.MethodGet, "/storage/v1/object/list/"+url.PathEscape(bucket), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	return resp.Objects, nil
}

type body struct {
	r           io.Reader
	contentType string
}

func jsonBody(b []byte) body {
	return body{r: bytes.NewReader(b), contentType: "application/json"}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	var contentType string
	if b, ok := in.(body); ok {
		reader = b.r
		contentType = b.contentType
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &RequestError{Status: resp.StatusCode, Message: e.Message}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func queryValues(q Query) url.Values {
	v := url.Values{}
	if len(q.Columns) > 0 {
		v.Set("select", strings.Join(q.Columns, ","))
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		v.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	for _, f := range q.Filters {
		v.Add(f.Column, "eq."+f.Value)
	}
	return v
}
