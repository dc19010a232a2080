// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/daystogether/models"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 60 * time.Second
)

var errNotConnected = errors.New("realtime not connected")

// Subscribe implements Service. It returns after the service acknowledged the
// topic, so rows written afterwards are guaranteed to reach handler.
// Handlers run on the connection's reader goroutine and must not block on
// the client.
func (c *Client) Subscribe(ctx context.Context, topic string, handler func(models.ChangeEvent)) (*Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	if c.changes[topic] == nil {
		c.changes[topic] = make(map[uint64]func(models.ChangeEvent))
	}
	c.changes[topic][id] = handler
	c.mu.Unlock()

	remove := func() {
		c.mu.Lock()
		delete(c.changes[topic], id)
		if len(c.changes[topic]) == 0 {
			delete(c.changes, topic)
		}
		c.mu.Unlock()
		c.releaseTopic(topic)
	}

	if err := c.ensureTopic(ctx, topic); err != nil {
		remove()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return NewSubscription(remove), nil
}

// WatchPresence implements Presence. The handler receives the full state on
// every change.
func (c *Client) WatchPresence(ctx context.Context, topic string, handler func(PresenceState)) (*Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	if c.presences[topic] == nil {
		c.presences[topic] = make(map[uint64]func(PresenceState))
	}
	c.presences[topic][id] = handler
	c.mu.Unlock()

	remove := func() {
		c.mu.Lock()
		delete(c.presences[topic], id)
		if len(c.presences[topic]) == 0 {
			delete(c.presences, topic)
		}
		c.mu.Unlock()
		c.releaseTopic(topic)
	}

	if err := c.ensureTopic(ctx, topic); err != nil {
		remove()
		return nil, fmt.Errorf("watch presence %s: %w", topic, err)
	}

	c.mu.Lock()
	state, ok := c.lastState[topic]
	c.mu.Unlock()
	if ok {
		handler(maps.Clone(state))
	}
	return NewSubscription(remove), nil
}

// Track implements Presence. The presence is re-sent after a reconnect.
func (c *Client) Track(ctx context.Context, topic string, p models.Presence) error {
	if !p.User.Valid() {
		return fmt.Errorf("track %s: %w", topic, models.ErrInvalidParticipant)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return fmt.Errorf("track %s: %w", topic, err)
	}
	c.mu.Lock()
	c.tracked[topic] = p
	c.mu.Unlock()

	if err := c.writeFrame(models.Frame{Type: models.FrameTrack, Topic: topic, Presence: &p}); err != nil {
		slog.Info("track deferred until reconnect", "topic", topic, "error", err)
	}
	return nil
}

// Untrack implements Presence
func (c *Client) Untrack(ctx context.Context, topic string) error {
	c.mu.Lock()
	_, ok := c.tracked[topic]
	delete(c.tracked, topic)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.writeFrame(models.Frame{Type: models.FrameUntrack, Topic: topic}); err != nil && !errors.Is(err, errNotConnected) {
		return fmt.Errorf("untrack %s: %w", topic, err)
	}
	return nil
}

// Close stops the realtime connection. Active subscriptions stop receiving
// events; HTTP calls keep working.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for topic, ws := range c.waiters {
		for _, w := range ws {
			w <- ErrClosed
		}
		delete(c.waiters, topic)
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ensureTopic subscribes the connection to topic once and waits for the ack
func (c *Client) ensureTopic(ctx context.Context, topic string) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.acked[topic] {
		c.mu.Unlock()
		return nil
	}
	wait := make(chan error, 1)
	c.waiters[topic] = append(c.waiters[topic], wait)
	c.mu.Unlock()

	// A failed write is retried by the reconnect loop
	if err := c.writeFrame(models.Frame{Type: models.FrameSubscribe, Topic: topic}); err != nil {
		slog.Info("subscribe deferred until reconnect", "topic", topic, "error", err)
	}

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// releaseTopic unsubscribes the connection once nothing listens on topic
func (c *Client) releaseTopic(topic string) {
	c.mu.Lock()
	if len(c.changes[topic]) > 0 || len(c.presences[topic]) > 0 || !c.acked[topic] {
		c.mu.Unlock()
		return
	}
	delete(c.acked, topic)
	delete(c.lastState, topic)
	c.mu.Unlock()

	if err := c.writeFrame(models.Frame{Type: models.FrameUnsubscribe, Topic: topic}); err != nil {
		slog.Debug("unsubscribe not sent", "topic", topic, "error", err)
	}
}

// ensureConnected dials the first connection synchronously so callers see
// configuration errors. Later connections belong to the reconnect loop.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	closed, started := c.closed, c.started
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if started {
		return nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.started = true
	c.mu.Unlock()

	go c.run(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := c.baseURL + "/realtime/v1/websocket"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	header := http.Header{}
	header.Set("apikey", c.key)

	conn, resp, err := c.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, &RequestError{Status: resp.StatusCode, Message: "realtime handshake failed"}
		}
		return nil, err
	}
	return conn, nil
}

// run owns the connection: it reads until the connection drops, then redials
// with capped exponential backoff and restores subscriptions and presence.
func (c *Client) run(conn *websocket.Conn) {
	for {
		err := c.readLoop(conn)
		conn.Close()

		c.mu.Lock()
		c.conn = nil
		c.acked = make(map[string]bool)
		c.mu.Unlock()

		if c.ctx.Err() != nil {
			return
		}
		slog.Warn("realtime connection lost", "error", err)

		conn = c.redial()
		if conn == nil {
			return
		}
		c.restore(conn)
	}
}

func (c *Client) redial() *websocket.Conn {
	backoff := c.minBackoff
	for attempt := 1; ; attempt++ {
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := c.dial(c.ctx)
		if err == nil {
			slog.Info("realtime reconnected", "attempts", attempt)
			return conn
		}
		slog.Debug("realtime reconnect failed", "attempt", attempt, "error", err)
		backoff = min(2*backoff, c.maxBackoff)
	}
}

func (c *Client) restore(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	topics := make(map[string]bool)
	for topic := range c.changes {
		topics[topic] = true
	}
	for topic := range c.presences {
		topics[topic] = true
	}
	for topic := range c.waiters {
		topics[topic] = true
	}
	tracked := maps.Clone(c.tracked)
	c.mu.Unlock()

	for topic := range topics {
		if err := c.writeFrame(models.Frame{Type: models.FrameSubscribe, Topic: topic}); err != nil {
			slog.Warn("resubscribe failed", "topic", topic, "error", err)
		}
	}
	for topic, p := range tracked {
		if err := c.writeFrame(models.Frame{Type: models.FrameTrack, Topic: topic, Presence: &p}); err != nil {
			slog.Warn("re-track failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteTimeout))
	})

	for {
		var f models.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		c.dispatch(f)
	}
}

// dispatch delivers one frame. Frames are handled in arrival order.
func (c *Client) dispatch(f models.Frame) {
	switch f.Type {
	case models.FrameSubscribed:
		c.mu.Lock()
		c.acked[f.Topic] = true
		waiters := c.waiters[f.Topic]
		delete(c.waiters, f.Topic)
		c.mu.Unlock()
		for _, w := range waiters {
			w <- nil
		}

	case models.FrameChange:
		if f.Change == nil {
			return
		}
		c.mu.Lock()
		handlers := make([]func(models.ChangeEvent), 0, len(c.changes[f.Topic]))
		for _, h := range c.changes[f.Topic] {
			handlers = append(handlers, h)
		}
		c.mu.Unlock()
		for _, h := range handlers {
			h(*f.Change)
		}

	case models.FramePresenceState:
		state := PresenceState(f.Presences)
		if state == nil {
			state = PresenceState{}
		}
		c.mu.Lock()
		c.lastState[f.Topic] = state
		handlers := make([]func(PresenceState), 0, len(c.presences[f.Topic]))
		for _, h := range c.presences[f.Topic] {
			handlers = append(handlers, h)
		}
		c.mu.Unlock()
		for _, h := range handlers {
			h(maps.Clone(state))
		}

	case models.FrameError:
		slog.Warn("realtime error from service", "topic", f.Topic, "message", f.Message)
		if f.Topic == "" {
			return
		}
		// A pending subscribe on the topic was refused
		c.mu.Lock()
		waiters := c.waiters[f.Topic]
		delete(c.waiters, f.Topic)
		c.mu.Unlock()
		for _, w := range waiters {
			w <- fmt.Errorf("%w: %s", ErrRejected, f.Message)
		}

	default:
		slog.Debug("ignoring realtime frame", "type", f.Type)
	}
}

func (c *Client) writeFrame(f models.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(f)
}
