// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/daystogether/auth"
	"github.com/danielhkuo/daystogether/db"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/realtime"
)

const (
	sessionBufferSize = 64
	writeTimeout      = 10 * time.Second
	pongTimeout       = 60 * time.Second
	pingInterval      = 25 * time.Second
	maxFrameSize      = 64 << 10
)

type RealtimeHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
}

func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Access is decided by the service key, same as the REST routes
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connect handles GET /realtime/v1/websocket
func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	id, err := auth.GenerateID(8)
	if err != nil {
		slog.Error("failed to generate connection ID", "error", err)
		ws.Close()
		return
	}

	s := &session{
		id:     id,
		ws:     ws,
		hub:    h.hub,
		send:   make(chan models.Frame, sessionBufferSize),
		done:   make(chan struct{}),
		unsubs: make(map[string]func()),
	}

	slog.Info("realtime connected", "conn", id)
	go s.writeLoop()
	s.readLoop()
	s.teardown()
	slog.Info("realtime disconnected", "conn", id)
}

// session is one websocket connection. Only readLoop touches unsubs.
type session struct {
	id     string
	ws     *websocket.Conn
	hub    *realtime.Hub
	send   chan models.Frame
	done   chan struct{}
	once   sync.Once
	unsubs map[string]func()
}

// Send implements realtime.Sink. A client that cannot keep up is
// disconnected rather than allowed to stall the hub.
func (s *session) Send(f models.Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- f:
		return true
	default:
		slog.Warn("realtime client too slow, closing", "conn", s.id)
		s.close()
		return false
	}
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *session) writeLoop() {
	defer s.ws.Close()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case f := <-s.send:
			s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.ws.WriteJSON(f); err != nil {
				slog.Info("realtime write failed", "conn", s.id, "error", err)
				s.close()
				return
			}
		case <-ping.C:
			s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *session) readLoop() {
	s.ws.SetReadLimit(maxFrameSize)
	s.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var f models.Frame
		if err := s.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("realtime read failed", "conn", s.id, "error", err)
			}
			return
		}
		s.ws.SetReadDeadline(time.Now().Add(pongTimeout))

		select {
		case <-s.done:
			return
		default:
		}

		s.handle(f)
	}
}

func (s *session) handle(f models.Frame) {
	if !validTopic(f.Topic) {
		s.Send(models.Frame{Type: models.FrameError, Topic: f.Topic, Message: "unknown topic"})
		return
	}

	switch f.Type {
	case models.FrameSubscribe:
		if _, ok := s.unsubs[f.Topic]; !ok {
			s.unsubs[f.Topic] = s.hub.Subscribe(f.Topic, s)
		}
		// Ack only after the hub registration; clients fetch their snapshot
		// once acknowledged
		s.Send(models.Frame{Type: models.FrameSubscribed, Topic: f.Topic})

	case models.FrameUnsubscribe:
		if unsub, ok := s.unsubs[f.Topic]; ok {
			unsub()
			delete(s.unsubs, f.Topic)
		}

	case models.FrameTrack:
		if f.Presence == nil || !f.Presence.User.Valid() {
			s.Send(models.Frame{Type: models.FrameError, Topic: f.Topic, Message: "track needs a presence with a valid user"})
			return
		}
		s.hub.Track(f.Topic, s.id, *f.Presence)

	case models.FrameUntrack:
		s.hub.Untrack(f.Topic, s.id)

	default:
		s.Send(models.Frame{Type: models.FrameError, Topic: f.Topic, Message: "unknown frame type " + f.Type})
	}
}

func (s *session) teardown() {
	for topic, unsub := range s.unsubs {
		unsub()
		delete(s.unsubs, topic)
	}
	s.hub.UntrackAll(s.id)
	s.close()
}

func validTopic(topic string) bool {
	if topic == models.TopicPresence {
		return true
	}
	_, err := db.LookupTable(topic)
	return err == nil
}
