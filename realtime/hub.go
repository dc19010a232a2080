// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/danielhkuo/daystogether/models"
)

// Sink receives frames for one connection. Send must not block; it returns
// false when the frame could not be queued.
type Sink interface {
	Send(f models.Frame) bool
}

// SinkFunc adapts a function to Sink
type SinkFunc func(f models.Frame) bool

func (fn SinkFunc) Send(f models.Frame) bool { return fn(f) }

// Hub fans change events and presence state out to topic subscribers.
type Hub struct {
	mu       sync.RWMutex
	nextID   uint64
	subs     map[string]map[uint64]Sink
	presence map[string]map[string]models.Presence
	// serializes presence snapshots with their delivery, per topic
	stateMu map[string]*sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		subs:     make(map[string]map[uint64]Sink),
		presence: make(map[string]map[string]models.Presence),
		stateMu:  make(map[string]*sync.Mutex),
	}
}

// Subscribe registers sink for topic and returns the function that removes it.
// Subscribers of a topic with tracked presence get the current state at once.
func (h *Hub) Subscribe(topic string, sink Sink) (unsubscribe func()) {
	sm := h.topicStateMu(topic)
	sm.Lock()
	defer sm.Unlock()

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]Sink)
	}
	h.subs[topic][id] = sink
	state, tracked := h.stateLocked(topic)
	h.mu.Unlock()

	if tracked {
		sink.Send(models.Frame{Type: models.FramePresenceState, Topic: topic, Presences: state})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[topic], id)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
		})
	}
}

// Publish implements db.Publisher
func (h *Hub) Publish(ev models.ChangeEvent) {
	h.broadcast(ev.Topic, models.Frame{Type: models.FrameChange, Topic: ev.Topic, Change: &ev})
}

// Track records the presence of one connection on topic and broadcasts the
// new state. Subscribers see the states of a topic in the order they were
// made.
func (h *Hub) Track(topic, key string, p models.Presence) {
	sm := h.topicStateMu(topic)
	sm.Lock()
	defer sm.Unlock()

	h.mu.Lock()
	if h.presence[topic] == nil {
		h.presence[topic] = make(map[string]models.Presence)
	}
	h.presence[topic][key] = p
	state, _ := h.stateLocked(topic)
	h.mu.Unlock()

	h.broadcast(topic, models.Frame{Type: models.FramePresenceState, Topic: topic, Presences: state})
}

// Untrack forgets a connection's presence. Untracking an unknown key is a no-op.
func (h *Hub) Untrack(topic, key string) {
	sm := h.topicStateMu(topic)
	sm.Lock()
	defer sm.Unlock()

	h.mu.Lock()
	if _, ok := h.presence[topic][key]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.presence[topic], key)
	state, _ := h.stateLocked(topic)
	h.mu.Unlock()

	h.broadcast(topic, models.Frame{Type: models.FramePresenceState, Topic: topic, Presences: state})
}

// UntrackAll removes key from every topic; used when a connection closes
func (h *Hub) UntrackAll(key string) {
	h.mu.RLock()
	var topics []string
	for topic, m := range h.presence {
		if _, ok := m[key]; ok {
			topics = append(topics, topic)
		}
	}
	h.mu.RUnlock()

	for _, topic := range topics {
		h.Untrack(topic, key)
	}
}

// PresenceState returns a copy of the tracked presences on topic
func (h *Hub) PresenceState(topic string) map[string][]models.Presence {
	h.mu.RLock()
	defer h.mu.RUnlock()
	state, _ := h.stateLocked(topic)
	return state
}

// Subscribers returns the number of sinks on topic
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

func (h *Hub) topicStateMu(topic string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	sm, ok := h.stateMu[topic]
	if !ok {
		sm = &sync.Mutex{}
		h.stateMu[topic] = sm
	}
	return sm
}

func (h *Hub) stateLocked(topic string) (map[string][]models.Presence, bool) {
	m, ok := h.presence[topic]
	state := make(map[string][]models.Presence, len(m))
	for key, p := range m {
		state[key] = []models.Presence{p}
	}
	return state, ok
}

func (h *Hub) broadcast(topic string, f models.Frame) {
	h.mu.RLock()
	ids := make([]uint64, 0, len(h.subs[topic]))
	for id := range h.subs[topic] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	sinks := make([]Sink, len(ids))
	for i, id := range ids {
		sinks[i] = h.subs[topic][id]
	}
	h.mu.RUnlock()

	for _, s := range sinks {
		if !s.Send(f) {
			slog.Warn("dropped realtime frame", "topic", topic, "type", f.Type)
		}
	}
}
