// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/danielhkuo/daystogether/models"
)

type recorder struct {
	mu     sync.Mutex
	frames []models.Frame
}

func (r *recorder) Send(f models.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return true
}

func (r *recorder) all() []models.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Frame(nil), r.frames...)
}

func TestPublishReachesTopicSubscribers(t *testing.T) {
	hub := NewHub()
	messages := &recorder{}
	songs := &recorder{}
	hub.Subscribe(models.TableMessages, messages)
	hub.Subscribe(models.TableSongs, songs)

	hub.Publish(models.ChangeEvent{
		Topic: models.TableMessages,
		Event: models.EventInsert,
		New:   json.RawMessage(`{"id":"m1","text":"hi"}`),
	})

	got := messages.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
	if got[0].Type != models.FrameChange || got[0].Change.Event != models.EventInsert {
		t.Errorf("unexpected frame %+v", got[0])
	}
	if len(songs.all()) != 0 {
		t.Error("songs subscriber should not see messages events")
	}
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub()
	r := &recorder{}
	unsubscribe := hub.Subscribe(models.TableBlessings, r)

	if hub.Subscribers(models.TableBlessings) != 1 {
		t.Fatal("expected one subscriber")
	}

	unsubscribe()
	unsubscribe() // second call is a no-op

	hub.Publish(models.ChangeEvent{Topic: models.TableBlessings, Event: models.EventInsert})
	if len(r.all()) != 0 {
		t.Error("unsubscribed sink received a frame")
	}
	if hub.Subscribers(models.TableBlessings) != 0 {
		t.Error("subscriber count should be zero")
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	hub := NewHub()
	r := &recorder{}
	hub.Subscribe(models.TableMessages, r)

	for _, kind := range []string{models.EventInsert, models.EventUpdate, models.EventDelete} {
		hub.Publish(models.ChangeEvent{Topic: models.TableMessages, Event: kind})
	}

	got := r.all()
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	if got[0].Change.Event != models.EventInsert || got[1].Change.Event != models.EventUpdate || got[2].Change.Event != models.EventDelete {
		t.Error("frames delivered out of order")
	}
}

func TestPresenceTracking(t *testing.T) {
	hub := NewHub()
	watcher := &recorder{}
	hub.Subscribe(models.TopicPresence, watcher)

	hub.Track(models.TopicPresence, "conn-a", models.Presence{User: models.Name1, IsFocused: true})
	hub.Track(models.TopicPresence, "conn-b", models.Presence{User: models.Name2, IsFocused: false})

	state := hub.PresenceState(models.TopicPresence)
	if len(state) != 2 {
		t.Fatalf("expected 2 tracked connections, got %d", len(state))
	}

	hub.UntrackAll("conn-a")
	state = hub.PresenceState(models.TopicPresence)
	if _, ok := state["conn-a"]; ok {
		t.Error("conn-a should be untracked")
	}

	frames := watcher.all()
	if len(frames) != 3 {
		t.Fatalf("expected 3 presence frames, got %d", len(frames))
	}
	last := frames[len(frames)-1]
	if last.Type != models.FramePresenceState || len(last.Presences) != 1 {
		t.Errorf("unexpected final presence frame %+v", last)
	}
}

func TestLateSubscriberGetsPresenceState(t *testing.T) {
	hub := NewHub()
	hub.Track(models.TopicPresence, "conn-a", models.Presence{User: models.Name1, IsFocused: true})

	late := &recorder{}
	hub.Subscribe(models.TopicPresence, late)

	frames := late.all()
	if len(frames) != 1 || frames[0].Presences["conn-a"][0].User != models.Name1 {
		t.Errorf("late subscriber should receive current state, got %+v", frames)
	}
}

func TestConcurrentTrackEndsWithFullState(t *testing.T) {
	for round := range 20 {
		hub := NewHub()
		watcher := &recorder{}
		hub.Subscribe(models.TopicPresence, watcher)

		conns := 16
		var wg sync.WaitGroup
		for i := range conns {
			wg.Add(1)
			go func() {
				defer wg.Done()
				hub.Track(models.TopicPresence, fmt.Sprintf("conn-%d", i), models.Presence{User: models.Name1, IsFocused: true})
			}()
		}
		wg.Wait()

		frames := watcher.all()
		if len(frames) != conns {
			t.Fatalf("round %d: expected %d presence frames, got %d", round, conns, len(frames))
		}
		for i, f := range frames {
			if len(f.Presences) != i+1 {
				t.Fatalf("round %d: frame %d has %d presences, want %d", round, i, len(f.Presences), i+1)
			}
		}
	}
}
