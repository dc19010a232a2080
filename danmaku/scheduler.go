// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package danmaku

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// State is where an item is in its on-screen life
type State int

const (
	Queued State = iota
	Visible
	Expired
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Visible:
		return "visible"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// Config controls lane assignment and pacing
type Config struct {
	Lanes       int
	Recent      int // lanes of this many latest items are avoided
	MaxVisible  int
	Duration    time.Duration
	MinInterval time.Duration
	MaxInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Lanes:       4,
		Recent:      3,
		MaxVisible:  10,
		Duration:    8 * time.Second,
		MinInterval: 800 * time.Millisecond,
		MaxInterval: 2 * time.Second,
	}
}

// Item is one scrolling message
type Item[T any] struct {
	Seq     uint64
	Value   T
	Lane    int
	ShownAt time.Time
	State   State
}

// Scheduler moves items from a source list onto lanes, one per tick,
// cycling through the source.
type Scheduler[T any] struct {
	cfg    Config
	source func() []T
	rng    *rand.Rand
	now    func() time.Time

	mu      sync.Mutex
	cursor  int
	seq     uint64
	recent  []int
	visible []Item[T]
}

type Option func(*options)

type options struct {
	cfg Config
	rng *rand.Rand
	now func() time.Time
}

func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithRand fixes the random source, for reproducible lane choices
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a scheduler drawing from source, which is called on every
// tick and may change between calls.
func New[T any](source func() []T, opts ...Option) *Scheduler[T] {
	o := options{cfg: DefaultConfig(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if o.cfg.Lanes < 1 {
		o.cfg.Lanes = 1
	}
	return &Scheduler[T]{cfg: o.cfg, source: source, rng: o.rng, now: o.now}
}

// PickLane chooses uniformly among the lanes not used by the most recent
// items, or among all lanes when every lane is excluded.
func (s *Scheduler[T]) PickLane() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pickLaneLocked()
}

func (s *Scheduler[T]) pickLaneLocked() int {
	free := make([]int, 0, s.cfg.Lanes)
	for lane := range s.cfg.Lanes {
		if !slices.Contains(s.recent, lane) {
			free = append(free, lane)
		}
	}
	if len(free) == 0 {
		return s.rng.IntN(s.cfg.Lanes)
	}
	return free[s.rng.IntN(len(free))]
}

// Show puts value on screen now. When the screen is full the oldest
// visible item is evicted first.
func (s *Scheduler[T]) Show(value T) Item[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showLocked(value, s.now())
}

func (s *Scheduler[T]) showLocked(value T, now time.Time) Item[T] {
	s.expireLocked(now)
	if s.cfg.MaxVisible > 0 {
		for len(s.visible) >= s.cfg.MaxVisible {
			s.visible = s.visible[1:]
		}
	}

	s.seq++
	item := Item[T]{
		Seq:     s.seq,
		Value:   value,
		Lane:    s.pickLaneLocked(),
		ShownAt: now,
		State:   Visible,
	}
	s.visible = append(s.visible, item)

	s.recent = append(s.recent, item.Lane)
	if over := len(s.recent) - s.cfg.Recent; over > 0 {
		s.recent = s.recent[over:]
	}
	return item
}

// Tick retires items whose time is up and shows the next source item, if
// any. It reports whether an item was shown.
func (s *Scheduler[T]) Tick() (Item[T], bool) {
	values := s.source()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.expireLocked(now)
	if len(values) == 0 {
		return Item[T]{}, false
	}
	if s.cursor >= len(values) {
		s.cursor = 0
	}
	value := values[s.cursor]
	s.cursor++
	return s.showLocked(value, now), true
}

func (s *Scheduler[T]) expireLocked(now time.Time) {
	s.visible = slices.DeleteFunc(s.visible, func(it Item[T]) bool {
		return !now.Before(it.ShownAt.Add(s.cfg.Duration))
	})
}

// Visible returns the items on screen, oldest first
func (s *Scheduler[T]) Visible() []Item[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(s.now())
	return slices.Clone(s.visible)
}

// StateOf reports where the item with seq is: not shown yet, on screen, or
// retired.
func (s *Scheduler[T]) StateOf(seq uint64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq == 0 || seq > s.seq {
		return Queued
	}
	s.expireLocked(s.now())
	if slices.ContainsFunc(s.visible, func(it Item[T]) bool { return it.Seq == seq }) {
		return Visible
	}
	return Expired
}

// NextInterval returns a delay drawn uniformly from the configured range
func (s *Scheduler[T]) NextInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := s.cfg.MaxInterval - s.cfg.MinInterval
	if span <= 0 {
		return s.cfg.MinInterval
	}
	return s.cfg.MinInterval + time.Duration(s.rng.Int64N(int64(span)+1))
}

// Run ticks at jittered intervals until ctx is done, calling notify with
// the visible set after every tick.
func (s *Scheduler[T]) Run(ctx context.Context, notify func([]Item[T])) {
	timer := time.NewTimer(s.NextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Tick()
			if notify != nil {
				notify(s.Visible())
			}
			timer.Reset(s.NextInterval())
		}
	}
}
