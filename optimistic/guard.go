// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package optimistic

import (
	"errors"
	"sync"
)

var (
	ErrBusy        = errors.New("operation already in progress")
	ErrAlreadyDone = errors.New("already done")
)

// Guard allows one operation at a time. The zero value is ready to use.
type Guard struct {
	mu   sync.Mutex
	busy bool
}

// Do runs fn unless another call is still running, in which case it
// returns ErrBusy without calling fn.
func (g *Guard) Do(fn func() error) error {
	g.mu.Lock()
	if g.busy {
		g.mu.Unlock()
		return ErrBusy
	}
	g.busy = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.busy = false
		g.mu.Unlock()
	}()
	return fn()
}

func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

// Once allows an operation to succeed at most once. A failed attempt
// re-arms it.
type Once struct {
	mu      sync.Mutex
	running bool
	done    bool
}

// Do runs fn unless it already succeeded (ErrAlreadyDone) or is running
// (ErrBusy).
func (o *Once) Do(fn func() error) error {
	o.mu.Lock()
	switch {
	case o.done:
		o.mu.Unlock()
		return ErrAlreadyDone
	case o.running:
		o.mu.Unlock()
		return ErrBusy
	}
	o.running = true
	o.mu.Unlock()

	err := fn()

	o.mu.Lock()
	o.running = false
	o.done = err == nil
	o.mu.Unlock()
	return err
}

func (o *Once) Done() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}
