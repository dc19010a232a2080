// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/danielhkuo/daystogether/auth"
	"github.com/danielhkuo/daystogether/cliparse"
	"github.com/danielhkuo/daystogether/gateway"
)

var (
	ErrLocked            = errors.New("unlock with a password first")
	ErrNotLoggedIn       = errors.New("not logged in")
	ErrNoFile            = errors.New("no file selected")
	ErrLastImage         = errors.New("a post needs at least one image")
	ErrImageOutOfRange   = errors.New("image index out of range")
	ErrIncorrectPassword = auth.ErrIncorrectPassword
)

// Backend is everything the views need from the hosted service.
// gateway.Client and gatewaytest.Fake both implement it.
type Backend interface {
	gateway.Service
	gateway.Storage
	gateway.Presence
}

// Context is created once at startup and handed to every view. It replaces
// process-wide globals for the service handles, configuration and cookies.
type Context struct {
	Service  gateway.Service
	Storage  gateway.Storage
	Presence gateway.Presence
	Config   cliparse.ClientConfig
	Cookies  CookieJar
	Now      func() time.Time
}

// NewContext wires a context to b with an in-memory cookie jar
func NewContext(b Backend, cfg cliparse.ClientConfig) *Context {
	return &Context{
		Service:  b,
		Storage:  b,
		Presence: b,
		Config:   cfg,
		Cookies:  NewMemoryJar(),
		Now:      time.Now,
	}
}

func (c *Context) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// File is an upload picked by the user
type File struct {
	Name string
	Body io.Reader
}

// CookieJar is the client's durable cookie store
type CookieJar interface {
	Cookie(name string) *http.Cookie
	SetCookie(c *http.Cookie)
}

// MemoryJar keeps cookies for the life of the process
type MemoryJar struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

func NewMemoryJar() *MemoryJar {
	return &MemoryJar{cookies: make(map[string]*http.Cookie)}
}

func (j *MemoryJar) Cookie(name string) *http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cookies[name]
}

// SetCookie stores c. A negative MaxAge deletes the cookie.
func (j *MemoryJar) SetCookie(c *http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if c.MaxAge < 0 {
		delete(j.cookies, c.Name)
		return
	}
	j.cookies[c.Name] = c
}
