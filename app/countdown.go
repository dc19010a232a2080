// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/daystogether/models"
)

// Elapsed is the time between the start date and now, split for display.
// Future is set when the start date has not arrived yet, in which case
// the fields count down instead of up.
type Elapsed struct {
	Days    int64
	Hours   int
	Minutes int
	Seconds int
	Future  bool
}

func (e Elapsed) String() string {
	s := fmt.Sprintf("%s days %02d:%02d:%02d", humanize.Comma(e.Days), e.Hours, e.Minutes, e.Seconds)
	if e.Future {
		return s + " to go"
	}
	return s
}

// Countdown measures the time since the couple's start date.
type Countdown struct {
	start time.Time
}

// NewCountdown parses a YYYY-MM-DD start date as UTC midnight
func NewCountdown(startDate string) (*Countdown, error) {
	t, err := models.ParseDate(startDate)
	if err != nil {
		return nil, err
	}
	return &Countdown{start: t}, nil
}

func (c *Countdown) Start() time.Time { return c.start }

// At splits the distance between the start date and now
func (c *Countdown) At(now time.Time) Elapsed {
	d := now.Sub(c.start)
	var e Elapsed
	if d < 0 {
		e.Future = true
		d = -d
	}
	e.Days = int64(d / (24 * time.Hour))
	e.Hours = int(d / time.Hour % 24)
	e.Minutes = int(d / time.Minute % 60)
	e.Seconds = int(d / time.Second % 60)
	return e
}

// Since describes the start date relative to now, e.g. "3 years ago"
func (c *Countdown) Since(now time.Time) string {
	return humanize.RelTime(c.start, now, "ago", "from now")
}

// Run calls update once a second with the current split until ctx is done
func (c *Countdown) Run(ctx context.Context, now func() time.Time, update func(Elapsed)) {
	update(c.At(now()))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update(c.At(now()))
		}
	}
}
