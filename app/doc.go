// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package app holds the headless view controllers of Days Together: the
settings session, countdown, blessing counter, message board, public wall,
photo wall, music player, visited-places map, milestones and presence.

Every controller takes a *Context, created once at startup, instead of
reading globals. Controllers that show a collection load it with
reconcile.Follow when opened and stop following on Close:

	actx := app.NewContext(client, cfg)
	session := app.NewSession(actx)
	if _, err := session.LoadSettings(ctx); err != nil {
		slog.Warn("using default settings", "error", err)
	}

	board, err := app.OpenMilestones(ctx, actx)
	if err != nil {
		return err
	}
	defer board.Close()

Input that fails validation (empty text, text over its limit, a post with
no images) is rejected before any request is made. Mutations refuse a
second call while one is in flight with optimistic.ErrBusy.
*/
package app
