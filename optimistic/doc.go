// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package optimistic applies writes locally before the service confirms them.

Controller pairs a gateway.Table with a reconcile.Mirror:

	ctl := optimistic.NewController(achievements, mirror)
	_, err := ctl.Create(ctx, models.Achievement{Title: "First trip", Date: "2024-05-01", Icon: "✈️"})

A failed Create removes the provisional entry, a failed Delete restores the
row and a failed Update restores the previous value. The caller always gets
the error.

Guard rejects a second submission while one is in flight (ErrBusy). Once
allows an action to succeed a single time per session and re-arms after a
failure (ErrAlreadyDone).
*/
package optimistic
