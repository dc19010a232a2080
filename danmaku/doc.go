// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package danmaku schedules the scrolling public-message overlay.

Every 0.8 to 2 seconds the next message of the source list moves from
Queued to Visible on one of four lanes. A lane used by any of the three
latest items is skipped unless that excludes every lane. Items expire after
a fixed duration, and at most ten are visible; a new arrival evicts the
oldest.

	s := danmaku.New(wall.Texts)
	go s.Run(ctx, render)
*/
package danmaku
