// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines the collection records and wire types shared by the
backend service and the client library.

# Collections

One Go type per collection, with json tags matching the column names:

  - Settings: singleton row (names, avatars, passwords, start date)
  - Message: private board message with optional sender tag
  - Blessing: one "+1" tap; BlessingStats is the virtual count row
  - PublicMessage: short public message shown on the scrolling overlay
  - PhotoPost: ordered image URLs with description
  - Song: audio track backed by an object in the music bucket
  - VisitedPlace: region name on the map
  - Achievement: dated milestone with an icon glyph

Every record implements Record (Key, Validate). The gateway validates rows
when it decodes them so code past that boundary only sees typed, checked values.

# Participants

	Name1 = "name1"
	Name2 = "name2"

# Wire Types

  - ChangeEvent: {topic, event, new, old} delivered by the change feed
  - Frame: websocket envelope (subscribe, track, change, presence_state, ...)
  - Presence: {user, online_at, is_focused}
  - ErrorResponse: error, message

# Timestamps

Timestamps are stored as fixed-width UTC strings (TimestampLayout) so ordering
by the text column is chronological. Calendar dates use DateLayout.
*/
package models
