// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package realtime is the in-process change feed and presence hub behind the
// websocket endpoint. The row store publishes one ChangeEvent per written row;
// the hub forwards it as a "change" frame to every subscriber of the
// collection's topic. Presence is tracked per connection key and every change
// is broadcast as a full "presence_state" frame.
//
// Delivery order is the publish order for each sink. Sinks must not block.
package realtime
