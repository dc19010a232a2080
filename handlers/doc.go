// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the days-together service.

# Handler Types

  - RowsHandler: row collections over db.Store
  - StorageHandler: bucket objects over storage.Buckets
  - RealtimeHandler: websocket change feed and presence over realtime.Hub

Handlers are created via constructor functions that accept their backing
component:

	rowsHandler := handlers.NewRowsHandler(store)

# Row Queries

	GET /rest/v1/messages?select=id,text&order=date.asc&limit=50
	GET /rest/v1/visited_places?name=eq.Beijing
	PATCH /rest/v1/settings?id=eq.<id>      {"name1": "..."}
	DELETE /rest/v1/achievements?id=eq.<id>

Only equality filters exist. DELETE without filters empties the table and
needs a service_role key. Store errors map to 404 (unknown table), 400 (bad
column or value), 405 (read-only table) and 409 (unique conflict).

# Realtime Frames

Clients send JSON frames over the websocket:

	{"type":"subscribe","topic":"messages"}
	{"type":"track","topic":"online_users","presence":{"user":"name1","online_at":"...","is_focused":true}}

and receive change and presence_state frames. Each connection has one writer
goroutine fed by a buffered channel, so frames for one connection arrive in
the order they were published. A client that falls a full buffer behind is
disconnected. Closing the connection drops its subscriptions and presence.
*/
package handlers
