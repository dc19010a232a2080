// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package gateway is the single point of contact with the days-together service.

# Interfaces

  - Service: row reads and writes plus per-collection change feeds
  - Storage: bucket uploads, removal and public URLs
  - Presence: ephemeral per-connection state on a presence topic

Client implements all three over HTTP and one shared websocket:

	cfg, err := cliparse.LoadClientConfig()
	client, err := gateway.New(cfg)
	defer client.Close()

# Typed Tables

Table wraps a Service for one collection. Rows are decoded into their
models type and validated before callers see them:

	messages := gateway.NewTable[models.Message](client, models.TableMessages)
	rows, err := messages.FetchAll(ctx, gateway.Query{OrderBy: "date"})

# Change Feeds

Subscribe returns once the service has acknowledged the topic, so a fetch
made afterwards cannot miss a write. Handlers run on the connection reader
and see events in arrival order. When the websocket drops, the client
redials with capped exponential backoff and restores every subscription and
tracked presence.

Unsubscribe on the returned handle stops delivery and may be called any
number of times.

# Errors

Non-2xx responses come back as *RequestError carrying the status code.
Writes are never retried.
*/
package gateway
