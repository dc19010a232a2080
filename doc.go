// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the days-together service.

days-together is a private countdown for two: days since a start date, a
message board, photo wall, shared playlist, visited-places map, milestones
and a blessing counter with a scrolling public message overlay. The service
stores the collections, serves the media buckets and pushes change events;
the application logic lives in the client packages (gateway, reconcile,
optimistic, danmaku, app).

# Starting the Server

The server requires environment variables or CLI flags for configuration:

	JWT_SECRET=... go run .

Or with flags:

	go run . -p 3318 -t postgres -d "postgres://..." -jwt-secret ...

.env.local and .env are loaded first when present.

# Configuration

Required settings:

  - JWT_SECRET (-jwt-secret): signs and verifies service keys

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite or postgres (default: sqlite)
  - DATABASE_URL (-d): connection string (default: file:daystogether.db for sqlite)
  - STORAGE_DIR (-storage): bucket root (default: uploads)
  - PUBLIC_URL (-public-url): base of public object URLs

Mint keys for clients with togetherctl keygen.

# Architecture

  - handlers: rows, storage and realtime request handlers
  - router: Route definitions using Go 1.22+ routing
  - middleware: CORS, logging, service keys, JSON helpers
  - models: collection records and wire types
  - auth: service keys, participant gate, identity cookie
  - db: schema and row store
  - storage: file-backed buckets and avatar normalization
  - realtime: change-feed and presence hub
  - cliparse: Configuration parsing

See package documentation for each component.
*/
package main
