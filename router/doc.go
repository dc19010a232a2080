// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the days-together service.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints:

	mux := router.NewRouter(store, hub, buckets, cfg)

# Endpoints

Health:

	GET /health

Row collections (require a service key):

	GET    /rest/v1/{table}        - Select (select, order, limit, col=eq.v)
	GET    /rest/v1/{table}/count  - Row count
	POST   /rest/v1/{table}        - Insert, returns the stored row
	PATCH  /rest/v1/{table}        - Update rows matching the filters
	DELETE /rest/v1/{table}        - Delete rows matching the filters

Buckets:

	POST   /storage/v1/object/{bucket}/{key}        - Upload raw bytes
	GET    /storage/v1/object/public/{bucket}/{key} - Public read, no key
	GET    /storage/v1/object/list/{bucket}         - List objects
	DELETE /storage/v1/object/{bucket}              - Remove {"prefixes": [...]}

Realtime:

	GET /realtime/v1/websocket?apikey=... - Change feed and presence

Every keyed route is wrapped as WithLogging(keys.Require(handler)), sharing
one KeyVerifier so verified keys are cached across routes.
*/
package router
