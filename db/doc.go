// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db owns the schema and the row-level store behind the data API.

# Schema Creation

CreateSchema initializes all required tables:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.
Every column is TEXT so the same DDL runs on SQLite and PostgreSQL.

# Tables

  - settings: singleton row (names, avatars, passwords, start date)
  - messages: private board, ordered by date
  - blessings: one row per "+1"
  - blessing_stats: virtual, {"id":"total","count":N}
  - public_messages: short public messages
  - photos: image_urls is a JSON array
  - songs: title, artist, public object url
  - visited_places: name is unique
  - achievements: dated milestones

The Tables registry describes columns, default ordering and which tables are
virtual. Requests naming anything outside the registry fail with
ErrUnknownTable or ErrUnknownColumn, so identifiers are never taken from
user input verbatim.

# Store

	store := db.NewStore(conn, "sqlite", hub)
	row, err := store.Insert(ctx, "messages", db.Row{"text": "hi"})
	rows, err := store.Select(ctx, "messages", db.Query{OrderBy: "date"})
	n, err := store.Update(ctx, "messages", []db.Filter{{Column: "id", Value: id}}, patch)
	n, err := store.Delete(ctx, "messages", []db.Filter{{Column: "id", Value: id}}, false)

Insert assigns a UUID id and fills missing timestamps. Every successful write
is handed to the Publisher as a change event; DELETE events carry only the
primary key in Old. Deleting without filters requires all=true.
*/
package db
