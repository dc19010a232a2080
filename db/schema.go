// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// All columns are TEXT so the same statements run on SQLite and PostgreSQL.
// Timestamps use models.TimestampLayout, which sorts lexically.
const schema = `
-- Settings (singleton)
CREATE TABLE IF NOT EXISTS settings (
    id TEXT PRIMARY KEY,
    name1 TEXT NOT NULL DEFAULT '',
    avatar1 TEXT NOT NULL DEFAULT '',
    password1_hash TEXT NOT NULL DEFAULT '',
    name2 TEXT NOT NULL DEFAULT '',
    avatar2 TEXT NOT NULL DEFAULT '',
    password2_hash TEXT NOT NULL DEFAULT '',
    start_date TEXT NOT NULL DEFAULT '',
    admin_password TEXT
);

-- Private messages
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    date TEXT NOT NULL,
    sender TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date);

-- Blessings
CREATE TABLE IF NOT EXISTS blessings (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL
);

-- Public messages
CREATE TABLE IF NOT EXISTS public_messages (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_public_messages_created_at ON public_messages(created_at);

-- Photo posts
CREATE TABLE IF NOT EXISTS photos (
    id TEXT PRIMARY KEY,
    image_urls TEXT NOT NULL DEFAULT '[]',
    description TEXT,
    date TEXT NOT NULL,
    uploader TEXT
);

CREATE INDEX IF NOT EXISTS idx_photos_date ON photos(date);

-- Songs
CREATE TABLE IF NOT EXISTS songs (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    artist TEXT NOT NULL,
    url TEXT NOT NULL,
    uploader TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_songs_created_at ON songs(created_at);

-- Visited places
CREATE TABLE IF NOT EXISTS visited_places (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

-- Achievements
CREATE TABLE IF NOT EXISTS achievements (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    date TEXT NOT NULL,
    icon TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_achievements_date ON achievements(date);
`
