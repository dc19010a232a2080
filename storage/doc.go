// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package storage implements the binary buckets (photos, avatars, music) as
directories of files.

	buckets, err := storage.NewBuckets("uploads", "https://love.example")
	n, err := buckets.Upload(ctx, "photos", storage.ObjectKey("beach.jpg"), r)
	url := buckets.PublicURL("photos", key)

Keys are single path segments; ObjectKey prefixes a ULID so uploads of the
same file name never collide and list in upload order. Objects are never
overwritten. Remove skips keys that do not exist.

Avatar uploads go through NormalizeAvatar, which accepts JPEG, PNG, GIF and
WebP and stores a 512x512 JPEG.
*/
package storage
