// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/daystogether/middleware"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/storage"
)

type StorageHandler struct {
	buckets *storage.Buckets
}

func NewStorageHandler(buckets *storage.Buckets) *StorageHandler {
	return &StorageHandler{buckets: buckets}
}

// Upload handles POST /storage/v1/object/{bucket}/{key}. The request body is
// the raw object. Avatars are cropped and scaled before they are stored.
func (h *StorageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	key := r.PathValue("key")
	defer r.Body.Close()

	var body io.Reader = r.Body
	if bucket == models.BucketAvatars {
		limit := storage.MaxObjectSize[models.BucketAvatars]
		normalized, err := storage.NormalizeAvatar(io.LimitReader(r.Body, limit))
		if err != nil {
			writeStorageError(w, err, "Failed to process avatar")
			return
		}
		body = bytes.NewReader(normalized)
	}

	if _, err := h.buckets.Upload(r.Context(), bucket, key, body); err != nil {
		writeStorageError(w, err, "Failed to upload object")
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, models.UploadResponse{
		Key: key,
		URL: h.buckets.PublicURL(bucket, key),
	})
}

// Public handles GET /storage/v1/object/public/{bucket}/{key}
func (h *StorageHandler) Public(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	key := r.PathValue("key")

	f, err := h.buckets.Open(bucket, key)
	if err != nil {
		writeStorageError(w, err, "Failed to open object")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeStorageError(w, err, "Failed to open object")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, key, info.ModTime(), f)
}

// List handles GET /storage/v1/object/list/{bucket}
func (h *StorageHandler) List(w http.ResponseWriter, r *http.Request) {
	objects, err := h.buckets.List(r.Context(), r.PathValue("bucket"))
	if err != nil {
		writeStorageError(w, err, "Failed to list objects")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.ListObjectsResponse{Objects: objects})
}

// Remove handles DELETE /storage/v1/object/{bucket} with {"prefixes": [...]}
func (h *StorageHandler) Remove(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")

	var req models.RemoveObjectsRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Prefixes) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "prefixes is required")
		return
	}

	removed, err := h.buckets.Remove(r.Context(), bucket, req.Prefixes...)
	if err != nil {
		writeStorageError(w, err, "Failed to remove objects")
		return
	}
	if removed == nil {
		removed = []string{}
	}

	middleware.JSONResponse(w, http.StatusOK, models.RemoveObjectsResponse{Removed: removed})
}

func writeStorageError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, storage.ErrUnknownBucket), errors.Is(err, storage.ErrNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidKey), errors.Is(err, storage.ErrInvalidImage):
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrObjectExists):
		middleware.ErrorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrTooLarge):
		middleware.ErrorResponse(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		slog.Error("storage request failed", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, message)
	}
}
