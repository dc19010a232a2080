// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/danielhkuo/daystogether/auth"
	"github.com/danielhkuo/daystogether/db"
	"github.com/danielhkuo/daystogether/middleware"
	"github.com/danielhkuo/daystogether/models"
)

// Query parameters that are not column filters
var reservedParams = map[string]bool{
	"select": true,
	"order":  true,
	"limit":  true,
	"apikey": true,
}

type RowsHandler struct {
	store *db.Store
}

func NewRowsHandler(store *db.Store) *RowsHandler {
	return &RowsHandler{store: store}
}

// Select handles GET /rest/v1/{table}
func (h *RowsHandler) Select(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")

	q, err := parseQuery(r.URL.Query())
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.store.Select(r.Context(), table, q)
	if err != nil {
		writeStoreError(w, err, "Failed to fetch rows")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, rows)
}

// Count handles GET /rest/v1/{table}/count
func (h *RowsHandler) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Count(r.Context(), r.PathValue("table"))
	if err != nil {
		writeStoreError(w, err, "Failed to count rows")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.CountResponse{Count: n})
}

// Insert handles POST /rest/v1/{table}
func (h *RowsHandler) Insert(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")

	var row db.Row
	if err := middleware.ParseJSONBody(r, &row); err != nil || row == nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	created, err := h.store.Insert(r.Context(), table, row)
	if err != nil {
		writeStoreError(w, err, "Failed to insert row")
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, created)
}

// Update handles PATCH /rest/v1/{table}?col=eq.value
func (h *RowsHandler) Update(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")

	q, err := parseQuery(r.URL.Query())
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(q.Filters) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "at least one filter is required")
		return
	}

	var patch db.Row
	if err := middleware.ParseJSONBody(r, &patch); err != nil || patch == nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	n, err := h.store.Update(r.Context(), table, q.Filters, patch)
	if err != nil {
		writeStoreError(w, err, "Failed to update rows")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.CountResponse{Count: n})
}

// Delete handles DELETE /rest/v1/{table}?col=eq.value. Without filters the
// whole table is emptied, which only a service_role key may do.
func (h *RowsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")

	q, err := parseQuery(r.URL.Query())
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	all := len(q.Filters) == 0
	if all && middleware.Role(r) != auth.RoleService {
		middleware.ErrorResponse(w, http.StatusForbidden, "deleting every row requires a service_role key")
		return
	}

	n, err := h.store.Delete(r.Context(), table, q.Filters, all)
	if err != nil {
		writeStoreError(w, err, "Failed to delete rows")
		return
	}

	if all {
		slog.Warn("table purged", "table", table, "count", n, "remote", middleware.GetClientIP(r))
	}

	middleware.JSONResponse(w, http.StatusOK, models.CountResponse{Count: n})
}

// parseQuery reads select=a,b order=col.desc limit=N and col=eq.value
func parseQuery(values url.Values) (db.Query, error) {
	var q db.Query

	if sel := values.Get("select"); sel != "" && sel != "*" {
		for _, col := range strings.Split(sel, ",") {
			if col = strings.TrimSpace(col); col != "" {
				q.Columns = append(q.Columns, col)
			}
		}
	}

	if order := values.Get("order"); order != "" {
		col, dir, found := strings.Cut(order, ".")
		switch {
		case !found || dir == "asc":
		case dir == "desc":
			q.Desc = true
		default:
			return db.Query{}, fmt.Errorf("invalid order direction %q", dir)
		}
		q.OrderBy = col
	}

	if limit := values.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return db.Query{}, fmt.Errorf("invalid limit %q", limit)
		}
		q.Limit = n
	}

	for name, vals := range values {
		if reservedParams[name] {
			continue
		}
		for _, v := range vals {
			value, ok := strings.CutPrefix(v, "eq.")
			if !ok {
				return db.Query{}, fmt.Errorf("unsupported filter %s=%s (only eq. is supported)", name, v)
			}
			q.Filters = append(q.Filters, db.Filter{Column: name, Value: value})
		}
	}

	return q, nil
}

func writeStoreError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, db.ErrUnknownTable):
		middleware.ErrorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, db.ErrUnknownColumn),
		errors.Is(err, db.ErrInvalidValue),
		errors.Is(err, db.ErrNoFilter):
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrReadOnly):
		middleware.ErrorResponse(w, http.StatusMethodNotAllowed, err.Error())
	case errors.Is(err, db.ErrConflict):
		middleware.ErrorResponse(w, http.StatusConflict, err.Error())
	default:
		slog.Error(strings.ToLower(message), "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, message)
	}
}
