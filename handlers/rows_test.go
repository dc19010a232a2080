// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielhkuo/daystogether/auth"
	"github.com/danielhkuo/daystogether/db"
	"github.com/danielhkuo/daystogether/middleware"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/testutil"
)

// withRole simulates RequireAPIKey having run
func withRole(r *http.Request, role string) *http.Request {
	var got *http.Request
	key, _ := auth.IssueServiceKey(testutil.TestJWTSecret, role, 0)
	r.Header.Set("apikey", key)
	middleware.RequireAPIKey(testutil.TestJWTSecret, func(w http.ResponseWriter, r *http.Request) {
		got = r
	})(httptest.NewRecorder(), r)
	return got
}

func TestInsertAndSelect(t *testing.T) {
	store := testutil.SetupTestStore(t, nil)
	h := NewRowsHandler(store)

	for _, text := range []string{"first", "second"} {
		req := testutil.MakeRequest("POST", "/rest/v1/messages", map[string]string{"text": text, "sender": "name1"}, nil)
		req.SetPathValue("table", models.TableMessages)
		w := httptest.NewRecorder()
		h.Insert(w, req)

		testutil.AssertStatus(t, w, http.StatusCreated)
		var created models.Message
		testutil.AssertJSON(t, w, &created)
		if created.ID == "" || created.Text != text || created.Date == "" {
			t.Errorf("Unexpected created row %+v", created)
		}
	}

	req := testutil.MakeRequest("GET", "/rest/v1/messages?order=date.desc&limit=1", nil, nil)
	req.SetPathValue("table", models.TableMessages)
	w := httptest.NewRecorder()
	h.Select(w, req)

	testutil.AssertStatus(t, w, http.StatusOK)
	var rows []models.Message
	testutil.AssertJSON(t, w, &rows)
	if len(rows) != 1 || rows[0].Text != "second" {
		t.Errorf("Expected newest message only, got %+v", rows)
	}
}

func TestSelectFilter(t *testing.T) {
	store := testutil.SetupTestStore(t, nil)
	h := NewRowsHandler(store)
	testutil.InsertTestRow(t, store, models.TableVisitedPlaces, db.Row{"name": "Beijing"})
	testutil.InsertTestRow(t, store, models.TableVisitedPlaces, db.Row{"name": "Tokyo"})

	req := testutil.MakeRequest("GET", "/rest/v1/visited_places?select=name&name=eq.Tokyo", nil, nil)
	req.SetPathValue("table", models.TableVisitedPlaces)
	w := httptest.NewRecorder()
	h.Select(w, req)

	testutil.AssertStatus(t, w, http.StatusOK)
	var rows []map[string]any
	testutil.AssertJSON(t, w, &rows)
	if len(rows) != 1 || rows[0]["name"] != "Tokyo" {
		t.Errorf("Expected only Tokyo, got %v", rows)
	}
	if _, ok := rows[0]["id"]; ok {
		t.Error("Expected select to limit columns")
	}
}

func TestSelectErrors(t *testing.T) {
	store := testutil.SetupTestStore(t, nil)
	h := NewRowsHandler(store)

	testCases := []struct {
		name           string
		table          string
		query          string
		expectedStatus int
	}{
		{"unknown table", "guestbook", "", http.StatusNotFound},
		{"unknown column", models.TableMessages, "?select=votes", http.StatusBadRequest},
		{"bad order direction", models.TableMessages, "?order=date.sideways", http.StatusBadRequest},
		{"bad limit", models.TableMessages, "?limit=-1", http.StatusBadRequest},
		{"unsupported operator", models.TableMessages, "?text=like.hi", http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := testutil.MakeRequest("GET", "/rest/v1/"+tc.table+tc.query, nil, nil)
			req.SetPathValue("table", tc.table)
			w := httptest.NewRecorder()
			h.Select(w, req)
			testutil.AssertStatus(t, w, tc.expectedStatus)
		})
	}
}

func TestInsertErrors(t *testing.T) {
	store := testutil.SetupTestStore(t, nil)
	h := NewRowsHandler(store)
	testutil.InsertTestRow(t, store, models.TableVisitedPlaces, db.Row{"name": "Paris"})

	testCases := []struct {
		name           string
		table          string
		body           interface{}
		expectedStatus int
	}{
		{"null body", models.TableMessages, nil, http.StatusBadRequest},
		{"read-only table", models.TableBlessingStats, map[string]any{"count": "1"}, http.StatusMethodNotAllowed},
		{"duplicate unique name", models.TableVisitedPlaces, map[string]any{"name": "Paris"}, http.StatusConflict},
		{"number in text column", models.TableMessages, map[string]any{"text": 42}, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := testutil.MakeRequest("POST", "/rest/v1/"+tc.table, tc.body, nil)
			req.SetPathValue("table", tc.table)
			w := httptest.NewRecorder()
			h.Insert(w, req)
			testutil.AssertStatus(t, w, tc.expectedStatus)
		})
	}
}

func TestUpdate(t *testing.T) {
	store := testutil.SetupTestStore(t, nil)
	h := NewRowsHandler(store)
	id := testutil.InsertTestRow(t, store, models.TablePhotos, db.Row{"image_urls": []string{"a"}, "description": "old"})

	req := testutil.MakeRequest("PATCH", "/rest/v1/photos?id=eq."+id, map[string]any{"description": "new", "image_urls": []string{"a", "b"}}, nil)
	req.SetPathValue("table", models.TablePhotos)
	w := httptest.NewRecorder()
	h.Update(w, req)

	testutil.AssertStatus(t, w, http.StatusOK)
	var resp models.CountResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Count != 1 {
		t.Errorf("Expected 1 row updated, got %d", resp.Count)
	}

	rows, err := store.Select(context.Background(), models.TablePhotos, db.Query{})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if rows[0]["description"] != "new" {
		t.Errorf("Expected description 'new', got %v", rows[0]["description"])
	}

	// Filters are mandatory
	req = testutil.MakeRequest("PATCH", "/rest/v1/photos", map[string]any{"description": "x"}, nil)
	req.SetPathValue("table", models.TablePhotos)
	w = httptest.NewRecorder()
	h.Update(w, req)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestDelete(t *testing.T) {
	store := testutil.SetupTestStore(t, nil)
	h := NewRowsHandler(store)
	id := testutil.InsertTestRow(t, store, models.TableAchievements, db.Row{"title": "met", "date": "2023-05-20", "icon": "💕"})
	testutil.InsertTestRow(t, store, models.TableAchievements, db.Row{"title": "trip", "date": "2024-01-01", "icon": "✈️"})

	req := withRole(testutil.MakeRequest("DELETE", "/rest/v1/achievements?id=eq."+id, nil, nil), auth.RoleAnon)
	req.SetPathValue("table", models.TableAchievements)
	w := httptest.NewRecorder()
	h.Delete(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)

	n, _ := store.Count(context.Background(), models.TableAchievements)
	if n != 1 {
		t.Errorf("Expected 1 remaining achievement, got %d", n)
	}
}

func TestDeleteAllRequiresServiceRole(t *testing.T) {
	store := testutil.SetupTestStore(t, nil)
	h := NewRowsHandler(store)
	for range 3 {
		testutil.InsertTestRow(t, store, models.TableBlessings, db.Row{})
	}

	req := withRole(testutil.MakeRequest("DELETE", "/rest/v1/blessings", nil, nil), auth.RoleAnon)
	req.SetPathValue("table", models.TableBlessings)
	w := httptest.NewRecorder()
	h.Delete(w, req)
	testutil.AssertStatus(t, w, http.StatusForbidden)

	req = withRole(testutil.MakeRequest("DELETE", "/rest/v1/blessings", nil, nil), auth.RoleService)
	req.SetPathValue("table", models.TableBlessings)
	w = httptest.NewRecorder()
	h.Delete(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.CountResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Count != 3 {
		t.Errorf("Expected 3 rows purged, got %d", resp.Count)
	}
}

func TestCount(t *testing.T) {
	store := testutil.SetupTestStore(t, nil)
	h := NewRowsHandler(store)
	testutil.InsertTestRow(t, store, models.TablePublicMessages, db.Row{"text": "congrats"})

	req := testutil.MakeRequest("GET", "/rest/v1/public_messages/count", nil, nil)
	req.SetPathValue("table", models.TablePublicMessages)
	w := httptest.NewRecorder()
	h.Count(w, req)

	testutil.AssertStatus(t, w, http.StatusOK)
	var resp models.CountResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Count != 1 {
		t.Errorf("Expected count 1, got %d", resp.Count)
	}
}
