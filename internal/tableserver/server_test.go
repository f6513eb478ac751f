package tableserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/erauner12/syncengine/internal/tableserver/store"
)

// getTestStore opens a real Postgres-backed store against TEST_DATABASE_URL,
// skipping when unset, mirroring the teacher's internal/httpapi integration
// test harness (sync_notes_test.go's getTestDB).
func getTestStore(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	st, err := store.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if _, err := st.Query(context.Background(), "__cleanup__", nil, true); err != nil {
		t.Fatalf("failed to verify store: %v", err)
	}
	return st
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	st := getTestStore(t)
	s := New(st, nil)
	t.Cleanup(s.Close)
	return s, s.Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/tables/widget", map[string]any{"id": "w1", "name": "gizmo"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created map[string]any
	json.Unmarshal(w.Body.Bytes(), &created)
	if created["name"] != "gizmo" {
		t.Fatalf("expected created body to echo payload, got %+v", created)
	}

	w = doJSON(t, router, http.MethodGet, "/tables/widget/w1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateDuplicateReturnsConflict(t *testing.T) {
	_, router := newTestServer(t)

	doJSON(t, router, http.MethodPost, "/tables/widget", map[string]any{"id": "w2", "name": "first"})
	w := doJSON(t, router, http.MethodPost, "/tables/widget", map[string]any{"id": "w2", "name": "second"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate id, got %d", w.Code)
	}
}

func TestReplaceHonoursIfMatch(t *testing.T) {
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/tables/widget", map[string]any{"id": "w3", "name": "v1"})
	var created map[string]any
	json.Unmarshal(w.Body.Bytes(), &created)
	etag := w.Header().Get("ETag")

	req := httptest.NewRequest(http.MethodPut, "/tables/widget/w3", bytes.NewReader(mustJSON(t, map[string]any{"name": "v2"})))
	req.Header.Set("If-Match", "\"stale\"")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	if w2.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 on stale If-Match, got %d", w2.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/tables/widget/w3", bytes.NewReader(mustJSON(t, map[string]any{"name": "v2"})))
	req.Header.Set("If-Match", etag)
	w3 := httptest.NewRecorder()
	router.ServeHTTP(w3, req)
	if w3.Code != http.StatusOK {
		t.Fatalf("expected 200 with matching If-Match, got %d: %s", w3.Code, w3.Body.String())
	}
}

func TestDeleteIsSoftByDefaultThenReturnsGone(t *testing.T) {
	_, router := newTestServer(t)

	doJSON(t, router, http.MethodPost, "/tables/widget", map[string]any{"id": "w4"})
	w := doJSON(t, router, http.MethodDelete, "/tables/widget/w4", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/tables/widget/w4", nil)
	if w.Code != http.StatusGone {
		t.Fatalf("expected 410 for a soft-deleted row, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/tables/widget/w4", nil)
	if w.Code != http.StatusGone {
		t.Fatalf("expected 410 on re-delete, got %d", w.Code)
	}
}

func TestListExcludesSoftDeletedUnlessIncludeDeleted(t *testing.T) {
	_, router := newTestServer(t)

	doJSON(t, router, http.MethodPost, "/tables/gizmo", map[string]any{"id": "g1"})
	doJSON(t, router, http.MethodDelete, "/tables/gizmo/g1", nil)

	w := doJSON(t, router, http.MethodGet, "/tables/gizmo", nil)
	var pg page
	json.Unmarshal(w.Body.Bytes(), &pg)
	if len(pg.Items) != 0 {
		t.Fatalf("expected soft-deleted row excluded by default, got %+v", pg.Items)
	}

	w = doJSON(t, router, http.MethodGet, "/tables/gizmo?__includedeleted=true", nil)
	json.Unmarshal(w.Body.Bytes(), &pg)
	if len(pg.Items) != 1 {
		t.Fatalf("expected soft-deleted row included, got %+v", pg.Items)
	}
}

func TestInfoEndpointIsUnauthenticated(t *testing.T) {
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/v1/sync/info", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
