package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/erauner12/syncengine/deltatoken"
	"github.com/erauner12/syncengine/entity"
	"github.com/erauner12/syncengine/odata"
	"github.com/erauner12/syncengine/opqueue"
	"github.com/erauner12/syncengine/pull"
	"github.com/erauner12/syncengine/push"
)

type fakeStore struct {
	mu    sync.Mutex
	items map[string]map[string]any
}

func newFakeStore() *fakeStore { return &fakeStore{items: make(map[string]map[string]any)} }

func (s *fakeStore) key(entityType, id string) string { return entityType + "|" + id }

func (s *fakeStore) Get(_ context.Context, entityType, id string) (map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[s.key(entityType, id)]
	return item, ok, nil
}

func (s *fakeStore) Insert(_ context.Context, entityType string, item map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := item["id"].(string)
	s.items[s.key(entityType, id)] = item
	return nil
}

func (s *fakeStore) Update(_ context.Context, entityType string, item map[string]any) error {
	return s.Insert(context.Background(), entityType, item)
}

func (s *fakeStore) Delete(_ context.Context, entityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, s.key(entityType, id))
	return nil
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(WithLocalStore(newFakeStore()))
	if err == nil {
		t.Fatal("expected an error when endpoint is not configured")
	}
}

func TestNewRequiresLocalStore(t *testing.T) {
	_, err := New(WithEndpoint("http://127.0.0.1:1"))
	if err == nil {
		t.Fatal("expected an error when no local store is configured")
	}
}

func TestRegisterEntityValidatesDescriptor(t *testing.T) {
	c, err := New(WithEndpoint("http://127.0.0.1:1"), WithLocalStore(newFakeStore()))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterEntity("Movie", entity.NewMapAccessor("Movie"), ""); err == nil {
		t.Fatal("expected rejection of a descriptor with no resource path")
	}
	if err := c.RegisterEntity("Movie", entity.NewMapAccessor("Movie"), "/tables/movie"); err != nil {
		t.Fatal(err)
	}
}

func TestPushDrainsQueueAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "m1", "title": "A", "version": "AQ=="})
	}))
	defer srv.Close()

	store := newFakeStore()
	opStore := opqueue.NewMemoryStore()
	c, err := New(WithEndpoint(srv.URL), WithLocalStore(store), WithOperationsQueueStore(opStore))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterEntity("Movie", entity.NewMapAccessor("Movie"), "/tables/movie"); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := opqueue.Enqueue(ctx, opStore, "Movie", "m1", opqueue.KindAdd, map[string]any{"id": "m1", "title": "local-draft"}, nil); err != nil {
		t.Fatal(err)
	}

	result, err := c.Push(ctx, push.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsSuccessful {
		t.Fatalf("expected success, got %+v", result)
	}
	if item, found, _ := store.Get(ctx, "Movie", "m1"); !found || item["title"] != "A" {
		t.Fatalf("expected server copy written back, got found=%v item=%+v", found, item)
	}
}

func TestPullAppliesServerRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "m2", "title": "B", "updatedAt": "2026-01-01T00:00:00.000Z", "deleted": false},
			},
		})
	}))
	defer srv.Close()

	store := newFakeStore()
	c, err := New(WithEndpoint(srv.URL), WithLocalStore(store))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterEntity("Movie", entity.NewMapAccessor("Movie"), "/tables/movie"); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	specs := []PullSpec{{EntityType: "Movie", Query: &odata.QueryDescription{}}}
	if err := c.Pull(ctx, specs, pull.Options{}); err != nil {
		t.Fatal(err)
	}

	if item, found, _ := store.Get(ctx, "Movie", "m2"); !found || item["title"] != "B" {
		t.Fatalf("expected m2 applied locally, got found=%v item=%+v", found, item)
	}
}

func TestPullRejectsUnregisteredEntityType(t *testing.T) {
	store := newFakeStore()
	c, err := New(WithEndpoint("http://127.0.0.1:1"), WithLocalStore(store))
	if err != nil {
		t.Fatal(err)
	}
	err = c.Pull(context.Background(), []PullSpec{{EntityType: "Unregistered"}}, pull.Options{})
	if err == nil {
		t.Fatal("expected an error for an unregistered entity type")
	}
}

func TestSynchronizePushesBeforePulling(t *testing.T) {
	var order []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.Method)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "m1", "title": "A", "version": "AQ=="})
		default:
			json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}})
		}
	}))
	defer srv.Close()

	store := newFakeStore()
	opStore := opqueue.NewMemoryStore()
	c, err := New(WithEndpoint(srv.URL), WithLocalStore(store), WithOperationsQueueStore(opStore))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterEntity("Movie", entity.NewMapAccessor("Movie"), "/tables/movie"); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := opqueue.Enqueue(ctx, opStore, "Movie", "m1", opqueue.KindAdd, map[string]any{"id": "m1"}, nil); err != nil {
		t.Fatal(err)
	}

	specs := []PullSpec{{EntityType: "Movie", Query: &odata.QueryDescription{}}}
	if _, err := c.Synchronize(ctx, specs, push.Options{}, pull.Options{}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 2 || order[0] != http.MethodPost || order[1] != http.MethodGet {
		t.Fatalf("expected push (POST) before pull (GET), got %v", order)
	}
}

func TestDeltaTokenStoreOptionIsHonored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "m3", "updatedAt": "2026-02-01T00:00:00.000Z", "deleted": false},
			},
		})
	}))
	defer srv.Close()

	store := newFakeStore()
	tokens := deltatoken.NewMemoryStore()
	c, err := New(WithEndpoint(srv.URL), WithLocalStore(store), WithDeltaTokenStore(tokens))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterEntity("Movie", entity.NewMapAccessor("Movie"), "/tables/movie"); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	specs := []PullSpec{{EntityType: "Movie", Query: &odata.QueryDescription{}}}
	if err := c.Pull(ctx, specs, pull.Options{}); err != nil {
		t.Fatal(err)
	}

	token, err := tokens.Get(ctx, "Movie")
	if err != nil {
		t.Fatal(err)
	}
	if !token.After(deltatoken.Epoch) {
		t.Fatal("expected the caller-supplied delta-token store to record the advance")
	}
}
