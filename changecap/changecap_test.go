package changecap

import (
	"context"
	"testing"

	"github.com/erauner12/syncengine/entity"
	"github.com/erauner12/syncengine/opqueue"
	"github.com/erauner12/syncengine/synclock"
)

type fakeTracker struct {
	changes []Change
}

func (f *fakeTracker) TrackedChanges(_ context.Context) ([]Change, error) {
	return f.changes, nil
}

func TestCommitStandardEnqueuesOperations(t *testing.T) {
	ctx := context.Background()
	store := opqueue.NewMemoryStore()
	accessors := map[string]entity.Accessor{"Movie": entity.NewMapAccessor("Movie")}

	tracker := &fakeTracker{changes: []Change{
		{EntityType: "Movie", Kind: Added, Item: map[string]any{"id": "m1", "title": "A"}},
	}}

	if err := Commit(ctx, tracker, store, accessors, Standard, synclock.New(), "test"); err != nil {
		t.Fatal(err)
	}

	op, found, err := store.Find(ctx, "Movie", "m1")
	if err != nil || !found {
		t.Fatalf("expected operation enqueued: found=%v err=%v", found, err)
	}
	if op.Kind != opqueue.KindAdd {
		t.Fatalf("expected Add, got %s", op.Kind)
	}
}

func TestCommitServiceInitiatedDoesNotEnqueue(t *testing.T) {
	ctx := context.Background()
	store := opqueue.NewMemoryStore()
	accessors := map[string]entity.Accessor{"Movie": entity.NewMapAccessor("Movie")}

	tracker := &fakeTracker{changes: []Change{
		{EntityType: "Movie", Kind: Modified, Item: map[string]any{"id": "m1", "title": "server-authoritative"}},
	}}

	if err := Commit(ctx, tracker, store, accessors, ServiceInitiated, synclock.New(), "test"); err != nil {
		t.Fatal(err)
	}

	_, found, err := store.Find(ctx, "Movie", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected service-initiated commit to skip the queue")
	}
}

func TestCommitSkipsUnregisteredEntityTypes(t *testing.T) {
	ctx := context.Background()
	store := opqueue.NewMemoryStore()
	accessors := map[string]entity.Accessor{"Movie": entity.NewMapAccessor("Movie")}

	tracker := &fakeTracker{changes: []Change{
		{EntityType: "Unregistered", Kind: Added, Item: map[string]any{"id": "u1"}},
	}}

	if err := Commit(ctx, tracker, store, accessors, Standard, synclock.New(), "test"); err != nil {
		t.Fatal(err)
	}
	_, found, _ := store.Find(ctx, "Unregistered", "u1")
	if found {
		t.Fatal("expected unregistered entity type to be ignored")
	}
}

func TestCommitDeletedCarriesOnlyIDAndVersion(t *testing.T) {
	ctx := context.Background()
	store := opqueue.NewMemoryStore()
	accessors := map[string]entity.Accessor{"Movie": entity.NewMapAccessor("Movie")}

	tracker := &fakeTracker{changes: []Change{
		{EntityType: "Movie", Kind: Deleted, Item: map[string]any{"id": "m1", "version": "abcd", "title": "A"}},
	}}

	if err := Commit(ctx, tracker, store, accessors, Standard, synclock.New(), "test"); err != nil {
		t.Fatal(err)
	}

	op, found, err := store.Find(ctx, "Movie", "m1")
	if err != nil || !found {
		t.Fatalf("expected operation enqueued: found=%v err=%v", found, err)
	}
	if op.Kind != opqueue.KindDelete {
		t.Fatalf("expected Delete, got %s", op.Kind)
	}
	if op.Item != nil {
		t.Fatalf("expected delete operation to carry no item payload, got %v", op.Item)
	}
	if len(op.EntityVersion) == 0 {
		t.Fatal("expected delete operation to carry the entity version")
	}
}

func TestCommitRejectsInvalidID(t *testing.T) {
	ctx := context.Background()
	store := opqueue.NewMemoryStore()
	accessors := map[string]entity.Accessor{"Movie": entity.NewMapAccessor("Movie")}

	tracker := &fakeTracker{changes: []Change{
		{EntityType: "Movie", Kind: Added, Item: map[string]any{"id": "-bad-id"}},
	}}

	err := Commit(ctx, tracker, store, accessors, Standard, synclock.New(), "test")
	if err == nil {
		t.Fatal("expected rejection of a malformed id")
	}
}
