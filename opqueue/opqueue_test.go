package opqueue

import (
	"context"
	"testing"
)

func TestEnqueueInsertsNewOperation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := Enqueue(ctx, store, "Movie", "m1", KindAdd, map[string]any{"title": "A"}, nil); err != nil {
		t.Fatal(err)
	}

	op, found, err := store.Find(ctx, "Movie", "m1")
	if err != nil || !found {
		t.Fatalf("expected operation to be found: found=%v err=%v", found, err)
	}
	if op.Kind != KindAdd || op.State != StatePending || op.Sequence != 1 {
		t.Fatalf("unexpected operation: %+v", op)
	}
}

func TestCoalesceAddThenDeleteRemovesOperation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	Enqueue(ctx, store, "Movie", "m1", KindAdd, map[string]any{"title": "A"}, nil)

	if err := Enqueue(ctx, store, "Movie", "m1", KindDelete, nil, nil); err != nil {
		t.Fatal(err)
	}

	_, found, err := store.Find(ctx, "Movie", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected Add+Delete to remove the operation entirely")
	}
}

func TestCoalesceAddThenReplaceKeepsAdd(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	Enqueue(ctx, store, "Movie", "m1", KindAdd, map[string]any{"title": "A"}, nil)
	Enqueue(ctx, store, "Movie", "m1", KindReplace, map[string]any{"title": "B"}, nil)

	op, _, _ := store.Find(ctx, "Movie", "m1")
	if op.Kind != KindAdd {
		t.Fatalf("expected coalesced kind to stay Add, got %s", op.Kind)
	}
	if op.Item["title"] != "B" {
		t.Fatalf("expected item payload to be replaced, got %v", op.Item)
	}
	if op.Version != 2 {
		t.Fatalf("expected version to bump on coalesce, got %d", op.Version)
	}
}

func TestCoalesceDeleteThenAddBecomesReplace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	Enqueue(ctx, store, "Movie", "m1", KindDelete, nil, nil)
	Enqueue(ctx, store, "Movie", "m1", KindAdd, map[string]any{"title": "A"}, nil)

	op, _, _ := store.Find(ctx, "Movie", "m1")
	if op.Kind != KindReplace {
		t.Fatalf("expected Delete+Add to become Replace, got %s", op.Kind)
	}
}

func TestCoalesceReplaceThenDeleteBecomesDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	Enqueue(ctx, store, "Movie", "m1", KindReplace, map[string]any{"title": "A"}, nil)
	Enqueue(ctx, store, "Movie", "m1", KindDelete, nil, nil)

	op, _, _ := store.Find(ctx, "Movie", "m1")
	if op.Kind != KindDelete {
		t.Fatalf("expected Replace+Delete to become Delete, got %s", op.Kind)
	}
	if op.Item != nil {
		t.Fatalf("expected Delete to drop its payload, got %v", op.Item)
	}
}

func TestCoalesceReplaceThenReplace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	Enqueue(ctx, store, "Movie", "m1", KindReplace, map[string]any{"title": "A"}, nil)
	Enqueue(ctx, store, "Movie", "m1", KindReplace, map[string]any{"title": "B"}, nil)

	op, _, _ := store.Find(ctx, "Movie", "m1")
	if op.Kind != KindReplace || op.Item["title"] != "B" {
		t.Fatalf("unexpected coalesced op: %+v", op)
	}
}

func TestCoalesceDeleteThenDeleteIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	Enqueue(ctx, store, "Movie", "m1", KindDelete, nil, nil)

	err := Enqueue(ctx, store, "Movie", "m1", KindDelete, nil, nil)
	if err == nil {
		t.Fatal("expected Delete+Delete to raise an integrity error")
	}
	if _, ok := err.(*IntegrityError); !ok {
		t.Fatalf("expected *IntegrityError, got %T: %v", err, err)
	}
}

func TestCoalesceDeleteThenReplaceIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	Enqueue(ctx, store, "Movie", "m1", KindDelete, nil, nil)

	err := Enqueue(ctx, store, "Movie", "m1", KindReplace, map[string]any{"title": "A"}, nil)
	if _, ok := err.(*IntegrityError); !ok {
		t.Fatalf("expected *IntegrityError, got %T: %v", err, err)
	}
}

func TestSequencePreservedAcrossCoalesce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	Enqueue(ctx, store, "Movie", "m1", KindAdd, map[string]any{"title": "A"}, nil)
	Enqueue(ctx, store, "Show", "s1", KindAdd, map[string]any{"title": "B"}, nil)

	op, _, _ := store.Find(ctx, "Movie", "m1")
	seqBefore := op.Sequence
	Enqueue(ctx, store, "Movie", "m1", KindReplace, map[string]any{"title": "C"}, nil)

	opAfter, _, _ := store.Find(ctx, "Movie", "m1")
	if opAfter.Sequence != seqBefore {
		t.Fatalf("expected sequence to be preserved across coalesce: before=%d after=%d", seqBefore, opAfter.Sequence)
	}
}

func TestListPendingOrderedBySequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	Enqueue(ctx, store, "Movie", "m2", KindAdd, map[string]any{}, nil)
	Enqueue(ctx, store, "Movie", "m1", KindAdd, map[string]any{}, nil)
	Enqueue(ctx, store, "Movie", "m3", KindAdd, map[string]any{}, nil)

	ops, err := store.ListPending(ctx, []string{"Movie"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 pending ops, got %d", len(ops))
	}
	for i := 1; i < len(ops); i++ {
		if ops[i].Sequence < ops[i-1].Sequence {
			t.Fatalf("expected ops ordered by ascending sequence, got %+v", ops)
		}
	}
}
