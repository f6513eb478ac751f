package deltatoken

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreGetDefaultsToEpoch(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.Get(context.Background(), "Movie")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(Epoch) {
		t.Fatalf("expected epoch, got %v", got)
	}
}

func TestMemoryStoreSetIsMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	t1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	changed, err := s.Set(ctx, "Movie", t1)
	if err != nil || !changed {
		t.Fatalf("expected first set to change the value: changed=%v err=%v", changed, err)
	}

	earlier := t1.Add(-time.Hour)
	changed, err = s.Set(ctx, "Movie", earlier)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("expected an earlier timestamp to be rejected")
	}

	got, _ := s.Get(ctx, "Movie")
	if !got.Equal(t1) {
		t.Fatalf("expected stored value to remain at max, got %v", got)
	}

	later := t1.Add(time.Hour)
	changed, err = s.Set(ctx, "Movie", later)
	if err != nil || !changed {
		t.Fatalf("expected a later timestamp to change the value: changed=%v err=%v", changed, err)
	}
}

func TestMemoryStoreReset(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Set(ctx, "Movie", time.Now().UTC())
	if err := s.Reset(ctx, "Movie"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "Movie")
	if !got.Equal(Epoch) {
		t.Fatalf("expected epoch after reset, got %v", got)
	}
}

func TestQueryID(t *testing.T) {
	if got := QueryID("Movie", ""); got != "Movie" {
		t.Fatalf("got %q", got)
	}
	if got := QueryID("Movie", "favorites"); got != "Movie|favorites" {
		t.Fatalf("got %q", got)
	}
}
