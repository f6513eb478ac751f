// Package opqueue implements the durable operations queue (spec §4.5): the
// ordered log of pending local mutations, with the coalescing rules that
// collapse repeated edits to the same (entityType, id) into a single
// pending operation.
package opqueue

import (
	"context"
	"fmt"
)

// Kind is the mutation an operation represents.
type Kind string

const (
	KindAdd     Kind = "Add"
	KindDelete  Kind = "Delete"
	KindReplace Kind = "Replace"
)

// State tracks an operation's lifecycle.
type State string

const (
	StatePending   State = "Pending"
	StateAttempted State = "Attempted"
	StateFailed    State = "Failed"
	StateCompleted State = "Completed"
)

// Operation is a single queued mutation (spec §3's DatasyncOperation).
type Operation struct {
	ID             int64
	EntityType     string
	ItemID         string
	Kind           Kind
	State          State
	EntityVersion  []byte
	Item           map[string]any
	Sequence       int64
	Version        int64 // optimistic-concurrency counter, bumped on coalesce
	LastAttempt    *int64
	HTTPStatusCode *int
}

// IntegrityError marks a coalescing transition the state machine has no
// rule for (spec §4.5: "raise a queue-integrity error").
type IntegrityError struct {
	Existing Kind
	Incoming Kind
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("opqueue: no coalescing rule for existing=%s incoming=%s", e.Existing, e.Incoming)
}

// Store is the durable backing store for the queue. Callers are expected to
// hold the synchronization lock (spec §4.9, R2) around any call that
// mutates the queue; the store itself does not serialize writers.
type Store interface {
	// MaxSequence returns the highest sequence number currently stored, or 0
	// if the queue is empty.
	MaxSequence(ctx context.Context) (int64, error)

	// Find returns the pending (non-Completed) operation for
	// (entityType, itemID), if one exists.
	Find(ctx context.Context, entityType, itemID string) (*Operation, bool, error)

	// Insert appends a brand-new operation.
	Insert(ctx context.Context, op *Operation) error

	// Update overwrites an existing operation in place (by ID).
	Update(ctx context.Context, op *Operation) error

	// Delete removes an operation by ID.
	Delete(ctx context.Context, id int64) error

	// ListPending returns every operation in scope whose state is not
	// Completed, for the push engine to dispatch. An empty entityTypes
	// means "every registered type".
	ListPending(ctx context.Context, entityTypes []string) ([]*Operation, error)
}

// NextSequence computes max(sequence)+1, to be called while holding the
// synchronization lock (spec §4.5: "Sequence is assigned via max(sequence) +
// 1 inside the sync lock to guarantee monotonicity without coordination").
func NextSequence(ctx context.Context, store Store) (int64, error) {
	max, err := store.MaxSequence(ctx)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// Enqueue inserts or coalesces a new operation against any existing pending
// operation for the same (entityType, itemID), per the coalescing table in
// spec §4.5. Must be called while holding the synchronization lock.
func Enqueue(ctx context.Context, store Store, entityType, itemID string, kind Kind, item map[string]any, entityVersion []byte) error {
	existing, found, err := store.Find(ctx, entityType, itemID)
	if err != nil {
		return err
	}

	if !found {
		seq, err := NextSequence(ctx, store)
		if err != nil {
			return err
		}
		return store.Insert(ctx, &Operation{
			EntityType:    entityType,
			ItemID:        itemID,
			Kind:          kind,
			State:         StatePending,
			EntityVersion: entityVersion,
			Item:          item,
			Sequence:      seq,
			Version:       1,
		})
	}

	result, err := coalesce(existing.Kind, kind)
	if err == errRemove {
		return store.Delete(ctx, existing.ID)
	}
	if err != nil {
		return err
	}

	existing.Kind = result
	existing.State = StatePending
	existing.Version++
	existing.EntityVersion = entityVersion
	switch result {
	case KindDelete:
		existing.Item = nil
	default:
		existing.Item = item
	}
	// sequence is preserved across coalescing so cross-entity ordering stays
	// stable (spec §4.5).
	return store.Update(ctx, existing)
}

// coalesce implements the table in spec §4.5. An empty Kind with the
// errRemove sentinel means "remove the existing operation entirely" (Add
// followed by Delete).
func coalesce(existing, incoming Kind) (Kind, error) {
	switch {
	case existing == KindAdd && incoming == KindDelete:
		return "", errRemove
	case existing == KindAdd && incoming == KindReplace:
		return KindAdd, nil
	case existing == KindDelete && incoming == KindAdd:
		return KindReplace, nil
	case existing == KindReplace && incoming == KindDelete:
		return KindDelete, nil
	case existing == KindReplace && incoming == KindReplace:
		return KindReplace, nil
	default:
		return "", &IntegrityError{Existing: existing, Incoming: incoming}
	}
}

// errRemove is a sentinel distinguishing "drop the existing operation" from
// a genuine integrity error; Enqueue special-cases it below coalesce.
var errRemove = fmt.Errorf("opqueue: coalesced operation removed")
