// Package changecap implements the commit-path hooks that turn an
// application's dirty local entities into queued operations (spec §4.6).
package changecap

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/syncengine/entity"
	"github.com/erauner12/syncengine/opqueue"
	"github.com/erauner12/syncengine/synclock"
)

// ChangeKind is the local mutation kind an application's store reports at
// commit time, distinct from opqueue.Kind (the wire-facing operation kind)
// because "Modified" always maps to "Replace" but the reverse is not true.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Deleted
)

// Change is one dirty entity observed at commit time.
type Change struct {
	EntityType string
	Item       map[string]any // full payload for Added/Modified; for Deleted, must still carry the id (and the version, when known)
	Kind       ChangeKind
}

// Tracker is the local store's dirty-entity source: whatever the embedder's
// ORM/commit hook exposes. TrackedChanges is called once per commit with every
// change observed since the previous commit.
type Tracker interface {
	TrackedChanges(ctx context.Context) ([]Change, error)
}

// Mode selects whether the commit writes to the operations queue.
type Mode int

const (
	// Standard commits enqueue operations for later push.
	Standard Mode = iota
	// ServiceInitiated commits originate from a push response write-back and
	// must not re-queue the server's own update (spec §4.6).
	ServiceInitiated
)

// Commit enumerates tracker's pending changes, filters to accessors the
// caller has registered as synchronizable, and enqueues (or, in
// ServiceInitiated mode, skips enqueueing) each one. Entities whose id
// fails entity.ValidateID are reported as an *entity.ValidationError without
// enqueueing anything from the batch — a malformed id at commit time is a
// configuration bug, not a per-row skip (spec §4.6: "Entities whose id does
// not satisfy the id-regex are rejected (configuration error at commit
// time)").
//
// The enqueue loop runs under lock, acquired with lockToken (spec R2: "the
// operations queue is exclusively written under the synchronization lock").
// lockToken should be the same token the caller's own push/pull run holds,
// so a ServiceInitiated commit nested inside an already-locked push run
// re-enters rather than deadlocking.
func Commit(ctx context.Context, tracker Tracker, store opqueue.Store, accessors map[string]entity.Accessor, mode Mode, lock *synclock.Lock, lockToken any) error {
	changes, err := tracker.TrackedChanges(ctx)
	if err != nil {
		return err
	}

	release, err := lock.Acquire(ctx, lockToken)
	if err != nil {
		return err
	}
	defer release()

	// Every change is validated before any is enqueued, so a rejected id
	// leaves the queue untouched for the whole batch.
	type pendingOp struct {
		entityType, id string
		kind           opqueue.Kind
		payload        map[string]any
		version        []byte
	}
	var pending []pendingOp
	for _, c := range changes {
		accessor, ok := accessors[c.EntityType]
		if !ok {
			continue // not registered as synchronizable; change capture ignores it
		}

		id, err := changeID(accessor, c)
		if err != nil {
			log.Error().Err(err).Str("entityType", c.EntityType).Msg("changecap: failed to recover id for change")
			return err
		}
		if err := entity.ValidateID(id); err != nil {
			log.Error().Err(err).Str("entityType", c.EntityType).Str("id", id).Msg("changecap: rejected malformed id at commit time")
			return err
		}

		if mode == ServiceInitiated {
			continue
		}

		kind, version, err := toOperation(accessor, c)
		if err != nil {
			return err
		}
		payload := c.Item
		if kind == opqueue.KindDelete {
			payload = nil // Delete operations carry id + version only (spec §4.6)
		}
		pending = append(pending, pendingOp{c.EntityType, id, kind, payload, version})
	}

	for _, p := range pending {
		if err := opqueue.Enqueue(ctx, store, p.entityType, p.id, p.kind, p.payload, p.version); err != nil {
			return err
		}
	}

	return nil
}

func changeID(accessor entity.Accessor, c Change) (string, error) {
	if c.Item != nil {
		fields, err := accessor.GetSystemFields(c.Item)
		if err != nil {
			return "", err
		}
		return fields.ID, nil
	}
	return "", &entity.ConfigError{Component: "changecap", Message: "deleted change carries no item to recover its id from"}
}

// toOperation maps a local ChangeKind to the queue's wire-facing Kind and
// extracts the entity version to attach as the operation's precondition
// (spec §4.6: Added->Add, Modified->Replace, Deleted->Delete with id+version
// only).
func toOperation(accessor entity.Accessor, c Change) (opqueue.Kind, []byte, error) {
	switch c.Kind {
	case Added:
		fields, err := accessor.GetSystemFields(c.Item)
		if err != nil {
			return "", nil, err
		}
		return opqueue.KindAdd, fields.Version, nil
	case Modified:
		fields, err := accessor.GetSystemFields(c.Item)
		if err != nil {
			return "", nil, err
		}
		return opqueue.KindReplace, fields.Version, nil
	case Deleted:
		var version []byte
		if c.Item != nil {
			if fields, err := accessor.GetSystemFields(c.Item); err == nil {
				version = fields.Version
			}
		}
		return opqueue.KindDelete, version, nil
	default:
		return "", nil, &entity.ConfigError{Component: "changecap", Message: "unknown change kind"}
	}
}
