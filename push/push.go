// Package push implements the bounded-parallel replay of queued local
// mutations against the server (spec §4.7): dispatch through the pipeline,
// conflict/4xx/5xx handling, and write-back of the server's authoritative
// copy via a service-initiated commit.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/erauner12/syncengine/changecap"
	"github.com/erauner12/syncengine/entity"
	"github.com/erauner12/syncengine/opqueue"
	"github.com/erauner12/syncengine/pipeline"
	"github.com/erauner12/syncengine/synclock"
)

// PathResolver maps an entity type (and, for Replace/Delete, an id) to its
// resource path. Defaults to entity.DefaultPath for the collection root.
type PathResolver func(entityType, id string) string

// DefaultPathResolver implements entity.DefaultPath, appending /{id} when
// id is non-empty.
func DefaultPathResolver(entityType, id string) string {
	p := entity.DefaultPath(entityType)
	if id != "" {
		p += "/" + id
	}
	return p
}

// Options configures a push run (spec §4.7).
type Options struct {
	// ParallelOperations bounds the worker pool, clamped to [1, 8].
	ParallelOperations int
	// EntityTypes scopes which operations are dispatched. Empty means every
	// registered type.
	EntityTypes []string
	PathResolver PathResolver
}

func (o Options) clampedParallelism() int {
	switch {
	case o.ParallelOperations < 1:
		return 1
	case o.ParallelOperations > 8:
		return 8
	default:
		return o.ParallelOperations
	}
}

// ServiceResponse carries a non-2xx server response for a failed operation,
// surfaced to the caller for inspection/merge.
type ServiceResponse struct {
	StatusCode int
	Body       map[string]any
}

// Result aggregates a push run's outcome (spec §4.7: "completedOperations, a
// map id -> ServiceResponse for failures, and an aggregate isSuccessful").
type Result struct {
	CompletedOperations int
	Failed              map[string]ServiceResponse
	IsSuccessful        bool
	// CorrelationID identifies every outbound request this run made (set on
	// each via pipeline.CorrelationHeader), so server and client logs for
	// one Push call can be joined on a single id.
	CorrelationID string
}

// LocalWriter is the embedder's hook for writing the server's authoritative
// copy back into the local store after a successful Add/Replace (spec §4.7
// step 5). The local store itself is out of scope (spec §1); this is the
// narrow contract the engine depends on to reach it.
type LocalWriter interface {
	WriteBack(ctx context.Context, entityType string, item map[string]any) error
}

// Deps bundles the collaborators a push run needs: the accessor registry
// (by entity type), the queue store, a client resolver, and the
// synchronization lock.
type Deps struct {
	Accessors   map[string]entity.Accessor
	Store       opqueue.Store
	Clients     *pipeline.Factory
	Endpoint    string
	ClientName  string
	Lock        *synclock.Lock
	ChangeStore changecap.Tracker
	LocalStore  LocalWriter
}

// Run executes one push (spec §4.7 steps 1-9). lockToken identifies this
// call's logical lock holder for re-entrancy against nested commits.
func Run(ctx context.Context, deps Deps, opts Options, lockToken any) (*Result, error) {
	resolver := opts.PathResolver
	if resolver == nil {
		resolver = DefaultPathResolver
	}

	// Step 1: flush pending application changes. changecap.Commit takes the
	// synchronization lock itself around the enqueue loop (spec R2: "the
	// operations queue is exclusively written under the synchronization
	// lock"), released again before step 2 acquires it for the dispatch
	// phase proper.
	if deps.ChangeStore != nil {
		if err := changecap.Commit(ctx, deps.ChangeStore, deps.Store, deps.Accessors, changecap.Standard, deps.Lock, lockToken); err != nil {
			return nil, err
		}
	}

	// Step 2: acquire the synchronization lock.
	release, err := deps.Lock.Acquire(ctx, lockToken)
	if err != nil {
		return nil, err
	}
	defer release()

	// Step 3: enumerate queued operations in scope.
	ops, err := deps.Store.ListPending(ctx, opts.EntityTypes)
	if err != nil {
		return nil, err
	}

	client, err := deps.Clients.CreateClient(deps.Endpoint, deps.ClientName)
	if err != nil {
		return nil, err
	}

	correlationID := uuid.New().String()
	result := &Result{Failed: make(map[string]ServiceResponse), CorrelationID: correlationID}
	var resultMu chanMutex

	// Step 4: bounded worker pool dispatch.
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(opts.clampedParallelism())

	for _, op := range ops {
		op := op
		group.Go(func() error {
			return dispatch(gctx, deps, client, resolver, op, result, &resultMu, correlationID)
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	// Step 9: write back completed changes with a service-initiated commit.
	// Still under the lock acquired at step 2 (deferred release runs after
	// this function returns); changecap.Commit's own Acquire call re-enters
	// on the matching lockToken rather than deadlocking.
	if deps.ChangeStore != nil {
		if err := changecap.Commit(ctx, deps.ChangeStore, deps.Store, deps.Accessors, changecap.ServiceInitiated, deps.Lock, lockToken); err != nil {
			return nil, err
		}
	}

	result.IsSuccessful = len(result.Failed) == 0
	return result, nil
}

// chanMutex is a trivial mutex kept separate from sync.Mutex purely to make
// the call sites below read as "the result aggregation lock" rather than a
// generic mutex; it's a size-1 channel semaphore like synclock.Lock.
type chanMutex struct {
	ch   chan struct{}
	once bool
}

func (m *chanMutex) lock() {
	if m.ch == nil {
		m.ch = make(chan struct{}, 1)
	}
	m.ch <- struct{}{}
}

func (m *chanMutex) unlock() {
	<-m.ch
}

func dispatch(ctx context.Context, deps Deps, client *pipeline.Client, resolver PathResolver, op *opqueue.Operation, result *Result, mu *chanMutex, correlationID string) error {
	accessor, ok := deps.Accessors[op.EntityType]
	if !ok {
		return fmt.Errorf("push: no accessor registered for entity type %q", op.EntityType)
	}

	req, err := buildRequest(ctx, client, resolver, op)
	if err != nil {
		return err
	}
	req.Header.Set(pipeline.CorrelationHeader, correlationID)

	resp, err := client.Send(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("entityType", op.EntityType).Str("itemId", op.ItemID).Msg("push: transport failure dispatching operation")
		// Transport failure: mark Failed with no status code, keep the operation.
		mu.lock()
		op.State = opqueue.StateFailed
		deps.Store.Update(ctx, op)
		result.Failed[op.ItemID] = ServiceResponse{}
		mu.unlock()
		return nil
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := handleSuccess(ctx, deps, op, bodyBytes); err != nil {
			return err
		}
		mu.lock()
		result.CompletedOperations++
		mu.unlock()
		return nil
	case (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone) && op.Kind == opqueue.KindDelete:
		// Idempotent delete: treat as success.
		mu.lock()
		err := deps.Store.Delete(ctx, op.ID)
		if err == nil {
			result.CompletedOperations++
		}
		mu.unlock()
		return err
	default:
		return handleFailure(ctx, deps, op, resp.StatusCode, bodyBytes, result, mu)
	}
}

func buildRequest(ctx context.Context, client *pipeline.Client, resolver PathResolver, op *opqueue.Operation) (*http.Request, error) {
	var method, path string
	var body io.Reader

	switch op.Kind {
	case opqueue.KindAdd:
		method = http.MethodPost
		path = resolver(op.EntityType, "")
		b, err := json.Marshal(op.Item)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	case opqueue.KindReplace:
		method = http.MethodPut
		path = resolver(op.EntityType, op.ItemID)
		b, err := json.Marshal(op.Item)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	case opqueue.KindDelete:
		method = http.MethodDelete
		path = resolver(op.EntityType, op.ItemID)
	}

	req, err := client.NewRequest(ctx, method, path, "", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(op.EntityVersion) > 0 {
		pipeline.SetIfMatch(req, op.EntityVersion)
	}
	return req, nil
}

func handleSuccess(ctx context.Context, deps Deps, op *opqueue.Operation, bodyBytes []byte) error {
	if op.Kind == opqueue.KindDelete {
		return deps.Store.Delete(ctx, op.ID)
	}

	if len(bodyBytes) > 0 && deps.LocalStore != nil {
		var serverItem map[string]any
		if err := json.Unmarshal(bodyBytes, &serverItem); err != nil {
			return fmt.Errorf("push: malformed response body for %s %s: %w", op.EntityType, op.ItemID, err)
		}
		// Write the server's authoritative copy into the local row directly
		// through LocalWriter, without enqueueing. Any change the tracker
		// records for this write is drained by the step-9 ServiceInitiated
		// commit, which does not enqueue, so it is never re-queued.
		if err := deps.LocalStore.WriteBack(ctx, op.EntityType, serverItem); err != nil {
			return err
		}
	}
	return deps.Store.Delete(ctx, op.ID)
}

func handleFailure(ctx context.Context, deps Deps, op *opqueue.Operation, statusCode int, bodyBytes []byte, result *Result, mu *chanMutex) error {
	var body map[string]any
	json.Unmarshal(bodyBytes, &body)

	log.Warn().Int("status", statusCode).Str("entityType", op.EntityType).Str("itemId", op.ItemID).Msg("push: operation rejected by server")

	now := time.Now().UTC().UnixMilli()
	mu.lock()
	op.State = opqueue.StateFailed
	op.HTTPStatusCode = &statusCode
	op.LastAttempt = &now
	deps.Store.Update(ctx, op)
	result.Failed[op.ItemID] = ServiceResponse{StatusCode: statusCode, Body: body}
	mu.unlock()
	return nil
}
