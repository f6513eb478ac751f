// Package pull implements the bounded-parallel paged fetch and single-writer
// local apply that bring server state down into the local store (spec
// §4.8): effective-query derivation bounded by the delta token, a fetch
// queue of parallelOperations workers following nextLink, and a
// concurrency-1 apply queue that keeps local writes and delta-token
// advancement totally ordered within a queryId.
package pull

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/erauner12/syncengine/deltatoken"
	"github.com/erauner12/syncengine/entity"
	"github.com/erauner12/syncengine/odata"
	"github.com/erauner12/syncengine/pipeline"
	"github.com/erauner12/syncengine/synclock"
)

// PullRequest describes one query to pull down.
type PullRequest struct {
	EntityType string
	// QueryID scopes the delta token; defaults to EntityType if empty.
	QueryID    string
	Query      *odata.QueryDescription
	Descriptor *entity.Descriptor
}

func (r PullRequest) queryID() string {
	if r.QueryID != "" {
		return r.QueryID
	}
	return r.EntityType
}

// Options configures a pull run (spec §4.8).
type Options struct {
	// ParallelOperations bounds the fetch worker pool, clamped to [1, 8].
	ParallelOperations int
	// SaveAfterEveryServiceRequest is not read by Run. Every apply call in
	// this package already lands synchronously on deps.LocalStore, so there
	// is no deferred commit for it to bring forward; setting it changes
	// neither the writes nor the events.
	SaveAfterEveryServiceRequest bool
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

// page is the wire envelope a table controller returns for GET (spec §6).
type page struct {
	Items    []map[string]any `json:"items"`
	Count    *int64           `json:"count"`
	NextLink *string          `json:"nextLink"`
}

// PullResponse is one fetched page (or terminal failure) handed from a fetch
// worker to the apply queue.
type PullResponse struct {
	QueryID             string
	EntityType          string
	Descriptor          *entity.Descriptor
	Items               []map[string]any
	TotalItemsProcessed int
	TotalRequestItems   int
	Completed           bool
	Exception           error
	CorrelationID       string
}

// LocalStore is the embedder's local persistence hook the apply queue
// mutates (spec §1: the local store itself is out of scope; this is the
// narrow contract the engine depends on to reach it).
type LocalStore interface {
	Get(ctx context.Context, entityType, id string) (item map[string]any, found bool, err error)
	Insert(ctx context.Context, entityType string, item map[string]any) error
	Update(ctx context.Context, entityType string, item map[string]any) error
	Delete(ctx context.Context, entityType, id string) error
}

// Deps bundles a pull run's collaborators.
type Deps struct {
	Clients     *pipeline.Factory
	Endpoint    string
	ClientName  string
	DeltaTokens deltatoken.Store
	LocalStore  LocalStore
	Lock        *synclock.Lock
	Events      *synclock.Bus
}

// Run executes one pull across requests (spec §4.8 steps 1-end). lockToken
// identifies this call's logical lock holder for re-entrancy.
func Run(ctx context.Context, deps Deps, requests []PullRequest, opts Options, lockToken any) error {
	client, err := deps.Clients.CreateClient(deps.Endpoint, deps.ClientName)
	if err != nil {
		return err
	}

	release, err := deps.Lock.Acquire(ctx, lockToken)
	if err != nil {
		return err
	}
	defer release()

	correlationID := uuid.New().String()
	responses := make(chan *PullResponse)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(opts.clampedParallelism())

	applyDone := make(chan error, 1)
	go func() {
		applyDone <- applyLoop(ctx, deps, opts, responses)
	}()

	for _, req := range requests {
		req := req
		publish(deps.Events, synclock.Event{Kind: synclock.EventPullStarted, QueryID: req.queryID(), EntityType: req.EntityType, CorrelationID: correlationID})
		group.Go(func() error {
			return fetchRequest(gctx, deps, client, req, responses, correlationID)
		})
	}

	fetchErr := group.Wait()
	close(responses)
	applyErr := <-applyDone

	if fetchErr != nil {
		return fetchErr
	}
	return applyErr
}

// deriveEffectiveQuery applies spec §4.8's forced overrides to req's caller
// query, bounded by the current delta token.
func deriveEffectiveQuery(ctx context.Context, deps Deps, req PullRequest) (*odata.QueryDescription, error) {
	t0, err := deps.DeltaTokens.Get(ctx, req.queryID())
	if err != nil {
		return nil, err
	}

	q := req.Query.Clone()
	if t0.After(deltatoken.Epoch) {
		bound := odata.Gt(odata.Field("updatedAt"), odata.DateTime(entity.FormatUpdatedAt(t0)))
		if q.Filter == nil {
			q.Filter = bound
		} else {
			q.Filter = odata.And(q.Filter, bound)
		}
	}

	q.IncludeDeleted = true
	q.RequestTotalCount = true
	q.Top = nil // unbounded
	skip := 0
	q.Skip = &skip
	q.OrderBy = []odata.OrderClause{{Path: []string{"updatedAt"}, Ascending: true}}

	return q, nil
}

// fetchRequest pages through one request's result set, following
// server-supplied nextLinks verbatim, emitting a PullResponse per page.
func fetchRequest(ctx context.Context, deps Deps, client *pipeline.Client, req PullRequest, out chan<- *PullResponse, correlationID string) error {
	query, err := deriveEffectiveQuery(ctx, deps, req)
	if err != nil {
		sendTerminal(ctx, out, req, err, correlationID)
		return nil
	}

	rawQuery := query.EncodedQueryString()
	totalProcessed := 0
	totalRequestItems := -1

	for {
		httpReq, err := client.NewRequest(ctx, http.MethodGet, req.Descriptor.Path, rawQuery, nil)
		if err != nil {
			sendTerminal(ctx, out, req, err, correlationID)
			return nil
		}
		httpReq.Header.Set(pipeline.CorrelationHeader, correlationID)

		resp, err := client.Send(ctx, httpReq)
		if err != nil {
			sendTerminal(ctx, out, req, err, correlationID)
			return nil
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			sendTerminal(ctx, out, req, readErr, correlationID)
			return nil
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			sendTerminal(ctx, out, req, fmt.Errorf("pull: %s returned status %d", req.EntityType, resp.StatusCode), correlationID)
			return nil
		}

		var pg page
		if err := json.Unmarshal(body, &pg); err != nil {
			sendTerminal(ctx, out, req, fmt.Errorf("pull: malformed page for %s: %w", req.EntityType, err), correlationID)
			return nil
		}

		totalProcessed += len(pg.Items)
		if pg.Count != nil {
			totalRequestItems = int(*pg.Count)
		}

		completed := pg.NextLink == nil || *pg.NextLink == ""

		publish(deps.Events, synclock.Event{
			Kind:           synclock.EventItemsFetched,
			QueryID:        req.queryID(),
			EntityType:     req.EntityType,
			ItemsProcessed: totalProcessed,
			CorrelationID:  correlationID,
		})

		select {
		case out <- &PullResponse{
			QueryID:             req.queryID(),
			EntityType:          req.EntityType,
			Descriptor:          req.Descriptor,
			Items:               pg.Items,
			TotalItemsProcessed: totalProcessed,
			TotalRequestItems:   totalRequestItems,
			Completed:           completed,
			CorrelationID:       correlationID,
		}:
		case <-ctx.Done():
			return ctx.Err()
		}

		if completed {
			return nil
		}
		rawQuery = strings.TrimPrefix(*pg.NextLink, "?")
	}
}

func sendTerminal(ctx context.Context, out chan<- *PullResponse, req PullRequest, err error, correlationID string) {
	select {
	case out <- &PullResponse{QueryID: req.queryID(), EntityType: req.EntityType, Descriptor: req.Descriptor, Completed: true, Exception: err, CorrelationID: correlationID}:
	case <-ctx.Done():
	}
}

func publish(bus *synclock.Bus, ev synclock.Event) {
	if bus != nil {
		bus.Publish(ev)
	}
}
