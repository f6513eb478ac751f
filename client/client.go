// Package client assembles C1-C9 (entity, odata, pipeline, deltatoken,
// opqueue, changecap, push, pull, synclock) into the embedder-facing
// Client: entity registration plus Push/Pull/Synchronize, grounded on the
// teacher's aggregate-of-services construction in cmd/server/main.go (one
// struct holding every collaborator, built once at startup).
package client

import (
	"context"
	"fmt"

	"github.com/erauner12/syncengine/changecap"
	"github.com/erauner12/syncengine/deltatoken"
	"github.com/erauner12/syncengine/entity"
	"github.com/erauner12/syncengine/odata"
	"github.com/erauner12/syncengine/opqueue"
	"github.com/erauner12/syncengine/pipeline"
	"github.com/erauner12/syncengine/pull"
	"github.com/erauner12/syncengine/push"
	"github.com/erauner12/syncengine/synclock"
)

// LocalStore is the embedder's local persistence layer: the union of what
// the push engine needs to write the server's authoritative copy back
// (spec §4.7 step 5) and what the pull engine needs to apply incoming
// records (spec §4.8). One implementation serves both engines since they
// never run concurrently (spec §4.9: gated by the same synchronization
// lock).
type LocalStore interface {
	Get(ctx context.Context, entityType, id string) (item map[string]any, found bool, err error)
	Insert(ctx context.Context, entityType string, item map[string]any) error
	Update(ctx context.Context, entityType string, item map[string]any) error
	Delete(ctx context.Context, entityType, id string) error
}

// Client is the embedder-facing engine: a registered set of synchronizable
// entity types plus the collaborators (C1-C9) that drive Push/Pull/
// Synchronize against one server endpoint.
type Client struct {
	endpoint   string
	clientName string
	factory    *pipeline.Factory

	descriptors map[string]*entity.Descriptor
	accessors   map[string]entity.Accessor

	opqueueStore opqueue.Store
	deltaTokens  deltatoken.Store
	events       *synclock.Bus
	lock         *synclock.Lock
	localStore   LocalStore
	tracker      changecap.Tracker

	parallelOperations int
	pathResolver       push.PathResolver
}

// New assembles a Client from Option values. WithEndpoint and
// WithLocalStore are required; every other option has a working default
// (spec §6's programmatic
// configuration surface).
func New(opts ...Option) (*Client, error) {
	cfg := &config{
		clientName:         "default",
		maxRetries:         3,
		parallelOperations: 4,
		opqueueStore:       opqueue.NewMemoryStore(),
		deltaTokens:        deltatoken.NewMemoryStore(),
		events:             synclock.NewBus(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.endpoint == "" {
		return nil, &entity.ConfigError{Component: "client", Message: "endpoint is required"}
	}
	if cfg.localStore == nil {
		return nil, &entity.ConfigError{Component: "client", Message: "a local store is required (WithLocalStore): the pull engine has nothing to apply incoming records to without one"}
	}

	handlers := cfg.handlers
	if len(handlers) == 0 {
		handlers = defaultHandlers(cfg)
	}

	factory := pipeline.NewFactory(func(endpoint string) (*pipeline.Client, error) {
		return pipeline.NewClient(endpoint, handlers...)
	})
	// Build eagerly so a bad endpoint/chain fails at construction, not at
	// first Push/Pull (spec §4.1: configuration errors are "fatal to the
	// engine instance that raised it", surfaced synchronously).
	if _, err := factory.CreateClient(cfg.endpoint, cfg.clientName); err != nil {
		return nil, err
	}

	resolver := cfg.pathResolver
	if resolver == nil {
		resolver = push.DefaultPathResolver
	}

	return &Client{
		endpoint:           cfg.endpoint,
		clientName:         cfg.clientName,
		factory:            factory,
		descriptors:        make(map[string]*entity.Descriptor),
		accessors:          make(map[string]entity.Accessor),
		opqueueStore:       cfg.opqueueStore,
		deltaTokens:        cfg.deltaTokens,
		events:             cfg.events,
		lock:               synclock.New(),
		localStore:         cfg.localStore,
		tracker:            cfg.tracker,
		parallelOperations: cfg.parallelOperations,
		pathResolver:       resolver,
	}, nil
}

func defaultHandlers(cfg *config) []pipeline.Handler {
	var chain []pipeline.Handler
	chain = append(chain, pipeline.NewCorrelationInterceptor())
	if len(cfg.defaultHeaders) > 0 {
		chain = append(chain, pipeline.NewHeadersInterceptor(cfg.defaultHeaders))
	}
	chain = append(chain,
		pipeline.NewRetryInterceptor(cfg.maxRetries),
		pipeline.NewDecompressInterceptor(),
		pipeline.NewTransport(cfg.timeoutMillis),
	)
	return chain
}

// Events returns the bus publishing PullStarted/ItemsFetched/
// ItemsCommitted/PullEnded/LocalException (spec §4.9).
func (c *Client) Events() *synclock.Bus { return c.events }

// RegisterEntity declares entityType as synchronizable, with the accessor
// that reads/writes its four system fields, its server-relative resource
// path, and any transient (non-synchronizable) property names the pull
// engine must never overwrite locally (spec §4.1/§4.8). Fails the same way
// entity.Descriptor.Validate does if the registration is incomplete.
func (c *Client) RegisterEntity(entityType string, accessor entity.Accessor, path string, transient ...string) error {
	descriptor := &entity.Descriptor{Accessor: accessor, Path: path, Transient: transient}
	if err := descriptor.Validate(); err != nil {
		return err
	}
	c.descriptors[entityType] = descriptor
	c.accessors[entityType] = accessor
	return nil
}

// holderToken identifies this Client instance as the synchronization lock's
// logical holder, so a nested re-entrant Acquire from within a callback the
// engine itself invokes (e.g. a change-capture commit triggered from inside
// a push write-back) never deadlocks against this same Client's own call.
func (c *Client) holderToken() any { return c }

// PullSpec is one entity type's pull request: the caller-supplied query,
// before the pull engine derives its effective, delta-bounded form.
type PullSpec struct {
	EntityType string
	// Label optionally scopes the delta token alongside EntityType (spec
	// §3: "queryId = entityType optionally suffixed by a caller label").
	Label string
	Query *odata.QueryDescription
}

// Push drains the operations queue against the server (spec §4.7).
func (c *Client) Push(ctx context.Context, opts push.Options) (*push.Result, error) {
	if opts.PathResolver == nil {
		opts.PathResolver = c.pathResolver
	}
	if opts.ParallelOperations == 0 {
		opts.ParallelOperations = c.parallelOperations
	}

	deps := push.Deps{
		Accessors:   c.accessors,
		Store:       c.opqueueStore,
		Clients:     c.factory,
		Endpoint:    c.endpoint,
		ClientName:  c.clientName,
		Lock:        c.lock,
		ChangeStore: c.tracker,
		LocalStore:  newWriteBackAdapter(c.localStore),
	}
	return push.Run(ctx, deps, opts, c.holderToken())
}

// Pull fetches server changes for every spec since each one's last
// successful pull (spec §4.8).
func (c *Client) Pull(ctx context.Context, specs []PullSpec, opts pull.Options) error {
	requests := make([]pull.PullRequest, 0, len(specs))
	for _, spec := range specs {
		descriptor, ok := c.descriptors[spec.EntityType]
		if !ok {
			return fmt.Errorf("client: entity type %q is not registered", spec.EntityType)
		}
		query := spec.Query
		if query == nil {
			query = &odata.QueryDescription{}
		}
		requests = append(requests, pull.PullRequest{
			EntityType: spec.EntityType,
			QueryID:    deltatoken.QueryID(spec.EntityType, spec.Label),
			Query:      query,
			Descriptor: descriptor,
		})
	}

	if opts.ParallelOperations == 0 {
		opts.ParallelOperations = c.parallelOperations
	}

	deps := pull.Deps{
		Clients:     c.factory,
		Endpoint:    c.endpoint,
		ClientName:  c.clientName,
		DeltaTokens: c.deltaTokens,
		LocalStore:  c.localStore,
		Lock:        c.lock,
		Events:      c.events,
	}
	return pull.Run(ctx, deps, requests, opts, c.holderToken())
}

// Synchronize runs a standard synchronize call: push fully precedes pull
// (spec §2, O3). A pull failure does not discard the push result.
func (c *Client) Synchronize(ctx context.Context, specs []PullSpec, pushOpts push.Options, pullOpts pull.Options) (*push.Result, error) {
	result, err := c.Push(ctx, pushOpts)
	if err != nil {
		return nil, err
	}
	if err := c.Pull(ctx, specs, pullOpts); err != nil {
		return result, err
	}
	return result, nil
}

// writeBackAdapter narrows LocalStore down to push.LocalWriter: a single
// WriteBack call that upserts the server's authoritative copy, whichever of
// Insert/Update applies.
type writeBackAdapter struct {
	store LocalStore
}

func newWriteBackAdapter(store LocalStore) push.LocalWriter {
	if store == nil {
		return nil
	}
	return &writeBackAdapter{store: store}
}

func (w *writeBackAdapter) WriteBack(ctx context.Context, entityType string, item map[string]any) error {
	id, _ := item["id"].(string)
	if id == "" {
		return &entity.ConfigError{Component: "client", Message: "push write-back item missing id"}
	}
	_, found, err := w.store.Get(ctx, entityType, id)
	if err != nil {
		return err
	}
	if found {
		return w.store.Update(ctx, entityType, item)
	}
	return w.store.Insert(ctx, entityType, item)
}
