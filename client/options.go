package client

import (
	"net/http"

	"github.com/erauner12/syncengine/changecap"
	"github.com/erauner12/syncengine/deltatoken"
	"github.com/erauner12/syncengine/opqueue"
	"github.com/erauner12/syncengine/pipeline"
	"github.com/erauner12/syncengine/push"
	"github.com/erauner12/syncengine/synclock"
)

// config collects every piece of embedder-supplied configuration before New
// validates and assembles a Client. Unexported: embedders only ever see
// Option values, matching the functional-options shape (spec §6: "Embedders
// supply configuration programmatically").
type config struct {
	endpoint           string
	clientName         string
	timeoutMillis      int64
	handlers           []pipeline.Handler
	defaultHeaders     http.Header
	maxRetries         uint64
	parallelOperations int
	pathResolver       push.PathResolver

	opqueueStore opqueue.Store
	deltaTokens  deltatoken.Store
	events       *synclock.Bus
	localStore   LocalStore
	tracker      changecap.Tracker
}

// Option configures a Client at construction time.
type Option func(*config)

// WithEndpoint sets the server base endpoint (required).
func WithEndpoint(endpoint string) Option {
	return func(c *config) { c.endpoint = endpoint }
}

// WithClientName scopes the pipeline factory's cache key alongside endpoint,
// letting one process run distinct clients against the same endpoint (spec
// §4.3: "cached ... keyed by (endpoint, name)").
func WithClientName(name string) Option {
	return func(c *config) { c.clientName = name }
}

// WithTimeout sets the transport's per-request timeout in milliseconds.
func WithTimeout(millis int64) Option {
	return func(c *config) { c.timeoutMillis = millis }
}

// WithHandlers overrides the default interceptor chain entirely. The caller
// is responsible for ordering and for ending with a non-delegating
// transport (pipeline.NewChain enforces this at Client construction).
func WithHandlers(handlers ...pipeline.Handler) Option {
	return func(c *config) { c.handlers = handlers }
}

// WithDefaultHeaders injects default headers into every outbound request
// (spec §6), applied via pipeline.HeadersInterceptor when using the default
// handler chain.
func WithDefaultHeaders(headers http.Header) Option {
	return func(c *config) { c.defaultHeaders = headers }
}

// WithMaxRetries bounds the default chain's retry interceptor.
func WithMaxRetries(n uint64) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithParallelOperations bounds push/pull worker pools (clamped to [1, 8] by
// each engine independently).
func WithParallelOperations(n int) Option {
	return func(c *config) { c.parallelOperations = n }
}

// WithPathResolver overrides the default entityType[/id] -> resource-path
// mapping the push engine uses to build requests.
func WithPathResolver(r push.PathResolver) Option {
	return func(c *config) { c.pathResolver = r }
}

// WithOperationsQueueStore supplies a durable opqueue.Store. Defaults to an
// in-memory store, which does not survive process restarts.
func WithOperationsQueueStore(store opqueue.Store) Option {
	return func(c *config) { c.opqueueStore = store }
}

// WithDeltaTokenStore supplies a durable deltatoken.Store. Defaults to an
// in-memory store.
func WithDeltaTokenStore(store deltatoken.Store) Option {
	return func(c *config) { c.deltaTokens = store }
}

// WithEventBus supplies the event bus used for PullStarted/ItemsFetched/
// ItemsCommitted/PullEnded/LocalException (spec §4.9). Defaults to a fresh,
// unsubscribed Bus.
func WithEventBus(bus *synclock.Bus) Option {
	return func(c *config) { c.events = bus }
}

// WithLocalStore supplies the embedder's local persistence layer: push's
// write-back target and pull's apply target (spec §1: the local store
// itself is out of scope; this is the narrow contract the engine depends on
// to reach it).
func WithLocalStore(store LocalStore) Option {
	return func(c *config) { c.localStore = store }
}

// WithChangeTracker supplies the local store's dirty-entity source consulted
// at the start of every push (spec §4.6).
func WithChangeTracker(tracker changecap.Tracker) Option {
	return func(c *config) { c.tracker = tracker }
}
