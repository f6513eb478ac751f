// Package pipeline implements the HTTP request pipeline (spec §4.3): an
// ordered chain of delegating interceptors terminated by a non-delegating
// transport, plus the conditional-request (ETag/If-Match/If-None-Match)
// helpers layered on top of it.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
)

// Handler is one link in the pipeline. It is the same shape whether it
// delegates to an inner handler or terminates the chain; what distinguishes
// them is whether the concrete type also implements delegating.
type Handler interface {
	RoundTrip(ctx context.Context, req *http.Request) (*http.Response, error)
}

// delegating is implemented by interceptors that forward to an inner
// Handler. The chain builder uses it to validate construction: every
// handler but the last must delegate, and the last must not (spec §4.3: "a
// non-delegating handler may appear only in the last position").
type delegating interface {
	setInner(h Handler)
}

// ConfigError marks a pipeline misconstruction: wrong delegation shape,
// duplicate terminal handlers, an empty chain. Fatal at construction.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pipeline: configuration error: %s", e.Message)
}

// NewChain wires handlers into a single Handler, reverse-linking each
// delegating handler to the next (spec §4.3: "hi.inner = h(i+1)"). handlers
// must be given outermost-first, transport last.
func NewChain(handlers ...Handler) (Handler, error) {
	if len(handlers) == 0 {
		return nil, &ConfigError{Message: "pipeline must contain at least one handler (the transport)"}
	}

	last := handlers[len(handlers)-1]
	if _, ok := last.(delegating); ok {
		return nil, &ConfigError{Message: "the last handler in the chain must be a non-delegating transport"}
	}

	for i := 0; i < len(handlers)-1; i++ {
		d, ok := handlers[i].(delegating)
		if !ok {
			return nil, &ConfigError{Message: fmt.Sprintf("handler at position %d does not delegate; only the last position may be a terminal transport", i)}
		}
		d.setInner(handlers[i+1])
	}

	return handlers[0], nil
}
