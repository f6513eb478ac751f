package pipeline

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader is the header carrying the end-to-end request
// correlation id, mirrored from client request through to server logs.
const CorrelationHeader = "X-Correlation-ID"

// CorrelationInterceptor stamps every outbound request with a correlation
// id, generating one if the request doesn't already carry a CorrelationHeader. This
// is the client-side half of the same correlation-id convention the
// reference table server logs against.
type CorrelationInterceptor struct {
	inner Handler
}

func NewCorrelationInterceptor() *CorrelationInterceptor {
	return &CorrelationInterceptor{}
}

func (c *CorrelationInterceptor) setInner(h Handler) { c.inner = h }

func (c *CorrelationInterceptor) RoundTrip(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get(CorrelationHeader) == "" {
		req.Header.Set(CorrelationHeader, uuid.New().String())
	}
	return c.inner.RoundTrip(ctx, req)
}
