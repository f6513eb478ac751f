package pipeline

import (
	"context"
	"net/http"
)

// HeadersInterceptor injects a fixed set of default headers into every
// outbound request, without overwriting a header the caller already set
// (spec §4.3: clients "inject configured default headers").
type HeadersInterceptor struct {
	inner   Handler
	headers http.Header
}

func NewHeadersInterceptor(defaults http.Header) *HeadersInterceptor {
	return &HeadersInterceptor{headers: defaults}
}

func (h *HeadersInterceptor) setInner(next Handler) { h.inner = next }

func (h *HeadersInterceptor) RoundTrip(ctx context.Context, req *http.Request) (*http.Response, error) {
	for key, values := range h.headers {
		if req.Header.Get(key) == "" {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
	}
	return h.inner.RoundTrip(ctx, req)
}
