package pipeline

import (
	"context"
	"net/http"
)

// Transport is the chain's terminal, non-delegating handler: it performs the
// actual network round trip via an *http.Client and forwards nothing further.
type Transport struct {
	client *http.Client
}

// NewTransport builds the terminal handler. timeout of zero means no
// per-request deadline beyond what the caller's context supplies.
func NewTransport(timeout int64) *Transport {
	return &Transport{client: &http.Client{Timeout: durationFromMillis(timeout)}}
}

func (t *Transport) RoundTrip(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.client.Do(req.WithContext(ctx))
}
