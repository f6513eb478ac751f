package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryInterceptor retries a request on transport failure or a 5xx/429
// response using exponential backoff, honoring a server-supplied
// Retry-After header when present. 4xx responses other than 429 are never
// retried: they represent a request the server has already judged invalid,
// and retrying it cannot change that judgement (spec §4.7 treats 4xx
// conflicts/not-found as terminal per-operation outcomes, not transport
// failures).
type RetryInterceptor struct {
	inner      Handler
	maxRetries uint64
}

// NewRetryInterceptor builds a retry interceptor. maxRetries of zero means
// the request is attempted exactly once.
func NewRetryInterceptor(maxRetries uint64) *RetryInterceptor {
	return &RetryInterceptor{maxRetries: maxRetries}
}

func (r *RetryInterceptor) setInner(h Handler) { r.inner = h }

func (r *RetryInterceptor) RoundTrip(ctx context.Context, req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		bodyBytes = b
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.Multiplier = 2
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx)

	var resp *http.Response
	err := backoff.Retry(func() error {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		res, err := r.inner.RoundTrip(ctx, req)
		if err != nil {
			return err // transport-level failure: retry
		}

		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
			wait := retryAfterDelay(res.Header.Get("Retry-After"))
			io.Copy(io.Discard, res.Body)
			res.Body.Close()
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return errRetryable{statusCode: res.StatusCode}
		}

		resp = res
		return nil
	}, policy)

	if err != nil {
		if re, ok := err.(errRetryable); ok {
			return nil, re
		}
		return nil, err
	}
	return resp, nil
}

type errRetryable struct {
	statusCode int
}

func (e errRetryable) Error() string {
	return "pipeline: exhausted retries, last response status " + strconv.Itoa(e.statusCode)
}

func retryAfterDelay(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}
