package pipeline

import (
	"context"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DecompressInterceptor advertises gzip/zstd support to the server and
// transparently decompresses whichever encoding comes back, so every
// interceptor above it in the chain (and the caller) sees a plain response
// body (spec §4.3: clients "inject ... automatic decompression").
type DecompressInterceptor struct {
	inner Handler
}

func NewDecompressInterceptor() *DecompressInterceptor {
	return &DecompressInterceptor{}
}

func (d *DecompressInterceptor) setInner(h Handler) { d.inner = h }

func (d *DecompressInterceptor) RoundTrip(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, zstd")
	}

	resp, err := d.inner.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gr, gerr := gzip.NewReader(resp.Body)
		if gerr != nil {
			return nil, gerr
		}
		resp.Body = wrappedReadCloser{reader: gr, orig: resp.Body, closeDecoder: func() { gr.Close() }}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
	case "zstd":
		zr, zerr := zstd.NewReader(resp.Body)
		if zerr != nil {
			return nil, zerr
		}
		resp.Body = wrappedReadCloser{reader: zr, orig: resp.Body, closeDecoder: zr.Close}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
	}
	return resp, nil
}

// wrappedReadCloser adapts a decompressing reader (which may have its own,
// non-error-returning Close, as zstd.Decoder does) to io.ReadCloser while
// also closing the original compressed body.
type wrappedReadCloser struct {
	reader       io.Reader
	orig         io.Closer
	closeDecoder func()
}

func (w wrappedReadCloser) Read(p []byte) (int, error) { return w.reader.Read(p) }

func (w wrappedReadCloser) Close() error {
	if w.closeDecoder != nil {
		w.closeDecoder()
	}
	return w.orig.Close()
}
