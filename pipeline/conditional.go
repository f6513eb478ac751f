package pipeline

import (
	"net/http"

	"github.com/erauner12/syncengine/entity"
)

// SetIfMatch attaches an optimistic-concurrency precondition: the request
// only applies if the server's current version still matches v (spec §6).
func SetIfMatch(req *http.Request, v []byte) {
	req.Header.Set("If-Match", entity.ETag(v))
}

// SetIfNoneMatchAny attaches the "create only if absent" precondition,
// "If-None-Match: *". The push engine does not set it on Add requests.
func SetIfNoneMatchAny(req *http.Request) {
	req.Header.Set("If-None-Match", "*")
}

// ResponseVersion extracts and decodes the ETag header of a response as the
// entity's new version. Returns an error for a weak ETag or malformed
// base64, and a nil, nil result if no ETag header was sent at all.
func ResponseVersion(resp *http.Response) ([]byte, error) {
	raw := resp.Header.Get("ETag")
	if raw == "" {
		return nil, nil
	}
	return entity.ParseETag(raw)
}
