package tableserver

import (
	"net/http"
	"time"
)

// capabilityInfo is the GET /v1/sync/info response (spec's supplemented
// capability-discovery feature, grounded on internal/httpapi/info.go):
// reports paging limits and soft-delete support so a client can self-
// configure pull.Options.
type capabilityInfo struct {
	APIVersion     string `json:"apiVersion"`
	ServerTime     string `json:"serverTime"`
	PageSizeDefault int   `json:"pageSizeDefault"`
	PageSizeMax     int   `json:"pageSizeMax"`
	SoftDelete      bool  `json:"softDelete"`
}

// Info handles GET /v1/sync/info, unauthenticated so a client can discover
// server capabilities before exchanging credentials.
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, capabilityInfo{
		APIVersion:      "1.0",
		ServerTime:      time.Now().UTC().Format(time.RFC3339Nano),
		PageSizeDefault: s.pageSizeDefault,
		PageSizeMax:     s.pageSizeMax,
		SoftDelete:      s.softDelete,
	})
}
