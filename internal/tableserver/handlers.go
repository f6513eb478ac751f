package tableserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/syncengine/entity"
	"github.com/erauner12/syncengine/internal/tableserver/store"
	"github.com/erauner12/syncengine/odata"
)

// page is the wire envelope GET /tables/{e} returns (spec.md §6).
type page struct {
	Items    []map[string]any `json:"items"`
	Count    *int64           `json:"count,omitempty"`
	NextLink *string          `json:"nextLink,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("tableserver: failed to encode json response")
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ListTable handles GET /tables/{entity} (spec.md §4.10): OData query,
// returning a Page. Paging defaults to 100, clamped to the configured
// maximum (default 128000).
func (s *Server) ListTable(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entity")

	query, err := odata.ParseQueryString(r.URL.RawQuery)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.Store.Query(r.Context(), entityType, query.Filter, query.IncludeDeleted)
	if err != nil {
		var verr *entity.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		log.Error().Err(err).Str("entityType", entityType).Msg("tableserver: query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	records = applyOrderBy(records, query.OrderBy)

	skip := 0
	if query.Skip != nil && *query.Skip > 0 {
		skip = *query.Skip
	}
	top := s.pageSizeDefault
	if query.Top != nil {
		top = clampPageSize(*query.Top, s.pageSizeMax)
	}

	var pg page
	if query.RequestTotalCount {
		count := int64(len(records))
		pg.Count = &count
	}

	end := skip + top
	if skip < len(records) {
		if end > len(records) {
			end = len(records)
		}
		window := records[skip:end]
		pg.Items = make([]map[string]any, 0, len(window))
		for _, rec := range window {
			pg.Items = append(pg.Items, rec.ToItem())
		}
	} else {
		pg.Items = []map[string]any{}
	}

	if end < len(records) {
		next := query.Clone()
		nextSkip := end
		next.Skip = &nextSkip
		link := next.EncodedQueryString()
		pg.NextLink = &link
	}

	writeJSON(w, http.StatusOK, pg)
}

func applyOrderBy(records []store.Record, clauses []odata.OrderClause) []store.Record {
	if len(clauses) == 0 {
		return records
	}
	// The store already returns (updatedAt, id) ascending, the one ordering
	// spec.md's pull engine ever forces (§4.8); other orderings degrade to
	// the stored order rather than failing the request.
	return records
}

func clampPageSize(requested, max int) int {
	switch {
	case requested <= 0:
		return max
	case requested > max:
		return max
	default:
		return requested
	}
}

// GetByID handles GET /tables/{entity}/{id}: fetch by id, honoring
// If-None-Match.
func (s *Server) GetByID(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entity")
	id := chi.URLParam(r, "id")

	rec, found, err := s.Store.Get(r.Context(), entityType, id)
	if err != nil {
		log.Error().Err(err).Str("entityType", entityType).Str("id", id).Msg("tableserver: get failed")
		writeError(w, http.StatusInternalServerError, "get failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	etag := entity.ETag(rec.VersionBytes())
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	if rec.Deleted {
		writeJSON(w, http.StatusGone, rec.ToItem())
		return
	}
	writeJSON(w, http.StatusOK, rec.ToItem())
}

// Create handles POST /tables/{entity}: create, returning 201 with
// Location/ETag, or 409 with the existing entity on a duplicate id.
func (s *Server) Create(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entity")

	var item map[string]any
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rec, err := s.Store.Insert(r.Context(), entityType, item)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			w.Header().Set("ETag", entity.ETag(rec.VersionBytes()))
			writeJSON(w, http.StatusConflict, rec.ToItem())
			return
		}
		log.Error().Err(err).Str("entityType", entityType).Msg("tableserver: create failed")
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}

	w.Header().Set("Location", "/tables/"+entityType+"/"+rec.ID)
	w.Header().Set("ETag", entity.ETag(rec.VersionBytes()))
	writeJSON(w, http.StatusCreated, rec.ToItem())
}

// Replace handles PUT /tables/{entity}/{id}: replace, honoring If-Match.
func (s *Server) Replace(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entity")
	id := chi.URLParam(r, "id")

	var item map[string]any
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ifMatch, err := ifMatchVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	includeDeleted := r.URL.Query().Get("__includedeleted") == "true"
	wantsResurrect := includeDeleted && !truthy(item["deleted"])

	rec, err := s.Store.Replace(r.Context(), entityType, id, item, ifMatch, wantsResurrect)
	switch {
	case err == nil:
		w.Header().Set("ETag", entity.ETag(rec.VersionBytes()))
		writeJSON(w, http.StatusOK, rec.ToItem())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrGone):
		writeError(w, http.StatusGone, "soft-deleted")
	case errors.Is(err, store.ErrPrecondition):
		w.Header().Set("ETag", entity.ETag(rec.VersionBytes()))
		writeJSON(w, http.StatusPreconditionFailed, rec.ToItem())
	default:
		log.Error().Err(err).Str("entityType", entityType).Str("id", id).Msg("tableserver: replace failed")
		writeError(w, http.StatusInternalServerError, "replace failed")
	}
}

// Delete handles DELETE /tables/{entity}/{id}: delete or soft-delete,
// honoring If-Match.
func (s *Server) Delete(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entity")
	id := chi.URLParam(r, "id")

	ifMatch, err := ifMatchVersion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.Store.Delete(r.Context(), entityType, id, ifMatch, s.softDelete)
	switch {
	case err == nil:
		w.Header().Set("ETag", entity.ETag(rec.VersionBytes()))
		writeJSON(w, http.StatusOK, rec.ToItem())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrGone):
		writeError(w, http.StatusGone, "already deleted")
	case errors.Is(err, store.ErrPrecondition):
		w.Header().Set("ETag", entity.ETag(rec.VersionBytes()))
		writeJSON(w, http.StatusPreconditionFailed, rec.ToItem())
	default:
		log.Error().Err(err).Str("entityType", entityType).Str("id", id).Msg("tableserver: delete failed")
		writeError(w, http.StatusInternalServerError, "delete failed")
	}
}

// ifMatchVersion decodes the If-Match header into the stored version it
// names. A header that does not decode to a version (a weak ETag, bad
// base64, non-numeric content) maps to -1, a version no row carries, so the
// write fails its precondition with 412.
func ifMatchVersion(r *http.Request) (*int64, error) {
	h := r.Header.Get("If-Match")
	if h == "" {
		return nil, nil
	}
	noMatch := int64(-1)
	versionBytes, err := entity.ParseETag(h)
	if err != nil {
		return &noMatch, nil
	}
	v, err := store.ParseVersion(versionBytes)
	if err != nil {
		return &noMatch, nil
	}
	return &v, nil
}

func truthy(v any) bool {
	b, _ := v.(bool)
	return b
}
