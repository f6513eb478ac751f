// Package store implements the reference table server's persistence layer:
// one physical table holding every registered entity type's rows, queried
// and filtered the way the teacher's internal/service/syncservice does
// (optimistic concurrency without an explicit transaction: each write
// re-reads the row and its UPDATE/DELETE applies only while the row still
// has the version read, with updated_at kept strictly increasing),
// generalized from one hardcoded note table to an arbitrary entity type and
// from SQL WHERE clauses to the odata package's filter tree evaluated in Go
// (spec.md §4.10's contract has no fixed column set to push down to SQL).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/syncengine/entity"
	"github.com/erauner12/syncengine/internal/db"
	"github.com/erauner12/syncengine/odata"
)

// Schema is the reference server's single physical table, colocated SQL
// rather than a side file, matching the teacher's in-repo migration style.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_records (
	entity_type TEXT NOT NULL,
	id          TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	version     BIGINT NOT NULL DEFAULT 1,
	deleted     BOOLEAN NOT NULL DEFAULT FALSE,
	payload     JSONB NOT NULL,
	PRIMARY KEY (entity_type, id)
);
CREATE INDEX IF NOT EXISTS sync_records_ordering ON sync_records (entity_type, updated_at, id);
`

// Store is the reference server's pgx-backed persistence for every
// registered entity type.
type Store struct {
	pool *pgxpool.Pool
}

// Open opens a connection pool via internal/db and ensures Schema exists.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := db.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	log.Info().Msg("tableserver: storage ready")
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Record is one stored row in its server-side representation.
type Record struct {
	EntityType string
	ID         string
	UpdatedAt  time.Time
	Version    int64
	Deleted    bool
	Payload    map[string]any
}

func (r Record) withSystemFields() map[string]any {
	item := make(map[string]any, len(r.Payload)+4)
	for k, v := range r.Payload {
		item[k] = v
	}
	item["id"] = r.ID
	item["updatedAt"] = entity.FormatUpdatedAt(r.UpdatedAt)
	item["version"] = entity.EncodeVersion(versionBytes(r.Version))
	if r.Deleted {
		item["deleted"] = true
	} else {
		delete(item, "deleted")
	}
	return item
}

func versionBytes(v int64) []byte {
	return []byte(fmt.Sprintf("%d", v))
}

// ParseVersion decodes a version byte slice (as produced by VersionBytes)
// back into its int64 form, used to compare an incoming If-Match ETag
// against a stored row's version.
func ParseVersion(b []byte) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(string(b), "%d", &v)
	return v, err
}

// Get fetches one row by (entityType, id). found is false when absent.
func (s *Store) Get(ctx context.Context, entityType, id string) (Record, bool, error) {
	var r Record
	r.EntityType, r.ID = entityType, id
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT updated_at, version, deleted, payload FROM sync_records WHERE entity_type = $1 AND id = $2`,
		entityType, id,
	).Scan(&r.UpdatedAt, &r.Version, &r.Deleted, &payload)
	if err == pgx.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("store: get %s/%s: %w", entityType, id, err)
	}
	if err := json.Unmarshal(payload, &r.Payload); err != nil {
		return Record{}, false, fmt.Errorf("store: decode payload for %s/%s: %w", entityType, id, err)
	}
	return r, true, nil
}

// Insert creates a new row. If a row with this id already exists, it
// returns that existing record together with ErrDuplicate.
func (s *Store) Insert(ctx context.Context, entityType string, item map[string]any) (Record, error) {
	id, _ := item["id"].(string)
	if id == "" {
		id = entity.NewID()
		item["id"] = id
	}
	now := time.Now().UTC()

	payload := stripSystemFields(item)
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("store: marshal payload: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sync_records (entity_type, id, updated_at, version, deleted, payload)
		 VALUES ($1, $2, $3, 1, FALSE, $4)`,
		entityType, id, now, payloadJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, _, getErr := s.Get(ctx, entityType, id)
			if getErr != nil {
				return Record{}, getErr
			}
			return existing, ErrDuplicate
		}
		return Record{}, fmt.Errorf("store: insert %s/%s: %w", entityType, id, err)
	}

	return Record{EntityType: entityType, ID: id, UpdatedAt: now, Version: 1, Payload: payload}, nil
}

// Replace updates an existing row, honoring ifMatchVersion when non-nil
// (spec.md §4.10 PUT's If-Match precondition). resurrect allows clearing
// the deleted flag on a soft-deleted row (spec.md §9 Open Question: PUT
// with __includedeleted=true and a payload that clears `deleted`).
func (s *Store) Replace(ctx context.Context, entityType, id string, item map[string]any, ifMatchVersion *int64, resurrect bool) (Record, error) {
	existing, found, err := s.Get(ctx, entityType, id)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, ErrNotFound
	}
	if existing.Deleted && !resurrect {
		return Record{}, ErrGone
	}
	if ifMatchVersion != nil && *ifMatchVersion != existing.Version {
		return existing, ErrPrecondition
	}

	now := time.Now().UTC()
	if !now.After(existing.UpdatedAt) {
		now = existing.UpdatedAt.Add(time.Millisecond)
	}
	payload := stripSystemFields(item)
	deleted := false
	if v, ok := item["deleted"].(bool); ok {
		deleted = v
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("store: marshal payload: %w", err)
	}

	newVersion := existing.Version + 1
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_records SET updated_at = $1, version = $2, deleted = $3, payload = $4
		 WHERE entity_type = $5 AND id = $6 AND version = $7`,
		now, newVersion, deleted, payloadJSON, entityType, id, existing.Version,
	)
	if err != nil {
		return Record{}, fmt.Errorf("store: replace %s/%s: %w", entityType, id, err)
	}
	if tag.RowsAffected() == 0 {
		// The row changed after it was read.
		current, _, getErr := s.Get(ctx, entityType, id)
		if getErr != nil {
			return Record{}, getErr
		}
		return current, ErrPrecondition
	}

	return Record{EntityType: entityType, ID: id, UpdatedAt: now, Version: newVersion, Deleted: deleted, Payload: payload}, nil
}

// Delete soft- or hard-deletes a row, honoring ifMatchVersion.
func (s *Store) Delete(ctx context.Context, entityType, id string, ifMatchVersion *int64, softDelete bool) (Record, error) {
	existing, found, err := s.Get(ctx, entityType, id)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, ErrNotFound
	}
	if existing.Deleted {
		return Record{}, ErrGone
	}
	if ifMatchVersion != nil && *ifMatchVersion != existing.Version {
		return existing, ErrPrecondition
	}

	now := time.Now().UTC()
	if !now.After(existing.UpdatedAt) {
		now = existing.UpdatedAt.Add(time.Millisecond)
	}
	newVersion := existing.Version + 1

	if !softDelete {
		tag, err := s.pool.Exec(ctx, `DELETE FROM sync_records WHERE entity_type = $1 AND id = $2 AND version = $3`, entityType, id, existing.Version)
		if err != nil {
			return Record{}, fmt.Errorf("store: hard delete %s/%s: %w", entityType, id, err)
		}
		if tag.RowsAffected() == 0 {
			current, _, _ := s.Get(ctx, entityType, id)
			return current, ErrPrecondition
		}
		return Record{EntityType: entityType, ID: id, UpdatedAt: now, Version: newVersion, Deleted: true}, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_records SET updated_at = $1, version = $2, deleted = TRUE WHERE entity_type = $3 AND id = $4 AND version = $5`,
		now, newVersion, entityType, id, existing.Version,
	)
	if err != nil {
		return Record{}, fmt.Errorf("store: soft delete %s/%s: %w", entityType, id, err)
	}
	if tag.RowsAffected() == 0 {
		current, _, _ := s.Get(ctx, entityType, id)
		return current, ErrPrecondition
	}
	return Record{EntityType: entityType, ID: id, UpdatedAt: now, Version: newVersion, Deleted: true, Payload: existing.Payload}, nil
}

// Query fetches every row for entityType ordered by (updatedAt, id), applies
// filter in Go (odata.Eval), and returns the full matching set; the HTTP
// handler layer applies paging and nextLink framing on top (spec.md §4.10).
func (s *Store) Query(ctx context.Context, entityType string, filter odata.Node, includeDeleted bool) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, updated_at, version, deleted, payload FROM sync_records
		 WHERE entity_type = $1 ORDER BY updated_at, id`,
		entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", entityType, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		r.EntityType = entityType
		var payload []byte
		if err := rows.Scan(&r.ID, &r.UpdatedAt, &r.Version, &r.Deleted, &payload); err != nil {
			return nil, fmt.Errorf("store: scan %s row: %w", entityType, err)
		}
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return nil, fmt.Errorf("store: decode payload for %s/%s: %w", entityType, r.ID, err)
		}
		if !includeDeleted && r.Deleted {
			continue
		}
		item := r.withSystemFields()
		if filter != nil {
			match, err := odata.Eval(filter, item)
			if err != nil {
				return nil, &entity.ValidationError{Field: "$filter", Message: err.Error()}
			}
			if !match {
				continue
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: row iteration for %s: %w", entityType, err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})
	return records, nil
}

// ToItem renders r in its wire shape (payload plus system fields).
func (r Record) ToItem() map[string]any { return r.withSystemFields() }

// VersionBytes exposes r's version as an opaque ETag-ready byte slice, matching
// entity.SystemFields.Version's shape.
func (r Record) VersionBytes() []byte { return versionBytes(r.Version) }

func stripSystemFields(item map[string]any) map[string]any {
	payload := make(map[string]any, len(item))
	for k, v := range item {
		switch k {
		case "id", "updatedAt", "version", "deleted":
			continue
		default:
			payload[k] = v
		}
	}
	return payload
}

func isUniqueViolation(err error) bool {
	return err != nil && (pgErrCode(err) == "23505")
}

func pgErrCode(err error) string {
	type sqlState interface{ SQLState() string }
	if pgErr, ok := err.(sqlState); ok {
		return pgErr.SQLState()
	}
	return ""
}
