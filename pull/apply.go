package pull

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/syncengine/synclock"
)

// applyLoop is the single-writer apply queue: it drains responses
// sequentially so applies within a queryId are totally ordered (spec §4.8,
// O1), and applies across queryIds may interleave but never share rows.
func applyLoop(ctx context.Context, deps Deps, opts Options, responses <-chan *PullResponse) error {
	for resp := range responses {
		if resp.Exception != nil {
			log.Error().Err(resp.Exception).Str("queryId", resp.QueryID).Str("entityType", resp.EntityType).Msg("pull: fetch failed")
			publish(deps.Events, synclock.Event{
				Kind:          synclock.EventLocalException,
				QueryID:       resp.QueryID,
				EntityType:    resp.EntityType,
				Err:           resp.Exception,
				CorrelationID: resp.CorrelationID,
			})
			if resp.Completed {
				publish(deps.Events, synclock.Event{Kind: synclock.EventPullEnded, QueryID: resp.QueryID, EntityType: resp.EntityType, CorrelationID: resp.CorrelationID})
			}
			continue
		}

		if err := applyPage(ctx, deps, resp); err != nil {
			log.Error().Err(err).Str("queryId", resp.QueryID).Str("entityType", resp.EntityType).Msg("pull: failed to apply fetched page")
			publish(deps.Events, synclock.Event{Kind: synclock.EventLocalException, QueryID: resp.QueryID, EntityType: resp.EntityType, Err: err, CorrelationID: resp.CorrelationID})
			continue
		}

		publish(deps.Events, synclock.Event{
			Kind:            synclock.EventItemsCommitted,
			QueryID:         resp.QueryID,
			EntityType:      resp.EntityType,
			ItemsProcessed:  len(resp.Items),
			TotalItemsCount: resp.TotalRequestItems,
			CorrelationID:   resp.CorrelationID,
		})

		if resp.Completed {
			publish(deps.Events, synclock.Event{Kind: synclock.EventPullEnded, QueryID: resp.QueryID, EntityType: resp.EntityType, CorrelationID: resp.CorrelationID})
		}
	}
	return nil
}

// applyPage applies spec §4.8's per-record rules for one fetched page, then
// advances the delta token past every record seen (Set's max semantics make
// this safe to call unconditionally, including for records the token has
// already passed).
func applyPage(ctx context.Context, deps Deps, resp *PullResponse) error {
	accessor := resp.Descriptor.Accessor

	for _, record := range resp.Items {
		fields, err := accessor.GetSystemFields(record)
		if err != nil {
			return err
		}

		existing, found, err := deps.LocalStore.Get(ctx, resp.EntityType, fields.ID)
		if err != nil {
			return err
		}

		switch {
		case !found && !fields.Deleted:
			if err := deps.LocalStore.Insert(ctx, resp.EntityType, record); err != nil {
				return err
			}
		case found && fields.Deleted:
			if err := deps.LocalStore.Delete(ctx, resp.EntityType, fields.ID); err != nil {
				return err
			}
		case found && !fields.Deleted:
			merged := mergeSynchronizable(existing, record, resp.Descriptor)
			if err := deps.LocalStore.Update(ctx, resp.EntityType, merged); err != nil {
				return err
			}
		default:
			// !found && deleted: a tombstone for a row we never had locally.
			// Nothing to apply, but the delta token below still advances.
		}

		// Intermediate commit before further inserts for the same page: each
		// branch above has already landed synchronously on deps.LocalStore,
		// so the advance below always lands strictly after the row write it
		// covers.
		if _, err := deps.DeltaTokens.Set(ctx, resp.QueryID, fields.UpdatedAt); err != nil {
			return err
		}
	}
	return nil
}

// mergeSynchronizable copies every property of incoming into a copy of
// existing, except properties the descriptor marks transient (spec §4.8).
func mergeSynchronizable(existing, incoming map[string]any, descriptor interface {
	IsTransient(field string) bool
}) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		if descriptor.IsTransient(k) {
			continue
		}
		merged[k] = v
	}
	return merged
}
