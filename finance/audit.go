package finance

import (
	"context"
	"fmt"
)

// =============================================================================
// AUDIT WRITER - Append-only, same transaction as the effect it records
// =============================================================================

type AuditWriter struct {
	Clock Clock
}

// Record appends one event through the caller's transactional store, so
// the event commits or rolls back together with the effect.
func (w AuditWriter) Record(ctx context.Context, s Store, actor string, typ AuditEventType, entity, entityID string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	ev := AuditEvent{
		ID:       AuditEventID(newID()),
		Actor:    actor,
		Type:     typ,
		Entity:   entity,
		EntityID: entityID,
		Metadata: metadata,
		At:       w.Clock.Now(),
	}
	if err := s.AppendAuditEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to append audit event %s: %w", typ, err)
	}
	return nil
}

// ListAuditEvents is the append-ordered audit feed over committed state.
func (e *Engine) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return e.store.ListAuditEvents(ctx, filter)
}

// MatchesAuditFilter applies an AuditFilter in memory. Stores without a query
// language use it directly.
func MatchesAuditFilter(ev AuditEvent, f AuditFilter) bool {
	if f.Entity != "" && ev.Entity != f.Entity {
		return false
	}
	if f.EntityID != "" && ev.EntityID != f.EntityID {
		return false
	}
	if f.Actor != "" && ev.Actor != f.Actor {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == ev.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && ev.At.Before(*f.From) {
		return false
	}
	if f.To != nil && ev.At.After(*f.To) {
		return false
	}
	return true
}
