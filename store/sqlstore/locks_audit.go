package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// PERIOD LOCKS
// =============================================================================

const lockCols = `id, start_date, end_date, reason, locked_by, locked_at`

func scanLock(sc scanner) (finance.PeriodLock, error) {
	var l finance.PeriodLock
	err := sc.Scan(&l.ID, dateCol{&l.StartDate}, dateCol{&l.EndDate}, &l.Reason, &l.LockedBy, timeCol{&l.LockedAt})
	return l, err
}

func (x *queries) CreatePeriodLock(ctx context.Context, l finance.PeriodLock) error {
	return x.exec(ctx, `
		INSERT INTO period_locks (`+lockCols+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(l.ID), dateArg(l.StartDate), dateArg(l.EndDate), l.Reason, l.LockedBy, timeArg(l.LockedAt))
}

func (x *queries) GetPeriodLock(ctx context.Context, id finance.PeriodLockID) (finance.PeriodLock, error) {
	l, err := scanLock(x.row(ctx, `SELECT `+lockCols+` FROM period_locks WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return finance.PeriodLock{}, finance.NotFound("period_lock", id)
	}
	return l, err
}

func (x *queries) DeletePeriodLock(ctx context.Context, id finance.PeriodLockID) error {
	return x.execOne(ctx, finance.NotFound("period_lock", id),
		`DELETE FROM period_locks WHERE id = ?`, string(id))
}

// FindPeriodLocks compares dates as YYYY-MM-DD, which orders the same
// as TEXT in SQLite and as DATE in PostgreSQL.
func (x *queries) FindPeriodLocks(ctx context.Context, from, to finance.Date) ([]finance.PeriodLock, error) {
	if x.inTx && x.d.SharePeriodLocks != "" {
		if err := x.exec(ctx, x.d.SharePeriodLocks); err != nil {
			return nil, fmt.Errorf("failed to lock period locks: %w", err)
		}
	}
	return x.listLocks(ctx, ` WHERE start_date <= ? AND end_date >= ?`, dateArg(to), dateArg(from))
}

func (x *queries) ExclusivePeriodLocks(ctx context.Context) error {
	if !x.inTx || x.d.ExclusivePeriodLocks == "" {
		return nil
	}
	if err := x.exec(ctx, x.d.ExclusivePeriodLocks); err != nil {
		return fmt.Errorf("failed to lock period locks: %w", err)
	}
	return nil
}

func (x *queries) ListPeriodLocks(ctx context.Context) ([]finance.PeriodLock, error) {
	return x.listLocks(ctx, "")
}

func (x *queries) listLocks(ctx context.Context, cond string, args ...any) ([]finance.PeriodLock, error) {
	rows, err := x.query(ctx, `SELECT `+lockCols+` FROM period_locks`+cond+` ORDER BY start_date`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query period locks: %w", err)
	}
	defer rows.Close()

	var out []finance.PeriodLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT EVENTS (append-only)
// =============================================================================

func (x *queries) AppendAuditEvent(ctx context.Context, e finance.AuditEvent) error {
	meta, err := jsonArg(e.Metadata)
	if err != nil {
		return err
	}
	return x.exec(ctx, `
		INSERT INTO audit_events (id, actor, type, entity, entity_id, metadata, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), e.Actor, string(e.Type), e.Entity, e.EntityID, meta, timeArg(e.At))
}

func (x *queries) ListAuditEvents(ctx context.Context, f finance.AuditFilter) ([]finance.AuditEvent, error) {
	var w where
	if f.Entity != "" {
		w.add("entity = ?", f.Entity)
	}
	if f.EntityID != "" {
		w.add("entity_id = ?", f.EntityID)
	}
	if f.Actor != "" {
		w.add("actor = ?", f.Actor)
	}
	if len(f.Types) > 0 {
		marks := make([]string, len(f.Types))
		args := make([]any, len(f.Types))
		for i, t := range f.Types {
			marks[i] = "?"
			args[i] = string(t)
		}
		w.add("type IN ("+strings.Join(marks, ", ")+")", args...)
	}
	if f.From != nil {
		w.add("at >= ?", timeArg(*f.From))
	}
	if f.To != nil {
		w.add("at <= ?", timeArg(*f.To))
	}

	rows, err := x.query(ctx, `
		SELECT id, seq, actor, type, entity, entity_id, metadata, at
		FROM audit_events`+w.String()+` ORDER BY seq`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []finance.AuditEvent
	for rows.Next() {
		var (
			e   finance.AuditEvent
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.Actor, &e.Type, &e.Entity, &e.EntityID, &raw, timeCol{&e.At}); err != nil {
			return nil, err
		}
		if e.Metadata, err = decodeJSON(raw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
