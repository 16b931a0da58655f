/*
periodlock.go - Accounting period locks

PURPOSE:
  A period lock freezes a closed date range. Every date-bearing write
  (txn creation, check, approval, rejection, invoice payment, refund)
  calls AssertUnlocked with its own business date at the moment of the
  write, so a lock added after a txn was created still blocks its
  approval.

RANGE SEMANTICS:
  Inclusive on both ends. [2024-01-01, 2024-01-31] blocks 2024-01-31
  and allows 2024-02-01. Two locks overlap when they share any day.

SEE ALSO:
  - workflow.go, invoice_service.go: Callers
*/
package finance

import (
	"context"
	"strings"
)

// PeriodLockGuard enforces and manages period locks within the caller's
// transaction.
type PeriodLockGuard struct {
	Clock Clock
}

// AssertUnlocked fails with *PeriodLockedError if any lock contains date.
func (PeriodLockGuard) AssertUnlocked(ctx context.Context, s Store, date Date) error {
	if date.IsZero() {
		return invalid("date", "is required")
	}
	locks, err := s.FindPeriodLocks(ctx, date, date)
	if err != nil {
		return err
	}
	for _, l := range locks {
		if l.Range().Contains(date) {
			return &PeriodLockedError{
				LockID: l.ID,
				Date:   date,
				Start:  l.StartDate,
				End:    l.EndDate,
				Reason: l.Reason,
			}
		}
	}
	return nil
}

type CreateLockInput struct {
	StartDate Date
	EndDate   Date
	Reason    string
}

// CreateLock validates the range and rejects any overlap with an
// existing lock.
func (g PeriodLockGuard) CreateLock(ctx context.Context, s Store, actor string, in CreateLockInput) (PeriodLock, error) {
	r := DateRange{Start: in.StartDate, End: in.EndDate}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return PeriodLock{}, invalid("start_date", "start and end dates are required")
	}
	if !r.Valid() {
		return PeriodLock{}, invalid("end_date", "end date %s is before start date %s", in.EndDate, in.StartDate)
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return PeriodLock{}, invalid("reason", "is required")
	}

	if err := s.ExclusivePeriodLocks(ctx); err != nil {
		return PeriodLock{}, err
	}
	existing, err := s.FindPeriodLocks(ctx, r.Start, r.End)
	if err != nil {
		return PeriodLock{}, err
	}
	for _, l := range existing {
		if l.Range().Overlaps(r) {
			return PeriodLock{}, overlapError(l)
		}
	}

	lock := PeriodLock{
		ID:        PeriodLockID(newID()),
		StartDate: r.Start,
		EndDate:   r.End,
		Reason:    reason,
		LockedBy:  actor,
		LockedAt:  g.Clock.Now(),
	}
	if err := s.CreatePeriodLock(ctx, lock); err != nil {
		return PeriodLock{}, err
	}
	return lock, nil
}

func overlapError(l PeriodLock) error {
	return &lockOverlapError{existing: l}
}

// lockOverlapError matches both ErrOverlappingLock and ErrValidation.
type lockOverlapError struct {
	existing PeriodLock
}

func (e *lockOverlapError) Error() string {
	return "overlapping period lock: intersects " + e.existing.Range().String() + " (" + e.existing.Reason + ")"
}

func (e *lockOverlapError) Unwrap() error { return ErrOverlappingLock }

// RemoveLock deletes a lock, reopening its range for postings.
func (PeriodLockGuard) RemoveLock(ctx context.Context, s Store, id PeriodLockID) (PeriodLock, error) {
	if err := s.ExclusivePeriodLocks(ctx); err != nil {
		return PeriodLock{}, err
	}
	lock, err := s.GetPeriodLock(ctx, id)
	if err != nil {
		return PeriodLock{}, err
	}
	if err := s.DeletePeriodLock(ctx, id); err != nil {
		return PeriodLock{}, err
	}
	return lock, nil
}

// =============================================================================
// ENGINE OPERATIONS
// =============================================================================

func (e *Engine) CreatePeriodLock(ctx context.Context, actor string, in CreateLockInput) (PeriodLock, error) {
	if err := requireActor(actor); err != nil {
		return PeriodLock{}, err
	}
	var lock PeriodLock
	err := e.inTx(ctx, "create_period_lock", func(s Store) error {
		var err error
		lock, err = e.locks.CreateLock(ctx, s, actor, in)
		if err != nil {
			return err
		}
		return e.audit.Record(ctx, s, actor, AuditLockCreated, EntityPeriodLock, string(lock.ID), map[string]any{
			"start_date": lock.StartDate.String(),
			"end_date":   lock.EndDate.String(),
			"reason":     lock.Reason,
		})
	})
	return lock, err
}

func (e *Engine) RemovePeriodLock(ctx context.Context, actor string, id PeriodLockID) (PeriodLock, error) {
	if err := requireActor(actor); err != nil {
		return PeriodLock{}, err
	}
	var lock PeriodLock
	err := e.inTx(ctx, "remove_period_lock", func(s Store) error {
		var err error
		lock, err = e.locks.RemoveLock(ctx, s, id)
		if err != nil {
			return err
		}
		return e.audit.Record(ctx, s, actor, AuditLockRemoved, EntityPeriodLock, string(lock.ID), map[string]any{
			"start_date": lock.StartDate.String(),
			"end_date":   lock.EndDate.String(),
			"reason":     lock.Reason,
		})
	})
	return lock, err
}

func (e *Engine) ListPeriodLocks(ctx context.Context) ([]PeriodLock, error) {
	return e.store.ListPeriodLocks(ctx)
}
