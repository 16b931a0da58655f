/*
workflow.go - Maker-checker-approver workflow for operational transactions

PURPOSE:
  Governs every operational (non-invoice) cash movement. Funds move only
  when three distinct identities have created, checked, and approved the
  transaction.

STATE MACHINE:
  ┌─────────────────────────────────────────────────────────────────┐
  │                                                                 │
  │   PENDING/unchecked ──check──▶ PENDING/checked ──approve──▶     │
  │        │     │                      │               APPROVED    │
  │        │     └──────reject──────────┴──reject──▶    REJECTED    │
  │        └──cancel (maker only)──▶ CANCELLED                      │
  │                                                                 │
  └─────────────────────────────────────────────────────────────────┘

  APPROVED, REJECTED and CANCELLED are terminal.

ROLE SEPARATION:
  check:   checker != maker
  approve: approver != maker, approver != checker
  reject:  rejecter != maker
  cancel:  maker only

PERIOD LOCKS:
  Create, check, approve and reject each assert the txn date is not
  locked at the moment of the transition.

TRANSFER PAIRS:
  A transfer is two legs (TRANSFER_OUT, TRANSFER_IN) sharing a
  TransferPairID. Any transition on either leg loads both, requires
  both to be in the same pre-state, and applies to both or neither.
  On approval the OUT leg is applied first.

POSTED TXNS:
  Txns posted from invoice payments and refunds cannot be rejected or
  cancelled; the invoice already counts the money.

SEE ALSO:
  - approval.go: ApprovalTicket derived from stored columns
  - cashbank.go: ApplyDelta
  - periodlock.go: AssertUnlocked
*/
package finance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// =============================================================================
// CREATION
// =============================================================================

type CreateTxnInput struct {
	Kind              TxnKind
	Amount            Money
	TxnDate           Date
	FinanceAccountID  FinanceAccountID
	CashBankAccountID CashBankAccountID
	Description       string
}

type CreateTransferInput struct {
	FromAccountID    CashBankAccountID
	ToAccountID      CashBankAccountID
	FinanceAccountID FinanceAccountID
	Amount           Money
	TxnDate          Date
	Description      string
}

// CreateTxn records a PENDING income or expense with actor as maker.
func (e *Engine) CreateTxn(ctx context.Context, actor string, in CreateTxnInput) (OperationalTxn, error) {
	if err := requireActor(actor); err != nil {
		return OperationalTxn{}, err
	}
	if in.Kind != TxnIncome && in.Kind != TxnExpense {
		return OperationalTxn{}, invalid("kind", "must be INCOME or EXPENSE; use a transfer for TRANSFER_IN/TRANSFER_OUT")
	}

	now := e.clock.Now()
	txn := OperationalTxn{
		ID:                TxnID(newID()),
		Kind:              in.Kind,
		Amount:            in.Amount,
		TxnDate:           in.TxnDate,
		FinanceAccountID:  in.FinanceAccountID,
		CashBankAccountID: in.CashBankAccountID,
		ApprovalStatus:    StatusPending,
		Description:       strings.TrimSpace(in.Description),
		SourceType:        SourceManual,
		CreatedBy:         actor,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := e.inTx(ctx, "create_txn", func(s Store) error {
		if err := createTxn(ctx, s, e.locks, txn); err != nil {
			return err
		}
		return e.audit.Record(ctx, s, actor, AuditTxnCreated, EntityOperationalTxn, string(txn.ID), map[string]any{
			"kind":                 string(txn.Kind),
			"amount":               int64(txn.Amount),
			"txn_date":             txn.TxnDate.String(),
			"cash_bank_account_id": string(txn.CashBankAccountID),
			"finance_account_id":   string(txn.FinanceAccountID),
		})
	})
	if err != nil {
		return OperationalTxn{}, err
	}
	return txn, nil
}

// CreateTransfer records both legs of a transfer as one PENDING group.
// The returned slice is ordered OUT leg first.
func (e *Engine) CreateTransfer(ctx context.Context, actor string, in CreateTransferInput) ([]OperationalTxn, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if in.FromAccountID == "" || in.ToAccountID == "" {
		return nil, invalid("from_account_id", "source and destination accounts are required")
	}
	if in.FromAccountID == in.ToAccountID {
		return nil, invalid("to_account_id", "source and destination must differ")
	}

	now := e.clock.Now()
	pair := TransferPairID(newID())
	leg := func(kind TxnKind, acct CashBankAccountID) OperationalTxn {
		p := pair
		return OperationalTxn{
			ID:                TxnID(newID()),
			Kind:              kind,
			Amount:            in.Amount,
			TxnDate:           in.TxnDate,
			FinanceAccountID:  in.FinanceAccountID,
			CashBankAccountID: acct,
			TransferPairID:    &p,
			ApprovalStatus:    StatusPending,
			Description:       strings.TrimSpace(in.Description),
			SourceType:        SourceManual,
			CreatedBy:         actor,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}
	legs := []OperationalTxn{leg(TxnTransferOut, in.FromAccountID), leg(TxnTransferIn, in.ToAccountID)}

	err := e.inTx(ctx, "create_transfer", func(s Store) error {
		for _, l := range legs {
			if err := createTxn(ctx, s, e.locks, l); err != nil {
				return err
			}
		}
		return e.audit.Record(ctx, s, actor, AuditTransferCreated, EntityOperationalTxn, string(legs[0].ID), map[string]any{
			"transfer_pair_id": string(pair),
			"txn_ids":          groupIDs(legs),
			"amount":           int64(in.Amount),
			"txn_date":         in.TxnDate.String(),
			"from_account_id":  string(in.FromAccountID),
			"to_account_id":    string(in.ToAccountID),
		})
	})
	if err != nil {
		return nil, err
	}
	return legs, nil
}

// createTxn validates references and the period lock, then inserts t.
// Shared by manual creation and the invoice poster.
func createTxn(ctx context.Context, s Store, guard PeriodLockGuard, t OperationalTxn) error {
	if !t.Kind.Valid() {
		return invalid("kind", "unknown transaction kind %q", t.Kind)
	}
	if t.Amount <= 0 {
		return invalid("amount", "must be a positive integer amount")
	}
	if t.TxnDate.IsZero() {
		return invalid("txn_date", "is required")
	}
	if t.FinanceAccountID == "" {
		return invalid("finance_account_id", "is required")
	}
	if t.CashBankAccountID == "" {
		return invalid("cash_bank_account_id", "is required")
	}
	if _, err := s.GetFinanceAccount(ctx, t.FinanceAccountID); err != nil {
		return err
	}
	acct, err := s.GetCashBankAccount(ctx, t.CashBankAccountID)
	if err != nil {
		return err
	}
	if !acct.Active {
		return &AccountInactiveError{AccountID: acct.ID}
	}
	if err := guard.AssertUnlocked(ctx, s, t.TxnDate); err != nil {
		return err
	}
	return s.CreateTxn(ctx, t)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Check records actor as checker on a PENDING, unchecked txn (or group).
func (e *Engine) Check(ctx context.Context, actor string, id TxnID) ([]OperationalTxn, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var out []OperationalTxn
	err := e.inTx(ctx, "check_txn", func(s Store) error {
		legs, err := loadGroup(ctx, s, id)
		if err != nil {
			return err
		}
		head := legs[0]

		switch tk := TicketOf(head).(type) {
		case Unchecked:
		case Checked:
			return transitionError(head, "check", "already checked by "+tk.By)
		default:
			return transitionError(head, "check", "transaction is not pending")
		}
		if actor == head.CreatedBy {
			return transitionError(head, "check", "maker cannot check their own transaction")
		}
		if err := e.locks.AssertUnlocked(ctx, s, head.TxnDate); err != nil {
			return err
		}

		now := e.clock.Now()
		for i := range legs {
			legs[i].CheckedBy = actor
			legs[i].CheckedAt = &now
			legs[i].UpdatedAt = now
			if err := s.UpdateTxn(ctx, legs[i]); err != nil {
				return err
			}
		}
		out = legs
		return e.audit.Record(ctx, s, actor, AuditTxnChecked, EntityOperationalTxn, string(id), groupMetadata(legs))
	})
	return out, err
}

// Approve applies the cash/bank delta of every leg and marks the group
// APPROVED. Any failure, InsufficientBalance included, leaves every leg
// PENDING and every balance unchanged.
func (e *Engine) Approve(ctx context.Context, actor string, id TxnID) ([]OperationalTxn, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var out []OperationalTxn
	err := e.inTx(ctx, "approve_txn", func(s Store) error {
		legs, err := loadGroup(ctx, s, id)
		if err != nil {
			return err
		}
		head := legs[0]

		switch TicketOf(head).(type) {
		case Checked:
		case Unchecked:
			return transitionError(head, "approve", "transaction has not been checked")
		case Approved:
			return transitionError(head, "approve", "transaction is already approved")
		default:
			return transitionError(head, "approve", "transaction is not pending")
		}
		if actor == head.CreatedBy {
			return transitionError(head, "approve", "maker cannot approve their own transaction")
		}
		if actor == head.CheckedBy {
			return transitionError(head, "approve", "checker cannot also approve")
		}
		if err := e.locks.AssertUnlocked(ctx, s, head.TxnDate); err != nil {
			return err
		}

		// Lock every touched account in ID order before applying deltas.
		if err := lockAccounts(ctx, s, legs); err != nil {
			return err
		}
		balances := map[string]any{}
		for _, leg := range legs {
			next, err := e.cash.ApplyDelta(ctx, s, leg.CashBankAccountID, leg.Kind, leg.Amount)
			if err != nil {
				return err
			}
			balances[string(leg.CashBankAccountID)] = int64(next)
		}

		now := e.clock.Now()
		for i := range legs {
			legs[i].ApprovalStatus = StatusApproved
			legs[i].ApprovedBy = actor
			legs[i].ApprovedAt = &now
			legs[i].RejectedBy = ""
			legs[i].RejectedAt = nil
			legs[i].RejectionReason = ""
			legs[i].UpdatedAt = now
			if err := s.UpdateTxn(ctx, legs[i]); err != nil {
				return err
			}
		}
		out = legs

		meta := groupMetadata(legs)
		meta["balances"] = balances
		return e.audit.Record(ctx, s, actor, AuditTxnApproved, EntityOperationalTxn, string(id), meta)
	})
	if err == nil {
		e.logger.Info("operational transaction approved",
			slog.String("txn_id", string(id)), slog.String("approved_by", actor), slog.Int("legs", len(out)))
	}
	return out, err
}

// Reject marks a PENDING txn (or group) REJECTED. No balance effect.
func (e *Engine) Reject(ctx context.Context, actor string, id TxnID, reason string) ([]OperationalTxn, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "a rejection reason is required")
	}
	var out []OperationalTxn
	err := e.inTx(ctx, "reject_txn", func(s Store) error {
		legs, err := loadGroup(ctx, s, id)
		if err != nil {
			return err
		}
		head := legs[0]

		switch TicketOf(head).(type) {
		case Unchecked, Checked:
		default:
			return transitionError(head, "reject", "transaction is not pending")
		}
		if err := requireManual(head, "reject"); err != nil {
			return err
		}
		if actor == head.CreatedBy {
			return transitionError(head, "reject", "maker cannot reject their own transaction")
		}
		if err := e.locks.AssertUnlocked(ctx, s, head.TxnDate); err != nil {
			return err
		}

		now := e.clock.Now()
		for i := range legs {
			legs[i].ApprovalStatus = StatusRejected
			legs[i].RejectedBy = actor
			legs[i].RejectedAt = &now
			legs[i].RejectionReason = reason
			legs[i].ApprovedBy = ""
			legs[i].ApprovedAt = nil
			legs[i].UpdatedAt = now
			if err := s.UpdateTxn(ctx, legs[i]); err != nil {
				return err
			}
		}
		out = legs

		meta := groupMetadata(legs)
		meta["reason"] = reason
		return e.audit.Record(ctx, s, actor, AuditTxnRejected, EntityOperationalTxn, string(id), meta)
	})
	return out, err
}

// Cancel lets the maker withdraw a txn (or group) before anyone checked it.
func (e *Engine) Cancel(ctx context.Context, actor string, id TxnID) ([]OperationalTxn, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var out []OperationalTxn
	err := e.inTx(ctx, "cancel_txn", func(s Store) error {
		legs, err := loadGroup(ctx, s, id)
		if err != nil {
			return err
		}
		head := legs[0]

		switch TicketOf(head).(type) {
		case Unchecked:
		case Checked:
			return transitionError(head, "cancel", "transaction has already been checked")
		default:
			return transitionError(head, "cancel", "transaction is not pending")
		}
		if err := requireManual(head, "cancel"); err != nil {
			return err
		}
		if actor != head.CreatedBy {
			return transitionError(head, "cancel", "only the maker can cancel")
		}

		now := e.clock.Now()
		for i := range legs {
			legs[i].ApprovalStatus = StatusCancelled
			legs[i].CancelledBy = actor
			legs[i].CancelledAt = &now
			legs[i].UpdatedAt = now
			if err := s.UpdateTxn(ctx, legs[i]); err != nil {
				return err
			}
		}
		out = legs
		return e.audit.Record(ctx, s, actor, AuditTxnCancelled, EntityOperationalTxn, string(id), groupMetadata(legs))
	})
	return out, err
}

// =============================================================================
// READS
// =============================================================================

// GetTxnGroup returns the txn, or both legs when it belongs to a transfer.
func (e *Engine) GetTxnGroup(ctx context.Context, id TxnID) ([]OperationalTxn, error) {
	t, err := e.store.GetTxn(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsTransferLeg() {
		return []OperationalTxn{t}, nil
	}
	legs, err := e.store.ListTxns(ctx, TxnFilter{TransferPairID: t.TransferPairID})
	if err != nil {
		return nil, err
	}
	sortLegs(legs)
	return legs, nil
}

func (e *Engine) ListTxns(ctx context.Context, filter TxnFilter) ([]OperationalTxn, error) {
	return e.store.ListTxns(ctx, filter)
}

// MatchesTxnFilter applies a TxnFilter in memory.
func MatchesTxnFilter(t OperationalTxn, f TxnFilter) bool {
	if f.From != nil && t.TxnDate.Before(*f.From) {
		return false
	}
	if f.To != nil && t.TxnDate.After(*f.To) {
		return false
	}
	if f.CashBankAccountID != nil && t.CashBankAccountID != *f.CashBankAccountID {
		return false
	}
	if f.FinanceAccountID != nil && t.FinanceAccountID != *f.FinanceAccountID {
		return false
	}
	if f.Status != nil && t.ApprovalStatus != *f.Status {
		return false
	}
	if f.Kind != nil && t.Kind != *f.Kind {
		return false
	}
	if f.TransferPairID != nil && (t.TransferPairID == nil || *t.TransferPairID != *f.TransferPairID) {
		return false
	}
	return true
}

// =============================================================================
// GROUP HELPERS
// =============================================================================

// loadGroup locks the txn and, for a transfer, its mirror leg. Legs are
// locked in ID order and returned OUT leg first.
func loadGroup(ctx context.Context, s Store, id TxnID) ([]OperationalTxn, error) {
	t, err := s.GetTxn(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsTransferLeg() {
		locked, err := s.LockTxn(ctx, id)
		if err != nil {
			return nil, err
		}
		return []OperationalTxn{locked}, nil
	}

	members, err := s.ListTxns(ctx, TxnFilter{TransferPairID: t.TransferPairID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, string(m.ID))
	}
	sort.Strings(ids)

	legs := make([]OperationalTxn, 0, len(ids))
	for _, legID := range ids {
		locked, err := s.LockTxn(ctx, TxnID(legID))
		if err != nil {
			return nil, err
		}
		legs = append(legs, locked)
	}
	if err := validatePair(legs); err != nil {
		return nil, err
	}
	sortLegs(legs)
	if !sameTicket(TicketOf(legs[0]), TicketOf(legs[1])) || legs[0].ApprovalStatus != legs[1].ApprovalStatus {
		return nil, transitionError(t, "transition", "transfer legs are not in the same state")
	}
	return legs, nil
}

func validatePair(legs []OperationalTxn) error {
	if len(legs) != 2 {
		return fmt.Errorf("transfer pair %s has %d legs, expected 2: %w", *legs[0].TransferPairID, len(legs), ErrInvalidStateTransition)
	}
	a, b := legs[0], legs[1]
	if a.Amount != b.Amount || SignedDelta(a.Kind, a.Amount) != -SignedDelta(b.Kind, b.Amount) ||
		!(a.Kind == TxnTransferIn || a.Kind == TxnTransferOut) || !(b.Kind == TxnTransferIn || b.Kind == TxnTransferOut) {
		return fmt.Errorf("transfer pair %s legs are not mirrored: %w", *a.TransferPairID, ErrInvalidStateTransition)
	}
	return nil
}

// sortLegs puts TRANSFER_OUT first so the debit is applied before the credit.
func sortLegs(legs []OperationalTxn) {
	sort.SliceStable(legs, func(i, j int) bool {
		return legs[i].Kind == TxnTransferOut && legs[j].Kind != TxnTransferOut
	})
}

func lockAccounts(ctx context.Context, s Store, legs []OperationalTxn) error {
	seen := map[string]bool{}
	var ids []string
	for _, l := range legs {
		id := string(l.CashBankAccountID)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := s.LockCashBankAccount(ctx, CashBankAccountID(id)); err != nil {
			return err
		}
	}
	return nil
}

// requireManual refuses to withdraw a txn posted from an invoice payment or
// refund. The invoice line already counts the money, so the ledger side
// can only be approved; corrections go through a refund.
func requireManual(t OperationalTxn, action string) error {
	if t.SourceType == "" || t.SourceType == SourceManual {
		return nil
	}
	return transitionError(t, action, "transaction was posted from "+string(t.SourceType)+" and can only be approved")
}

func transitionError(t OperationalTxn, action, reason string) error {
	return &InvalidTransitionError{
		Entity: EntityOperationalTxn,
		ID:     string(t.ID),
		Action: action,
		From:   string(t.ApprovalStatus),
		Reason: reason,
	}
}

func groupIDs(legs []OperationalTxn) []string {
	ids := make([]string, len(legs))
	for i, l := range legs {
		ids[i] = string(l.ID)
	}
	return ids
}

func groupMetadata(legs []OperationalTxn) map[string]any {
	meta := map[string]any{
		"txn_ids": groupIDs(legs),
		"status":  string(legs[0].ApprovalStatus),
	}
	if legs[0].TransferPairID != nil {
		meta["transfer_pair_id"] = string(*legs[0].TransferPairID)
	}
	return meta
}
