/*
invoice_service.go - Invoice lifecycle operations

PURPOSE:
  Every invoice mutation follows the same unit of work:

    1. Lock the invoice and re-read its lines
    2. Validate (state, amounts, period lock, payable invariant)
    3. Write the new line
    4. Post payments/refunds to the operational ledger
    5. Recalculate status
    6. Append the audit event

  All six commit together or not at all.

PAYABLE INVARIANT:
  sum(payments) - sum(refunds) <= total - sum(discounts)

  Discounts that would push the payable amount below what was already
  collected are rejected, as are payments beyond the outstanding balance
  and refunds beyond what a payment still nets to.

STATE RULES:
  DRAFT invoices accept no discounts, payments or refunds until issued.
  VOID is sticky: nothing mutates a void invoice. Voiding requires that
  every payment has been refunded first.

SEE ALSO:
  - invoice.go: Balance engine
  - poster.go: Operational ledger counterpart
*/
package finance

import (
	"context"
	"log/slog"
	"strings"
)

// InvoiceView is an invoice with its lines and derived balance.
type InvoiceView struct {
	Invoice   Invoice
	Discounts []Discount
	Payments  []Payment
	Refunds   []Refund
	Balance   InvoiceBalance
}

func viewOf(l invoiceLines, b InvoiceBalance) InvoiceView {
	inv := l.Invoice
	inv.Status = b.Status
	return InvoiceView{Invoice: inv, Discounts: l.Discounts, Payments: l.Payments, Refunds: l.Refunds, Balance: b}
}

type InvoiceItemInput struct {
	Name   string
	Amount Money
}

type CreateInvoiceInput struct {
	StudentID      string
	AcademicYearID string
	DueDate        Date
	Description    string
	Items          []InvoiceItemInput
	Draft          bool
}

type DiscountInput struct {
	Amount Money
	Reason string
}

type RecordPaymentInput struct {
	Amount            Money
	Method            PaymentMethod
	Reference         string
	PaidAt            Date
	CashBankAccountID CashBankAccountID
}

type RecordRefundInput struct {
	Amount     Money
	Reason     string
	RefundedAt Date
}

// =============================================================================
// CREATE / ISSUE / VOID
// =============================================================================

// CreateInvoice fixes items and total at creation. The invoice starts OPEN,
// or DRAFT when requested.
func (e *Engine) CreateInvoice(ctx context.Context, actor string, in CreateInvoiceInput) (InvoiceView, error) {
	if err := requireActor(actor); err != nil {
		return InvoiceView{}, err
	}
	if strings.TrimSpace(in.StudentID) == "" {
		return InvoiceView{}, invalid("student_id", "is required")
	}
	if strings.TrimSpace(in.AcademicYearID) == "" {
		return InvoiceView{}, invalid("academic_year_id", "is required")
	}
	if in.DueDate.IsZero() {
		return InvoiceView{}, invalid("due_date", "is required")
	}
	if len(in.Items) == 0 {
		return InvoiceView{}, invalid("items", "at least one item is required")
	}

	now := e.clock.Now()
	inv := Invoice{
		ID:             InvoiceID(newID()),
		StudentID:      in.StudentID,
		AcademicYearID: in.AcademicYearID,
		DueDate:        in.DueDate,
		Status:         InvoiceOpen,
		Description:    strings.TrimSpace(in.Description),
		CreatedBy:      actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Draft {
		inv.Status = InvoiceDraft
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.Name) == "" {
			return InvoiceView{}, invalid("items", "item %d: name is required", i)
		}
		if it.Amount <= 0 {
			return InvoiceView{}, invalid("items", "item %d: amount must be positive", i)
		}
		inv.Items = append(inv.Items, InvoiceItem{
			ID:        InvoiceItemID(newID()),
			InvoiceID: inv.ID,
			Name:      strings.TrimSpace(it.Name),
			Amount:    it.Amount,
		})
		inv.Total += it.Amount
	}

	var view InvoiceView
	err := e.inTx(ctx, "create_invoice", func(s Store) error {
		if err := s.CreateInvoice(ctx, inv); err != nil {
			return err
		}
		b := ComputeInvoiceBalance(inv.Status, inv.Items, nil, nil, nil)
		view = viewOf(invoiceLines{Invoice: inv}, b)
		return e.audit.Record(ctx, s, actor, AuditInvoiceCreated, EntityInvoice, string(inv.ID), map[string]any{
			"student_id": inv.StudentID,
			"total":      int64(inv.Total),
			"items":      len(inv.Items),
			"status":     string(inv.Status),
		})
	})
	if err != nil {
		return InvoiceView{}, err
	}
	return view, nil
}

// IssueInvoice moves a DRAFT invoice into the recalculated lifecycle.
func (e *Engine) IssueInvoice(ctx context.Context, actor string, id InvoiceID) (InvoiceView, error) {
	if err := requireActor(actor); err != nil {
		return InvoiceView{}, err
	}
	var view InvoiceView
	err := e.inTx(ctx, "issue_invoice", func(s Store) error {
		lines, err := loadInvoiceLines(ctx, s, id)
		if err != nil {
			return err
		}
		if lines.Invoice.Status != InvoiceDraft {
			return invoiceTransitionError(lines.Invoice, "issue", "only draft invoices can be issued")
		}
		lines.Invoice.Status = InvoiceOpen
		lines.Invoice.UpdatedAt = e.clock.Now()
		if err := s.UpdateInvoice(ctx, lines.Invoice); err != nil {
			return err
		}
		b, err := e.balances.Recalculate(ctx, s, id)
		if err != nil {
			return err
		}
		view = viewOf(lines, b)
		return e.audit.Record(ctx, s, actor, AuditInvoiceIssued, EntityInvoice, string(id), balanceMetadata(b))
	})
	return view, err
}

// VoidInvoice sets the sticky VOID status. Invoices that still net any
// payment must be refunded first.
func (e *Engine) VoidInvoice(ctx context.Context, actor string, id InvoiceID, reason string) (InvoiceView, error) {
	if err := requireActor(actor); err != nil {
		return InvoiceView{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return InvoiceView{}, invalid("reason", "a void reason is required")
	}
	var view InvoiceView
	err := e.inTx(ctx, "void_invoice", func(s Store) error {
		lines, err := loadInvoiceLines(ctx, s, id)
		if err != nil {
			return err
		}
		if lines.Invoice.Status == InvoiceVoid {
			return invoiceTransitionError(lines.Invoice, "void", "invoice is already void")
		}
		if b := lines.balance(); b.NetPaid > 0 {
			return invoiceTransitionError(lines.Invoice, "void", "refund collected payments before voiding")
		}

		now := e.clock.Now()
		lines.Invoice.Status = InvoiceVoid
		lines.Invoice.VoidedBy = actor
		lines.Invoice.VoidedAt = &now
		lines.Invoice.VoidReason = reason
		lines.Invoice.UpdatedAt = now
		if err := s.UpdateInvoice(ctx, lines.Invoice); err != nil {
			return err
		}
		b, err := e.balances.Recalculate(ctx, s, id)
		if err != nil {
			return err
		}
		view = viewOf(lines, b)
		meta := balanceMetadata(b)
		meta["reason"] = reason
		return e.audit.Record(ctx, s, actor, AuditInvoiceVoided, EntityInvoice, string(id), meta)
	})
	return view, err
}

// Recalculate recomputes and persists status. Idempotent; writes no audit.
func (e *Engine) Recalculate(ctx context.Context, id InvoiceID) (InvoiceBalance, error) {
	var b InvoiceBalance
	err := e.inTx(ctx, "recalculate_invoice", func(s Store) error {
		var err error
		b, err = e.balances.Recalculate(ctx, s, id)
		return err
	})
	return b, err
}

// =============================================================================
// DISCOUNTS
// =============================================================================

func (e *Engine) AddDiscount(ctx context.Context, actor string, id InvoiceID, in DiscountInput) (InvoiceView, error) {
	if err := validateDiscount(actor, in); err != nil {
		return InvoiceView{}, err
	}
	var view InvoiceView
	err := e.inTx(ctx, "add_discount", func(s Store) error {
		lines, err := loadInvoiceLines(ctx, s, id)
		if err != nil {
			return err
		}
		if err := requireMutable(lines.Invoice, "discount"); err != nil {
			return err
		}

		now := e.clock.Now()
		d := Discount{
			ID:        DiscountID(newID()),
			InvoiceID: id,
			Amount:    in.Amount,
			Reason:    strings.TrimSpace(in.Reason),
			CreatedBy: actor,
			CreatedAt: now,
			UpdatedAt: now,
		}
		lines.Discounts = append(lines.Discounts, d)
		if err := checkPayable(lines); err != nil {
			return err
		}
		if err := s.CreateDiscount(ctx, d); err != nil {
			return err
		}
		return e.finishInvoiceMutation(ctx, s, actor, lines, AuditDiscountAdded, map[string]any{
			"discount_id": string(d.ID),
			"amount":      int64(d.Amount),
			"reason":      d.Reason,
		}, &view)
	})
	return view, err
}

func (e *Engine) UpdateDiscount(ctx context.Context, actor string, id InvoiceID, discountID DiscountID, in DiscountInput) (InvoiceView, error) {
	if err := validateDiscount(actor, in); err != nil {
		return InvoiceView{}, err
	}
	var view InvoiceView
	err := e.inTx(ctx, "update_discount", func(s Store) error {
		lines, err := loadInvoiceLines(ctx, s, id)
		if err != nil {
			return err
		}
		if err := requireMutable(lines.Invoice, "discount"); err != nil {
			return err
		}
		idx := findDiscount(lines.Discounts, discountID)
		if idx < 0 {
			return NotFound("discount", discountID)
		}

		before := lines.Discounts[idx]
		updated := before
		updated.Amount = in.Amount
		updated.Reason = strings.TrimSpace(in.Reason)
		updated.UpdatedAt = e.clock.Now()
		lines.Discounts[idx] = updated
		if err := checkPayable(lines); err != nil {
			return err
		}
		if err := s.UpdateDiscount(ctx, updated); err != nil {
			return err
		}
		return e.finishInvoiceMutation(ctx, s, actor, lines, AuditDiscountUpdated, map[string]any{
			"discount_id":     string(updated.ID),
			"previous_amount": int64(before.Amount),
			"amount":          int64(updated.Amount),
			"reason":          updated.Reason,
		}, &view)
	})
	return view, err
}

func (e *Engine) DeleteDiscount(ctx context.Context, actor string, id InvoiceID, discountID DiscountID) (InvoiceView, error) {
	if err := requireActor(actor); err != nil {
		return InvoiceView{}, err
	}
	var view InvoiceView
	err := e.inTx(ctx, "delete_discount", func(s Store) error {
		lines, err := loadInvoiceLines(ctx, s, id)
		if err != nil {
			return err
		}
		if err := requireMutable(lines.Invoice, "discount"); err != nil {
			return err
		}
		idx := findDiscount(lines.Discounts, discountID)
		if idx < 0 {
			return NotFound("discount", discountID)
		}
		removed := lines.Discounts[idx]
		lines.Discounts = append(lines.Discounts[:idx:idx], lines.Discounts[idx+1:]...)
		if err := s.DeleteDiscount(ctx, discountID); err != nil {
			return err
		}
		return e.finishInvoiceMutation(ctx, s, actor, lines, AuditDiscountDeleted, map[string]any{
			"discount_id": string(removed.ID),
			"amount":      int64(removed.Amount),
			"reason":      removed.Reason,
		}, &view)
	})
	return view, err
}

// =============================================================================
// PAYMENTS / REFUNDS
// =============================================================================

// RecordPayment books a payment, posts its PENDING ledger counterpart and
// recalculates the invoice.
func (e *Engine) RecordPayment(ctx context.Context, actor string, id InvoiceID, in RecordPaymentInput) (InvoiceView, error) {
	if err := requireActor(actor); err != nil {
		return InvoiceView{}, err
	}
	if in.Amount <= 0 {
		return InvoiceView{}, invalid("amount", "must be a positive integer amount")
	}
	if !in.Method.Valid() {
		return InvoiceView{}, invalid("method", "unknown payment method %q", in.Method)
	}
	if in.PaidAt.IsZero() {
		return InvoiceView{}, invalid("paid_at", "is required")
	}
	if in.CashBankAccountID == "" {
		return InvoiceView{}, invalid("cash_bank_account_id", "is required")
	}

	var view InvoiceView
	err := e.inTx(ctx, "record_payment", func(s Store) error {
		lines, err := loadInvoiceLines(ctx, s, id)
		if err != nil {
			return err
		}
		if err := requireMutable(lines.Invoice, "pay"); err != nil {
			return err
		}
		if err := e.locks.AssertUnlocked(ctx, s, in.PaidAt); err != nil {
			return err
		}
		if b := lines.balance(); in.Amount > b.Balance {
			return invalid("amount", "payment %d exceeds outstanding balance %d", in.Amount, b.Balance)
		}

		p := Payment{
			ID:                PaymentID(newID()),
			InvoiceID:         id,
			Amount:            in.Amount,
			Method:            in.Method,
			Reference:         strings.TrimSpace(in.Reference),
			PaidAt:            in.PaidAt,
			CashBankAccountID: in.CashBankAccountID,
			CreatedBy:         actor,
			CreatedAt:         e.clock.Now(),
		}
		txnID, err := e.poster.PostPayment(ctx, s, p, lines.Invoice)
		if err != nil {
			return err
		}
		p.LedgerTxnID = txnID
		if err := s.CreatePayment(ctx, p); err != nil {
			return err
		}
		lines.Payments = append(lines.Payments, p)
		return e.finishInvoiceMutation(ctx, s, actor, lines, AuditPaymentRecorded, map[string]any{
			"payment_id":    string(p.ID),
			"amount":        int64(p.Amount),
			"method":        string(p.Method),
			"paid_at":       p.PaidAt.String(),
			"ledger_txn_id": string(txnID),
		}, &view)
	})
	if err == nil {
		e.logger.Info("invoice payment recorded",
			slog.String("invoice_id", string(id)), slog.Int64("amount", int64(in.Amount)), slog.String("status", string(view.Balance.Status)))
	}
	return view, err
}

// RecordRefund refunds part or all of one payment.
func (e *Engine) RecordRefund(ctx context.Context, actor string, id InvoiceID, paymentID PaymentID, in RecordRefundInput) (InvoiceView, error) {
	if err := requireActor(actor); err != nil {
		return InvoiceView{}, err
	}
	if in.Amount <= 0 {
		return InvoiceView{}, invalid("amount", "must be a positive integer amount")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return InvoiceView{}, invalid("reason", "is required")
	}
	if in.RefundedAt.IsZero() {
		return InvoiceView{}, invalid("refunded_at", "is required")
	}

	var view InvoiceView
	err := e.inTx(ctx, "record_refund", func(s Store) error {
		lines, err := loadInvoiceLines(ctx, s, id)
		if err != nil {
			return err
		}
		if err := requireMutable(lines.Invoice, "refund"); err != nil {
			return err
		}
		var payment *Payment
		for i := range lines.Payments {
			if lines.Payments[i].ID == paymentID {
				payment = &lines.Payments[i]
				break
			}
		}
		if payment == nil {
			return NotFound("payment", paymentID)
		}
		var refunded Money
		for _, r := range lines.Refunds {
			if r.PaymentID == paymentID {
				refunded += r.Amount
			}
		}
		if remaining := payment.Amount - refunded; in.Amount > remaining {
			return invalid("amount", "refund %d exceeds refundable amount %d of payment %s", in.Amount, remaining, paymentID)
		}
		if err := e.locks.AssertUnlocked(ctx, s, in.RefundedAt); err != nil {
			return err
		}

		r := Refund{
			ID:          RefundID(newID()),
			PaymentID:   paymentID,
			InvoiceID:   id,
			Amount:      in.Amount,
			Reason:      strings.TrimSpace(in.Reason),
			ProcessedBy: actor,
			RefundedAt:  in.RefundedAt,
			CreatedAt:   e.clock.Now(),
		}
		txnID, err := e.poster.PostRefund(ctx, s, *payment, r, lines.Invoice)
		if err != nil {
			return err
		}
		r.LedgerTxnID = txnID
		if err := s.CreateRefund(ctx, r); err != nil {
			return err
		}
		lines.Refunds = append(lines.Refunds, r)
		return e.finishInvoiceMutation(ctx, s, actor, lines, AuditRefundRecorded, map[string]any{
			"refund_id":     string(r.ID),
			"payment_id":    string(paymentID),
			"amount":        int64(r.Amount),
			"reason":        r.Reason,
			"ledger_txn_id": string(txnID),
		}, &view)
	})
	return view, err
}

// =============================================================================
// READS
// =============================================================================

// GetInvoice returns committed state with a freshly derived balance. The
// invoice and its lines are read from one snapshot.
func (e *Engine) GetInvoice(ctx context.Context, id InvoiceID) (InvoiceView, error) {
	var view InvoiceView
	err := e.store.WithReadTx(ctx, func(s Store) error {
		inv, err := s.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		lines, err := readLines(ctx, s, inv)
		if err != nil {
			return err
		}
		view = viewOf(lines, lines.balance())
		return nil
	})
	return view, err
}

func (e *Engine) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	return e.store.ListInvoices(ctx, filter)
}

// MatchesInvoiceFilter applies an InvoiceFilter in memory.
func MatchesInvoiceFilter(inv Invoice, f InvoiceFilter) bool {
	if f.StudentID != nil && inv.StudentID != *f.StudentID {
		return false
	}
	if f.Status != nil && inv.Status != *f.Status {
		return false
	}
	if f.DueFrom != nil && inv.DueDate.Before(*f.DueFrom) {
		return false
	}
	if f.DueTo != nil && inv.DueDate.After(*f.DueTo) {
		return false
	}
	return true
}

// =============================================================================
// HELPERS
// =============================================================================

// finishInvoiceMutation recalculates through s, fills view and appends
// the audit event.
func (e *Engine) finishInvoiceMutation(ctx context.Context, s Store, actor string, lines invoiceLines, typ AuditEventType, meta map[string]any, view *InvoiceView) error {
	b, err := e.balances.Recalculate(ctx, s, lines.Invoice.ID)
	if err != nil {
		return err
	}
	*view = viewOf(lines, b)
	for k, v := range balanceMetadata(b) {
		meta[k] = v
	}
	return e.audit.Record(ctx, s, actor, typ, EntityInvoice, string(lines.Invoice.ID), meta)
}

func requireMutable(inv Invoice, action string) error {
	switch inv.Status {
	case InvoiceVoid:
		return invoiceTransitionError(inv, action, "invoice is void")
	case InvoiceDraft:
		return invoiceTransitionError(inv, action, "invoice has not been issued")
	}
	return nil
}

// checkPayable enforces netPaid <= total - discounts on the prospective lines.
func checkPayable(l invoiceLines) error {
	b := l.balance()
	if b.Discounts > b.Total {
		return invalid("amount", "discounts %d would exceed invoice total %d", b.Discounts, b.Total)
	}
	if b.NetPaid > b.Total-b.Discounts {
		return invalid("amount", "discounts would reduce the payable amount %d below the %d already collected", b.Total-b.Discounts, b.NetPaid)
	}
	return nil
}

func validateDiscount(actor string, in DiscountInput) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if in.Amount <= 0 {
		return invalid("amount", "must be a positive integer amount")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return invalid("reason", "is required")
	}
	return nil
}

func findDiscount(ds []Discount, id DiscountID) int {
	for i, d := range ds {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func invoiceTransitionError(inv Invoice, action, reason string) error {
	return &InvalidTransitionError{
		Entity: EntityInvoice,
		ID:     string(inv.ID),
		Action: action,
		From:   string(inv.Status),
		Reason: reason,
	}
}

func balanceMetadata(b InvoiceBalance) map[string]any {
	return map[string]any{
		"status":   string(b.Status),
		"balance":  int64(b.Balance),
		"net_paid": int64(b.NetPaid),
	}
}
