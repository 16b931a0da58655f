/*
invoice.go - Invoice balance and status derivation

PURPOSE:
  An invoice's balance and status are never stored ad hoc. They are a
  pure function of its items, discounts, payments and refunds, and are
  recomputed on every invoice mutation.

FORMULA:
  grossDue = max(0, sum(items) - sum(discounts))
  netPaid  = sum(payments) - sum(refunds)
  balance  = max(0, grossDue - netPaid)

STATUS:
  VOID   sticky, never overwritten here
  DRAFT  sticky, only IssueInvoice leaves it
  PAID   netPaid >= grossDue and grossDue > 0
  PARTIAL 0 < netPaid < grossDue
  OPEN   otherwise

SEE ALSO:
  - invoice_service.go: Callers that mutate lines and then recalculate
*/
package finance

import "context"

// InvoiceBalance is the derived view of an invoice.
type InvoiceBalance struct {
	Status    InvoiceStatus
	Balance   Money
	Total     Money
	Discounts Money
	GrossDue  Money
	Paid      Money
	Refunded  Money
	NetPaid   Money
}

// ComputeInvoiceBalance derives balance and status. Pure.
func ComputeInvoiceBalance(current InvoiceStatus, items []InvoiceItem, discounts []Discount, payments []Payment, refunds []Refund) InvoiceBalance {
	var b InvoiceBalance
	for _, it := range items {
		b.Total += it.Amount
	}
	for _, d := range discounts {
		b.Discounts += d.Amount
	}
	for _, p := range payments {
		b.Paid += p.Amount
	}
	for _, r := range refunds {
		b.Refunded += r.Amount
	}

	b.GrossDue = maxMoney(0, b.Total-b.Discounts)
	b.NetPaid = b.Paid - b.Refunded
	b.Balance = maxMoney(0, b.GrossDue-b.NetPaid)

	switch {
	case current == InvoiceVoid, current == InvoiceDraft:
		b.Status = current
	case b.NetPaid >= b.GrossDue && b.GrossDue > 0:
		b.Status = InvoicePaid
	case b.NetPaid > 0 && b.NetPaid < b.GrossDue:
		b.Status = InvoicePartial
	default:
		b.Status = InvoiceOpen
	}
	return b
}

// =============================================================================
// BALANCE ENGINE
// =============================================================================

// BalanceEngine recomputes and persists invoice status inside the
// caller's transaction. It writes no audit events; the caller knows the
// business reason for the change.
type BalanceEngine struct{}

// invoiceLines is everything the engine reads for one invoice.
type invoiceLines struct {
	Invoice   Invoice
	Discounts []Discount
	Payments  []Payment
	Refunds   []Refund
}

func (l invoiceLines) balance() InvoiceBalance {
	return ComputeInvoiceBalance(l.Invoice.Status, l.Invoice.Items, l.Discounts, l.Payments, l.Refunds)
}

// loadInvoiceLines locks the invoice row and reads its lines through s.
func loadInvoiceLines(ctx context.Context, s Store, id InvoiceID) (invoiceLines, error) {
	inv, err := s.LockInvoice(ctx, id)
	if err != nil {
		return invoiceLines{}, err
	}
	return readLines(ctx, s, inv)
}

func readLines(ctx context.Context, s Store, inv Invoice) (invoiceLines, error) {
	id := inv.ID
	discounts, err := s.ListDiscounts(ctx, id)
	if err != nil {
		return invoiceLines{}, err
	}
	payments, err := s.ListPayments(ctx, id)
	if err != nil {
		return invoiceLines{}, err
	}
	refunds, err := s.ListRefunds(ctx, id)
	if err != nil {
		return invoiceLines{}, err
	}
	return invoiceLines{Invoice: inv, Discounts: discounts, Payments: payments, Refunds: refunds}, nil
}

// Recalculate re-reads the invoice through the transactional store s,
// persists the derived status when it changed, and returns the result.
func (BalanceEngine) Recalculate(ctx context.Context, s Store, id InvoiceID) (InvoiceBalance, error) {
	lines, err := loadInvoiceLines(ctx, s, id)
	if err != nil {
		return InvoiceBalance{}, err
	}
	b := lines.balance()
	if b.Status != lines.Invoice.Status {
		if err := s.UpdateInvoiceStatus(ctx, id, b.Status); err != nil {
			return InvoiceBalance{}, err
		}
	}
	return b, nil
}
