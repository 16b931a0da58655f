package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// INVOICES (finance.InvoiceStore)
// =============================================================================

const invoiceCols = `id, student_id, academic_year_id, due_date, total, status, description,
	created_by, created_at, updated_at, voided_by, voided_at, void_reason`

func scanInvoice(sc scanner) (finance.Invoice, error) {
	var inv finance.Invoice
	err := sc.Scan(&inv.ID, &inv.StudentID, &inv.AcademicYearID, dateCol{&inv.DueDate}, &inv.Total,
		&inv.Status, &inv.Description, &inv.CreatedBy, timeCol{&inv.CreatedAt}, timeCol{&inv.UpdatedAt},
		&inv.VoidedBy, nullTimeCol{&inv.VoidedAt}, &inv.VoidReason)
	return inv, err
}

func (x *queries) CreateInvoice(ctx context.Context, inv finance.Invoice) error {
	err := x.exec(ctx, `
		INSERT INTO invoices (`+invoiceCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(inv.ID), inv.StudentID, inv.AcademicYearID, dateArg(inv.DueDate), int64(inv.Total),
		string(inv.Status), inv.Description, inv.CreatedBy, timeArg(inv.CreatedAt), timeArg(inv.UpdatedAt),
		inv.VoidedBy, nullTimeArg(inv.VoidedAt), inv.VoidReason)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	for i, it := range inv.Items {
		err := x.exec(ctx, `
			INSERT INTO invoice_items (id, invoice_id, name, amount, position)
			VALUES (?, ?, ?, ?, ?)`,
			string(it.ID), string(inv.ID), it.Name, int64(it.Amount), i)
		if err != nil {
			return fmt.Errorf("failed to insert invoice item: %w", err)
		}
	}
	return nil
}

func (x *queries) GetInvoice(ctx context.Context, id finance.InvoiceID) (finance.Invoice, error) {
	return x.loadInvoice(ctx, id, "")
}

func (x *queries) LockInvoice(ctx context.Context, id finance.InvoiceID) (finance.Invoice, error) {
	return x.loadInvoice(ctx, id, x.forUpdate())
}

func (x *queries) loadInvoice(ctx context.Context, id finance.InvoiceID, lock string) (finance.Invoice, error) {
	inv, err := scanInvoice(x.row(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id = ?`+lock, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Invoice{}, finance.NotFound("invoice", id)
	}
	if err != nil {
		return finance.Invoice{}, fmt.Errorf("failed to load invoice: %w", err)
	}
	items, err := x.listItems(ctx, id)
	if err != nil {
		return finance.Invoice{}, err
	}
	inv.Items = items
	return inv, nil
}

func (x *queries) listItems(ctx context.Context, id finance.InvoiceID) ([]finance.InvoiceItem, error) {
	rows, err := x.query(ctx, `
		SELECT id, invoice_id, name, amount FROM invoice_items
		WHERE invoice_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()

	var items []finance.InvoiceItem
	for rows.Next() {
		var it finance.InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Name, &it.Amount); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (x *queries) UpdateInvoiceStatus(ctx context.Context, id finance.InvoiceID, status finance.InvoiceStatus) error {
	return x.execOne(ctx, finance.NotFound("invoice", id),
		`UPDATE invoices SET status = ? WHERE id = ?`, string(status), string(id))
}

func (x *queries) UpdateInvoice(ctx context.Context, inv finance.Invoice) error {
	return x.execOne(ctx, finance.NotFound("invoice", inv.ID), `
		UPDATE invoices
		SET status = ?, updated_at = ?, voided_by = ?, voided_at = ?, void_reason = ?
		WHERE id = ?`,
		string(inv.Status), timeArg(inv.UpdatedAt), inv.VoidedBy, nullTimeArg(inv.VoidedAt), inv.VoidReason,
		string(inv.ID))
}

func (x *queries) ListInvoices(ctx context.Context, f finance.InvoiceFilter) ([]finance.Invoice, error) {
	var w where
	if f.StudentID != nil {
		w.add("student_id = ?", *f.StudentID)
	}
	if f.Status != nil {
		w.add("status = ?", string(*f.Status))
	}
	if f.DueFrom != nil {
		w.add("due_date >= ?", dateArg(*f.DueFrom))
	}
	if f.DueTo != nil {
		w.add("due_date <= ?", dateArg(*f.DueTo))
	}

	rows, err := x.query(ctx, `SELECT `+invoiceCols+` FROM invoices`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	var out []finance.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Items are loaded after the cursor is closed; SQLite runs on one connection.
	for i := range out {
		items, err := x.listItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

// =============================================================================
// DISCOUNTS
// =============================================================================

func (x *queries) CreateDiscount(ctx context.Context, d finance.Discount) error {
	return x.exec(ctx, `
		INSERT INTO invoice_discounts (id, invoice_id, amount, reason, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(d.ID), string(d.InvoiceID), int64(d.Amount), d.Reason, d.CreatedBy,
		timeArg(d.CreatedAt), timeArg(d.UpdatedAt))
}

func (x *queries) UpdateDiscount(ctx context.Context, d finance.Discount) error {
	return x.execOne(ctx, finance.NotFound("discount", d.ID), `
		UPDATE invoice_discounts SET amount = ?, reason = ?, updated_at = ?
		WHERE id = ? AND invoice_id = ?`,
		int64(d.Amount), d.Reason, timeArg(d.UpdatedAt), string(d.ID), string(d.InvoiceID))
}

func (x *queries) DeleteDiscount(ctx context.Context, id finance.DiscountID) error {
	return x.execOne(ctx, finance.NotFound("discount", id),
		`DELETE FROM invoice_discounts WHERE id = ?`, string(id))
}

func (x *queries) ListDiscounts(ctx context.Context, invoiceID finance.InvoiceID) ([]finance.Discount, error) {
	rows, err := x.query(ctx, `
		SELECT id, invoice_id, amount, reason, created_by, created_at, updated_at
		FROM invoice_discounts WHERE invoice_id = ? ORDER BY created_at, id`, string(invoiceID))
	if err != nil {
		return nil, fmt.Errorf("failed to query discounts: %w", err)
	}
	defer rows.Close()

	var out []finance.Discount
	for rows.Next() {
		var d finance.Discount
		if err := rows.Scan(&d.ID, &d.InvoiceID, &d.Amount, &d.Reason, &d.CreatedBy,
			timeCol{&d.CreatedAt}, timeCol{&d.UpdatedAt}); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYMENTS AND REFUNDS (append-only)
// =============================================================================

const paymentCols = `id, invoice_id, amount, method, reference, paid_at, cash_bank_account_id,
	ledger_txn_id, created_by, created_at`

func scanPayment(sc scanner) (finance.Payment, error) {
	var p finance.Payment
	err := sc.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, dateCol{&p.PaidAt},
		&p.CashBankAccountID, &p.LedgerTxnID, &p.CreatedBy, timeCol{&p.CreatedAt})
	return p, err
}

func (x *queries) CreatePayment(ctx context.Context, p finance.Payment) error {
	return x.exec(ctx, `
		INSERT INTO invoice_payments (`+paymentCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), string(p.InvoiceID), int64(p.Amount), string(p.Method), p.Reference, dateArg(p.PaidAt),
		string(p.CashBankAccountID), string(p.LedgerTxnID), p.CreatedBy, timeArg(p.CreatedAt))
}

func (x *queries) GetPayment(ctx context.Context, id finance.PaymentID) (finance.Payment, error) {
	p, err := scanPayment(x.row(ctx, `SELECT `+paymentCols+` FROM invoice_payments WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Payment{}, finance.NotFound("payment", id)
	}
	return p, err
}

func (x *queries) ListPayments(ctx context.Context, invoiceID finance.InvoiceID) ([]finance.Payment, error) {
	rows, err := x.query(ctx, `
		SELECT `+paymentCols+` FROM invoice_payments
		WHERE invoice_id = ? ORDER BY created_at, id`, string(invoiceID))
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []finance.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (x *queries) CreateRefund(ctx context.Context, r finance.Refund) error {
	return x.exec(ctx, `
		INSERT INTO invoice_refunds
		(id, payment_id, invoice_id, amount, reason, processed_by, refunded_at, ledger_txn_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.PaymentID), string(r.InvoiceID), int64(r.Amount), r.Reason, r.ProcessedBy,
		dateArg(r.RefundedAt), string(r.LedgerTxnID), timeArg(r.CreatedAt))
}

func (x *queries) ListRefunds(ctx context.Context, invoiceID finance.InvoiceID) ([]finance.Refund, error) {
	rows, err := x.query(ctx, `
		SELECT id, payment_id, invoice_id, amount, reason, processed_by, refunded_at, ledger_txn_id, created_at
		FROM invoice_refunds WHERE invoice_id = ? ORDER BY created_at, id`, string(invoiceID))
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	defer rows.Close()

	var out []finance.Refund
	for rows.Next() {
		var r finance.Refund
		if err := rows.Scan(&r.ID, &r.PaymentID, &r.InvoiceID, &r.Amount, &r.Reason, &r.ProcessedBy,
			dateCol{&r.RefundedAt}, &r.LedgerTxnID, timeCol{&r.CreatedAt}); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
