package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// OPERATIONAL TRANSACTIONS
// =============================================================================

const txnCols = `id, kind, amount, txn_date, finance_account_id, cash_bank_account_id, transfer_pair_id,
	approval_status, description, source_type, source_id,
	created_by, created_at, checked_by, checked_at, approved_by, approved_at,
	rejected_by, rejected_at, rejection_reason, cancelled_by, cancelled_at, updated_at`

func scanTxn(sc scanner) (finance.OperationalTxn, error) {
	var (
		t    finance.OperationalTxn
		pair sql.NullString
	)
	err := sc.Scan(&t.ID, &t.Kind, &t.Amount, dateCol{&t.TxnDate}, &t.FinanceAccountID, &t.CashBankAccountID, &pair,
		&t.ApprovalStatus, &t.Description, &t.SourceType, &t.SourceID,
		&t.CreatedBy, timeCol{&t.CreatedAt}, &t.CheckedBy, nullTimeCol{&t.CheckedAt}, &t.ApprovedBy, nullTimeCol{&t.ApprovedAt},
		&t.RejectedBy, nullTimeCol{&t.RejectedAt}, &t.RejectionReason, &t.CancelledBy, nullTimeCol{&t.CancelledAt},
		timeCol{&t.UpdatedAt})
	if err != nil {
		return finance.OperationalTxn{}, err
	}
	t.TransferPairID = nullID[finance.TransferPairID](pair)
	return t, nil
}

func (x *queries) CreateTxn(ctx context.Context, t finance.OperationalTxn) error {
	return x.exec(ctx, `
		INSERT INTO operational_txns (`+txnCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.ID), string(t.Kind), int64(t.Amount), dateArg(t.TxnDate), string(t.FinanceAccountID),
		string(t.CashBankAccountID), nullStringArg(t.TransferPairID),
		string(t.ApprovalStatus), t.Description, string(t.SourceType), t.SourceID,
		t.CreatedBy, timeArg(t.CreatedAt), t.CheckedBy, nullTimeArg(t.CheckedAt), t.ApprovedBy, nullTimeArg(t.ApprovedAt),
		t.RejectedBy, nullTimeArg(t.RejectedAt), t.RejectionReason, t.CancelledBy, nullTimeArg(t.CancelledAt),
		timeArg(t.UpdatedAt))
}

func (x *queries) GetTxn(ctx context.Context, id finance.TxnID) (finance.OperationalTxn, error) {
	return x.loadTxn(ctx, id, "")
}

func (x *queries) LockTxn(ctx context.Context, id finance.TxnID) (finance.OperationalTxn, error) {
	return x.loadTxn(ctx, id, x.forUpdate())
}

func (x *queries) loadTxn(ctx context.Context, id finance.TxnID, lock string) (finance.OperationalTxn, error) {
	t, err := scanTxn(x.row(ctx, `SELECT `+txnCols+` FROM operational_txns WHERE id = ?`+lock, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return finance.OperationalTxn{}, finance.NotFound("operational_txn", id)
	}
	if err != nil {
		return finance.OperationalTxn{}, fmt.Errorf("failed to load transaction: %w", err)
	}
	return t, nil
}

func (x *queries) UpdateTxn(ctx context.Context, t finance.OperationalTxn) error {
	return x.execOne(ctx, finance.NotFound("operational_txn", t.ID), `
		UPDATE operational_txns
		SET approval_status = ?, checked_by = ?, checked_at = ?, approved_by = ?, approved_at = ?,
		    rejected_by = ?, rejected_at = ?, rejection_reason = ?, cancelled_by = ?, cancelled_at = ?,
		    updated_at = ?
		WHERE id = ?`,
		string(t.ApprovalStatus), t.CheckedBy, nullTimeArg(t.CheckedAt), t.ApprovedBy, nullTimeArg(t.ApprovedAt),
		t.RejectedBy, nullTimeArg(t.RejectedAt), t.RejectionReason, t.CancelledBy, nullTimeArg(t.CancelledAt),
		timeArg(t.UpdatedAt), string(t.ID))
}

func (x *queries) ListTxns(ctx context.Context, f finance.TxnFilter) ([]finance.OperationalTxn, error) {
	var w where
	if f.From != nil {
		w.add("txn_date >= ?", dateArg(*f.From))
	}
	if f.To != nil {
		w.add("txn_date <= ?", dateArg(*f.To))
	}
	if f.CashBankAccountID != nil {
		w.add("cash_bank_account_id = ?", string(*f.CashBankAccountID))
	}
	if f.FinanceAccountID != nil {
		w.add("finance_account_id = ?", string(*f.FinanceAccountID))
	}
	if f.Status != nil {
		w.add("approval_status = ?", string(*f.Status))
	}
	if f.Kind != nil {
		w.add("kind = ?", string(*f.Kind))
	}
	if f.TransferPairID != nil {
		w.add("transfer_pair_id = ?", string(*f.TransferPairID))
	}

	rows, err := x.query(ctx, `SELECT `+txnCols+` FROM operational_txns`+w.String()+
		` ORDER BY txn_date, created_at, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []finance.OperationalTxn
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
