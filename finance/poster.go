package finance

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// LEDGER POSTER - Invoice cash movements into the operational ledger
// =============================================================================

// LedgerPoster creates the operational-ledger counterpart of invoice
// payments and refunds inside the caller's transaction. The counterpart
// is a PENDING txn: the cash/bank balance moves only when it passes the
// same maker-checker-approver workflow as any other movement.
type LedgerPoster struct {
	IncomeAccountCode string
	RefundAccountCode string
	Clock             Clock
	Locks             PeriodLockGuard
}

// PostPayment books an INCOME txn for the payment on its cash/bank account.
func (p LedgerPoster) PostPayment(ctx context.Context, s Store, payment Payment, invoice Invoice) (TxnID, error) {
	acct, err := p.postingAccount(ctx, s, p.IncomeAccountCode)
	if err != nil {
		return "", err
	}
	now := p.Clock.Now()
	txn := OperationalTxn{
		ID:                TxnID(newID()),
		Kind:              TxnIncome,
		Amount:            payment.Amount,
		TxnDate:           payment.PaidAt,
		FinanceAccountID:  acct.ID,
		CashBankAccountID: payment.CashBankAccountID,
		ApprovalStatus:    StatusPending,
		Description:       fmt.Sprintf("Payment %s for invoice %s (student %s)", payment.ID, invoice.ID, invoice.StudentID),
		SourceType:        SourceInvoicePayment,
		SourceID:          string(payment.ID),
		CreatedBy:         payment.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := createTxn(ctx, s, p.Locks, txn); err != nil {
		return "", err
	}
	return txn.ID, nil
}

// PostRefund books an EXPENSE txn for the refund on the cash/bank account
// the original payment landed in.
func (p LedgerPoster) PostRefund(ctx context.Context, s Store, payment Payment, refund Refund, invoice Invoice) (TxnID, error) {
	acct, err := p.postingAccount(ctx, s, p.RefundAccountCode)
	if err != nil {
		return "", err
	}
	now := p.Clock.Now()
	txn := OperationalTxn{
		ID:                TxnID(newID()),
		Kind:              TxnExpense,
		Amount:            refund.Amount,
		TxnDate:           refund.RefundedAt,
		FinanceAccountID:  acct.ID,
		CashBankAccountID: payment.CashBankAccountID,
		ApprovalStatus:    StatusPending,
		Description:       fmt.Sprintf("Refund %s of payment %s for invoice %s", refund.ID, payment.ID, invoice.ID),
		SourceType:        SourceInvoiceRefund,
		SourceID:          string(refund.ID),
		CreatedBy:         refund.ProcessedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := createTxn(ctx, s, p.Locks, txn); err != nil {
		return "", err
	}
	return txn.ID, nil
}

func (p LedgerPoster) postingAccount(ctx context.Context, s Store, code string) (FinanceAccount, error) {
	acct, err := s.GetFinanceAccountByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return FinanceAccount{}, invalid("finance_account", "posting account %q is not in the chart of accounts", code)
	}
	return acct, err
}
