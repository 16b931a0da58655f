package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/finance"
)

// These run the engine end to end against SQLite so the unit of work is
// exercised through real transactions rather than the memory snapshot.

func newEngine(t *testing.T) (*finance.Engine, finance.FinanceAccount) {
	t.Helper()
	s := newTestStore(t)
	e := finance.NewEngine(s, finance.WithClock(finance.FixedClock(now)))
	ctx := context.Background()
	for _, code := range []string{finance.DefaultIncomeAccountCode, finance.DefaultRefundAccountCode} {
		_, err := e.CreateFinanceAccount(ctx, "bursar", finance.CreateFinanceAccountInput{Code: code, Name: code, Type: finance.AccountIncome})
		require.NoError(t, err)
	}
	transfers, err := e.CreateFinanceAccount(ctx, "bursar", finance.CreateFinanceAccountInput{Code: "1900", Name: "Transfers", Type: finance.AccountAsset})
	require.NoError(t, err)
	return e, transfers
}

func TestEngine_TransferAndRollback(t *testing.T) {
	ctx := context.Background()
	e, transfers := newEngine(t)

	bank, err := e.CreateCashBankAccount(ctx, "bursar", finance.CreateCashBankInput{Code: "BANK-01", Type: finance.BankAccount, OpeningBalance: 100000})
	require.NoError(t, err)
	petty, err := e.CreateCashBankAccount(ctx, "bursar", finance.CreateCashBankInput{Code: "CASH-02", Type: finance.CashAccount})
	require.NoError(t, err)

	transfer := func(amount finance.Money) []finance.OperationalTxn {
		legs, err := e.CreateTransfer(ctx, "bursar", finance.CreateTransferInput{
			FromAccountID: bank.ID, ToAccountID: petty.ID, FinanceAccountID: transfers.ID,
			Amount: amount, TxnDate: finance.NewDate(2024, 4, 1),
		})
		require.NoError(t, err)
		_, err = e.Check(ctx, "accountant", legs[1].ID)
		require.NoError(t, err)
		return legs
	}

	ok := transfer(20000)
	_, err = e.Approve(ctx, "principal", ok[0].ID)
	require.NoError(t, err)

	tooBig := transfer(90000)
	_, err = e.Approve(ctx, "principal", tooBig[0].ID)
	require.ErrorIs(t, err, finance.ErrInsufficientBalance)

	b, err := e.GetCashBankAccount(ctx, bank.ID)
	require.NoError(t, err)
	p, err := e.GetCashBankAccount(ctx, petty.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.Money(80000), b.Balance)
	assert.Equal(t, finance.Money(20000), p.Balance)

	group, err := e.GetTxnGroup(ctx, tooBig[1].ID)
	require.NoError(t, err)
	require.Len(t, group, 2)
	assert.Equal(t, finance.TxnTransferOut, group[0].Kind)
	for _, l := range group {
		assert.Equal(t, finance.StatusPending, l.ApprovalStatus)
		assert.Equal(t, "accountant", l.CheckedBy)
	}

	approved, err := e.ListAuditEvents(ctx, finance.AuditFilter{Types: []finance.AuditEventType{finance.AuditTxnApproved}})
	require.NoError(t, err)
	assert.Len(t, approved, 1)
}

func TestEngine_InvoiceLifecycle(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	cash, err := e.CreateCashBankAccount(ctx, "bursar", finance.CreateCashBankInput{Code: "CASH-01", Type: finance.CashAccount})
	require.NoError(t, err)
	view, err := e.CreateInvoice(ctx, "bursar", finance.CreateInvoiceInput{
		StudentID: "STU-1", AcademicYearID: "2024-2025", DueDate: finance.NewDate(2024, 9, 30),
		Items: []finance.InvoiceItemInput{{Name: "Tuition", Amount: 80000}, {Name: "Books", Amount: 20000}},
	})
	require.NoError(t, err)
	id := view.Invoice.ID

	_, err = e.AddDiscount(ctx, "bursar", id, finance.DiscountInput{Amount: 10000, Reason: "Sibling"})
	require.NoError(t, err)
	view, err = e.RecordPayment(ctx, "bursar", id, finance.RecordPaymentInput{
		Amount: 90000, Method: finance.MethodCash, PaidAt: finance.NewDate(2024, 9, 2), CashBankAccountID: cash.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, finance.InvoicePaid, view.Balance.Status)

	view, err = e.RecordRefund(ctx, "bursar", id, view.Payments[0].ID, finance.RecordRefundInput{
		Amount: 30000, Reason: "Books returned", RefundedAt: finance.NewDate(2024, 9, 10),
	})
	require.NoError(t, err)

	got, err := e.GetInvoice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, finance.InvoicePartial, got.Invoice.Status)
	assert.Equal(t, finance.Money(30000), got.Balance.Balance)
	assert.Len(t, got.Payments, 1)
	assert.Len(t, got.Refunds, 1)

	pending := finance.StatusPending
	txns, err := e.ListTxns(ctx, finance.TxnFilter{Status: &pending, CashBankAccountID: &cash.ID})
	require.NoError(t, err)
	assert.Len(t, txns, 2)

	// A locked payment date rolls back the whole unit of work.
	_, err = e.CreatePeriodLock(ctx, "principal", finance.CreateLockInput{
		StartDate: finance.NewDate(2024, 9, 1), EndDate: finance.NewDate(2024, 9, 30), Reason: "September closed",
	})
	require.NoError(t, err)
	_, err = e.RecordRefund(ctx, "bursar", id, got.Payments[0].ID, finance.RecordRefundInput{
		Amount: 100, Reason: "late", RefundedAt: finance.NewDate(2024, 9, 20),
	})
	require.ErrorIs(t, err, finance.ErrPeriodLocked)

	got, err = e.GetInvoice(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Refunds, 1)
}
