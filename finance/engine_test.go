package finance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/finance"
	"github.com/warp/finance-ledger/finance/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	maker    = "bursar"
	checker  = "accountant"
	approver = "principal"
)

type fixture struct {
	ctx    context.Context
	engine *finance.Engine
	store  *store.TxMemory

	income    finance.FinanceAccount
	refunds   finance.FinanceAccount
	supplies  finance.FinanceAccount
	transfers finance.FinanceAccount
}

// newFixture builds an engine over the memory store with the posting
// accounts in place.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newBareFixture(t)
	f.income = f.financeAccount(t, finance.DefaultIncomeAccountCode, "Tuition Income", finance.AccountIncome)
	f.refunds = f.financeAccount(t, finance.DefaultRefundAccountCode, "Tuition Refunds", finance.AccountIncome)
	f.supplies = f.financeAccount(t, "5100", "School Supplies", finance.AccountExpense)
	f.transfers = f.financeAccount(t, "1900", "Internal Transfers", finance.AccountAsset)
	return f
}

// newBareFixture has an empty chart of accounts.
func newBareFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewTxMemory()
	clock := finance.FixedClock(time.Date(2024, time.September, 1, 9, 0, 0, 0, time.UTC))
	return &fixture{
		ctx:    context.Background(),
		engine: finance.NewEngine(mem, finance.WithClock(clock)),
		store:  mem,
	}
}

func (f *fixture) financeAccount(t *testing.T, code, name string, typ finance.FinanceAccountType) finance.FinanceAccount {
	t.Helper()
	a, err := f.engine.CreateFinanceAccount(f.ctx, maker, finance.CreateFinanceAccountInput{Code: code, Name: name, Type: typ})
	require.NoError(t, err)
	return a
}

func (f *fixture) cashAccount(t *testing.T, code string, opening finance.Money) finance.CashBankAccount {
	t.Helper()
	a, err := f.engine.CreateCashBankAccount(f.ctx, maker, finance.CreateCashBankInput{
		Code:           code,
		Name:           code,
		Type:           finance.CashAccount,
		OpeningBalance: opening,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) balanceOf(t *testing.T, id finance.CashBankAccountID) finance.Money {
	t.Helper()
	a, err := f.engine.GetCashBankAccount(f.ctx, id)
	require.NoError(t, err)
	return a.Balance
}

func (f *fixture) createTxn(t *testing.T, kind finance.TxnKind, acct finance.CashBankAccountID, amount finance.Money, date finance.Date) finance.OperationalTxn {
	t.Helper()
	txn, err := f.engine.CreateTxn(f.ctx, maker, finance.CreateTxnInput{
		Kind:              kind,
		Amount:            amount,
		TxnDate:           date,
		FinanceAccountID:  f.supplies.ID,
		CashBankAccountID: acct,
		Description:       "test",
	})
	require.NoError(t, err)
	return txn
}

func (f *fixture) txn(t *testing.T, id finance.TxnID) finance.OperationalTxn {
	t.Helper()
	legs, err := f.engine.GetTxnGroup(f.ctx, id)
	require.NoError(t, err)
	for _, l := range legs {
		if l.ID == id {
			return l
		}
	}
	t.Fatalf("txn %s not in its own group", id)
	return finance.OperationalTxn{}
}

func (f *fixture) auditTypes(t *testing.T, filter finance.AuditFilter) []finance.AuditEventType {
	t.Helper()
	events, err := f.engine.ListAuditEvents(f.ctx, filter)
	require.NoError(t, err)
	types := make([]finance.AuditEventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func (f *fixture) lockPeriod(t *testing.T, start, end finance.Date) finance.PeriodLock {
	t.Helper()
	lock, err := f.engine.CreatePeriodLock(f.ctx, approver, finance.CreateLockInput{StartDate: start, EndDate: end, Reason: "closed"})
	require.NoError(t, err)
	return lock
}

func (f *fixture) invoice(t *testing.T, amounts ...finance.Money) finance.InvoiceView {
	t.Helper()
	in := finance.CreateInvoiceInput{
		StudentID:      "STU-0001",
		AcademicYearID: "2024-2025",
		DueDate:        finance.NewDate(2024, 9, 30),
	}
	for _, a := range amounts {
		in.Items = append(in.Items, finance.InvoiceItemInput{Name: "Tuition", Amount: a})
	}
	view, err := f.engine.CreateInvoice(f.ctx, maker, in)
	require.NoError(t, err)
	return view
}

func (f *fixture) pay(t *testing.T, id finance.InvoiceID, acct finance.CashBankAccountID, amount finance.Money) finance.InvoiceView {
	t.Helper()
	view, err := f.engine.RecordPayment(f.ctx, maker, id, finance.RecordPaymentInput{
		Amount:            amount,
		Method:            finance.MethodCash,
		PaidAt:            finance.NewDate(2024, 9, 2),
		CashBankAccountID: acct,
	})
	require.NoError(t, err)
	return view
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestScenario_InvoiceLifecycle(t *testing.T) {
	// GIVEN: Invoice of 80000 + 20000 with a 10000 discount
	// WHEN: 90000 is paid, then 30000 refunded
	// THEN: OPEN(90000) -> PAID(0) -> PARTIAL(30000)

	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 0)

	view := f.invoice(t, 80000, 20000)
	id := view.Invoice.ID
	assert.Equal(t, finance.Money(100000), view.Invoice.Total)
	assert.Equal(t, finance.InvoiceOpen, view.Balance.Status)

	view, err := f.engine.AddDiscount(f.ctx, maker, id, finance.DiscountInput{Amount: 10000, Reason: "Sibling"})
	require.NoError(t, err)
	assert.Equal(t, finance.InvoiceOpen, view.Balance.Status)
	assert.Equal(t, finance.Money(90000), view.Balance.Balance)

	view = f.pay(t, id, cash.ID, 90000)
	assert.Equal(t, finance.InvoicePaid, view.Balance.Status)
	assert.Equal(t, finance.Money(0), view.Balance.Balance)
	require.Len(t, view.Payments, 1)

	view, err = f.engine.RecordRefund(f.ctx, maker, id, view.Payments[0].ID, finance.RecordRefundInput{
		Amount:     30000,
		Reason:     "Books returned",
		RefundedAt: finance.NewDate(2024, 9, 10),
	})
	require.NoError(t, err)
	assert.Equal(t, finance.InvoicePartial, view.Balance.Status)
	assert.Equal(t, finance.Money(30000), view.Balance.Balance)

	stored, err := f.engine.GetInvoice(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, finance.InvoicePartial, stored.Invoice.Status)
	assert.Equal(t, view.Balance, stored.Balance)

	assert.Equal(t, []finance.AuditEventType{
		finance.AuditInvoiceCreated,
		finance.AuditDiscountAdded,
		finance.AuditPaymentRecorded,
		finance.AuditRefundRecorded,
	}, f.auditTypes(t, finance.AuditFilter{Entity: finance.EntityInvoice, EntityID: string(id)}))
}

func TestScenario_InsufficientFunds(t *testing.T) {
	// GIVEN: Cash account with 50000 and a checked 60000 expense
	// WHEN: Approving
	// THEN: InsufficientBalance, balance and txn unchanged, no approval audit

	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 50000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 60000, finance.NewDate(2024, 3, 4))

	_, err := f.engine.Check(f.ctx, checker, txn.ID)
	require.NoError(t, err)

	_, err = f.engine.Approve(f.ctx, approver, txn.ID)
	require.ErrorIs(t, err, finance.ErrInsufficientBalance)

	var ib *finance.InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	assert.Equal(t, cash.ID, ib.AccountID)
	assert.Equal(t, finance.Money(50000), ib.Balance)
	assert.Equal(t, finance.Money(60000), ib.Requested)
	assert.Equal(t, finance.Money(10000), ib.Shortfall)

	assert.Equal(t, finance.Money(50000), f.balanceOf(t, cash.ID))
	after := f.txn(t, txn.ID)
	assert.Equal(t, finance.StatusPending, after.ApprovalStatus)
	assert.Equal(t, checker, after.CheckedBy)
	assert.Empty(t, f.auditTypes(t, finance.AuditFilter{Types: []finance.AuditEventType{finance.AuditTxnApproved}}))
}

func TestScenario_TransferPair(t *testing.T) {
	// GIVEN: Main Bank 100000, Petty Cash 0
	// WHEN: A 20000 transfer is created, checked and approved
	// THEN: Bank 80000, Petty 20000, both legs APPROVED

	f := newFixture(t)
	bank := f.cashAccount(t, "BANK-01", 100000)
	petty := f.cashAccount(t, "CASH-02", 0)

	legs, err := f.engine.CreateTransfer(f.ctx, maker, finance.CreateTransferInput{
		FromAccountID:    bank.ID,
		ToAccountID:      petty.ID,
		FinanceAccountID: f.transfers.ID,
		Amount:           20000,
		TxnDate:          finance.NewDate(2024, 4, 1),
		Description:      "Petty cash top-up",
	})
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, finance.TxnTransferOut, legs[0].Kind)
	assert.Equal(t, finance.TxnTransferIn, legs[1].Kind)
	require.NotNil(t, legs[0].TransferPairID)
	assert.Equal(t, *legs[0].TransferPairID, *legs[1].TransferPairID)

	// Acting on either leg moves both.
	checked, err := f.engine.Check(f.ctx, checker, legs[1].ID)
	require.NoError(t, err)
	require.Len(t, checked, 2)

	approved, err := f.engine.Approve(f.ctx, approver, legs[0].ID)
	require.NoError(t, err)
	for _, l := range approved {
		assert.Equal(t, finance.StatusApproved, l.ApprovalStatus)
		assert.Equal(t, approver, l.ApprovedBy)
	}

	assert.Equal(t, finance.Money(80000), f.balanceOf(t, bank.ID))
	assert.Equal(t, finance.Money(20000), f.balanceOf(t, petty.ID))
	assert.Equal(t, finance.StatusApproved, f.txn(t, legs[1].ID).ApprovalStatus)
}

func TestScenario_PeriodLock(t *testing.T) {
	// GIVEN: January txn created, then January locked
	// WHEN: Checking the January txn and a February txn
	// THEN: January fails with PeriodLocked carrying the range; February passes

	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 100000)
	jan := f.createTxn(t, finance.TxnExpense, cash.ID, 5000, finance.NewDate(2024, 1, 15))
	feb := f.createTxn(t, finance.TxnExpense, cash.ID, 5000, finance.NewDate(2024, 2, 1))

	lock := f.lockPeriod(t, finance.NewDate(2024, 1, 1), finance.NewDate(2024, 1, 31))

	_, err := f.engine.Check(f.ctx, checker, jan.ID)
	require.ErrorIs(t, err, finance.ErrPeriodLocked)
	var locked *finance.PeriodLockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, lock.ID, locked.LockID)
	assert.Equal(t, "2024-01-01", locked.Start.String())
	assert.Equal(t, "2024-01-31", locked.End.String())
	assert.Equal(t, "closed", locked.Reason)
	assert.Empty(t, f.txn(t, jan.ID).CheckedBy)

	_, err = f.engine.Check(f.ctx, checker, feb.ID)
	require.NoError(t, err)
}

func TestScenario_MakerCheckerApprover(t *testing.T) {
	// GIVEN: U1 creates a 15000 expense
	// WHEN: U1 checks, U2 checks, U2 approves, U3 approves
	// THEN: Only U2 check and U3 approve succeed

	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 100000)
	txn, err := f.engine.CreateTxn(f.ctx, "U1", finance.CreateTxnInput{
		Kind:              finance.TxnExpense,
		Amount:            15000,
		TxnDate:           finance.NewDate(2024, 5, 6),
		FinanceAccountID:  f.supplies.ID,
		CashBankAccountID: cash.ID,
	})
	require.NoError(t, err)

	_, err = f.engine.Check(f.ctx, "U1", txn.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)

	_, err = f.engine.Check(f.ctx, "U2", txn.ID)
	require.NoError(t, err)

	_, err = f.engine.Approve(f.ctx, "U2", txn.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)

	out, err := f.engine.Approve(f.ctx, "U3", txn.ID)
	require.NoError(t, err)
	require.Len(t, out, 1)

	ticket, ok := finance.TicketOf(out[0]).(finance.Approved)
	require.True(t, ok)
	assert.Equal(t, "U2", ticket.CheckedBy)
	assert.Equal(t, "U3", ticket.By)
	assert.Equal(t, finance.Money(85000), f.balanceOf(t, cash.ID))
}
