package finance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// ROLE SEPARATION
// =============================================================================

func TestApprove_RequiresCheck(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 1000, finance.NewDate(2024, 6, 1))

	_, err := f.engine.Approve(f.ctx, approver, txn.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
	assert.Equal(t, finance.Money(10000), f.balanceOf(t, cash.ID))
}

func TestApprove_MakerCannotApprove(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 1000, finance.NewDate(2024, 6, 1))
	_, err := f.engine.Check(f.ctx, checker, txn.ID)
	require.NoError(t, err)

	_, err = f.engine.Approve(f.ctx, maker, txn.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
}

func TestCheck_Twice_Rejected(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 1000, finance.NewDate(2024, 6, 1))

	_, err := f.engine.Check(f.ctx, checker, txn.ID)
	require.NoError(t, err)
	_, err = f.engine.Check(f.ctx, "someone-else", txn.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
	assert.Equal(t, checker, f.txn(t, txn.ID).CheckedBy)
}

func TestReject_MakerCannotReject(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 1000, finance.NewDate(2024, 6, 1))

	_, err := f.engine.Reject(f.ctx, maker, txn.ID, "changed my mind")
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
}

func TestReject_RequiresReason(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 1000, finance.NewDate(2024, 6, 1))

	_, err := f.engine.Reject(f.ctx, checker, txn.ID, "  ")
	assert.ErrorIs(t, err, finance.ErrValidation)
}

func TestReject_CheckedTxn_IsTerminal(t *testing.T) {
	// GIVEN: A checked expense
	// WHEN: The approver rejects it
	// THEN: REJECTED with reason, no balance effect, further moves refused

	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 1000, finance.NewDate(2024, 6, 1))
	_, err := f.engine.Check(f.ctx, checker, txn.ID)
	require.NoError(t, err)

	out, err := f.engine.Reject(f.ctx, approver, txn.ID, "No receipt")
	require.NoError(t, err)
	assert.Equal(t, finance.StatusRejected, out[0].ApprovalStatus)
	assert.Equal(t, "No receipt", out[0].RejectionReason)
	assert.Equal(t, finance.Money(10000), f.balanceOf(t, cash.ID))

	_, err = f.engine.Approve(f.ctx, approver, txn.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
	_, err = f.engine.Reject(f.ctx, approver, txn.ID, "again")
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
}

func TestApprove_Approved_IsTerminal(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnIncome, cash.ID, 2500, finance.NewDate(2024, 6, 1))
	_, err := f.engine.Check(f.ctx, checker, txn.ID)
	require.NoError(t, err)
	_, err = f.engine.Approve(f.ctx, approver, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.Money(12500), f.balanceOf(t, cash.ID))

	// A second approval must not apply the delta twice.
	_, err = f.engine.Approve(f.ctx, "another", txn.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
	_, err = f.engine.Reject(f.ctx, checker, txn.ID, "too late")
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
	_, err = f.engine.Cancel(f.ctx, maker, txn.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
	assert.Equal(t, finance.Money(12500), f.balanceOf(t, cash.ID))
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_MakerOnly_BeforeCheck(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 1000, finance.NewDate(2024, 6, 1))

	_, err := f.engine.Cancel(f.ctx, checker, txn.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)

	out, err := f.engine.Cancel(f.ctx, maker, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.StatusCancelled, out[0].ApprovalStatus)
	assert.Equal(t, "cancelled", finance.TicketOf(out[0]).Stage())

	_, err = f.engine.Check(f.ctx, checker, txn.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
}

func TestCancel_AfterCheck_Rejected(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 1000, finance.NewDate(2024, 6, 1))
	_, err := f.engine.Check(f.ctx, checker, txn.ID)
	require.NoError(t, err)

	_, err = f.engine.Cancel(f.ctx, maker, txn.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
}

// =============================================================================
// BALANCES
// =============================================================================

func TestApprove_ExpenseToExactlyZero(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 7000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 7000, finance.NewDate(2024, 6, 1))
	_, err := f.engine.Check(f.ctx, checker, txn.ID)
	require.NoError(t, err)

	_, err = f.engine.Approve(f.ctx, approver, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.Money(0), f.balanceOf(t, cash.ID))
}

func TestApprove_InactiveAccount(t *testing.T) {
	// GIVEN: A checked expense whose account is then deactivated
	// WHEN: Approving
	// THEN: AccountInactive and nothing changes

	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 1000, finance.NewDate(2024, 6, 1))
	_, err := f.engine.Check(f.ctx, checker, txn.ID)
	require.NoError(t, err)

	acct, err := f.engine.DeactivateCashBankAccount(f.ctx, approver, cash.ID)
	require.NoError(t, err)
	assert.False(t, acct.Active)

	_, err = f.engine.Approve(f.ctx, approver, txn.ID)
	assert.ErrorIs(t, err, finance.ErrAccountInactive)
	assert.Equal(t, finance.Money(10000), f.balanceOf(t, cash.ID))
	assert.Equal(t, finance.StatusPending, f.txn(t, txn.ID).ApprovalStatus)

	_, err = f.engine.CreateTxn(f.ctx, maker, finance.CreateTxnInput{
		Kind:              finance.TxnIncome,
		Amount:            100,
		TxnDate:           finance.NewDate(2024, 6, 2),
		FinanceAccountID:  f.supplies.ID,
		CashBankAccountID: cash.ID,
	})
	assert.ErrorIs(t, err, finance.ErrAccountInactive)

	_, err = f.engine.DeactivateCashBankAccount(f.ctx, approver, cash.ID)
	assert.ErrorIs(t, err, finance.ErrInvalidStateTransition)
}

// =============================================================================
// TRANSFERS
// =============================================================================

func TestTransfer_InsufficientFunds_NeitherLegApplied(t *testing.T) {
	// GIVEN: Bank with 10000 and a checked 20000 transfer to petty cash
	// WHEN: Approving
	// THEN: Both balances and both legs are unchanged

	f := newFixture(t)
	bank := f.cashAccount(t, "BANK-01", 10000)
	petty := f.cashAccount(t, "CASH-02", 500)

	legs, err := f.engine.CreateTransfer(f.ctx, maker, finance.CreateTransferInput{
		FromAccountID:    bank.ID,
		ToAccountID:      petty.ID,
		FinanceAccountID: f.transfers.ID,
		Amount:           20000,
		TxnDate:          finance.NewDate(2024, 4, 1),
	})
	require.NoError(t, err)
	_, err = f.engine.Check(f.ctx, checker, legs[0].ID)
	require.NoError(t, err)

	_, err = f.engine.Approve(f.ctx, approver, legs[1].ID)
	require.ErrorIs(t, err, finance.ErrInsufficientBalance)

	assert.Equal(t, finance.Money(10000), f.balanceOf(t, bank.ID))
	assert.Equal(t, finance.Money(500), f.balanceOf(t, petty.ID))
	for _, l := range legs {
		after := f.txn(t, l.ID)
		assert.Equal(t, finance.StatusPending, after.ApprovalStatus)
		assert.Equal(t, checker, after.CheckedBy)
	}
}

func TestTransfer_RejectAndCancelMoveBothLegs(t *testing.T) {
	f := newFixture(t)
	bank := f.cashAccount(t, "BANK-01", 10000)
	petty := f.cashAccount(t, "CASH-02", 0)
	create := func() []finance.OperationalTxn {
		legs, err := f.engine.CreateTransfer(f.ctx, maker, finance.CreateTransferInput{
			FromAccountID:    bank.ID,
			ToAccountID:      petty.ID,
			FinanceAccountID: f.transfers.ID,
			Amount:           1000,
			TxnDate:          finance.NewDate(2024, 4, 1),
		})
		require.NoError(t, err)
		return legs
	}

	rejected := create()
	out, err := f.engine.Reject(f.ctx, checker, rejected[1].ID, "duplicate")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, finance.StatusRejected, f.txn(t, rejected[0].ID).ApprovalStatus)
	assert.Equal(t, finance.StatusRejected, f.txn(t, rejected[1].ID).ApprovalStatus)

	cancelled := create()
	_, err = f.engine.Cancel(f.ctx, maker, cancelled[0].ID)
	require.NoError(t, err)
	assert.Equal(t, finance.StatusCancelled, f.txn(t, cancelled[1].ID).ApprovalStatus)
}

func TestTransfer_Validation(t *testing.T) {
	f := newFixture(t)
	bank := f.cashAccount(t, "BANK-01", 10000)

	_, err := f.engine.CreateTransfer(f.ctx, maker, finance.CreateTransferInput{
		FromAccountID:    bank.ID,
		ToAccountID:      bank.ID,
		FinanceAccountID: f.transfers.ID,
		Amount:           1000,
		TxnDate:          finance.NewDate(2024, 4, 1),
	})
	assert.ErrorIs(t, err, finance.ErrValidation)

	_, err = f.engine.CreateTxn(f.ctx, maker, finance.CreateTxnInput{
		Kind:              finance.TxnTransferOut,
		Amount:            1000,
		TxnDate:           finance.NewDate(2024, 4, 1),
		FinanceAccountID:  f.transfers.ID,
		CashBankAccountID: bank.ID,
	})
	assert.ErrorIs(t, err, finance.ErrValidation)
}

// =============================================================================
// VALIDATION AND AUDIT
// =============================================================================

func TestCreateTxn_Validation(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	valid := finance.CreateTxnInput{
		Kind:              finance.TxnExpense,
		Amount:            1000,
		TxnDate:           finance.NewDate(2024, 6, 1),
		FinanceAccountID:  f.supplies.ID,
		CashBankAccountID: cash.ID,
	}

	tests := []struct {
		name   string
		mutate func(*finance.CreateTxnInput)
		want   error
	}{
		{"zero amount", func(in *finance.CreateTxnInput) { in.Amount = 0 }, finance.ErrValidation},
		{"negative amount", func(in *finance.CreateTxnInput) { in.Amount = -5 }, finance.ErrValidation},
		{"missing date", func(in *finance.CreateTxnInput) { in.TxnDate = finance.Date{} }, finance.ErrValidation},
		{"unknown kind", func(in *finance.CreateTxnInput) { in.Kind = "LOAN" }, finance.ErrValidation},
		{"unknown cash account", func(in *finance.CreateTxnInput) { in.CashBankAccountID = "missing" }, finance.ErrNotFound},
		{"unknown finance account", func(in *finance.CreateTxnInput) { in.FinanceAccountID = "missing" }, finance.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := f.engine.CreateTxn(f.ctx, maker, in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.engine.CreateTxn(f.ctx, "", valid)
	assert.ErrorIs(t, err, finance.ErrValidation)

	txns, err := f.engine.ListTxns(f.ctx, finance.TxnFilter{})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestApproval_AuditTrail(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 1000, finance.NewDate(2024, 6, 1))
	_, err := f.engine.Check(f.ctx, checker, txn.ID)
	require.NoError(t, err)
	_, err = f.engine.Approve(f.ctx, approver, txn.ID)
	require.NoError(t, err)

	events, err := f.engine.ListAuditEvents(f.ctx, finance.AuditFilter{Entity: finance.EntityOperationalTxn, EntityID: string(txn.ID)})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, finance.AuditTxnCreated, events[0].Type)
	assert.Equal(t, maker, events[0].Actor)
	assert.Equal(t, finance.AuditTxnChecked, events[1].Type)
	assert.Equal(t, checker, events[1].Actor)
	assert.Equal(t, finance.AuditTxnApproved, events[2].Type)
	assert.Equal(t, approver, events[2].Actor)
	assert.Less(t, events[0].Seq, events[1].Seq)
	assert.Less(t, events[1].Seq, events[2].Seq)

	balances, ok := events[2].Metadata["balances"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(9000), balances[string(cash.ID)])
}

func TestListTxns_Filters(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	f.createTxn(t, finance.TxnExpense, cash.ID, 1000, finance.NewDate(2024, 6, 1))
	inc := f.createTxn(t, finance.TxnIncome, cash.ID, 2000, finance.NewDate(2024, 7, 1))

	kind := finance.TxnIncome
	got, err := f.engine.ListTxns(f.ctx, finance.TxnFilter{Kind: &kind})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inc.ID, got[0].ID)

	from := finance.NewDate(2024, 6, 2)
	got, err = f.engine.ListTxns(f.ctx, finance.TxnFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inc.ID, got[0].ID)

	status := finance.StatusPending
	got, err = f.engine.ListTxns(f.ctx, finance.TxnFilter{Status: &status, CashBankAccountID: &cash.ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
