package finance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/finance"
)

func TestPeriodLock_InclusiveBoundaries(t *testing.T) {
	// GIVEN: January 2024 locked
	// WHEN: Creating txns on Dec 31, Jan 1, Jan 31 and Feb 1
	// THEN: Only the January dates are refused

	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	f.lockPeriod(t, finance.NewDate(2024, 1, 1), finance.NewDate(2024, 1, 31))

	tests := []struct {
		date   finance.Date
		locked bool
	}{
		{finance.NewDate(2023, 12, 31), false},
		{finance.NewDate(2024, 1, 1), true},
		{finance.NewDate(2024, 1, 31), true},
		{finance.NewDate(2024, 2, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.date.String(), func(t *testing.T) {
			_, err := f.engine.CreateTxn(f.ctx, maker, finance.CreateTxnInput{
				Kind:              finance.TxnIncome,
				Amount:            100,
				TxnDate:           tt.date,
				FinanceAccountID:  f.supplies.ID,
				CashBankAccountID: cash.ID,
			})
			if tt.locked {
				assert.ErrorIs(t, err, finance.ErrPeriodLocked)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPeriodLock_Overlap_Rejected(t *testing.T) {
	f := newFixture(t)
	f.lockPeriod(t, finance.NewDate(2024, 1, 1), finance.NewDate(2024, 1, 31))

	_, err := f.engine.CreatePeriodLock(f.ctx, approver, finance.CreateLockInput{
		StartDate: finance.NewDate(2024, 1, 31),
		EndDate:   finance.NewDate(2024, 2, 10),
		Reason:    "overlaps one day",
	})
	assert.ErrorIs(t, err, finance.ErrOverlappingLock)
	assert.ErrorIs(t, err, finance.ErrValidation)

	_, err = f.engine.CreatePeriodLock(f.ctx, approver, finance.CreateLockInput{
		StartDate: finance.NewDate(2024, 2, 1),
		EndDate:   finance.NewDate(2024, 2, 29),
		Reason:    "February",
	})
	require.NoError(t, err)

	locks, err := f.engine.ListPeriodLocks(f.ctx)
	require.NoError(t, err)
	require.Len(t, locks, 2)
	assert.Equal(t, "2024-01-01", locks[0].StartDate.String())
	assert.Equal(t, "2024-02-01", locks[1].StartDate.String())
}

func TestPeriodLock_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   finance.CreateLockInput
	}{
		{"end before start", finance.CreateLockInput{StartDate: finance.NewDate(2024, 2, 1), EndDate: finance.NewDate(2024, 1, 1), Reason: "x"}},
		{"missing start", finance.CreateLockInput{EndDate: finance.NewDate(2024, 1, 1), Reason: "x"}},
		{"missing reason", finance.CreateLockInput{StartDate: finance.NewDate(2024, 1, 1), EndDate: finance.NewDate(2024, 1, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreatePeriodLock(f.ctx, approver, tt.in)
			assert.ErrorIs(t, err, finance.ErrValidation)
		})
	}

	// A single-day lock is valid.
	f.lockPeriod(t, finance.NewDate(2024, 3, 15), finance.NewDate(2024, 3, 15))
}

func TestPeriodLock_BlocksApproveAndReject(t *testing.T) {
	// GIVEN: A checked txn whose month is locked afterwards
	// WHEN: Approving or rejecting
	// THEN: Both refused; removing the lock lets approval through

	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 3000, finance.NewDate(2024, 3, 10))
	_, err := f.engine.Check(f.ctx, checker, txn.ID)
	require.NoError(t, err)

	lock := f.lockPeriod(t, finance.NewDate(2024, 3, 1), finance.NewDate(2024, 3, 31))

	_, err = f.engine.Approve(f.ctx, approver, txn.ID)
	assert.ErrorIs(t, err, finance.ErrPeriodLocked)
	_, err = f.engine.Reject(f.ctx, approver, txn.ID, "late")
	assert.ErrorIs(t, err, finance.ErrPeriodLocked)
	assert.Equal(t, finance.Money(10000), f.balanceOf(t, cash.ID))

	removed, err := f.engine.RemovePeriodLock(f.ctx, approver, lock.ID)
	require.NoError(t, err)
	assert.Equal(t, lock.ID, removed.ID)

	_, err = f.engine.Approve(f.ctx, approver, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.Money(7000), f.balanceOf(t, cash.ID))

	_, err = f.engine.RemovePeriodLock(f.ctx, approver, lock.ID)
	assert.ErrorIs(t, err, finance.ErrNotFound)

	assert.Equal(t, []finance.AuditEventType{finance.AuditLockCreated, finance.AuditLockRemoved},
		f.auditTypes(t, finance.AuditFilter{Entity: finance.EntityPeriodLock}))
}

func TestPeriodLock_CancelNotBlocked(t *testing.T) {
	f := newFixture(t)
	cash := f.cashAccount(t, "CASH-01", 10000)
	txn := f.createTxn(t, finance.TxnExpense, cash.ID, 3000, finance.NewDate(2024, 3, 10))
	f.lockPeriod(t, finance.NewDate(2024, 3, 1), finance.NewDate(2024, 3, 31))

	_, err := f.engine.Cancel(f.ctx, maker, txn.ID)
	assert.NoError(t, err)
}

func TestAccounts_DuplicateCode(t *testing.T) {
	f := newFixture(t)
	f.cashAccount(t, "CASH-01", 0)

	_, err := f.engine.CreateCashBankAccount(f.ctx, maker, finance.CreateCashBankInput{Code: "CASH-01", Type: finance.CashAccount})
	assert.ErrorIs(t, err, finance.ErrDuplicate)

	_, err = f.engine.CreateFinanceAccount(f.ctx, maker, finance.CreateFinanceAccountInput{Code: "4100", Name: "Again", Type: finance.AccountIncome})
	assert.ErrorIs(t, err, finance.ErrDuplicate)

	_, err = f.engine.CreateCashBankAccount(f.ctx, maker, finance.CreateCashBankInput{Code: "CASH-09", Type: finance.CashAccount, OpeningBalance: -1})
	assert.ErrorIs(t, err, finance.ErrValidation)

	missing := finance.FinanceAccountID("missing")
	_, err = f.engine.CreateFinanceAccount(f.ctx, maker, finance.CreateFinanceAccountInput{Code: "4101", Name: "Child", Type: finance.AccountIncome, ParentID: &missing})
	assert.ErrorIs(t, err, finance.ErrValidation)

	child, err := f.engine.CreateFinanceAccount(f.ctx, maker, finance.CreateFinanceAccountInput{Code: "4101", Name: "Child", Type: finance.AccountIncome, ParentID: &f.income.ID})
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, f.income.ID, *child.ParentID)
}
