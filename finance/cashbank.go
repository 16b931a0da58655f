/*
cashbank.go - Running cash/bank balances

PURPOSE:
  Applies signed deltas to cash/bank accounts. This is the ONLY code
  path allowed to change CashBankAccount.Balance, so the non-negativity
  invariant has exactly one enforcement point.

SIGN RULES:
  INCOME, TRANSFER_IN    +amount
  EXPENSE, TRANSFER_OUT  -amount

CRITICAL INVARIANTS:
  1. balance >= 0 at every committed state
  2. A failed delta performs no write
  3. Balance is mutated once per approved leg, never recomputed from
     history

SEE ALSO:
  - workflow.go: Approve calls ApplyDelta for every leg of a group
*/
package finance

import (
	"context"
	"fmt"
)

// SignedDelta returns the balance effect of a txn kind and amount.
func SignedDelta(kind TxnKind, amount Money) Money {
	switch kind {
	case TxnExpense, TxnTransferOut:
		return -amount
	default:
		return amount
	}
}

// CashBankLedger applies deltas under the enclosing transaction's row lock.
type CashBankLedger struct {
	Clock Clock
}

// ApplyDelta locks the account, checks it is active and that the result
// stays non-negative, then persists the new balance.
func (l CashBankLedger) ApplyDelta(ctx context.Context, s Store, accountID CashBankAccountID, kind TxnKind, amount Money) (Money, error) {
	if !kind.Valid() {
		return 0, invalid("kind", "unknown transaction kind %q", kind)
	}
	if amount <= 0 {
		return 0, invalid("amount", "must be positive")
	}

	acct, err := s.LockCashBankAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if !acct.Active {
		return 0, &AccountInactiveError{AccountID: accountID}
	}

	next := acct.Balance + SignedDelta(kind, amount)
	if next < 0 {
		return 0, &InsufficientBalanceError{
			AccountID: accountID,
			Balance:   acct.Balance,
			Requested: amount,
			Shortfall: -next,
		}
	}

	acct.Balance = next
	acct.UpdatedAt = l.Clock.Now()
	if err := s.UpdateCashBankAccount(ctx, acct); err != nil {
		return 0, fmt.Errorf("failed to persist balance for %s: %w", accountID, err)
	}
	return next, nil
}
