package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// CASH/BANK ACCOUNTS
// =============================================================================

const cashBankCols = `id, code, name, type, opening_balance, balance, active, created_by, created_at, updated_at`

func scanCashBank(sc scanner) (finance.CashBankAccount, error) {
	var a finance.CashBankAccount
	err := sc.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.OpeningBalance, &a.Balance, &a.Active,
		&a.CreatedBy, timeCol{&a.CreatedAt}, timeCol{&a.UpdatedAt})
	return a, err
}

func (x *queries) CreateCashBankAccount(ctx context.Context, a finance.CashBankAccount) error {
	return x.exec(ctx, `
		INSERT INTO cash_bank_accounts (`+cashBankCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), a.Code, a.Name, string(a.Type), int64(a.OpeningBalance), int64(a.Balance), a.Active,
		a.CreatedBy, timeArg(a.CreatedAt), timeArg(a.UpdatedAt))
}

func (x *queries) GetCashBankAccount(ctx context.Context, id finance.CashBankAccountID) (finance.CashBankAccount, error) {
	return x.loadCashBank(ctx, id, "")
}

func (x *queries) LockCashBankAccount(ctx context.Context, id finance.CashBankAccountID) (finance.CashBankAccount, error) {
	return x.loadCashBank(ctx, id, x.forUpdate())
}

func (x *queries) loadCashBank(ctx context.Context, id finance.CashBankAccountID, lock string) (finance.CashBankAccount, error) {
	a, err := scanCashBank(x.row(ctx, `SELECT `+cashBankCols+` FROM cash_bank_accounts WHERE id = ?`+lock, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return finance.CashBankAccount{}, finance.NotFound("cash_bank_account", id)
	}
	if err != nil {
		return finance.CashBankAccount{}, fmt.Errorf("failed to load cash/bank account: %w", err)
	}
	return a, nil
}

func (x *queries) UpdateCashBankAccount(ctx context.Context, a finance.CashBankAccount) error {
	return x.execOne(ctx, finance.NotFound("cash_bank_account", a.ID), `
		UPDATE cash_bank_accounts SET balance = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		int64(a.Balance), a.Active, timeArg(a.UpdatedAt), string(a.ID))
}

func (x *queries) ListCashBankAccounts(ctx context.Context) ([]finance.CashBankAccount, error) {
	rows, err := x.query(ctx, `SELECT `+cashBankCols+` FROM cash_bank_accounts ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash/bank accounts: %w", err)
	}
	defer rows.Close()

	var out []finance.CashBankAccount
	for rows.Next() {
		a, err := scanCashBank(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

const financeAccountCols = `id, code, name, type, parent_id, created_at`

func scanFinanceAccount(sc scanner) (finance.FinanceAccount, error) {
	var (
		a      finance.FinanceAccount
		parent sql.NullString
	)
	if err := sc.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &parent, timeCol{&a.CreatedAt}); err != nil {
		return finance.FinanceAccount{}, err
	}
	a.ParentID = nullID[finance.FinanceAccountID](parent)
	return a, nil
}

func (x *queries) CreateFinanceAccount(ctx context.Context, a finance.FinanceAccount) error {
	return x.exec(ctx, `
		INSERT INTO finance_accounts (`+financeAccountCols+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(a.ID), a.Code, a.Name, string(a.Type), nullStringArg(a.ParentID), timeArg(a.CreatedAt))
}

func (x *queries) GetFinanceAccount(ctx context.Context, id finance.FinanceAccountID) (finance.FinanceAccount, error) {
	a, err := scanFinanceAccount(x.row(ctx, `SELECT `+financeAccountCols+` FROM finance_accounts WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return finance.FinanceAccount{}, finance.NotFound("finance_account", id)
	}
	return a, err
}

func (x *queries) GetFinanceAccountByCode(ctx context.Context, code string) (finance.FinanceAccount, error) {
	a, err := scanFinanceAccount(x.row(ctx, `SELECT `+financeAccountCols+` FROM finance_accounts WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return finance.FinanceAccount{}, finance.NotFound("finance_account", code)
	}
	return a, err
}

func (x *queries) ListFinanceAccounts(ctx context.Context) ([]finance.FinanceAccount, error) {
	rows, err := x.query(ctx, `SELECT `+financeAccountCols+` FROM finance_accounts ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query finance accounts: %w", err)
	}
	defer rows.Close()

	var out []finance.FinanceAccount
	for rows.Next() {
		a, err := scanFinanceAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
