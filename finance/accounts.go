package finance

import (
	"context"
	"errors"
	"strings"
)

// =============================================================================
// CASH/BANK ACCOUNTS
// =============================================================================

type CreateCashBankInput struct {
	Code           string
	Name           string
	Type           CashBankType
	OpeningBalance Money
}

// CreateCashBankAccount opens an active account whose balance starts at
// the opening balance.
func (e *Engine) CreateCashBankAccount(ctx context.Context, actor string, in CreateCashBankInput) (CashBankAccount, error) {
	if err := requireActor(actor); err != nil {
		return CashBankAccount{}, err
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return CashBankAccount{}, invalid("code", "is required")
	}
	if in.Type != CashAccount && in.Type != BankAccount {
		return CashBankAccount{}, invalid("type", "must be CASH or BANK")
	}
	if in.OpeningBalance < 0 {
		return CashBankAccount{}, invalid("opening_balance", "cannot be negative")
	}

	now := e.clock.Now()
	acct := CashBankAccount{
		ID:             CashBankAccountID(newID()),
		Code:           code,
		Name:           strings.TrimSpace(in.Name),
		Type:           in.Type,
		OpeningBalance: in.OpeningBalance,
		Balance:        in.OpeningBalance,
		Active:         true,
		CreatedBy:      actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := e.inTx(ctx, "create_cash_bank_account", func(s Store) error {
		if err := s.CreateCashBankAccount(ctx, acct); err != nil {
			return err
		}
		return e.audit.Record(ctx, s, actor, AuditCashBankCreated, EntityCashBankAccount, string(acct.ID), map[string]any{
			"code":            acct.Code,
			"type":            string(acct.Type),
			"opening_balance": int64(acct.OpeningBalance),
		})
	})
	if err != nil {
		return CashBankAccount{}, err
	}
	return acct, nil
}

// DeactivateCashBankAccount blocks further postings to the account.
// Its balance is left untouched.
func (e *Engine) DeactivateCashBankAccount(ctx context.Context, actor string, id CashBankAccountID) (CashBankAccount, error) {
	if err := requireActor(actor); err != nil {
		return CashBankAccount{}, err
	}
	var acct CashBankAccount
	err := e.inTx(ctx, "deactivate_cash_bank_account", func(s Store) error {
		var err error
		acct, err = s.LockCashBankAccount(ctx, id)
		if err != nil {
			return err
		}
		if !acct.Active {
			return &InvalidTransitionError{Entity: EntityCashBankAccount, ID: string(id), Action: "deactivate", From: "inactive", Reason: "account is already inactive"}
		}
		acct.Active = false
		acct.UpdatedAt = e.clock.Now()
		if err := s.UpdateCashBankAccount(ctx, acct); err != nil {
			return err
		}
		return e.audit.Record(ctx, s, actor, AuditCashBankDisabled, EntityCashBankAccount, string(id), map[string]any{
			"balance": int64(acct.Balance),
		})
	})
	return acct, err
}

func (e *Engine) GetCashBankAccount(ctx context.Context, id CashBankAccountID) (CashBankAccount, error) {
	return e.store.GetCashBankAccount(ctx, id)
}

func (e *Engine) ListCashBankAccounts(ctx context.Context) ([]CashBankAccount, error) {
	return e.store.ListCashBankAccounts(ctx)
}

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

type CreateFinanceAccountInput struct {
	Code     string
	Name     string
	Type     FinanceAccountType
	ParentID *FinanceAccountID
}

func (e *Engine) CreateFinanceAccount(ctx context.Context, actor string, in CreateFinanceAccountInput) (FinanceAccount, error) {
	if err := requireActor(actor); err != nil {
		return FinanceAccount{}, err
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return FinanceAccount{}, invalid("code", "is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return FinanceAccount{}, invalid("name", "is required")
	}
	if !in.Type.Valid() {
		return FinanceAccount{}, invalid("type", "unknown account type %q", in.Type)
	}

	acct := FinanceAccount{
		ID:        FinanceAccountID(newID()),
		Code:      code,
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		ParentID:  in.ParentID,
		CreatedAt: e.clock.Now(),
	}
	err := e.inTx(ctx, "create_finance_account", func(s Store) error {
		if in.ParentID != nil {
			if _, err := s.GetFinanceAccount(ctx, *in.ParentID); err != nil {
				if errors.Is(err, ErrNotFound) {
					return invalid("parent_id", "parent account %s does not exist", *in.ParentID)
				}
				return err
			}
		}
		if err := s.CreateFinanceAccount(ctx, acct); err != nil {
			return err
		}
		meta := map[string]any{"code": acct.Code, "type": string(acct.Type)}
		if acct.ParentID != nil {
			meta["parent_id"] = string(*acct.ParentID)
		}
		return e.audit.Record(ctx, s, actor, AuditAccountCreated, EntityFinanceAccount, string(acct.ID), meta)
	})
	if err != nil {
		return FinanceAccount{}, err
	}
	return acct, nil
}

func (e *Engine) ListFinanceAccounts(ctx context.Context) ([]FinanceAccount, error) {
	return e.store.ListFinanceAccounts(ctx)
}
