/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario drives the engine through the same
	operations the API exposes, so the resulting state (balances, statuses,
	audit trail) is exactly what a user would produce by hand.

AVAILABLE SCENARIOS:

	invoice-lifecycle:   Discount, full payment, partial refund (A)
	insufficient-funds:  Expense larger than the cash balance (B)
	transfer:            Approved transfer pair between two accounts (C)
	period-lock:         January 2024 locked, February open (D)
	maker-checker:       Three-person approval chain (E)

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Seed the chart of accounts and cash/bank accounts
 3. Run the scenario's operations through finance.Engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "transfer"}

NOTE:

	Scenarios reset the store. The routes are only mounted outside
	production.

SEE ALSO:
  - server.go: RouterOptions.Scenarios
  - finance/engine_test.go: The same flows as assertions
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "invoice-lifecycle",
		Name:        "Invoice Lifecycle",
		Description: "Invoice of 1000.00 with a 100.00 discount, paid in full, then 300.00 refunded (PARTIAL)",
	},
	{
		ID:          "insufficient-funds",
		Name:        "Insufficient Funds",
		Description: "Cash holds 500.00; a checked 600.00 expense cannot be approved",
	},
	{
		ID:          "transfer",
		Name:        "Transfer Pair",
		Description: "200.00 moved from Main Bank to Petty Cash through one approval",
	},
	{
		ID:          "period-lock",
		Name:        "Period Lock",
		Description: "January 2024 is locked; a February txn is checked, a January one is blocked",
	},
	{
		ID:          "maker-checker",
		Name:        "Maker / Checker / Approver",
		Description: "One expense created, checked and approved by three different users",
	},
}

// Demo actors.
const (
	actorBursar   = "bursar"
	actorChecker  = "accountant"
	actorApprover = "principal"
)

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ApplyScenario(r.Context(), req.ScenarioID); err != nil {
		switch {
		case errors.Is(err, errUnknownScenario):
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		case errors.Is(err, errNoReset):
			writeError(w, http.StatusBadRequest, "Store does not support reset", nil)
		default:
			writeDomainError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

var (
	errUnknownScenario = errors.New("unknown scenario")
	errNoReset         = errors.New("store does not support reset")
)

// ApplyScenario wipes the store and runs the named loader. Also used at
// startup when DEMO_SCENARIO is set.
func (h *Handler) ApplyScenario(ctx context.Context, id string) error {
	loader, ok := scenarioLoaders[id]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownScenario, id)
	}
	resetter, ok := h.Engine.Store().(Resetter)
	if !ok {
		return errNoReset
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := resetter.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	h.currentScenario = ""

	if err := loader(ctx, h.Engine); err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", id, err)
	}
	h.currentScenario = id

	LoggerFrom(ctx).Info("scenario loaded", "scenario", id)
	return nil
}

var scenarioLoaders = map[string]func(context.Context, *finance.Engine) error{
	"invoice-lifecycle":  LoadInvoiceLifecycle,
	"insufficient-funds": LoadInsufficientFunds,
	"transfer":           LoadTransfer,
	"period-lock":        LoadPeriodLock,
	"maker-checker":      LoadMakerChecker,
}

// =============================================================================
// SEED DATA
// =============================================================================

// Seed holds the chart-of-accounts entries created by SeedChart.
type Seed struct {
	Tuition   finance.FinanceAccount
	Refunds   finance.FinanceAccount
	Supplies  finance.FinanceAccount
	Transfers finance.FinanceAccount
}

// SeedChart creates the chart of accounts used by every scenario.
func SeedChart(ctx context.Context, e *finance.Engine) (Seed, error) {
	var s Seed
	var err error
	defs := []struct {
		dst  *finance.FinanceAccount
		code string
		name string
		typ  finance.FinanceAccountType
	}{
		{&s.Tuition, finance.DefaultIncomeAccountCode, "Tuition Income", finance.AccountIncome},
		{&s.Refunds, finance.DefaultRefundAccountCode, "Tuition Refunds", finance.AccountIncome},
		{&s.Supplies, "5100", "School Supplies", finance.AccountExpense},
		{&s.Transfers, "1900", "Internal Transfers", finance.AccountAsset},
	}
	for _, d := range defs {
		*d.dst, err = e.CreateFinanceAccount(ctx, actorBursar, finance.CreateFinanceAccountInput{
			Code: d.code,
			Name: d.name,
			Type: d.typ,
		})
		if err != nil {
			return Seed{}, err
		}
	}
	return s, nil
}

func openAccount(ctx context.Context, e *finance.Engine, code, name string, typ finance.CashBankType, opening finance.Money) (finance.CashBankAccount, error) {
	return e.CreateCashBankAccount(ctx, actorBursar, finance.CreateCashBankInput{
		Code:           code,
		Name:           name,
		Type:           typ,
		OpeningBalance: opening,
	})
}

// expectErr turns an expected domain rejection into success.
func expectErr(err, target error) error {
	if err == nil {
		return fmt.Errorf("expected %v, operation succeeded", target)
	}
	if !errors.Is(err, target) {
		return err
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// LoadInvoiceLifecycle: total 100000, discount 10000, payment 90000 (PAID),
// refund 30000 (PARTIAL, balance 30000).
func LoadInvoiceLifecycle(ctx context.Context, e *finance.Engine) error {
	if _, err := SeedChart(ctx, e); err != nil {
		return err
	}
	cash, err := openAccount(ctx, e, "CASH-01", "Front Office Cash", finance.CashAccount, 0)
	if err != nil {
		return err
	}

	view, err := e.CreateInvoice(ctx, actorBursar, finance.CreateInvoiceInput{
		StudentID:      "STU-0001",
		AcademicYearID: "2024-2025",
		DueDate:        finance.NewDate(2024, 9, 30),
		Description:    "Term 1 fees",
		Items: []finance.InvoiceItemInput{
			{Name: "Tuition", Amount: 80000},
			{Name: "Books", Amount: 20000},
		},
	})
	if err != nil {
		return err
	}
	id := view.Invoice.ID

	if _, err := e.AddDiscount(ctx, actorBursar, id, finance.DiscountInput{Amount: 10000, Reason: "Sibling discount"}); err != nil {
		return err
	}
	view, err = e.RecordPayment(ctx, actorBursar, id, finance.RecordPaymentInput{
		Amount:            90000,
		Method:            finance.MethodCash,
		PaidAt:            finance.NewDate(2024, 9, 2),
		CashBankAccountID: cash.ID,
	})
	if err != nil {
		return err
	}
	_, err = e.RecordRefund(ctx, actorBursar, id, view.Payments[0].ID, finance.RecordRefundInput{
		Amount:     30000,
		Reason:     "Books returned",
		RefundedAt: finance.NewDate(2024, 9, 10),
	})
	return err
}

// LoadInsufficientFunds: cash 50000, expense 60000 checked, approval fails.
func LoadInsufficientFunds(ctx context.Context, e *finance.Engine) error {
	seed, err := SeedChart(ctx, e)
	if err != nil {
		return err
	}
	cash, err := openAccount(ctx, e, "CASH-01", "Front Office Cash", finance.CashAccount, 50000)
	if err != nil {
		return err
	}
	txn, err := e.CreateTxn(ctx, actorBursar, finance.CreateTxnInput{
		Kind:              finance.TxnExpense,
		Amount:            60000,
		TxnDate:           finance.NewDate(2024, 3, 4),
		FinanceAccountID:  seed.Supplies.ID,
		CashBankAccountID: cash.ID,
		Description:       "Lab equipment",
	})
	if err != nil {
		return err
	}
	if _, err := e.Check(ctx, actorChecker, txn.ID); err != nil {
		return err
	}
	_, err = e.Approve(ctx, actorApprover, txn.ID)
	return expectErr(err, finance.ErrInsufficientBalance)
}

// LoadTransfer: Main Bank 100000 -> Petty Cash 0, transfer 20000 approved.
func LoadTransfer(ctx context.Context, e *finance.Engine) error {
	seed, err := SeedChart(ctx, e)
	if err != nil {
		return err
	}
	bank, err := openAccount(ctx, e, "BANK-01", "Main Bank", finance.BankAccount, 100000)
	if err != nil {
		return err
	}
	petty, err := openAccount(ctx, e, "CASH-02", "Petty Cash", finance.CashAccount, 0)
	if err != nil {
		return err
	}
	legs, err := e.CreateTransfer(ctx, actorBursar, finance.CreateTransferInput{
		FromAccountID:    bank.ID,
		ToAccountID:      petty.ID,
		FinanceAccountID: seed.Transfers.ID,
		Amount:           20000,
		TxnDate:          finance.NewDate(2024, 4, 1),
		Description:      "Petty cash top-up",
	})
	if err != nil {
		return err
	}
	if _, err := e.Check(ctx, actorChecker, legs[0].ID); err != nil {
		return err
	}
	_, err = e.Approve(ctx, actorApprover, legs[0].ID)
	return err
}

// LoadPeriodLock: a January txn is created, January is locked, its check
// fails; a February txn is checked normally.
func LoadPeriodLock(ctx context.Context, e *finance.Engine) error {
	seed, err := SeedChart(ctx, e)
	if err != nil {
		return err
	}
	cash, err := openAccount(ctx, e, "CASH-01", "Front Office Cash", finance.CashAccount, 100000)
	if err != nil {
		return err
	}
	newExpense := func(date finance.Date) (finance.OperationalTxn, error) {
		return e.CreateTxn(ctx, actorBursar, finance.CreateTxnInput{
			Kind:              finance.TxnExpense,
			Amount:            5000,
			TxnDate:           date,
			FinanceAccountID:  seed.Supplies.ID,
			CashBankAccountID: cash.ID,
			Description:       "Stationery",
		})
	}

	jan, err := newExpense(finance.NewDate(2024, 1, 15))
	if err != nil {
		return err
	}
	feb, err := newExpense(finance.NewDate(2024, 2, 1))
	if err != nil {
		return err
	}
	if _, err := e.CreatePeriodLock(ctx, actorApprover, finance.CreateLockInput{
		StartDate: finance.NewDate(2024, 1, 1),
		EndDate:   finance.NewDate(2024, 1, 31),
		Reason:    "January closed",
	}); err != nil {
		return err
	}
	_, err = e.Check(ctx, actorChecker, jan.ID)
	if err := expectErr(err, finance.ErrPeriodLocked); err != nil {
		return err
	}
	_, err = e.Check(ctx, actorChecker, feb.ID)
	return err
}

// LoadMakerChecker: U1 makes, U2 checks, U3 approves.
func LoadMakerChecker(ctx context.Context, e *finance.Engine) error {
	seed, err := SeedChart(ctx, e)
	if err != nil {
		return err
	}
	cash, err := openAccount(ctx, e, "CASH-01", "Front Office Cash", finance.CashAccount, 100000)
	if err != nil {
		return err
	}
	txn, err := e.CreateTxn(ctx, "U1", finance.CreateTxnInput{
		Kind:              finance.TxnExpense,
		Amount:            15000,
		TxnDate:           finance.NewDate(2024, 5, 6),
		FinanceAccountID:  seed.Supplies.ID,
		CashBankAccountID: cash.ID,
		Description:       "Sports kit",
	})
	if err != nil {
		return err
	}
	_, err = e.Check(ctx, "U1", txn.ID)
	if err := expectErr(err, finance.ErrInvalidStateTransition); err != nil {
		return err
	}
	if _, err := e.Check(ctx, "U2", txn.ID); err != nil {
		return err
	}
	_, err = e.Approve(ctx, "U2", txn.ID)
	if err := expectErr(err, finance.ErrInvalidStateTransition); err != nil {
		return err
	}
	_, err = e.Approve(ctx, "U3", txn.ID)
	return err
}
