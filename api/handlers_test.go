package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/warp/finance-ledger/finance"
	"github.com/warp/finance-ledger/finance/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	t      *testing.T
	h      *Handler
	router http.Handler
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()
	engine := finance.NewEngine(store.NewTxMemory(),
		finance.WithClock(finance.FixedClock(time.Date(2024, time.September, 1, 9, 0, 0, 0, time.UTC))),
		finance.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	h := NewHandler(engine)
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &testServer{t: t, h: h, router: NewRouter(h, opts)}
}

func (s *testServer) do(method, path, actor string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed creates the chart of accounts and one cash account over HTTP.
func (s *testServer) seed(opening int64) (Seed, CashBankAccountDTO) {
	s.t.Helper()
	chart, err := SeedChart(context.Background(), s.h.Engine)
	require.NoError(s.t, err)
	rec := s.do(http.MethodPost, "/api/cash-bank-accounts", "bursar", CreateCashBankAccountRequest{
		Code: "CASH-01", Name: "Front Office", Type: "CASH", OpeningBalance: opening,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return chart, decodeAs[CashBankAccountDTO](s.t, rec)
}

func (s *testServer) createExpense(chart Seed, cash CashBankAccountDTO, amount int64, date string) TxnDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/transactions", "bursar", CreateTxnRequest{
		Kind: "EXPENSE", Amount: amount, TxnDate: date,
		FinanceAccountID: string(chart.Supplies.ID), CashBankAccountID: cash.ID,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[TxnDTO](s.t, rec)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeAs[map[string]string](t, rec)["status"])
}

func TestRequireActor(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec := s.do(http.MethodPost, "/api/cash-bank-accounts", "", CreateCashBankAccountRequest{
		Code: "CASH-01", Name: "Front Office", Type: "CASH",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, "validation", resp.Code)
	assert.Equal(t, "actor", resp.Field)

	rec = s.do(http.MethodGet, "/api/cash-bank-accounts", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	l := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})
	s := newTestServer(t, RouterOptions{Limiter: l})

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeAs[ErrorResponse](t, rec).Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec := s.do(http.MethodPost, "/api/cash-bank-accounts", "bursar", CreateCashBankAccountRequest{
		Code: "CASH-01", Name: "Front Office", Type: "SAFE",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, "validation", resp.Code)
	assert.Equal(t, map[string]any{"Type": "oneof"}, resp.Details)

	req := httptest.NewRequest(http.MethodPost, "/api/transactions", bytes.NewBufferString("{not json"))
	req.Header.Set(ActorHeader, "bursar")
	out := httptest.NewRecorder()
	s.router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)

	rec = s.do(http.MethodGet, "/api/transactions?from=01-01-2024", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// INVOICE FLOW
// =============================================================================

func TestInvoicePaymentFlow(t *testing.T) {
	// GIVEN: A 100000 invoice with a 10000 discount
	// WHEN: 90000 is paid and the posted ledger txn is approved
	// THEN: Invoice PAID, cash account credited after approval only

	s := newTestServer(t, RouterOptions{})
	_, cash := s.seed(0)

	rec := s.do(http.MethodPost, "/api/invoices", "bursar", CreateInvoiceRequest{
		StudentID: "STU-1", AcademicYearID: "2024-2025", DueDate: "2024-09-30",
		Items: []InvoiceItemRequest{{Name: "Tuition", Amount: 80000}, {Name: "Books", Amount: 20000}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := decodeAs[InvoiceDTO](t, rec)
	assert.Equal(t, "OPEN", inv.Status)
	assert.Equal(t, "1000.00", inv.TotalDisplay)

	rec = s.do(http.MethodPost, "/api/invoices/"+inv.ID+"/discounts", "bursar", DiscountRequest{Amount: 10000, Reason: "Sibling"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/invoices/"+inv.ID+"/payments", "bursar", RecordPaymentRequest{
		Amount: 90000, Method: "CASH", PaidAt: "2024-09-02", CashBankAccountID: cash.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv = decodeAs[InvoiceDTO](t, rec)
	require.NotNil(t, inv.Balance)
	assert.Equal(t, "PAID", inv.Balance.Status)
	assert.Equal(t, "0.00", inv.Balance.BalanceDisplay)
	require.Len(t, inv.Payments, 1)
	txnID := inv.Payments[0].LedgerTxnID
	require.NotEmpty(t, txnID)

	rec = s.do(http.MethodGet, "/api/transactions/"+txnID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeAs[struct {
		Transaction TxnDTO   `json:"transaction"`
		Group       []TxnDTO `json:"group"`
	}](t, rec)
	assert.Equal(t, "INCOME", got.Transaction.Kind)
	assert.Equal(t, "unchecked", got.Transaction.Stage)
	assert.Equal(t, "INVOICE_PAYMENT", got.Transaction.SourceType)

	rec = s.do(http.MethodPost, "/api/transactions/"+txnID+"/check", "accountant", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/transactions/"+txnID+"/approve", "accountant", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state_transition", decodeAs[ErrorResponse](t, rec).Code)
	rec = s.do(http.MethodPost, "/api/transactions/"+txnID+"/approve", "principal", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	legs := decodeAs[[]TxnDTO](t, rec)
	assert.Equal(t, "approved", legs[0].Stage)

	rec = s.do(http.MethodGet, "/api/cash-bank-accounts/"+cash.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acct := decodeAs[CashBankAccountDTO](t, rec)
	assert.Equal(t, int64(90000), acct.Balance)
	assert.Equal(t, "900.00", acct.BalanceDisplay)

	rec = s.do(http.MethodGet, "/api/audit-events?entity=invoice&entity_id="+inv.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeAs[[]AuditEventDTO](t, rec)
	require.Len(t, events, 3)
	assert.Equal(t, string(finance.AuditPaymentRecorded), events[2].Type)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	chart, cash := s.seed(5000)

	t.Run("insufficient balance is 422 with shortfall", func(t *testing.T) {
		txn := s.createExpense(chart, cash, 8000, "2024-06-01")
		require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/transactions/"+txn.ID+"/check", "accountant", nil).Code)

		rec := s.do(http.MethodPost, "/api/transactions/"+txn.ID+"/approve", "principal", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decodeAs[ErrorResponse](t, rec)
		assert.Equal(t, "insufficient_balance", resp.Code)
		details, ok := resp.Details.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(3000), details["shortfall"])
	})

	t.Run("period locked is 423 with range", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/period-locks", "principal", CreatePeriodLockRequest{
			StartDate: "2024-01-01", EndDate: "2024-01-31", Reason: "January closed",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = s.do(http.MethodPost, "/api/transactions", "bursar", CreateTxnRequest{
			Kind: "EXPENSE", Amount: 100, TxnDate: "2024-01-31",
			FinanceAccountID: string(chart.Supplies.ID), CashBankAccountID: cash.ID,
		})
		assert.Equal(t, http.StatusLocked, rec.Code)
		resp := decodeAs[ErrorResponse](t, rec)
		assert.Equal(t, "period_locked", resp.Code)
		details, ok := resp.Details.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "2024-01-01", details["start_date"])
		assert.Equal(t, "2024-01-31", details["end_date"])
		assert.Equal(t, "January closed", details["reason"])
	})

	t.Run("overlapping lock is 400", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/period-locks", "principal", CreatePeriodLockRequest{
			StartDate: "2024-01-15", EndDate: "2024-02-15", Reason: "overlap",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "overlapping_lock", decodeAs[ErrorResponse](t, rec).Code)
	})

	t.Run("unknown txn is 404", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/transactions/missing/check", "accountant", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeAs[ErrorResponse](t, rec).Code)
	})

	t.Run("duplicate account code is 409", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/cash-bank-accounts", "bursar", CreateCashBankAccountRequest{
			Code: "CASH-01", Name: "Again", Type: "CASH",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "duplicate", decodeAs[ErrorResponse](t, rec).Code)
	})

	t.Run("overpayment names the field", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/invoices", "bursar", CreateInvoiceRequest{
			StudentID: "STU-2", AcademicYearID: "2024", DueDate: "2024-09-30",
			Items: []InvoiceItemRequest{{Name: "Fee", Amount: 1000}},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		inv := decodeAs[InvoiceDTO](t, rec)

		rec = s.do(http.MethodPost, "/api/invoices/"+inv.ID+"/payments", "bursar", RecordPaymentRequest{
			Amount: 1001, Method: "CARD", PaidAt: "2024-09-02", CashBankAccountID: cash.ID,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeAs[ErrorResponse](t, rec)
		assert.Equal(t, "validation", resp.Code)
		assert.Equal(t, "amount", resp.Field)
	})
}

func TestRejectAndCancel(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	chart, cash := s.seed(5000)

	txn := s.createExpense(chart, cash, 100, "2024-06-01")
	rec := s.do(http.MethodPost, "/api/transactions/"+txn.ID+"/reject", "accountant", RejectTxnRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPost, "/api/transactions/"+txn.ID+"/reject", "accountant", RejectTxnRequest{Reason: "No receipt"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	legs := decodeAs[[]TxnDTO](t, rec)
	assert.Equal(t, "REJECTED", legs[0].ApprovalStatus)
	assert.Equal(t, "No receipt", legs[0].RejectionReason)

	other := s.createExpense(chart, cash, 100, "2024-06-02")
	rec = s.do(http.MethodPost, "/api/transactions/"+other.ID+"/cancel", "accountant", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(http.MethodPost, "/api/transactions/"+other.ID+"/cancel", "bursar", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/transactions?status=CANCELLED", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decodeAs[[]TxnDTO](t, rec)
	require.Len(t, cancelled, 1)
	assert.Equal(t, other.ID, cancelled[0].ID)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestLoadScenario_Transfer(t *testing.T) {
	s := newTestServer(t, RouterOptions{Scenarios: true})

	rec := s.do(http.MethodPost, "/api/scenarios/load", "admin", LoadScenarioRequest{ScenarioID: "transfer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/scenarios/current", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "transfer", decodeAs[ScenarioDTO](t, rec).ID)

	rec = s.do(http.MethodGet, "/api/cash-bank-accounts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	accts := decodeAs[[]CashBankAccountDTO](t, rec)
	require.Len(t, accts, 2)
	assert.Equal(t, "BANK-01", accts[0].Code)
	assert.Equal(t, int64(80000), accts[0].Balance)
	assert.Equal(t, int64(20000), accts[1].Balance)
}

func TestLoadScenario_All(t *testing.T) {
	s := newTestServer(t, RouterOptions{Scenarios: true})

	rec := s.do(http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeAs[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarioLoaders))

	// Loading resets the store each time, so order does not matter.
	for _, sc := range list {
		rec := s.do(http.MethodPost, "/api/scenarios/load", "admin", LoadScenarioRequest{ScenarioID: sc.ID})
		assert.Equal(t, http.StatusOK, rec.Code, "%s: %s", sc.ID, rec.Body.String())
	}

	rec = s.do(http.MethodPost, "/api/scenarios/load", "admin", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarios_DisabledByDefault(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(http.MethodPost, "/api/scenarios/load", "admin", LoadScenarioRequest{ScenarioID: "transfer"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "900.00", display(90000))
	assert.Equal(t, "0.05", display(5))
	assert.Equal(t, "0.00", display(0))
	assert.Equal(t, "-15.00", display(-1500))
}
