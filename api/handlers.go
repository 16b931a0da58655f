/*
handlers.go - HTTP API handlers for the finance ledger

PURPOSE:
  Exposes the finance engine via REST API. Handles HTTP request/response,
  JSON serialization and shape validation, and delegates every business
  rule to finance.Engine.

ENDPOINTS:
  Invoices:
    POST   /api/invoices                                Create invoice
    GET    /api/invoices                                List invoices
    GET    /api/invoices/{id}                           Invoice with balance
    POST   /api/invoices/{id}/issue                     DRAFT -> OPEN
    POST   /api/invoices/{id}/void                      Void invoice
    POST   /api/invoices/{id}/recalculate               Recompute status
    POST   /api/invoices/{id}/discounts                 Add discount
    PUT    /api/invoices/{id}/discounts/{discountID}    Update discount
    DELETE /api/invoices/{id}/discounts/{discountID}    Delete discount
    POST   /api/invoices/{id}/payments                  Record payment
    POST   /api/invoices/{id}/payments/{paymentID}/refunds  Record refund

  Accounts:
    GET/POST /api/cash-bank-accounts, GET /api/cash-bank-accounts/{id}
    POST     /api/cash-bank-accounts/{id}/deactivate
    GET/POST /api/finance-accounts

  Operational transactions:
    GET/POST /api/transactions, POST /api/transfers
    GET      /api/transactions/{id}
    POST     /api/transactions/{id}/check|approve|reject|cancel

  Period locks and audit:
    GET/POST /api/period-locks, DELETE /api/period-locks/{id}
    GET      /api/audit-events

REQUEST FLOW:
  1. Decode JSON body and validate struct tags
  2. Convert to finance inputs (dates, typed IDs)
  3. Call the engine with the X-Actor-ID actor
  4. Serialize response, or map the error (see errors.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that can drop all data for demos.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Pinger is implemented by stores backed by a database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *finance.Engine
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(engine *finance.Engine) *Handler {
	return &Handler{
		Engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

// parseDate parses an optional YYYY-MM-DD value. Empty yields the zero date.
func parseDate(s string) (finance.Date, error) {
	if s == "" {
		return finance.Date{}, nil
	}
	return finance.ParseDate(s)
}

func queryDate(w http.ResponseWriter, r *http.Request, name string) (*finance.Date, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	d, err := finance.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name+" (use YYYY-MM-DD)", err)
		return nil, false
	}
	return &d, true
}

func queryString(r *http.Request, name string) *string {
	if v := r.URL.Query().Get(name); v != "" {
		return &v
	}
	return nil
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
		return
	}
	in := finance.CreateInvoiceInput{
		StudentID:      req.StudentID,
		AcademicYearID: req.AcademicYearID,
		DueDate:        due,
		Description:    req.Description,
		Draft:          req.Draft,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, finance.InvoiceItemInput{Name: it.Name, Amount: finance.Money(it.Amount)})
	}

	view, err := h.Engine.CreateInvoice(r.Context(), actorFrom(r), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceViewDTO(view))
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	var f finance.InvoiceFilter
	f.StudentID = queryString(r, "student_id")
	if s := queryString(r, "status"); s != nil {
		st := finance.InvoiceStatus(*s)
		f.Status = &st
	}
	var ok bool
	if f.DueFrom, ok = queryDate(w, r, "due_from"); !ok {
		return
	}
	if f.DueTo, ok = queryDate(w, r, "due_to"); !ok {
		return
	}

	invoices, err := h.Engine.ListInvoices(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.GetInvoice(r.Context(), finance.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceViewDTO(view))
}

func (h *Handler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.IssueInvoice(r.Context(), actorFrom(r), finance.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceViewDTO(view))
}

func (h *Handler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	var req VoidInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Engine.VoidInvoice(r.Context(), actorFrom(r), finance.InvoiceID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceViewDTO(view))
}

// Recalculate is idempotent: it persists only a changed status.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.Recalculate(r.Context(), finance.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

func (h *Handler) AddDiscount(w http.ResponseWriter, r *http.Request) {
	var req DiscountRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Engine.AddDiscount(r.Context(), actorFrom(r), finance.InvoiceID(chi.URLParam(r, "id")),
		finance.DiscountInput{Amount: finance.Money(req.Amount), Reason: req.Reason})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceViewDTO(view))
}

func (h *Handler) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	var req DiscountRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Engine.UpdateDiscount(r.Context(), actorFrom(r),
		finance.InvoiceID(chi.URLParam(r, "id")), finance.DiscountID(chi.URLParam(r, "discountID")),
		finance.DiscountInput{Amount: finance.Money(req.Amount), Reason: req.Reason})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceViewDTO(view))
}

func (h *Handler) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.DeleteDiscount(r.Context(), actorFrom(r),
		finance.InvoiceID(chi.URLParam(r, "id")), finance.DiscountID(chi.URLParam(r, "discountID")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceViewDTO(view))
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	paidAt, err := finance.ParseDate(req.PaidAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid paid_at format (use YYYY-MM-DD)", err)
		return
	}
	view, err := h.Engine.RecordPayment(r.Context(), actorFrom(r), finance.InvoiceID(chi.URLParam(r, "id")),
		finance.RecordPaymentInput{
			Amount:            finance.Money(req.Amount),
			Method:            finance.PaymentMethod(req.Method),
			Reference:         req.Reference,
			PaidAt:            paidAt,
			CashBankAccountID: finance.CashBankAccountID(req.CashBankAccountID),
		})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceViewDTO(view))
}

func (h *Handler) RecordRefund(w http.ResponseWriter, r *http.Request) {
	var req RecordRefundRequest
	if !h.decode(w, r, &req) {
		return
	}
	refundedAt, err := finance.ParseDate(req.RefundedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid refunded_at format (use YYYY-MM-DD)", err)
		return
	}
	view, err := h.Engine.RecordRefund(r.Context(), actorFrom(r),
		finance.InvoiceID(chi.URLParam(r, "id")), finance.PaymentID(chi.URLParam(r, "paymentID")),
		finance.RecordRefundInput{Amount: finance.Money(req.Amount), Reason: req.Reason, RefundedAt: refundedAt})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceViewDTO(view))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) CreateCashBankAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateCashBankAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.Engine.CreateCashBankAccount(r.Context(), actorFrom(r), finance.CreateCashBankInput{
		Code:           req.Code,
		Name:           req.Name,
		Type:           finance.CashBankType(req.Type),
		OpeningBalance: finance.Money(req.OpeningBalance),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCashBankDTO(acct))
}

func (h *Handler) ListCashBankAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.Engine.ListCashBankAccounts(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	dtos := make([]CashBankAccountDTO, len(accts))
	for i, a := range accts {
		dtos[i] = toCashBankDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCashBankAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Engine.GetCashBankAccount(r.Context(), finance.CashBankAccountID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCashBankDTO(acct))
}

func (h *Handler) DeactivateCashBankAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Engine.DeactivateCashBankAccount(r.Context(), actorFrom(r), finance.CashBankAccountID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCashBankDTO(acct))
}

func (h *Handler) CreateFinanceAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateFinanceAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := finance.CreateFinanceAccountInput{Code: req.Code, Name: req.Name, Type: finance.FinanceAccountType(req.Type)}
	if req.ParentID != nil && *req.ParentID != "" {
		parent := finance.FinanceAccountID(*req.ParentID)
		in.ParentID = &parent
	}
	acct, err := h.Engine.CreateFinanceAccount(r.Context(), actorFrom(r), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFinanceAccountDTO(acct))
}

func (h *Handler) ListFinanceAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.Engine.ListFinanceAccounts(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	dtos := make([]FinanceAccountDTO, len(accts))
	for i, a := range accts {
		dtos[i] = toFinanceAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// OPERATIONAL TRANSACTION HANDLERS
// =============================================================================

func (h *Handler) CreateTxn(w http.ResponseWriter, r *http.Request) {
	var req CreateTxnRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := finance.ParseDate(req.TxnDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid txn_date format (use YYYY-MM-DD)", err)
		return
	}
	txn, err := h.Engine.CreateTxn(r.Context(), actorFrom(r), finance.CreateTxnInput{
		Kind:              finance.TxnKind(req.Kind),
		Amount:            finance.Money(req.Amount),
		TxnDate:           date,
		FinanceAccountID:  finance.FinanceAccountID(req.FinanceAccountID),
		CashBankAccountID: finance.CashBankAccountID(req.CashBankAccountID),
		Description:       req.Description,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTxnDTO(txn))
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := finance.ParseDate(req.TxnDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid txn_date format (use YYYY-MM-DD)", err)
		return
	}
	legs, err := h.Engine.CreateTransfer(r.Context(), actorFrom(r), finance.CreateTransferInput{
		FromAccountID:    finance.CashBankAccountID(req.FromAccountID),
		ToAccountID:      finance.CashBankAccountID(req.ToAccountID),
		FinanceAccountID: finance.FinanceAccountID(req.FinanceAccountID),
		Amount:           finance.Money(req.Amount),
		TxnDate:          date,
		Description:      req.Description,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTxnDTOs(legs))
}

func (h *Handler) ListTxns(w http.ResponseWriter, r *http.Request) {
	var f finance.TxnFilter
	var ok bool
	if f.From, ok = queryDate(w, r, "from"); !ok {
		return
	}
	if f.To, ok = queryDate(w, r, "to"); !ok {
		return
	}
	if v := queryString(r, "cash_bank_account_id"); v != nil {
		id := finance.CashBankAccountID(*v)
		f.CashBankAccountID = &id
	}
	if v := queryString(r, "finance_account_id"); v != nil {
		id := finance.FinanceAccountID(*v)
		f.FinanceAccountID = &id
	}
	if v := queryString(r, "status"); v != nil {
		st := finance.ApprovalStatus(*v)
		f.Status = &st
	}
	if v := queryString(r, "kind"); v != nil {
		k := finance.TxnKind(*v)
		f.Kind = &k
	}
	if v := queryString(r, "transfer_pair_id"); v != nil {
		id := finance.TransferPairID(*v)
		f.TransferPairID = &id
	}

	txns, err := h.Engine.ListTxns(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTxnDTOs(txns))
}

// GetTxn returns the transaction and, for transfer legs, its sibling.
func (h *Handler) GetTxn(w http.ResponseWriter, r *http.Request) {
	id := finance.TxnID(chi.URLParam(r, "id"))
	legs, err := h.Engine.GetTxnGroup(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := struct {
		Transaction TxnDTO   `json:"transaction"`
		Group       []TxnDTO `json:"group"`
	}{Group: toTxnDTOs(legs)}
	for _, t := range legs {
		if t.ID == id {
			resp.Transaction = toTxnDTO(t)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CheckTxn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Check)
}

func (h *Handler) ApproveTxn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Approve)
}

func (h *Handler) CancelTxn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Cancel)
}

func (h *Handler) RejectTxn(w http.ResponseWriter, r *http.Request) {
	var req RejectTxnRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.transition(w, r, func(ctx context.Context, actor string, id finance.TxnID) ([]finance.OperationalTxn, error) {
		return h.Engine.Reject(ctx, actor, id, req.Reason)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, string, finance.TxnID) ([]finance.OperationalTxn, error)) {
	legs, err := fn(r.Context(), actorFrom(r), finance.TxnID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTxnDTOs(legs))
}

// =============================================================================
// PERIOD LOCK AND AUDIT HANDLERS
// =============================================================================

func (h *Handler) CreatePeriodLock(w http.ResponseWriter, r *http.Request) {
	var req CreatePeriodLockRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := finance.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	end, err := finance.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
		return
	}
	lock, err := h.Engine.CreatePeriodLock(r.Context(), actorFrom(r), finance.CreateLockInput{
		StartDate: start,
		EndDate:   end,
		Reason:    req.Reason,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodLockDTO(lock))
}

func (h *Handler) ListPeriodLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := h.Engine.ListPeriodLocks(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	dtos := make([]PeriodLockDTO, len(locks))
	for i, l := range locks {
		dtos[i] = toPeriodLockDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RemovePeriodLock(w http.ResponseWriter, r *http.Request) {
	lock, err := h.Engine.RemovePeriodLock(r.Context(), actorFrom(r), finance.PeriodLockID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodLockDTO(lock))
}

// ListAuditEvents filters by entity, entity_id, actor, type (repeatable)
// and an RFC 3339 from/to window.
func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := finance.AuditFilter{
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Actor:    q.Get("actor"),
	}
	for _, t := range q["type"] {
		f.Types = append(f.Types, finance.AuditEventType(t))
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+name+" (use RFC 3339)", err)
			return
		}
		*dst = &t
	}

	events, err := h.Engine.ListAuditEvents(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	dtos := make([]AuditEventDTO, len(events))
	for i, e := range events {
		dtos[i] = toAuditEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness and, for database-backed stores, connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Engine.Store().(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			LoggerFrom(r.Context()).Error("health check failed", "error", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
