/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the finance domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as integer minor units. Responses also carry a
  *_display string in major units with two fraction digits
  (100000 -> "1000.00"), formatted with shopspring/decimal.

VALIDATION:
  Request types carry validator/v10 struct tags for shape checks
  (required, positive, enum, date format). The engine re-validates every
  business rule, so tags only reject malformed input early.

SEE ALSO:
  - handlers.go: Uses these types
  - finance/types.go: Domain types
*/
package api

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// REQUESTS
// =============================================================================

type InvoiceItemRequest struct {
	Name   string `json:"name" validate:"required"`
	Amount int64  `json:"amount" validate:"gte=0"`
}

type CreateInvoiceRequest struct {
	StudentID      string               `json:"student_id" validate:"required"`
	AcademicYearID string               `json:"academic_year_id"`
	DueDate        string               `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Description    string               `json:"description"`
	Items          []InvoiceItemRequest `json:"items" validate:"required,min=1,dive"`
	Draft          bool                 `json:"draft"`
}

type VoidInvoiceRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type DiscountRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Reason string `json:"reason"`
}

type RecordPaymentRequest struct {
	Amount            int64  `json:"amount" validate:"gt=0"`
	Method            string `json:"method" validate:"required,oneof=CASH BANK_TRANSFER CARD OTHER"`
	Reference         string `json:"reference"`
	PaidAt            string `json:"paid_at" validate:"required,datetime=2006-01-02"`
	CashBankAccountID string `json:"cash_bank_account_id" validate:"required"`
}

type RecordRefundRequest struct {
	Amount     int64  `json:"amount" validate:"gt=0"`
	Reason     string `json:"reason" validate:"required"`
	RefundedAt string `json:"refunded_at" validate:"required,datetime=2006-01-02"`
}

type CreateCashBankAccountRequest struct {
	Code           string `json:"code" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Type           string `json:"type" validate:"required,oneof=CASH BANK"`
	OpeningBalance int64  `json:"opening_balance" validate:"gte=0"`
}

type CreateFinanceAccountRequest struct {
	Code     string  `json:"code" validate:"required"`
	Name     string  `json:"name" validate:"required"`
	Type     string  `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY INCOME EXPENSE"`
	ParentID *string `json:"parent_id"`
}

type CreateTxnRequest struct {
	Kind              string `json:"kind" validate:"required,oneof=INCOME EXPENSE"`
	Amount            int64  `json:"amount" validate:"gt=0"`
	TxnDate           string `json:"txn_date" validate:"required,datetime=2006-01-02"`
	FinanceAccountID  string `json:"finance_account_id" validate:"required"`
	CashBankAccountID string `json:"cash_bank_account_id" validate:"required"`
	Description       string `json:"description"`
}

type CreateTransferRequest struct {
	FromAccountID    string `json:"from_account_id" validate:"required"`
	ToAccountID      string `json:"to_account_id" validate:"required,nefield=FromAccountID"`
	FinanceAccountID string `json:"finance_account_id" validate:"required"`
	Amount           int64  `json:"amount" validate:"gt=0"`
	TxnDate          string `json:"txn_date" validate:"required,datetime=2006-01-02"`
	Description      string `json:"description"`
}

type RejectTxnRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type CreatePeriodLockRequest struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason    string `json:"reason" validate:"required"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type InvoiceItemDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
}

type BalanceDTO struct {
	Status         string `json:"status"`
	Total          int64  `json:"total"`
	Discounts      int64  `json:"discounts"`
	GrossDue       int64  `json:"gross_due"`
	Paid           int64  `json:"paid"`
	Refunded       int64  `json:"refunded"`
	NetPaid        int64  `json:"net_paid"`
	Balance        int64  `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
}

type DiscountDTO struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	Reason        string `json:"reason"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at"`
}

type PaymentDTO struct {
	ID                string `json:"id"`
	Amount            int64  `json:"amount"`
	AmountDisplay     string `json:"amount_display"`
	Method            string `json:"method"`
	Reference         string `json:"reference,omitempty"`
	PaidAt            string `json:"paid_at"`
	CashBankAccountID string `json:"cash_bank_account_id"`
	LedgerTxnID       string `json:"ledger_txn_id"`
	CreatedBy         string `json:"created_by"`
}

type RefundDTO struct {
	ID            string `json:"id"`
	PaymentID     string `json:"payment_id"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	Reason        string `json:"reason"`
	ProcessedBy   string `json:"processed_by"`
	RefundedAt    string `json:"refunded_at"`
	LedgerTxnID   string `json:"ledger_txn_id"`
}

type InvoiceDTO struct {
	ID             string           `json:"id"`
	StudentID      string           `json:"student_id"`
	AcademicYearID string           `json:"academic_year_id,omitempty"`
	DueDate        string           `json:"due_date,omitempty"`
	Description    string           `json:"description,omitempty"`
	Status         string           `json:"status"`
	Total          int64            `json:"total"`
	TotalDisplay   string           `json:"total_display"`
	Items          []InvoiceItemDTO `json:"items"`
	CreatedBy      string           `json:"created_by"`
	CreatedAt      string           `json:"created_at"`
	VoidedBy       string           `json:"voided_by,omitempty"`
	VoidedAt       string           `json:"voided_at,omitempty"`
	VoidReason     string           `json:"void_reason,omitempty"`

	Balance   *BalanceDTO   `json:"balance,omitempty"`
	Discounts []DiscountDTO `json:"discounts,omitempty"`
	Payments  []PaymentDTO  `json:"payments,omitempty"`
	Refunds   []RefundDTO   `json:"refunds,omitempty"`
}

type CashBankAccountDTO struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	OpeningBalance int64  `json:"opening_balance"`
	Balance        int64  `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"created_at"`
}

type FinanceAccountDTO struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
}

// TxnDTO is one operational transaction. Stage is the approval ticket
// stage: unchecked, checked, approved, rejected or cancelled.
type TxnDTO struct {
	ID                string `json:"id"`
	Kind              string `json:"kind"`
	Amount            int64  `json:"amount"`
	AmountDisplay     string `json:"amount_display"`
	TxnDate           string `json:"txn_date"`
	FinanceAccountID  string `json:"finance_account_id"`
	CashBankAccountID string `json:"cash_bank_account_id"`
	TransferPairID    string `json:"transfer_pair_id,omitempty"`
	ApprovalStatus    string `json:"approval_status"`
	Stage             string `json:"stage"`
	Description       string `json:"description,omitempty"`
	SourceType        string `json:"source_type"`
	SourceID          string `json:"source_id,omitempty"`
	CreatedBy         string `json:"created_by"`
	CheckedBy         string `json:"checked_by,omitempty"`
	ApprovedBy        string `json:"approved_by,omitempty"`
	RejectedBy        string `json:"rejected_by,omitempty"`
	RejectionReason   string `json:"rejection_reason,omitempty"`
	CancelledBy       string `json:"cancelled_by,omitempty"`
	CreatedAt         string `json:"created_at"`
}

type PeriodLockDTO struct {
	ID        string `json:"id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Reason    string `json:"reason"`
	LockedBy  string `json:"locked_by"`
	LockedAt  string `json:"locked_at"`
}

type AuditEventDTO struct {
	ID       string         `json:"id"`
	Seq      int64          `json:"seq"`
	Actor    string         `json:"actor"`
	Type     string         `json:"type"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Metadata map[string]any `json:"metadata"`
	At       string         `json:"at"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// display renders minor units as a major-unit string, e.g. 90000 -> "900.00".
func display(m finance.Money) string {
	return decimal.New(int64(m), -2).StringFixed(2)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timestamp(*t)
}

func toInvoiceDTO(inv finance.Invoice) InvoiceDTO {
	items := make([]InvoiceItemDTO, len(inv.Items))
	for i, it := range inv.Items {
		items[i] = InvoiceItemDTO{ID: string(it.ID), Name: it.Name, Amount: int64(it.Amount), AmountDisplay: display(it.Amount)}
	}
	return InvoiceDTO{
		ID:             string(inv.ID),
		StudentID:      inv.StudentID,
		AcademicYearID: inv.AcademicYearID,
		DueDate:        inv.DueDate.String(),
		Description:    inv.Description,
		Status:         string(inv.Status),
		Total:          int64(inv.Total),
		TotalDisplay:   display(inv.Total),
		Items:          items,
		CreatedBy:      inv.CreatedBy,
		CreatedAt:      timestamp(inv.CreatedAt),
		VoidedBy:       inv.VoidedBy,
		VoidedAt:       optTimestamp(inv.VoidedAt),
		VoidReason:     inv.VoidReason,
	}
}

func toBalanceDTO(b finance.InvoiceBalance) *BalanceDTO {
	return &BalanceDTO{
		Status:         string(b.Status),
		Total:          int64(b.Total),
		Discounts:      int64(b.Discounts),
		GrossDue:       int64(b.GrossDue),
		Paid:           int64(b.Paid),
		Refunded:       int64(b.Refunded),
		NetPaid:        int64(b.NetPaid),
		Balance:        int64(b.Balance),
		BalanceDisplay: display(b.Balance),
	}
}

func toInvoiceViewDTO(v finance.InvoiceView) InvoiceDTO {
	dto := toInvoiceDTO(v.Invoice)
	dto.Balance = toBalanceDTO(v.Balance)
	for _, d := range v.Discounts {
		dto.Discounts = append(dto.Discounts, DiscountDTO{
			ID:            string(d.ID),
			Amount:        int64(d.Amount),
			AmountDisplay: display(d.Amount),
			Reason:        d.Reason,
			CreatedBy:     d.CreatedBy,
			CreatedAt:     timestamp(d.CreatedAt),
		})
	}
	for _, p := range v.Payments {
		dto.Payments = append(dto.Payments, PaymentDTO{
			ID:                string(p.ID),
			Amount:            int64(p.Amount),
			AmountDisplay:     display(p.Amount),
			Method:            string(p.Method),
			Reference:         p.Reference,
			PaidAt:            p.PaidAt.String(),
			CashBankAccountID: string(p.CashBankAccountID),
			LedgerTxnID:       string(p.LedgerTxnID),
			CreatedBy:         p.CreatedBy,
		})
	}
	for _, r := range v.Refunds {
		dto.Refunds = append(dto.Refunds, RefundDTO{
			ID:            string(r.ID),
			PaymentID:     string(r.PaymentID),
			Amount:        int64(r.Amount),
			AmountDisplay: display(r.Amount),
			Reason:        r.Reason,
			ProcessedBy:   r.ProcessedBy,
			RefundedAt:    r.RefundedAt.String(),
			LedgerTxnID:   string(r.LedgerTxnID),
		})
	}
	return dto
}

func toCashBankDTO(a finance.CashBankAccount) CashBankAccountDTO {
	return CashBankAccountDTO{
		ID:             string(a.ID),
		Code:           a.Code,
		Name:           a.Name,
		Type:           string(a.Type),
		OpeningBalance: int64(a.OpeningBalance),
		Balance:        int64(a.Balance),
		BalanceDisplay: display(a.Balance),
		Active:         a.Active,
		CreatedAt:      timestamp(a.CreatedAt),
	}
}

func toFinanceAccountDTO(a finance.FinanceAccount) FinanceAccountDTO {
	dto := FinanceAccountDTO{ID: string(a.ID), Code: a.Code, Name: a.Name, Type: string(a.Type)}
	if a.ParentID != nil {
		dto.ParentID = string(*a.ParentID)
	}
	return dto
}

func toTxnDTO(t finance.OperationalTxn) TxnDTO {
	dto := TxnDTO{
		ID:                string(t.ID),
		Kind:              string(t.Kind),
		Amount:            int64(t.Amount),
		AmountDisplay:     display(t.Amount),
		TxnDate:           t.TxnDate.String(),
		FinanceAccountID:  string(t.FinanceAccountID),
		CashBankAccountID: string(t.CashBankAccountID),
		ApprovalStatus:    string(t.ApprovalStatus),
		Stage:             finance.TicketOf(t).Stage(),
		Description:       t.Description,
		SourceType:        string(t.SourceType),
		SourceID:          t.SourceID,
		CreatedBy:         t.CreatedBy,
		CheckedBy:         t.CheckedBy,
		ApprovedBy:        t.ApprovedBy,
		RejectedBy:        t.RejectedBy,
		RejectionReason:   t.RejectionReason,
		CancelledBy:       t.CancelledBy,
		CreatedAt:         timestamp(t.CreatedAt),
	}
	if t.TransferPairID != nil {
		dto.TransferPairID = string(*t.TransferPairID)
	}
	return dto
}

func toTxnDTOs(txns []finance.OperationalTxn) []TxnDTO {
	out := make([]TxnDTO, len(txns))
	for i, t := range txns {
		out[i] = toTxnDTO(t)
	}
	return out
}

func toPeriodLockDTO(l finance.PeriodLock) PeriodLockDTO {
	return PeriodLockDTO{
		ID:        string(l.ID),
		StartDate: l.StartDate.String(),
		EndDate:   l.EndDate.String(),
		Reason:    l.Reason,
		LockedBy:  l.LockedBy,
		LockedAt:  timestamp(l.LockedAt),
	}
}

func toAuditEventDTO(e finance.AuditEvent) AuditEventDTO {
	return AuditEventDTO{
		ID:       string(e.ID),
		Seq:      e.Seq,
		Actor:    e.Actor,
		Type:     string(e.Type),
		Entity:   e.Entity,
		EntityID: e.EntityID,
		Metadata: e.Metadata,
		At:       timestamp(e.At),
	}
}
