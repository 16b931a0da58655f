/*
types.go - Core domain types for the school finance ledger

PURPOSE:
  Defines the records that flow through every finance operation:
  invoices and their lines, cash/bank accounts, the chart of accounts,
  operational cash transactions, period locks, and audit events.

MONEY:
  All amounts are integer minor units (e.g. cents). No floating point
  ever touches a balance. Display formatting happens at the API edge.

IDENTIFIERS:
  Every record is keyed by a UUID string wrapped in a distinct type so
  an InvoiceID can never be passed where a TxnID is expected.

KEY TYPES:
  Invoice, InvoiceItem, Discount, Payment, Refund
  CashBankAccount, FinanceAccount
  OperationalTxn (with TxnKind, ApprovalStatus)
  PeriodLock
  AuditEvent

SEE ALSO:
  - invoice.go: Balance and status derivation
  - cashbank.go: The only balance mutator
  - workflow.go: Approval state machine for OperationalTxn
*/
package finance

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	InvoiceID         string
	InvoiceItemID     string
	DiscountID        string
	PaymentID         string
	RefundID          string
	CashBankAccountID string
	FinanceAccountID  string
	TxnID             string
	TransferPairID    string
	PeriodLockID      string
	AuditEventID      string
)

func newID() string { return uuid.NewString() }

// Money is an amount in integer minor units.
type Money int64

func maxMoney(a, b Money) Money {
	if a > b {
		return a
	}
	return b
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceStatus string

const (
	InvoiceDraft   InvoiceStatus = "DRAFT"
	InvoiceOpen    InvoiceStatus = "OPEN"
	InvoicePartial InvoiceStatus = "PARTIAL"
	InvoicePaid    InvoiceStatus = "PAID"
	InvoiceVoid    InvoiceStatus = "VOID"
)

// Invoice is a billable record owned by a student. Items and Total are
// fixed at creation; Status is always derived by the balance engine
// except for the explicit DRAFT and VOID states.
type Invoice struct {
	ID             InvoiceID
	StudentID      string
	AcademicYearID string
	DueDate        Date
	Total          Money
	Status         InvoiceStatus
	Description    string
	Items          []InvoiceItem

	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	VoidedBy   string
	VoidedAt   *time.Time
	VoidReason string
}

type InvoiceItem struct {
	ID        InvoiceItemID
	InvoiceID InvoiceID
	Name      string
	Amount    Money
}

type Discount struct {
	ID        DiscountID
	InvoiceID InvoiceID
	Amount    Money
	Reason    string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCard         PaymentMethod = "CARD"
	MethodOther        PaymentMethod = "OTHER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodCard, MethodOther:
		return true
	}
	return false
}

// Payment is append-only. Only its refunds change what it nets to.
type Payment struct {
	ID                PaymentID
	InvoiceID         InvoiceID
	Amount            Money
	Method            PaymentMethod
	Reference         string
	PaidAt            Date
	CashBankAccountID CashBankAccountID
	LedgerTxnID       TxnID
	CreatedBy         string
	CreatedAt         time.Time
}

// Refund is append-only and owned by exactly one Payment.
type Refund struct {
	ID          RefundID
	PaymentID   PaymentID
	InvoiceID   InvoiceID
	Amount      Money
	Reason      string
	ProcessedBy string
	RefundedAt  Date
	LedgerTxnID TxnID
	CreatedAt   time.Time
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type CashBankType string

const (
	CashAccount CashBankType = "CASH"
	BankAccount CashBankType = "BANK"
)

// CashBankAccount holds a running balance. Balance >= 0 at every
// committed state and is only changed by CashBankLedger.ApplyDelta.
type CashBankAccount struct {
	ID             CashBankAccountID
	Code           string
	Name           string
	Type           CashBankType
	OpeningBalance Money
	Balance        Money
	Active         bool
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type FinanceAccountType string

const (
	AccountAsset     FinanceAccountType = "ASSET"
	AccountLiability FinanceAccountType = "LIABILITY"
	AccountEquity    FinanceAccountType = "EQUITY"
	AccountIncome    FinanceAccountType = "INCOME"
	AccountExpense   FinanceAccountType = "EXPENSE"
)

func (t FinanceAccountType) Valid() bool {
	switch t {
	case AccountAsset, AccountLiability, AccountEquity, AccountIncome, AccountExpense:
		return true
	}
	return false
}

// FinanceAccount is a chart-of-accounts node. Classification only.
type FinanceAccount struct {
	ID        FinanceAccountID
	Code      string
	Name      string
	Type      FinanceAccountType
	ParentID  *FinanceAccountID
	CreatedAt time.Time
}

// =============================================================================
// OPERATIONAL TRANSACTIONS
// =============================================================================

type TxnKind string

const (
	TxnIncome      TxnKind = "INCOME"
	TxnExpense     TxnKind = "EXPENSE"
	TxnTransferIn  TxnKind = "TRANSFER_IN"
	TxnTransferOut TxnKind = "TRANSFER_OUT"
)

func (k TxnKind) Valid() bool {
	switch k {
	case TxnIncome, TxnExpense, TxnTransferIn, TxnTransferOut:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	StatusPending   ApprovalStatus = "PENDING"
	StatusApproved  ApprovalStatus = "APPROVED"
	StatusRejected  ApprovalStatus = "REJECTED"
	StatusCancelled ApprovalStatus = "CANCELLED"
)

type TxnSource string

const (
	SourceManual         TxnSource = "MANUAL"
	SourceInvoicePayment TxnSource = "INVOICE_PAYMENT"
	SourceInvoiceRefund  TxnSource = "INVOICE_REFUND"
)

// OperationalTxn is a cash/bank movement under maker-checker-approver
// control. Transfer legs share a TransferPairID and move together.
type OperationalTxn struct {
	ID                TxnID
	Kind              TxnKind
	Amount            Money
	TxnDate           Date
	FinanceAccountID  FinanceAccountID
	CashBankAccountID CashBankAccountID
	TransferPairID    *TransferPairID
	ApprovalStatus    ApprovalStatus
	Description       string
	SourceType        TxnSource
	SourceID          string

	CreatedBy       string
	CreatedAt       time.Time
	CheckedBy       string
	CheckedAt       *time.Time
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectedBy      string
	RejectedAt      *time.Time
	RejectionReason string
	CancelledBy     string
	CancelledAt     *time.Time
	UpdatedAt       time.Time
}

func (t OperationalTxn) IsTransferLeg() bool { return t.TransferPairID != nil }

// =============================================================================
// PERIOD LOCKS
// =============================================================================

// PeriodLock freezes the closed range [StartDate, EndDate].
type PeriodLock struct {
	ID        PeriodLockID
	StartDate Date
	EndDate   Date
	Reason    string
	LockedBy  string
	LockedAt  time.Time
}

func (l PeriodLock) Range() DateRange {
	return DateRange{Start: l.StartDate, End: l.EndDate}
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEventType string

const (
	AuditInvoiceCreated   AuditEventType = "invoice.created"
	AuditInvoiceIssued    AuditEventType = "invoice.issued"
	AuditInvoiceVoided    AuditEventType = "invoice.voided"
	AuditDiscountAdded    AuditEventType = "invoice.discount_added"
	AuditDiscountUpdated  AuditEventType = "invoice.discount_updated"
	AuditDiscountDeleted  AuditEventType = "invoice.discount_deleted"
	AuditPaymentRecorded  AuditEventType = "invoice.payment_recorded"
	AuditRefundRecorded   AuditEventType = "invoice.refund_recorded"
	AuditTxnCreated       AuditEventType = "txn.created"
	AuditTransferCreated  AuditEventType = "txn.transfer_created"
	AuditTxnChecked       AuditEventType = "txn.checked"
	AuditTxnApproved      AuditEventType = "txn.approved"
	AuditTxnRejected      AuditEventType = "txn.rejected"
	AuditTxnCancelled     AuditEventType = "txn.cancelled"
	AuditLockCreated      AuditEventType = "period_lock.created"
	AuditLockRemoved      AuditEventType = "period_lock.removed"
	AuditCashBankCreated  AuditEventType = "cash_bank_account.created"
	AuditCashBankDisabled AuditEventType = "cash_bank_account.deactivated"
	AuditAccountCreated   AuditEventType = "finance_account.created"
)

// Entity names used in audit events.
const (
	EntityInvoice         = "invoice"
	EntityOperationalTxn  = "operational_txn"
	EntityPeriodLock      = "period_lock"
	EntityCashBankAccount = "cash_bank_account"
	EntityFinanceAccount  = "finance_account"
)

// AuditEvent is append-only. Seq is assigned by the store in append order.
type AuditEvent struct {
	ID       AuditEventID
	Seq      int64
	Actor    string
	Type     AuditEventType
	Entity   string
	EntityID string
	Metadata map[string]any
	At       time.Time
}

// =============================================================================
// FILTERS - Read projections over committed state
// =============================================================================

type InvoiceFilter struct {
	StudentID *string
	Status    *InvoiceStatus
	DueFrom   *Date
	DueTo     *Date
}

type TxnFilter struct {
	From              *Date
	To                *Date
	CashBankAccountID *CashBankAccountID
	FinanceAccountID  *FinanceAccountID
	Status            *ApprovalStatus
	Kind              *TxnKind
	TransferPairID    *TransferPairID
}

type AuditFilter struct {
	Entity   string
	EntityID string
	Actor    string
	Types    []AuditEventType
	From     *time.Time
	To       *time.Time
}
