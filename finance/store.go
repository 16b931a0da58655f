/*
store.go - Persistence interface for the finance ledger

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  InvoiceStore:    Invoices, items, discounts, payments, refunds
  AccountStore:    Cash/bank accounts and chart of accounts
  TxnStore:        Operational transactions
  PeriodLockStore: Accounting period locks
  AuditStore:      Append-only audit events
  Store:           All of the above
  TxStore:         Store + WithTx (unit of work)

UNIT OF WORK:
  Every mutating operation runs inside exactly one WithTx call. The
  Store handed to the callback is transaction-scoped and is passed down
  to every helper (balance engine, cash ledger, lock guard, poster,
  audit writer). No helper opens its own transaction.

LOCKING:
  Lock* methods re-read a row under the transaction's row lock
  (SELECT ... FOR UPDATE on PostgreSQL; the SQLite and memory stores
  serialize whole transactions instead). Outside WithTx they behave
  like plain reads. FindPeriodLocks takes a shared table lock on
  PostgreSQL so a lock committed mid-approval cannot be missed.

NOT FOUND:
  Get and Lock methods return an error matching ErrNotFound when the row is absent.

IMPLEMENTATIONS:
  - finance/store/memory.go: In-memory for testing and demos
  - store/sqlstore: database/sql implementation shared by
    store/sqlite and store/postgres

SEE ALSO:
  - engine.go: Owns the TxStore and runs each operation in WithTx
*/
package finance

import "context"

// =============================================================================
// STORE - Per-aggregate persistence ports
// =============================================================================

type InvoiceStore interface {
	// CreateInvoice persists the invoice header and its items.
	CreateInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (Invoice, error)
	LockInvoice(ctx context.Context, id InvoiceID) (Invoice, error)

	// UpdateInvoiceStatus writes only the status column.
	UpdateInvoiceStatus(ctx context.Context, id InvoiceID, status InvoiceStatus) error

	// UpdateInvoice writes status, void fields and UpdatedAt. Items and
	// Total are immutable.
	UpdateInvoice(ctx context.Context, inv Invoice) error
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)

	CreateDiscount(ctx context.Context, d Discount) error
	UpdateDiscount(ctx context.Context, d Discount) error
	DeleteDiscount(ctx context.Context, id DiscountID) error
	ListDiscounts(ctx context.Context, invoiceID InvoiceID) ([]Discount, error)

	CreatePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (Payment, error)
	ListPayments(ctx context.Context, invoiceID InvoiceID) ([]Payment, error)

	CreateRefund(ctx context.Context, r Refund) error
	ListRefunds(ctx context.Context, invoiceID InvoiceID) ([]Refund, error)
}

type AccountStore interface {
	CreateCashBankAccount(ctx context.Context, a CashBankAccount) error
	GetCashBankAccount(ctx context.Context, id CashBankAccountID) (CashBankAccount, error)
	LockCashBankAccount(ctx context.Context, id CashBankAccountID) (CashBankAccount, error)
	// UpdateCashBankAccount writes balance, active flag and UpdatedAt.
	UpdateCashBankAccount(ctx context.Context, a CashBankAccount) error
	ListCashBankAccounts(ctx context.Context) ([]CashBankAccount, error)

	CreateFinanceAccount(ctx context.Context, a FinanceAccount) error
	GetFinanceAccount(ctx context.Context, id FinanceAccountID) (FinanceAccount, error)
	GetFinanceAccountByCode(ctx context.Context, code string) (FinanceAccount, error)
	ListFinanceAccounts(ctx context.Context) ([]FinanceAccount, error)
}

type TxnStore interface {
	CreateTxn(ctx context.Context, t OperationalTxn) error
	GetTxn(ctx context.Context, id TxnID) (OperationalTxn, error)
	LockTxn(ctx context.Context, id TxnID) (OperationalTxn, error)
	// UpdateTxn writes the approval fields (status, checker, approver,
	// rejection, cancellation, UpdatedAt).
	UpdateTxn(ctx context.Context, t OperationalTxn) error
	// ListTxns returns matches ordered by TxnDate, then CreatedAt, then ID.
	ListTxns(ctx context.Context, filter TxnFilter) ([]OperationalTxn, error)
}

type PeriodLockStore interface {
	CreatePeriodLock(ctx context.Context, l PeriodLock) error
	GetPeriodLock(ctx context.Context, id PeriodLockID) (PeriodLock, error)
	DeletePeriodLock(ctx context.Context, id PeriodLockID) error
	// FindPeriodLocks returns locks intersecting [from, to], both inclusive,
	// ordered by StartDate.
	// Inside a transaction it also holds off concurrent lock changes
	// until the transaction ends.
	FindPeriodLocks(ctx context.Context, from, to Date) ([]PeriodLock, error)
	ListPeriodLocks(ctx context.Context) ([]PeriodLock, error)
	// ExclusivePeriodLocks blocks lock-guarded transitions and other lock
	// changes until the transaction ends. Call it before reading locks
	// that are about to be changed.
	ExclusivePeriodLocks(ctx context.Context) error
}

// AuditStore is append-only. No Update, no Delete.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, e AuditEvent) error
	// ListAuditEvents returns matches in append order.
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

type Store interface {
	InvoiceStore
	AccountStore
	TxnStore
	PeriodLockStore
	AuditStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// WithReadTx runs fn against one consistent snapshot. fn must not
	// write.
	WithReadTx(ctx context.Context, fn func(Store) error) error
}
