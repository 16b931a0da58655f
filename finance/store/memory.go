// Package store provides an in-memory finance.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// MEMORY STATE - Unsynchronized tables; callers hold the lock
// =============================================================================

type memState struct {
	invoices    map[finance.InvoiceID]finance.Invoice
	discounts   map[finance.InvoiceID][]finance.Discount
	payments    map[finance.InvoiceID][]finance.Payment
	refunds     map[finance.InvoiceID][]finance.Refund
	cashBank    map[finance.CashBankAccountID]finance.CashBankAccount
	accounts    map[finance.FinanceAccountID]finance.FinanceAccount
	txns        map[finance.TxnID]finance.OperationalTxn
	periodLocks map[finance.PeriodLockID]finance.PeriodLock
	audit       []finance.AuditEvent
	auditSeq    int64
}

func newMemState() *memState {
	return &memState{
		invoices:    make(map[finance.InvoiceID]finance.Invoice),
		discounts:   make(map[finance.InvoiceID][]finance.Discount),
		payments:    make(map[finance.InvoiceID][]finance.Payment),
		refunds:     make(map[finance.InvoiceID][]finance.Refund),
		cashBank:    make(map[finance.CashBankAccountID]finance.CashBankAccount),
		accounts:    make(map[finance.FinanceAccountID]finance.FinanceAccount),
		txns:        make(map[finance.TxnID]finance.OperationalTxn),
		periodLocks: make(map[finance.PeriodLockID]finance.PeriodLock),
	}
}

// clone copies every table. Records are values and slices are replaced,
// never edited in place, so a shallow copy per table is a full snapshot.
func (m *memState) clone() *memState {
	c := newMemState()
	for k, v := range m.invoices {
		c.invoices[k] = v
	}
	for k, v := range m.discounts {
		c.discounts[k] = append([]finance.Discount(nil), v...)
	}
	for k, v := range m.payments {
		c.payments[k] = append([]finance.Payment(nil), v...)
	}
	for k, v := range m.refunds {
		c.refunds[k] = append([]finance.Refund(nil), v...)
	}
	for k, v := range m.cashBank {
		c.cashBank[k] = v
	}
	for k, v := range m.accounts {
		c.accounts[k] = v
	}
	for k, v := range m.txns {
		c.txns[k] = v
	}
	for k, v := range m.periodLocks {
		c.periodLocks[k] = v
	}
	c.audit = append([]finance.AuditEvent(nil), m.audit...)
	c.auditSeq = m.auditSeq
	return c
}

// --- invoices ---

func (m *memState) CreateInvoice(_ context.Context, inv finance.Invoice) error {
	if _, ok := m.invoices[inv.ID]; ok {
		return fmt.Errorf("invoice %s: %w", inv.ID, finance.ErrDuplicate)
	}
	inv.Items = append([]finance.InvoiceItem(nil), inv.Items...)
	m.invoices[inv.ID] = inv
	return nil
}

func (m *memState) GetInvoice(_ context.Context, id finance.InvoiceID) (finance.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return finance.Invoice{}, finance.NotFound("invoice", id)
	}
	inv.Items = append([]finance.InvoiceItem(nil), inv.Items...)
	return inv, nil
}

func (m *memState) LockInvoice(ctx context.Context, id finance.InvoiceID) (finance.Invoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *memState) UpdateInvoiceStatus(_ context.Context, id finance.InvoiceID, status finance.InvoiceStatus) error {
	inv, ok := m.invoices[id]
	if !ok {
		return finance.NotFound("invoice", id)
	}
	inv.Status = status
	m.invoices[id] = inv
	return nil
}

func (m *memState) UpdateInvoice(_ context.Context, inv finance.Invoice) error {
	cur, ok := m.invoices[inv.ID]
	if !ok {
		return finance.NotFound("invoice", inv.ID)
	}
	cur.Status = inv.Status
	cur.UpdatedAt = inv.UpdatedAt
	cur.VoidedBy = inv.VoidedBy
	cur.VoidedAt = inv.VoidedAt
	cur.VoidReason = inv.VoidReason
	m.invoices[inv.ID] = cur
	return nil
}

func (m *memState) ListInvoices(_ context.Context, filter finance.InvoiceFilter) ([]finance.Invoice, error) {
	var out []finance.Invoice
	for _, inv := range m.invoices {
		if finance.MatchesInvoiceFilter(inv, filter) {
			inv.Items = append([]finance.InvoiceItem(nil), inv.Items...)
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memState) CreateDiscount(_ context.Context, d finance.Discount) error {
	if _, ok := m.invoices[d.InvoiceID]; !ok {
		return finance.NotFound("invoice", d.InvoiceID)
	}
	m.discounts[d.InvoiceID] = append(append([]finance.Discount(nil), m.discounts[d.InvoiceID]...), d)
	return nil
}

func (m *memState) UpdateDiscount(_ context.Context, d finance.Discount) error {
	list := append([]finance.Discount(nil), m.discounts[d.InvoiceID]...)
	for i := range list {
		if list[i].ID == d.ID {
			list[i].Amount = d.Amount
			list[i].Reason = d.Reason
			list[i].UpdatedAt = d.UpdatedAt
			m.discounts[d.InvoiceID] = list
			return nil
		}
	}
	return finance.NotFound("discount", d.ID)
}

func (m *memState) DeleteDiscount(_ context.Context, id finance.DiscountID) error {
	for invID, list := range m.discounts {
		for i := range list {
			if list[i].ID == id {
				next := append([]finance.Discount(nil), list[:i]...)
				m.discounts[invID] = append(next, list[i+1:]...)
				return nil
			}
		}
	}
	return finance.NotFound("discount", id)
}

func (m *memState) ListDiscounts(_ context.Context, invoiceID finance.InvoiceID) ([]finance.Discount, error) {
	return append([]finance.Discount(nil), m.discounts[invoiceID]...), nil
}

func (m *memState) CreatePayment(_ context.Context, p finance.Payment) error {
	if _, ok := m.invoices[p.InvoiceID]; !ok {
		return finance.NotFound("invoice", p.InvoiceID)
	}
	m.payments[p.InvoiceID] = append(append([]finance.Payment(nil), m.payments[p.InvoiceID]...), p)
	return nil
}

func (m *memState) GetPayment(_ context.Context, id finance.PaymentID) (finance.Payment, error) {
	for _, list := range m.payments {
		for _, p := range list {
			if p.ID == id {
				return p, nil
			}
		}
	}
	return finance.Payment{}, finance.NotFound("payment", id)
}

func (m *memState) ListPayments(_ context.Context, invoiceID finance.InvoiceID) ([]finance.Payment, error) {
	return append([]finance.Payment(nil), m.payments[invoiceID]...), nil
}

func (m *memState) CreateRefund(_ context.Context, r finance.Refund) error {
	if _, ok := m.invoices[r.InvoiceID]; !ok {
		return finance.NotFound("invoice", r.InvoiceID)
	}
	m.refunds[r.InvoiceID] = append(append([]finance.Refund(nil), m.refunds[r.InvoiceID]...), r)
	return nil
}

func (m *memState) ListRefunds(_ context.Context, invoiceID finance.InvoiceID) ([]finance.Refund, error) {
	return append([]finance.Refund(nil), m.refunds[invoiceID]...), nil
}

// --- accounts ---

func (m *memState) CreateCashBankAccount(_ context.Context, a finance.CashBankAccount) error {
	for _, existing := range m.cashBank {
		if existing.Code == a.Code {
			return fmt.Errorf("cash/bank account code %s: %w", a.Code, finance.ErrDuplicate)
		}
	}
	m.cashBank[a.ID] = a
	return nil
}

func (m *memState) GetCashBankAccount(_ context.Context, id finance.CashBankAccountID) (finance.CashBankAccount, error) {
	a, ok := m.cashBank[id]
	if !ok {
		return finance.CashBankAccount{}, finance.NotFound("cash/bank account", id)
	}
	return a, nil
}

func (m *memState) LockCashBankAccount(ctx context.Context, id finance.CashBankAccountID) (finance.CashBankAccount, error) {
	return m.GetCashBankAccount(ctx, id)
}

func (m *memState) UpdateCashBankAccount(_ context.Context, a finance.CashBankAccount) error {
	cur, ok := m.cashBank[a.ID]
	if !ok {
		return finance.NotFound("cash/bank account", a.ID)
	}
	cur.Balance = a.Balance
	cur.Active = a.Active
	cur.UpdatedAt = a.UpdatedAt
	m.cashBank[a.ID] = cur
	return nil
}

func (m *memState) ListCashBankAccounts(_ context.Context) ([]finance.CashBankAccount, error) {
	out := make([]finance.CashBankAccount, 0, len(m.cashBank))
	for _, a := range m.cashBank {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memState) CreateFinanceAccount(_ context.Context, a finance.FinanceAccount) error {
	for _, existing := range m.accounts {
		if existing.Code == a.Code {
			return fmt.Errorf("finance account code %s: %w", a.Code, finance.ErrDuplicate)
		}
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *memState) GetFinanceAccount(_ context.Context, id finance.FinanceAccountID) (finance.FinanceAccount, error) {
	a, ok := m.accounts[id]
	if !ok {
		return finance.FinanceAccount{}, finance.NotFound("finance account", id)
	}
	return a, nil
}

func (m *memState) GetFinanceAccountByCode(_ context.Context, code string) (finance.FinanceAccount, error) {
	for _, a := range m.accounts {
		if a.Code == code {
			return a, nil
		}
	}
	return finance.FinanceAccount{}, finance.NotFound("finance account", code)
}

func (m *memState) ListFinanceAccounts(_ context.Context) ([]finance.FinanceAccount, error) {
	out := make([]finance.FinanceAccount, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// --- operational transactions ---

func (m *memState) CreateTxn(_ context.Context, t finance.OperationalTxn) error {
	if _, ok := m.txns[t.ID]; ok {
		return fmt.Errorf("transaction %s: %w", t.ID, finance.ErrDuplicate)
	}
	m.txns[t.ID] = t
	return nil
}

func (m *memState) GetTxn(_ context.Context, id finance.TxnID) (finance.OperationalTxn, error) {
	t, ok := m.txns[id]
	if !ok {
		return finance.OperationalTxn{}, finance.NotFound("transaction", id)
	}
	return t, nil
}

func (m *memState) LockTxn(ctx context.Context, id finance.TxnID) (finance.OperationalTxn, error) {
	return m.GetTxn(ctx, id)
}

func (m *memState) UpdateTxn(_ context.Context, t finance.OperationalTxn) error {
	if _, ok := m.txns[t.ID]; !ok {
		return finance.NotFound("transaction", t.ID)
	}
	m.txns[t.ID] = t
	return nil
}

func (m *memState) ListTxns(_ context.Context, filter finance.TxnFilter) ([]finance.OperationalTxn, error) {
	var out []finance.OperationalTxn
	for _, t := range m.txns {
		if finance.MatchesTxnFilter(t, filter) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.TxnDate.Equal(b.TxnDate) {
			return a.TxnDate.Before(b.TxnDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// --- period locks ---

func (m *memState) CreatePeriodLock(_ context.Context, l finance.PeriodLock) error {
	for _, existing := range m.periodLocks {
		if existing.Range().Overlaps(l.Range()) {
			return finance.ErrOverlappingLock
		}
	}
	m.periodLocks[l.ID] = l
	return nil
}

func (m *memState) GetPeriodLock(_ context.Context, id finance.PeriodLockID) (finance.PeriodLock, error) {
	l, ok := m.periodLocks[id]
	if !ok {
		return finance.PeriodLock{}, finance.NotFound("period lock", id)
	}
	return l, nil
}

func (m *memState) DeletePeriodLock(_ context.Context, id finance.PeriodLockID) error {
	if _, ok := m.periodLocks[id]; !ok {
		return finance.NotFound("period lock", id)
	}
	delete(m.periodLocks, id)
	return nil
}

func (m *memState) FindPeriodLocks(_ context.Context, from, to finance.Date) ([]finance.PeriodLock, error) {
	window := finance.DateRange{Start: from, End: to}
	var out []finance.PeriodLock
	for _, l := range m.periodLocks {
		if l.Range().Overlaps(window) {
			out = append(out, l)
		}
	}
	sortLocks(out)
	return out, nil
}

func (m *memState) ListPeriodLocks(_ context.Context) ([]finance.PeriodLock, error) {
	out := make([]finance.PeriodLock, 0, len(m.periodLocks))
	for _, l := range m.periodLocks {
		out = append(out, l)
	}
	sortLocks(out)
	return out, nil
}

// ExclusivePeriodLocks is a no-op: TxMemory runs one transaction at a time.
func (m *memState) ExclusivePeriodLocks(context.Context) error { return nil }

func sortLocks(locks []finance.PeriodLock) {
	sort.Slice(locks, func(i, j int) bool { return locks[i].StartDate.Before(locks[j].StartDate) })
}

// --- audit (append-only) ---

func (m *memState) AppendAuditEvent(_ context.Context, e finance.AuditEvent) error {
	m.auditSeq++
	e.Seq = m.auditSeq
	m.audit = append(m.audit, e)
	return nil
}

func (m *memState) ListAuditEvents(_ context.Context, filter finance.AuditFilter) ([]finance.AuditEvent, error) {
	var out []finance.AuditEvent
	for _, e := range m.audit {
		if finance.MatchesAuditFilter(e, filter) {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory is a finance.TxStore backed by maps. One transaction runs at a
// time; reads outside WithTx see committed state only.
type TxMemory struct {
	mu    sync.RWMutex
	state *memState
}

func NewTxMemory() *TxMemory {
	return &TxMemory{state: newMemState()}
}

// WithTx executes fn against a working copy and swaps it in on success.
// On error the working copy is discarded, which is the rollback.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(finance.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	working := tm.state.clone()
	if err := fn(working); err != nil {
		return err
	}
	tm.state = working
	return nil
}

// WithReadTx hands fn the committed state as of the call. Published states
// are never mutated, so no lock is held while fn runs.
func (tm *TxMemory) WithReadTx(_ context.Context, fn func(finance.Store) error) error {
	return fn(tm.read())
}

// Reset drops every record. Used by demo scenario loading.
func (tm *TxMemory) Reset(context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.state = newMemState()
	return nil
}

func (tm *TxMemory) read() *memState {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.state
}

// Committed-state reads. A transaction replaces tm.state wholesale on
// commit and never mutates a published state, so reading a snapshot
// pointer without holding the lock for the whole call is safe.

func (tm *TxMemory) GetInvoice(ctx context.Context, id finance.InvoiceID) (finance.Invoice, error) {
	return tm.read().GetInvoice(ctx, id)
}

func (tm *TxMemory) LockInvoice(ctx context.Context, id finance.InvoiceID) (finance.Invoice, error) {
	return tm.read().LockInvoice(ctx, id)
}

func (tm *TxMemory) ListInvoices(ctx context.Context, f finance.InvoiceFilter) ([]finance.Invoice, error) {
	return tm.read().ListInvoices(ctx, f)
}

func (tm *TxMemory) ListDiscounts(ctx context.Context, id finance.InvoiceID) ([]finance.Discount, error) {
	return tm.read().ListDiscounts(ctx, id)
}

func (tm *TxMemory) GetPayment(ctx context.Context, id finance.PaymentID) (finance.Payment, error) {
	return tm.read().GetPayment(ctx, id)
}

func (tm *TxMemory) ListPayments(ctx context.Context, id finance.InvoiceID) ([]finance.Payment, error) {
	return tm.read().ListPayments(ctx, id)
}

func (tm *TxMemory) ListRefunds(ctx context.Context, id finance.InvoiceID) ([]finance.Refund, error) {
	return tm.read().ListRefunds(ctx, id)
}

func (tm *TxMemory) GetCashBankAccount(ctx context.Context, id finance.CashBankAccountID) (finance.CashBankAccount, error) {
	return tm.read().GetCashBankAccount(ctx, id)
}

func (tm *TxMemory) LockCashBankAccount(ctx context.Context, id finance.CashBankAccountID) (finance.CashBankAccount, error) {
	return tm.read().LockCashBankAccount(ctx, id)
}

func (tm *TxMemory) ListCashBankAccounts(ctx context.Context) ([]finance.CashBankAccount, error) {
	return tm.read().ListCashBankAccounts(ctx)
}

func (tm *TxMemory) GetFinanceAccount(ctx context.Context, id finance.FinanceAccountID) (finance.FinanceAccount, error) {
	return tm.read().GetFinanceAccount(ctx, id)
}

func (tm *TxMemory) GetFinanceAccountByCode(ctx context.Context, code string) (finance.FinanceAccount, error) {
	return tm.read().GetFinanceAccountByCode(ctx, code)
}

func (tm *TxMemory) ListFinanceAccounts(ctx context.Context) ([]finance.FinanceAccount, error) {
	return tm.read().ListFinanceAccounts(ctx)
}

func (tm *TxMemory) GetTxn(ctx context.Context, id finance.TxnID) (finance.OperationalTxn, error) {
	return tm.read().GetTxn(ctx, id)
}

func (tm *TxMemory) LockTxn(ctx context.Context, id finance.TxnID) (finance.OperationalTxn, error) {
	return tm.read().LockTxn(ctx, id)
}

func (tm *TxMemory) ListTxns(ctx context.Context, f finance.TxnFilter) ([]finance.OperationalTxn, error) {
	return tm.read().ListTxns(ctx, f)
}

func (tm *TxMemory) GetPeriodLock(ctx context.Context, id finance.PeriodLockID) (finance.PeriodLock, error) {
	return tm.read().GetPeriodLock(ctx, id)
}

func (tm *TxMemory) FindPeriodLocks(ctx context.Context, from, to finance.Date) ([]finance.PeriodLock, error) {
	return tm.read().FindPeriodLocks(ctx, from, to)
}

func (tm *TxMemory) ListPeriodLocks(ctx context.Context) ([]finance.PeriodLock, error) {
	return tm.read().ListPeriodLocks(ctx)
}

func (tm *TxMemory) ExclusivePeriodLocks(context.Context) error { return nil }

func (tm *TxMemory) ListAuditEvents(ctx context.Context, f finance.AuditFilter) ([]finance.AuditEvent, error) {
	return tm.read().ListAuditEvents(ctx, f)
}

// Single writes outside WithTx run as their own one-statement transaction.

func (tm *TxMemory) CreateInvoice(ctx context.Context, inv finance.Invoice) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.CreateInvoice(ctx, inv) })
}

func (tm *TxMemory) UpdateInvoiceStatus(ctx context.Context, id finance.InvoiceID, status finance.InvoiceStatus) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.UpdateInvoiceStatus(ctx, id, status) })
}

func (tm *TxMemory) UpdateInvoice(ctx context.Context, inv finance.Invoice) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.UpdateInvoice(ctx, inv) })
}

func (tm *TxMemory) CreateDiscount(ctx context.Context, d finance.Discount) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.CreateDiscount(ctx, d) })
}

func (tm *TxMemory) UpdateDiscount(ctx context.Context, d finance.Discount) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.UpdateDiscount(ctx, d) })
}

func (tm *TxMemory) DeleteDiscount(ctx context.Context, id finance.DiscountID) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.DeleteDiscount(ctx, id) })
}

func (tm *TxMemory) CreatePayment(ctx context.Context, p finance.Payment) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.CreatePayment(ctx, p) })
}

func (tm *TxMemory) CreateRefund(ctx context.Context, r finance.Refund) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.CreateRefund(ctx, r) })
}

func (tm *TxMemory) CreateCashBankAccount(ctx context.Context, a finance.CashBankAccount) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.CreateCashBankAccount(ctx, a) })
}

func (tm *TxMemory) UpdateCashBankAccount(ctx context.Context, a finance.CashBankAccount) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.UpdateCashBankAccount(ctx, a) })
}

func (tm *TxMemory) CreateFinanceAccount(ctx context.Context, a finance.FinanceAccount) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.CreateFinanceAccount(ctx, a) })
}

func (tm *TxMemory) CreateTxn(ctx context.Context, t finance.OperationalTxn) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.CreateTxn(ctx, t) })
}

func (tm *TxMemory) UpdateTxn(ctx context.Context, t finance.OperationalTxn) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.UpdateTxn(ctx, t) })
}

func (tm *TxMemory) CreatePeriodLock(ctx context.Context, l finance.PeriodLock) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.CreatePeriodLock(ctx, l) })
}

func (tm *TxMemory) DeletePeriodLock(ctx context.Context, id finance.PeriodLockID) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.DeletePeriodLock(ctx, id) })
}

func (tm *TxMemory) AppendAuditEvent(ctx context.Context, e finance.AuditEvent) error {
	return tm.WithTx(ctx, func(s finance.Store) error { return s.AppendAuditEvent(ctx, e) })
}

var (
	_ finance.TxStore = (*TxMemory)(nil)
	_ finance.Store   = (*memState)(nil)
)
