/*
Package sqlstore implements finance.TxStore over database/sql.

PURPOSE:
  One implementation of every finance persistence interface, shared by
  the SQLite and PostgreSQL backends. The backends differ only in the
  Dialect they pass in:

    Placeholder   "?" (SQLite) or "$1" (PostgreSQL)
    LockClause    "" or " FOR UPDATE" appended to Lock* reads inside a tx
    SerializeTx   hold a process mutex around each transaction (SQLite
                  is single-writer; PostgreSQL relies on row locks)
    Translate     map driver constraint errors onto finance sentinels
    PeriodLocks   table-lock statements guarding period_locks inside a tx

KEY TABLES:
  invoices, invoice_items, invoice_discounts, invoice_payments,
  invoice_refunds, cash_bank_accounts, finance_accounts,
  operational_txns, period_locks, audit_events

DATES AND TIMES:
  Business dates are bound as YYYY-MM-DD text, timestamps as fixed-width
  RFC 3339 UTC text. Both parse back from TEXT (SQLite) and from
  DATE/TIMESTAMPTZ (PostgreSQL), see scan.go.

UNIT OF WORK:
  WithTx hands fn a Store bound to one *sql.Tx. Everything fn does
  commits together or is rolled back together.

SEE ALSO:
  - finance/store.go: Interface definitions
  - store/sqlite, store/postgres: Backends and migrations
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// DIALECT
// =============================================================================

type Placeholder int

const (
	QuestionMark Placeholder = iota
	DollarNumbered
)

type Dialect struct {
	Name        string
	Placeholder Placeholder
	LockClause  string
	SerializeTx bool
	TxOptions   *sql.TxOptions
	// ReadTxOptions is used by WithReadTx; it must give one snapshot for
	// the whole transaction.
	ReadTxOptions *sql.TxOptions
	// SharePeriodLocks runs before period lock reads inside a tx, and
	// ExclusivePeriodLocks before lock changes. Empty means the backend
	// already serializes transactions.
	SharePeriodLocks     string
	ExclusivePeriodLocks string
	Translate            func(error) error
}

// rebind rewrites "?" placeholders into the dialect's style.
func (d *Dialect) rebind(query string) string {
	if d.Placeholder != DollarNumbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *Dialect) translate(err error) error {
	if err == nil || d.Translate == nil {
		return err
	}
	return d.Translate(err)
}

// =============================================================================
// STORE
// =============================================================================

// Store implements finance.TxStore. Methods called directly on Store run
// in autocommit mode against committed state.
type Store struct {
	*queries
	db      *sql.DB
	dialect *Dialect
	mu      sync.Mutex
}

func New(db *sql.DB, dialect Dialect) *Store {
	d := dialect
	return &Store{
		queries: &queries{q: db, d: &d},
		db:      db,
		dialect: &d,
	}
}

// DB exposes the handle for migrations and health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// WithTx executes fn within a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(finance.Store) error) error {
	if s.dialect.SerializeTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	tx, err := s.db.BeginTx(ctx, s.dialect.TxOptions)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx, d: s.dialect, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.dialect.translate(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// WithReadTx runs fn in a read-only transaction so multi-table reads
// see one snapshot.
func (s *Store) WithReadTx(ctx context.Context, fn func(finance.Store) error) error {
	if s.dialect.SerializeTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	tx, err := s.db.BeginTx(ctx, s.dialect.ReadTxOptions)
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx, d: s.dialect}); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset deletes every row. Used by demo scenario loading.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(st finance.Store) error {
		q := st.(*queries)
		for _, table := range []string{
			"audit_events", "invoice_refunds", "invoice_payments", "invoice_discounts",
			"invoice_items", "invoices", "operational_txns", "period_locks",
			"cash_bank_accounts", "finance_accounts",
		} {
			if err := q.exec(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// QUERIES - finance.Store bound to a *sql.DB or *sql.Tx
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q    execer
	d    *Dialect
	inTx bool
}

func (x *queries) exec(ctx context.Context, query string, args ...any) error {
	_, err := x.q.ExecContext(ctx, x.d.rebind(query), args...)
	return x.d.translate(err)
}

// execOne runs a write that must touch exactly one row.
func (x *queries) execOne(ctx context.Context, notFound error, query string, args ...any) error {
	res, err := x.q.ExecContext(ctx, x.d.rebind(query), args...)
	if err != nil {
		return x.d.translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (x *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := x.q.QueryContext(ctx, x.d.rebind(query), args...)
	return rows, x.d.translate(err)
}

func (x *queries) row(ctx context.Context, query string, args ...any) *sql.Row {
	return x.q.QueryRowContext(ctx, x.d.rebind(query), args...)
}

// forUpdate returns the row-lock suffix when running inside a transaction.
func (x *queries) forUpdate() string {
	if x.inTx {
		return x.d.LockClause
	}
	return ""
}

// where accumulates AND-ed conditions for list queries.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

var (
	_ finance.TxStore = (*Store)(nil)
	_ finance.Store   = (*queries)(nil)
)
