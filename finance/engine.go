/*
engine.go - Finance engine wiring and unit-of-work helper

PURPOSE:
  Engine is the entry point the API layer calls. It owns the TxStore
  and the collaborators that run inside each storage transaction:

    BalanceEngine    invoice status recalculation
    CashBankLedger   the single balance mutator
    PeriodLockGuard  date checks and lock management
    LedgerPoster     invoice payment/refund -> operational txn
    AuditWriter      append-only audit trail

  Each public operation is one WithTx call: re-read under the
  transaction, validate, write, audit. Any error rolls everything back.

CONFIGURATION:
  engine := finance.NewEngine(store,
      finance.WithClock(clock),
      finance.WithLogger(logger),
      finance.WithPostingAccounts("4100", "4190"),
  )

SEE ALSO:
  - invoice_service.go, workflow.go, accounts.go: Operations
*/
package finance

import (
	"context"
	"log/slog"
	"strings"
)

// Default chart-of-accounts codes used by the ledger poster.
const (
	DefaultIncomeAccountCode = "4100"
	DefaultRefundAccountCode = "4190"
)

type Engine struct {
	store  TxStore
	clock  Clock
	logger *slog.Logger

	balances BalanceEngine
	cash     CashBankLedger
	locks    PeriodLockGuard
	poster   LedgerPoster
	audit    AuditWriter
}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPostingAccounts sets the chart-of-accounts codes the poster books
// invoice payments and refunds against.
func WithPostingAccounts(incomeCode, refundCode string) Option {
	return func(e *Engine) {
		if incomeCode != "" {
			e.poster.IncomeAccountCode = incomeCode
		}
		if refundCode != "" {
			e.poster.RefundAccountCode = refundCode
		}
	}
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		clock:  SystemClock,
		logger: slog.Default(),
		poster: LedgerPoster{
			IncomeAccountCode: DefaultIncomeAccountCode,
			RefundAccountCode: DefaultRefundAccountCode,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cash = CashBankLedger{Clock: e.clock}
	e.locks = PeriodLockGuard{Clock: e.clock}
	e.audit = AuditWriter{Clock: e.clock}
	e.poster.Clock = e.clock
	e.poster.Locks = e.locks
	return e
}

// Store exposes the underlying store for read projections and fixtures.
func (e *Engine) Store() TxStore { return e.store }

// inTx runs fn as one unit of work and logs the outcome.
func (e *Engine) inTx(ctx context.Context, op string, fn func(Store) error) error {
	err := e.store.WithTx(ctx, fn)
	switch {
	case err == nil:
		e.logger.Debug("finance operation committed", slog.String("op", op))
	case IsClientError(err) || IsNotFound(err):
		e.logger.Warn("finance operation rejected", slog.String("op", op), slog.String("error", err.Error()))
	default:
		e.logger.Error("finance operation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
	return err
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return invalid("actor", "actor identity is required")
	}
	return nil
}
