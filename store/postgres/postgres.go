/*
Package postgres provides the PostgreSQL backend for the finance ledger.

PURPOSE:
  Connects through a pgx connection pool, exposes it as a *sql.DB via the
  pgx stdlib adapter and hands it to sqlstore. Migrations run on a
  separate short-lived connection, the same way the server did before the
  pool existed.

CONCURRENCY:
  Transactions run at READ COMMITTED. Every Lock* read appends
  FOR UPDATE, so two approvers racing on the same txn or account
  serialize on the row lock and the loser re-reads the committed state.
  Overlapping period locks are also rejected by an exclusion constraint.
  Reading period locks inside a transaction takes a SHARE table lock, so
  an approval and a new lock covering its date cannot both commit.
  WithReadTx runs at REPEATABLE READ READ ONLY.

CONSTRAINT ERRORS:
  23505 unique_violation       -> finance.ErrDuplicate
  23P01 exclusion_violation    -> finance.ErrOverlappingLock
  23514 check_violation        -> finance.ErrValidation
  23503 foreign_key_violation  -> finance.ErrValidation

SEE ALSO:
  - store/sqlstore: Shared query implementation
  - store/sqlite: SQLite backend
*/
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	migrate "github.com/golang-migrate/migrate/v4"
	mpostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/finance-ledger/finance"
	"github.com/warp/finance-ledger/store/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect is the sqlstore dialect for PostgreSQL.
var Dialect = sqlstore.Dialect{
	Name:          "postgres",
	Placeholder:   sqlstore.DollarNumbered,
	LockClause:    " FOR UPDATE",
	TxOptions:     &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	ReadTxOptions: &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
	// SHARE lets guarded transitions run side by side while blocking lock
	// inserts and deletes; SHARE ROW EXCLUSIVE also excludes itself.
	SharePeriodLocks:     "LOCK TABLE period_locks IN SHARE MODE",
	ExclusivePeriodLocks: "LOCK TABLE period_locks IN SHARE ROW EXCLUSIVE MODE",
	Translate:            translate,
}

// Store is a sqlstore.Store that also owns the pgx pool behind it.
type Store struct {
	*sqlstore.Store
	pool *pgxpool.Pool
}

// New connects to databaseURL, optionally migrates, and returns the store.
func New(ctx context.Context, databaseURL string, runMigrations bool) (*Store, error) {
	if runMigrations {
		if err := Migrate(databaseURL); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	return &Store{Store: sqlstore.New(db, Dialect), pool: pool}, nil
}

// Close releases the sql.DB wrapper and then the pool.
func (s *Store) Close() error {
	err := s.Store.Close()
	s.pool.Close()
	return err
}

// Migrate applies every pending up migration on its own connection.
func Migrate(databaseURL string) error {
	migrationDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database connection for migrations: %w", err)
	}
	if err := migrationDB.Ping(); err != nil {
		migrationDB.Close()
		return fmt.Errorf("failed to ping database for migrations: %w", err)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		migrationDB.Close()
		return fmt.Errorf("failed to open migration source: %w", err)
	}
	driver, err := mpostgres.WithInstance(migrationDB, &mpostgres.Config{})
	if err != nil {
		src.Close()
		migrationDB.Close()
		return fmt.Errorf("could not create postgres driver instance for migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		src.Close()
		migrationDB.Close()
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	upErr := m.Up()
	// Close releases the source and the migration connection.
	sourceErr, dbErr := m.Close()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return upErr
	}
	if sourceErr != nil {
		return fmt.Errorf("migration source error: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("migration database error: %w", dbErr)
	}
	return nil
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", finance.ErrDuplicate, pgErr.Detail)
	case "23P01":
		return fmt.Errorf("%w: %s", finance.ErrOverlappingLock, pgErr.Message)
	case "23514", "23503":
		return fmt.Errorf("%w: %s", finance.ErrValidation, pgErr.Message)
	}
	return err
}
