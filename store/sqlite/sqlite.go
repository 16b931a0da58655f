/*
Package sqlite provides a SQLite-backed implementation of the finance storage interfaces.

PURPOSE:
  Opens a SQLite database, applies the embedded migrations and hands the
  handle to sqlstore, which implements finance.TxStore. Only the dialect
  lives here: placeholders, error translation and transaction
  serialization.

CONCURRENCY:
  SQLite has a single writer. The store holds a process mutex around each
  WithTx and keeps one open connection, so ":memory:" databases are shared
  by every caller and a transaction always sees its own writes. Lock*
  reads need no FOR UPDATE clause because no other transaction can run
  concurrently.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better crash
  recovery. Foreign keys are switched on per connection.

CONSTRAINT ERRORS:
  UNIQUE/PRIMARY KEY violations   -> finance.ErrDuplicate
  CHECK/FOREIGN KEY violations    -> finance.ErrValidation

USAGE:
  store, err := sqlite.New("./data/finance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := finance.NewEngine(store)

MIGRATION:
  Versioned migrations are embedded from migrations/ and applied with
  golang-migrate on New().

SEE ALSO:
  - store/sqlstore: Shared query implementation
  - store/postgres: PostgreSQL backend
*/
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	migrate "github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/finance-ledger/finance"
	"github.com/warp/finance-ledger/store/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect is the sqlstore dialect for SQLite.
var Dialect = sqlstore.Dialect{
	Name:        "sqlite",
	Placeholder: sqlstore.QuestionMark,
	SerializeTx: true,
	Translate:   translate,
}

// New opens the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return sqlstore.New(db, Dialect), nil
}

// Migrate applies every pending up migration. The migrate instance is not
// closed because that would close db.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}
	defer src.Close()

	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func translate(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %v", finance.ErrDuplicate, err)
	case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintForeignKey, sqlite3.ErrConstraintNotNull:
		return fmt.Errorf("%w: %v", finance.ErrValidation, err)
	}
	return err
}
