package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect captures the few SQL differences between MySQL and SQLite.
type Dialect struct {
	Name       string
	lockSuffix string
}

var (
	// MySQL locks rows read inside a transaction with FOR UPDATE.
	MySQL = Dialect{Name: "mysql", lockSuffix: " FOR UPDATE"}
	// SQLite serialises writers itself and has no row locks.
	SQLite = Dialect{Name: "sqlite"}
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store is the SQL backed persistence for reservations, payments, check-in
// tokens and inventory.  Reads that do not need a consistent snapshot run
// directly on the pool; every mutation that must be atomic goes through
// WithTx.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// NewStore binds a Store to db.
func NewStore(db *sql.DB, dialect Dialect) *Store { return &Store{db: db, dialect: dialect} }

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Tx is a unit of work.  Methods ending in ForUpdate take row locks on
// MySQL.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// WithTx runs fn in a transaction.  The transaction commits when fn
// returns nil and rolls back otherwise.  fn must not perform network I/O
// other than database calls.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()
	if err := fn(&Tx{tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
