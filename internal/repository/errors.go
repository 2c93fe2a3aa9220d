// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow the service layer to
// distinguish between different failure scenarios without depending on
// driver specific error types.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup by key matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a compare-and-swap update matched no row
// because the stored state changed, such as finalizing a payment that is
// no longer pending.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when an insert violates a uniqueness
// constraint: an idempotency key, a consumed token id or an occupied
// unit night.
var ErrDuplicate = errors.New("duplicate key")

// isDuplicateKey recognises unique violations from MySQL (1062) and from
// the SQLite engine used in tests.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// mapInsertErr converts duplicate key errors into ErrDuplicate.
func mapInsertErr(err error) error {
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}
