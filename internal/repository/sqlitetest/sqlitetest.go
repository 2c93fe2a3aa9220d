// Package sqlitetest opens a migrated SQLite store in a temp directory for
// package tests.
package sqlitetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/iliyamo/resort-booking-core/internal/database"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/repository"
)

// Open returns a store over a fresh database.  The pool is limited to one
// connection, which serialises transactions the way row locks do on MySQL.
func Open(t *testing.T) *repository.Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "booking.db")+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db, database.DialectSQLite))
	return repository.NewStore(db, repository.SQLite)
}

// SeedUnit inserts an active unit.
func SeedUnit(t *testing.T, s *repository.Store, id string, rate int64) {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateUnit(context.Background(), model.Unit{
		ID: id, Name: "Unit " + id, Kind: model.UnitCottage, BaseRate: rate, Active: true, CreatedAt: now, UpdatedAt: now,
	}))
}
