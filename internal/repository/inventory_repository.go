package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/resort-booking-core/internal/model"
)

const unitColumns = `id, name, kind, base_rate, active, created_at, updated_at`

func scanUnit(row rowScanner) (model.Unit, error) {
	var u model.Unit
	err := row.Scan(&u.ID, &u.Name, &u.Kind, &u.BaseRate, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// CreateUnit inserts a new inventory unit.  A reused id yields
// ErrDuplicate.
func (s *Store) CreateUnit(ctx context.Context, u model.Unit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO units (`+unitColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Kind, u.BaseRate, u.Active, u.CreatedAt, u.UpdatedAt)
	return mapInsertErr(err)
}

// UpdateUnit changes the catalog rate and active flag.  Existing
// assignments keep their rate snapshot.
func (s *Store) UpdateUnit(ctx context.Context, u model.Unit) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE units SET name = ?, base_rate = ?, active = ?, updated_at = ? WHERE id = ?`,
		u.Name, u.BaseRate, u.Active, u.UpdatedAt, u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUnits returns the catalog ordered by name.
func (s *Store) ListUnits(ctx context.Context, activeOnly bool) ([]model.Unit, error) {
	q := `SELECT ` + unitColumns + ` FROM units`
	if activeOnly {
		q += ` WHERE active = TRUE`
	}
	q += ` ORDER BY name, id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Unit{}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// LockUnits reads the requested units and, on MySQL, locks their rows
// until the transaction ends.  Concurrent bookings touching the same unit
// serialise here.  Rows are locked in id order to avoid deadlocks.
func (t *Tx) LockUnits(ctx context.Context, ids []string) ([]model.Unit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + unitColumns + ` FROM units WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id` + t.dialect.lockSuffix
	rows, err := t.tx.QueryContext(ctx, q, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const tourColumns = `id, name, adult_rate, kid_rate, daily_capacity, active, created_at, updated_at`

func scanTour(row rowScanner) (model.TourService, error) {
	var ts model.TourService
	err := row.Scan(&ts.ID, &ts.Name, &ts.AdultRate, &ts.KidRate, &ts.DailyCapacity, &ts.Active, &ts.CreatedAt, &ts.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ts, ErrNotFound
	}
	return ts, err
}

// CreateTourService inserts a tour into the catalog.
func (s *Store) CreateTourService(ctx context.Context, ts model.TourService) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tour_services (`+tourColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.ID, ts.Name, ts.AdultRate, ts.KidRate, ts.DailyCapacity, ts.Active, ts.CreatedAt, ts.UpdatedAt)
	return mapInsertErr(err)
}

// ListTourServices returns active tours ordered by name.
func (s *Store) ListTourServices(ctx context.Context) ([]model.TourService, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tourColumns+` FROM tour_services WHERE active = TRUE ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TourService{}
	for rows.Next() {
		ts, err := scanTour(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// LockTourService reads a tour and locks its row so capacity checks for
// the same service serialise.
func (t *Tx) LockTourService(ctx context.Context, id string) (model.TourService, error) {
	return scanTour(t.tx.QueryRowContext(ctx,
		`SELECT `+tourColumns+` FROM tour_services WHERE id = ?`+t.dialect.lockSuffix, id))
}
