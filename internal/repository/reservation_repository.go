package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/statemachine"
)

const reservationColumns = `id, code, guest_id, kind, check_in, check_out, status, total_amount,
	deposit_required, amount_paid, hold_expires_at, notes, idempotency_key,
	escrow_chain_key, escrow_tx_hash, escrow_onchain_id, escrow_state, escrow_amount, escrow_updated_at,
	created_at, updated_at`

// scanReservation maps a reservations row.  Legacy status spellings are
// canonicalised; an unknown value falls back to pending_payment so the row
// can still be inspected and cancelled.
func scanReservation(row rowScanner) (model.Reservation, error) {
	var (
		r                          model.Reservation
		kind, checkIn, checkOut    string
		status, escrowState        string
		holdExpires, escrowUpdated sql.NullTime
		notes, idemKey             sql.NullString
		chainKey, txHash, onchain  sql.NullString
	)
	err := row.Scan(&r.ID, &r.Code, &r.GuestID, &kind, &checkIn, &checkOut, &status, &r.TotalAmount,
		&r.DepositRequired, &r.AmountPaid, &holdExpires, &notes, &idemKey,
		&chainKey, &txHash, &onchain, &escrowState, &r.Escrow.Amount, &escrowUpdated,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.Kind = model.ReservationKind(kind)
	if r.CheckIn, err = model.ParseDate(checkIn); err != nil {
		return r, err
	}
	if r.CheckOut, err = model.ParseDate(checkOut); err != nil {
		return r, err
	}
	if s, ok := model.ParseReservationStatus(status); ok {
		r.Status = s
	} else {
		r.Status = model.StatusPendingPayment
	}
	if holdExpires.Valid {
		t := holdExpires.Time.UTC()
		r.HoldExpiresAt = &t
	}
	r.Notes = notes.String
	r.IdempotencyKey = idemKey.String
	r.Escrow.ChainKey = chainKey.String
	r.Escrow.TxHash = txHash.String
	r.Escrow.OnchainID = onchain.String
	r.Escrow.State = model.EscrowState(escrowState)
	if escrowUpdated.Valid {
		t := escrowUpdated.Time.UTC()
		r.Escrow.UpdatedAt = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func getReservation(ctx context.Context, q querier, where string, args ...any) (model.Reservation, error) {
	return scanReservation(q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE `+where, args...))
}

// GetReservation loads a reservation by id.
func (s *Store) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	return getReservation(ctx, s.db, `id = ?`, id)
}

// GetReservationByCode loads a reservation by its human readable code.
func (s *Store) GetReservationByCode(ctx context.Context, code string) (model.Reservation, error) {
	return getReservation(ctx, s.db, `code = ?`, strings.ToUpper(strings.TrimSpace(code)))
}

// FindReservationByIdempotencyKey returns the reservation a guest already
// created with key, or ErrNotFound.
func (s *Store) FindReservationByIdempotencyKey(ctx context.Context, guestID, key string) (model.Reservation, error) {
	return getReservation(ctx, s.db, `guest_id = ? AND idempotency_key = ?`, guestID, key)
}

// GetReservation loads a reservation inside the transaction without
// locking it.
func (t *Tx) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	return getReservation(ctx, t.tx, `id = ?`, id)
}

// GetReservationForUpdate loads a reservation and locks its row.
func (t *Tx) GetReservationForUpdate(ctx context.Context, id string) (model.Reservation, error) {
	return getReservation(ctx, t.tx, `id = ?`+t.dialect.lockSuffix, id)
}

// FindReservationByIdempotencyKey is the in-transaction variant.
func (t *Tx) FindReservationByIdempotencyKey(ctx context.Context, guestID, key string) (model.Reservation, error) {
	return getReservation(ctx, t.tx, `guest_id = ? AND idempotency_key = ?`, guestID, key)
}

// InsertReservation writes a new reservation row.  A reused code or
// idempotency key yields ErrDuplicate.
func (t *Tx) InsertReservation(ctx context.Context, r model.Reservation) error {
	var holdExpires sql.NullTime
	if r.HoldExpiresAt != nil {
		holdExpires = sql.NullTime{Time: *r.HoldExpiresAt, Valid: true}
	}
	var escrowUpdated sql.NullTime
	if r.Escrow.UpdatedAt != nil {
		escrowUpdated = sql.NullTime{Time: *r.Escrow.UpdatedAt, Valid: true}
	}
	escrowState := r.Escrow.State
	if escrowState == "" {
		escrowState = model.EscrowNone
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO reservations (`+reservationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Code, r.GuestID, string(r.Kind), model.FormatDate(r.CheckIn), model.FormatDate(r.CheckOut),
		string(r.Status), r.TotalAmount, r.DepositRequired, r.AmountPaid, holdExpires,
		nullString(r.Notes), nullString(r.IdempotencyKey),
		nullString(r.Escrow.ChainKey), nullString(r.Escrow.TxHash), nullString(r.Escrow.OnchainID),
		string(escrowState), r.Escrow.Amount, escrowUpdated,
		r.CreatedAt, r.UpdatedAt)
	return mapInsertErr(err)
}

// UpdateReservationStatus moves a reservation from one status to another
// only while the stored status still equals from.  It returns
// statemachine.ErrStale when another writer got there first.
func (t *Tx) UpdateReservationStatus(ctx context.Context, id string, from, to model.ReservationStatus, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at, id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return statemachine.ErrStale
	}
	return nil
}

// InsertStatusEvent appends to the status audit trail.
func (t *Tx) InsertStatusEvent(ctx context.Context, ev model.StatusEvent) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO reservation_status_events
		 (id, reservation_id, from_status, to_status, trigger_name, actor_id, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ReservationID, string(ev.From), string(ev.To), ev.Trigger, ev.ActorID,
		nullString(ev.Reason), ev.CreatedAt)
	return err
}

// ListStatusEvents returns a reservation's transitions oldest first.
func (s *Store) ListStatusEvents(ctx context.Context, reservationID string) ([]model.StatusEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reservation_id, from_status, to_status, trigger_name, actor_id, reason, created_at
		 FROM reservation_status_events WHERE reservation_id = ? ORDER BY created_at, id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.StatusEvent{}
	for rows.Next() {
		var (
			ev       model.StatusEvent
			from, to string
			reason   sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.ReservationID, &from, &to, &ev.Trigger, &ev.ActorID, &reason, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.From = model.ReservationStatus(from)
		ev.To = model.ReservationStatus(to)
		ev.Reason = reason.String
		ev.CreatedAt = ev.CreatedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// UpdateAmountPaid stores the sum of verified payments.
func (t *Tx) UpdateAmountPaid(ctx context.Context, id string, amountPaid int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET amount_paid = ?, updated_at = ? WHERE id = ?`, amountPaid, at, id)
	return err
}

// InsertAssignments bulk inserts the unit lines of a stay reservation.
func (t *Tx) InsertAssignments(ctx context.Context, lines []model.UnitAssignment) error {
	if len(lines) == 0 {
		return nil
	}
	query := `INSERT INTO unit_assignments (id, reservation_id, unit_id, check_in, check_out, rate_snapshot, nights, line_total, created_at) VALUES `
	args := make([]any, 0, len(lines)*9)
	for i, l := range lines {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args, l.ID, l.ReservationID, l.UnitID, model.FormatDate(l.CheckIn), model.FormatDate(l.CheckOut),
			l.RateSnapshot, l.Nights, l.LineTotal, l.CreatedAt)
	}
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

// ListAssignments returns the unit lines of a reservation.
func (s *Store) ListAssignments(ctx context.Context, reservationID string) ([]model.UnitAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reservation_id, unit_id, check_in, check_out, rate_snapshot, nights, line_total, created_at
		 FROM unit_assignments WHERE reservation_id = ? ORDER BY unit_id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []model.UnitAssignment{}
	for rows.Next() {
		var (
			a            model.UnitAssignment
			in, checkOut string
		)
		if err := rows.Scan(&a.ID, &a.ReservationID, &a.UnitID, &in, &checkOut, &a.RateSnapshot, &a.Nights, &a.LineTotal, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.CheckIn, err = model.ParseDate(in); err != nil {
			return nil, err
		}
		if a.CheckOut, err = model.ParseDate(checkOut); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		lines = append(lines, a)
	}
	return lines, rows.Err()
}

func occupancyInRange(ctx context.Context, q querier, unitIDs []string, checkIn, checkOut time.Time) ([]model.UnitOccupancy, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}
	args := stringArgs(unitIDs)
	args = append(args, model.FormatDate(checkOut), model.FormatDate(checkIn))
	rows, err := q.QueryContext(ctx,
		`SELECT ua.unit_id, ua.reservation_id, ua.check_in, ua.check_out, r.status
		 FROM unit_assignments ua JOIN reservations r ON r.id = ua.reservation_id
		 WHERE ua.unit_id IN (`+placeholders(len(unitIDs))+`)
		   AND r.status NOT IN ('cancelled', 'no_show')
		   AND ua.check_in < ? AND ? < ua.check_out`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.UnitOccupancy
	for rows.Next() {
		var (
			o                    model.UnitOccupancy
			in, checkOut, status string
		)
		if err := rows.Scan(&o.UnitID, &o.ReservationID, &in, &checkOut, &status); err != nil {
			return nil, err
		}
		if o.CheckIn, err = model.ParseDate(in); err != nil {
			return nil, err
		}
		if o.CheckOut, err = model.ParseDate(checkOut); err != nil {
			return nil, err
		}
		if st, ok := model.ParseReservationStatus(status); ok {
			o.Status = st
		} else {
			o.Status = model.StatusPendingPayment
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OccupancyInRange lists active assignments of unitIDs overlapping
// [checkIn, checkOut).  Date strings compare lexically in YYYY-MM-DD form.
func (s *Store) OccupancyInRange(ctx context.Context, unitIDs []string, checkIn, checkOut time.Time) ([]model.UnitOccupancy, error) {
	return occupancyInRange(ctx, s.db, unitIDs, checkIn, checkOut)
}

// OccupancyInRange is the in-transaction variant used by the ledger after
// the unit rows are locked.
func (t *Tx) OccupancyInRange(ctx context.Context, unitIDs []string, checkIn, checkOut time.Time) ([]model.UnitOccupancy, error) {
	return occupancyInRange(ctx, t.tx, unitIDs, checkIn, checkOut)
}

// ClaimNights records one row per occupied night of a unit.  The primary
// key on (unit_id, night) rejects a second active claim with ErrDuplicate
// even if two writers passed the overlap check at the same time.
func (t *Tx) ClaimNights(ctx context.Context, reservationID, unitID string, nights []string) error {
	if len(nights) == 0 {
		return nil
	}
	query := `INSERT INTO unit_nights (unit_id, night, reservation_id) VALUES `
	args := make([]any, 0, len(nights)*3)
	for i, n := range nights {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, unitID, n, reservationID)
	}
	_, err := t.tx.ExecContext(ctx, query, args...)
	return mapInsertErr(err)
}

// ReleaseNights frees every night claimed by a reservation.
func (t *Tx) ReleaseNights(ctx context.Context, reservationID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM unit_nights WHERE reservation_id = ?`, reservationID)
	return err
}

// InsertServiceBooking writes the line item of a tour reservation.
func (t *Tx) InsertServiceBooking(ctx context.Context, b model.ServiceBooking) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO service_bookings
		 (id, reservation_id, service_id, visit_date, adults, kids, adult_rate_snapshot, kid_rate_snapshot, line_total, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ReservationID, b.ServiceID, model.FormatDate(b.VisitDate), b.Adults, b.Kids,
		b.AdultRateSnapshot, b.KidRateSnapshot, b.LineTotal, b.CreatedAt)
	return err
}

// ListServiceBookings returns the tour lines of a reservation.
func (s *Store) ListServiceBookings(ctx context.Context, reservationID string) ([]model.ServiceBooking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reservation_id, service_id, visit_date, adults, kids, adult_rate_snapshot, kid_rate_snapshot, line_total, created_at
		 FROM service_bookings WHERE reservation_id = ? ORDER BY id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ServiceBooking{}
	for rows.Next() {
		var (
			b     model.ServiceBooking
			visit string
		)
		if err := rows.Scan(&b.ID, &b.ReservationID, &b.ServiceID, &visit, &b.Adults, &b.Kids,
			&b.AdultRateSnapshot, &b.KidRateSnapshot, &b.LineTotal, &b.CreatedAt); err != nil {
			return nil, err
		}
		if b.VisitDate, err = model.ParseDate(visit); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// TourHeadcount sums adults and kids already booked on a service for a
// visit date, ignoring cancelled and no-show reservations.
func (t *Tx) TourHeadcount(ctx context.Context, serviceID string, visitDate time.Time) (int, error) {
	var n sql.NullInt64
	err := t.tx.QueryRowContext(ctx,
		`SELECT SUM(sb.adults + sb.kids)
		 FROM service_bookings sb JOIN reservations r ON r.id = sb.reservation_id
		 WHERE sb.service_id = ? AND sb.visit_date = ? AND r.status NOT IN ('cancelled', 'no_show')`,
		serviceID, model.FormatDate(visitDate)).Scan(&n)
	if err != nil {
		return 0, err
	}
	return int(n.Int64), nil
}

// ReservationFilter narrows ListReservations.  Zero values mean "any".
type ReservationFilter struct {
	GuestID string
	Status  model.ReservationStatus
	Kind    model.ReservationKind
	From    time.Time // check_out after From
	To      time.Time // check_in before To
	Limit   int
	Offset  int
}

// ListReservations returns reservations newest first.
func (s *Store) ListReservations(ctx context.Context, f ReservationFilter) ([]model.Reservation, error) {
	var (
		conds []string
		args  []any
	)
	if f.GuestID != "" {
		conds = append(conds, "guest_id = ?")
		args = append(args, f.GuestID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.From.IsZero() {
		conds = append(conds, "check_out > ?")
		args = append(args, model.FormatDate(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "check_in < ?")
		args = append(args, model.FormatDate(f.To))
	}
	q := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT %d OFFSET %d`, limit, max(f.Offset, 0))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
