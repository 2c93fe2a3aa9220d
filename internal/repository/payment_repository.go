package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/resort-booking-core/internal/model"
)

const paymentColumns = `id, reservation_id, amount, method, reference_no, proof_ref, status, idempotency_key,
	submitted_by, finalized_by, finalized_at, rejection_reason, created_at, updated_at`

func scanPayment(row rowScanner) (model.Payment, error) {
	var (
		p                                  model.Payment
		status                             string
		refNo, proof, idemKey, finalizedBy sql.NullString
		rejection                          sql.NullString
		finalizedAt                        sql.NullTime
	)
	err := row.Scan(&p.ID, &p.ReservationID, &p.Amount, &p.Method, &refNo, &proof, &status, &idemKey,
		&p.SubmittedBy, &finalizedBy, &finalizedAt, &rejection, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = model.PaymentStatus(status)
	p.ReferenceNo = refNo.String
	p.ProofRef = proof.String
	p.IdempotencyKey = idemKey.String
	p.FinalizedBy = finalizedBy.String
	p.RejectionReason = rejection.String
	if finalizedAt.Valid {
		t := finalizedAt.Time.UTC()
		p.FinalizedAt = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// InsertPayment writes a payment row.  A reused (reservation, idempotency
// key) pair yields ErrDuplicate.
func (t *Tx) InsertPayment(ctx context.Context, p model.Payment) error {
	var finalizedAt sql.NullTime
	if p.FinalizedAt != nil {
		finalizedAt = sql.NullTime{Time: *p.FinalizedAt, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ReservationID, p.Amount, p.Method, nullString(p.ReferenceNo), nullString(p.ProofRef),
		string(p.Status), nullString(p.IdempotencyKey), p.SubmittedBy, nullString(p.FinalizedBy),
		finalizedAt, nullString(p.RejectionReason), p.CreatedAt, p.UpdatedAt)
	return mapInsertErr(err)
}

// FindPaymentByIdempotencyKey returns the payment previously submitted
// with key for a reservation.
func (t *Tx) FindPaymentByIdempotencyKey(ctx context.Context, reservationID, key string) (model.Payment, error) {
	return scanPayment(t.tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reservation_id = ? AND idempotency_key = ?`,
		reservationID, key))
}

// GetPaymentForUpdate loads a payment and locks its row.
func (t *Tx) GetPaymentForUpdate(ctx context.Context, id string) (model.Payment, error) {
	return scanPayment(t.tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`+t.dialect.lockSuffix, id))
}

// FinalizePayment moves a pending payment to verified or rejected.  The
// update is conditional on the row still being pending; ErrConflict means
// another reviewer finalized it first.
func (t *Tx) FinalizePayment(ctx context.Context, id string, to model.PaymentStatus, by, reason string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE payments SET status = ?, finalized_by = ?, finalized_at = ?, rejection_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), by, at, nullString(reason), at, id, string(model.PaymentPending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// SumVerifiedPayments totals the verified payments of a reservation.
func (t *Tx) SumVerifiedPayments(ctx context.Context, reservationID string) (int64, error) {
	var sum sql.NullInt64
	err := t.tx.QueryRowContext(ctx,
		`SELECT SUM(amount) FROM payments WHERE reservation_id = ? AND status = ?`,
		reservationID, string(model.PaymentVerified)).Scan(&sum)
	return sum.Int64, err
}

// GetPayment loads a payment by id.
func (s *Store) GetPayment(ctx context.Context, id string) (model.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
}

// ListPaymentsByReservation returns a reservation's payments oldest first.
func (s *Store) ListPaymentsByReservation(ctx context.Context, reservationID string) ([]model.Payment, error) {
	return s.listPayments(ctx, `reservation_id = ?`, 0, reservationID)
}

// ListPaymentsByStatus returns payments in a status oldest first; the
// review queue lists pending ones.  An empty status lists every payment.
func (s *Store) ListPaymentsByStatus(ctx context.Context, status model.PaymentStatus, limit int) ([]model.Payment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if status == "" {
		return s.listPayments(ctx, `1 = 1`, limit)
	}
	return s.listPayments(ctx, `status = ?`, limit, string(status))
}

func (s *Store) listPayments(ctx context.Context, where string, limit int, args ...any) ([]model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + where + ` ORDER BY created_at, id`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
