package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/resort-booking-core/internal/model"
)

// EscrowUpdate is a shadow write of chain metadata onto a reservation.
// Empty strings leave the stored column untouched.
type EscrowUpdate struct {
	ChainKey  string
	TxHash    string
	OnchainID string
	State     model.EscrowState
	Amount    int64
	At        time.Time
}

// WriteEscrow stores chain metadata on a reservation.  It never touches
// the reservation status.
func (s *Store) WriteEscrow(ctx context.Context, reservationID string, u EscrowUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reservations SET
		   escrow_chain_key = COALESCE(?, escrow_chain_key),
		   escrow_tx_hash = COALESCE(?, escrow_tx_hash),
		   escrow_onchain_id = COALESCE(?, escrow_onchain_id),
		   escrow_state = ?,
		   escrow_amount = ?,
		   escrow_updated_at = ?
		 WHERE id = ?`,
		nullString(u.ChainKey), nullString(u.TxHash), nullString(u.OnchainID),
		string(u.State), u.Amount, u.At, reservationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEscrowReservations pages through reservations carrying escrow
// metadata for a chain, newest first, and returns the total match count.
func (s *Store) ListEscrowReservations(ctx context.Context, chainKey string, limit, offset int) ([]model.Reservation, int, error) {
	const where = ` FROM reservations WHERE escrow_chain_key = ? AND escrow_state <> 'none'`
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+where, chainKey).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reservationColumns+where+fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT %d OFFSET %d`, limit, offset),
		chainKey)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// ListShadowCleanupCandidates returns reservations whose escrow metadata
// is still a placeholder shadow write: a tx hash with the shadow prefix in
// pending_lock.
func (s *Store) ListShadowCleanupCandidates(ctx context.Context, chainKey, hashPrefix string, limit int) ([]model.ShadowCleanupCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, escrow_chain_key, escrow_tx_hash, escrow_state, updated_at
		 FROM reservations
		 WHERE escrow_chain_key = ? AND escrow_state = ? AND escrow_tx_hash LIKE ?
		 ORDER BY updated_at, id`+fmt.Sprintf(` LIMIT %d`, limit),
		chainKey, string(model.EscrowPendingLock), hashPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ShadowCleanupCandidate{}
	for rows.Next() {
		var c model.ShadowCleanupCandidate
		if err := rows.Scan(&c.ReservationID, &c.ReservationCode, &c.ChainKey, &c.TxHash, &c.EscrowState, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.UpdatedAt = c.UpdatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClearShadowEscrow resets the escrow metadata of a reservation only if
// its tx hash still equals expectedHash.  It reports whether a row was
// cleared.
func (s *Store) ClearShadowEscrow(ctx context.Context, reservationID, expectedHash string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reservations SET
		   escrow_chain_key = NULL, escrow_tx_hash = NULL, escrow_onchain_id = NULL,
		   escrow_state = 'none', escrow_amount = 0, escrow_updated_at = ?
		 WHERE id = ? AND escrow_tx_hash = ? AND escrow_state = ?`,
		at, reservationID, expectedHash, string(model.EscrowPendingLock))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
