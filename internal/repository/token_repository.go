package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/resort-booking-core/internal/model"
)

// InsertConsumedToken records that a check-in token id was used.  The jti
// primary key makes a second consumption fail with ErrDuplicate, which is
// the replay signal.
func (t *Tx) InsertConsumedToken(ctx context.Context, c model.ConsumedToken) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO consumed_checkin_tokens (jti, reservation_id, rotation_version, expires_at, scanner_id, offline, consumed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.JTI, c.ReservationID, c.RotationVersion, c.ExpiresAt, nullString(c.ScannerID), c.Offline, c.ConsumedAt)
	return mapInsertErr(err)
}

// GetConsumedToken returns the consumption record of a token id.
func (s *Store) GetConsumedToken(ctx context.Context, jti string) (model.ConsumedToken, error) {
	var (
		c       model.ConsumedToken
		scanner sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT jti, reservation_id, rotation_version, expires_at, scanner_id, offline, consumed_at
		 FROM consumed_checkin_tokens WHERE jti = ?`, jti).
		Scan(&c.JTI, &c.ReservationID, &c.RotationVersion, &c.ExpiresAt, &scanner, &c.Offline, &c.ConsumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.ScannerID = scanner.String
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.ConsumedAt = c.ConsumedAt.UTC()
	return c, nil
}

// PurgeConsumedTokens deletes records of tokens that expired before the
// cutoff.  Such tokens fail the expiry check before reaching the replay
// check, so their rows are no longer needed.
func (s *Store) PurgeConsumedTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM consumed_checkin_tokens WHERE expires_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
