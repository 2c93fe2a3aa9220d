package clock

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces unique identifiers for rows and token ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random (v4) UUIDs.
type UUIDGenerator struct{}

// NewID returns a new random UUID string.
func (UUIDGenerator) NewID() string { return uuid.NewString() }

// codeAlphabet omits characters that are easy to misread at a front desk
// (0/O, 1/I/L).
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// NewReservationCode returns a human friendly booking reference of the form
// HR-YYMMDD-XXXXXX.  The random suffix comes from crypto/rand; uniqueness is
// still enforced by the database.
func NewReservationCode(now time.Time) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reservation code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return fmt.Sprintf("HR-%s-%s", now.UTC().Format("060102"), string(buf)), nil
}
