package checkin

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/model"
)

const (
	saltSize         = 16
	nonceSize        = 12
	keySize          = 32
	pbkdf2Iterations = 100_000
)

// ErrQueueCorrupt means the queue file could not be decrypted with the
// configured secret.
var ErrQueueCorrupt = errors.New("offline queue cannot be decrypted")

// OfflineEntry is a scan captured while the desk had no connectivity.
type OfflineEntry struct {
	Token     model.CheckinToken `json:"token"`
	ScannerID string             `json:"scanner_id,omitempty"`
	QueuedAt  time.Time          `json:"queued_at"`
}

// Verifier replays a queued token against the server.
type Verifier interface {
	VerifyToken(ctx context.Context, tok model.CheckinToken, scannerID string, offline bool) (model.CheckinResult, error)
}

// OfflineQueue keeps scans in an encrypted file on the scanner device.
// The encryption keeps casual readers out of the file; the server-side
// consumed token record is what prevents replays.
type OfflineQueue struct {
	mu     sync.Mutex
	path   string
	secret []byte
	clock  clock.Clock
}

// NewOfflineQueue opens (lazily) the queue stored at path.
func NewOfflineQueue(path, secret string, c clock.Clock) (*OfflineQueue, error) {
	if secret == "" {
		return nil, errors.New("offline queue secret is required")
	}
	if c == nil {
		c = clock.System{}
	}
	return &OfflineQueue{path: path, secret: []byte(secret), clock: c}, nil
}

// Enqueue stores a token unless one with the same jti is already queued.
func (q *OfflineQueue) Enqueue(tok model.CheckinToken, scannerID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.load()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Token.JTI == tok.JTI {
			return false, nil
		}
	}
	entries = append(entries, OfflineEntry{Token: tok, ScannerID: scannerID, QueuedAt: q.clock.Now()})
	return true, q.save(entries)
}

// Entries returns the queued scans in arrival order.
func (q *OfflineQueue) Entries() ([]OfflineEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// Clear removes the queue file.
func (q *OfflineQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := os.Remove(q.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SyncOutcome is the fate of one queued entry.
type SyncOutcome struct {
	JTI    string               `json:"jti"`
	Result *model.CheckinResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
	Kept   bool                 `json:"kept"`
}

// SyncReport summarises a Sync run.
type SyncReport struct {
	Synced   int           `json:"synced"`
	Dropped  int           `json:"dropped"`
	Kept     int           `json:"kept"`
	Outcomes []SyncOutcome `json:"outcomes"`
}

// Sync replays every queued entry through v.  Entries the server answered
// for good, including replays and expired or forged tokens, leave the
// queue; transient failures stay for the next run.
func (q *OfflineQueue) Sync(ctx context.Context, v Verifier) (SyncReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.load()
	if err != nil {
		return SyncReport{}, err
	}
	var (
		report SyncReport
		keep   []OfflineEntry
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			keep = append(keep, e)
			report.Kept++
			report.Outcomes = append(report.Outcomes, SyncOutcome{JTI: e.Token.JTI, Error: err.Error(), Kept: true})
			continue
		}
		res, err := v.VerifyToken(ctx, e.Token, e.ScannerID, true)
		switch {
		case err == nil:
			report.Synced++
			report.Outcomes = append(report.Outcomes, SyncOutcome{JTI: e.Token.JTI, Result: &res})
		case permanent(err):
			report.Dropped++
			report.Outcomes = append(report.Outcomes, SyncOutcome{JTI: e.Token.JTI, Error: err.Error()})
		default:
			keep = append(keep, e)
			report.Kept++
			report.Outcomes = append(report.Outcomes, SyncOutcome{JTI: e.Token.JTI, Error: err.Error(), Kept: true})
		}
	}
	if len(keep) == 0 {
		if err := os.Remove(q.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return report, err
		}
		return report, nil
	}
	return report, q.save(keep)
}

// Retryable reports whether a failed verification may succeed later, so a
// scanner should queue the token instead of rejecting the guest.
func Retryable(err error) bool { return err != nil && !permanent(err) }

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindReplay, apperr.KindExpired, apperr.KindInvalidSignature,
		apperr.KindValidation, apperr.KindNotFound, apperr.KindForbidden:
		return true
	}
	return false
}

func (q *OfflineQueue) load() ([]OfflineEntry, error) {
	blob, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(blob) < saltSize+nonceSize {
		return nil, ErrQueueCorrupt
	}
	salt, nonce, sealed := blob[:saltSize], blob[saltSize:saltSize+nonceSize], blob[saltSize+nonceSize:]
	gcm, err := q.aead(salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrQueueCorrupt
	}
	var entries []OfflineEntry
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, fmt.Errorf("decode offline queue: %w", err)
	}
	return entries, nil
}

func (q *OfflineQueue) save(entries []OfflineEntry) error {
	plain, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	salt := make([]byte, saltSize)
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	gcm, err := q.aead(salt)
	if err != nil {
		return err
	}
	blob := make([]byte, 0, saltSize+nonceSize+len(plain)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, plain, nil)

	if err := os.MkdirAll(filepath.Dir(q.path), 0o700); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

func (q *OfflineQueue) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(q.secret, salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
