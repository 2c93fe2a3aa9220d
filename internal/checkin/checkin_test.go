package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/ledger"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/payment"
	"github.com/iliyamo/resort-booking-core/internal/repository"
	"github.com/iliyamo/resort-booking-core/internal/repository/sqlitetest"
	"github.com/iliyamo/resort-booking-core/internal/statemachine"
)

var (
	guest = model.Actor{ID: "guest-1", Role: model.RoleGuest}
	admin = model.Actor{ID: "desk-1", Role: model.RoleAdmin}
)

type fakeReleaser struct {
	mu       sync.Mutex
	released []string
}

func (f *fakeReleaser) ReleaseEscrow(_ context.Context, chainKey, bookingID string) (model.OnchainEscrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, chainKey+"/"+bookingID)
	return model.OnchainEscrow{BookingID: bookingID, State: "released"}, nil
}

type desk struct {
	store    *repository.Store
	clock    *clock.Manual
	ledger   *ledger.Service
	payments *payment.Service
	chain    *fakeReleaser
	svc      *Service
}

func newDesk(t *testing.T) *desk {
	t.Helper()
	d := &desk{
		store: sqlitetest.Open(t),
		clock: clock.NewManual(time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)),
		chain: &fakeReleaser{},
	}
	ids := clock.UUIDGenerator{}
	machine := statemachine.New(d.clock, ids)
	log := logrus.NewEntry(logrus.New())
	d.ledger = ledger.NewService(ledger.Deps{Store: d.store, Machine: machine, Clock: d.clock, IDs: ids, Log: log}, ledger.Options{})
	d.payments = payment.NewService(payment.Deps{Store: d.store, Machine: machine, Clock: d.clock, IDs: ids, Log: log})
	opts := DefaultOptions()
	opts.Secret = "desk-secret"
	d.svc = NewService(Deps{Store: d.store, Machine: machine, Clock: d.clock, IDs: ids, Chain: d.chain, Log: log}, opts)
	sqlitetest.SeedUnit(t, d.store, "villa", 1000)
	return d
}

func (d *desk) book(t *testing.T, in, out string, lock *ledger.EscrowLock) model.Reservation {
	t.Helper()
	ci, _ := model.ParseDate(in)
	co, _ := model.ParseDate(out)
	res, err := d.ledger.Create(context.Background(), ledger.CreateRequest{
		Actor: guest, CheckIn: ci, CheckOut: co, Units: []ledger.UnitRequest{{UnitID: "villa"}}, EscrowLock: lock,
	})
	require.NoError(t, err)
	return res.Reservation
}

func (d *desk) confirmed(t *testing.T, in, out string) model.Reservation {
	t.Helper()
	res := d.book(t, in, out, nil)
	paid, err := d.payments.RecordOnSite(context.Background(), payment.OnSiteRequest{Actor: admin, ReservationID: res.ID, Amount: res.DepositRequired})
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, paid.Reservation.Status)
	return paid.Reservation
}

func (d *desk) verify(tok model.CheckinToken) (model.CheckinResult, error) {
	return d.svc.Verify(context.Background(), VerifyRequest{Actor: admin, Token: &tok, ScannerID: "gate-a"})
}

func TestTokenChecksInOnceThenReplays(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	res := d.confirmed(t, "2026-02-20", "2026-02-22")

	tok, err := d.svc.Issue(ctx, guest, res.ID)
	require.NoError(t, err)
	assert.Equal(t, d.clock.Now().Add(30*time.Second), tok.ExpiresAt)
	assert.Equal(t, d.clock.Now().Unix()/30, tok.RotationVersion)
	assert.Len(t, tok.Signature, 64)

	out, err := d.verify(tok)
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.True(t, out.CheckedIn)
	assert.Equal(t, model.StatusCheckedIn, out.Status)

	_, err = d.verify(tok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrReplay))
	assert.Equal(t, 409, apperr.HTTPStatus(apperr.KindOf(err)))

	rec, err := d.store.GetConsumedToken(ctx, tok.JTI)
	require.NoError(t, err)
	assert.Equal(t, "gate-a", rec.ScannerID)
}

func TestTokenSignatureAndExpiry(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	res := d.confirmed(t, "2026-02-20", "2026-02-22")

	tok, err := d.svc.Issue(ctx, guest, res.ID)
	require.NoError(t, err)
	forged := tok
	forged.ReservationID = "someone-else"
	_, err = d.verify(forged)
	assert.True(t, errors.Is(err, apperr.ErrInvalidSignature))
	_, err = d.store.GetConsumedToken(ctx, tok.JTI)
	assert.True(t, errors.Is(err, repository.ErrNotFound), "rejected tokens are not consumed")

	d.clock.Advance(36 * time.Second)
	_, err = d.verify(tok)
	assert.True(t, errors.Is(err, apperr.ErrExpired))
	assert.Equal(t, 410, apperr.HTTPStatus(apperr.KindOf(err)))

	fresh, err := d.svc.Issue(ctx, guest, res.ID)
	require.NoError(t, err)
	d.clock.Advance(34 * time.Second)
	out, err := d.verify(fresh)
	require.NoError(t, err, "within skew")
	assert.True(t, out.CheckedIn)
}

func TestTokenForUnpaidReservationIsConsumedButRefused(t *testing.T) {
	d := newDesk(t)
	res := d.book(t, "2026-02-20", "2026-02-22", nil)

	tok, err := d.svc.Issue(context.Background(), guest, res.ID)
	require.NoError(t, err)
	out, err := d.verify(tok)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.False(t, out.CanOverride)
	assert.Equal(t, "payment required before check-in", out.Reason)
	assert.Equal(t, model.StatusPendingPayment, out.Status)

	_, err = d.verify(tok)
	assert.True(t, errors.Is(err, apperr.ErrReplay))
}

func TestCodeLookupIsReadOnly(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	res := d.confirmed(t, "2026-02-20", "2026-02-22")

	for i := 0; i < 2; i++ {
		out, err := d.svc.Verify(ctx, VerifyRequest{Actor: admin, Code: res.Code})
		require.NoError(t, err)
		assert.True(t, out.Allowed)
		assert.False(t, out.CheckedIn)
		assert.Equal(t, model.StatusConfirmed, out.Status)
	}
	stored, err := d.store.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, stored.Status)

	_, err = d.svc.Verify(ctx, VerifyRequest{Actor: guest, Code: res.Code})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	_, err = d.svc.Verify(ctx, VerifyRequest{Actor: admin, Code: "HR-000000-NOPE"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = d.svc.Verify(ctx, VerifyRequest{Actor: admin})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestEarlyArrivalNeedsOverride(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	res := d.confirmed(t, "2026-02-25", "2026-02-27")

	out, err := d.svc.Verify(ctx, VerifyRequest{Actor: admin, Code: res.Code})
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.True(t, out.CanOverride)

	_, err = d.svc.RecordCheckin(ctx, admin, res.ID, "ok")
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
	_, err = d.svc.RecordCheckin(ctx, guest, res.ID, "arrived early")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	in, err := d.svc.RecordCheckin(ctx, admin, res.ID, "arrived early, room ready")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCheckedIn, in.Status)

	outRes, err := d.svc.RecordCheckout(ctx, admin, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCheckedOut, outRes.Status)

	_, err = d.svc.Issue(ctx, guest, res.ID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition), "closed reservations get no token")
}

func TestOverrideCannotSkipPayment(t *testing.T) {
	d := newDesk(t)
	res := d.book(t, "2026-02-20", "2026-02-22", nil)
	_, err := d.svc.RecordCheckin(context.Background(), admin, res.ID, "guest insists")
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
}

func TestCheckinReleasesLockedEscrow(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	res := d.book(t, "2026-02-20", "2026-02-22", &ledger.EscrowLock{ChainKey: "sepolia", TxHash: "0xabc", OnchainID: "77", Amount: 1000})
	_, err := d.payments.RecordOnSite(ctx, payment.OnSiteRequest{Actor: admin, ReservationID: res.ID, Amount: 1000})
	require.NoError(t, err)

	tok, err := d.svc.Issue(ctx, guest, res.ID)
	require.NoError(t, err)
	_, err = d.verify(tok)
	require.NoError(t, err)

	assert.Equal(t, []string{"sepolia/77"}, d.chain.released)
	stored, err := d.store.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscrowReleased, stored.Escrow.State)
	assert.Equal(t, model.StatusCheckedIn, stored.Status)
}

func TestIssueRules(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	res := d.confirmed(t, "2026-02-20", "2026-02-22")

	_, err := d.svc.Issue(ctx, model.Actor{ID: "guest-2", Role: model.RoleGuest}, res.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	off := NewService(Deps{Store: d.store, Machine: statemachine.New(d.clock, clock.UUIDGenerator{}), Clock: d.clock, IDs: clock.UUIDGenerator{}},
		Options{Secret: "x"})
	_, err = off.Issue(ctx, guest, res.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	short := NewService(Deps{Store: d.store, Machine: statemachine.New(d.clock, clock.UUIDGenerator{}), Clock: d.clock, IDs: clock.UUIDGenerator{}},
		Options{Enabled: true, Secret: "x", Rotation: 2 * time.Second})
	tok, err := short.Issue(ctx, guest, res.ID)
	require.NoError(t, err)
	assert.Equal(t, d.clock.Now().Add(10*time.Second), tok.ExpiresAt, "lifetime floor")
}

func TestParseScan(t *testing.T) {
	s, err := ParseScan("  hr-260220-ab12 ")
	require.NoError(t, err)
	assert.Equal(t, "HR-260220-AB12", s.Code)
	assert.Nil(t, s.Token)

	s, err = ParseScan(`{"jti":"j1","reservation_id":"r1","expires_at":"2026-02-20T10:00:30Z","rotation_version":3,"signature":"ab"}`)
	require.NoError(t, err)
	require.NotNil(t, s.Token)
	assert.Equal(t, "j1", s.Token.JTI)

	_, err = ParseScan("   ")
	assert.Error(t, err)
	_, err = ParseScan("{broken")
	assert.Error(t, err)
}

type flakyVerifier struct {
	calls int
	fail  map[string]error
}

func (f *flakyVerifier) VerifyToken(_ context.Context, tok model.CheckinToken, _ string, offline bool) (model.CheckinResult, error) {
	f.calls++
	if err, ok := f.fail[tok.JTI]; ok {
		return model.CheckinResult{}, err
	}
	return model.CheckinResult{Allowed: true, CheckedIn: true, OfflineMode: offline}, nil
}

func TestOfflineQueueEncryptsAndDedups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner", "queue.bin")
	q, err := NewOfflineQueue(path, "device-secret", clock.NewManual(time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	tok := model.CheckinToken{JTI: "jti-visible-marker", ReservationID: "r1"}
	added, err := q.Enqueue(tok, "gate-a")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = q.Enqueue(tok, "gate-b")
	require.NoError(t, err)
	assert.False(t, added)

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "jti-visible-marker")

	entries, err := q.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gate-a", entries[0].ScannerID)

	wrong, err := NewOfflineQueue(path, "other-secret", nil)
	require.NoError(t, err)
	_, err = wrong.Entries()
	assert.ErrorIs(t, err, ErrQueueCorrupt)

	require.NoError(t, q.Clear())
	entries, err = q.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = NewOfflineQueue(path, "", nil)
	assert.Error(t, err)
}

func TestOfflineSyncDropsFinalAnswersKeepsTransient(t *testing.T) {
	q, err := NewOfflineQueue(filepath.Join(t.TempDir(), "queue.bin"), "device-secret", nil)
	require.NoError(t, err)
	for _, jti := range []string{"ok", "replayed", "expired", "down"} {
		_, err := q.Enqueue(model.CheckinToken{JTI: jti, ReservationID: "r1"}, "gate-a")
		require.NoError(t, err)
	}
	v := &flakyVerifier{fail: map[string]error{
		"replayed": apperr.Replay("replayed"),
		"expired":  apperr.Expired("check-in token has expired"),
		"down":     apperr.External("booking api", errors.New("connection refused")),
	}}

	report, err := q.Sync(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 2, report.Dropped)
	assert.Equal(t, 1, report.Kept)
	require.Len(t, report.Outcomes, 4)
	assert.True(t, report.Outcomes[0].Result.OfflineMode)

	left, err := q.Entries()
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "down", left[0].Token.JTI)

	delete(v.fail, "down")
	report, err = q.Sync(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	left, err = q.Entries()
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestOfflineSyncAgainstServerRejectsReplays(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	res := d.confirmed(t, "2026-02-20", "2026-02-22")
	tok, err := d.svc.Issue(ctx, guest, res.ID)
	require.NoError(t, err)

	// Two scanners captured the same QR while offline.
	dir := t.TempDir()
	a, _ := NewOfflineQueue(filepath.Join(dir, "a.bin"), "s", nil)
	b, _ := NewOfflineQueue(filepath.Join(dir, "b.bin"), "s", nil)
	_, _ = a.Enqueue(tok, "gate-a")
	_, _ = b.Enqueue(tok, "gate-b")

	v := LocalVerifier{Service: d.svc, Actor: admin}
	ra, err := a.Sync(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, 1, ra.Synced)
	rb, err := b.Sync(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, 0, rb.Synced)
	assert.Equal(t, 1, rb.Dropped)

	rec, err := d.store.GetConsumedToken(ctx, tok.JTI)
	require.NoError(t, err)
	assert.True(t, rec.Offline)
}

func TestHTTPVerifierDecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkin/verify", r.URL.Path)
		assert.Equal(t, "Bearer staff", r.Header.Get("Authorization"))
		var body VerifyBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body.Token.JTI == "used" {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"check-in token was already used","code":"replay_detected","details":{"jti":"used"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(model.CheckinResult{Allowed: true, CheckedIn: true, OfflineMode: body.Offline})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL+"/", "staff", time.Second)
	out, err := v.VerifyToken(context.Background(), model.CheckinToken{JTI: "fresh"}, "gate-a", true)
	require.NoError(t, err)
	assert.True(t, out.OfflineMode)

	_, err = v.VerifyToken(context.Background(), model.CheckinToken{JTI: "used"}, "gate-a", true)
	assert.True(t, errors.Is(err, apperr.ErrReplay))
	assert.True(t, permanent(err))
}

type purgeRecorder struct{ before time.Time }

func (p *purgeRecorder) PurgeConsumedTokens(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	return 3, nil
}

func TestRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
	p := &purgeRecorder{}
	r := &Retention{Store: p, Clock: clock.NewManual(now), Grace: 24 * time.Hour, Log: logrus.NewEntry(logrus.New())}
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, now.Add(-24*time.Hour), p.before)
}
