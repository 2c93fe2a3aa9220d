package payment

import (
	"context"
	"errors"
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
	"github.com/iliyamo/resort-booking-core/internal/repository"
	"github.com/iliyamo/resort-booking-core/internal/repository/sqlitetest"
	"github.com/iliyamo/resort-booking-core/internal/statemachine"
)

var (
	guest = model.Actor{ID: "guest-1", Role: model.RoleGuest}
	other = model.Actor{ID: "guest-2", Role: model.RoleGuest}
	admin = model.Actor{ID: "admin-1", Role: model.RoleAdmin}
)

type stubProofs struct{}

func (stubProofs) SignedURL(key string) (string, time.Time, error) {
	return "https://proofs.test/" + key + "?signature=x", time.Date(2026, 2, 20, 10, 15, 0, 0, time.UTC), nil
}

type fixture struct {
	store  *repository.Store
	ledger *ledger.Service
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := sqlitetest.Open(t)
	clk := clock.NewManual(time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC))
	ids := clock.UUIDGenerator{}
	machine := statemachine.New(clk, ids)
	log := logrus.NewEntry(logrus.New())
	sqlitetest.SeedUnit(t, store, "villa", 1000)
	return &fixture{
		store:  store,
		ledger: ledger.NewService(ledger.Deps{Store: store, Machine: machine, Clock: clk, IDs: ids, Log: log}, ledger.Options{}),
		svc:    NewService(Deps{Store: store, Machine: machine, Clock: clk, IDs: ids, Proofs: stubProofs{}, Log: log}),
	}
}

// book creates a two-night villa stay: total 2000, deposit 1000.
func (f *fixture) book(t *testing.T, in, out string) model.Reservation {
	t.Helper()
	ci, _ := model.ParseDate(in)
	co, _ := model.ParseDate(out)
	res, err := f.ledger.Create(context.Background(), ledger.CreateRequest{
		Actor: guest, CheckIn: ci, CheckOut: co, Units: []ledger.UnitRequest{{UnitID: "villa"}},
	})
	require.NoError(t, err)
	return res.Reservation
}

func (f *fixture) submit(t *testing.T, resID string, amount int64) Outcome {
	t.Helper()
	out, err := f.svc.SubmitProof(context.Background(), SubmitRequest{
		Actor: guest, ReservationID: resID, Amount: amount, Method: "gcash", ProofRef: "proofs/" + resID + ".jpg",
	})
	require.NoError(t, err)
	return out
}

func TestSubmitVerifyConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.book(t, "2026-03-01", "2026-03-03")
	require.Equal(t, int64(2000), res.TotalAmount)

	sub := f.submit(t, res.ID, 1000)
	assert.Equal(t, model.PaymentPending, sub.Payment.Status)
	assert.Equal(t, model.StatusForVerification, sub.Reservation.Status)

	queue, err := f.svc.List(ctx, admin, TabToReview, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	ver, err := f.svc.Verify(ctx, admin, sub.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentVerified, ver.Payment.Status)
	assert.Equal(t, model.StatusConfirmed, ver.Reservation.Status)
	assert.Equal(t, int64(1000), ver.Reservation.AmountPaid)

	stored, err := f.store.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, stored.Status)
	assert.Equal(t, int64(1000), stored.AmountPaid)

	queue, err = f.svc.List(ctx, admin, TabToReview, 0)
	require.NoError(t, err)
	assert.Empty(t, queue)

	// a second installment on a confirmed stay stays confirmed
	rest := f.submit(t, res.ID, 1000)
	assert.Equal(t, model.StatusConfirmed, rest.Reservation.Status)
	ver, err = f.svc.Verify(ctx, admin, rest.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), ver.Reservation.AmountPaid)
	assert.Equal(t, int64(0), ver.Reservation.Balance())
}

func TestVerifyBelowDepositKeepsVerification(t *testing.T) {
	f := newFixture(t)
	res := f.book(t, "2026-03-01", "2026-03-03")
	sub := f.submit(t, res.ID, 400)

	ver, err := f.svc.Verify(context.Background(), admin, sub.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusForVerification, ver.Reservation.Status)
	assert.Equal(t, int64(400), ver.Reservation.AmountPaid)
}

func TestRejectKeepsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.book(t, "2026-03-01", "2026-03-03")
	sub := f.submit(t, res.ID, 1000)

	_, err := f.svc.Reject(ctx, admin, sub.Payment.ID, " bad ")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	rej, err := f.svc.Reject(ctx, admin, sub.Payment.ID, "proof mismatch")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRejected, rej.Payment.Status)
	assert.Equal(t, "proof mismatch", rej.Payment.RejectionReason)
	assert.Equal(t, model.StatusForVerification, rej.Reservation.Status)

	_, err = f.svc.Verify(ctx, admin, sub.Payment.ID)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyFinalized))

	rejected, err := f.svc.List(ctx, admin, TabRejected, 0)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
}

func TestFinalizeExactlyOnceUnderRace(t *testing.T) {
	f := newFixture(t)
	res := f.book(t, "2026-03-01", "2026-03-03")
	sub := f.submit(t, res.ID, 1000)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, final int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.svc.Verify(context.Background(), admin, sub.Payment.ID)
			} else {
				_, err = f.svc.Reject(context.Background(), admin, sub.Payment.ID, "duplicate upload")
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrAlreadyFinalized):
				final++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 5, final)
}

func TestVerifiedSumNeverExceedsTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.book(t, "2026-03-01", "2026-03-03")

	a := f.submit(t, res.ID, 1500)
	b := f.submit(t, res.ID, 1500)
	_, err := f.svc.Verify(ctx, admin, a.Payment.ID)
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, admin, b.Payment.ID)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.SubmitProof(ctx, SubmitRequest{Actor: guest, ReservationID: res.ID, Amount: 501, Method: "maya", ReferenceNo: "MY-1"})
	assert.True(t, errors.Is(err, apperr.ErrValidation), "over balance")
}

func TestSubmitValidationAndAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.book(t, "2026-03-01", "2026-03-03")

	cases := map[string]SubmitRequest{
		"no proof":     {Actor: guest, ReservationID: res.ID, Amount: 100, Method: "gcash"},
		"zero amount":  {Actor: guest, ReservationID: res.ID, Method: "gcash", ReferenceNo: "R1"},
		"bad method":   {Actor: guest, ReservationID: res.ID, Amount: 100, Method: "cheque", ReferenceNo: "R1"},
		"cash at home": {Actor: guest, ReservationID: res.ID, Amount: 100, Method: "cash", ReferenceNo: "R1"},
	}
	for name, req := range cases {
		_, err := f.svc.SubmitProof(ctx, req)
		assert.True(t, errors.Is(err, apperr.ErrValidation), name)
	}

	_, err := f.svc.SubmitProof(ctx, SubmitRequest{Actor: other, ReservationID: res.ID, Amount: 100, Method: "gcash", ReferenceNo: "R1"})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = f.svc.SubmitProof(ctx, SubmitRequest{Actor: guest, ReservationID: "missing", Amount: 100, Method: "gcash", ReferenceNo: "R1"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.svc.Verify(ctx, guest, "anything")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	_, err = f.svc.Verify(ctx, admin, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSubmitIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.book(t, "2026-03-01", "2026-03-03")
	req := SubmitRequest{Actor: guest, ReservationID: res.ID, Amount: 1000, Method: "bank_transfer", ReferenceNo: "BT-77", IdempotencyKey: "pay-1"}

	first, err := f.svc.SubmitProof(ctx, req)
	require.NoError(t, err)
	again, err := f.svc.SubmitProof(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Payment.ID, again.Payment.ID)

	all, err := f.svc.ListForReservation(ctx, guest, res.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCancelledReservationRejectsPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.book(t, "2026-03-01", "2026-03-03")
	sub := f.submit(t, res.ID, 1000)
	_, err := f.ledger.Cancel(ctx, guest, res.ID, "plans changed")
	require.NoError(t, err)

	_, err = f.svc.SubmitProof(ctx, SubmitRequest{Actor: guest, ReservationID: res.ID, Amount: 100, Method: "gcash", ReferenceNo: "R2"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))

	_, err = f.svc.Verify(ctx, admin, sub.Payment.ID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
}

func TestRecordOnSiteConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.book(t, "2026-03-01", "2026-03-03")

	_, err := f.svc.RecordOnSite(ctx, OnSiteRequest{Actor: guest, ReservationID: res.ID, Amount: 1000})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	out, err := f.svc.RecordOnSite(ctx, OnSiteRequest{Actor: admin, ReservationID: res.ID, Amount: 1200, Method: "cash"})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentVerified, out.Payment.Status)
	assert.Equal(t, model.StatusConfirmed, out.Reservation.Status)

	history, err := f.ledger.History(ctx, admin, res.ID)
	require.NoError(t, err)
	var to []model.ReservationStatus
	for _, ev := range history {
		to = append(to, ev.To)
	}
	assert.Equal(t, []model.ReservationStatus{model.StatusPendingPayment, model.StatusForVerification, model.StatusConfirmed}, to)
}

func TestProofURLIsAdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.book(t, "2026-03-01", "2026-03-03")
	sub := f.submit(t, res.ID, 1000)

	_, _, err := f.svc.ProofURL(ctx, guest, sub.Payment.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	url, _, err := f.svc.ProofURL(ctx, admin, sub.Payment.ID)
	require.NoError(t, err)
	assert.Contains(t, url, "proofs/"+res.ID)
}
