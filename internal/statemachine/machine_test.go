package statemachine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/model"
)

type fakeWriter struct {
	stored map[string]model.ReservationStatus
	events []model.StatusEvent
}

func (w *fakeWriter) UpdateReservationStatus(_ context.Context, id string, from, to model.ReservationStatus, _ time.Time) error {
	if w.stored[id] != from {
		return ErrStale
	}
	w.stored[id] = to
	return nil
}

func (w *fakeWriter) InsertStatusEvent(_ context.Context, ev model.StatusEvent) error {
	w.events = append(w.events, ev)
	return nil
}

func TestValidateHappyPath(t *testing.T) {
	steps := []struct {
		from model.ReservationStatus
		req  Request
	}{
		{model.StatusPendingPayment, Request{To: model.StatusForVerification, Trigger: TriggerPaymentSubmitted}},
		{model.StatusForVerification, Request{To: model.StatusConfirmed, Trigger: TriggerPaymentVerified, DepositMet: true}},
		{model.StatusConfirmed, Request{To: model.StatusCheckedIn, Trigger: TriggerCheckinToken}},
		{model.StatusCheckedIn, Request{To: model.StatusCheckedOut, Trigger: TriggerCheckout, Admin: true}},
	}
	for _, s := range steps {
		assert.NoError(t, Validate(s.from, s.req), "%s -> %s", s.from, s.req.To)
	}
}

func TestValidateNeverSkipsStates(t *testing.T) {
	for _, trig := range []Trigger{TriggerCheckinToken, TriggerAdminOverride} {
		err := Validate(model.StatusPendingPayment, Request{
			To: model.StatusCheckedIn, Trigger: trig, Admin: true, Reason: "manager approved",
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))

		var ae *apperr.Error
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "pending_payment", ae.Details["from"])
		assert.Equal(t, "checked_in", ae.Details["to"])
	}
	assert.Error(t, Validate(model.StatusPendingPayment, Request{To: model.StatusConfirmed, Trigger: TriggerPaymentVerified, DepositMet: true}))
	assert.Error(t, Validate(model.StatusForVerification, Request{To: model.StatusCheckedOut, Trigger: TriggerCheckout, Admin: true}))
}

func TestValidateGuards(t *testing.T) {
	assert.Error(t, Validate(model.StatusForVerification, Request{To: model.StatusConfirmed, Trigger: TriggerPaymentVerified}),
		"deposit not met")
	assert.Error(t, Validate(model.StatusForVerification, Request{To: model.StatusConfirmed, Trigger: TriggerPaymentSubmitted, DepositMet: true}),
		"wrong trigger")
	assert.Error(t, Validate(model.StatusConfirmed, Request{To: model.StatusCheckedIn, Trigger: TriggerAdminOverride, Admin: true, Reason: " ok  "}),
		"short reason")
	assert.Error(t, Validate(model.StatusConfirmed, Request{To: model.StatusCheckedIn, Trigger: TriggerAdminOverride, Reason: "late arrival"}),
		"not admin")
	assert.NoError(t, Validate(model.StatusConfirmed, Request{To: model.StatusCheckedIn, Trigger: TriggerAdminOverride, Admin: true, Reason: "late arrival"}))
	assert.Error(t, Validate(model.StatusCheckedIn, Request{To: model.StatusCheckedOut, Trigger: TriggerCheckout}), "guest checkout")
	assert.NoError(t, Validate(model.StatusEscrowLocked, Request{To: model.StatusConfirmed, Trigger: TriggerPaymentVerified, DepositMet: true}))
}

func TestCancelAndNoShowWindows(t *testing.T) {
	for _, from := range []model.ReservationStatus{model.StatusPendingPayment, model.StatusForVerification, model.StatusConfirmed, model.StatusEscrowLocked} {
		assert.NoError(t, Validate(from, Request{To: model.StatusCancelled, Trigger: TriggerCancel}), from)
		assert.NoError(t, Validate(from, Request{To: model.StatusNoShow, Trigger: TriggerNoShow, Admin: true}), from)
	}
	for _, from := range []model.ReservationStatus{model.StatusCheckedIn, model.StatusCheckedOut, model.StatusCancelled, model.StatusNoShow} {
		assert.Error(t, Validate(from, Request{To: model.StatusCancelled, Trigger: TriggerCancel}), from)
	}
	assert.Error(t, Validate(model.StatusConfirmed, Request{To: model.StatusNoShow, Trigger: TriggerNoShow}), "guest cannot mark no-show")
}

func TestApplyRecordsEventAndDetectsStaleStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	m := New(clock.NewManual(now), clock.UUIDGenerator{})
	w := &fakeWriter{stored: map[string]model.ReservationStatus{"r1": model.StatusConfirmed}}
	res := &model.Reservation{ID: "r1", Status: model.StatusConfirmed}

	err := m.Apply(context.Background(), w, res, Request{
		To: model.StatusCheckedIn, Trigger: TriggerAdminOverride, Admin: true, ActorID: "admin-1", Reason: "  guest arrived early ",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCheckedIn, res.Status)
	assert.Equal(t, now, res.UpdatedAt)
	require.Len(t, w.events, 1)
	assert.Equal(t, "guest arrived early", w.events[0].Reason)
	assert.Equal(t, model.StatusConfirmed, w.events[0].From)

	// Another writer already moved the row.
	w.stored["r2"] = model.StatusCancelled
	stale := &model.Reservation{ID: "r2", Status: model.StatusConfirmed}
	err = m.Apply(context.Background(), w, stale, Request{To: model.StatusCheckedIn, Trigger: TriggerCheckinToken})
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
	assert.Equal(t, model.StatusConfirmed, stale.Status)
}

func TestCheckinEligibility(t *testing.T) {
	in, _ := model.ParseDate("2026-03-01")
	out, _ := model.ParseDate("2026-03-03")
	res := model.Reservation{Status: model.StatusConfirmed, CheckIn: in, CheckOut: out}

	assert.Equal(t, Eligibility{Allowed: true}, CheckinEligibility(res, in))
	assert.Equal(t, Eligibility{Allowed: true}, CheckinEligibility(res, in.AddDate(0, 0, 1)))

	early := CheckinEligibility(res, in.AddDate(0, 0, -1))
	assert.False(t, early.Allowed)
	assert.True(t, early.CanOverride)

	late := CheckinEligibility(res, out)
	assert.False(t, late.Allowed)
	assert.True(t, late.CanOverride)

	res.Status = model.StatusForVerification
	pending := CheckinEligibility(res, in)
	assert.False(t, pending.Allowed)
	assert.False(t, pending.CanOverride)
	assert.Equal(t, "payment verification pending", pending.Reason)

	res.Status = model.StatusCheckedIn
	assert.False(t, CheckinEligibility(res, in).Allowed)
}
