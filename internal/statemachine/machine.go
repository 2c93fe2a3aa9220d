// Package statemachine is the single gate for reservation status changes.
// Validate checks a requested transition against the transition table and
// its guards; Machine.Apply persists an accepted transition with a
// compare-and-swap on the current status and an audit event.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/model"
)

// Trigger names the event that asks for a transition.
type Trigger string

const (
	TriggerCreate           Trigger = "create"
	TriggerPaymentSubmitted Trigger = "payment_submitted"
	TriggerPaymentVerified  Trigger = "payment_verified"
	TriggerCheckinToken     Trigger = "checkin_token"
	TriggerAdminOverride    Trigger = "admin_override"
	TriggerCheckout         Trigger = "checkout"
	TriggerCancel           Trigger = "cancel"
	TriggerNoShow           Trigger = "no_show"
)

// MinReasonLength applies to admin override and rejection reasons.
const MinReasonLength = 5

// Request describes a requested transition and the facts its guard needs.
type Request struct {
	To         model.ReservationStatus
	Trigger    Trigger
	ActorID    string
	Admin      bool
	Reason     string
	DepositMet bool
}

var preCheckin = []model.ReservationStatus{
	model.StatusPendingPayment, model.StatusEscrowLocked, model.StatusForVerification, model.StatusConfirmed,
}

// transitions maps from -> to -> triggers that may cause it.
var transitions = map[model.ReservationStatus]map[model.ReservationStatus][]Trigger{
	model.StatusPendingPayment: {
		model.StatusForVerification: {TriggerPaymentSubmitted},
	},
	model.StatusEscrowLocked: {
		model.StatusForVerification: {TriggerPaymentSubmitted},
		model.StatusConfirmed:       {TriggerPaymentVerified},
	},
	model.StatusForVerification: {
		model.StatusConfirmed: {TriggerPaymentVerified},
	},
	model.StatusConfirmed: {
		model.StatusCheckedIn: {TriggerCheckinToken, TriggerAdminOverride},
	},
	model.StatusCheckedIn: {
		model.StatusCheckedOut: {TriggerCheckout},
	},
}

func init() {
	for _, from := range preCheckin {
		transitions[from][model.StatusCancelled] = []Trigger{TriggerCancel}
		transitions[from][model.StatusNoShow] = []Trigger{TriggerNoShow}
	}
}

// CanTransition reports whether any trigger moves from -> to.
func CanTransition(from, to model.ReservationStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

// Validate checks req against the table and guard conditions.  Every
// failure is an InvalidStatusTransition carrying both statuses.
func Validate(from model.ReservationStatus, req Request) error {
	fail := func(why string) error {
		return apperr.InvalidTransition(string(from), string(req.To), why)
	}
	triggers, ok := transitions[from][req.To]
	if !ok {
		return fail("")
	}
	allowed := false
	for _, t := range triggers {
		if t == req.Trigger {
			allowed = true
			break
		}
	}
	if !allowed {
		return fail(fmt.Sprintf("trigger %q not permitted", req.Trigger))
	}

	switch req.Trigger {
	case TriggerPaymentVerified:
		if !req.DepositMet {
			return fail("verified payments do not cover the deposit")
		}
	case TriggerAdminOverride:
		if !req.Admin {
			return fail("override requires an administrator")
		}
		if len([]rune(strings.TrimSpace(req.Reason))) < MinReasonLength {
			return fail(fmt.Sprintf("override reason must be at least %d characters", MinReasonLength))
		}
	case TriggerCheckout, TriggerNoShow:
		if !req.Admin {
			return fail("requires an administrator")
		}
	}
	return nil
}

// Writer persists an accepted transition.  UpdateReservationStatus must
// only succeed while the stored status still equals from and returns
// ErrStale otherwise.
type Writer interface {
	UpdateReservationStatus(ctx context.Context, id string, from, to model.ReservationStatus, at time.Time) error
	InsertStatusEvent(ctx context.Context, ev model.StatusEvent) error
}

// ErrStale is returned by a Writer when the stored status moved underneath
// the caller.
var ErrStale = errors.New("reservation status changed concurrently")

// Machine applies transitions.
type Machine struct {
	clock clock.Clock
	ids   clock.IDGenerator
}

// New returns a Machine stamping events with c and ids.
func New(c clock.Clock, ids clock.IDGenerator) *Machine {
	return &Machine{clock: c, ids: ids}
}

// Apply validates req against res.Status, persists it through w and
// updates res in place.  Callers run it inside the transaction that read
// res.
func (m *Machine) Apply(ctx context.Context, w Writer, res *model.Reservation, req Request) error {
	from := res.Status
	if err := Validate(from, req); err != nil {
		return err
	}
	now := m.clock.Now()
	if err := w.UpdateReservationStatus(ctx, res.ID, from, req.To, now); err != nil {
		if errors.Is(err, ErrStale) {
			return apperr.InvalidTransition(string(from), string(req.To), "status changed concurrently")
		}
		return apperr.System("update reservation status", err)
	}
	ev := model.StatusEvent{
		ID:            m.ids.NewID(),
		ReservationID: res.ID,
		From:          from,
		To:            req.To,
		Trigger:       string(req.Trigger),
		ActorID:       req.ActorID,
		Reason:        strings.TrimSpace(req.Reason),
		CreatedAt:     now,
	}
	if err := w.InsertStatusEvent(ctx, ev); err != nil {
		return apperr.System("record status event", err)
	}
	res.Status = req.To
	res.UpdatedAt = now
	return nil
}

// Created records the initial status of a freshly inserted reservation.
func (m *Machine) Created(ctx context.Context, w Writer, res model.Reservation, actorID string) error {
	if res.Status != model.StatusPendingPayment && res.Status != model.StatusEscrowLocked {
		return apperr.InvalidTransition("", string(res.Status), "reservations start in pending_payment or escrow_locked")
	}
	return w.InsertStatusEvent(ctx, model.StatusEvent{
		ID:            m.ids.NewID(),
		ReservationID: res.ID,
		To:            res.Status,
		Trigger:       string(TriggerCreate),
		ActorID:       actorID,
		CreatedAt:     res.CreatedAt,
	})
}
