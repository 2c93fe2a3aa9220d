// Package payment reconciles installment payments against a reservation's
// deposit and total.  A payment is finalized exactly once: verify and
// reject are mutually exclusive and both fail with AlreadyFinalized on a
// payment that is no longer pending.  Reservation status only changes
// through the state machine.
package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/queue"
	"github.com/iliyamo/resort-booking-core/internal/repository"
	"github.com/iliyamo/resort-booking-core/internal/statemachine"
)

// ProofSigner issues short-lived URLs for proof objects.
type ProofSigner interface {
	SignedURL(objectKey string) (string, time.Time, error)
}

// Deps are the collaborators of a Service.  Events and Proofs are
// optional.
type Deps struct {
	Store   *repository.Store
	Machine *statemachine.Machine
	Clock   clock.Clock
	IDs     clock.IDGenerator
	Events  queue.Publisher
	Proofs  ProofSigner
	Log     *logrus.Entry
}

// Service implements payment submission and review.
type Service struct {
	store   *repository.Store
	machine *statemachine.Machine
	clock   clock.Clock
	ids     clock.IDGenerator
	events  queue.Publisher
	proofs  ProofSigner
	log     *logrus.Entry
}

// NewService wires a payment service.
func NewService(d Deps) *Service {
	events := d.Events
	if events == nil {
		events = queue.NopPublisher{}
	}
	log := d.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:   d.Store,
		machine: d.Machine,
		clock:   d.Clock,
		ids:     d.IDs,
		events:  events,
		proofs:  d.Proofs,
		log:     log.WithField("component", "payment"),
	}
}

// Outcome is the result of a payment operation together with the
// reservation as it stands afterwards.
type Outcome struct {
	Payment     model.Payment     `json:"payment"`
	Reservation model.Reservation `json:"reservation"`
	Replayed    bool              `json:"replayed,omitempty"`
}

var submitMethods = map[string]bool{
	model.MethodGCash:        true,
	model.MethodMaya:         true,
	model.MethodBankTransfer: true,
	model.MethodCard:         true,
}

var onSiteMethods = map[string]bool{
	model.MethodCash:   true,
	model.MethodCard:   true,
	model.MethodOnSite: true,
}

// closedForPayment lists statuses that no longer accept money.
func closedForPayment(s model.ReservationStatus) bool {
	return s == model.StatusCancelled || s == model.StatusNoShow || s == model.StatusCheckedOut
}

func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("reservation")
	}
	return apperr.System(op, err)
}

func (s *Service) publish(ctx context.Context, evs ...queue.ReservationEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	now := s.clock.Now()
	for _, ev := range evs {
		if err := s.events.Publish(ctx, ev.Stamp(now)); err != nil {
			s.log.WithError(err).WithField("event", ev.Type).Warn("event publish failed")
		}
	}
}

func paymentEvent(typ string, p model.Payment, res model.Reservation, actor model.Actor) queue.ReservationEvent {
	return queue.ReservationEvent{
		Type:            typ,
		ReservationID:   res.ID,
		ReservationCode: res.Code,
		GuestID:         res.GuestID,
		Status:          string(res.Status),
		PaymentID:       p.ID,
		Amount:          p.Amount,
		ActorID:         actor.ID,
		Reason:          p.RejectionReason,
	}
}

func statusEvent(res model.Reservation, from model.ReservationStatus, actor model.Actor) queue.ReservationEvent {
	return queue.ReservationEvent{
		Type:            queue.EventStatusChanged,
		ReservationID:   res.ID,
		ReservationCode: res.Code,
		GuestID:         res.GuestID,
		FromStatus:      string(from),
		Status:          string(res.Status),
		ActorID:         actor.ID,
	}
}

func cleanKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if len(key) > 128 {
		return "", apperr.ValidationField("idempotency_key", "idempotency key must be at most 128 characters")
	}
	return key, nil
}
