package payment

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/queue"
	"github.com/iliyamo/resort-booking-core/internal/repository"
	"github.com/iliyamo/resort-booking-core/internal/statemachine"
)

// applyVerified stores the new verified total and confirms the reservation
// once the deposit is covered.
func (s *Service) applyVerified(ctx context.Context, tx *repository.Tx, res *model.Reservation, paid int64, actor model.Actor) error {
	if err := tx.UpdateAmountPaid(ctx, res.ID, paid, s.clock.Now()); err != nil {
		return err
	}
	res.AmountPaid = paid
	if !res.DepositMet() {
		return nil
	}
	if res.Status != model.StatusForVerification && res.Status != model.StatusEscrowLocked {
		return nil
	}
	return s.machine.Apply(ctx, tx, res, statemachine.Request{
		To:         model.StatusConfirmed,
		Trigger:    statemachine.TriggerPaymentVerified,
		ActorID:    actor.ID,
		Admin:      actor.IsAdmin(),
		DepositMet: true,
	})
}

// lockPending loads a payment for review and fails with AlreadyFinalized
// when it is no longer pending.
func lockPending(ctx context.Context, tx *repository.Tx, paymentID string) (model.Payment, error) {
	p, err := tx.GetPaymentForUpdate(ctx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return p, apperr.NotFound("payment")
	}
	if err != nil {
		return p, err
	}
	if p.Status != model.PaymentPending {
		return p, apperr.AlreadyFinalized(p.ID, string(p.Status))
	}
	return p, nil
}

// Verify accepts a pending payment, recomputes the verified total and
// confirms the reservation when the deposit is met.
func (s *Service) Verify(ctx context.Context, actor model.Actor, paymentID string) (Outcome, error) {
	if !actor.IsAdmin() {
		return Outcome{}, apperr.Forbidden("only staff can verify payments")
	}
	var (
		out  Outcome
		from model.ReservationStatus
	)
	err := s.store.WithTx(ctx, func(tx *repository.Tx) error {
		p, err := lockPending(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		res, err := tx.GetReservationForUpdate(ctx, p.ReservationID)
		if err != nil {
			return err
		}
		if res.Status == model.StatusCancelled || res.Status == model.StatusNoShow {
			return apperr.InvalidTransition(string(res.Status), string(model.StatusConfirmed), "reservation is closed")
		}
		paid, err := tx.SumVerifiedPayments(ctx, res.ID)
		if err != nil {
			return err
		}
		if paid+p.Amount > res.TotalAmount {
			return apperr.Validation("verifying %d would bring paid total to %d, above the reservation total %d",
				p.Amount, paid+p.Amount, res.TotalAmount)
		}
		now := s.clock.Now()
		if err := tx.FinalizePayment(ctx, p.ID, model.PaymentVerified, actor.ID, "", now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return apperr.AlreadyFinalized(p.ID, "finalized")
			}
			return err
		}
		p.Status = model.PaymentVerified
		p.FinalizedBy = actor.ID
		p.FinalizedAt = &now
		p.UpdatedAt = now

		from = res.Status
		if err := s.applyVerified(ctx, tx, &res, paid+p.Amount, actor); err != nil {
			return err
		}
		out = Outcome{Payment: p, Reservation: res}
		return nil
	})
	if err != nil {
		return Outcome{}, translate("verify payment", err)
	}
	evs := []queue.ReservationEvent{paymentEvent(queue.EventPaymentVerified, out.Payment, out.Reservation, actor)}
	if out.Reservation.Status != from {
		evs = append(evs, statusEvent(out.Reservation, from, actor))
	}
	s.publish(ctx, evs...)
	return out, nil
}

// Reject declines a pending payment with a mandatory reason.  The
// reservation status is left alone.
func (s *Service) Reject(ctx context.Context, actor model.Actor, paymentID, reason string) (Outcome, error) {
	if !actor.IsAdmin() {
		return Outcome{}, apperr.Forbidden("only staff can reject payments")
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < statemachine.MinReasonLength {
		return Outcome{}, apperr.ValidationField("reason", "rejection reason must be at least %d characters", statemachine.MinReasonLength)
	}
	var out Outcome
	err := s.store.WithTx(ctx, func(tx *repository.Tx) error {
		p, err := lockPending(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := tx.FinalizePayment(ctx, p.ID, model.PaymentRejected, actor.ID, reason, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return apperr.AlreadyFinalized(p.ID, "finalized")
			}
			return err
		}
		p.Status = model.PaymentRejected
		p.FinalizedBy = actor.ID
		p.FinalizedAt = &now
		p.RejectionReason = reason
		p.UpdatedAt = now
		res, err := tx.GetReservation(ctx, p.ReservationID)
		if err != nil {
			return err
		}
		out = Outcome{Payment: p, Reservation: res}
		return nil
	})
	if err != nil {
		return Outcome{}, translate("reject payment", err)
	}
	s.publish(ctx, paymentEvent(queue.EventPaymentRejected, out.Payment, out.Reservation, actor))
	return out, nil
}

// Review queue tabs.
const (
	TabToReview = "to_review"
	TabVerified = "verified"
	TabRejected = "rejected"
	TabAll      = "all"
)

// List returns the admin review queue for a tab.
func (s *Service) List(ctx context.Context, actor model.Actor, tab string, limit int) ([]model.Payment, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("only staff can review payments")
	}
	var status model.PaymentStatus
	switch strings.ToLower(strings.TrimSpace(tab)) {
	case "", TabToReview:
		status = model.PaymentPending
	case TabVerified:
		status = model.PaymentVerified
	case TabRejected:
		status = model.PaymentRejected
	case TabAll:
	default:
		return nil, apperr.ValidationField("tab", "unknown tab %q", tab)
	}
	out, err := s.store.ListPaymentsByStatus(ctx, status, limit)
	return out, translate("list payments", err)
}

// ListForReservation returns the payments of a reservation the actor may
// see.
func (s *Service) ListForReservation(ctx context.Context, actor model.Actor, reservationID string) ([]model.Payment, error) {
	res, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, translate("load reservation", err)
	}
	if !actor.Owns(res.GuestID) {
		return nil, apperr.Forbidden("reservation belongs to another guest")
	}
	out, err := s.store.ListPaymentsByReservation(ctx, reservationID)
	return out, translate("list payments", err)
}

// ProofURL returns a short-lived link to a payment's proof object.
func (s *Service) ProofURL(ctx context.Context, actor model.Actor, paymentID string) (string, time.Time, error) {
	if !actor.IsAdmin() {
		return "", time.Time{}, apperr.Forbidden("only staff can open payment proofs")
	}
	if s.proofs == nil {
		return "", time.Time{}, apperr.External("proof storage", errors.New("not configured"))
	}
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", time.Time{}, apperr.NotFound("payment")
	}
	if err != nil {
		return "", time.Time{}, apperr.System("load payment", err)
	}
	return s.proofs.SignedURL(p.ProofRef)
}
