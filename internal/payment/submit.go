package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/queue"
	"github.com/iliyamo/resort-booking-core/internal/repository"
	"github.com/iliyamo/resort-booking-core/internal/statemachine"
)

// SubmitRequest is a guest's claim of a payment made elsewhere.
type SubmitRequest struct {
	Actor          model.Actor
	ReservationID  string
	Amount         int64
	Method         string
	ProofRef       string
	ReferenceNo    string
	IdempotencyKey string
}

// SubmitProof records a pending payment and moves the reservation to
// for_verification when it was still awaiting payment.
func (s *Service) SubmitProof(ctx context.Context, req SubmitRequest) (Outcome, error) {
	method := strings.ToLower(strings.TrimSpace(req.Method))
	proof := strings.TrimSpace(req.ProofRef)
	ref := strings.TrimSpace(req.ReferenceNo)
	switch {
	case req.Amount <= 0:
		return Outcome{}, apperr.ValidationField("amount", "amount must be positive")
	case !submitMethods[method]:
		return Outcome{}, apperr.ValidationField("method", "unsupported payment method %q", req.Method)
	case proof == "" && ref == "":
		return Outcome{}, apperr.ValidationField("proof_ref", "a proof upload or a reference number is required")
	}
	key, err := cleanKey(req.IdempotencyKey)
	if err != nil {
		return Outcome{}, err
	}

	var (
		out  Outcome
		from model.ReservationStatus
	)
	err = s.store.WithTx(ctx, func(tx *repository.Tx) error {
		res, err := tx.GetReservationForUpdate(ctx, req.ReservationID)
		if err != nil {
			return err
		}
		if !req.Actor.Owns(res.GuestID) {
			return apperr.Forbidden("reservation belongs to another guest")
		}
		if key != "" {
			prior, err := tx.FindPaymentByIdempotencyKey(ctx, res.ID, key)
			if err == nil {
				out = Outcome{Payment: prior, Reservation: res, Replayed: true}
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
		if closedForPayment(res.Status) {
			return apperr.InvalidTransition(string(res.Status), string(model.StatusForVerification), "reservation does not accept payments")
		}
		paid, err := tx.SumVerifiedPayments(ctx, res.ID)
		if err != nil {
			return err
		}
		if balance := res.TotalAmount - paid; req.Amount > balance {
			return apperr.ValidationField("amount", "amount %d exceeds the outstanding balance %d", req.Amount, balance)
		}

		now := s.clock.Now()
		p := model.Payment{
			ID:             s.ids.NewID(),
			ReservationID:  res.ID,
			Amount:         req.Amount,
			Method:         method,
			ReferenceNo:    ref,
			ProofRef:       proof,
			Status:         model.PaymentPending,
			IdempotencyKey: key,
			SubmittedBy:    req.Actor.ID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		from = res.Status
		if res.Status == model.StatusPendingPayment || res.Status == model.StatusEscrowLocked {
			if err := s.machine.Apply(ctx, tx, &res, statemachine.Request{
				To:      model.StatusForVerification,
				Trigger: statemachine.TriggerPaymentSubmitted,
				ActorID: req.Actor.ID,
				Admin:   req.Actor.IsAdmin(),
			}); err != nil {
				return err
			}
		}
		out = Outcome{Payment: p, Reservation: res}
		return nil
	})
	if errors.Is(err, repository.ErrDuplicate) && key != "" {
		// concurrent retry with the same key committed first
		return s.replaySubmit(ctx, req.ReservationID, key)
	}
	if err != nil {
		return Outcome{}, translate("submit payment", err)
	}
	if !out.Replayed {
		evs := []queue.ReservationEvent{paymentEvent(queue.EventPaymentSubmitted, out.Payment, out.Reservation, req.Actor)}
		if out.Reservation.Status != from {
			evs = append(evs, statusEvent(out.Reservation, from, req.Actor))
		}
		s.publish(ctx, evs...)
	}
	return out, nil
}

func (s *Service) replaySubmit(ctx context.Context, reservationID, key string) (Outcome, error) {
	var out Outcome
	err := s.store.WithTx(ctx, func(tx *repository.Tx) error {
		res, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		p, err := tx.FindPaymentByIdempotencyKey(ctx, reservationID, key)
		if err != nil {
			return err
		}
		out = Outcome{Payment: p, Reservation: res, Replayed: true}
		return nil
	})
	return out, translate("load payment", err)
}

// OnSiteRequest records money received at the front desk.
type OnSiteRequest struct {
	Actor          model.Actor
	ReservationID  string
	Amount         int64
	Method         string
	ReferenceNo    string
	IdempotencyKey string
}

// RecordOnSite records a payment taken by staff.  No proof is needed and
// the payment is verified at creation, then drives the same transitions as
// Verify.
func (s *Service) RecordOnSite(ctx context.Context, req OnSiteRequest) (Outcome, error) {
	if !req.Actor.IsAdmin() {
		return Outcome{}, apperr.Forbidden("only staff can record on-site payments")
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = model.MethodOnSite
	}
	if !onSiteMethods[method] {
		return Outcome{}, apperr.ValidationField("method", "unsupported on-site method %q", req.Method)
	}
	if req.Amount <= 0 {
		return Outcome{}, apperr.ValidationField("amount", "amount must be positive")
	}
	key, err := cleanKey(req.IdempotencyKey)
	if err != nil {
		return Outcome{}, err
	}

	var (
		out  Outcome
		from model.ReservationStatus
	)
	err = s.store.WithTx(ctx, func(tx *repository.Tx) error {
		res, err := tx.GetReservationForUpdate(ctx, req.ReservationID)
		if err != nil {
			return err
		}
		if key != "" {
			prior, err := tx.FindPaymentByIdempotencyKey(ctx, res.ID, key)
			if err == nil {
				out = Outcome{Payment: prior, Reservation: res, Replayed: true}
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
		if closedForPayment(res.Status) {
			return apperr.InvalidTransition(string(res.Status), string(model.StatusConfirmed), "reservation does not accept payments")
		}
		paid, err := tx.SumVerifiedPayments(ctx, res.ID)
		if err != nil {
			return err
		}
		if paid+req.Amount > res.TotalAmount {
			return apperr.ValidationField("amount", "amount %d exceeds the outstanding balance %d", req.Amount, res.TotalAmount-paid)
		}
		now := s.clock.Now()
		p := model.Payment{
			ID:             s.ids.NewID(),
			ReservationID:  res.ID,
			Amount:         req.Amount,
			Method:         method,
			ReferenceNo:    strings.TrimSpace(req.ReferenceNo),
			Status:         model.PaymentVerified,
			IdempotencyKey: key,
			SubmittedBy:    req.Actor.ID,
			FinalizedBy:    req.Actor.ID,
			FinalizedAt:    &now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		from = res.Status
		if res.Status == model.StatusPendingPayment || res.Status == model.StatusEscrowLocked {
			if err := s.machine.Apply(ctx, tx, &res, statemachine.Request{
				To:      model.StatusForVerification,
				Trigger: statemachine.TriggerPaymentSubmitted,
				ActorID: req.Actor.ID,
				Admin:   true,
			}); err != nil {
				return err
			}
		}
		if err := s.applyVerified(ctx, tx, &res, paid+req.Amount, req.Actor); err != nil {
			return err
		}
		out = Outcome{Payment: p, Reservation: res}
		return nil
	})
	if errors.Is(err, repository.ErrDuplicate) && key != "" {
		return s.replaySubmit(ctx, req.ReservationID, key)
	}
	if err != nil {
		return Outcome{}, translate("record on-site payment", err)
	}
	if !out.Replayed {
		evs := []queue.ReservationEvent{paymentEvent(queue.EventPaymentVerified, out.Payment, out.Reservation, req.Actor)}
		if out.Reservation.Status != from {
			evs = append(evs, statusEvent(out.Reservation, from, req.Actor))
		}
		s.publish(ctx, evs...)
	}
	return out, nil
}
