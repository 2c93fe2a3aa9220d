package ledger

import (
	"context"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/queue"
	"github.com/iliyamo/resort-booking-core/internal/repository"
	"github.com/iliyamo/resort-booking-core/internal/statemachine"
)

// Cancel cancels a reservation owned by the actor (or any, for admins)
// and frees its unit nights.  A locked escrow deposit is refunded after
// commit on a best-effort basis.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id, reason string) (model.Reservation, error) {
	return s.release(ctx, actor, id, statemachine.Request{
		To:      model.StatusCancelled,
		Trigger: statemachine.TriggerCancel,
		ActorID: actor.ID,
		Admin:   actor.IsAdmin(),
		Reason:  reason,
	})
}

// MarkNoShow records that a guest never arrived.  Admin only.
func (s *Service) MarkNoShow(ctx context.Context, actor model.Actor, id, reason string) (model.Reservation, error) {
	if !actor.IsAdmin() {
		return model.Reservation{}, apperr.Forbidden("only administrators can mark a no-show")
	}
	return s.release(ctx, actor, id, statemachine.Request{
		To:      model.StatusNoShow,
		Trigger: statemachine.TriggerNoShow,
		ActorID: actor.ID,
		Admin:   true,
		Reason:  reason,
	})
}

// release applies a transition into a status that no longer holds
// inventory.
func (s *Service) release(ctx context.Context, actor model.Actor, id string, req statemachine.Request) (model.Reservation, error) {
	var (
		res  model.Reservation
		from model.ReservationStatus
	)
	err := s.store.WithTx(ctx, func(tx *repository.Tx) error {
		var err error
		if res, err = tx.GetReservationForUpdate(ctx, id); err != nil {
			return err
		}
		if !actor.Owns(res.GuestID) {
			return apperr.Forbidden("reservation belongs to another guest")
		}
		from = res.Status
		if err := s.machine.Apply(ctx, tx, &res, req); err != nil {
			return err
		}
		return tx.ReleaseNights(ctx, res.ID)
	})
	if err != nil {
		return model.Reservation{}, translate("release reservation", err)
	}

	fctx, cancel := s.followUpContext(ctx)
	defer cancel()
	if res.Escrow.State == model.EscrowLocked && s.chain != nil {
		s.refundEscrow(fctx, &res)
	}
	s.publish(fctx, queue.ReservationEvent{
		Type:            queue.EventStatusChanged,
		ReservationID:   res.ID,
		ReservationCode: res.Code,
		GuestID:         res.GuestID,
		FromStatus:      string(from),
		Status:          string(res.Status),
		ActorID:         actor.ID,
		Reason:          req.Reason,
	})
	return res, nil
}

func (s *Service) refundEscrow(ctx context.Context, res *model.Reservation) {
	log := s.log.WithField("reservation_id", res.ID)
	bookingID := res.Escrow.OnchainID
	if bookingID == "" {
		bookingID = res.ID
	}
	rec, err := s.chain.RefundEscrow(ctx, res.Escrow.ChainKey, bookingID)
	if err != nil {
		log.WithError(err).Warn("escrow refund failed; reconciliation will report it")
		return
	}
	now := s.clock.Now()
	amount := rec.Amount
	if amount == 0 {
		amount = res.Escrow.Amount
	}
	if err := s.store.WriteEscrow(ctx, res.ID, repository.EscrowUpdate{
		State: model.EscrowRefunded, Amount: amount, At: now,
	}); err != nil {
		log.WithError(err).Warn("escrow refund recorded on chain but not in ledger")
		return
	}
	res.Escrow.State = model.EscrowRefunded
	res.Escrow.Amount = amount
	res.Escrow.UpdatedAt = &now
}
