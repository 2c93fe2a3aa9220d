// Package checkin issues rotating QR tokens and verifies them at the front
// desk.  A token is single use: its id is recorded in the same transaction
// that checks the guest in, and the primary key on that record is the
// replay guard.  Plain reservation codes are accepted for lookup only.
package checkin

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/queue"
	"github.com/iliyamo/resort-booking-core/internal/repository"
	"github.com/iliyamo/resort-booking-core/internal/statemachine"
)

const (
	minTokenLifetime = 10 * time.Second
	maxVerifyTimeout = 10 * time.Second
)

// Options configure token issuance and verification.
type Options struct {
	Enabled         bool
	Secret          string
	Rotation        time.Duration
	Skew            time.Duration
	VerifyTimeout   time.Duration
	FollowUpTimeout time.Duration
}

// DefaultOptions returns the production defaults with tokens enabled.
func DefaultOptions() Options {
	return Options{
		Enabled:         true,
		Rotation:        30 * time.Second,
		Skew:            5 * time.Second,
		VerifyTimeout:   5 * time.Second,
		FollowUpTimeout: 5 * time.Second,
	}
}

// EscrowReleaser releases a locked deposit once the guest has arrived.
type EscrowReleaser interface {
	ReleaseEscrow(ctx context.Context, chainKey, bookingID string) (model.OnchainEscrow, error)
}

// Deps are the collaborators of a Service.  Chain and Events are optional.
type Deps struct {
	Store   *repository.Store
	Machine *statemachine.Machine
	Clock   clock.Clock
	IDs     clock.IDGenerator
	Chain   EscrowReleaser
	Events  queue.Publisher
	Log     *logrus.Entry
}

// Service implements the check-in desk operations.
type Service struct {
	store   *repository.Store
	machine *statemachine.Machine
	clock   clock.Clock
	ids     clock.IDGenerator
	chain   EscrowReleaser
	events  queue.Publisher
	signer  *Signer
	opts    Options
	log     *logrus.Entry
}

// NewService wires a check-in service.
func NewService(d Deps, opts Options) *Service {
	def := DefaultOptions()
	if opts.Rotation <= 0 {
		opts.Rotation = def.Rotation
	}
	if opts.Skew < 0 {
		opts.Skew = def.Skew
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = def.VerifyTimeout
	}
	if opts.VerifyTimeout > maxVerifyTimeout {
		opts.VerifyTimeout = maxVerifyTimeout
	}
	if opts.FollowUpTimeout <= 0 {
		opts.FollowUpTimeout = def.FollowUpTimeout
	}
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
		chain:   d.Chain,
		events:  events,
		signer:  NewSigner(opts.Secret),
		opts:    opts,
		log:     log.WithField("component", "checkin"),
	}
}

// Issue mints a fresh token for a reservation the actor may see.  Tokens
// are not stored; the client refreshes before ExpiresAt.
func (s *Service) Issue(ctx context.Context, actor model.Actor, reservationID string) (model.CheckinToken, error) {
	if !s.opts.Enabled {
		return model.CheckinToken{}, apperr.Forbidden("check-in tokens are disabled")
	}
	res, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return model.CheckinToken{}, translate("load reservation", err)
	}
	if !actor.Owns(res.GuestID) {
		return model.CheckinToken{}, apperr.Forbidden("reservation belongs to another guest")
	}
	if res.Status.IsTerminal() {
		return model.CheckinToken{}, apperr.InvalidTransition(string(res.Status), string(model.StatusCheckedIn), "reservation is closed")
	}

	now := s.clock.Now()
	lifetime := s.opts.Rotation
	if lifetime < minTokenLifetime {
		lifetime = minTokenLifetime
	}
	secs := int64(s.opts.Rotation / time.Second)
	if secs < 1 {
		secs = 1
	}
	version := now.Unix() / secs
	if version < 1 {
		version = 1
	}
	tok := model.CheckinToken{
		JTI:             s.ids.NewID(),
		ReservationID:   res.ID,
		ExpiresAt:       now.Add(lifetime).Truncate(time.Second),
		RotationVersion: version,
	}
	tok.Signature = s.signer.Sign(tok)
	return tok, nil
}

// VerifyRequest is one scan presented at the desk.  Exactly one of Token
// and Code is set.
type VerifyRequest struct {
	Actor     model.Actor
	Token     *model.CheckinToken
	Code      string
	ScannerID string
	Offline   bool
}

// Verify checks a scan.  A code only reports eligibility.  A token is
// checked for signature and expiry, consumed, and moves a confirmed
// reservation inside its stay window to checked_in.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (model.CheckinResult, error) {
	if !req.Actor.IsAdmin() {
		return model.CheckinResult{}, apperr.Forbidden("only staff can verify check-ins")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.VerifyTimeout)
	defer cancel()

	switch {
	case req.Token != nil:
		return s.verifyToken(ctx, req)
	case req.Code != "":
		return s.lookupCode(ctx, req)
	}
	return model.CheckinResult{}, apperr.Validation("either a token or a reservation code is required")
}

func (s *Service) lookupCode(ctx context.Context, req VerifyRequest) (model.CheckinResult, error) {
	res, err := s.store.GetReservationByCode(ctx, req.Code)
	if err != nil {
		return model.CheckinResult{}, translate("load reservation", err)
	}
	return result(res, statemachine.CheckinEligibility(res, clock.Today(s.clock)), req), nil
}

func (s *Service) verifyToken(ctx context.Context, req VerifyRequest) (model.CheckinResult, error) {
	tok := *req.Token
	if !s.signer.Valid(tok) {
		return model.CheckinResult{}, apperr.InvalidSignature("check-in token signature does not match")
	}
	now := s.clock.Now()
	if now.After(tok.ExpiresAt.Add(s.opts.Skew)) {
		return model.CheckinResult{}, apperr.Expired("check-in token has expired")
	}

	var (
		res  model.Reservation
		elig statemachine.Eligibility
		from model.ReservationStatus
	)
	err := s.store.WithTx(ctx, func(tx *repository.Tx) error {
		var err error
		if res, err = tx.GetReservationForUpdate(ctx, tok.ReservationID); err != nil {
			return err
		}
		err = tx.InsertConsumedToken(ctx, model.ConsumedToken{
			JTI:             tok.JTI,
			ReservationID:   tok.ReservationID,
			RotationVersion: tok.RotationVersion,
			ExpiresAt:       tok.ExpiresAt,
			ScannerID:       req.ScannerID,
			Offline:         req.Offline,
			ConsumedAt:      now,
		})
		if errors.Is(err, repository.ErrDuplicate) {
			return apperr.Replay(tok.JTI)
		}
		if err != nil {
			return err
		}
		from = res.Status
		elig = statemachine.CheckinEligibility(res, clock.Day(now))
		if !elig.Allowed {
			return nil
		}
		return s.machine.Apply(ctx, tx, &res, statemachine.Request{
			To:      model.StatusCheckedIn,
			Trigger: statemachine.TriggerCheckinToken,
			ActorID: req.Actor.ID,
			Admin:   true,
		})
	})
	if err != nil {
		return model.CheckinResult{}, translate("verify check-in token", err)
	}
	out := result(res, elig, req)
	if res.Status != from {
		s.afterCheckin(ctx, &res, from, req.Actor, "")
		out.CheckedIn = true
	}
	return out, nil
}

func result(res model.Reservation, e statemachine.Eligibility, req VerifyRequest) model.CheckinResult {
	return model.CheckinResult{
		Allowed:         e.Allowed,
		Reason:          e.Reason,
		CanOverride:     e.CanOverride,
		ReservationID:   res.ID,
		ReservationCode: res.Code,
		Status:          res.Status,
		ScannerID:       req.ScannerID,
		OfflineMode:     req.Offline,
	}
}

// RecordCheckin checks a guest in by hand.  It needs a reason and only
// works from confirmed; unpaid reservations cannot be overridden in.
func (s *Service) RecordCheckin(ctx context.Context, actor model.Actor, reservationID, reason string) (model.Reservation, error) {
	if !actor.IsAdmin() {
		return model.Reservation{}, apperr.Forbidden("only staff can record check-ins")
	}
	return s.transition(ctx, actor, reservationID, statemachine.Request{
		To:      model.StatusCheckedIn,
		Trigger: statemachine.TriggerAdminOverride,
		ActorID: actor.ID,
		Admin:   true,
		Reason:  reason,
	})
}

// RecordCheckout closes a stay.
func (s *Service) RecordCheckout(ctx context.Context, actor model.Actor, reservationID string) (model.Reservation, error) {
	if !actor.IsAdmin() {
		return model.Reservation{}, apperr.Forbidden("only staff can record check-outs")
	}
	return s.transition(ctx, actor, reservationID, statemachine.Request{
		To:      model.StatusCheckedOut,
		Trigger: statemachine.TriggerCheckout,
		ActorID: actor.ID,
		Admin:   true,
	})
}

func (s *Service) transition(ctx context.Context, actor model.Actor, id string, req statemachine.Request) (model.Reservation, error) {
	var (
		res  model.Reservation
		from model.ReservationStatus
	)
	err := s.store.WithTx(ctx, func(tx *repository.Tx) error {
		var err error
		if res, err = tx.GetReservationForUpdate(ctx, id); err != nil {
			return err
		}
		from = res.Status
		return s.machine.Apply(ctx, tx, &res, req)
	})
	if err != nil {
		return model.Reservation{}, translate("record "+string(req.To), err)
	}
	if req.To == model.StatusCheckedIn {
		s.afterCheckin(ctx, &res, from, actor, req.Reason)
	} else {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FollowUpTimeout)
		defer cancel()
		s.publish(fctx, res, from, actor, req.Reason)
	}
	return res, nil
}

func (s *Service) afterCheckin(ctx context.Context, res *model.Reservation, from model.ReservationStatus, actor model.Actor, reason string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FollowUpTimeout)
	defer cancel()
	if res.Escrow.State == model.EscrowLocked && s.chain != nil {
		s.releaseEscrow(fctx, res)
	}
	s.publish(fctx, *res, from, actor, reason)
}

func (s *Service) releaseEscrow(ctx context.Context, res *model.Reservation) {
	log := s.log.WithField("reservation_id", res.ID)
	bookingID := res.Escrow.OnchainID
	if bookingID == "" {
		bookingID = res.ID
	}
	rec, err := s.chain.ReleaseEscrow(ctx, res.Escrow.ChainKey, bookingID)
	if err != nil {
		log.WithError(err).Warn("escrow release failed; reconciliation will report it")
		return
	}
	now := s.clock.Now()
	amount := rec.Amount
	if amount == 0 {
		amount = res.Escrow.Amount
	}
	if err := s.store.WriteEscrow(ctx, res.ID, repository.EscrowUpdate{
		State: model.EscrowReleased, Amount: amount, At: now,
	}); err != nil {
		log.WithError(err).Warn("escrow release recorded on chain but not in ledger")
		return
	}
	res.Escrow.State = model.EscrowReleased
	res.Escrow.Amount = amount
	res.Escrow.UpdatedAt = &now
}

func (s *Service) publish(ctx context.Context, res model.Reservation, from model.ReservationStatus, actor model.Actor, reason string) {
	ev := queue.ReservationEvent{
		Type:            queue.EventStatusChanged,
		ReservationID:   res.ID,
		ReservationCode: res.Code,
		GuestID:         res.GuestID,
		FromStatus:      string(from),
		Status:          string(res.Status),
		ActorID:         actor.ID,
		Reason:          reason,
	}
	if err := s.events.Publish(ctx, ev.Stamp(s.clock.Now())); err != nil {
		s.log.WithError(err).WithField("reservation_id", res.ID).Warn("event publish failed")
	}
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
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.External("check-in verification", err)
	}
	return apperr.System(op, err)
}
