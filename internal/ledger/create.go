package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/availability"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/external"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/queue"
	"github.com/iliyamo/resort-booking-core/internal/repository"
)

// maxIdempotencyKeyLen matches the column width.
const maxIdempotencyKeyLen = 128

// UnitRequest asks for one unit.  A zero RatePerNight uses the catalog
// rate at booking time; only administrators may set another rate.
type UnitRequest struct {
	UnitID       string
	RatePerNight int64
}

// EscrowLock references a deposit the guest already locked on chain.  A
// reservation created with one starts in escrow_locked.
type EscrowLock struct {
	ChainKey  string
	TxHash    string
	OnchainID string
	Amount    int64
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	Actor model.Actor
	// GuestID lets an admin book on behalf of a guest; ignored for guests.
	GuestID        string
	CheckIn        time.Time
	CheckOut       time.Time
	Units          []UnitRequest
	Deposit        *int64
	Notes          string
	IdempotencyKey string
	EscrowLock     *EscrowLock
}

// CreateResult is returned by Create and CreateTour.  Replayed is true when
// the idempotency key matched an earlier reservation.
type CreateResult struct {
	Reservation model.Reservation      `json:"reservation"`
	Units       []model.UnitAssignment `json:"units,omitempty"`
	Services    []model.ServiceBooking `json:"services,omitempty"`
	Replayed    bool                   `json:"replayed"`
	Pricing     *model.PricingHint     `json:"pricing_recommendation,omitempty"`
}

func bookingGuest(actor model.Actor, guestID string) (string, error) {
	if actor.IsAdmin() && strings.TrimSpace(guestID) != "" {
		return strings.TrimSpace(guestID), nil
	}
	if actor.ID == "" {
		return "", apperr.ValidationField("guest_id", "guest is required")
	}
	return actor.ID, nil
}

func cleanIdempotencyKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if len(key) > maxIdempotencyKeyLen {
		return "", apperr.ValidationField("idempotency_key", "idempotency key must be at most %d characters", maxIdempotencyKeyLen)
	}
	return key, nil
}

func (s *Service) validateStay(req CreateRequest) ([]string, error) {
	if req.CheckIn.IsZero() || req.CheckOut.IsZero() {
		return nil, apperr.ValidationField("check_in", "check-in and check-out dates are required")
	}
	in, out := clock.Day(req.CheckIn), clock.Day(req.CheckOut)
	nights := model.Nights(in, out)
	if nights < 1 {
		return nil, apperr.ValidationField("check_out", "check-out must be after check-in")
	}
	if nights > s.opts.MaxNights {
		return nil, apperr.ValidationField("check_out", "stay is %d nights, the maximum is %d", nights, s.opts.MaxNights)
	}
	if in.Before(clock.Today(s.clock)) {
		return nil, apperr.ValidationField("check_in", "check-in date is in the past")
	}
	if len(req.Units) < 1 || len(req.Units) > s.opts.MaxUnits {
		return nil, apperr.ValidationField("units", "between 1 and %d units are required", s.opts.MaxUnits)
	}
	ids := make([]string, 0, len(req.Units))
	seen := map[string]bool{}
	for _, u := range req.Units {
		id := strings.TrimSpace(u.UnitID)
		if id == "" {
			return nil, apperr.ValidationField("units", "unit id is required")
		}
		if seen[id] {
			return nil, apperr.ValidationField("units", "unit %s requested twice", id)
		}
		if u.RatePerNight != 0 && !req.Actor.IsAdmin() {
			return nil, apperr.ValidationField("rate_per_night", "only administrators may set a rate")
		}
		if err := checkRate("rate_per_night", u.RatePerNight); err != nil {
			return nil, err
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// Create books one or more units for a date range.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	guestID, err := bookingGuest(req.Actor, req.GuestID)
	if err != nil {
		return CreateResult{}, err
	}
	unitIDs, err := s.validateStay(req)
	if err != nil {
		return CreateResult{}, err
	}
	if err := depositOverrideAllowed(req.Actor, req.Deposit); err != nil {
		return CreateResult{}, err
	}
	notes, err := SanitizeNotes(req.Notes, s.opts.MaxNotesLen)
	if err != nil {
		return CreateResult{}, err
	}
	key, err := cleanIdempotencyKey(req.IdempotencyKey)
	if err != nil {
		return CreateResult{}, err
	}
	if req.EscrowLock != nil && (req.EscrowLock.ChainKey == "" || req.EscrowLock.TxHash == "") {
		return CreateResult{}, apperr.ValidationField("escrow", "escrow lock requires chain key and tx hash")
	}
	in, out := clock.Day(req.CheckIn), clock.Day(req.CheckOut)
	nights := model.Nights(in, out)
	rates := make(map[string]int64, len(req.Units))
	for _, u := range req.Units {
		rates[strings.TrimSpace(u.UnitID)] = u.RatePerNight
	}

	var result CreateResult
	err = s.store.WithTx(ctx, func(tx *repository.Tx) error {
		if key != "" {
			prior, err := tx.FindReservationByIdempotencyKey(ctx, guestID, key)
			if err == nil {
				result = CreateResult{Reservation: prior, Replayed: true}
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}

		units, err := tx.LockUnits(ctx, unitIDs)
		if err != nil {
			return err
		}
		catalog := make(map[string]model.Unit, len(units))
		for _, u := range units {
			catalog[u.ID] = u
		}
		for _, id := range unitIDs {
			u, ok := catalog[id]
			if !ok {
				return apperr.ValidationField("units", "unknown unit %s", id)
			}
			if !u.Active {
				return apperr.ValidationField("units", "unit %s is not available for booking", id)
			}
		}

		occ, err := tx.OccupancyInRange(ctx, unitIDs, in, out)
		if err != nil {
			return err
		}
		if conflicts := availability.Conflicts(unitIDs, occ, in, out); len(conflicts) > 0 {
			return apperr.AvailabilityConflict(conflicts...)
		}

		now := s.clock.Now()
		res := model.Reservation{
			ID:             s.ids.NewID(),
			GuestID:        guestID,
			Kind:           model.KindStay,
			CheckIn:        in,
			CheckOut:       out,
			Status:         model.StatusPendingPayment,
			Notes:          notes,
			IdempotencyKey: key,
			Escrow:         model.EscrowRef{State: model.EscrowNone},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if res.Code, err = clock.NewReservationCode(now); err != nil {
			return err
		}
		lines := make([]model.UnitAssignment, 0, len(unitIDs))
		for _, id := range unitIDs {
			rate := rates[id]
			if rate == 0 {
				rate = catalog[id].BaseRate
			}
			if err := checkRate("rate_per_night", rate); err != nil {
				return err
			}
			lineTotal, err := mulAmount("rate_per_night", rate, int64(nights))
			if err != nil {
				return err
			}
			if res.TotalAmount, err = addAmount("units", res.TotalAmount, lineTotal); err != nil {
				return err
			}
			line := model.UnitAssignment{
				ID:            s.ids.NewID(),
				ReservationID: res.ID,
				UnitID:        id,
				CheckIn:       in,
				CheckOut:      out,
				RateSnapshot:  rate,
				Nights:        nights,
				LineTotal:     lineTotal,
				CreatedAt:     now,
			}
			lines = append(lines, line)
		}
		if res.DepositRequired, err = s.deposit(req.Deposit, res.TotalAmount); err != nil {
			return err
		}
		if lock := req.EscrowLock; lock != nil {
			res.Status = model.StatusEscrowLocked
			res.Escrow = model.EscrowRef{
				ChainKey: lock.ChainKey, TxHash: lock.TxHash, OnchainID: lock.OnchainID,
				State: model.EscrowLocked, Amount: lock.Amount, UpdatedAt: &now,
			}
		}

		if err := tx.InsertReservation(ctx, res); err != nil {
			return err
		}
		if err := s.machine.Created(ctx, tx, res, req.Actor.ID); err != nil {
			return err
		}
		if err := tx.InsertAssignments(ctx, lines); err != nil {
			return err
		}
		for _, l := range lines {
			if err := tx.ClaimNights(ctx, res.ID, l.UnitID, model.NightsBetween(in, out)); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return apperr.AvailabilityConflict(l.UnitID)
				}
				return err
			}
		}
		result = CreateResult{Reservation: res, Units: lines}
		return nil
	})
	if err != nil && key != "" && (errors.Is(err, repository.ErrDuplicate) || errors.Is(err, apperr.ErrAvailability)) {
		// a concurrent retry with the same key may have won; its row is
		// committed by now
		if prior, ferr := s.store.FindReservationByIdempotencyKey(ctx, guestID, key); ferr == nil {
			result, err = CreateResult{Reservation: prior, Replayed: true}, nil
		}
	}
	if err != nil {
		return CreateResult{}, translate("create reservation", err)
	}

	if result.Replayed {
		if result.Units, err = s.store.ListAssignments(ctx, result.Reservation.ID); err != nil {
			return CreateResult{}, translate("load assignments", err)
		}
		if result.Services, err = s.store.ListServiceBookings(ctx, result.Reservation.ID); err != nil {
			return CreateResult{}, translate("load service bookings", err)
		}
		return result, nil
	}

	s.afterCreate(ctx, &result, external.PricingInput{
		CheckIn:     model.FormatDate(in),
		CheckOut:    model.FormatDate(out),
		Nights:      nights,
		UnitIDs:     unitIDs,
		QuotedTotal: result.Reservation.TotalAmount,
	})
	return result, nil
}

func depositOverrideAllowed(actor model.Actor, override *int64) error {
	if override != nil && !actor.IsAdmin() {
		return apperr.ValidationField("deposit", "only administrators may set the deposit")
	}
	return nil
}

func (s *Service) deposit(override *int64, total int64) (int64, error) {
	if override == nil {
		return s.DepositFor(total), nil
	}
	if *override < 0 || *override > total {
		return 0, apperr.ValidationField("deposit", "deposit must be between 0 and the total %d", total)
	}
	return *override, nil
}

// afterCreate runs the best-effort follow-ups of a new reservation.  Each
// step logs its own failure and the reservation stands regardless.
func (s *Service) afterCreate(ctx context.Context, result *CreateResult, quote external.PricingInput) {
	ctx, cancel := s.followUpContext(ctx)
	defer cancel()
	res := &result.Reservation
	log := s.log.WithField("reservation_id", res.ID)

	if s.pricing != nil {
		if hint, err := s.pricing.Recommend(ctx, quote); err != nil {
			log.WithError(err).Warn("pricing recommendation unavailable")
		} else {
			result.Pricing = &hint
		}
	}

	if s.opts.ShadowWrite && s.opts.ChainKey != "" && res.Escrow.State == model.EscrowNone {
		now := s.clock.Now()
		upd := repository.EscrowUpdate{
			ChainKey: s.opts.ChainKey,
			TxHash:   ShadowHashPrefix + strings.ReplaceAll(s.ids.NewID(), "-", ""),
			State:    model.EscrowPendingLock,
			Amount:   res.DepositRequired,
			At:       now,
		}
		if err := s.store.WriteEscrow(ctx, res.ID, upd); err != nil {
			log.WithError(err).Warn("escrow shadow write failed")
		} else {
			res.Escrow = model.EscrowRef{ChainKey: upd.ChainKey, TxHash: upd.TxHash, State: upd.State, Amount: upd.Amount, UpdatedAt: &now}
		}
	}

	if s.opts.GuestPass && s.chain != nil && s.opts.ChainKey != "" {
		if err := s.chain.MintGuestPass(ctx, s.opts.ChainKey, res.ID, res.GuestID); err != nil {
			log.WithError(err).Warn("guest pass mint failed")
		}
	}

	s.publish(ctx, queue.ReservationEvent{
		Type:            queue.EventReservationCreated,
		ReservationID:   res.ID,
		ReservationCode: res.Code,
		GuestID:         res.GuestID,
		Status:          string(res.Status),
		Amount:          res.TotalAmount,
	})
}

// ShadowHashPrefix marks placeholder escrow tx hashes written before the
// real chain transaction exists.
const ShadowHashPrefix = "shadow-"
