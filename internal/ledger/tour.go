package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/external"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/repository"
)

// TourRequest is the input of CreateTour.
type TourRequest struct {
	Actor          model.Actor
	GuestID        string
	ServiceID      string
	VisitDate      time.Time
	Adults         int
	Kids           int
	Deposit        *int64
	Notes          string
	IdempotencyKey string
}

// CreateTour books a tour for a visit date.  Tours do not hold inventory
// exclusively; a configured daily capacity is enforced under a lock on the
// service row instead.
func (s *Service) CreateTour(ctx context.Context, req TourRequest) (CreateResult, error) {
	guestID, err := bookingGuest(req.Actor, req.GuestID)
	if err != nil {
		return CreateResult{}, err
	}
	serviceID := strings.TrimSpace(req.ServiceID)
	if serviceID == "" {
		return CreateResult{}, apperr.ValidationField("service_id", "service is required")
	}
	if req.Adults < 0 || req.Kids < 0 || req.Adults+req.Kids == 0 {
		return CreateResult{}, apperr.ValidationField("adults", "at least one guest is required")
	}
	if req.VisitDate.IsZero() {
		return CreateResult{}, apperr.ValidationField("visit_date", "visit date is required")
	}
	visit := clock.Day(req.VisitDate)
	today := clock.Today(s.clock)
	if visit.Before(today) {
		return CreateResult{}, apperr.ValidationField("visit_date", "visit date is in the past")
	}
	if !req.Actor.IsAdmin() && !visit.After(today) {
		return CreateResult{}, apperr.ValidationField("visit_date", "tours must be booked at least one day ahead")
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

		svc, err := tx.LockTourService(ctx, serviceID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.ValidationField("service_id", "unknown tour %s", serviceID)
		}
		if err != nil {
			return err
		}
		if !svc.Active {
			return apperr.ValidationField("service_id", "tour %s is not available for booking", serviceID)
		}
		total, err := tourTotal(req.Adults, req.Kids, svc)
		if err != nil {
			return err
		}
		if total <= 0 {
			return apperr.ValidationField("service_id", "tour %s has no price for this party", serviceID)
		}
		if svc.DailyCapacity > 0 {
			booked, err := tx.TourHeadcount(ctx, serviceID, visit)
			if err != nil {
				return err
			}
			if booked+req.Adults+req.Kids > svc.DailyCapacity {
				return apperr.AvailabilityConflict(serviceID)
			}
		}

		now := s.clock.Now()
		res := model.Reservation{
			ID:             s.ids.NewID(),
			GuestID:        guestID,
			Kind:           model.KindTour,
			CheckIn:        visit,
			CheckOut:       visit.AddDate(0, 0, 1),
			Status:         model.StatusPendingPayment,
			TotalAmount:    total,
			Notes:          notes,
			IdempotencyKey: key,
			Escrow:         model.EscrowRef{State: model.EscrowNone},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if res.Code, err = clock.NewReservationCode(now); err != nil {
			return err
		}
		if res.DepositRequired, err = s.deposit(req.Deposit, total); err != nil {
			return err
		}
		booking := model.ServiceBooking{
			ID:                s.ids.NewID(),
			ReservationID:     res.ID,
			ServiceID:         serviceID,
			VisitDate:         visit,
			Adults:            req.Adults,
			Kids:              req.Kids,
			AdultRateSnapshot: svc.AdultRate,
			KidRateSnapshot:   svc.KidRate,
			LineTotal:         total,
			CreatedAt:         now,
		}
		if err := tx.InsertReservation(ctx, res); err != nil {
			return err
		}
		if err := s.machine.Created(ctx, tx, res, req.Actor.ID); err != nil {
			return err
		}
		if err := tx.InsertServiceBooking(ctx, booking); err != nil {
			return err
		}
		result = CreateResult{Reservation: res, Services: []model.ServiceBooking{booking}}
		return nil
	})
	if err != nil && key != "" && (errors.Is(err, repository.ErrDuplicate) || errors.Is(err, apperr.ErrAvailability)) {
		if prior, ferr := s.store.FindReservationByIdempotencyKey(ctx, guestID, key); ferr == nil {
			result, err = CreateResult{Reservation: prior, Replayed: true}, nil
		}
	}
	if err != nil {
		return CreateResult{}, translate("create tour reservation", err)
	}
	if result.Replayed {
		if result.Services, err = s.store.ListServiceBookings(ctx, result.Reservation.ID); err != nil {
			return CreateResult{}, translate("load service bookings", err)
		}
		return result, nil
	}

	s.afterCreate(ctx, &result, external.PricingInput{
		CheckIn:     model.FormatDate(visit),
		CheckOut:    model.FormatDate(visit.AddDate(0, 0, 1)),
		Nights:      1,
		QuotedTotal: result.Reservation.TotalAmount,
		PartySize:   req.Adults + req.Kids,
		IsTour:      true,
	})
	return result, nil
}

func tourTotal(adults, kids int, svc model.TourService) (int64, error) {
	if err := checkRate("adult_rate", svc.AdultRate); err != nil {
		return 0, err
	}
	if err := checkRate("kid_rate", svc.KidRate); err != nil {
		return 0, err
	}
	a, err := mulAmount("adults", int64(adults), svc.AdultRate)
	if err != nil {
		return 0, err
	}
	k, err := mulAmount("kids", int64(kids), svc.KidRate)
	if err != nil {
		return 0, err
	}
	return addAmount("adults", a, k)
}
