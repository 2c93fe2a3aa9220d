package ledger

import (
	"context"
	"time"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/availability"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/repository"
)

// Details is a reservation with its line items.
type Details struct {
	Reservation model.Reservation      `json:"reservation"`
	Units       []model.UnitAssignment `json:"units"`
	Services    []model.ServiceBooking `json:"services"`
}

func (s *Service) details(ctx context.Context, actor model.Actor, res model.Reservation) (Details, error) {
	if !actor.Owns(res.GuestID) {
		return Details{}, apperr.Forbidden("reservation belongs to another guest")
	}
	units, err := s.store.ListAssignments(ctx, res.ID)
	if err != nil {
		return Details{}, translate("load assignments", err)
	}
	services, err := s.store.ListServiceBookings(ctx, res.ID)
	if err != nil {
		return Details{}, translate("load service bookings", err)
	}
	return Details{Reservation: res, Units: units, Services: services}, nil
}

// Get returns a reservation the actor may see.
func (s *Service) Get(ctx context.Context, actor model.Actor, id string) (Details, error) {
	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return Details{}, translate("load reservation", err)
	}
	return s.details(ctx, actor, res)
}

// GetByCode looks a reservation up by its printed code.
func (s *Service) GetByCode(ctx context.Context, actor model.Actor, code string) (Details, error) {
	res, err := s.store.GetReservationByCode(ctx, code)
	if err != nil {
		return Details{}, translate("load reservation", err)
	}
	return s.details(ctx, actor, res)
}

// ListForGuest returns the actor's own reservations newest first.
func (s *Service) ListForGuest(ctx context.Context, actor model.Actor, limit, offset int) ([]model.Reservation, error) {
	if actor.ID == "" {
		return nil, apperr.Forbidden("guest identity required")
	}
	out, err := s.store.ListReservations(ctx, repository.ReservationFilter{GuestID: actor.ID, Limit: limit, Offset: offset})
	return out, translate("list reservations", err)
}

// List is the admin listing.
func (s *Service) List(ctx context.Context, actor model.Actor, f repository.ReservationFilter) ([]model.Reservation, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can list all reservations")
	}
	out, err := s.store.ListReservations(ctx, f)
	return out, translate("list reservations", err)
}

// History returns the status audit trail of a reservation.
func (s *Service) History(ctx context.Context, actor model.Actor, id string) ([]model.StatusEvent, error) {
	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, translate("load reservation", err)
	}
	if !actor.Owns(res.GuestID) {
		return nil, apperr.Forbidden("reservation belongs to another guest")
	}
	events, err := s.store.ListStatusEvents(ctx, id)
	return events, translate("load history", err)
}

// Availability previews which active units are free for [checkIn,
// checkOut).  With no unit ids it considers the whole active catalog.  The
// answer is advisory; Create re-checks under locks.
func (s *Service) Availability(ctx context.Context, checkIn, checkOut time.Time, unitIDs []string) ([]model.Unit, error) {
	in, out := clock.Day(checkIn), clock.Day(checkOut)
	if !in.Before(out) {
		return nil, apperr.ValidationField("check_out", "check-out must be after check-in")
	}
	catalog, err := s.store.ListUnits(ctx, true)
	if err != nil {
		return nil, translate("list units", err)
	}
	byID := make(map[string]model.Unit, len(catalog))
	var ids []string
	for _, u := range catalog {
		byID[u.ID] = u
		if len(unitIDs) == 0 {
			ids = append(ids, u.ID)
		}
	}
	for _, id := range unitIDs {
		if _, ok := byID[id]; ok {
			ids = append(ids, id)
		}
	}
	free, err := availability.NewCalculator(s.store).Available(ctx, in, out, ids)
	if err != nil {
		return nil, translate("availability", err)
	}
	units := make([]model.Unit, 0, len(free))
	for _, id := range free {
		units = append(units, byID[id])
	}
	return units, nil
}
