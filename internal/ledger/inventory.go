package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/repository"
)

// UnitInput creates or updates a catalog unit.
type UnitInput struct {
	ID       string
	Name     string
	Kind     string
	BaseRate int64
	Active   bool
}

// TourInput creates a catalog tour.
type TourInput struct {
	Name          string
	AdultRate     int64
	KidRate       int64
	DailyCapacity int
}

// CreateUnit adds a room or cottage to the catalog.  Admin only.
func (s *Service) CreateUnit(ctx context.Context, actor model.Actor, in UnitInput) (model.Unit, error) {
	if !actor.IsAdmin() {
		return model.Unit{}, apperr.Forbidden("only administrators manage inventory")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Unit{}, apperr.ValidationField("name", "name is required")
	}
	if in.Kind != model.UnitRoom && in.Kind != model.UnitCottage {
		return model.Unit{}, apperr.ValidationField("kind", "kind must be room or cottage")
	}
	if err := checkRate("base_rate", in.BaseRate); err != nil {
		return model.Unit{}, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = s.ids.NewID()
	}
	now := s.clock.Now()
	u := model.Unit{ID: id, Name: name, Kind: in.Kind, BaseRate: in.BaseRate, Active: in.Active, CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateUnit(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.Unit{}, apperr.ValidationField("id", "unit %s already exists", id)
		}
		return model.Unit{}, apperr.System("create unit", err)
	}
	return u, nil
}

// UpdateUnit changes a unit's name, rate and active flag.  Existing
// reservations keep their rate snapshots.
func (s *Service) UpdateUnit(ctx context.Context, actor model.Actor, in UnitInput) (model.Unit, error) {
	if !actor.IsAdmin() {
		return model.Unit{}, apperr.Forbidden("only administrators manage inventory")
	}
	if strings.TrimSpace(in.Name) == "" {
		return model.Unit{}, apperr.ValidationField("name", "name is required")
	}
	if err := checkRate("base_rate", in.BaseRate); err != nil {
		return model.Unit{}, err
	}
	u := model.Unit{ID: in.ID, Name: strings.TrimSpace(in.Name), BaseRate: in.BaseRate, Active: in.Active, UpdatedAt: s.clock.Now()}
	if err := s.store.UpdateUnit(ctx, u); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Unit{}, apperr.NotFound("unit")
		}
		return model.Unit{}, apperr.System("update unit", err)
	}
	return u, nil
}

// CreateTourService adds a tour to the catalog.  Admin only.
func (s *Service) CreateTourService(ctx context.Context, actor model.Actor, in TourInput) (model.TourService, error) {
	if !actor.IsAdmin() {
		return model.TourService{}, apperr.Forbidden("only administrators manage inventory")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.TourService{}, apperr.ValidationField("name", "name is required")
	}
	if err := checkRate("adult_rate", in.AdultRate); err != nil {
		return model.TourService{}, err
	}
	if err := checkRate("kid_rate", in.KidRate); err != nil {
		return model.TourService{}, err
	}
	if in.DailyCapacity < 0 {
		return model.TourService{}, apperr.ValidationField("daily_capacity", "capacity must not be negative")
	}
	now := s.clock.Now()
	ts := model.TourService{
		ID: s.ids.NewID(), Name: name, AdultRate: in.AdultRate, KidRate: in.KidRate,
		DailyCapacity: in.DailyCapacity, Active: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.store.CreateTourService(ctx, ts); err != nil {
		return model.TourService{}, apperr.System("create tour", err)
	}
	return ts, nil
}

// Units lists the active catalog.
func (s *Service) Units(ctx context.Context) ([]model.Unit, error) {
	out, err := s.store.ListUnits(ctx, true)
	return out, translate("list units", err)
}

// Tours lists the active tours.
func (s *Service) Tours(ctx context.Context) ([]model.TourService, error) {
	out, err := s.store.ListTourServices(ctx)
	return out, translate("list tours", err)
}
