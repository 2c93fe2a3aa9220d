package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/resort-booking-core/internal/config"
	"github.com/iliyamo/resort-booking-core/internal/ledger"
	"github.com/iliyamo/resort-booking-core/internal/middleware"
	"github.com/iliyamo/resort-booking-core/internal/model"
)

// CatalogHandler serves the public catalog and the admin inventory
// endpoints.  Writes drop the public response cache.
type CatalogHandler struct {
	Ledger *ledger.Service
	Cache  config.CacheConfig
	Redis  *redis.Client
	Log    *logrus.Entry
}

type unitBody struct {
	ID       string `json:"unit_id" validate:"omitempty,max=64"`
	Name     string `json:"name" validate:"required,max=128"`
	Kind     string `json:"kind" validate:"omitempty,oneof=room cottage"`
	BaseRate int64  `json:"base_rate" validate:"gte=0,max=100000000000"`
	Active   *bool  `json:"active"`
}

type tourBody struct {
	Name          string `json:"name" validate:"required,max=128"`
	AdultRate     int64  `json:"adult_rate" validate:"gte=0,max=100000000000"`
	KidRate       int64  `json:"kid_rate" validate:"gte=0,max=100000000000"`
	DailyCapacity int    `json:"daily_capacity" validate:"gte=0"`
}

type availabilityResponse struct {
	CheckIn  string       `json:"check_in"`
	CheckOut string       `json:"check_out"`
	Units    []model.Unit `json:"units"`
}

// Units handles GET /v1/units.
func (h *CatalogHandler) Units(c echo.Context) error {
	units, err := h.Ledger.Units(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": units})
}

// Tours handles GET /v1/tours.
func (h *CatalogHandler) Tours(c echo.Context) error {
	tours, err := h.Ledger.Tours(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": tours})
}

// Availability handles GET /v1/availability?check_in=&check_out=&unit_ids=.
// The answer is a preview; booking re-checks under locks.
func (h *CatalogHandler) Availability(c echo.Context) error {
	in, err := parseDate("check_in", c.QueryParam("check_in"))
	if err != nil {
		return fail(c, err)
	}
	out, err := parseDate("check_out", c.QueryParam("check_out"))
	if err != nil {
		return fail(c, err)
	}
	units, err := h.Ledger.Availability(c.Request().Context(), in, out, splitList(c.QueryParam("unit_ids")))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, availabilityResponse{
		CheckIn:  model.FormatDate(in),
		CheckOut: model.FormatDate(out),
		Units:    units,
	})
}

// CreateUnit handles POST /v1/admin/units.
func (h *CatalogHandler) CreateUnit(c echo.Context) error {
	var body unitBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}
	unit, err := h.Ledger.CreateUnit(c.Request().Context(), middleware.Actor(c), ledger.UnitInput{
		ID: body.ID, Name: body.Name, Kind: body.Kind, BaseRate: body.BaseRate, Active: active,
	})
	if err != nil {
		return fail(c, err)
	}
	h.invalidate(c.Request().Context())
	return c.JSON(http.StatusCreated, unit)
}

// UpdateUnit handles PUT /v1/admin/units/:id.
func (h *CatalogHandler) UpdateUnit(c echo.Context) error {
	var body unitBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}
	unit, err := h.Ledger.UpdateUnit(c.Request().Context(), middleware.Actor(c), ledger.UnitInput{
		ID: c.Param("id"), Name: body.Name, BaseRate: body.BaseRate, Active: active,
	})
	if err != nil {
		return fail(c, err)
	}
	h.invalidate(c.Request().Context())
	return c.JSON(http.StatusOK, unit)
}

// CreateTour handles POST /v1/admin/tours.
func (h *CatalogHandler) CreateTour(c echo.Context) error {
	var body tourBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	tour, err := h.Ledger.CreateTourService(c.Request().Context(), middleware.Actor(c), ledger.TourInput{
		Name: body.Name, AdultRate: body.AdultRate, KidRate: body.KidRate, DailyCapacity: body.DailyCapacity,
	})
	if err != nil {
		return fail(c, err)
	}
	h.invalidate(c.Request().Context())
	return c.JSON(http.StatusCreated, tour)
}

func (h *CatalogHandler) invalidate(ctx context.Context) {
	if err := middleware.InvalidateCache(context.WithoutCancel(ctx), h.Cache, h.Redis); err != nil && h.Log != nil {
		h.Log.WithError(err).Warn("catalog cache invalidation failed")
	}
}
