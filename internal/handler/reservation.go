package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/config"
	"github.com/iliyamo/resort-booking-core/internal/ledger"
	"github.com/iliyamo/resort-booking-core/internal/middleware"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/repository"
)

// ReservationHandler exposes the reservation ledger.  Ownership checks
// happen in the ledger; the handler only shapes requests and responses.
type ReservationHandler struct {
	Ledger *ledger.Service
	Escrow config.EscrowConfig
}

type unitLine struct {
	UnitID       string `json:"unit_id" validate:"required,max=64"`
	RatePerNight int64  `json:"rate_per_night" validate:"gte=0,max=100000000000"`
}

type escrowLockBody struct {
	ChainKey  string `json:"chain_key" validate:"required"`
	TxHash    string `json:"tx_hash" validate:"required,max=128"`
	OnchainID string `json:"onchain_booking_id" validate:"max=128"`
	Amount    int64  `json:"amount" validate:"gte=0"`
}

type createStayBody struct {
	GuestID        string          `json:"guest_id"`
	CheckIn        string          `json:"check_in" validate:"required"`
	CheckOut       string          `json:"check_out" validate:"required"`
	Units          []unitLine      `json:"units" validate:"required,min=1,dive"`
	Deposit        *int64          `json:"deposit_required" validate:"omitempty,gte=0"`
	Notes          string          `json:"notes"`
	IdempotencyKey string          `json:"idempotency_key"`
	EscrowLock     *escrowLockBody `json:"escrow_lock"`
}

type createTourBody struct {
	GuestID        string `json:"guest_id"`
	ServiceID      string `json:"service_id" validate:"required"`
	VisitDate      string `json:"visit_date" validate:"required"`
	Adults         int    `json:"adults" validate:"gte=0,max=1000"`
	Kids           int    `json:"kids" validate:"gte=0,max=1000"`
	Deposit        *int64 `json:"deposit_required" validate:"omitempty,gte=0"`
	Notes          string `json:"notes"`
	IdempotencyKey string `json:"idempotency_key"`
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func createdStatus(r ledger.CreateResult) int {
	if r.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

// Create handles POST /v1/reservations.
func (h *ReservationHandler) Create(c echo.Context) error {
	var body createStayBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	in, err := parseDate("check_in", body.CheckIn)
	if err != nil {
		return fail(c, err)
	}
	out, err := parseDate("check_out", body.CheckOut)
	if err != nil {
		return fail(c, err)
	}
	req := ledger.CreateRequest{
		Actor:          middleware.Actor(c),
		GuestID:        body.GuestID,
		CheckIn:        in,
		CheckOut:       out,
		Deposit:        body.Deposit,
		Notes:          body.Notes,
		IdempotencyKey: idempotencyKey(c, body.IdempotencyKey),
	}
	for _, u := range body.Units {
		req.Units = append(req.Units, ledger.UnitRequest{UnitID: u.UnitID, RatePerNight: u.RatePerNight})
	}
	if lock := body.EscrowLock; lock != nil {
		if !h.Escrow.OnchainLock {
			return fail(c, apperr.ValidationField("escrow_lock", "on-chain escrow locking is disabled"))
		}
		if !h.Escrow.IsKnownChain(lock.ChainKey) {
			return fail(c, apperr.ValidationField("escrow_lock.chain_key", "unknown chain %q", lock.ChainKey))
		}
		req.EscrowLock = &ledger.EscrowLock{
			ChainKey:  strings.ToLower(lock.ChainKey),
			TxHash:    lock.TxHash,
			OnchainID: lock.OnchainID,
			Amount:    lock.Amount,
		}
	}
	result, err := h.Ledger.Create(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(createdStatus(result), result)
}

// CreateTour handles POST /v1/tour-reservations.
func (h *ReservationHandler) CreateTour(c echo.Context) error {
	var body createTourBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	visit, err := parseDate("visit_date", body.VisitDate)
	if err != nil {
		return fail(c, err)
	}
	result, err := h.Ledger.CreateTour(c.Request().Context(), ledger.TourRequest{
		Actor:          middleware.Actor(c),
		GuestID:        body.GuestID,
		ServiceID:      body.ServiceID,
		VisitDate:      visit,
		Adults:         body.Adults,
		Kids:           body.Kids,
		Deposit:        body.Deposit,
		Notes:          body.Notes,
		IdempotencyKey: idempotencyKey(c, body.IdempotencyKey),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(createdStatus(result), result)
}

// ListMine handles GET /v1/reservations.
func (h *ReservationHandler) ListMine(c echo.Context) error {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return fail(c, err)
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return fail(c, err)
	}
	items, err := h.Ledger.ListForGuest(c.Request().Context(), middleware.Actor(c), limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "limit": limit, "offset": offset})
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	d, err := h.Ledger.Get(c.Request().Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// GetByCode handles GET /v1/reservations/code/:code.
func (h *ReservationHandler) GetByCode(c echo.Context) error {
	d, err := h.Ledger.GetByCode(c.Request().Context(), middleware.Actor(c), strings.ToUpper(c.Param("code")))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// Cancel handles POST /v1/reservations/:id/cancel.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	var body reasonBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	res, err := h.Ledger.Cancel(c.Request().Context(), middleware.Actor(c), c.Param("id"), body.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// History handles GET /v1/reservations/:id/history and its admin twin.
func (h *ReservationHandler) History(c echo.Context) error {
	events, err := h.Ledger.History(c.Request().Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": events})
}

// NoShow handles POST /v1/admin/reservations/:id/no-show.
func (h *ReservationHandler) NoShow(c echo.Context) error {
	var body reasonBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	res, err := h.Ledger.MarkNoShow(c.Request().Context(), middleware.Actor(c), c.Param("id"), body.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// AdminList handles GET /v1/admin/reservations with optional status,
// kind, guest_id, from and to filters.
func (h *ReservationHandler) AdminList(c echo.Context) error {
	f := repository.ReservationFilter{GuestID: strings.TrimSpace(c.QueryParam("guest_id"))}
	if raw := c.QueryParam("status"); raw != "" {
		st, ok := model.ParseReservationStatus(raw)
		if !ok {
			return fail(c, apperr.ValidationField("status", "unknown status %q", raw))
		}
		f.Status = st
	}
	switch kind := model.ReservationKind(strings.ToLower(c.QueryParam("kind"))); kind {
	case "":
	case model.KindStay, model.KindTour:
		f.Kind = kind
	default:
		return fail(c, apperr.ValidationField("kind", "kind must be stay or tour"))
	}
	var err error
	if f.From, err = parseDate("from", c.QueryParam("from")); err != nil {
		return fail(c, err)
	}
	if f.To, err = parseDate("to", c.QueryParam("to")); err != nil {
		return fail(c, err)
	}
	if f.Limit, err = queryInt(c, "limit", 100); err != nil {
		return fail(c, err)
	}
	if f.Offset, err = queryInt(c, "offset", 0); err != nil {
		return fail(c, err)
	}
	items, err := h.Ledger.List(c.Request().Context(), middleware.Actor(c), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "limit": f.Limit, "offset": f.Offset})
}
