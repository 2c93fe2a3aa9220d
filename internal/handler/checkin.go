package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/checkin"
	"github.com/iliyamo/resort-booking-core/internal/middleware"
	"github.com/iliyamo/resort-booking-core/internal/model"
)

// CheckinHandler serves token issuance to guests and the front desk
// endpoints to staff.
type CheckinHandler struct {
	Checkin *checkin.Service
}

// verifyBody accepts a structured token, a reservation code, or the raw
// string a scanner read.
type verifyBody struct {
	Token     *model.CheckinToken `json:"token"`
	Code      string              `json:"code" validate:"max=32"`
	Raw       string              `json:"raw" validate:"max=4096"`
	ScannerID string              `json:"scanner_id" validate:"max=64"`
	Offline   bool                `json:"offline"`
}

type deskBody struct {
	ReservationID string `json:"reservation_id" validate:"required"`
	Reason        string `json:"reason"`
}

// IssueToken handles POST /v1/reservations/:id/checkin-token.
func (h *CheckinHandler) IssueToken(c echo.Context) error {
	tok, err := h.Checkin.Issue(c.Request().Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, tok)
}

// Verify handles POST /v1/checkin/verify.
func (h *CheckinHandler) Verify(c echo.Context) error {
	var body verifyBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	req := checkin.VerifyRequest{
		Actor:     middleware.Actor(c),
		Token:     body.Token,
		Code:      strings.ToUpper(strings.TrimSpace(body.Code)),
		ScannerID: strings.TrimSpace(body.ScannerID),
		Offline:   body.Offline,
	}
	if req.Token == nil && req.Code == "" && body.Raw != "" {
		scan, err := checkin.ParseScan(body.Raw)
		if err != nil {
			return fail(c, apperr.ValidationField("raw", "unreadable scan"))
		}
		req.Token, req.Code = scan.Token, scan.Code
	}
	out, err := h.Checkin.Verify(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// RecordCheckin handles POST /v1/admin/checkins.
func (h *CheckinHandler) RecordCheckin(c echo.Context) error {
	var body deskBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	res, err := h.Checkin.RecordCheckin(c.Request().Context(), middleware.Actor(c), body.ReservationID, body.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// RecordCheckout handles POST /v1/admin/checkouts.
func (h *CheckinHandler) RecordCheckout(c echo.Context) error {
	var body deskBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	res, err := h.Checkin.RecordCheckout(c.Request().Context(), middleware.Actor(c), body.ReservationID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
