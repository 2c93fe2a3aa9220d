package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resort-booking-core/internal/middleware"
	"github.com/iliyamo/resort-booking-core/internal/payment"
)

// PaymentHandler exposes proof submission for guests and the review queue
// for staff.
type PaymentHandler struct {
	Payments *payment.Service
}

type submitPaymentBody struct {
	Amount         int64  `json:"amount" validate:"gt=0"`
	Method         string `json:"method" validate:"required"`
	ProofRef       string `json:"proof_ref" validate:"max=512"`
	ReferenceNo    string `json:"reference_no" validate:"max=128"`
	IdempotencyKey string `json:"idempotency_key"`
}

type onSiteBody struct {
	ReservationID  string `json:"reservation_id" validate:"required"`
	Amount         int64  `json:"amount" validate:"gt=0"`
	Method         string `json:"method"`
	ReferenceNo    string `json:"reference_no" validate:"max=128"`
	IdempotencyKey string `json:"idempotency_key"`
}

func outcomeStatus(o payment.Outcome) int {
	if o.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

// Submit handles POST /v1/reservations/:id/payments.
func (h *PaymentHandler) Submit(c echo.Context) error {
	var body submitPaymentBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	out, err := h.Payments.SubmitProof(c.Request().Context(), payment.SubmitRequest{
		Actor:          middleware.Actor(c),
		ReservationID:  c.Param("id"),
		Amount:         body.Amount,
		Method:         body.Method,
		ProofRef:       body.ProofRef,
		ReferenceNo:    body.ReferenceNo,
		IdempotencyKey: idempotencyKey(c, body.IdempotencyKey),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(outcomeStatus(out), out)
}

// ListForReservation handles GET /v1/reservations/:id/payments.
func (h *PaymentHandler) ListForReservation(c echo.Context) error {
	items, err := h.Payments.ListForReservation(c.Request().Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Queue handles GET /v1/admin/payments?tab=to_review|verified|rejected|all.
func (h *PaymentHandler) Queue(c echo.Context) error {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		return fail(c, err)
	}
	tab := c.QueryParam("tab")
	if tab == "" {
		tab = payment.TabToReview
	}
	items, err := h.Payments.List(c.Request().Context(), middleware.Actor(c), tab, limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"tab": tab, "items": items})
}

// OnSite handles POST /v1/admin/payments/on-site.
func (h *PaymentHandler) OnSite(c echo.Context) error {
	var body onSiteBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	out, err := h.Payments.RecordOnSite(c.Request().Context(), payment.OnSiteRequest{
		Actor:          middleware.Actor(c),
		ReservationID:  body.ReservationID,
		Amount:         body.Amount,
		Method:         body.Method,
		ReferenceNo:    body.ReferenceNo,
		IdempotencyKey: idempotencyKey(c, body.IdempotencyKey),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(outcomeStatus(out), out)
}

// Verify handles POST /v1/admin/payments/:id/verify.
func (h *PaymentHandler) Verify(c echo.Context) error {
	out, err := h.Payments.Verify(c.Request().Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Reject handles POST /v1/admin/payments/:id/reject.
func (h *PaymentHandler) Reject(c echo.Context) error {
	var body reasonBody
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	out, err := h.Payments.Reject(c.Request().Context(), middleware.Actor(c), c.Param("id"), body.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// ProofURL handles GET /v1/admin/payments/:id/proof-url.
func (h *PaymentHandler) ProofURL(c echo.Context) error {
	url, exp, err := h.Payments.ProofURL(c.Request().Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"url": url, "expires_at": exp})
}
