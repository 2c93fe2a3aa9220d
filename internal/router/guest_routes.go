package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resort-booking-core/internal/handler"
	"github.com/iliyamo/resort-booking-core/internal/middleware"
	"github.com/iliyamo/resort-booking-core/internal/model"
)

// GuestHandlers are the handlers mounted for guests.
type GuestHandlers struct {
	Reservations *handler.ReservationHandler
	Payments     *handler.PaymentHandler
	Checkin      *handler.CheckinHandler
}

// RegisterGuest registers the guest endpoints under /v1.  Admins may call
// them too; ownership is enforced by the services.  limiter guards
// reservation creation.
func RegisterGuest(e *echo.Echo, h GuestHandlers, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleGuest, model.RoleAdmin),
	)
	g.POST("/reservations", h.Reservations.Create, limiter)
	g.POST("/tour-reservations", h.Reservations.CreateTour, limiter)
	g.GET("/reservations", h.Reservations.ListMine)
	g.GET("/reservations/code/:code", h.Reservations.GetByCode)
	g.GET("/reservations/:id", h.Reservations.Get)
	g.GET("/reservations/:id/history", h.Reservations.History)
	g.POST("/reservations/:id/cancel", h.Reservations.Cancel)

	g.POST("/reservations/:id/payments", h.Payments.Submit)
	g.GET("/reservations/:id/payments", h.Payments.ListForReservation)

	g.POST("/reservations/:id/checkin-token", h.Checkin.IssueToken)
}
