package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resort-booking-core/internal/handler"
	"github.com/iliyamo/resort-booking-core/internal/middleware"
	"github.com/iliyamo/resort-booking-core/internal/model"
)

// AdminHandlers are the handlers mounted for staff.
type AdminHandlers struct {
	Catalog      *handler.CatalogHandler
	Reservations *handler.ReservationHandler
	Payments     *handler.PaymentHandler
	Checkin      *handler.CheckinHandler
	Escrow       *handler.EscrowHandler
}

// RegisterAdmin registers the staff endpoints.  Scanner verification lives
// at /v1/checkin/verify behind limiter; everything else is under
// /v1/admin.
func RegisterAdmin(e *echo.Echo, h AdminHandlers, jwtSecret string, limiter echo.MiddlewareFunc) {
	auth := middleware.JWTAuth(jwtSecret)
	admin := middleware.RequireRole(model.RoleAdmin)

	desk := e.Group("/v1/checkin", auth, admin)
	desk.POST("/verify", h.Checkin.Verify, limiter)

	g := e.Group("/v1/admin", auth, admin)
	g.POST("/checkins", h.Checkin.RecordCheckin)
	g.POST("/checkouts", h.Checkin.RecordCheckout)

	g.GET("/reservations", h.Reservations.AdminList)
	g.GET("/reservations/:id/history", h.Reservations.History)
	g.POST("/reservations/:id/no-show", h.Reservations.NoShow)

	g.POST("/units", h.Catalog.CreateUnit)
	g.PUT("/units/:id", h.Catalog.UpdateUnit)
	g.POST("/tours", h.Catalog.CreateTour)

	g.GET("/payments", h.Payments.Queue)
	g.POST("/payments/on-site", h.Payments.OnSite)
	g.POST("/payments/:id/verify", h.Payments.Verify, limiter)
	g.POST("/payments/:id/reject", h.Payments.Reject)
	g.GET("/payments/:id/proof-url", h.Payments.ProofURL)

	g.GET("/escrow/reconciliation", h.Escrow.Reconciliation)
	g.POST("/escrow/cleanup-shadow", h.Escrow.CleanupShadow)
	g.GET("/escrow/monitor", h.Escrow.MonitorStatus)
	g.POST("/escrow/monitor/run", h.Escrow.MonitorRun)
}
