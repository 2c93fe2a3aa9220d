// Package router registers the HTTP routes of the booking core on an echo
// instance.  Public catalog reads are cached; everything else requires a
// bearer token and a role.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resort-booking-core/internal/handler"
)

// RegisterRoutes registers routes that need no authentication.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterPublic registers the catalog reads.  cache wraps the list
// endpoints; availability is always computed fresh.
func RegisterPublic(e *echo.Echo, h *handler.CatalogHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/units", h.Units, cache)
	e.GET("/v1/tours", h.Tours, cache)
	e.GET("/v1/availability", h.Availability)
}
