package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resort-booking-core/internal/model"
)

// Actor returns the authenticated caller.  The zero Actor is returned on
// routes without JWTAuth.
func Actor(c echo.Context) model.Actor {
	id, _ := c.Get(ctxUserID).(string)
	role, _ := c.Get(ctxRole).(string)
	return model.Actor{ID: id, Role: role}
}

// userID is the rate limit identity: the subject, or "anon".
func userID(c echo.Context) string {
	if id, ok := c.Get(ctxUserID).(string); ok && id != "" {
		return id
	}
	return "anon"
}
