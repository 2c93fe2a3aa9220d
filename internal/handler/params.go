package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/middleware"
	"github.com/iliyamo/resort-booking-core/internal/model"
)

// CtxErrorCauseKey is re-exported for handlers that answer 5xx without
// going through fail.
const CtxErrorCauseKey = middleware.CtxErrorCause

// idempotencyHeader may carry the key instead of the body field.
const idempotencyHeader = "Idempotency-Key"

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.ValidationField(name, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func queryBool(c echo.Context, name string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(c.QueryParam(name)))
	return b
}

// parseDate reads a YYYY-MM-DD value; empty input yields the zero time.
func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := model.ParseDate(raw)
	if err != nil {
		return time.Time{}, apperr.ValidationField(field, "%s must be a date in YYYY-MM-DD form", field)
	}
	return t, nil
}

// idempotencyKey prefers the header over the body.
func idempotencyKey(c echo.Context, body string) string {
	if h := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader)); h != "" {
		return h
	}
	return body
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
