package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
)

// errorBody is the uniform error response.
type errorBody struct {
	Error   string         `json:"error"`
	Code    apperr.Kind    `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// fail writes err as an error response.  Anything that is not an
// *apperr.Error is reported as a system error.
func fail(c echo.Context, err error) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.System("unexpected error", err)
	}
	status := apperr.HTTPStatus(ae.Kind)
	msg := ae.Message
	if status >= http.StatusInternalServerError {
		c.Set(CtxErrorCauseKey, err.Error())
		if ae.Kind == apperr.KindSystem {
			msg = "internal error"
		}
	}
	return c.JSON(status, errorBody{Error: msg, Code: ae.Kind, Details: ae.Details})
}

// HTTPErrorHandler renders errors that escape handlers, mostly echo's own
// 404/405 and binding errors, in the same shape as fail.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, _ := he.Message.(string)
		if msg == "" {
			msg = http.StatusText(he.Code)
		}
		code := apperr.KindSystem
		switch {
		case he.Code == http.StatusNotFound || he.Code == http.StatusMethodNotAllowed:
			code = apperr.KindNotFound
		case he.Code == http.StatusUnauthorized:
			code = "unauthorized"
		case he.Code == http.StatusForbidden:
			code = apperr.KindForbidden
		case he.Code < http.StatusInternalServerError:
			code = apperr.KindValidation
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(he.Code)
			return
		}
		_ = c.JSON(he.Code, errorBody{Error: msg, Code: code})
		return
	}
	_ = fail(c, err)
}
