package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/config"
	"github.com/iliyamo/resort-booking-core/internal/escrow"
	"github.com/iliyamo/resort-booking-core/internal/ledger"
)

// EscrowHandler exposes the reconciliation report, shadow cleanup and the
// background monitor.  All routes are admin only.
type EscrowHandler struct {
	Reporter *escrow.Reporter
	Monitor  *escrow.Monitor
	Store    escrow.Store
	Clock    clock.Clock
	Config   config.EscrowConfig
}

// chainKey returns the requested chain, defaulting to the active one.
func (h *EscrowHandler) chainKey(c echo.Context) (string, error) {
	key := strings.ToLower(strings.TrimSpace(c.QueryParam("chain_key")))
	if key == "" {
		key = strings.ToLower(h.Config.ActiveChain)
	}
	if key == "" || !h.Config.IsKnownChain(key) {
		return "", apperr.ValidationField("chain_key", "unknown chain %q", key)
	}
	return key, nil
}

// Reconciliation handles GET /v1/admin/escrow/reconciliation.
func (h *EscrowHandler) Reconciliation(c echo.Context) error {
	key, err := h.chainKey(c)
	if err != nil {
		return fail(c, err)
	}
	limit, err := queryInt(c, "limit", escrow.DefaultLimit)
	if err != nil {
		return fail(c, err)
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return fail(c, err)
	}
	report, err := h.Reporter.Reconcile(c.Request().Context(), key, limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// CleanupShadow handles POST /v1/admin/escrow/cleanup-shadow.  It is a dry
// run unless execute=true.
func (h *EscrowHandler) CleanupShadow(c echo.Context) error {
	key, err := h.chainKey(c)
	if err != nil {
		return fail(c, err)
	}
	limit, err := queryInt(c, "limit", escrow.DefaultLimit)
	if err != nil {
		return fail(c, err)
	}
	report, err := escrow.Cleanup(c.Request().Context(), h.Store, h.Clock, key, ledger.ShadowHashPrefix, limit, queryBool(c, "execute"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// MonitorStatus handles GET /v1/admin/escrow/monitor.
func (h *EscrowHandler) MonitorStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Monitor.Snapshot())
}

// MonitorRun handles POST /v1/admin/escrow/monitor/run.
func (h *EscrowHandler) MonitorRun(c echo.Context) error {
	report, err := h.Monitor.RunOnce(c.Request().Context())
	if errors.Is(err, escrow.ErrRunInProgress) {
		return c.JSON(http.StatusConflict, errorBody{Error: err.Error(), Code: "run_in_progress"})
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"report": report, "monitor": h.Monitor.Snapshot()})
}
