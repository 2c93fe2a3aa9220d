package external

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/model"
)

// ChainGateway talks to the escrow gateway service that fronts the chain
// contracts.  The booking core never signs transactions itself.
type ChainGateway struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[model.OnchainEscrow]
	log     *logrus.Entry
}

// DefaultChainTimeout bounds a gateway call when none is configured.
const DefaultChainTimeout = 5 * time.Second

// NewChainGateway returns a gateway client.  timeout bounds every call and
// is capped at MaxCallTimeout.
func NewChainGateway(baseURL string, timeout time.Duration, log *logrus.Entry) *ChainGateway {
	timeout = callTimeout(timeout, DefaultChainTimeout)
	return &ChainGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		breaker: newBreaker[model.OnchainEscrow]("chain-gateway", log),
		log:     log,
	}
}

func (g *ChainGateway) escrowURL(chainKey, bookingID string, action string) string {
	u := g.baseURL + "/v1/chains/" + url.PathEscape(chainKey) + "/escrows/" + url.PathEscape(bookingID)
	if action != "" {
		u += "/" + action
	}
	return u
}

func (g *ChainGateway) call(ctx context.Context, method, u string, body any) (model.OnchainEscrow, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	out, err := g.breaker.Execute(func() (model.OnchainEscrow, error) {
		var rec model.OnchainEscrow
		status, err := doJSON(ctx, g.http, method, u, body, &rec)
		if status == http.StatusNotFound && method == http.MethodGet {
			// absence is an answer, not a failure
			return model.OnchainEscrow{State: string(model.EscrowNone)}, nil
		}
		return rec, err
	})
	if err != nil {
		return model.OnchainEscrow{}, apperr.External("chain gateway", err)
	}
	return out, nil
}

// ReadEscrow returns the chain's record for a booking.  A booking unknown
// to the chain yields State "none".
func (g *ChainGateway) ReadEscrow(ctx context.Context, chainKey, bookingID string) (model.OnchainEscrow, error) {
	rec, err := g.call(ctx, http.MethodGet, g.escrowURL(chainKey, bookingID, ""), nil)
	if err != nil {
		return rec, err
	}
	if rec.BookingID == "" {
		rec.BookingID = bookingID
	}
	if rec.State == "" {
		rec.State = string(model.EscrowNone)
	}
	return rec, nil
}

// ReleaseEscrow asks the gateway to release a locked escrow to the resort.
func (g *ChainGateway) ReleaseEscrow(ctx context.Context, chainKey, bookingID string) (model.OnchainEscrow, error) {
	return g.call(ctx, http.MethodPost, g.escrowURL(chainKey, bookingID, "release"), struct{}{})
}

// RefundEscrow asks the gateway to refund a locked escrow to the guest.
func (g *ChainGateway) RefundEscrow(ctx context.Context, chainKey, bookingID string) (model.OnchainEscrow, error) {
	return g.call(ctx, http.MethodPost, g.escrowURL(chainKey, bookingID, "refund"), struct{}{})
}

// MintGuestPass requests a guest pass token for a reservation.
func (g *ChainGateway) MintGuestPass(ctx context.Context, chainKey, bookingID, guestID string) error {
	u := g.baseURL + "/v1/chains/" + url.PathEscape(chainKey) + "/guest-passes"
	_, err := g.call(ctx, http.MethodPost, u, map[string]string{"booking_id": bookingID, "guest_id": guestID})
	return err
}

// IsUnavailable reports whether err came from an unreachable collaborator.
func IsUnavailable(err error) bool {
	return errors.Is(err, apperr.ErrExternal)
}
