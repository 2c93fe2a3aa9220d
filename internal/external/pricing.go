package external

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/model"
)

// PricingInput describes a booking for the recommender.
type PricingInput struct {
	CheckIn     string   `json:"check_in"`
	CheckOut    string   `json:"check_out"`
	Nights      int      `json:"nights"`
	UnitIDs     []string `json:"unit_ids"`
	QuotedTotal int64    `json:"quoted_total"`
	PartySize   int      `json:"party_size,omitempty"`
	IsTour      bool     `json:"is_tour,omitempty"`
}

// PricingClient asks the pricing service for an advisory total.  Its
// answer is attached to responses and never changes the ledger.
type PricingClient struct {
	url     string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[model.PricingHint]
}

// DefaultPricingTimeout bounds a recommendation call.
const DefaultPricingTimeout = 1500 * time.Millisecond

// NewPricingClient returns a client posting to baseURL/v1/recommend.
func NewPricingClient(baseURL string, timeout time.Duration, log *logrus.Entry) *PricingClient {
	timeout = callTimeout(timeout, DefaultPricingTimeout)
	return &PricingClient{
		url:     strings.TrimRight(baseURL, "/") + "/v1/recommend",
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		breaker: newBreaker[model.PricingHint]("pricing", log),
	}
}

// Recommend returns the service's suggestion for in.
func (p *PricingClient) Recommend(ctx context.Context, in PricingInput) (model.PricingHint, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	hint, err := p.breaker.Execute(func() (model.PricingHint, error) {
		var out model.PricingHint
		_, err := doJSON(ctx, p.http, http.MethodPost, p.url, in, &out)
		return out, err
	})
	if err != nil {
		return model.PricingHint{}, apperr.External("pricing", err)
	}
	return hint, nil
}
