// Package external holds the HTTP clients for collaborators outside the
// booking core: the escrow chain gateway, the pricing recommender and the
// proof object signer.  Every remote call runs with a timeout behind a
// circuit breaker and failures surface as ExternalServiceUnavailable.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// MaxCallTimeout caps the per-call timeout of every remote collaborator,
// whatever the configuration says.
const MaxCallTimeout = 10 * time.Second

// callTimeout applies def to unset values and the hard cap to the rest.
func callTimeout(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	if d > MaxCallTimeout {
		return MaxCallTimeout
	}
	return d
}

// errStatus is returned for non-2xx responses.
type errStatus struct {
	Code int
	Body string
}

func (e *errStatus) Error() string { return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body) }

// newBreaker trips after five consecutive failures and probes again after
// thirty seconds.
func newBreaker[T any](name string, log *logrus.Entry) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	})
}

// doJSON sends body (if any) as JSON and decodes a 2xx response into out.
// The returned status is 0 when the request never completed.
func doJSON(ctx context.Context, c *http.Client, method, url string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &errStatus{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
