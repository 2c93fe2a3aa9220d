package checkin

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/resort-booking-core/internal/clock"
)

// TokenPurger deletes consumed token records that expired before a cutoff.
type TokenPurger interface {
	PurgeConsumedTokens(ctx context.Context, before time.Time) (int64, error)
}

// Retention periodically drops consumed token records.  Grace keeps rows
// well past the verification skew so a late replay still hits the record.
type Retention struct {
	Store    TokenPurger
	Clock    clock.Clock
	Grace    time.Duration
	Interval time.Duration
	Log      *logrus.Entry
}

// RunOnce purges records whose token expired more than Grace ago.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.Clock.Now().Add(-r.Grace)
	n, err := r.Store.PurgeConsumedTokens(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.Log.WithFields(logrus.Fields{"purged": n, "cutoff": cutoff}).Info("consumed check-in tokens purged")
	}
	return n, nil
}

// Start runs RunOnce every Interval until ctx is done.
func (r *Retention) Start(ctx context.Context) {
	interval := r.Interval
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.Log.WithError(err).Warn("token retention run failed")
			}
		}
	}
}
