// Package escrow compares the ledger's escrow metadata with the chain
// gateway's records.  It is diagnostic only: nothing here changes a
// reservation status, and the one write path (shadow cleanup) only resets
// placeholder metadata and runs as a dry run unless asked otherwise.
package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/repository"
)

const (
	DefaultLimit     = 200
	MaxLimit         = 1000
	defaultCallLimit = 5 * time.Second
	// MaxCallTimeout caps CallTimeout.
	MaxCallTimeout = 10 * time.Second
)

// ChainReader reads one escrow record from the chain gateway.
type ChainReader interface {
	ReadEscrow(ctx context.Context, chainKey, bookingID string) (model.OnchainEscrow, error)
}

// Source pages through the ledger side of the comparison.
type Source interface {
	ListEscrowReservations(ctx context.Context, chainKey string, limit, offset int) ([]model.Reservation, int, error)
}

// Thresholds raise the alert flag when any count reaches its value.  A
// zero threshold never alerts.
type Thresholds struct {
	Mismatch       int
	MissingOnchain int
	Skipped        int
}

// DefaultThresholds alert on the first problem of any kind.
func DefaultThresholds() Thresholds {
	return Thresholds{Mismatch: 1, MissingOnchain: 1, Skipped: 1}
}

func (t Thresholds) alert(s model.EscrowReconciliationSummary) bool {
	reached := func(n, limit int) bool { return limit > 0 && n >= limit }
	return reached(s.Mismatch, t.Mismatch) || reached(s.MissingOnchain, t.MissingOnchain) || reached(s.Skipped, t.Skipped)
}

// Reporter builds reconciliation reports.
type Reporter struct {
	Source      Source
	Chain       ChainReader
	Clock       clock.Clock
	CallTimeout time.Duration
	Thresholds  Thresholds
	Log         *logrus.Entry
}

// Reconcile classifies one page of escrow-bearing reservations on
// chainKey.  Chain failures and timeouts are recorded as skipped and never
// stop the scan.  A ledger read failure is reported as
// ExternalServiceUnavailable.
func (r *Reporter) Reconcile(ctx context.Context, chainKey string, limit, offset int) (model.EscrowReconciliationReport, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, total, err := r.Source.ListEscrowReservations(ctx, chainKey, limit, offset)
	if err != nil {
		return model.EscrowReconciliationReport{}, apperr.External("escrow ledger", err)
	}

	report := model.EscrowReconciliationReport{
		ChainKey: chainKey,
		Items:    make([]model.EscrowReconciliationRow, 0, len(rows)),
		Limit:    limit,
		Offset:   offset,
		HasMore:  offset+len(rows) < total,
		RanAt:    r.Clock.Now(),
	}
	for _, res := range rows {
		row := r.classify(ctx, chainKey, res)
		report.Items = append(report.Items, row)
		switch row.Result {
		case model.ReconcileMatch:
			report.Summary.Match++
		case model.ReconcileMismatch:
			report.Summary.Mismatch++
		case model.ReconcileMissingOnchain:
			report.Summary.MissingOnchain++
		case model.ReconcileSkipped:
			report.Summary.Skipped++
		}
	}
	report.Count = len(report.Items)
	report.Summary.Total = report.Count
	report.Summary.Alert = r.Thresholds.alert(report.Summary)
	return report, nil
}

func (r *Reporter) callTimeout() time.Duration {
	switch {
	case r.CallTimeout <= 0:
		return defaultCallLimit
	case r.CallTimeout > MaxCallTimeout:
		return MaxCallTimeout
	}
	return r.CallTimeout
}

func (r *Reporter) classify(ctx context.Context, chainKey string, res model.Reservation) model.EscrowReconciliationRow {
	row := model.EscrowReconciliationRow{
		ReservationID:   res.ID,
		ReservationCode: res.Code,
		LedgerState:     string(res.Escrow.State),
		LedgerAmount:    res.Escrow.Amount,
		ChainKey:        res.Escrow.ChainKey,
		TxHash:          res.Escrow.TxHash,
		OnchainID:       res.Escrow.OnchainID,
	}
	if row.ChainKey == "" {
		row.ChainKey = chainKey
	}
	bookingID := res.Escrow.OnchainID
	if bookingID == "" {
		bookingID = res.ID
	}

	if r.Chain == nil {
		row.Result = model.ReconcileSkipped
		row.Reason = "chain gateway not configured"
		return row
	}
	cctx, cancel := context.WithTimeout(ctx, r.callTimeout())
	defer cancel()
	rec, err := r.Chain.ReadEscrow(cctx, row.ChainKey, bookingID)
	if err != nil {
		row.Result = model.ReconcileSkipped
		row.Reason = "chain read failed: " + err.Error()
		r.Log.WithError(err).WithField("reservation_id", res.ID).Debug("escrow read skipped")
		return row
	}

	state := strings.ToLower(strings.TrimSpace(rec.State))
	row.OnchainState = &state
	row.OnchainAmount = &rec.Amount
	switch {
	case state == "" || state == string(model.EscrowNone):
		row.Result = model.ReconcileMissingOnchain
		row.Reason = "ledger expects an escrow record but the chain has none"
		row.OnchainState = nil
		row.OnchainAmount = nil
	case state != row.LedgerState:
		row.Result = model.ReconcileMismatch
		row.Reason = fmt.Sprintf("state differs: ledger %s, chain %s", row.LedgerState, state)
	case rec.Amount != row.LedgerAmount:
		row.Result = model.ReconcileMismatch
		row.Reason = fmt.Sprintf("amount differs: ledger %d, chain %d", row.LedgerAmount, rec.Amount)
	default:
		row.Result = model.ReconcileMatch
	}
	return row
}

// Store is what Cleanup needs from the repository.
type Store interface {
	ListShadowCleanupCandidates(ctx context.Context, chainKey, hashPrefix string, limit int) ([]model.ShadowCleanupCandidate, error)
	ClearShadowEscrow(ctx context.Context, reservationID, expectedHash string, at time.Time) (bool, error)
}

var _ Store = (*repository.Store)(nil)

// CleanupReport lists what a cleanup found and, when executed, cleared.
type CleanupReport struct {
	ChainKey   string                         `json:"chain_key"`
	DryRun     bool                           `json:"dry_run"`
	Candidates []model.ShadowCleanupCandidate `json:"candidates"`
	Cleared    []string                       `json:"cleared"`
	Failed     []string                       `json:"failed,omitempty"`
}

// Cleanup finds reservations whose escrow metadata is still a shadow
// placeholder and, when execute is set, resets them.  Each reset is
// conditional on the stored tx hash so a real lock written meanwhile is
// left alone.
func Cleanup(ctx context.Context, s Store, c clock.Clock, chainKey, hashPrefix string, limit int, execute bool) (CleanupReport, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	cands, err := s.ListShadowCleanupCandidates(ctx, chainKey, hashPrefix, limit)
	if err != nil {
		return CleanupReport{}, fmt.Errorf("list shadow candidates: %w", err)
	}
	out := CleanupReport{ChainKey: chainKey, DryRun: !execute, Candidates: cands, Cleared: []string{}}
	if !execute {
		return out, nil
	}
	now := c.Now()
	for _, cand := range cands {
		ok, err := s.ClearShadowEscrow(ctx, cand.ReservationID, cand.TxHash, now)
		if err != nil {
			return out, fmt.Errorf("clear shadow escrow %s: %w", cand.ReservationID, err)
		}
		if ok {
			out.Cleared = append(out.Cleared, cand.ReservationID)
		} else {
			out.Failed = append(out.Failed, cand.ReservationID)
		}
	}
	return out, nil
}
