package escrow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/resort-booking-core/internal/model"
)

// MinInterval is the floor for the scheduled run interval.
const MinInterval = 30 * time.Second

// ErrRunInProgress is returned by RunOnce while another run is active.
var ErrRunInProgress = errors.New("escrow reconciliation run already in progress")

// Snapshot is the monitor's run state.
type Snapshot struct {
	Enabled             bool                               `json:"enabled"`
	ChainKey            string                             `json:"chain_key"`
	IntervalSeconds     int                                `json:"interval_seconds"`
	Limit               int                                `json:"limit"`
	Running             bool                               `json:"running"`
	RunsTotal           int                                `json:"runs_total"`
	ConsecutiveFailures int                                `json:"consecutive_failures"`
	AlertActive         bool                               `json:"alert_active"`
	LastStartedAt       *time.Time                         `json:"last_started_at,omitempty"`
	LastFinishedAt      *time.Time                         `json:"last_finished_at,omitempty"`
	LastDurationMS      int64                              `json:"last_duration_ms"`
	LastError           string                             `json:"last_error,omitempty"`
	LastSummary         *model.EscrowReconciliationSummary `json:"last_summary,omitempty"`
}

// Monitor runs the reporter on a schedule and remembers the outcome.
type Monitor struct {
	reporter *Reporter
	chainKey string
	limit    int
	interval time.Duration
	enabled  bool
	log      *logrus.Entry

	mu    sync.Mutex
	state Snapshot
}

// NewMonitor returns a monitor for chainKey.  Intervals below MinInterval
// are raised to it.
func NewMonitor(r *Reporter, chainKey string, interval time.Duration, limit int, enabled bool, log *logrus.Entry) *Monitor {
	if interval < MinInterval {
		interval = MinInterval
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Monitor{
		reporter: r,
		chainKey: chainKey,
		limit:    limit,
		interval: interval,
		enabled:  enabled,
		log:      log.WithField("component", "escrow_monitor"),
		state: Snapshot{
			Enabled:         enabled,
			ChainKey:        chainKey,
			IntervalSeconds: int(interval / time.Second),
			Limit:           limit,
		},
	}
}

// Snapshot returns a copy of the current run state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	if s.LastSummary != nil {
		sum := *s.LastSummary
		s.LastSummary = &sum
	}
	return s
}

// RunOnce reconciles the first page and records the result.
func (m *Monitor) RunOnce(ctx context.Context) (model.EscrowReconciliationReport, error) {
	m.mu.Lock()
	if m.state.Running {
		m.mu.Unlock()
		return model.EscrowReconciliationReport{}, ErrRunInProgress
	}
	started := m.reporter.Clock.Now()
	m.state.Running = true
	m.state.LastStartedAt = &started
	m.mu.Unlock()

	report, err := m.reporter.Reconcile(ctx, m.chainKey, m.limit, 0)

	finished := m.reporter.Clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Running = false
	m.state.RunsTotal++
	m.state.LastFinishedAt = &finished
	m.state.LastDurationMS = finished.Sub(started).Milliseconds()
	if err != nil {
		m.state.ConsecutiveFailures++
		m.state.LastError = err.Error()
		m.log.WithError(err).WithField("consecutive_failures", m.state.ConsecutiveFailures).Error("escrow reconciliation failed")
		return report, err
	}
	m.state.ConsecutiveFailures = 0
	m.state.LastError = ""
	sum := report.Summary
	m.state.LastSummary = &sum
	if sum.Alert && !m.state.AlertActive {
		m.log.WithFields(logrus.Fields{
			"mismatch":        sum.Mismatch,
			"missing_onchain": sum.MissingOnchain,
			"skipped":         sum.Skipped,
		}).Warn("escrow reconciliation alert raised")
	} else if !sum.Alert && m.state.AlertActive {
		m.log.Info("escrow reconciliation alert cleared")
	}
	m.state.AlertActive = sum.Alert
	return report, nil
}

// Start runs RunOnce every interval until ctx is done.  A disabled
// monitor returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	if !m.enabled {
		return
	}
	m.log.WithField("interval", m.interval.String()).Info("escrow monitor started")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("escrow monitor stopped")
			return
		case <-ticker.C:
			// failures are logged and kept in the snapshot
			_, _ = m.RunOnce(ctx)
		}
	}
}
