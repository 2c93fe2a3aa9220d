package model

import "time"

// Reconciliation outcomes.
const (
	ReconcileMatch          = "match"
	ReconcileMismatch       = "mismatch"
	ReconcileMissingOnchain = "missing_onchain"
	ReconcileSkipped        = "skipped"
)

// OnchainEscrow is the chain gateway's view of an escrow record.  State
// "none" means the chain has no record for the booking id.
type OnchainEscrow struct {
	BookingID string `json:"booking_id"`
	State     string `json:"state"`
	Amount    int64  `json:"amount"`
}

// EscrowReconciliationRow is computed per run and never persisted.
type EscrowReconciliationRow struct {
	ReservationID   string  `json:"reservation_id"`
	ReservationCode string  `json:"reservation_code"`
	LedgerState     string  `json:"db_escrow_state"`
	LedgerAmount    int64   `json:"db_escrow_amount"`
	ChainKey        string  `json:"chain_key,omitempty"`
	TxHash          string  `json:"chain_tx_hash,omitempty"`
	OnchainID       string  `json:"onchain_booking_id,omitempty"`
	OnchainState    *string `json:"onchain_state"`
	OnchainAmount   *int64  `json:"onchain_amount"`
	Result          string  `json:"result"`
	Reason          string  `json:"reason,omitempty"`
}

// EscrowReconciliationSummary aggregates a run.
type EscrowReconciliationSummary struct {
	Total          int  `json:"total"`
	Match          int  `json:"match"`
	Mismatch       int  `json:"mismatch"`
	MissingOnchain int  `json:"missing_onchain"`
	Skipped        int  `json:"skipped"`
	Alert          bool `json:"alert"`
}

// EscrowReconciliationReport is the response of a reconciliation read.
type EscrowReconciliationReport struct {
	ChainKey string                      `json:"chain_key"`
	Items    []EscrowReconciliationRow   `json:"items"`
	Count    int                         `json:"count"`
	Limit    int                         `json:"limit"`
	Offset   int                         `json:"offset"`
	HasMore  bool                        `json:"has_more"`
	Summary  EscrowReconciliationSummary `json:"summary"`
	RanAt    time.Time                   `json:"ran_at"`
}

// ShadowCleanupCandidate is a reservation carrying stale shadow metadata.
type ShadowCleanupCandidate struct {
	ReservationID   string    `json:"reservation_id"`
	ReservationCode string    `json:"reservation_code"`
	ChainKey        string    `json:"chain_key"`
	TxHash          string    `json:"chain_tx_hash"`
	EscrowState     string    `json:"escrow_state"`
	UpdatedAt       time.Time `json:"updated_at"`
}
