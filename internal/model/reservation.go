package model

import "time"

// ReservationKind tags the reservation variant.  Stay reservations hold
// inventory units exclusively; tour reservations book a service on a single
// visit date and are only capacity limited.
type ReservationKind string

const (
	KindStay ReservationKind = "stay"
	KindTour ReservationKind = "tour"
)

// EscrowRef links a reservation to its chain-side escrow record.  It is
// written by best-effort shadow writes and never drives the status.
type EscrowRef struct {
	ChainKey  string      `json:"chain_key,omitempty"`
	TxHash    string      `json:"tx_hash,omitempty"`
	OnchainID string      `json:"onchain_id,omitempty"`
	State     EscrowState `json:"escrow_state"`
	Amount    int64       `json:"escrow_amount,omitempty"`
	UpdatedAt *time.Time  `json:"escrow_updated_at,omitempty"`
}

// Reservation is a guest booking.  Amounts are minor currency units.
// CheckOut is exclusive; tours store the visit date as CheckIn and the
// following day as CheckOut.
type Reservation struct {
	ID              string            `json:"reservation_id"`
	Code            string            `json:"reservation_code"`
	GuestID         string            `json:"guest_id"`
	Kind            ReservationKind   `json:"kind"`
	CheckIn         time.Time         `json:"-"`
	CheckOut        time.Time         `json:"-"`
	Status          ReservationStatus `json:"status"`
	TotalAmount     int64             `json:"total_amount"`
	DepositRequired int64             `json:"deposit_required"`
	AmountPaid      int64             `json:"amount_paid"`
	HoldExpiresAt   *time.Time        `json:"hold_expires_at,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	IdempotencyKey  string            `json:"-"`
	Escrow          EscrowRef         `json:"escrow"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// DepositMet reports whether verified payments cover the deposit.
func (r Reservation) DepositMet() bool { return r.AmountPaid >= r.DepositRequired }

// Balance is what remains to be paid.
func (r Reservation) Balance() int64 { return r.TotalAmount - r.AmountPaid }

// UnitAssignment binds a unit to a stay reservation with the rate frozen at
// booking time.
type UnitAssignment struct {
	ID            string    `json:"id"`
	ReservationID string    `json:"reservation_id"`
	UnitID        string    `json:"unit_id"`
	CheckIn       time.Time `json:"-"`
	CheckOut      time.Time `json:"-"`
	RateSnapshot  int64     `json:"rate_snapshot"`
	Nights        int       `json:"nights"`
	LineTotal     int64     `json:"line_total"`
	CreatedAt     time.Time `json:"created_at"`
}

// ServiceBooking is the tour variant's line item.
type ServiceBooking struct {
	ID                string    `json:"id"`
	ReservationID     string    `json:"reservation_id"`
	ServiceID         string    `json:"service_id"`
	VisitDate         time.Time `json:"-"`
	Adults            int       `json:"adults"`
	Kids              int       `json:"kids"`
	AdultRateSnapshot int64     `json:"adult_rate_snapshot"`
	KidRateSnapshot   int64     `json:"kid_rate_snapshot"`
	LineTotal         int64     `json:"line_total"`
	CreatedAt         time.Time `json:"created_at"`
}

// Headcount is adults plus kids.
func (b ServiceBooking) Headcount() int { return b.Adults + b.Kids }

// UnitOccupancy is one existing assignment as seen by the availability
// calculator.
type UnitOccupancy struct {
	UnitID        string
	ReservationID string
	CheckIn       time.Time
	CheckOut      time.Time
	Status        ReservationStatus
}

// StatusEvent is the audit trail of applied transitions.
type StatusEvent struct {
	ID            string            `json:"id"`
	ReservationID string            `json:"reservation_id"`
	From          ReservationStatus `json:"from_status"`
	To            ReservationStatus `json:"to_status"`
	Trigger       string            `json:"trigger"`
	ActorID       string            `json:"actor_id"`
	Reason        string            `json:"reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// PricingHint is an advisory recommendation from the pricing service.
type PricingHint struct {
	SuggestedTotal int64   `json:"suggested_total"`
	Confidence     float64 `json:"confidence"`
	Explanation    string  `json:"explanation,omitempty"`
	Model          string  `json:"model,omitempty"`
}
