package model

import (
	"regexp"
	"strings"
)

// ReservationStatus is the lifecycle state of a reservation.  Transitions
// between states are validated by the statemachine package; nothing else
// should assign this field on a persisted reservation.
type ReservationStatus string

const (
	StatusPendingPayment  ReservationStatus = "pending_payment"
	StatusEscrowLocked    ReservationStatus = "escrow_locked"
	StatusForVerification ReservationStatus = "for_verification"
	StatusConfirmed       ReservationStatus = "confirmed"
	StatusCheckedIn       ReservationStatus = "checked_in"
	StatusCheckedOut      ReservationStatus = "checked_out"
	StatusCancelled       ReservationStatus = "cancelled"
	StatusNoShow          ReservationStatus = "no_show"
)

// AllStatuses lists every canonical reservation status.
var AllStatuses = []ReservationStatus{
	StatusPendingPayment, StatusEscrowLocked, StatusForVerification, StatusConfirmed,
	StatusCheckedIn, StatusCheckedOut, StatusCancelled, StatusNoShow,
}

// InactiveStatuses do not hold inventory.
var InactiveStatuses = []ReservationStatus{StatusCancelled, StatusNoShow}

func (s ReservationStatus) String() string { return string(s) }

// IsValid reports whether s is one of the canonical statuses.
func (s ReservationStatus) IsValid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// HoldsInventory reports whether a reservation in this status still blocks
// its units for availability purposes.
func (s ReservationStatus) HoldsInventory() bool {
	return s != StatusCancelled && s != StatusNoShow
}

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusCheckedOut || s == StatusCancelled || s == StatusNoShow
}

var statusAliases = map[string]ReservationStatus{
	"pendingpayment":  StatusPendingPayment,
	"pending":         StatusPendingPayment,
	"escrowlocked":    StatusEscrowLocked,
	"forverification": StatusForVerification,
	"checkedin":       StatusCheckedIn,
	"checkedout":      StatusCheckedOut,
	"noshow":          StatusNoShow,
	"canceled":        StatusCancelled,
}

var statusSeparators = regexp.MustCompile(`[\s\-]+`)
var statusUnderscores = regexp.MustCompile(`_+`)

// ParseReservationStatus canonicalises legacy spellings such as
// "PendingPayment", "checked-in" or "noshow".  ok is false when the value
// cannot be mapped to a known status.
func ParseReservationStatus(raw string) (ReservationStatus, bool) {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return "", false
	}
	token = statusSeparators.ReplaceAllString(token, "_")
	token = strings.Trim(statusUnderscores.ReplaceAllString(token, "_"), "_")
	if s := ReservationStatus(token); s.IsValid() {
		return s, true
	}
	if s, ok := statusAliases[strings.ReplaceAll(token, "_", "")]; ok {
		return s, true
	}
	return "", false
}

// PaymentStatus is the lifecycle state of a single payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentVerified PaymentStatus = "verified"
	PaymentRejected PaymentStatus = "rejected"
)

// IsFinal reports whether the payment was verified or rejected.
func (s PaymentStatus) IsFinal() bool { return s == PaymentVerified || s == PaymentRejected }

// EscrowState mirrors the chain-side lifecycle recorded on a reservation.
type EscrowState string

const (
	EscrowNone        EscrowState = "none"
	EscrowPendingLock EscrowState = "pending_lock"
	EscrowLocked      EscrowState = "locked"
	EscrowReleased    EscrowState = "released"
	EscrowRefunded    EscrowState = "refunded"
)
