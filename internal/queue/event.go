// Package queue defines the reservation event payloads exchanged over the
// message broker together with the publisher and the audit consumer.
package queue

import "time"

// ReservationEventsQueue is the durable queue every event is routed to.
const ReservationEventsQueue = "reservation.events"

// Event types.
const (
	EventReservationCreated = "reservation.created"
	EventStatusChanged      = "reservation.status_changed"
	EventPaymentSubmitted   = "payment.submitted"
	EventPaymentVerified    = "payment.verified"
	EventPaymentRejected    = "payment.rejected"
)

// ReservationEvent is published after a reservation or payment change is
// committed.  It carries enough for consumers to log, notify or feed
// analytics without querying the primary database.
type ReservationEvent struct {
	Type            string `json:"type"`
	ReservationID   string `json:"reservation_id"`
	ReservationCode string `json:"reservation_code,omitempty"`
	GuestID         string `json:"guest_id,omitempty"`
	FromStatus      string `json:"from_status,omitempty"`
	Status          string `json:"status"`
	PaymentID       string `json:"payment_id,omitempty"`
	Amount          int64  `json:"amount,omitempty"`
	ActorID         string `json:"actor_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
	OccurredAt      string `json:"occurred_at"`
}

// Stamp sets OccurredAt in RFC3339 UTC.
func (e ReservationEvent) Stamp(at time.Time) ReservationEvent {
	e.OccurredAt = at.UTC().Format(time.RFC3339)
	return e
}
