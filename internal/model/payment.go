package model

import "time"

// Payment methods accepted by the reconciliation service.
const (
	MethodGCash        = "gcash"
	MethodMaya         = "maya"
	MethodBankTransfer = "bank_transfer"
	MethodCard         = "card"
	MethodCash         = "cash"
	MethodOnSite       = "on_site"
)

// Payment is one installment against a reservation.
type Payment struct {
	ID              string        `json:"payment_id"`
	ReservationID   string        `json:"reservation_id"`
	Amount          int64         `json:"amount"`
	Method          string        `json:"method"`
	ReferenceNo     string        `json:"reference_no,omitempty"`
	ProofRef        string        `json:"proof_ref,omitempty"`
	Status          PaymentStatus `json:"status"`
	IdempotencyKey  string        `json:"-"`
	SubmittedBy     string        `json:"submitted_by"`
	FinalizedBy     string        `json:"finalized_by,omitempty"`
	FinalizedAt     *time.Time    `json:"finalized_at,omitempty"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
