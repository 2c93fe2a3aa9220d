package model

import "time"

// CheckinToken is the payload rendered into the rotating QR code.  It is
// never stored when issued; only consumed token ids are persisted.
type CheckinToken struct {
	JTI             string    `json:"jti"`
	ReservationID   string    `json:"reservation_id"`
	ExpiresAt       time.Time `json:"expires_at"`
	RotationVersion int64     `json:"rotation_version"`
	Signature       string    `json:"signature"`
}

// ConsumedToken records a token id that passed verification once.
type ConsumedToken struct {
	JTI             string    `json:"jti"`
	ReservationID   string    `json:"reservation_id"`
	RotationVersion int64     `json:"rotation_version"`
	ExpiresAt       time.Time `json:"expires_at"`
	ScannerID       string    `json:"scanner_id,omitempty"`
	Offline         bool      `json:"offline"`
	ConsumedAt      time.Time `json:"consumed_at"`
}

// CheckinResult is the answer given to a scanner.
type CheckinResult struct {
	Allowed         bool              `json:"allowed"`
	Reason          string            `json:"reason,omitempty"`
	CanOverride     bool              `json:"can_override"`
	ReservationID   string            `json:"reservation_id"`
	ReservationCode string            `json:"reservation_code"`
	Status          ReservationStatus `json:"status"`
	CheckedIn       bool              `json:"checked_in"`
	ScannerID       string            `json:"scanner_id,omitempty"`
	OfflineMode     bool              `json:"offline_mode"`
}
