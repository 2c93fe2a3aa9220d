package statemachine

import (
	"time"

	"github.com/iliyamo/resort-booking-core/internal/model"
)

// Eligibility is the state machine's answer to "may this guest check in
// now".  CanOverride tells staff that an admin override with a recorded
// reason would be accepted.
type Eligibility struct {
	Allowed     bool
	Reason      string
	CanOverride bool
}

// CheckinEligibility evaluates a reservation against today's date.  Only
// confirmed reservations can move to checked_in; inside the stay window the
// token path is enough, outside it staff may still override.
func CheckinEligibility(res model.Reservation, today time.Time) Eligibility {
	switch res.Status {
	case model.StatusConfirmed:
		if today.Before(res.CheckIn) {
			return Eligibility{Reason: "arrival is before the check-in date", CanOverride: true}
		}
		if !today.Before(res.CheckOut) {
			return Eligibility{Reason: "stay window has ended", CanOverride: true}
		}
		return Eligibility{Allowed: true}
	case model.StatusPendingPayment, model.StatusEscrowLocked:
		return Eligibility{Reason: "payment required before check-in"}
	case model.StatusForVerification:
		return Eligibility{Reason: "payment verification pending"}
	case model.StatusCheckedIn:
		return Eligibility{Reason: "guest is already checked in"}
	case model.StatusCheckedOut:
		return Eligibility{Reason: "reservation is already checked out"}
	case model.StatusCancelled:
		return Eligibility{Reason: "reservation was cancelled"}
	case model.StatusNoShow:
		return Eligibility{Reason: "reservation was marked as no-show"}
	}
	return Eligibility{Reason: "unknown reservation status"}
}
