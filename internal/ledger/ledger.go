// Package ledger owns reservation rows.  Create and CreateTour insert a
// reservation and its line items in one transaction that re-validates
// availability under row locks, so overlapping requests for the same unit
// produce exactly one reservation and one AvailabilityConflict.  Follow-up
// work that talks to other services (pricing, escrow, events) runs only
// after commit and never fails the request.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/external"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/queue"
	"github.com/iliyamo/resort-booking-core/internal/repository"
	"github.com/iliyamo/resort-booking-core/internal/statemachine"
)

// PricingAdvisor recommends a total for a quote.
type PricingAdvisor interface {
	Recommend(ctx context.Context, in external.PricingInput) (model.PricingHint, error)
}

// EscrowChain is the subset of the chain gateway the ledger uses.
type EscrowChain interface {
	RefundEscrow(ctx context.Context, chainKey, bookingID string) (model.OnchainEscrow, error)
	MintGuestPass(ctx context.Context, chainKey, bookingID, guestID string) error
}

// Options tunes validation limits and post-commit behaviour.
type Options struct {
	MaxNights      int
	MaxUnits       int
	MaxNotesLen    int
	DepositPercent int
	// ChainKey is the active escrow chain.  Shadow writes and guest passes
	// are skipped when empty.
	ChainKey    string
	ShadowWrite bool
	GuestPass   bool
	// FollowUpTimeout bounds all post-commit work of one request.
	FollowUpTimeout time.Duration
}

// DefaultOptions returns the production limits.
func DefaultOptions() Options {
	return Options{
		MaxNights:       30,
		MaxUnits:        10,
		MaxNotesLen:     500,
		DepositPercent:  50,
		FollowUpTimeout: 5 * time.Second,
	}
}

// Deps are the collaborators of a Service.  Pricing, Chain and Events are
// optional.
type Deps struct {
	Store   *repository.Store
	Machine *statemachine.Machine
	Clock   clock.Clock
	IDs     clock.IDGenerator
	Pricing PricingAdvisor
	Chain   EscrowChain
	Events  queue.Publisher
	Log     *logrus.Entry
}

// Service is the reservation ledger.
type Service struct {
	store   *repository.Store
	machine *statemachine.Machine
	clock   clock.Clock
	ids     clock.IDGenerator
	pricing PricingAdvisor
	chain   EscrowChain
	events  queue.Publisher
	log     *logrus.Entry
	opts    Options
}

// NewService wires a ledger.  Zero option fields fall back to defaults.
func NewService(d Deps, opts Options) *Service {
	def := DefaultOptions()
	if opts.MaxNights <= 0 {
		opts.MaxNights = def.MaxNights
	}
	if opts.MaxUnits <= 0 {
		opts.MaxUnits = def.MaxUnits
	}
	if opts.MaxNotesLen <= 0 {
		opts.MaxNotesLen = def.MaxNotesLen
	}
	if opts.DepositPercent <= 0 || opts.DepositPercent > 100 {
		opts.DepositPercent = def.DepositPercent
	}
	if opts.FollowUpTimeout <= 0 {
		opts.FollowUpTimeout = def.FollowUpTimeout
	}
	events := d.Events
	if events == nil {
		events = queue.NopPublisher{}
	}
	log := d.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:   d.Store,
		machine: d.Machine,
		clock:   d.Clock,
		ids:     d.IDs,
		pricing: d.Pricing,
		chain:   d.Chain,
		events:  events,
		log:     log.WithField("component", "ledger"),
		opts:    opts,
	}
}

// DepositFor returns the default deposit for total: DepositPercent of it,
// rounded up.  It never exceeds total.
func (s *Service) DepositFor(total int64) int64 {
	if total <= 0 {
		return 0
	}
	pct := int64(s.opts.DepositPercent)
	return total/100*pct + (total%100*pct+99)/100
}

// followUpContext detaches post-commit work from the request so a client
// disconnect does not cut it short.
func (s *Service) followUpContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.FollowUpTimeout)
}

func (s *Service) publish(ctx context.Context, ev queue.ReservationEvent) {
	ev = ev.Stamp(s.clock.Now())
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.WithError(err).WithField("event", ev.Type).Warn("event publish failed")
	}
}

// translate converts storage errors into the taxonomy.  Errors that are
// already classified pass through.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("reservation")
	}
	return apperr.System(op, err)
}
