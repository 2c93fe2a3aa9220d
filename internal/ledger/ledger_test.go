package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/external"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/queue"
	"github.com/iliyamo/resort-booking-core/internal/repository"
	"github.com/iliyamo/resort-booking-core/internal/repository/sqlitetest"
	"github.com/iliyamo/resort-booking-core/internal/statemachine"
)

var (
	guest   = model.Actor{ID: "guest-1", Role: model.RoleGuest}
	other   = model.Actor{ID: "guest-2", Role: model.RoleGuest}
	admin   = model.Actor{ID: "admin-1", Role: model.RoleAdmin}
	startAt = time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.ReservationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeChain struct {
	mu       sync.Mutex
	refunds  []string
	passes   []string
	failMint bool
}

func (c *fakeChain) RefundEscrow(_ context.Context, chainKey, bookingID string) (model.OnchainEscrow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refunds = append(c.refunds, chainKey+"/"+bookingID)
	return model.OnchainEscrow{BookingID: bookingID, State: "refunded"}, nil
}

func (c *fakeChain) MintGuestPass(_ context.Context, chainKey, bookingID, guestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failMint {
		return apperr.External("chain gateway", errors.New("down"))
	}
	c.passes = append(c.passes, bookingID+"/"+guestID)
	return nil
}

type fakePricing struct{ err error }

func (p fakePricing) Recommend(_ context.Context, in external.PricingInput) (model.PricingHint, error) {
	if p.err != nil {
		return model.PricingHint{}, p.err
	}
	return model.PricingHint{SuggestedTotal: in.QuotedTotal * 11 / 10, Confidence: 0.8}, nil
}

type harness struct {
	store  *repository.Store
	clock  *clock.Manual
	events *recordingPublisher
	chain  *fakeChain
	svc    *Service
}

func newHarness(t *testing.T, opts Options, pricing PricingAdvisor) *harness {
	t.Helper()
	h := &harness{
		store:  sqlitetest.Open(t),
		clock:  clock.NewManual(startAt),
		events: &recordingPublisher{},
		chain:  &fakeChain{},
	}
	ids := clock.UUIDGenerator{}
	h.svc = NewService(Deps{
		Store:   h.store,
		Machine: statemachine.New(h.clock, ids),
		Clock:   h.clock,
		IDs:     ids,
		Pricing: pricing,
		Chain:   h.chain,
		Events:  h.events,
		Log:     logrus.NewEntry(logrus.New()),
	}, opts)
	sqlitetest.SeedUnit(t, h.store, "villa", 1500)
	sqlitetest.SeedUnit(t, h.store, "hut", 800)
	return h
}

func day(s string) time.Time {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func stay(in, out string, units ...UnitRequest) CreateRequest {
	return CreateRequest{Actor: guest, CheckIn: day(in), CheckOut: day(out), Units: units}
}

func TestCreateComputesTotalsAndStartsPending(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()

	res, err := h.svc.Create(ctx, stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"}))
	require.NoError(t, err)
	r := res.Reservation
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(3000), r.TotalAmount)
	assert.Equal(t, int64(1500), r.DepositRequired)
	assert.Equal(t, model.StatusPendingPayment, r.Status)
	assert.Regexp(t, `^HR-260220-`, r.Code)
	require.Len(t, res.Units, 1)
	assert.Equal(t, 2, res.Units[0].Nights)
	assert.Equal(t, int64(1500), res.Units[0].RateSnapshot)

	stored, err := h.store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.TotalAmount, stored.TotalAmount)

	history, err := h.svc.History(ctx, guest, r.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.StatusPendingPayment, history[0].To)
	assert.Equal(t, "create", history[0].Trigger)

	assert.Equal(t, []string{queue.EventReservationCreated}, h.events.types())
}

func TestCreateUsesCatalogRateAndDepositOverride(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	deposit := int64(0)
	req := stay("2026-03-01", "2026-03-04", UnitRequest{UnitID: "hut"}, UnitRequest{UnitID: "villa", RatePerNight: 1000})
	req.Actor, req.GuestID = admin, guest.ID
	req.Deposit = &deposit

	res, err := h.svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, guest.ID, res.Reservation.GuestID)
	assert.Equal(t, int64(3*800+3*1000), res.Reservation.TotalAmount)
	assert.Equal(t, int64(0), res.Reservation.DepositRequired)

	odd := stay("2026-04-01", "2026-04-02", UnitRequest{UnitID: "villa", RatePerNight: 1001})
	odd.Actor, odd.GuestID = admin, guest.ID
	res, err = h.svc.Create(context.Background(), odd)
	require.NoError(t, err)
	assert.Equal(t, int64(501), res.Reservation.DepositRequired, "deposit rounds up")
}

func TestGuestCannotPriceOwnStay(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()
	zero := int64(0)

	cheap := stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa", RatePerNight: 1})
	_, err := h.svc.Create(ctx, cheap)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	noDeposit := stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"})
	noDeposit.Deposit = &zero
	_, err = h.svc.Create(ctx, noDeposit)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	occ, err := h.store.OccupancyInRange(ctx, []string{"villa"}, day("2026-03-01"), day("2026-03-03"))
	require.NoError(t, err)
	assert.Empty(t, occ, "refused requests claim nothing")

	res, err := h.svc.Create(ctx, stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"}))
	require.NoError(t, err)
	assert.Equal(t, int64(3000), res.Reservation.TotalAmount)
	assert.Equal(t, int64(1500), res.Reservation.DepositRequired)
}

func TestAmountsNeverOverflow(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()

	huge := stay("2026-03-01", "2026-03-04", UnitRequest{UnitID: "villa", RatePerNight: math.MaxInt64 / 2})
	huge.Actor, huge.GuestID = admin, guest.ID
	_, err := h.svc.Create(ctx, huge)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	atCap := stay("2026-03-01", "2026-03-31", UnitRequest{UnitID: "villa", RatePerNight: MaxRate})
	atCap.Actor, atCap.GuestID = admin, guest.ID
	res, err := h.svc.Create(ctx, atCap)
	require.NoError(t, err)
	assert.Equal(t, 30*MaxRate, res.Reservation.TotalAmount)
	assert.Equal(t, 15*MaxRate, res.Reservation.DepositRequired)

	_, err = h.svc.CreateUnit(ctx, admin, UnitInput{Name: "Palace", Kind: model.UnitRoom, BaseRate: MaxRate + 1})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.svc.CreateTourService(ctx, admin, TourInput{Name: "Yacht", AdultRate: MaxRate + 1})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	ts, err := h.svc.CreateTourService(ctx, admin, TourInput{Name: "Yacht", AdultRate: MaxRate})
	require.NoError(t, err)
	_, err = h.svc.CreateTour(ctx, TourRequest{Actor: guest, ServiceID: ts.ID, VisitDate: day("2026-03-01"), Adults: math.MaxInt32})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDepositForNeverExceedsTotal(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	for _, total := range []int64{0, 1, 99, 1001, MaxRate * 300, math.MaxInt64} {
		d := h.svc.DepositFor(total)
		assert.GreaterOrEqual(t, d, int64(0), total)
		assert.LessOrEqual(t, d, total, total)
	}
	assert.Equal(t, int64(501), h.svc.DepositFor(1001))
	assert.Equal(t, int64(math.MaxInt64/2+1), h.svc.DepositFor(math.MaxInt64))
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()
	villa := UnitRequest{UnitID: "villa"}
	tooMuch := int64(99999)

	many := make([]UnitRequest, 11)
	for i := range many {
		many[i] = UnitRequest{UnitID: fmt.Sprintf("u%d", i)}
	}
	withDeposit := stay("2026-03-01", "2026-03-02", villa)
	withDeposit.Deposit = &tooMuch
	withDeposit.Actor, withDeposit.GuestID = admin, guest.ID
	negative := stay("2026-03-01", "2026-03-02", UnitRequest{UnitID: "villa", RatePerNight: -1})
	negative.Actor, negative.GuestID = admin, guest.ID
	longNotes := stay("2026-03-01", "2026-03-02", villa)
	longNotes.Notes = strings.Repeat("x", 501)
	halfEscrow := stay("2026-03-01", "2026-03-02", villa)
	halfEscrow.EscrowLock = &EscrowLock{ChainKey: "sepolia"}

	cases := map[string]CreateRequest{
		"zero nights":     stay("2026-03-01", "2026-03-01", villa),
		"reversed":        stay("2026-03-03", "2026-03-01", villa),
		"31 nights":       stay("2026-03-01", "2026-04-01", villa),
		"past check-in":   stay("2026-02-19", "2026-02-21", villa),
		"no units":        stay("2026-03-01", "2026-03-02"),
		"eleven units":    stay("2026-03-01", "2026-03-02", many...),
		"duplicate unit":  stay("2026-03-01", "2026-03-02", villa, villa),
		"unknown unit":    stay("2026-03-01", "2026-03-02", UnitRequest{UnitID: "castle"}),
		"negative rate":   negative,
		"deposit > total": withDeposit,
		"notes too long":  longNotes,
		"partial escrow":  halfEscrow,
	}
	for name, req := range cases {
		_, err := h.svc.Create(ctx, req)
		assert.ErrorIs(t, err, apperr.ErrValidation, name)
	}

	// 30 nights and check-in today are fine
	_, err := h.svc.Create(ctx, stay("2026-02-20", "2026-03-22", villa))
	assert.NoError(t, err)

	require.NoError(t, h.store.UpdateUnit(ctx, model.Unit{ID: "hut", Name: "Hut", BaseRate: 800, Active: false, UpdatedAt: startAt}))
	_, err = h.svc.Create(ctx, stay("2026-05-01", "2026-05-02", UnitRequest{UnitID: "hut"}))
	assert.ErrorIs(t, err, apperr.ErrValidation, "inactive unit")
}

func TestCreateRejectsOverlapAndAllowsBackToBack(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()
	villa := UnitRequest{UnitID: "villa"}

	first, err := h.svc.Create(ctx, stay("2026-03-01", "2026-03-03", villa))
	require.NoError(t, err)

	_, err = h.svc.Create(ctx, stay("2026-03-02", "2026-03-05", villa, UnitRequest{UnitID: "hut"}))
	require.ErrorIs(t, err, apperr.ErrAvailability)
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, []string{"villa"}, ae.Details["unit_ids"])

	_, err = h.svc.Create(ctx, stay("2026-03-03", "2026-03-05", villa))
	assert.NoError(t, err, "check-out day is bookable")

	_, err = h.svc.Cancel(ctx, guest, first.Reservation.ID, "change of plans")
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, stay("2026-03-01", "2026-03-03", villa))
	assert.NoError(t, err, "cancelled reservations free their nights")
}

func TestConcurrentOverlappingCreatesYieldOneReservation(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"})
			if i%2 == 1 {
				req = stay("2026-03-02", "2026-03-04", UnitRequest{UnitID: "villa"})
			}
			req.Actor = model.Actor{ID: fmt.Sprintf("guest-%d", i), Role: model.RoleGuest}
			_, err := h.svc.Create(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrAvailability):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	occ, err := h.store.OccupancyInRange(context.Background(), []string{"villa"}, day("2026-03-01"), day("2026-03-04"))
	require.NoError(t, err)
	assert.Len(t, occ, 1)
}

func TestIdempotentCreateReturnsSameReservation(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()
	req := stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"})
	req.IdempotencyKey = "checkout-42"

	first, err := h.svc.Create(ctx, req)
	require.NoError(t, err)
	second, err := h.svc.Create(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Reservation.ID, second.Reservation.ID)
	assert.True(t, second.Replayed)
	require.Len(t, second.Units, 1)

	all, err := h.svc.List(ctx, admin, repository.ReservationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// the same key from another guest is a different booking attempt
	req.Actor = other
	_, err = h.svc.Create(ctx, req)
	assert.ErrorIs(t, err, apperr.ErrAvailability)
}

func TestConcurrentIdempotentRetries(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]int{}
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"})
			req.IdempotencyKey = "retry-me"
			res, err := h.svc.Create(context.Background(), req)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[res.Reservation.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)
}

func TestCreateWithEscrowLockStartsLocked(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	req := stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"})
	req.EscrowLock = &EscrowLock{ChainKey: "sepolia", TxHash: "0xabc", OnchainID: "b-1", Amount: 1000}

	res, err := h.svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEscrowLocked, res.Reservation.Status)

	got, err := h.store.GetReservation(context.Background(), res.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscrowLocked, got.Escrow.State)
	assert.Equal(t, "0xabc", got.Escrow.TxHash)

	cancelled, err := h.svc.Cancel(context.Background(), guest, res.Reservation.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.Equal(t, model.EscrowRefunded, cancelled.Escrow.State)
	assert.Equal(t, []string{"sepolia/b-1"}, h.chain.refunds)
}

func TestFollowUpsAreBestEffort(t *testing.T) {
	opts := Options{ChainKey: "sepolia", ShadowWrite: true, GuestPass: true}
	h := newHarness(t, opts, fakePricing{})
	res, err := h.svc.Create(context.Background(), stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"}))
	require.NoError(t, err)
	require.NotNil(t, res.Pricing)
	assert.Equal(t, int64(3300), res.Pricing.SuggestedTotal)
	assert.Equal(t, model.EscrowPendingLock, res.Reservation.Escrow.State)
	assert.True(t, strings.HasPrefix(res.Reservation.Escrow.TxHash, ShadowHashPrefix))
	assert.Len(t, h.chain.passes, 1)

	failing := newHarness(t, opts, fakePricing{err: apperr.External("pricing", errors.New("timeout"))})
	failing.chain.failMint = true
	res, err = failing.svc.Create(context.Background(), stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"}))
	require.NoError(t, err)
	assert.Nil(t, res.Pricing)
	assert.Equal(t, model.StatusPendingPayment, res.Reservation.Status)
}

func TestCancelRules(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()
	res, err := h.svc.Create(ctx, stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"}))
	require.NoError(t, err)
	id := res.Reservation.ID

	_, err = h.svc.Cancel(ctx, other, id, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = h.svc.MarkNoShow(ctx, guest, id, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = h.svc.Cancel(ctx, guest, id, "plans changed")
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, admin, id, "again")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = h.svc.Cancel(ctx, admin, "missing", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	res, err = h.svc.Create(ctx, stay("2026-03-05", "2026-03-06", UnitRequest{UnitID: "villa"}))
	require.NoError(t, err)
	noShow, err := h.svc.MarkNoShow(ctx, admin, res.Reservation.ID, "never arrived")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoShow, noShow.Status)
}

func TestGetEnforcesOwnership(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()
	res, err := h.svc.Create(ctx, stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"}))
	require.NoError(t, err)

	d, err := h.svc.Get(ctx, guest, res.Reservation.ID)
	require.NoError(t, err)
	assert.Len(t, d.Units, 1)

	_, err = h.svc.Get(ctx, other, res.Reservation.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	d, err = h.svc.GetByCode(ctx, admin, strings.ToLower(res.Reservation.Code))
	require.NoError(t, err)
	assert.Equal(t, res.Reservation.ID, d.Reservation.ID)

	mine, err := h.svc.ListForGuest(ctx, guest, 10, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := h.svc.ListForGuest(ctx, other, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = h.svc.List(ctx, guest, repository.ReservationFilter{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestAvailabilityPreview(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()
	_, err := h.svc.Create(ctx, stay("2026-03-01", "2026-03-03", UnitRequest{UnitID: "villa"}))
	require.NoError(t, err)

	free, err := h.svc.Availability(ctx, day("2026-03-02"), day("2026-03-04"), nil)
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, "hut", free[0].ID)

	free, err = h.svc.Availability(ctx, day("2026-03-03"), day("2026-03-04"), []string{"villa", "castle"})
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, "villa", free[0].ID)

	_, err = h.svc.Availability(ctx, day("2026-03-03"), day("2026-03-03"), nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateTour(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()
	ts, err := h.svc.CreateTourService(ctx, admin, TourInput{Name: "Island hopping", AdultRate: 800, KidRate: 400, DailyCapacity: 5})
	require.NoError(t, err)

	tour := func(actor model.Actor, date string, adults, kids int) TourRequest {
		return TourRequest{Actor: actor, ServiceID: ts.ID, VisitDate: day(date), Adults: adults, Kids: kids}
	}

	res, err := h.svc.CreateTour(ctx, tour(guest, "2026-03-01", 2, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), res.Reservation.TotalAmount)
	assert.Equal(t, int64(1000), res.Reservation.DepositRequired)
	assert.Equal(t, model.KindTour, res.Reservation.Kind)
	assert.Equal(t, day("2026-03-02"), res.Reservation.CheckOut)
	require.Len(t, res.Services, 1)
	assert.Equal(t, 3, res.Services[0].Headcount())

	_, err = h.svc.CreateTour(ctx, tour(other, "2026-03-01", 2, 1))
	assert.ErrorIs(t, err, apperr.ErrAvailability, "3 + 3 exceeds the cap of 5")
	_, err = h.svc.CreateTour(ctx, tour(other, "2026-03-01", 1, 1))
	assert.NoError(t, err, "exactly at capacity")

	_, err = h.svc.CreateTour(ctx, tour(guest, "2026-03-02", 0, 0))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.svc.CreateTour(ctx, tour(guest, "2026-02-20", 1, 0))
	assert.ErrorIs(t, err, apperr.ErrValidation, "guests book tours a day ahead")
	_, err = h.svc.CreateTour(ctx, tour(admin, "2026-02-20", 1, 0))
	assert.NoError(t, err, "walk-ins recorded by staff")
	_, err = h.svc.CreateTour(ctx, tour(admin, "2026-02-19", 1, 0))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	free, err := h.svc.CreateTourService(ctx, admin, TourInput{Name: "Free walk"})
	require.NoError(t, err)
	_, err = h.svc.CreateTour(ctx, TourRequest{Actor: guest, ServiceID: free.ID, VisitDate: day("2026-03-01"), Adults: 1})
	assert.ErrorIs(t, err, apperr.ErrValidation, "zero total")

	zero := int64(0)
	waived := tour(guest, "2026-03-03", 1, 0)
	waived.Deposit = &zero
	_, err = h.svc.CreateTour(ctx, waived)
	assert.ErrorIs(t, err, apperr.ErrValidation, "guests cannot set the deposit")
	waived.Actor, waived.GuestID = admin, guest.ID
	res, err = h.svc.CreateTour(ctx, waived)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Reservation.DepositRequired)

	_, err = h.svc.CreateTourService(ctx, guest, TourInput{Name: "x"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestInventoryAdmin(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()

	u, err := h.svc.CreateUnit(ctx, admin, UnitInput{ID: "suite", Name: "Suite", Kind: model.UnitRoom, BaseRate: 2500, Active: true})
	require.NoError(t, err)
	assert.Equal(t, "suite", u.ID)

	_, err = h.svc.CreateUnit(ctx, admin, UnitInput{ID: "suite", Name: "Suite", Kind: model.UnitRoom})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.svc.CreateUnit(ctx, admin, UnitInput{Name: "Tent", Kind: "tent"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.svc.CreateUnit(ctx, guest, UnitInput{Name: "Suite", Kind: model.UnitRoom})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = h.svc.UpdateUnit(ctx, admin, UnitInput{ID: "suite", Name: "Suite", BaseRate: 2000, Active: false})
	require.NoError(t, err)
	units, err := h.svc.Units(ctx)
	require.NoError(t, err)
	assert.Len(t, units, 2, "inactive units are hidden")

	_, err = h.svc.UpdateUnit(ctx, admin, UnitInput{ID: "nope", Name: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
