// Package availability answers "which of these units are free for these
// nights" using half-open interval arithmetic.  The calculator is a pure
// read used for previews; the ledger repeats the same check inside its
// creation transaction, which is the authoritative one.
package availability

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/resort-booking-core/internal/model"
)

// Overlaps reports whether [a,b) and [c,d) intersect.
func Overlaps(a, b, c, d time.Time) bool {
	return a.Before(d) && c.Before(b)
}

// Conflicts returns the requested unit ids that have at least one active
// occupancy overlapping [checkIn, checkOut).  The result is sorted and free
// of duplicates.
func Conflicts(requested []string, occupancy []model.UnitOccupancy, checkIn, checkOut time.Time) []string {
	want := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		want[id] = struct{}{}
	}
	hit := map[string]struct{}{}
	for _, o := range occupancy {
		if _, ok := want[o.UnitID]; !ok {
			continue
		}
		if !o.Status.HoldsInventory() {
			continue
		}
		if Overlaps(o.CheckIn, o.CheckOut, checkIn, checkOut) {
			hit[o.UnitID] = struct{}{}
		}
	}
	out := make([]string, 0, len(hit))
	for id := range hit {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Free returns the requested units with zero overlapping active
// occupancy, preserving request order.
func Free(requested []string, occupancy []model.UnitOccupancy, checkIn, checkOut time.Time) []string {
	busy := map[string]struct{}{}
	for _, id := range Conflicts(requested, occupancy, checkIn, checkOut) {
		busy[id] = struct{}{}
	}
	out := make([]string, 0, len(requested))
	for _, id := range requested {
		if _, ok := busy[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// OccupancySource lists existing assignments for the given units that may
// overlap the range.  Implementations may over-fetch; filtering happens
// here.
type OccupancySource interface {
	OccupancyInRange(ctx context.Context, unitIDs []string, checkIn, checkOut time.Time) ([]model.UnitOccupancy, error)
}

// Calculator is the advisory preview over committed state.
type Calculator struct {
	src OccupancySource
}

// NewCalculator builds a Calculator reading from src.
func NewCalculator(src OccupancySource) *Calculator { return &Calculator{src: src} }

// Available returns the subset of unitIDs free for [checkIn, checkOut).
// The answer may be stale by the time a booking is attempted.
func (c *Calculator) Available(ctx context.Context, checkIn, checkOut time.Time, unitIDs []string) ([]string, error) {
	if len(unitIDs) == 0 {
		return []string{}, nil
	}
	occ, err := c.src.OccupancyInRange(ctx, unitIDs, checkIn, checkOut)
	if err != nil {
		return nil, err
	}
	return Free(unitIDs, occ, checkIn, checkOut), nil
}
