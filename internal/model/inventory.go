package model

import "time"

// Unit kinds.
const (
	UnitRoom    = "room"
	UnitCottage = "cottage"
)

// Unit is an exclusively bookable inventory item.
type Unit struct {
	ID        string    `json:"unit_id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	BaseRate  int64     `json:"base_rate"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TourService is a bookable tour.  DailyCapacity of zero means uncapped.
type TourService struct {
	ID            string    `json:"service_id"`
	Name          string    `json:"name"`
	AdultRate     int64     `json:"adult_rate"`
	KidRate       int64     `json:"kid_rate"`
	DailyCapacity int       `json:"daily_capacity"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
