package model

import "encoding/json"

// Dates are carried as YYYY-MM-DD on the wire.

func (r Reservation) MarshalJSON() ([]byte, error) {
	type plain Reservation
	return json.Marshal(struct {
		plain
		CheckIn  string `json:"check_in"`
		CheckOut string `json:"check_out"`
		Nights   int    `json:"nights"`
	}{plain(r), FormatDate(r.CheckIn), FormatDate(r.CheckOut), Nights(r.CheckIn, r.CheckOut)})
}

func (a UnitAssignment) MarshalJSON() ([]byte, error) {
	type plain UnitAssignment
	return json.Marshal(struct {
		plain
		CheckIn  string `json:"check_in"`
		CheckOut string `json:"check_out"`
	}{plain(a), FormatDate(a.CheckIn), FormatDate(a.CheckOut)})
}

func (b ServiceBooking) MarshalJSON() ([]byte, error) {
	type plain ServiceBooking
	return json.Marshal(struct {
		plain
		VisitDate string `json:"visit_date"`
	}{plain(b), FormatDate(b.VisitDate)})
}
