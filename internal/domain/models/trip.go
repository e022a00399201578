package models

import "time"

type TripStatus string

const (
	TripDraft     TripStatus = "draft"
	TripPublished TripStatus = "published"
	TripCancelled TripStatus = "cancelled"
	TripCompleted TripStatus = "completed"
)

// Trip is a scheduled departure tied to an event. SeatsTaken is only changed
// through the seat ledger in TripRepository.
type Trip struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	EventName        string     `json:"event_name"`
	DepartureAt      time.Time  `json:"departure_at"`
	Price            int64      `json:"price"`
	Currency         string     `json:"currency"`
	SeatsTotal       int        `json:"seats_total"`
	SeatsTaken       int        `json:"seats_taken"`
	Status           TripStatus `json:"status"`
	PaymentProviders []Provider `json:"payment_providers"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (t Trip) AvailableSeats() int {
	left := t.SeatsTotal - t.SeatsTaken
	if left < 0 {
		return 0
	}
	return left
}

func (t Trip) HasAvailableSeats(required int) bool {
	return t.SeatsTotal-t.SeatsTaken >= required
}

func (t Trip) IsBookable() bool {
	return t.Status == TripPublished
}

// AllowsProvider reports whether bookings on this trip may use p. A trip
// without configured providers accepts cash only.
func (t Trip) AllowsProvider(p Provider) bool {
	if len(t.PaymentProviders) == 0 {
		return p == ProviderPayOnArrival
	}
	for _, allowed := range t.PaymentProviders {
		if allowed == p {
			return true
		}
	}
	return false
}

// PriceFor returns the total for n seats in minor units.
func (t Trip) PriceFor(seats int) int64 {
	return t.Price * int64(seats)
}
