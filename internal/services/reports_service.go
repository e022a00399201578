package services

import (
	"context"

	"tripbooking/internal/domain/models"
)

// TripReport summarizes the bookings of one trip.
type TripReport struct {
	TripID         int64                        `json:"trip_id"`
	SeatsTotal     int                          `json:"seats_total"`
	SeatsTaken     int                          `json:"seats_taken"`
	Bookings       int                          `json:"bookings"`
	ByStatus       map[models.BookingStatus]int `json:"by_status"`
	PaidAmount     int64                        `json:"paid_amount"`
	RefundedAmount int64                        `json:"refunded_amount"`
	Currency       string                       `json:"currency"`
}

type ReportsService struct {
	Trips    TripStore
	Bookings BookingStore
}

// GetTripReport counts bookings per status and sums paid and refunded money.
func (s ReportsService) GetTripReport(ctx context.Context, tripID int64) (TripReport, error) {
	trip, err := s.Trips.GetByID(ctx, tripID)
	if err != nil {
		return TripReport{}, err
	}
	bookings, err := s.Bookings.ListByTrip(ctx, tripID)
	if err != nil {
		return TripReport{}, err
	}

	r := TripReport{
		TripID:     trip.ID,
		SeatsTotal: trip.SeatsTotal,
		SeatsTaken: trip.SeatsTaken,
		Bookings:   len(bookings),
		ByStatus:   map[models.BookingStatus]int{},
		Currency:   trip.Currency,
	}
	for _, b := range bookings {
		r.ByStatus[b.Status]++
		if b.PaymentStatus == models.PaymentPaid {
			r.PaidAmount += trip.PriceFor(b.Seats)
		}
		r.RefundedAmount += b.RefundAmount
	}
	return r, nil
}
