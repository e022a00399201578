package handlers

import (
	"context"

	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/gateway"
	"tripbooking/internal/services"
	"tripbooking/internal/utils"
)

type TripAPI interface {
	ListUpcoming(ctx context.Context) ([]models.Trip, error)
	Get(ctx context.Context, id int64) (models.Trip, error)
	Create(ctx context.Context, in services.CreateTripInput) (models.Trip, error)
}

type BookingAPI interface {
	Create(ctx context.Context, in services.CreateBookingInput) (models.Booking, error)
	Get(ctx context.Context, id int64) (models.Booking, error)
	ListByEmail(ctx context.Context, email string) ([]models.Booking, error)
	ListByTrip(ctx context.Context, tripID int64) ([]models.Booking, error)
	ListByStatus(ctx context.Context, status models.BookingStatus, page domain.Pagination) ([]models.Booking, error)
	Confirm(ctx context.Context, id int64) (models.Booking, error)
	Cancel(ctx context.Context, id int64, reason string) (models.Booking, error)
	RequestRefund(ctx context.Context, id int64) (models.Booking, error)
	EnqueueRefund(ctx context.Context, id int64, amount *int64) (models.Booking, error)
	ProcessRefund(ctx context.Context, id int64, amount int64) (models.Booking, error)
}

type PaymentAPI interface {
	CreatePayment(ctx context.Context, bookingID int64, provider models.Provider) (services.CheckoutResult, error)
	GetPaymentURL(ctx context.Context, paymentID int64) (string, error)
	GetPayment(ctx context.Context, id int64) (models.Payment, error)
	ListForBooking(ctx context.Context, bookingID int64) ([]models.Payment, error)
	HandleCallback(ctx context.Context, provider models.Provider, req gateway.CallbackRequest) (*models.Payment, error)
	CapturePayment(ctx context.Context, paymentID int64, amount int64) (models.Payment, error)
	CancelPayment(ctx context.Context, paymentID int64) (models.Payment, error)
	GetPaymentInfo(ctx context.Context, paymentID int64) (map[string]any, error)
}

type AuthAPI interface {
	RequestMagicLink(ctx context.Context, email string) (services.MagicLink, error)
	Login(ctx context.Context, token string) (services.Session, []models.Booking, error)
	AdminLogin(ctx context.Context, email, password string) (services.Session, error)
}

type TicketAPI interface {
	GenerateTicket(ctx context.Context, bookingID int64) ([]byte, string, error)
	GenerateReceipt(ctx context.Context, bookingID int64) ([]byte, string, error)
}

type ReportAPI interface {
	GetTripReport(ctx context.Context, tripID int64) (services.TripReport, error)
}

// Handler holds the services behind the HTTP API.
type Handler struct {
	Trips    TripAPI
	Bookings BookingAPI
	Payments PaymentAPI
	Auth     AuthAPI
	Tickets  TicketAPI
	Reports  ReportAPI

	// Ping checks the database for the health endpoint.
	Ping func(ctx context.Context) error
	// FrontendURL receives customers coming back from a provider redirect.
	FrontendURL string
	// ExposeLoginToken echoes magic-link tokens in responses, for local use.
	ExposeLoginToken bool

	Log *zap.Logger
}

func (h *Handler) log() *zap.Logger {
	if h.Log != nil {
		return h.Log
	}
	return utils.Logger()
}
