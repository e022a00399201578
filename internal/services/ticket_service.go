package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"
	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/utils"
)

// TicketService renders PDF tickets and payment receipts for bookings.
type TicketService struct {
	Bookings BookingStore
	Trips    TripStore
	Loader   func(ctx context.Context, bookingID int64) (ticketData, error)
}

type ticketData struct {
	Booking models.Booking
	Trip    models.Trip
}

func (s TicketService) load(ctx context.Context, bookingID int64) (ticketData, error) {
	if s.Loader != nil {
		return s.Loader(ctx, bookingID)
	}
	b, err := s.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return ticketData{}, err
	}
	t, err := s.Trips.GetByID(ctx, b.TripID)
	if err != nil {
		return ticketData{}, err
	}
	return ticketData{Booking: b, Trip: t}, nil
}

// GenerateTicket returns the PDF ticket and its file name. Cancelled and
// refunded bookings have no ticket.
func (s TicketService) GenerateTicket(ctx context.Context, bookingID int64) ([]byte, string, error) {
	d, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, "", err
	}
	switch d.Booking.Status {
	case models.BookingCancelled, models.BookingRefunded, models.BookingRefundRequested:
		return nil, "", domain.ValidationError{Field: "booking", Msg: "booking is cancelled"}
	}
	utils.LogEvent(utils.RequestID(ctx), "tickets", "generate_ticket", "ticket rendered", zap.Int64("booking_id", bookingID))
	return buildTicketPDF(d)
}

// GenerateReceipt returns the payment receipt of a paid booking.
func (s TicketService) GenerateReceipt(ctx context.Context, bookingID int64) ([]byte, string, error) {
	d, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, "", err
	}
	if d.Booking.PaymentStatus != models.PaymentPaid {
		return nil, "", domain.ValidationError{Field: "booking", Msg: "booking is not paid"}
	}
	utils.LogEvent(utils.RequestID(ctx), "tickets", "generate_receipt", "receipt rendered", zap.Int64("booking_id", bookingID))
	return buildReceiptPDF(d, time.Now())
}

func buildTicketPDF(d ticketData) ([]byte, string, error) {
	b, t := d.Booking, d.Trip
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Ticket", false)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "TICKET")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		fmt.Sprintf("Passenger   : %s", safe(b.UserName, "-")),
		fmt.Sprintf("Phone       : %s", safe(b.UserPhone, "-")),
		fmt.Sprintf("Event       : %s", safe(t.EventName, "-")),
		fmt.Sprintf("Trip        : %s", safe(t.Title, "-")),
		fmt.Sprintf("Departure   : %s", utils.FormatDateTime(t.DepartureAt)),
		fmt.Sprintf("Seats       : %d", b.Seats),
		fmt.Sprintf("Payment     : %s (%s)", b.PaymentProvider.Label(), b.PaymentStatus),
		fmt.Sprintf("Booking     : #%d", b.ID),
		fmt.Sprintf("Ticket code : TCK-%d-%d", t.ID, b.ID),
	}
	for _, s := range lines {
		pdf.Cell(0, 7, s)
		pdf.Ln(7)
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 10)
	note := fmt.Sprintf("This ticket is valid for %d seat(s). Show it when boarding.", b.Seats)
	if b.PaymentProvider == models.ProviderPayOnArrival && b.PaymentStatus != models.PaymentPaid {
		note += " Payment of " + utils.FormatMoney(t.PriceFor(b.Seats), t.Currency) + " is due on boarding."
	}
	pdf.MultiCell(0, 6, note, "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}
	filename := fmt.Sprintf("TICKET_%d_%s.pdf", b.ID, safeFilenamePart(b.UserName))
	return buf.Bytes(), filename, nil
}

func buildReceiptPDF(d ticketData, issuedAt time.Time) ([]byte, string, error) {
	b, t := d.Booking, d.Trip
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Receipt", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "RECEIPT")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 7, fmt.Sprintf("Receipt no : RCP-%d", b.ID))
	pdf.Ln(7)
	pdf.Cell(0, 7, "Date       : "+utils.FormatDateTime(issuedAt))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, "Billed to:")
	pdf.Ln(7)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 7, fmt.Sprintf("Name  : %s", safe(b.UserName, "-")))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Email : %s", safe(b.UserEmail, "-")))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 11)
	desc := fmt.Sprintf("%s, %s (%s), %d seat(s)",
		safe(t.Title, "-"), safe(t.EventName, "-"), utils.FormatDate(t.DepartureAt), b.Seats)
	pdf.MultiCell(0, 6, "1) "+desc, "", "", false)
	pdf.Ln(2)
	pdf.Cell(0, 6, "Price per seat: "+utils.FormatMoney(t.Price, t.Currency))
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Total: "+utils.FormatMoney(t.PriceFor(b.Seats), t.Currency))
	pdf.Ln(12)
	if b.RefundAmount > 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.Cell(0, 6, "Refunded: "+utils.FormatMoney(b.RefundAmount, t.Currency))
		pdf.Ln(8)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}
	filename := fmt.Sprintf("RECEIPT_%d_%s.pdf", b.ID, safeFilenamePart(b.UserName))
	return buf.Bytes(), filename, nil
}

func safe(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func safeFilenamePart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "NA"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	s = replacer.Replace(s)
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
