package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripbooking/internal/cache"
	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/gateway"
	"tripbooking/internal/notify"
	"tripbooking/internal/queue"
)

var paidCallback = &gateway.CallbackResult{
	Status:        gateway.StatusSuccess,
	TransactionID: "pi_1",
	ReferenceID:   "cs_test_1",
	EventType:     "checkout.session.completed",
}

// paidStripeBooking books 2 seats at 500 through Stripe and settles the
// checkout, leaving a successful payment of 1000.
func paidStripeBooking(t *testing.T, h *harness) models.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := h.booking.Create(ctx, bookingInput(1, 2, models.ProviderStripe))
	require.NoError(t, err)

	res, err := h.payment.CreatePayment(ctx, b.ID, "")
	require.NoError(t, err)
	require.Equal(t, int64(1000), res.Payment.Amount)

	h.stripe.callback = paidCallback
	_, err = h.payment.HandleCallback(ctx, models.ProviderStripe, gateway.CallbackRequest{})
	require.NoError(t, err)

	b, err = h.bookings.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentPaid, b.PaymentStatus)
	return b
}

func TestCreatePaymentChargesFullPriceAndCachesURL(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	urls := cache.NewMemoryURLCache()
	h.payment.URLs = urls
	ctx := context.Background()

	b, err := h.booking.Create(ctx, bookingInput(1, 3, models.ProviderStripe))
	require.NoError(t, err)

	res, err := h.payment.CreatePayment(ctx, b.ID, models.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), res.Payment.Amount)
	assert.Equal(t, "EUR", res.Payment.Currency)
	assert.Equal(t, models.ChargePending, res.Payment.Status)
	assert.Equal(t, "cs_test_1", res.Payment.TransactionID)

	u, err := h.payment.GetPaymentURL(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/cs_test_1", u)

	_, err = h.payment.GetPaymentURL(ctx, 999)
	assert.True(t, domain.IsNotFound(err))
}

func TestCreatePaymentRejectsCashAndUnconfiguredProviders(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderPayOnArrival, models.ProviderPayPal))
	ctx := context.Background()

	cash, err := h.booking.Create(ctx, bookingInput(1, 1, models.ProviderPayOnArrival))
	require.NoError(t, err)
	_, err = h.payment.CreatePayment(ctx, cash.ID, "")
	assert.True(t, domain.IsValidation(err))

	pp, err := h.booking.Create(ctx, bookingInput(1, 1, models.ProviderPayPal))
	require.NoError(t, err)
	_, err = h.payment.CreatePayment(ctx, pp.ID, "")
	assert.True(t, domain.IsUnsupported(err))

	_, err = h.payment.CreatePayment(ctx, pp.ID, models.ProviderStripe)
	assert.True(t, domain.IsValidation(err))
}

func TestCallbackSuccessIsIdempotent(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	b := paidStripeBooking(t, h)
	ctx := context.Background()

	// Redelivery now matches by the payment intent id.
	p, err := h.payment.HandleCallback(ctx, models.ProviderStripe, gateway.CallbackRequest{})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.ChargeSuccess, p.Status)
	assert.Equal(t, "pi_1", p.TransactionID)

	assert.Equal(t, 1, h.notes.count(notify.KindPaid))
	got, _ := h.bookings.GetByID(ctx, b.ID)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
}

func TestConcurrentCallbacksNotifyPaidOnce(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	ctx := context.Background()
	b, err := h.booking.Create(ctx, bookingInput(1, 1, models.ProviderStripe))
	require.NoError(t, err)
	_, err = h.payment.CreatePayment(ctx, b.ID, "")
	require.NoError(t, err)
	h.stripe.callback = paidCallback

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.payment.HandleCallback(ctx, models.ProviderStripe, gateway.CallbackRequest{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.notes.count(notify.KindPaid))
}

func TestCallbackFailureAndCancelUpdateBooking(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	ctx := context.Background()
	b, err := h.booking.Create(ctx, bookingInput(1, 1, models.ProviderStripe))
	require.NoError(t, err)
	_, err = h.payment.CreatePayment(ctx, b.ID, "")
	require.NoError(t, err)

	h.stripe.callback = &gateway.CallbackResult{Status: gateway.StatusFailed, TransactionID: "cs_test_1"}
	p, err := h.payment.HandleCallback(ctx, models.ProviderStripe, gateway.CallbackRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ChargeFailed, p.Status)
	got, _ := h.bookings.GetByID(ctx, b.ID)
	assert.Equal(t, models.PaymentFailed, got.PaymentStatus)

	h.stripe.callback = &gateway.CallbackResult{Status: gateway.StatusCancelled, TransactionID: "cs_test_1"}
	_, err = h.payment.HandleCallback(ctx, models.ProviderStripe, gateway.CallbackRequest{})
	require.NoError(t, err)
	got, _ = h.bookings.GetByID(ctx, b.ID)
	assert.Equal(t, models.PaymentCancelled, got.PaymentStatus)
	assert.Equal(t, 0, h.notes.count(notify.KindPaid))
}

func TestCallbackIgnorableAndUnknownPayments(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	ctx := context.Background()

	h.stripe.callback = &gateway.CallbackResult{Status: gateway.StatusPending, EventType: "customer.created"}
	p, err := h.payment.HandleCallback(ctx, models.ProviderStripe, gateway.CallbackRequest{})
	require.NoError(t, err)
	assert.Nil(t, p)

	h.stripe.callback = &gateway.CallbackResult{Status: gateway.StatusSuccess, TransactionID: "pi_unknown"}
	_, err = h.payment.HandleCallback(ctx, models.ProviderStripe, gateway.CallbackRequest{})
	assert.True(t, domain.IsNotFound(err))

	_, err = h.payment.HandleCallback(ctx, models.ProviderWebPay, gateway.CallbackRequest{})
	assert.True(t, domain.IsUnsupported(err))
}

func TestLatePendingCallbackDoesNotReopenPayment(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	paidStripeBooking(t, h)

	h.stripe.callback = &gateway.CallbackResult{Status: gateway.StatusPending, TransactionID: "pi_1"}
	p, err := h.payment.HandleCallback(context.Background(), models.ProviderStripe, gateway.CallbackRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ChargeSuccess, p.Status)
}

func TestLateFailureDoesNotUnsettlePayment(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	b := paidStripeBooking(t, h)
	ctx := context.Background()

	for _, status := range []gateway.Status{gateway.StatusFailed, gateway.StatusCancelled} {
		h.stripe.callback = &gateway.CallbackResult{Status: status, TransactionID: "pi_1"}
		p, err := h.payment.HandleCallback(ctx, models.ProviderStripe, gateway.CallbackRequest{})
		require.NoError(t, err)
		assert.Equal(t, models.ChargeSuccess, p.Status)
	}
	got, _ := h.bookings.GetByID(ctx, b.ID)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)

	_, err := h.booking.Cancel(ctx, b.ID, "")
	require.NoError(t, err)
	require.Equal(t, 1, h.tasks.count())
	require.NoError(t, h.job.Handle(ctx, h.tasks.tasks[0], 1))

	require.Len(t, h.stripe.refunds, 1)
	assert.Equal(t, int64(1000), h.stripe.refunds[0].Amount)
	got, _ = h.bookings.GetByID(ctx, b.ID)
	assert.Equal(t, models.BookingRefunded, got.Status)
}

func TestPaidBookingCancelledThenRefundedByJob(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	b := paidStripeBooking(t, h)
	ctx := context.Background()
	require.Equal(t, 2, h.trips.taken(1))

	b, err := h.booking.Cancel(ctx, b.ID, "change of plans")
	require.NoError(t, err)
	assert.Equal(t, models.BookingRefundRequested, b.Status)
	assert.Equal(t, 0, h.trips.taken(1))
	require.Equal(t, 1, h.tasks.count())

	require.NoError(t, h.job.Handle(ctx, h.tasks.tasks[0], 1))

	b, _ = h.bookings.GetByID(ctx, b.ID)
	assert.Equal(t, models.BookingRefunded, b.Status)
	assert.Equal(t, int64(1000), b.RefundAmount)
	assert.NotNil(t, b.RefundedAt)
	assert.Equal(t, 0, h.trips.taken(1))

	require.Len(t, h.stripe.refunds, 1)
	assert.Equal(t, gateway.RefundRequest{PaymentID: "pi_1", Amount: 1000, Currency: "EUR"}, h.stripe.refunds[0])

	p, _ := h.payments.FindSuccessfulForBooking(ctx, b.ID, models.ProviderStripe)
	assert.Equal(t, int64(1000), p.RefundedAmount)
	assert.Equal(t, "re_1", p.RefundID)
	assert.Equal(t, 1, h.notes.count(notify.KindRefunded))

	// A redelivered task finds nothing left to refund.
	require.NoError(t, h.job.Handle(ctx, h.tasks.tasks[0], 2))
	assert.Len(t, h.stripe.refunds, 1)
}

func TestRefundNeverExceedsPaymentAmount(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	b := paidStripeBooking(t, h)
	ctx := context.Background()

	tooMuch := int64(1001)
	resp, err := h.payment.CreateRefundForBooking(ctx, b, &tooMuch)
	assert.Nil(t, resp)
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, h.stripe.refunds)

	part := int64(400)
	resp, err = h.payment.CreateRefundForBooking(ctx, b, &part)
	require.NoError(t, err)
	assert.Equal(t, int64(400), resp.Amount)

	b, _ = h.bookings.GetByID(ctx, b.ID)
	rest := int64(601)
	_, err = h.payment.CreateRefundForBooking(ctx, b, &rest)
	assert.True(t, domain.IsValidation(err))

	resp, err = h.payment.CreateRefundForBooking(ctx, b, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(600), resp.Amount)

	p, _ := h.payments.FindSuccessfulForBooking(ctx, b.ID, models.ProviderStripe)
	assert.Equal(t, p.Amount, p.RefundedAmount)
	assert.True(t, p.IsFullyRefunded())

	b, _ = h.bookings.GetByID(ctx, b.ID)
	assert.Equal(t, int64(1000), b.RefundAmount)
	assert.Equal(t, 1, h.notes.count(notify.KindRefunded))

	resp, err = h.payment.CreateRefundForBooking(ctx, b, nil)
	assert.NoError(t, err)
	assert.Nil(t, resp)
}

func TestRefundNotApplicableForCashOrUnpaid(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	ctx := context.Background()

	resp, err := h.payment.CreateRefundForBooking(ctx, models.Booking{ID: 1, PaymentStatus: models.PaymentPaid, PaymentProvider: models.ProviderPayOnArrival}, nil)
	assert.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = h.payment.CreateRefundForBooking(ctx, models.Booking{ID: 1, PaymentStatus: models.PaymentPending, PaymentProvider: models.ProviderStripe}, nil)
	assert.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = h.payment.CreateRefundForBooking(ctx, models.Booking{ID: 1, PaymentStatus: models.PaymentPaid, PaymentProvider: models.ProviderStripe}, nil)
	assert.NoError(t, err)
	assert.Nil(t, resp)
}

func TestRefundJobRetriesOnlyTransientGatewayErrors(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	b := paidStripeBooking(t, h)
	ctx := context.Background()
	_, err := h.booking.Cancel(ctx, b.ID, "")
	require.NoError(t, err)
	task := queue.RefundTask{BookingID: b.ID}

	h.stripe.refundErr = domain.GatewayError{Provider: "stripe", Operation: "create_refund", HTTPStatus: 503}
	err = h.job.Handle(ctx, task, 1)
	assert.Error(t, err)

	h.stripe.refundErr = domain.GatewayError{Provider: "stripe", Operation: "create_refund", HTTPStatus: 400, ProviderCode: "charge_already_refunded"}
	assert.NoError(t, h.job.Handle(ctx, task, 2))

	got, _ := h.bookings.GetByID(ctx, b.ID)
	assert.Equal(t, models.BookingRefundRequested, got.Status)
	p, _ := h.payments.FindSuccessfulForBooking(ctx, b.ID, models.ProviderStripe)
	assert.Zero(t, p.RefundedAmount)
}

func TestRefundJobAcksMissingBooking(t *testing.T) {
	h := newHarness()
	assert.NoError(t, h.job.Handle(context.Background(), queue.RefundTask{BookingID: 404}, 1))
}

func TestCaptureAndCancelPayment(t *testing.T) {
	h := newHarness(publishedTrip(1, 10, 0, models.ProviderStripe))
	ctx := context.Background()
	b, err := h.booking.Create(ctx, bookingInput(1, 1, models.ProviderStripe))
	require.NoError(t, err)
	res, err := h.payment.CreatePayment(ctx, b.ID, "")
	require.NoError(t, err)

	p, err := h.payment.CapturePayment(ctx, res.Payment.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.ChargeSuccess, p.Status)
	assert.Equal(t, 1, h.notes.count(notify.KindPaid))

	_, err = h.payment.CancelPayment(ctx, res.Payment.ID)
	assert.True(t, domain.IsConflict(err))

	info, err := h.payment.GetPaymentInfo(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", info["id"])
}
