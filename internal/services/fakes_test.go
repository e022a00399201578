package services

import (
	"context"
	"sync"
	"time"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/gateway"
	"tripbooking/internal/notify"
	"tripbooking/internal/queue"
	"tripbooking/internal/repositories"
)

type memTrips struct {
	mu    sync.Mutex
	trips map[int64]models.Trip
	next  int64
}

func newMemTrips(trips ...models.Trip) *memTrips {
	m := &memTrips{trips: map[int64]models.Trip{}}
	for _, t := range trips {
		m.trips[t.ID] = t
		if t.ID > m.next {
			m.next = t.ID
		}
	}
	return m
}

func (m *memTrips) GetByID(_ context.Context, id int64) (models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return models.Trip{}, domain.NotFoundError{Resource: "trip"}
	}
	return t, nil
}

func (m *memTrips) HasAvailableSeats(ctx context.Context, id int64, required int) (bool, error) {
	t, err := m.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return t.HasAvailableSeats(required), nil
}

func (m *memTrips) IncrementSeatsTaken(_ context.Context, id int64, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return domain.NotFoundError{Resource: "trip"}
	}
	if t.SeatsTaken+count > t.SeatsTotal {
		return domain.ValidationError{Field: "seats", Err: domain.ErrInsufficientSeats}
	}
	t.SeatsTaken += count
	m.trips[id] = t
	return nil
}

func (m *memTrips) DecrementSeatsTaken(_ context.Context, id int64, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return domain.NotFoundError{Resource: "trip"}
	}
	t.SeatsTaken -= count
	if t.SeatsTaken < 0 {
		t.SeatsTaken = 0
	}
	m.trips[id] = t
	return nil
}

func (m *memTrips) ListPublished(_ context.Context, from time.Time) ([]models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Trip
	for _, t := range m.trips {
		if t.Status == models.TripPublished && !t.DepartureAt.Before(from) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTrips) Create(_ context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	t.ID = m.next
	m.trips[t.ID] = *t
	return nil
}

func (m *memTrips) taken(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trips[id].SeatsTaken
}

type memBookings struct {
	mu          sync.Mutex
	rows        map[int64]models.Booking
	next        int64
	failCreate  error
	staleOnce   bool
	trips       *memTrips
	failRelease error
}

func newMemBookings() *memBookings {
	return &memBookings{rows: map[int64]models.Booking{}}
}

func (m *memBookings) Create(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	m.next++
	b.ID = m.next
	b.Version = 1
	m.rows[b.ID] = *b
	return nil
}

func (m *memBookings) put(b models.Booking) models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		m.next++
		b.ID = m.next
	}
	if b.ID > m.next {
		m.next = b.ID
	}
	if b.Version == 0 {
		b.Version = 1
	}
	m.rows[b.ID] = b
	return b
}

func (m *memBookings) GetByID(_ context.Context, id int64) (models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return models.Booking{}, domain.NotFoundError{Resource: "booking"}
	}
	return b, nil
}

func (m *memBookings) filter(keep func(models.Booking) bool) []models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Booking{}
	for id := int64(1); id <= m.next; id++ {
		if b, ok := m.rows[id]; ok && keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func (m *memBookings) ListByEmail(_ context.Context, email string) ([]models.Booking, error) {
	return m.filter(func(b models.Booking) bool { return b.UserEmail == email }), nil
}

func (m *memBookings) ListByTrip(_ context.Context, tripID int64) ([]models.Booking, error) {
	return m.filter(func(b models.Booking) bool { return b.TripID == tripID }), nil
}

func (m *memBookings) ListByStatus(_ context.Context, status models.BookingStatus, _ domain.Pagination) ([]models.Booking, error) {
	return m.filter(func(b models.Booking) bool { return status == "" || b.Status == status }), nil
}

func (m *memBookings) CountByEmail(ctx context.Context, email string) (int, error) {
	list, _ := m.ListByEmail(ctx, email)
	return len(list), nil
}

func (m *memBookings) Update(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[b.ID]
	if !ok || cur.Version != b.Version {
		return repositories.ErrStaleVersion
	}
	if m.staleOnce {
		m.staleOnce = false
		cur.Version++
		m.rows[b.ID] = cur
		return repositories.ErrStaleVersion
	}
	b.Version++
	m.rows[b.ID] = *b
	return nil
}

func (m *memBookings) UpdateReleasingSeats(ctx context.Context, b *models.Booking, seats int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[b.ID]
	if !ok || cur.Version != b.Version {
		return repositories.ErrStaleVersion
	}
	if m.failRelease != nil {
		err := m.failRelease
		m.failRelease = nil
		return err
	}
	if m.trips != nil {
		if err := m.trips.DecrementSeatsTaken(ctx, b.TripID, seats); err != nil {
			return err
		}
	}
	b.Version++
	m.rows[b.ID] = *b
	return nil
}

type memPayments struct {
	mu   sync.Mutex
	rows map[int64]models.Payment
	next int64
}

func newMemPayments() *memPayments {
	return &memPayments{rows: map[int64]models.Payment{}}
}

func (m *memPayments) Create(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	p.ID = m.next
	p.Version = 1
	m.rows[p.ID] = *p
	return nil
}

func (m *memPayments) GetByID(_ context.Context, id int64) (models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return models.Payment{}, domain.NotFoundError{Resource: "payment"}
	}
	return p, nil
}

func (m *memPayments) find(keep func(models.Payment) bool) (models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := m.next; id >= 1; id-- {
		if p, ok := m.rows[id]; ok && keep(p) {
			return p, nil
		}
	}
	return models.Payment{}, domain.NotFoundError{Resource: "payment"}
}

func (m *memPayments) FindByTransactionID(_ context.Context, provider models.Provider, txID string) (models.Payment, error) {
	return m.find(func(p models.Payment) bool { return p.Provider == provider && p.TransactionID == txID })
}

func (m *memPayments) FindSuccessfulForBooking(_ context.Context, bookingID int64, provider models.Provider) (models.Payment, error) {
	return m.find(func(p models.Payment) bool {
		return p.BookingID == bookingID && p.Provider == provider && p.Status == models.ChargeSuccess
	})
}

func (m *memPayments) ListByBooking(_ context.Context, bookingID int64) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for id := int64(1); id <= m.next; id++ {
		if p, ok := m.rows[id]; ok && p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPayments) Update(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[p.ID]
	if !ok || cur.Version != p.Version {
		return repositories.ErrStaleVersion
	}
	if p.RefundedAmount > p.Amount {
		return domain.ValidationError{Field: "refunded_amount"}
	}
	p.Version++
	m.rows[p.ID] = *p
	return nil
}

type memTokens struct {
	mu   sync.Mutex
	rows map[string]models.LoginToken
}

func newMemTokens() *memTokens {
	return &memTokens{rows: map[string]models.LoginToken{}}
}

func (m *memTokens) Create(_ context.Context, t *models.LoginToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.rows {
		if v.Email == t.Email && v.UsedAt == nil {
			delete(m.rows, k)
		}
	}
	t.ID = int64(len(m.rows) + 1)
	m.rows[t.Token] = *t
	return nil
}

func (m *memTokens) Consume(_ context.Context, token string, now time.Time) (models.LoginToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[token]
	if !ok || !t.IsValid(now) {
		return models.LoginToken{}, domain.ValidationError{Field: "token"}
	}
	t.UsedAt = &now
	m.rows[token] = t
	return t, nil
}

type recordedTasks struct {
	mu    sync.Mutex
	tasks []queue.RefundTask
}

func (r *recordedTasks) Enqueue(_ context.Context, t queue.RefundTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recordedTasks) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

type sentNotification struct {
	BookingID int64
	Kind      notify.Kind
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (r *recordingNotifier) Notify(_ context.Context, id int64, kind notify.Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{id, kind})
	return nil
}

func (r *recordingNotifier) count(kind notify.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	provider  models.Provider
	createID  string
	callback  *gateway.CallbackResult
	refundErr error
	refunds   []gateway.RefundRequest
}

func (g *fakeGateway) Provider() models.Provider { return g.provider }

func (g *fakeGateway) CreatePayment(_ context.Context, req gateway.CreatePaymentRequest) (*gateway.PaymentResponse, error) {
	return &gateway.PaymentResponse{
		PaymentID:   g.createID,
		RedirectURL: "https://pay.example/" + g.createID,
		Status:      gateway.StatusPending,
	}, nil
}

func (g *fakeGateway) CapturePayment(_ context.Context, id string, _ int64, _ string) (*gateway.PaymentResponse, error) {
	return &gateway.PaymentResponse{PaymentID: id, Status: gateway.StatusSuccess}, nil
}

func (g *fakeGateway) CancelPayment(_ context.Context, id string) (*gateway.PaymentResponse, error) {
	return &gateway.PaymentResponse{PaymentID: id, Status: gateway.StatusCancelled}, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, req gateway.RefundRequest) (*gateway.RefundResponse, error) {
	g.refunds = append(g.refunds, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &gateway.RefundResponse{RefundID: "re_1", Status: "succeeded", Amount: req.Amount, PaymentID: req.PaymentID}, nil
}

func (g *fakeGateway) GetPaymentInfo(_ context.Context, id string) (map[string]any, error) {
	return map[string]any{"id": id}, nil
}

func (g *fakeGateway) HandleCallback(_ context.Context, _ gateway.CallbackRequest) (*gateway.CallbackResult, error) {
	return g.callback, nil
}

// harness wires the services the way main does, on in-memory stores.
type harness struct {
	trips    *memTrips
	bookings *memBookings
	payments *memPayments
	tasks    *recordedTasks
	notes    *recordingNotifier
	stripe   *fakeGateway
	booking  *BookingService
	payment  *PaymentService
	job      *RefundJob
}

func newHarness(trips ...models.Trip) *harness {
	h := &harness{
		trips:    newMemTrips(trips...),
		bookings: newMemBookings(),
		payments: newMemPayments(),
		tasks:    &recordedTasks{},
		notes:    &recordingNotifier{},
		stripe:   &fakeGateway{provider: models.ProviderStripe, createID: "cs_test_1"},
	}
	h.bookings.trips = h.trips
	h.booking = &BookingService{
		Trips:    h.trips,
		Bookings: h.bookings,
		Refunds:  h.tasks,
		Notifier: h.notes,
	}
	h.payment = &PaymentService{
		Gateways:    gateway.NewRegistry(h.stripe),
		Payments:    h.payments,
		Bookings:    h.bookings,
		Trips:       h.trips,
		Transitions: h.booking,
	}
	h.job = &RefundJob{Bookings: h.bookings, Refunds: h.payment}
	return h
}

func publishedTrip(id int64, total, taken int, providers ...models.Provider) models.Trip {
	return models.Trip{
		ID:               id,
		Title:            "Festival shuttle",
		EventName:        "Summer Fest",
		DepartureAt:      time.Date(2030, 7, 1, 8, 0, 0, 0, time.UTC),
		Price:            500,
		Currency:         "EUR",
		SeatsTotal:       total,
		SeatsTaken:       taken,
		Status:           models.TripPublished,
		PaymentProviders: providers,
	}
}
