package booking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/Domenick1991/skyorder/internal/kafka"
	"github.com/Domenick1991/skyorder/internal/payment"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock структуры

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) CreatePending(ctx context.Context, booking *domain.Booking) error {
	args := m.Called(ctx, booking)
	return args.Error(0)
}

func (m *MockBookingRepository) AttachSession(ctx context.Context, id int64, sessionID string) error {
	args := m.Called(ctx, id, sessionID)
	return args.Error(0)
}

func (m *MockBookingRepository) GetBySession(ctx context.Context, sessionID string) (*domain.Booking, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) MarkSucceeded(ctx context.Context, id int64, upstreamID string, response json.RawMessage, transactionID string) (*domain.Booking, error) {
	args := m.Called(ctx, id, upstreamID, response, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) MarkFailed(ctx context.Context, id int64) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) FailPendingBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	args := m.Called(ctx, deadline)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Booking), args.Error(1)
}

type MockPricingRepository struct {
	mock.Mock
}

func (m *MockPricingRepository) Create(ctx context.Context, snapshot *domain.PricingSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockPricingRepository) GetByKey(ctx context.Context, uniqueKey string) (*domain.PricingSnapshot, error) {
	args := m.Called(ctx, uniqueKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PricingSnapshot), args.Error(1)
}

type MockCaller struct {
	mock.Mock
}

func (m *MockCaller) Call(ctx context.Context, method, path string, body any, query url.Values) (json.RawMessage, error) {
	args := m.Called(ctx, method, path, body, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockCaller) CallWithAuthRetry(ctx context.Context, method, path string, body any, query url.Values) (json.RawMessage, error) {
	args := m.Called(ctx, method, path, body, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

// MockGateway - реализует payment.Gateway
type MockGateway struct {
	mock.Mock
	name string
}

func (m *MockGateway) Name() string { return m.name }

func (m *MockGateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Checkout), args.Error(1)
}

func (m *MockGateway) ParseWebhook(payload []byte, header http.Header) (*payment.Confirmation, error) {
	args := m.Called(payload, header)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Confirmation), args.Error(1)
}

type MockClaimer struct {
	mock.Mock
}

func (m *MockClaimer) ClaimSession(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, sessionID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockClaimer) ReleaseSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockClaimer) SaveOrder(ctx context.Context, sessionID string, order json.RawMessage, ttl time.Duration) error {
	args := m.Called(ctx, sessionID, order, ttl)
	return args.Error(0)
}

func (m *MockClaimer) LoadOrder(ctx context.Context, sessionID string) (json.RawMessage, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

type fixture struct {
	bookings *MockBookingRepository
	pricings *MockPricingRepository
	caller   *MockCaller
	gateway  *MockGateway
	claims   *MockClaimer
	producer *MockProducer
	hook     *test.Hook
	service  *BookingService
}

func newFixture(opts ...BookingServiceOption) *fixture {
	f := &fixture{
		bookings: &MockBookingRepository{},
		pricings: &MockPricingRepository{},
		caller:   &MockCaller{},
		gateway:  &MockGateway{name: payment.GatewayStripe},
		claims:   &MockClaimer{},
		producer: &MockProducer{},
	}
	f.claims.On("LoadOrder", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	f.claims.On("SaveOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	log, hook := test.NewNullLogger()
	f.hook = hook
	registry := payment.NewRegistry(payment.GatewayStripe, f.gateway)
	opts = append([]BookingServiceOption{WithNotificationsTopic("notifications")}, opts...)
	f.service = NewBookingService(f.bookings, f.pricings, f.caller, registry, f.claims, f.producer, "booking-events", log, opts...)
	return f
}

func (f *fixture) expectEvent(eventType string) {
	matcher := mock.MatchedBy(func(e kafka.BookingEvent) bool { return e.Type == eventType })
	f.producer.On("Publish", mock.Anything, "booking-events", mock.Anything, matcher).Return(nil).Once()
	f.producer.On("Publish", mock.Anything, "notifications", mock.Anything, matcher).Return(nil).Once()
}

func (f *fixture) warned(msg string) bool {
	return f.logged(logrus.WarnLevel, msg)
}

func (f *fixture) logged(level logrus.Level, msg string) bool {
	for _, e := range f.hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

const storedOffer = `{"id":"1","type":"flight-offer"}`

func validInput() CreateBookingInput {
	return CreateBookingInput{
		UniqueKey:  "key-1",
		Travelers:  json.RawMessage(`[{"id":"1","name":{"firstName":"ADA","lastName":"LOVELACE"}}]`),
		Contacts:   json.RawMessage(`[{"emailAddress":"ada@example.com"}]`),
		Amount:     412.30,
		Currency:   "usd",
		SuccessURL: "https://shop.test/ok",
		CancelURL:  "https://shop.test/cancel",
	}
}

func pendingBooking() *domain.Booking {
	return &domain.Booking{
		ID:             7,
		Reference:      "BK-1",
		FlightOffer:    json.RawMessage(storedOffer),
		Travelers:      json.RawMessage(`[{"id":"1"}]`),
		Contacts:       json.RawMessage(`[{"emailAddress":"ada@example.com"}]`),
		PaymentGateway: payment.GatewayStripe,
		PaymentStatus:  domain.PaymentStatusPending,
		SessionID:      "cs_1",
		TransactionID:  "cs_1",
		Amount:         412.30,
		Currency:       "USD",
	}
}

// ============================ Создание бронирования ============================

func TestBookingService_CreatePendingBooking_Success(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.pricings.On("GetByKey", ctx, "key-1").Return(&domain.PricingSnapshot{UniqueKey: "key-1", FlightOffer: json.RawMessage(storedOffer)}, nil)
	f.bookings.On("CreatePending", ctx, mock.MatchedBy(func(b *domain.Booking) bool {
		return b.UniqueKey == "key-1" && string(b.FlightOffer) == storedOffer && b.Currency == "USD" &&
			b.PaymentGateway == payment.GatewayStripe && b.Reference != ""
	})).Run(func(args mock.Arguments) {
		b := args.Get(1).(*domain.Booking)
		b.ID = 7
		b.PaymentStatus = domain.PaymentStatusPending
	}).Return(nil)
	f.gateway.On("CreateCheckout", ctx, mock.MatchedBy(func(req payment.CheckoutRequest) bool {
		return req.Amount == 412.30 && req.Currency == "USD" && req.CustomerEmail == "ada@example.com" &&
			req.SuccessURL == "https://shop.test/ok" && req.CancelURL == "https://shop.test/cancel"
	})).Return(&payment.Checkout{SessionID: "cs_1", RedirectURL: "https://checkout.test/cs_1"}, nil)
	f.bookings.On("AttachSession", ctx, int64(7), "cs_1").Return(nil)
	f.expectEvent(kafka.EventBookingCreated)

	created, err := f.service.CreatePendingBooking(ctx, validInput())

	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/cs_1", created.RedirectURL)
	assert.Equal(t, "cs_1", created.Booking.SessionID)
	assert.Equal(t, domain.PaymentStatusPending, created.Booking.PaymentStatus)
	f.bookings.AssertExpectations(t)
	f.gateway.AssertExpectations(t)
	f.producer.AssertExpectations(t)
}

func TestBookingService_CreatePendingBooking_RawOffer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	input := validInput()
	input.UniqueKey = ""
	input.Gateway = "stripe"
	require.NoError(t, json.Unmarshal([]byte(storedOffer), &input.FlightOffer))

	f.bookings.On("CreatePending", ctx, mock.MatchedBy(func(b *domain.Booking) bool {
		return b.UniqueKey == "" && string(b.FlightOffer) == storedOffer
	})).Return(nil)
	f.gateway.On("CreateCheckout", ctx, mock.Anything).Return(&payment.Checkout{SessionID: "cs_2", RedirectURL: "u"}, nil)
	f.bookings.On("AttachSession", ctx, mock.Anything, "cs_2").Return(nil)
	f.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.service.CreatePendingBooking(ctx, input)

	require.NoError(t, err)
	f.pricings.AssertNotCalled(t, "GetByKey", mock.Anything, mock.Anything)
}

func TestBookingService_CreatePendingBooking_Validation(t *testing.T) {
	cases := map[string]func(*CreateBookingInput){
		"unique_key": func(in *CreateBookingInput) { in.UniqueKey = "" },
		"travelers":  func(in *CreateBookingInput) { in.Travelers = json.RawMessage(`{"id":"1"}`) },
		"contacts":   func(in *CreateBookingInput) { in.Contacts = nil },
		"amount":     func(in *CreateBookingInput) { in.Amount = 0 },
		"currency":   func(in *CreateBookingInput) { in.Currency = " " },
		"s_url":      func(in *CreateBookingInput) { in.SuccessURL = "not a url" },
		"c_url":      func(in *CreateBookingInput) { in.CancelURL = "" },
		"f_url":      func(in *CreateBookingInput) { in.FailureURL = "/relative" },
		"gateway":    func(in *CreateBookingInput) { in.Gateway = "paypal" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			f := newFixture()
			input := validInput()
			mutate(&input)

			_, err := f.service.CreatePendingBooking(context.Background(), input)

			var vErr *domain.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, field, vErr.Field)
			f.bookings.AssertNotCalled(t, "CreatePending", mock.Anything, mock.Anything)
		})
	}
}

func TestBookingService_CreatePendingBooking_UnknownPricingKey(t *testing.T) {
	f := newFixture()
	f.pricings.On("GetByKey", mock.Anything, "key-1").Return(nil, domain.ErrPricingNotFound)

	_, err := f.service.CreatePendingBooking(context.Background(), validInput())

	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "unique_key", vErr.Field)
}

func TestBookingService_CreatePendingBooking_CheckoutFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.pricings.On("GetByKey", ctx, "key-1").Return(&domain.PricingSnapshot{FlightOffer: json.RawMessage(storedOffer)}, nil)
	f.bookings.On("CreatePending", ctx, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Booking).ID = 9
	}).Return(nil)
	f.gateway.On("CreateCheckout", ctx, mock.Anything).Return(nil, errors.New("stripe unavailable"))
	f.bookings.On("MarkFailed", ctx, int64(9)).Return(&domain.Booking{ID: 9, PaymentStatus: domain.PaymentStatusFailed}, nil)

	_, err := f.service.CreatePendingBooking(ctx, validInput())

	assert.ErrorContains(t, err, "stripe unavailable")
	f.bookings.AssertExpectations(t)
	f.bookings.AssertNotCalled(t, "AttachSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_CreatePendingBooking_AttachFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.pricings.On("GetByKey", ctx, "key-1").Return(&domain.PricingSnapshot{FlightOffer: json.RawMessage(storedOffer)}, nil)
	f.bookings.On("CreatePending", ctx, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Booking).ID = 9
	}).Return(nil)
	f.gateway.On("CreateCheckout", ctx, mock.Anything).Return(&payment.Checkout{SessionID: "cs_9", RedirectURL: "u"}, nil)
	f.bookings.On("AttachSession", ctx, int64(9), "cs_9").Return(errors.New("connection reset"))
	f.bookings.On("MarkFailed", ctx, int64(9)).Return(&domain.Booking{ID: 9, PaymentStatus: domain.PaymentStatusFailed}, nil)

	_, err := f.service.CreatePendingBooking(ctx, validInput())

	assert.ErrorContains(t, err, "attach payment session")
	f.bookings.AssertExpectations(t)
	f.producer.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_CreatePendingBooking_CheckoutExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name       string
		pendingTTL time.Duration
		expiresIn  time.Duration
	}{
		{"pending ttl", 2 * time.Hour, 2 * time.Hour},
		{"raised to gateway minimum", 10 * time.Minute, 30 * time.Minute},
		{"capped at gateway maximum", 48 * time.Hour, 24 * time.Hour},
		{"sweep disabled", 0, 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(WithPendingTTL(tc.pendingTTL), WithClock(func() time.Time { return now }))
			ctx := context.Background()

			f.pricings.On("GetByKey", ctx, "key-1").Return(&domain.PricingSnapshot{FlightOffer: json.RawMessage(storedOffer)}, nil)
			f.bookings.On("CreatePending", ctx, mock.Anything).Return(nil)
			f.gateway.On("CreateCheckout", ctx, mock.MatchedBy(func(req payment.CheckoutRequest) bool {
				return req.ExpiresAt.Equal(now.Add(tc.expiresIn))
			})).Return(&payment.Checkout{SessionID: "cs_1", RedirectURL: "u"}, nil)
			f.bookings.On("AttachSession", ctx, mock.Anything, "cs_1").Return(nil)
			f.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

			_, err := f.service.CreatePendingBooking(ctx, validInput())

			require.NoError(t, err)
			f.gateway.AssertExpectations(t)
		})
	}
}

func TestBookingService_CreatePendingBooking_AmountMustMatchQuote(t *testing.T) {
	priced := json.RawMessage(`{"data":{"type":"flight-offers-pricing","flightOffers":[{"id":"1","price":{"currency":"USD","total":"400.00","grandTotal":"412.30"}}]}}`)
	cases := []struct {
		name     string
		amount   float64
		currency string
		field    string
	}{
		{"lower amount", 1.00, "usd", "amount"},
		{"higher amount", 500.00, "USD", "amount"},
		{"other currency", 412.30, "EUR", "currency"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.pricings.On("GetByKey", mock.Anything, "key-1").Return(&domain.PricingSnapshot{
				FlightOffer:     json.RawMessage(storedOffer),
				PricingResponse: priced,
			}, nil)
			input := validInput()
			input.Amount = tc.amount
			input.Currency = tc.currency

			_, err := f.service.CreatePendingBooking(context.Background(), input)

			var vErr *domain.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
			f.bookings.AssertNotCalled(t, "CreatePending", mock.Anything, mock.Anything)
			f.gateway.AssertNotCalled(t, "CreateCheckout", mock.Anything, mock.Anything)
		})
	}
}

func TestBookingService_CreatePendingBooking_QuotedAmountAccepted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	input := validInput()
	input.UniqueKey = ""
	raw := `{"id":"1","type":"flight-offer","price":{"currency":"USD","grandTotal":"412.30"}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &input.FlightOffer))

	f.bookings.On("CreatePending", ctx, mock.Anything).Return(nil)
	f.gateway.On("CreateCheckout", ctx, mock.Anything).Return(&payment.Checkout{SessionID: "cs_3", RedirectURL: "u"}, nil)
	f.bookings.On("AttachSession", ctx, mock.Anything, "cs_3").Return(nil)
	f.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.service.CreatePendingBooking(ctx, input)

	require.NoError(t, err)
	f.bookings.AssertExpectations(t)
}

// ============================ Подтверждение оплаты ============================

func TestBookingService_OnPaymentConfirmed_Success(t *testing.T) {
	f := newFixture(WithTicketingDelay("3D"))
	ctx := context.Background()
	conf := &payment.Confirmation{SessionID: "cs_1", SettledID: "pi_1", Paid: true}

	f.bookings.On("GetBySession", ctx, "cs_1").Return(pendingBooking(), nil)
	f.claims.On("ClaimSession", ctx, "cs_1", defaultClaimTTL).Return(true, nil)
	f.caller.On("CallWithAuthRetry", ctx, http.MethodPost, flightOrdersPath, mock.MatchedBy(func(req orderRequest) bool {
		return req.Data.Type == "flight-order" &&
			len(req.Data.FlightOffers) == 1 && string(req.Data.FlightOffers[0]) == storedOffer &&
			req.Data.TicketingAgreement == ticketingAgreement{Option: "DELAY_TO_CANCEL", Delay: "3D"}
	}), url.Values(nil)).Return(json.RawMessage(`{"data":{"id":"ORDER-1"}}`), nil)

	succeeded := pendingBooking()
	succeeded.PaymentStatus = domain.PaymentStatusSuccess
	succeeded.UpstreamBookingID = "ORDER-1"
	succeeded.TransactionID = "pi_1"
	f.bookings.On("MarkSucceeded", ctx, int64(7), "ORDER-1", json.RawMessage(`{"data":{"id":"ORDER-1"}}`), "pi_1").Return(succeeded, nil)
	f.expectEvent(kafka.EventBookingSucceeded)

	booking, err := f.service.OnPaymentConfirmed(ctx, conf)

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSuccess, booking.PaymentStatus)
	assert.Equal(t, "ORDER-1", booking.UpstreamBookingID)
	assert.Equal(t, "pi_1", booking.TransactionID)
	f.claims.AssertCalled(t, "SaveOrder", ctx, "cs_1", json.RawMessage(`{"data":{"id":"ORDER-1"}}`), orderMemoTTL)
	f.bookings.AssertExpectations(t)
	f.caller.AssertExpectations(t)
	f.producer.AssertExpectations(t)
}

func TestBookingService_OnPaymentConfirmed_OrderFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.bookings.On("GetBySession", ctx, "cs_1").Return(pendingBooking(), nil)
	f.claims.On("ClaimSession", ctx, "cs_1", mock.Anything).Return(true, nil)
	upstream := &domain.UpstreamAPIError{Status: 400, Detail: "SEGMENT SELL FAILURE"}
	f.caller.On("CallWithAuthRetry", ctx, http.MethodPost, flightOrdersPath, mock.Anything, mock.Anything).Return(nil, upstream)
	failed := pendingBooking()
	failed.PaymentStatus = domain.PaymentStatusFailed
	f.bookings.On("MarkFailed", ctx, int64(7)).Return(failed, nil)
	f.expectEvent(kafka.EventBookingFailed)

	booking, err := f.service.OnPaymentConfirmed(ctx, &payment.Confirmation{SessionID: "cs_1", Paid: true})

	var orderErr *domain.OrderSubmissionError
	require.ErrorAs(t, err, &orderErr)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, domain.PaymentStatusFailed, booking.PaymentStatus)
	f.bookings.AssertNotCalled(t, "MarkSucceeded", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.producer.AssertExpectations(t)
}

func TestBookingService_OnPaymentConfirmed_AlreadySettled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	done := pendingBooking()
	done.PaymentStatus = domain.PaymentStatusSuccess
	done.UpstreamBookingID = "ORDER-1"
	f.bookings.On("GetBySession", ctx, "cs_1").Return(done, nil)

	booking, err := f.service.OnPaymentConfirmed(ctx, &payment.Confirmation{SessionID: "cs_1", SettledID: "pi_2", Paid: true})

	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assert.Equal(t, "ORDER-1", booking.UpstreamBookingID)
	f.caller.AssertNotCalled(t, "CallWithAuthRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.claims.AssertNotCalled(t, "ClaimSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_OnPaymentConfirmed_ClaimLost(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.bookings.On("GetBySession", ctx, "cs_1").Return(pendingBooking(), nil)
	f.claims.On("ClaimSession", ctx, "cs_1", mock.Anything).Return(false, nil)

	_, err := f.service.OnPaymentConfirmed(ctx, &payment.Confirmation{SessionID: "cs_1", Paid: true})

	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	f.caller.AssertNotCalled(t, "CallWithAuthRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_OnPaymentConfirmed_ConcurrentSettle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.bookings.On("GetBySession", ctx, "cs_1").Return(pendingBooking(), nil)
	f.claims.On("ClaimSession", ctx, "cs_1", mock.Anything).Return(false, errors.New("redis down"))
	f.caller.On("CallWithAuthRetry", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(json.RawMessage(`{"data":{"id":"ORDER-2"}}`), nil)
	f.bookings.On("MarkSucceeded", ctx, int64(7), "ORDER-2", mock.Anything, "").Return(nil, domain.ErrAlreadyProcessed)

	_, err := f.service.OnPaymentConfirmed(ctx, &payment.Confirmation{SessionID: "cs_1", Paid: true})

	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	f.claims.AssertNotCalled(t, "ReleaseSession", mock.Anything, mock.Anything)
	f.producer.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_OnPaymentConfirmed_PaidAfterFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	expired := pendingBooking()
	expired.PaymentStatus = domain.PaymentStatusFailed
	f.bookings.On("GetBySession", ctx, "cs_1").Return(expired, nil)

	_, err := f.service.OnPaymentConfirmed(ctx, &payment.Confirmation{SessionID: "cs_1", SettledID: "pi_late", Paid: true})

	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assert.True(t, f.logged(logrus.ErrorLevel, "payment settled for a failed booking, refund required"))
	f.caller.AssertNotCalled(t, "CallWithAuthRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.bookings.AssertNotCalled(t, "MarkSucceeded", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_OnPaymentConfirmed_RedeliveryReusesOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order := json.RawMessage(`{"data":{"id":"ORDER-3"}}`)
	conf := &payment.Confirmation{SessionID: "cs_1", SettledID: "pi_3", Paid: true}
	f.claims.ExpectedCalls = nil

	f.bookings.On("GetBySession", ctx, "cs_1").Return(pendingBooking(), nil)
	f.claims.On("ClaimSession", ctx, "cs_1", mock.Anything).Return(true, nil)
	f.claims.On("LoadOrder", ctx, "cs_1").Return(nil, nil).Once()
	f.caller.On("CallWithAuthRetry", ctx, http.MethodPost, flightOrdersPath, mock.Anything, mock.Anything).Return(order, nil).Once()
	f.claims.On("SaveOrder", ctx, "cs_1", order, orderMemoTTL).Return(nil).Once()
	f.bookings.On("MarkSucceeded", ctx, int64(7), "ORDER-3", order, "pi_3").Return(nil, errors.New("connection reset")).Once()
	f.claims.On("ReleaseSession", ctx, "cs_1").Return(nil).Once()

	_, err := f.service.OnPaymentConfirmed(ctx, conf)
	require.ErrorContains(t, err, "connection reset")

	// the gateway redelivers once the claim is released
	succeeded := pendingBooking()
	succeeded.PaymentStatus = domain.PaymentStatusSuccess
	succeeded.UpstreamBookingID = "ORDER-3"
	f.claims.On("LoadOrder", ctx, "cs_1").Return(order, nil).Once()
	f.bookings.On("MarkSucceeded", ctx, int64(7), "ORDER-3", order, "pi_3").Return(succeeded, nil).Once()
	f.expectEvent(kafka.EventBookingSucceeded)

	booking, err := f.service.OnPaymentConfirmed(ctx, conf)

	require.NoError(t, err)
	assert.Equal(t, "ORDER-3", booking.UpstreamBookingID)
	f.caller.AssertNumberOfCalls(t, "CallWithAuthRetry", 1)
	f.claims.AssertExpectations(t)
	f.producer.AssertExpectations(t)
}

func TestBookingService_OnPaymentConfirmed_MarkFailedError(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.bookings.On("GetBySession", ctx, "cs_1").Return(pendingBooking(), nil)
	f.claims.On("ClaimSession", ctx, "cs_1", mock.Anything).Return(true, nil)
	f.caller.On("CallWithAuthRetry", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, &domain.UpstreamAPIError{Status: 500})
	f.bookings.On("MarkFailed", ctx, int64(7)).Return(nil, errors.New("connection reset"))
	f.claims.On("ReleaseSession", ctx, "cs_1").Return(nil)

	_, err := f.service.OnPaymentConfirmed(ctx, &payment.Confirmation{SessionID: "cs_1", Paid: true})

	require.ErrorContains(t, err, "connection reset")
	var orderErr *domain.OrderSubmissionError
	assert.False(t, errors.As(err, &orderErr))
	f.claims.AssertCalled(t, "ReleaseSession", ctx, "cs_1")
}

// ============================ Вебхуки ============================

func TestBookingService_HandleWebhook_UnknownSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	payload := []byte(`{"type":"checkout.session.completed"}`)

	f.gateway.On("ParseWebhook", payload, mock.Anything).Return(&payment.Confirmation{EventType: "checkout.session.completed", SessionID: "cs_missing", Paid: true}, nil)
	f.bookings.On("GetBySession", ctx, "cs_missing").Return(nil, domain.ErrBookingNotFound)

	err := f.service.HandleWebhook(ctx, "stripe", payload, http.Header{})

	require.NoError(t, err)
	assert.True(t, f.warned("no booking for paid session"))
	f.bookings.AssertNotCalled(t, "MarkSucceeded", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.bookings.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything)
}

func TestBookingService_HandleWebhook_StorageErrorIsReturned(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	dbErr := errors.New("connection reset")

	f.gateway.On("ParseWebhook", mock.Anything, mock.Anything).Return(&payment.Confirmation{SessionID: "cs_1", Paid: true}, nil)
	f.bookings.On("GetBySession", ctx, "cs_1").Return(nil, dbErr)

	err := f.service.HandleWebhook(ctx, "stripe", []byte(`{}`), http.Header{})

	assert.ErrorIs(t, err, dbErr)
}

func TestBookingService_HandleWebhook_RejectedOrderAcknowledged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.gateway.On("ParseWebhook", mock.Anything, mock.Anything).Return(&payment.Confirmation{SessionID: "cs_1", Paid: true}, nil)
	f.bookings.On("GetBySession", ctx, "cs_1").Return(pendingBooking(), nil)
	f.claims.On("ClaimSession", ctx, "cs_1", mock.Anything).Return(true, nil)
	f.caller.On("CallWithAuthRetry", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, &domain.UpstreamAPIError{Status: 400})
	failed := pendingBooking()
	failed.PaymentStatus = domain.PaymentStatusFailed
	f.bookings.On("MarkFailed", ctx, int64(7)).Return(failed, nil)
	f.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.service.HandleWebhook(ctx, "stripe", []byte(`{}`), http.Header{})

	require.NoError(t, err)
}

func TestBookingService_HandleWebhook_UndecodablePayloadDropped(t *testing.T) {
	f := newFixture()
	f.gateway.On("ParseWebhook", mock.Anything, mock.Anything).Return(nil, errors.New("decode event: unexpected end of JSON input"))

	err := f.service.HandleWebhook(context.Background(), "stripe", []byte(`{`), http.Header{})

	require.NoError(t, err)
	assert.True(t, f.logged(logrus.ErrorLevel, "undecodable webhook payload dropped"))
}

func TestBookingService_HandleWebhook_InvalidSignature(t *testing.T) {
	f := newFixture()
	f.gateway.On("ParseWebhook", mock.Anything, mock.Anything).Return(nil, domain.ErrInvalidSignature)

	err := f.service.HandleWebhook(context.Background(), "", []byte(`{}`), http.Header{})

	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	f.bookings.AssertNotCalled(t, "GetBySession", mock.Anything, mock.Anything)
}

func TestBookingService_HandleWebhook_IgnoresUnpaidEvents(t *testing.T) {
	f := newFixture()
	f.gateway.On("ParseWebhook", mock.Anything, mock.Anything).Return(&payment.Confirmation{EventType: "payment_intent.created"}, nil)

	err := f.service.HandleWebhook(context.Background(), "stripe", []byte(`{}`), http.Header{})

	require.NoError(t, err)
	f.bookings.AssertNotCalled(t, "GetBySession", mock.Anything, mock.Anything)
}

func TestBookingService_HandleWebhook_UnsupportedGateway(t *testing.T) {
	f := newFixture()

	err := f.service.HandleWebhook(context.Background(), "paypal", []byte(`{}`), http.Header{})

	assert.ErrorIs(t, err, domain.ErrUnsupportedGateway)
}

// ============================ Поиск и очистка ============================

func TestBookingService_GetPaidBooking(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	paid := pendingBooking()
	paid.PaymentStatus = domain.PaymentStatusSuccess
	f.bookings.On("GetBySession", ctx, "cs_paid").Return(paid, nil)
	f.bookings.On("GetBySession", ctx, "cs_1").Return(pendingBooking(), nil)
	f.bookings.On("GetBySession", ctx, "cs_none").Return(nil, domain.ErrBookingNotFound)

	booking, err := f.service.GetPaidBooking(ctx, "cs_paid")
	require.NoError(t, err)
	assert.Same(t, paid, booking)

	_, err = f.service.GetPaidBooking(ctx, "cs_1")
	assert.ErrorIs(t, err, domain.ErrPaymentNotSettled)

	_, err = f.service.GetPaidBooking(ctx, "cs_none")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	_, err = f.service.GetPaidBooking(ctx, "")
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestBookingService_FailStalePending(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(WithPendingTTL(time.Hour), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	stale := []domain.Booking{*pendingBooking()}
	stale[0].PaymentStatus = domain.PaymentStatusFailed
	f.bookings.On("FailPendingBefore", ctx, now.Add(-(time.Hour + webhookGrace))).Return(stale, nil)
	f.expectEvent(kafka.EventBookingFailed)

	failed, err := f.service.FailStalePending(ctx)

	require.NoError(t, err)
	assert.Len(t, failed, 1)
	f.producer.AssertExpectations(t)
}

func TestBookingService_FailStalePending_WaitsForCheckoutExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(WithPendingTTL(10*time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	f.bookings.On("FailPendingBefore", ctx, now.Add(-(minCheckoutTTL + webhookGrace))).Return([]domain.Booking{}, nil)

	failed, err := f.service.FailStalePending(ctx)

	require.NoError(t, err)
	assert.Empty(t, failed)
	f.bookings.AssertExpectations(t)
}

func TestBookingService_FailStalePending_Disabled(t *testing.T) {
	f := newFixture()

	failed, err := f.service.FailStalePending(context.Background())

	require.NoError(t, err)
	assert.Empty(t, failed)
	f.bookings.AssertNotCalled(t, "FailPendingBefore", mock.Anything, mock.Anything)
}
