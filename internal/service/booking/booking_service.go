package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/Domenick1991/skyorder/internal/gds"
	"github.com/Domenick1991/skyorder/internal/kafka"
	"github.com/Domenick1991/skyorder/internal/offer"
	"github.com/Domenick1991/skyorder/internal/payment"
	"github.com/Domenick1991/skyorder/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	flightOrdersPath = "/v1/booking/flight-orders"

	defaultTicketingDelay = "6D"
	defaultClaimTTL       = 10 * time.Minute

	// Hosted checkouts accept an expiry between 30 minutes and 24 hours out.
	minCheckoutTTL = 30 * time.Minute
	maxCheckoutTTL = 24 * time.Hour
	// webhookGrace keeps a booking pending past its checkout expiry so late
	// deliveries for payments made just before expiry still settle it.
	webhookGrace = 15 * time.Minute
	orderMemoTTL = 72 * time.Hour

	amountTolerance = 0.005
)

type BookingUseCase interface {
	CreatePendingBooking(ctx context.Context, input CreateBookingInput) (*CreatedBooking, error)
	HandleWebhook(ctx context.Context, gateway string, payload []byte, header http.Header) error
	OnPaymentConfirmed(ctx context.Context, conf *payment.Confirmation) (*domain.Booking, error)
	GetPaidBooking(ctx context.Context, sessionID string) (*domain.Booking, error)
	FailStalePending(ctx context.Context) ([]domain.Booking, error)
}

// SessionClaimer guards a payment session against concurrent webhook
// deliveries and keeps the flight order placed for it, so a redelivery after
// a failed status write does not order twice.
type SessionClaimer interface {
	ClaimSession(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	ReleaseSession(ctx context.Context, sessionID string) error
	SaveOrder(ctx context.Context, sessionID string, order json.RawMessage, ttl time.Duration) error
	LoadOrder(ctx context.Context, sessionID string) (json.RawMessage, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type BookingService struct {
	bookings           repository.BookingRepository
	pricings           repository.PricingRepository
	gds                gds.Caller
	gateways           *payment.Registry
	claims             SessionClaimer
	producer           Producer
	bookingTopic       string
	notificationsTopic string
	ticketingDelay     string
	claimTTL           time.Duration
	pendingTTL         time.Duration
	now                func() time.Time
	log                logrus.FieldLogger
}

type BookingServiceOption func(*BookingService)

func WithNotificationsTopic(topic string) BookingServiceOption {
	return func(s *BookingService) {
		s.notificationsTopic = topic
	}
}

func WithTicketingDelay(delay string) BookingServiceOption {
	return func(s *BookingService) {
		if delay != "" {
			s.ticketingDelay = delay
		}
	}
}

func WithClaimTTL(ttl time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		if ttl > 0 {
			s.claimTTL = ttl
		}
	}
}

// WithPendingTTL sets how long a booking may wait for payment. Checkouts
// expire after it and the sweep fails the booking once late webhooks had
// time to arrive. Zero disables the sweep.
func WithPendingTTL(ttl time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		s.pendingTTL = ttl
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	pricings repository.PricingRepository,
	caller gds.Caller,
	gateways *payment.Registry,
	claims SessionClaimer,
	producer Producer,
	bookingTopic string,
	log logrus.FieldLogger,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:       bookings,
		pricings:       pricings,
		gds:            caller,
		gateways:       gateways,
		claims:         claims,
		producer:       producer,
		bookingTopic:   bookingTopic,
		ticketingDelay: defaultTicketingDelay,
		claimTTL:       defaultClaimTTL,
		now:            time.Now,
		log:            log,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

type CreateBookingInput struct {
	UniqueKey   string          `json:"unique_key"`
	FlightOffer offer.Input     `json:"flight_offer"`
	Travelers   json.RawMessage `json:"travelers"`
	Contacts    json.RawMessage `json:"contacts"`
	Amount      float64         `json:"amount"`
	Currency    string          `json:"currency"`
	SuccessURL  string          `json:"s_url"`
	CancelURL   string          `json:"c_url"`
	FailureURL  string          `json:"f_url"`
	Gateway     string          `json:"gateway"`
}

type CreatedBooking struct {
	Booking     *domain.Booking
	RedirectURL string
}

func (in CreateBookingInput) validate() error {
	if strings.TrimSpace(in.UniqueKey) == "" && in.FlightOffer.Empty() {
		return domain.NewValidationError("unique_key", "a pricing unique_key or a flight_offer is required")
	}
	if !isJSONArray(in.Travelers) {
		return domain.NewValidationError("travelers", "travelers must be an array")
	}
	if !isJSONArray(in.Contacts) {
		return domain.NewValidationError("contacts", "contacts must be an array")
	}
	if in.Amount <= 0 {
		return domain.NewValidationError("amount", "amount must be a positive number")
	}
	if strings.TrimSpace(in.Currency) == "" {
		return domain.NewValidationError("currency", "currency is required")
	}
	if !isURL(in.SuccessURL) {
		return domain.NewValidationError("s_url", "s_url must be a valid URL")
	}
	if !isURL(in.CancelURL) {
		return domain.NewValidationError("c_url", "c_url must be a valid URL")
	}
	if in.FailureURL != "" && !isURL(in.FailureURL) {
		return domain.NewValidationError("f_url", "f_url must be a valid URL")
	}
	return nil
}

// CreatePendingBooking stores a pending booking for a priced (or raw) offer
// and opens a hosted checkout for it.
func (s *BookingService) CreatePendingBooking(ctx context.Context, input CreateBookingInput) (*CreatedBooking, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	gateway, err := s.gateways.Get(input.Gateway)
	if err != nil {
		return nil, domain.NewValidationError("gateway", err.Error())
	}

	flightOffer, quoted, err := s.resolveOffer(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := checkAmount(quoted, input.Amount, input.Currency); err != nil {
		return nil, err
	}

	booking := &domain.Booking{
		Reference:      newReference(),
		UniqueKey:      strings.TrimSpace(input.UniqueKey),
		FlightOffer:    flightOffer,
		Travelers:      input.Travelers,
		Contacts:       input.Contacts,
		PaymentGateway: gateway.Name(),
		Amount:         input.Amount,
		Currency:       strings.ToUpper(strings.TrimSpace(input.Currency)),
	}
	if err := s.bookings.CreatePending(ctx, booking); err != nil {
		return nil, fmt.Errorf("create pending booking: %w", err)
	}

	checkout, err := gateway.CreateCheckout(ctx, payment.CheckoutRequest{
		Reference:     booking.Reference,
		Amount:        booking.Amount,
		Currency:      booking.Currency,
		SuccessURL:    input.SuccessURL,
		CancelURL:     input.CancelURL,
		CustomerEmail: booking.ContactEmail(),
		ExpiresAt:     s.now().Add(s.checkoutTTL()),
	})
	if err != nil {
		if _, markErr := s.bookings.MarkFailed(ctx, booking.ID); markErr != nil {
			s.log.WithError(markErr).WithField("reference", booking.Reference).Error("failed to mark booking failed after checkout error")
		}
		return nil, fmt.Errorf("create %s checkout: %w", gateway.Name(), err)
	}

	if err := s.bookings.AttachSession(ctx, booking.ID, checkout.SessionID); err != nil {
		if _, markErr := s.bookings.MarkFailed(ctx, booking.ID); markErr != nil {
			s.log.WithError(markErr).WithField("reference", booking.Reference).Error("failed to mark booking failed after session attach error")
		}
		return nil, fmt.Errorf("attach payment session: %w", err)
	}
	booking.SessionID = checkout.SessionID
	booking.TransactionID = checkout.SessionID

	s.log.WithFields(logrus.Fields{
		"reference":  booking.Reference,
		"session_id": booking.SessionID,
		"gateway":    booking.PaymentGateway,
	}).Info("pending booking created")
	if err := s.publish(ctx, kafka.EventBookingCreated, booking); err != nil {
		s.log.WithError(err).WithField("reference", booking.Reference).Warn("failed to publish booking_created event")
	}

	return &CreatedBooking{Booking: booking, RedirectURL: checkout.RedirectURL}, nil
}

// resolveOffer returns the offer to book and the offer carrying the price it
// was quoted at: the priced one for a snapshot, the offer itself otherwise.
func (s *BookingService) resolveOffer(ctx context.Context, input CreateBookingInput) (json.RawMessage, json.RawMessage, error) {
	if key := strings.TrimSpace(input.UniqueKey); key != "" {
		snapshot, err := s.pricings.GetByKey(ctx, key)
		if errors.Is(err, domain.ErrPricingNotFound) {
			return nil, nil, domain.NewValidationError("unique_key", "the selected unique_key is invalid")
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load pricing snapshot: %w", err)
		}
		quoted := gds.PricedOffer(snapshot.PricingResponse)
		if quoted == nil {
			quoted = snapshot.FlightOffer
		}
		return snapshot.FlightOffer, quoted, nil
	}
	raw, err := input.FlightOffer.Resolve()
	if err != nil {
		return nil, nil, err
	}
	return raw, raw, nil
}

// checkAmount rejects a charge that differs from the quoted price. Offers
// without a price are not checked.
func checkAmount(quoted json.RawMessage, amount float64, currency string) error {
	total, quotedCurrency, ok := offer.QuotedTotal(quoted)
	if !ok {
		return nil
	}
	if quotedCurrency != "" && !strings.EqualFold(quotedCurrency, strings.TrimSpace(currency)) {
		return domain.NewValidationError("currency", fmt.Sprintf("currency must be %s", quotedCurrency))
	}
	if math.Abs(total-amount) > amountTolerance {
		return domain.NewValidationError("amount", fmt.Sprintf("amount must equal the quoted total %.2f", total))
	}
	return nil
}

// checkoutTTL is the pending TTL clamped to what the gateways accept.
func (s *BookingService) checkoutTTL() time.Duration {
	switch ttl := s.pendingTTL; {
	case ttl <= 0 || ttl > maxCheckoutTTL:
		return maxCheckoutTTL
	case ttl < minCheckoutTTL:
		return minCheckoutTTL
	default:
		return ttl
	}
}

// HandleWebhook verifies a gateway delivery and applies it. Errors are
// returned for an unknown gateway or a bad signature, and for failures a
// redelivery may fix. Final outcomes are logged and return nil.
func (s *BookingService) HandleWebhook(ctx context.Context, gateway string, payload []byte, header http.Header) error {
	gw, err := s.gateways.Get(gateway)
	if err != nil {
		return err
	}
	conf, err := gw.ParseWebhook(payload, header)
	if errors.Is(err, domain.ErrInvalidSignature) {
		s.log.WithError(err).WithField("gateway", gw.Name()).Error("webhook verification failed")
		return err
	}
	if err != nil {
		s.log.WithError(err).WithField("gateway", gw.Name()).Error("undecodable webhook payload dropped")
		return nil
	}

	entry := s.log.WithFields(logrus.Fields{"gateway": gw.Name(), "event": conf.EventType})
	if !conf.Paid {
		entry.Info("webhook event ignored")
		return nil
	}
	entry.WithField("session_id", conf.SessionID).Info("payment webhook received")

	_, err = s.OnPaymentConfirmed(ctx, conf)
	switch {
	case err == nil:
		return nil
	case isFinal(err):
		entry.WithError(err).Info("payment confirmation not applied")
		return nil
	default:
		entry.WithError(err).Error("payment confirmation failed, awaiting redelivery")
		return err
	}
}

// isFinal reports whether a confirmation error is final, so a redelivery
// could not change the outcome.
func isFinal(err error) bool {
	var orderErr *domain.OrderSubmissionError
	return errors.Is(err, domain.ErrBookingNotFound) ||
		errors.Is(err, domain.ErrAlreadyProcessed) ||
		errors.As(err, &orderErr)
}

type orderRequest struct {
	Data orderData `json:"data"`
}

type orderData struct {
	Type               string             `json:"type"`
	FlightOffers       []json.RawMessage  `json:"flightOffers"`
	Travelers          json.RawMessage    `json:"travelers"`
	Contacts           json.RawMessage    `json:"contacts"`
	TicketingAgreement ticketingAgreement `json:"ticketingAgreement"`
}

type ticketingAgreement struct {
	Option string `json:"option"`
	Delay  string `json:"delay"`
}

// OnPaymentConfirmed submits the flight order for the booking behind a paid
// session and settles it to success or failed.
func (s *BookingService) OnPaymentConfirmed(ctx context.Context, conf *payment.Confirmation) (*domain.Booking, error) {
	entry := s.log.WithField("session_id", conf.SessionID)

	booking, err := s.bookings.GetBySession(ctx, conf.SessionID)
	if errors.Is(err, domain.ErrBookingNotFound) {
		entry.Warn("no booking for paid session")
		return nil, &domain.BookingNotFoundError{SessionID: conf.SessionID}
	}
	if err != nil {
		entry.WithError(err).Error("failed to load booking")
		return nil, err
	}
	if booking.PaymentStatus == domain.PaymentStatusFailed && conf.Paid {
		entry.WithFields(logrus.Fields{
			"reference":  booking.Reference,
			"settled_id": conf.SettledID,
			"amount":     booking.Amount,
			"currency":   booking.Currency,
		}).Error("payment settled for a failed booking, refund required")
		return booking, domain.ErrAlreadyProcessed
	}
	if booking.PaymentStatus.Terminal() {
		entry.WithField("status", booking.PaymentStatus).Info("booking already settled")
		return booking, domain.ErrAlreadyProcessed
	}

	if s.claims != nil {
		claimed, err := s.claims.ClaimSession(ctx, conf.SessionID, s.claimTTL)
		switch {
		case err != nil:
			entry.WithError(err).Warn("session claim unavailable, relying on conditional update")
		case !claimed:
			entry.Info("session is being processed by another delivery")
			return booking, domain.ErrAlreadyProcessed
		}
	}

	resp, err := s.placeOrder(ctx, entry, conf.SessionID, booking)
	if err != nil {
		entry.WithError(err).Error("flight order submission failed")
		failed, markErr := s.bookings.MarkFailed(ctx, booking.ID)
		if markErr != nil {
			s.settleError(ctx, conf.SessionID, markErr)
			if errors.Is(markErr, domain.ErrAlreadyProcessed) {
				return nil, markErr
			}
			return nil, fmt.Errorf("mark booking failed after order error: %w", markErr)
		}
		if pubErr := s.publish(ctx, kafka.EventBookingFailed, failed); pubErr != nil {
			entry.WithError(pubErr).Warn("failed to publish booking_failed event")
		}
		return failed, &domain.OrderSubmissionError{Cause: err}
	}

	settled, err := s.bookings.MarkSucceeded(ctx, booking.ID, gds.DataID(resp), resp, conf.SettledID)
	if err != nil {
		s.settleError(ctx, conf.SessionID, err)
		return nil, err
	}

	entry.WithFields(logrus.Fields{
		"reference":           settled.Reference,
		"upstream_booking_id": settled.UpstreamBookingID,
	}).Info("flight order created")
	if err := s.publish(ctx, kafka.EventBookingSucceeded, settled); err != nil {
		entry.WithError(err).Warn("failed to publish booking_succeeded event")
	}
	return settled, nil
}

// placeOrder submits the flight order for booking, reusing the order an
// earlier delivery of the same session already placed.
func (s *BookingService) placeOrder(ctx context.Context, entry logrus.FieldLogger, sessionID string, booking *domain.Booking) (json.RawMessage, error) {
	if s.claims != nil {
		saved, err := s.claims.LoadOrder(ctx, sessionID)
		if err != nil {
			entry.WithError(err).Warn("saved flight order lookup failed")
		} else if saved != nil {
			entry.Info("reusing flight order from an earlier delivery")
			return saved, nil
		}
	}

	resp, err := s.gds.CallWithAuthRetry(ctx, http.MethodPost, flightOrdersPath, orderRequest{Data: orderData{
		Type:         "flight-order",
		FlightOffers: []json.RawMessage{booking.FlightOffer},
		Travelers:    booking.Travelers,
		Contacts:     booking.Contacts,
		TicketingAgreement: ticketingAgreement{
			Option: "DELAY_TO_CANCEL",
			Delay:  s.ticketingDelay,
		},
	}}, nil)
	if err != nil {
		return nil, err
	}

	if s.claims != nil {
		if err := s.claims.SaveOrder(ctx, sessionID, resp, orderMemoTTL); err != nil {
			entry.WithError(err).Warn("failed to save flight order")
		}
	}
	return resp, nil
}

// settleError handles a failed status write. A lost race is not an error;
// anything else leaves the booking pending, so the claim is released for a
// gateway redelivery.
func (s *BookingService) settleError(ctx context.Context, sessionID string, err error) {
	entry := s.log.WithField("session_id", sessionID)
	if errors.Is(err, domain.ErrAlreadyProcessed) {
		entry.Info("booking settled concurrently")
		return
	}
	entry.WithError(err).Error("failed to settle booking")
	if s.claims != nil {
		if relErr := s.claims.ReleaseSession(ctx, sessionID); relErr != nil {
			entry.WithError(relErr).Warn("failed to release session claim")
		}
	}
}

// GetPaidBooking returns the booking for a session only once its payment
// has succeeded.
func (s *BookingService) GetPaidBooking(ctx context.Context, sessionID string) (*domain.Booking, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.NewValidationError("sessionid", "The sessionid field is required.")
	}
	booking, err := s.bookings.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentStatus != domain.PaymentStatusSuccess {
		return nil, domain.ErrPaymentNotSettled
	}
	return booking, nil
}

// FailStalePending fails bookings whose checkout has expired and whose
// webhook grace period has passed without a payment.
func (s *BookingService) FailStalePending(ctx context.Context) ([]domain.Booking, error) {
	if s.pendingTTL <= 0 {
		return nil, nil
	}
	failed, err := s.bookings.FailPendingBefore(ctx, s.now().Add(-s.staleAfter()))
	if err != nil {
		return nil, err
	}
	for i := range failed {
		if err := s.publish(ctx, kafka.EventBookingFailed, &failed[i]); err != nil {
			s.log.WithError(err).WithField("reference", failed[i].Reference).Warn("failed to publish booking_failed event")
		}
	}
	if len(failed) > 0 {
		s.log.WithField("count", len(failed)).Info("stale pending bookings failed")
	}
	return failed, nil
}

// staleAfter is the age past which no webhook can still settle a pending
// booking.
func (s *BookingService) staleAfter() time.Duration {
	return max(s.pendingTTL, s.checkoutTTL()) + webhookGrace
}

func (s *BookingService) publish(ctx context.Context, eventType string, booking *domain.Booking) error {
	if s.producer == nil || s.bookingTopic == "" {
		return nil
	}
	event := kafka.NewBookingEvent(eventType, booking)
	if err := s.producer.Publish(ctx, s.bookingTopic, booking.Reference, event); err != nil {
		return err
	}
	if s.notificationsTopic != "" {
		return s.producer.Publish(ctx, s.notificationsTopic, booking.Reference, event)
	}
	return nil
}

func newReference() string {
	return "BK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func isJSONArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '[' && json.Valid(raw)
}

func isURL(raw string) bool {
	u, err := url.ParseRequestURI(strings.TrimSpace(raw))
	return err == nil && u.Scheme != "" && u.Host != ""
}

var _ BookingUseCase = (*BookingService)(nil)
