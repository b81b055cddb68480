package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Domenick1991/skyorder/config"
	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	GatewayStripe = "stripe"

	stripeSignatureHeader  = "Stripe-Signature"
	stripeCheckoutComplete = "checkout.session.completed"
	stripeSessionParam     = "session_id={CHECKOUT_SESSION_ID}"
)

// checkoutSessions is the slice of the Stripe client used here.
type checkoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type StripeGateway struct {
	sessions      checkoutSessions
	webhookSecret string
}

func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	api := client.New(cfg.SecretKey, nil)
	return &StripeGateway{sessions: api.CheckoutSessions, webhookSecret: cfg.WebhookSecret}
}

func (g *StripeGateway) Name() string { return GatewayStripe }

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(withSessionParam(req.SuccessURL)),
		CancelURL:          stripe.String(req.CancelURL),
		ClientReferenceID:  stripe.String(req.Reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(MinorUnits(req.Amount, req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(lineItemName),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	params.Context = ctx
	params.AddMetadata("booking_reference", req.Reference)

	session, err := g.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}
	return &Checkout{SessionID: session.ID, RedirectURL: session.URL}, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, header http.Header) (*Confirmation, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get(stripeSignatureHeader), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	conf := &Confirmation{EventType: string(event.Type)}
	if conf.EventType != stripeCheckoutComplete {
		return conf, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("stripe event %s has no data", event.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	conf.SessionID = session.ID
	if session.PaymentIntent != nil {
		conf.SettledID = session.PaymentIntent.ID
	}
	conf.Paid = true
	return conf, nil
}

// withSessionParam lets the success page look the booking up by session.
func withSessionParam(successURL string) string {
	if strings.Contains(successURL, "{CHECKOUT_SESSION_ID}") {
		return successURL
	}
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + stripeSessionParam
}

var _ Gateway = (*StripeGateway)(nil)
