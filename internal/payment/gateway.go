// Package payment creates hosted checkouts and verifies payment webhooks for
// the supported gateways.
package payment

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Domenick1991/skyorder/internal/domain"
)

const lineItemName = "Flight Ticket Booking"

type CheckoutRequest struct {
	Reference     string
	Amount        float64
	Currency      string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	// ExpiresAt closes the checkout; zero leaves the gateway default.
	ExpiresAt time.Time
}

type Checkout struct {
	SessionID   string
	RedirectURL string
}

// Confirmation is a verified webhook delivery. Paid is false for event types
// that do not settle a payment; those are acknowledged and ignored.
type Confirmation struct {
	EventType string
	SessionID string
	SettledID string
	Paid      bool
}

type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	// ParseWebhook verifies the delivery signature and returns
	// domain.ErrInvalidSignature when it does not match.
	ParseWebhook(payload []byte, header http.Header) (*Confirmation, error)
}

type Registry struct {
	gateways       map[string]Gateway
	defaultGateway string
}

func NewRegistry(defaultGateway string, gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways)), defaultGateway: defaultGateway}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

// Get resolves a gateway by name; an empty name selects the default.
func (r *Registry) Get(name string) (Gateway, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.defaultGateway
	}
	g, ok := r.gateways[name]
	if !ok {
		return nil, domain.ErrUnsupportedGateway
	}
	return g, nil
}

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true, "KRW": true, "MGA": true,
	"PYG": true, "RWF": true, "UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MinorUnits converts an amount to the smallest currency unit.
func MinorUnits(amount float64, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}
