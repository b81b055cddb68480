package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Domenick1991/skyorder/config"
	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
)

const (
	GatewayRazorpay = "razorpay"

	razorpaySignatureHeader = "X-Razorpay-Signature"
	razorpayLinkPaid        = "payment_link.paid"
)

// paymentLinks is the slice of the Razorpay client used here.
type paymentLinks interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type RazorpayGateway struct {
	links         paymentLinks
	webhookSecret string
}

func NewRazorpayGateway(cfg config.RazorpayConfig) *RazorpayGateway {
	c := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	return &RazorpayGateway{links: c.PaymentLink, webhookSecret: cfg.WebhookSecret}
}

func (g *RazorpayGateway) Name() string { return GatewayRazorpay }

// CreateCheckout creates a payment link. The SDK call takes no context.
func (g *RazorpayGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	data := map[string]interface{}{
		"amount":          MinorUnits(req.Amount, req.Currency),
		"currency":        strings.ToUpper(req.Currency),
		"reference_id":    req.Reference,
		"description":     lineItemName,
		"callback_url":    req.SuccessURL,
		"callback_method": "get",
		"notes":           map[string]interface{}{"booking_reference": req.Reference},
	}
	if req.CustomerEmail != "" {
		data["customer"] = map[string]interface{}{"email": req.CustomerEmail}
	}
	if !req.ExpiresAt.IsZero() {
		data["expire_by"] = req.ExpiresAt.Unix()
	}

	resp, err := g.links.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay payment link: %w", err)
	}
	id, _ := resp["id"].(string)
	url, _ := resp["short_url"].(string)
	if id == "" || url == "" {
		return nil, fmt.Errorf("razorpay payment link: incomplete response")
	}
	return &Checkout{SessionID: id, RedirectURL: url}, nil
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		PaymentLink struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"payment_link"`
		Payment struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (g *RazorpayGateway) ParseWebhook(payload []byte, header http.Header) (*Confirmation, error) {
	signature := header.Get(razorpaySignatureHeader)
	if signature == "" || !utils.VerifyWebhookSignature(string(payload), signature, g.webhookSecret) {
		return nil, domain.ErrInvalidSignature
	}

	var hook razorpayWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("decode razorpay webhook: %w", err)
	}
	conf := &Confirmation{EventType: hook.Event}
	if hook.Event != razorpayLinkPaid {
		return conf, nil
	}
	conf.SessionID = hook.Payload.PaymentLink.Entity.ID
	conf.SettledID = hook.Payload.Payment.Entity.ID
	conf.Paid = conf.SessionID != ""
	return conf, nil
}

var _ Gateway = (*RazorpayGateway)(nil)
