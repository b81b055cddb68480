package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/Domenick1991/skyorder/internal/offer"
	"github.com/Domenick1991/skyorder/internal/payment"
	"github.com/Domenick1991/skyorder/internal/service/booking"
	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	service booking.BookingUseCase
}

type bookingResponse struct {
	ID                int64           `json:"id"`
	Reference         string          `json:"reference"`
	UniqueKey         string          `json:"unique_key,omitempty"`
	UpstreamBookingID string          `json:"booking_id,omitempty"`
	Amount            float64         `json:"amount"`
	Currency          string          `json:"currency"`
	PaymentStatus     string          `json:"payment_status"`
	PaymentGateway    string          `json:"payment_gateway"`
	TransactionID     string          `json:"transaction_id"`
	Travelers         json.RawMessage `json:"travelers"`
	Contacts          json.RawMessage `json:"contacts"`
	FlightOffer       []any           `json:"flight_offer"`
	CreatedAt         string          `json:"created_at"`
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("/booking/create-payment", h.createPayment)
	router.GET("/booking/by-transaction", h.byTransaction)
	router.POST("/webhooks/stripe", h.webhook(payment.GatewayStripe))
	router.POST("/webhooks/razorpay", h.webhook(payment.GatewayRazorpay))
}

func (h *BookingHandler) createPayment(c *gin.Context) {
	var req booking.CreateBookingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Invalid booking request", "error": err.Error()})
		return
	}

	created, err := h.service.CreatePendingBooking(c.Request.Context(), req)
	if err != nil {
		writeError(c, "Failed to create payment", err)
		return
	}

	writeSuccess(c, "Payment session created", gin.H{
		"url":        created.RedirectURL,
		"reference":  created.Booking.Reference,
		"session_id": created.Booking.SessionID,
	})
}

func (h *BookingHandler) byTransaction(c *gin.Context) {
	b, err := h.service.GetPaidBooking(c.Request.Context(), c.Query("sessionid"))
	if err != nil {
		writeError(c, "Booking lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	// Stored offers that no longer normalize are returned as stored.
	var details any = b.FlightOffer
	if normalized, err := offer.Normalize(b.FlightOffer); err == nil {
		details = normalized
	}
	return bookingResponse{
		ID:                b.ID,
		Reference:         b.Reference,
		UniqueKey:         b.UniqueKey,
		UpstreamBookingID: b.UpstreamBookingID,
		Amount:            b.Amount,
		Currency:          b.Currency,
		PaymentStatus:     string(b.PaymentStatus),
		PaymentGateway:    b.PaymentGateway,
		TransactionID:     b.TransactionID,
		Travelers:         b.Travelers,
		Contacts:          b.Contacts,
		FlightOffer:       []any{details},
		CreatedAt:         b.CreatedAt.Format(time.RFC3339),
	}
}

// webhook acknowledges a verified delivery with 200 once its outcome is
// final. Failures a redelivery may fix answer 500 so the gateway retries.
func (h *BookingHandler) webhook(gateway string) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable payload"})
			return
		}

		err = h.service.HandleWebhook(c.Request.Context(), gateway, payload, c.Request.Header)
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
			return
		case errors.Is(err, domain.ErrUnsupportedGateway):
			c.JSON(http.StatusNotFound, gin.H{"error": "Unsupported payment gateway"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
