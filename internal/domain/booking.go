package domain

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed
}

// CanTransitionTo allows only pending -> success and pending -> failed.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && next.Terminal()
}

// Booking is a guest-checkout flight booking keyed by its payment session.
// UpstreamBookingID is only ever set together with PaymentStatusSuccess.
type Booking struct {
	ID                int64
	Reference         string
	UniqueKey         string
	UpstreamBookingID string
	FlightOffer       json.RawMessage
	Travelers         json.RawMessage
	Contacts          json.RawMessage
	OrderResponse     json.RawMessage
	PaymentGateway    string
	PaymentStatus     PaymentStatus
	SessionID         string
	TransactionID     string
	Amount            float64
	Currency          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ContactEmail returns the first emailAddress found in the contacts payload.
func (b *Booking) ContactEmail() string {
	var contacts []struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := json.Unmarshal(b.Contacts, &contacts); err != nil {
		return ""
	}
	for _, c := range contacts {
		if c.EmailAddress != "" {
			return c.EmailAddress
		}
	}
	return ""
}
