package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPricingNotFound    = errors.New("flight pricing not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrAlreadyProcessed   = errors.New("booking already processed")
	ErrPaymentNotSettled  = errors.New("payment not successful")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrUnsupportedGateway = errors.New("unsupported payment gateway")
)

// ValidationError is malformed or missing caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UpstreamAuthError means the GDS token exchange failed.
type UpstreamAuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gds token request failed: %v", e.Err)
	}
	return fmt.Sprintf("gds token request failed with status %d: %s", e.Status, e.Body)
}

func (e *UpstreamAuthError) Unwrap() error { return e.Err }

// UpstreamAPIError is any non-2xx answer (or transport failure) from the GDS.
type UpstreamAPIError struct {
	Method   string
	Endpoint string
	Status   int
	Detail   string
}

func (e *UpstreamAPIError) Error() string {
	return fmt.Sprintf("gds %s %s failed with status %d: %s", e.Method, e.Endpoint, e.Status, e.Detail)
}

// Unauthorized reports a 401 from the GDS, the only status that triggers a
// token refresh.
func (e *UpstreamAPIError) Unauthorized() bool { return e.Status == 401 }

// InvalidOfferDataError means an offer token could not be decoded to an offer object.
type InvalidOfferDataError struct {
	Reason string
}

func (e *InvalidOfferDataError) Error() string {
	return "invalid flight offer data: " + e.Reason
}

// BookingNotFoundError is raised when a payment confirmation names an unknown session.
type BookingNotFoundError struct {
	SessionID string
}

func (e *BookingNotFoundError) Error() string {
	return "no booking for payment session " + e.SessionID
}

func (e *BookingNotFoundError) Is(target error) bool { return target == ErrBookingNotFound }

// OrderSubmissionError means the GDS order call failed after the auth retry.
type OrderSubmissionError struct {
	Cause error
}

func (e *OrderSubmissionError) Error() string {
	return fmt.Sprintf("flight order submission failed: %v", e.Cause)
}

func (e *OrderSubmissionError) Unwrap() error { return e.Cause }
