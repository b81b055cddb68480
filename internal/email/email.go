package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/Domenick1991/skyorder/config"
	"github.com/Domenick1991/skyorder/internal/kafka"
	"github.com/sirupsen/logrus"
	gomail "gopkg.in/gomail.v2"
)

// Dialer is the part of *gomail.Dialer the sender needs.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Sender struct {
	from   string
	dialer Dialer
	log    logrus.FieldLogger
}

func NewSender(cfg config.SMTPConfig, log logrus.FieldLogger) *Sender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	dialer.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return NewSenderWithDialer(cfg.From, dialer, log)
}

func NewSenderWithDialer(from string, dialer Dialer, log logrus.FieldLogger) *Sender {
	return &Sender{from: from, dialer: dialer, log: log}
}

// Send notifies the booking contact about a lifecycle event. Events without
// a contact address are skipped.
func (s *Sender) Send(ctx context.Context, event kafka.BookingEvent) error {
	if event.Email == "" {
		s.log.WithField("reference", event.Reference).Info("booking event has no contact email, skipping")
		return nil
	}
	subject, body, err := render(event)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", event.Email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.log.WithFields(logrus.Fields{"reference": event.Reference, "type": event.Type}).Info("booking email sent")
	return nil
}

func render(event kafka.BookingEvent) (string, string, error) {
	switch event.Type {
	case kafka.EventBookingCreated:
		return "Complete your flight payment " + event.Reference,
			fmt.Sprintf("Your booking %s for %.2f %s is waiting for payment.", event.Reference, event.Amount, event.Currency), nil
	case kafka.EventBookingSucceeded:
		return "Your flight is booked " + event.Reference,
			fmt.Sprintf("Payment received. Booking %s is confirmed with airline order %s.", event.Reference, event.UpstreamBookingID), nil
	case kafka.EventBookingFailed:
		return "We could not complete your booking " + event.Reference,
			fmt.Sprintf("Booking %s could not be completed. If you were charged, contact support with this reference.", event.Reference), nil
	default:
		return "", "", errors.New("unknown booking event type " + event.Type)
	}
}
