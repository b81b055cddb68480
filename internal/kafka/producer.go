package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingSucceeded = "booking_succeeded"
	EventBookingFailed    = "booking_failed"
)

type BookingEvent struct {
	Type              string    `json:"type"`
	Reference         string    `json:"reference"`
	SessionID         string    `json:"session_id"`
	Status            string    `json:"status"`
	Email             string    `json:"email"`
	UpstreamBookingID string    `json:"upstream_booking_id,omitempty"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func NewBookingEvent(eventType string, b *domain.Booking) BookingEvent {
	return BookingEvent{
		Type:              eventType,
		Reference:         b.Reference,
		SessionID:         b.SessionID,
		Status:            string(b.PaymentStatus),
		Email:             b.ContactEmail(),
		UpstreamBookingID: b.UpstreamBookingID,
		Amount:            b.Amount,
		Currency:          b.Currency,
		OccurredAt:        time.Now().UTC(),
	}
}

type Producer struct {
	brokers []string
	writer  *kafka.Writer
	log     logrus.FieldLogger
}

func NewProducer(brokers []string, log logrus.FieldLogger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Logger:       kafka.LoggerFunc(log.WithField("component", "kafka-writer").Debugf),
		ErrorLogger:  kafka.LoggerFunc(log.WithField("component", "kafka-writer").Errorf),
	}

	return &Producer{
		brokers: brokers,
		writer:  writer,
		log:     log,
	}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	p.log.WithFields(logrus.Fields{"topic": topic, "key": key}).Debug("published to kafka")
	return nil
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// CheckConnection dials the first broker and reads its partitions; used by
// the readiness probe.
func (p *Producer) CheckConnection(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(); err != nil {
		return fmt.Errorf("failed to read partitions: %w", err)
	}
	return nil
}
