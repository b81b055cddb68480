package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Consumer struct {
	reader *kafka.Reader
	log    logrus.FieldLogger
}

func NewConsumer(brokers []string, groupID, topic string, log logrus.FieldLogger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
			ErrorLogger:       kafka.LoggerFunc(log.WithField("component", "kafka-reader").Errorf),
		}),
		log: log,
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Consume reads until ctx is cancelled. A handler error is logged and the
// message skipped so one bad event cannot stall the group.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, BookingEvent) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		event, err := DecodeBookingEvent(msg.Value)
		if err != nil {
			c.log.WithError(err).WithField("offset", msg.Offset).Warn("skipping undecodable booking event")
			continue
		}
		if err := handler(ctx, event); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{"type": event.Type, "reference": event.Reference}).Error("booking event handler failed")
		}
	}
}

func DecodeBookingEvent(data []byte) (BookingEvent, error) {
	var event BookingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return BookingEvent{}, err
	}
	if event.Type == "" {
		return BookingEvent{}, errors.New("booking event without type")
	}
	return event, nil
}
