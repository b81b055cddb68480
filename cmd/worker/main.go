package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/skyorder/config"
	"github.com/Domenick1991/skyorder/internal/cache"
	"github.com/Domenick1991/skyorder/internal/email"
	"github.com/Domenick1991/skyorder/internal/gds"
	"github.com/Domenick1991/skyorder/internal/kafka"
	"github.com/Domenick1991/skyorder/internal/logger"
	"github.com/Domenick1991/skyorder/internal/payment"
	"github.com/Domenick1991/skyorder/internal/repository"
	"github.com/Domenick1991/skyorder/internal/service/booking"
	"github.com/sirupsen/logrus"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.Log).WithField("component", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pool.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer producer.Close()
	redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Booking.AirportsCacheTTLMinutes)*time.Minute)
	defer redisCache.Close()

	tokens := gds.NewTokenManager(cfg.GDS, repository.NewTokenRepository(pool), log)
	bookingService := booking.NewBookingService(
		repository.NewBookingRepository(pool),
		repository.NewPricingRepository(pool),
		gds.NewClient(cfg.GDS, tokens, log),
		payment.NewRegistry(cfg.Payments.DefaultGateway),
		redisCache,
		producer,
		cfg.Kafka.BookingEventsTopic,
		log,
		booking.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
		booking.WithPendingTTL(time.Duration(cfg.Booking.PendingTTLMinutes)*time.Minute),
	)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, log)
	defer consumer.Close()

	emailSender := email.NewSender(cfg.SMTP, log)

	go func() {
		if err := consumer.Consume(ctx, emailSender.Send); err != nil {
			log.WithError(err).Error("consumer stopped")
		}
	}()

	sweepTicker := time.NewTicker(time.Duration(cfg.Worker.SweepMinutes) * time.Minute)
	defer sweepTicker.Stop()

	log.WithField("sweep_minutes", cfg.Worker.SweepMinutes).Info("worker started")
	for {
		select {
		case <-sweepTicker.C:
			failed, err := bookingService.FailStalePending(ctx)
			if err != nil {
				log.WithError(err).Error("stale booking sweep failed")
				continue
			}
			if len(failed) > 0 {
				log.WithField("count", len(failed)).Info("failed stale pending bookings")
			}
		case <-ctx.Done():
			log.Info("shutting down")
			return
		}
	}
}
