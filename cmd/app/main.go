package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/skyorder/config"
	"github.com/Domenick1991/skyorder/internal/bootstrap"
	"github.com/Domenick1991/skyorder/internal/cache"
	"github.com/Domenick1991/skyorder/internal/gds"
	"github.com/Domenick1991/skyorder/internal/kafka"
	"github.com/Domenick1991/skyorder/internal/logger"
	"github.com/Domenick1991/skyorder/internal/payment"
	"github.com/Domenick1991/skyorder/internal/repository"
	"github.com/Domenick1991/skyorder/internal/service/booking"
	"github.com/Domenick1991/skyorder/internal/service/flights"
	"github.com/Domenick1991/skyorder/internal/service/pricing"
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
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pool.Close()

	if cfg.Database.MigrateOnStart {
		if err := repository.Migrate(ctx, pool, log); err != nil {
			log.WithError(err).Fatal("migrate database")
		}
	}

	redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Booking.AirportsCacheTTLMinutes)*time.Minute)
	defer redisCache.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer producer.Close()

	tokens := gds.NewTokenManager(cfg.GDS, repository.NewTokenRepository(pool), log)
	gdsClient := gds.NewClient(cfg.GDS, tokens, log)

	gateways := payment.NewRegistry(
		cfg.Payments.DefaultGateway,
		payment.NewStripeGateway(cfg.Payments.Stripe),
		payment.NewRazorpayGateway(cfg.Payments.Razorpay),
	)

	pricingRepo := repository.NewPricingRepository(pool)
	flightService := flights.NewFlightService(gdsClient, redisCache, cfg.Search, log)
	pricingService := pricing.NewPricingService(gdsClient, pricingRepo, log)
	bookingService := booking.NewBookingService(
		repository.NewBookingRepository(pool),
		pricingRepo,
		gdsClient,
		gateways,
		redisCache,
		producer,
		cfg.Kafka.BookingEventsTopic,
		log,
		booking.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
		booking.WithTicketingDelay(cfg.GDS.TicketingDelay),
		booking.WithClaimTTL(time.Duration(cfg.Booking.WebhookClaimTTLMinutes)*time.Minute),
		booking.WithPendingTTL(time.Duration(cfg.Booking.PendingTTLMinutes)*time.Minute),
	)

	services := bootstrap.Services{
		Flights:      flightService,
		Pricing:      pricingService,
		Bookings:     bookingService,
		LimiterStore: redisCache.Client(),
	}
	checks := []bootstrap.ReadinessCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "redis", Check: redisCache.Ping},
		{Name: "kafka", Check: producer.CheckConnection},
	}

	if err := bootstrap.Run(ctx, cfg, log, services, checks...); err != nil {
		log.WithError(err).Fatal("server error")
	}
}
