package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Domenick1991/skyorder/api"
	"github.com/Domenick1991/skyorder/config"
	"github.com/Domenick1991/skyorder/internal/middleware"
	"github.com/Domenick1991/skyorder/internal/service/booking"
	"github.com/Domenick1991/skyorder/internal/service/flights"
	"github.com/Domenick1991/skyorder/internal/service/pricing"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

const readinessInterval = 15 * time.Second

// Services are the use cases served under /flights.
type Services struct {
	Flights  flights.FlightUseCase
	Pricing  pricing.PricingUseCase
	Bookings booking.BookingUseCase
	// LimiterStore keeps rate limit counters; nil keeps them in memory.
	LimiterStore *redis.Client
}

type Servers struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	opsServer  *http.Server
	readiness  *Readiness
}

// Run starts the public HTTP API, the gRPC health server and the ops HTTP
// server, and blocks until ctx is canceled or one of them fails.
func Run(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, svc Services, checks ...ReadinessCheck) error {
	s, err := newServers(cfg, log, svc, checks)
	if err != nil {
		return err
	}

	errCh := make(chan error, 3)

	lis, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPC.Address, err)
	}
	go func() { errCh <- s.grpcServer.Serve(lis) }()
	go func() { errCh <- listen(s.httpServer) }()
	go func() { errCh <- listen(s.opsServer) }()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go s.readiness.Watch(watchCtx, readinessInterval)

	log.WithFields(logrus.Fields{
		"http": cfg.HTTP.Address,
		"grpc": cfg.GRPC.Address,
		"ops":  cfg.Ops.Address,
	}).Info("servers started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		s.readiness.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.grpcServer.GracefulStop()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		if err := s.opsServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown ops server: %w", err)
		}
		return nil
	}
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	}
	return nil
}

func newServers(cfg *config.Config, log logrus.FieldLogger, svc Services, checks []ReadinessCheck) (*Servers, error) {
	router, err := NewRouter(cfg.HTTP, log, svc)
	if err != nil {
		return nil, err
	}

	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	RegisterHealth(grpcSrv, healthSrv)

	readiness := NewReadiness(healthSrv, log, checks...)
	opsMux, err := NewOpsMux(readiness)
	if err != nil {
		return nil, err
	}

	return &Servers{
		grpcServer: grpcSrv,
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Address,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		opsServer: &http.Server{
			Addr:              cfg.Ops.Address,
			Handler:           opsMux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		readiness: readiness,
	}, nil
}

// NewRouter builds the public API. Search, pricing and payment creation are
// rate limited per client IP; webhooks never are.
func NewRouter(cfg config.HTTPConfig, log logrus.FieldLogger, svc Services) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log), middleware.CORS(cfg.AllowedOrigins))

	limited := map[string]string{
		"/flights/search":                 "search",
		"/flights/offers/pricing":         "pricing",
		"/flights/booking/create-payment": "create-payment",
	}
	limiters := make(map[string]gin.HandlerFunc, len(limited))
	for path, routeID := range limited {
		limit, err := rateLimit(cfg.RateLimit, routeID, svc.LimiterStore, log)
		if err != nil {
			return nil, err
		}
		limiters[path] = limit
	}

	group := router.Group("/flights", func(c *gin.Context) {
		if limit, ok := limiters[c.FullPath()]; ok {
			limit(c)
		}
	})
	api.NewFlightHandler(svc.Flights).Register(group)
	api.NewPricingHandler(svc.Pricing).Register(group)
	api.NewBookingHandler(svc.Bookings).Register(group)

	return router, nil
}

func rateLimit(rate, routeID string, client *redis.Client, log logrus.FieldLogger) (gin.HandlerFunc, error) {
	limit, err := middleware.RateLimit(rate, routeID, client)
	if err == nil || client == nil {
		return limit, err
	}
	log.WithError(err).WithField("route", routeID).Warn("redis limiter store unavailable, counting in memory")
	return middleware.RateLimit(rate, routeID, nil)
}
