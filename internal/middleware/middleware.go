package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

// CORS allows the configured origins, or any origin when none are set.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

// ParseRate accepts "<limit>-<n><s|m|h>", e.g. "60-1m" or "5-30s".
func ParseRate(raw string) (limiter.Rate, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 2 {
		return limiter.Rate{}, fmt.Errorf("invalid rate format: %s", raw)
	}
	limit, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || limit <= 0 {
		return limiter.Rate{}, fmt.Errorf("invalid limit: %s", parts[0])
	}

	period := parts[1]
	if period == "" {
		return limiter.Rate{}, fmt.Errorf("missing period: %s", raw)
	}
	var unit time.Duration
	switch period[len(period)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	default:
		return limiter.Rate{}, fmt.Errorf("unsupported period: %s", period)
	}
	n, err := strconv.Atoi(period[:len(period)-1])
	if err != nil || n <= 0 {
		return limiter.Rate{}, fmt.Errorf("invalid period: %s", period)
	}
	return limiter.Rate{Period: time.Duration(n) * unit, Limit: limit}, nil
}

// RateLimit limits requests per client IP. Counters live in redis when a
// client is given and in process memory otherwise.
func RateLimit(rate, routeID string, client *redis.Client) (gin.HandlerFunc, error) {
	r, err := ParseRate(rate)
	if err != nil {
		return nil, err
	}

	prefix := "rate_limiter:" + routeID
	var store limiter.Store
	if client != nil {
		store, err = redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
			Prefix:          prefix,
			MaxRetry:        3,
			CleanUpInterval: r.Period,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis limiter store for %s: %w", routeID, err)
		}
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          prefix,
			CleanUpInterval: r.Period,
		})
	}

	return ginlimiter.NewMiddleware(limiter.New(store, r), ginlimiter.WithLimitReachedHandler(func(c *gin.Context) {
		c.AbortWithStatusJSON(429, gin.H{"success": false, "message": "Too many requests"})
	})), nil
}

// RequestLogger writes one structured entry per request.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request handled")
		}
	}
}
