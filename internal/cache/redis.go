package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Domenick1991/skyorder/config"
	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client      *redis.Client
	airportsTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, airportsTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}), airportsTTL)
}

func NewRedisCacheWithClient(client *redis.Client, airportsTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:      client,
		airportsTTL: airportsTTL,
	}
}

// Client exposes the underlying connection for the rate limiter store.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetAirports returns (nil, nil) on a cache miss.
func (c *RedisCache) GetAirports(ctx context.Context, keyword string) ([]domain.Airport, error) {
	data, err := c.client.Get(ctx, airportsKey(keyword)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var airports []domain.Airport
	if err := json.Unmarshal(data, &airports); err != nil {
		return nil, err
	}
	return airports, nil
}

func (c *RedisCache) SetAirports(ctx context.Context, keyword string, airports []domain.Airport) error {
	payload, err := json.Marshal(airports)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, airportsKey(keyword), payload, c.airportsTTL).Err()
}

// ClaimSession marks a payment session as being processed. Only the first
// caller within ttl gets true.
func (c *RedisCache) ClaimSession(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, sessionClaimKey(sessionID), "claimed", ttl).Result()
}

func (c *RedisCache) ReleaseSession(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, sessionClaimKey(sessionID)).Err()
}

// SaveOrder remembers the flight order placed for a paid session so a
// redelivered webhook reuses it instead of ordering twice.
func (c *RedisCache) SaveOrder(ctx context.Context, sessionID string, order json.RawMessage, ttl time.Duration) error {
	return c.client.Set(ctx, sessionOrderKey(sessionID), []byte(order), ttl).Err()
}

// LoadOrder returns (nil, nil) when no order was saved for the session.
func (c *RedisCache) LoadOrder(ctx context.Context, sessionID string) (json.RawMessage, error) {
	data, err := c.client.Get(ctx, sessionOrderKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func airportsKey(keyword string) string {
	return "cache:airports:" + strings.ToUpper(strings.TrimSpace(keyword))
}

func sessionClaimKey(sessionID string) string {
	return "lock:payment-session:" + sessionID
}

func sessionOrderKey(sessionID string) string {
	return "order:payment-session:" + sessionID
}
