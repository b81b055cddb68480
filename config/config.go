package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Ops      OpsConfig      `yaml:"ops"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	GDS      GDSConfig      `yaml:"gds"`
	Search   SearchConfig   `yaml:"search"`
	Payments PaymentsConfig `yaml:"payments"`
	Booking  BookingConfig  `yaml:"booking"`
	Worker   WorkerConfig   `yaml:"worker"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimit      string   `yaml:"rate_limit"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

type OpsConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Name           string `yaml:"name"`
	SSLMode        string `yaml:"ssl_mode"`
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// DSN prefers an explicit URL (DATABASE_URL) over the discrete fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	BookingEventsTopic string   `yaml:"booking_events_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type GDSConfig struct {
	BaseURL            string `yaml:"base_url"`
	ClientID           string `yaml:"client_id"`
	ClientSecret       string `yaml:"client_secret"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	TokenMarginSeconds int    `yaml:"token_margin_seconds"`
	TicketingDelay     string `yaml:"ticketing_delay"`
}

func (g GDSConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

func (g GDSConfig) TokenMargin() time.Duration {
	return time.Duration(g.TokenMarginSeconds) * time.Second
}

type SearchConfig struct {
	DefaultCurrency string `yaml:"default_currency"`
	DefaultMax      int    `yaml:"default_max"`
}

type PaymentsConfig struct {
	DefaultGateway string         `yaml:"default_gateway"`
	Stripe         StripeConfig   `yaml:"stripe"`
	Razorpay       RazorpayConfig `yaml:"razorpay"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type RazorpayConfig struct {
	KeyID         string `yaml:"key_id"`
	KeySecret     string `yaml:"key_secret"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type BookingConfig struct {
	PendingTTLMinutes       int `yaml:"pending_ttl_minutes"`
	AirportsCacheTTLMinutes int `yaml:"airports_cache_ttl_minutes"`
	WebhookClaimTTLMinutes  int `yaml:"webhook_claim_ttl_minutes"`
}

type WorkerConfig struct {
	SweepMinutes int `yaml:"sweep_minutes"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LoadConfig reads the optional .env file, the YAML config at path and then
// applies environment overrides for secrets.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.GDS.BaseURL, "GDS_BASE_URL")
	setString(&c.GDS.ClientID, "GDS_CLIENT_ID")
	setString(&c.GDS.ClientSecret, "GDS_CLIENT_SECRET")
	setString(&c.Payments.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&c.Payments.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&c.Payments.Razorpay.KeyID, "RAZORPAY_KEY_ID")
	setString(&c.Payments.Razorpay.KeySecret, "RAZORPAY_KEY_SECRET")
	setString(&c.Payments.Razorpay.WebhookSecret, "RAZORPAY_WEBHOOK_SECRET")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			c.HTTP.Address = ":" + v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.RateLimit == "" {
		c.HTTP.RateLimit = "60-1m"
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = ":9090"
	}
	if c.Ops.Address == "" {
		c.Ops.Address = ":8081"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = 2
	}
	if c.GDS.TimeoutSeconds == 0 {
		c.GDS.TimeoutSeconds = 30
	}
	if c.GDS.TokenMarginSeconds < 60 {
		c.GDS.TokenMarginSeconds = 60
	}
	if c.GDS.TicketingDelay == "" {
		c.GDS.TicketingDelay = "6D"
	}
	if c.Search.DefaultCurrency == "" {
		c.Search.DefaultCurrency = "USD"
	}
	if c.Search.DefaultMax == 0 {
		c.Search.DefaultMax = 10
	}
	if c.Payments.DefaultGateway == "" {
		c.Payments.DefaultGateway = "stripe"
	}
	if c.Booking.PendingTTLMinutes == 0 {
		c.Booking.PendingTTLMinutes = 24 * 60
	}
	if c.Booking.AirportsCacheTTLMinutes == 0 {
		c.Booking.AirportsCacheTTLMinutes = 24 * 60
	}
	if c.Booking.WebhookClaimTTLMinutes == 0 {
		c.Booking.WebhookClaimTTLMinutes = 10
	}
	if c.Worker.SweepMinutes == 0 {
		c.Worker.SweepMinutes = 15
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.GDS.BaseURL == "" {
		return errors.New("gds.base_url is required")
	}
	if c.GDS.ClientID == "" || c.GDS.ClientSecret == "" {
		return errors.New("gds client credentials are required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
