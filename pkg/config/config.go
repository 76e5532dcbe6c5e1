package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	FX           FXConfig
	Courier      CourierConfig
	Paystack     PaystackConfig
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

// Load reads the environment and reports every invalid section at once.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	err := multierr.Combine(
		cfg.DB.ensureDSN(),
		cfg.FX.validate(),
		cfg.Checkout.validate(),
		cfg.Outbox.validate(),
		cfg.Cron.validate(),
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env            string   `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port           string   `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel       string   `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack   bool     `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	AllowedOrigins []string `envconfig:"STOREFRONT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"STOREFRONT_DB_DSN"`

	Host     string `envconfig:"STOREFRONT_DB_HOST"`
	Port     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	User     string `envconfig:"STOREFRONT_DB_USER"`
	Password string `envconfig:"STOREFRONT_DB_PASSWORD"`
	Name     string `envconfig:"STOREFRONT_DB_NAME"`
	SSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
	SessionSSE  bool `envconfig:"STOREFRONT_FEATURE_SESSION_SSE" default:"true"`
}

// FXConfig points at the exchange-rate provider. An empty BaseURL disables
// conversion entirely and every checkout runs in "no conversion" mode. MaxAge
// bounds how old a session's snapshot may get before it is refetched; zero
// keeps snapshots for the life of the session.
type FXConfig struct {
	BaseURL  string        `envconfig:"STOREFRONT_FX_BASE_URL"`
	APIKey   string        `envconfig:"STOREFRONT_FX_API_KEY"`
	Timeout  time.Duration `envconfig:"STOREFRONT_FX_TIMEOUT" default:"5s"`
	CacheTTL time.Duration `envconfig:"STOREFRONT_FX_CACHE_TTL" default:"10m"`
	MaxAge   time.Duration `envconfig:"STOREFRONT_FX_MAX_AGE" default:"30m"`
}

func (f FXConfig) Enabled() bool {
	return strings.TrimSpace(f.BaseURL) != ""
}

func (f FXConfig) validate() error {
	if f.MaxAge < 0 {
		return fmt.Errorf("%s must not be negative", EnvFXMaxAge)
	}
	if f.MaxAge > 0 && f.MaxAge <= f.CacheTTL {
		return fmt.Errorf("%s %s must exceed the fx cache ttl %s", EnvFXMaxAge, f.MaxAge, f.CacheTTL)
	}
	return nil
}

type CourierConfig struct {
	BaseURL string        `envconfig:"STOREFRONT_COURIER_BASE_URL" default:"https://api.shipbubble.com/v1/shipping"`
	APIKey  string        `envconfig:"STOREFRONT_COURIER_API_KEY"`
	Timeout time.Duration `envconfig:"STOREFRONT_COURIER_TIMEOUT" default:"20s"`

	OriginName    string `envconfig:"STOREFRONT_COURIER_ORIGIN_NAME"`
	OriginEmail   string `envconfig:"STOREFRONT_COURIER_ORIGIN_EMAIL"`
	OriginPhone   string `envconfig:"STOREFRONT_COURIER_ORIGIN_PHONE"`
	OriginAddress string `envconfig:"STOREFRONT_COURIER_ORIGIN_ADDRESS"`
	OriginCity    string `envconfig:"STOREFRONT_COURIER_ORIGIN_CITY"`
	OriginState   string `envconfig:"STOREFRONT_COURIER_ORIGIN_STATE"`
	OriginCountry string `envconfig:"STOREFRONT_COURIER_ORIGIN_COUNTRY" default:"NG"`
	CategoryID    string `envconfig:"STOREFRONT_COURIER_CATEGORY_ID"`
}

type PaystackConfig struct {
	BaseURL   string        `envconfig:"STOREFRONT_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	SecretKey string        `envconfig:"STOREFRONT_PAYSTACK_SECRET_KEY"`
	PublicKey string        `envconfig:"STOREFRONT_PAYSTACK_PUBLIC_KEY"`
	Timeout   time.Duration `envconfig:"STOREFRONT_PAYSTACK_TIMEOUT" default:"10s"`
}

type CheckoutConfig struct {
	SizeModRate                string        `envconfig:"STOREFRONT_CHECKOUT_SIZE_MOD_RATE" default:"0.05"`
	BlockApproximateSettlement bool          `envconfig:"STOREFRONT_CHECKOUT_BLOCK_APPROXIMATE_SETTLEMENT" default:"false"`
	SessionTTL                 time.Duration `envconfig:"STOREFRONT_CHECKOUT_SESSION_TTL" default:"24h"`
	OrderLockTTL               time.Duration `envconfig:"STOREFRONT_CHECKOUT_ORDER_LOCK_TTL" default:"2m"`
	WebhookIdempotencyTTL      time.Duration `envconfig:"STOREFRONT_CHECKOUT_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

// SurchargeRate returns the configured size-modification surcharge as a decimal fraction.
func (c CheckoutConfig) SurchargeRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.SizeModRate))
	if err != nil {
		return decimal.NewFromFloat(0.05)
	}
	return rate
}

func (c CheckoutConfig) validate() error {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.SizeModRate))
	if err != nil {
		return fmt.Errorf("%s must be a decimal: %w", EnvSizeModRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be in [0, 1)", EnvSizeModRate)
	}
	return nil
}

// RateLimitConfig throttles payment-intent creation per client IP and per email.
type RateLimitConfig struct {
	PaymentWindow     time.Duration `envconfig:"STOREFRONT_RATE_LIMIT_PAYMENT_WINDOW" default:"10m"`
	PaymentIPLimit    int           `envconfig:"STOREFRONT_RATE_LIMIT_PAYMENT_IP" default:"30"`
	PaymentEmailLimit int           `envconfig:"STOREFRONT_RATE_LIMIT_PAYMENT_EMAIL" default:"10"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"STOREFRONT_PUBSUB_ORDERS_TOPIC" default:"storefront-order-events"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	MetricsAddr    string `envconfig:"STOREFRONT_OUTBOX_METRICS_ADDR" default:":9091"`
}

// CronConfig drives the sweeper that recovers payments and prunes old rows.
type CronConfig struct {
	Interval        time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"5m"`
	RecoveryAfter   time.Duration `envconfig:"STOREFRONT_CRON_RECOVERY_AFTER" default:"10m"`
	InFlightExpiry  time.Duration `envconfig:"STOREFRONT_CRON_IN_FLIGHT_EXPIRY" default:"24h"`
	OutboxRetention time.Duration `envconfig:"STOREFRONT_CRON_OUTBOX_RETENTION" default:"720h"`
	BatchSize       int           `envconfig:"STOREFRONT_CRON_BATCH_SIZE" default:"100"`
	MetricsAddr     string        `envconfig:"STOREFRONT_CRON_METRICS_ADDR" default:":9092"`
}

// ensureDSN assembles a postgres URL from the individual parts when no DSN
// is given.
func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	parts := []struct{ env, value string }{
		{EnvDBHost, db.Host},
		{EnvDBUser, db.User},
		{EnvDBName, db.Name},
	}
	var missing []string
	for _, part := range parts {
		if strings.TrimSpace(part.value) == "" {
			missing = append(missing, part.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s is unset and so are %s", EnvDBDSN, strings.Join(missing, ", "))
	}

	user := url.User(db.User)
	if db.Password != "" {
		user = url.UserPassword(db.User, db.Password)
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": []string{db.SSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}

func (o OutboxConfig) validate() error {
	if o.BatchSize <= 0 || o.MaxAttempts <= 0 || o.PollIntervalMS <= 0 {
		return fmt.Errorf("outbox batch size, max attempts and poll interval must be positive")
	}
	return nil
}

func (c CronConfig) validate() error {
	if c.Interval <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("cron interval and batch size must be positive")
	}
	if c.InFlightExpiry <= c.RecoveryAfter {
		return fmt.Errorf("cron in-flight expiry %s must exceed recovery delay %s", c.InFlightExpiry, c.RecoveryAfter)
	}
	return nil
}
