package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is read by viper from an optional app.env file and the environment.
// Environment variables win over the file.
type Config struct {
	AppName   string `mapstructure:"APP_NAME"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"` // "json" or "console"

	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
	PublicBaseURL   string        `mapstructure:"PUBLIC_BASE_URL"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	// DownloadTimeout bounds a proxied file download, which runs outside
	// RequestTimeout.
	DownloadTimeout time.Duration `mapstructure:"DOWNLOAD_TIMEOUT"`

	// Catalog (SQLite)
	CatalogDBPath string `mapstructure:"CATALOG_DB_PATH"`

	// Carts and discount codes (MongoDB)
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	// Cart cache (Redis)
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	CartCacheTTL  time.Duration `mapstructure:"CART_CACHE_TTL"`

	// Purchase ledger. "postgres" or "memory".
	LedgerDriver string `mapstructure:"LEDGER_DRIVER"`
	DBHost       string `mapstructure:"DB_HOST"`
	DBPort       string `mapstructure:"DB_PORT"`
	DBUser       string `mapstructure:"DB_USER"`
	DBPassword   string `mapstructure:"DB_PASSWORD"`
	DBName       string `mapstructure:"DB_NAME"`
	DBSSLMode    string `mapstructure:"DB_SSL_MODE"`

	// Purchase events (Kafka). Empty brokers disables both pollers.
	KafkaBrokers       string        `mapstructure:"KAFKA_BROKERS"`
	PurchaseTopic      string        `mapstructure:"PURCHASE_TOPIC"`
	OutboxPollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`

	// Payment gateway (Stripe)
	StripeSecretKey     string        `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeBackendURL    string        `mapstructure:"STRIPE_BACKEND_URL"`
	Currency            string        `mapstructure:"CURRENCY"`
	CheckoutTimeout     time.Duration `mapstructure:"CHECKOUT_TIMEOUT"`
	RedirectHosts       string        `mapstructure:"REDIRECT_HOSTS"`

	// Identity provider (HS256 JWT)
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`

	PaidMaxQuantity int `mapstructure:"PAID_MAX_QUANTITY"`
	// DiscountCodes seeds the discount store, e.g. "HALF:50,SUMMER:15".
	DiscountCodes string `mapstructure:"DISCOUNT_CODES"`
}

// Load reads app.env from path (if present) and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err == nil {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("using config file")
	} else {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		log.Info().Msg("no config file found, using environment variables and defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "storefront")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("SHUTDOWN_TIMEOUT", 15*time.Second)
	v.SetDefault("DOWNLOAD_TIMEOUT", 10*time.Minute)

	v.SetDefault("CATALOG_DB_PATH", "./catalog.db")

	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "storefront")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("CART_CACHE_TTL", 15*time.Minute)

	v.SetDefault("LEDGER_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "storefront")
	v.SetDefault("DB_SSL_MODE", "disable")

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("PURCHASE_TOPIC", "purchase-events")
	v.SetDefault("OUTBOX_POLL_INTERVAL", 2*time.Second)

	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("STRIPE_BACKEND_URL", "")
	v.SetDefault("CURRENCY", "usd")
	v.SetDefault("CHECKOUT_TIMEOUT", 10*time.Second)
	v.SetDefault("REDIRECT_HOSTS", "")

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("PAID_MAX_QUANTITY", 2)
	v.SetDefault("DISCOUNT_CODES", "")
}

func (c Config) Validate() error {
	var errs []error
	if c.StripeSecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.LedgerDriver != "postgres" && c.LedgerDriver != "memory" {
		errs = append(errs, fmt.Errorf("LEDGER_DRIVER must be postgres or memory, got %q", c.LedgerDriver))
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) url, got %q", c.PublicBaseURL))
	}
	if c.PaidMaxQuantity < 1 {
		errs = append(errs, errors.New("PAID_MAX_QUANTITY must be at least 1"))
	}
	if c.CheckoutTimeout <= 0 {
		errs = append(errs, errors.New("CHECKOUT_TIMEOUT must be positive"))
	}
	if _, err := c.SeedDiscountCodes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SuccessURL is where the gateway sends the buyer after paying. The gateway
// substitutes the session id placeholder.
func (c Config) SuccessURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
}

func (c Config) CancelURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/cart"
}

func (c Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// AllowedRedirectHosts always includes the public base URL host.
func (c Config) AllowedRedirectHosts() []string {
	hosts := splitList(c.RedirectHosts)
	if len(hosts) == 0 {
		return nil
	}
	if u, err := url.Parse(c.PublicBaseURL); err == nil && u.Hostname() != "" {
		hosts = append(hosts, u.Hostname())
	}
	return hosts
}

func (c Config) SeedDiscountCodes() ([]domain.DiscountCode, error) {
	var out []domain.DiscountCode
	for _, entry := range splitList(c.DiscountCodes) {
		code, pct, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("DISCOUNT_CODES entry %q must be CODE:PERCENT", entry)
		}
		n, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil {
			return nil, fmt.Errorf("DISCOUNT_CODES entry %q: %w", entry, err)
		}
		dc := domain.DiscountCode{Code: domain.NormalizeCode(code), Percentage: n, Active: true}
		if err := dc.Validate(); err != nil {
			return nil, fmt.Errorf("DISCOUNT_CODES entry %q: %w", entry, err)
		}
		out = append(out, dc)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
