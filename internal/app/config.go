package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (BAKESHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (BAKESHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	AdminEmail   string `default:"" usage:"Back-office alert recipient" flag:"admin-email"`
	Payment      PaymentConfig
	Mail         MailConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PaymentConfig holds the card-payment gateway merchant settings.
type PaymentConfig struct {
	Endpoint   string `default:"" usage:"Gateway checkout endpoint" flag:"payment-endpoint"`
	MerchantID string `default:"" usage:"Gateway merchant id" flag:"payment-merchant"`
	Secret     string `default:"" usage:"Gateway HMAC secret" flag:"payment-secret"`
	Currency   string `default:"EUR" usage:"Payment currency code"`
	SuccessURL string `default:"" usage:"Browser return URL after payment" flag:"payment-success-url"`
	CancelURL  string `default:"" usage:"Browser return URL after cancellation" flag:"payment-cancel-url"`
	Redirect   string `default:"/" usage:"Where the return page sends the browser" flag:"payment-redirect"`
}

// MailConfig holds the transactional mail provider settings. An empty URL
// disables e-mail entirely.
type MailConfig struct {
	URL    string `default:"" usage:"Transactional mail provider endpoint" flag:"mail-url"`
	APIKey string `default:"" usage:"Mail provider API key" flag:"mail-api-key"`
	From   string `default:"orders@bakeshop.example.com" usage:"From address" flag:"mail-from"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BAKESHOP",
		Files:     []string{"config.yaml", "/etc/bakeshop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set BAKESHOP_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL and PORT onto the BAKESHOP_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
