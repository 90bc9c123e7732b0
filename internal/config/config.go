package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL       string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	DocumentURLSecret string        `mapstructure:"DOCUMENT_URL_SECRET"`
	DocumentURLTTL    time.Duration `mapstructure:"DOCUMENT_URL_TTL"`

	PaymentFunctionsURL string        `mapstructure:"PAYMENT_FUNCTIONS_URL"`
	PaymentTimeout      time.Duration `mapstructure:"PAYMENT_TIMEOUT"`

	ReservationTTL           time.Duration `mapstructure:"RESERVATION_TTL"`
	RescheduleMinNotice      time.Duration `mapstructure:"RESCHEDULE_MIN_NOTICE"`
	ReservationSweepInterval time.Duration `mapstructure:"RESERVATION_SWEEP_INTERVAL"`
	SlotCapacity             int           `mapstructure:"SLOT_CAPACITY"`
	ConsultationFeeMinor     int64         `mapstructure:"CONSULTATION_FEE_MINOR"`
	DoctorPayoutMinor        int64         `mapstructure:"DOCTOR_PAYOUT_MINOR"`

	ShippingStandardMinor   int64 `mapstructure:"SHIPPING_STANDARD_MINOR"`
	ShippingExpeditedMinor  int64 `mapstructure:"SHIPPING_EXPEDITED_MINOR"`
	ShippingExpeditedFreeAt int   `mapstructure:"SHIPPING_EXPEDITED_FREE_AT"`
	AllowanceCap            int   `mapstructure:"ALLOWANCE_CAP"`
	MinPatientAge           int   `mapstructure:"MIN_PATIENT_AGE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"DOCUMENT_URL_SECRET", "DOCUMENT_URL_TTL",
	"PAYMENT_FUNCTIONS_URL", "PAYMENT_TIMEOUT",
	"RESERVATION_TTL", "RESCHEDULE_MIN_NOTICE", "RESERVATION_SWEEP_INTERVAL",
	"SLOT_CAPACITY", "CONSULTATION_FEE_MINOR", "DOCTOR_PAYOUT_MINOR",
	"SHIPPING_STANDARD_MINOR", "SHIPPING_EXPEDITED_MINOR", "SHIPPING_EXPEDITED_FREE_AT",
	"ALLOWANCE_CAP", "MIN_PATIENT_AGE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("DOCUMENT_URL_TTL", "5m")
	v.SetDefault("PAYMENT_TIMEOUT", "10s")
	v.SetDefault("RESERVATION_TTL", "10m")
	v.SetDefault("RESCHEDULE_MIN_NOTICE", "24h")
	v.SetDefault("RESERVATION_SWEEP_INTERVAL", "30s")
	v.SetDefault("SLOT_CAPACITY", 3)
	v.SetDefault("CONSULTATION_FEE_MINOR", 4900)
	v.SetDefault("DOCTOR_PAYOUT_MINOR", 3500)
	v.SetDefault("SHIPPING_STANDARD_MINOR", 995)
	v.SetDefault("SHIPPING_EXPEDITED_MINOR", 1495)
	v.SetDefault("SHIPPING_EXPEDITED_FREE_AT", 60)
	v.SetDefault("ALLOWANCE_CAP", 60)
	v.SetDefault("MIN_PATIENT_AGE", 18)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); every request without a token is treated as admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (ENV=%q)", c.Env)
	}
	if c.IsProduction() && len(c.DocumentURLSecret) < 32 {
		return fmt.Errorf("DOCUMENT_URL_SECRET must be at least 32 bytes in production, got %d", len(c.DocumentURLSecret))
	}

	durations := map[string]time.Duration{
		"DOCUMENT_URL_TTL":           c.DocumentURLTTL,
		"PAYMENT_TIMEOUT":            c.PaymentTimeout,
		"RESERVATION_TTL":            c.ReservationTTL,
		"RESCHEDULE_MIN_NOTICE":      c.RescheduleMinNotice,
		"RESERVATION_SWEEP_INTERVAL": c.ReservationSweepInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.SlotCapacity < 1 {
		return fmt.Errorf("SLOT_CAPACITY must be at least 1, got %d", c.SlotCapacity)
	}
	if c.AllowanceCap < 0 {
		return fmt.Errorf("ALLOWANCE_CAP must not be negative, got %d", c.AllowanceCap)
	}
	if c.ShippingStandardMinor < 0 || c.ShippingExpeditedMinor < 0 {
		return fmt.Errorf("shipping costs must not be negative")
	}
	return nil
}
