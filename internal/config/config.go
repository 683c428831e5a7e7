package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// Signaling mailbox tuning.
	SignalTTLSeconds int `mapstructure:"SIGNAL_TTL_SECONDS"`
	SignalMaxDepth   int `mapstructure:"SIGNAL_MAX_DEPTH"`

	// WebRTC connectivity servers handed to clients.
	STUNURLs     []string `mapstructure:"STUN_URLS"`
	TURNURL      string   `mapstructure:"TURN_URL"`
	TURNUsername string   `mapstructure:"TURN_USERNAME"`
	TURNPassword string   `mapstructure:"TURN_PASSWORD"`

	// Room token signing.
	TokenSigningKey string `mapstructure:"TOKEN_SIGNING_KEY"`
	TokenTTLMinutes int    `mapstructure:"TOKEN_TTL_MINUTES"`

	// External base URL embedded in join links sent to participants.
	JoinBaseURL string `mapstructure:"JOIN_BASE_URL"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
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
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("SIGNAL_TTL_SECONDS", 60)
	v.SetDefault("SIGNAL_MAX_DEPTH", 100)
	v.SetDefault("STUN_URLS", "stun:stun.l.google.com:19302")
	v.SetDefault("TOKEN_TTL_MINUTES", 180)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("SIGNAL_TTL_SECONDS")
	v.BindEnv("SIGNAL_MAX_DEPTH")
	v.BindEnv("STUN_URLS")
	v.BindEnv("TURN_URL")
	v.BindEnv("TURN_USERNAME")
	v.BindEnv("TURN_PASSWORD")
	v.BindEnv("TOKEN_SIGNING_KEY")
	v.BindEnv("TOKEN_TTL_MINUTES")
	v.BindEnv("JOIN_BASE_URL")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.STUNURLs == nil {
		if urls := v.GetString("STUN_URLS"); urls != "" {
			cfg.STUNURLs = strings.Split(urls, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
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

// SignalTTL returns the mailbox TTL as a duration.
func (c *Config) SignalTTL() time.Duration {
	return time.Duration(c.SignalTTLSeconds) * time.Second
}

// TokenTTL returns the room token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// Validate checks that the configuration is safe to run. Room tokens are
// minted on every join, so a production deployment must supply its own
// signing key. TLS, when enabled, needs both halves of the key pair.
func (c *Config) Validate() error {
	if c.IsProduction() && c.TokenSigningKey == "" {
		return fmt.Errorf("TOKEN_SIGNING_KEY is required in production")
	}
	if c.TokenSigningKey != "" && len(c.TokenSigningKey) < 32 {
		return fmt.Errorf("TOKEN_SIGNING_KEY must be at least 32 characters, got %d", len(c.TokenSigningKey))
	}
	if c.SignalTTLSeconds <= 0 {
		return fmt.Errorf("SIGNAL_TTL_SECONDS must be positive, got %d", c.SignalTTLSeconds)
	}
	if c.SignalMaxDepth <= 0 {
		return fmt.Errorf("SIGNAL_MAX_DEPTH must be positive, got %d", c.SignalMaxDepth)
	}
	if c.TURNURL != "" && (c.TURNUsername == "" || c.TURNPassword == "") {
		return fmt.Errorf("TURN_USERNAME and TURN_PASSWORD are required when TURN_URL is set")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
