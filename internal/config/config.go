package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	NewsAPIURL string `env:"NEWS_API_URL,default=https://newsdata.io/api/1"`
	NewsAPIKey string `env:"NEWS_API_KEY,required=true"`

	TwilioAPIURL       string `env:"TWILIO_API_URL,default=https://api.twilio.com"`
	TwilioAccountSID   string `env:"TWILIO_ACCOUNT_SID,required=true"`
	TwilioAuthToken    string `env:"TWILIO_AUTH_TOKEN,required=true"`
	WhatsAppFromNumber string `env:"WHATSAPP_FROM_NUMBER,required=true"`

	TierWebhookSecret string `env:"TIER_WEBHOOK_SECRET,required=true"`

	SchedulerTickSeconds       int `env:"SCHEDULER_TICK_SECONDS,default=60"`
	ClaimTimeoutSeconds        int `env:"CLAIM_TIMEOUT_SECONDS,default=300"`
	ProviderTimeoutSeconds     int `env:"PROVIDER_TIMEOUT_SECONDS,default=15"`
	MaxConcurrentDeliveries    int `env:"MAX_CONCURRENT_DELIVERIES,default=10"`
	SendRateLimitPerSec        int `env:"SEND_RATE_LIMIT_PER_SEC,default=20"`
	VerificationCodeTTLMinutes int `env:"VERIFICATION_CODE_TTL_MINUTES,default=10"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file, then the process environment. Variables
// already set in the environment win over the file.
func Load(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read dotenv file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	positive := map[string]int{
		"SCHEDULER_TICK_SECONDS":        c.SchedulerTickSeconds,
		"CLAIM_TIMEOUT_SECONDS":         c.ClaimTimeoutSeconds,
		"PROVIDER_TIMEOUT_SECONDS":      c.ProviderTimeoutSeconds,
		"MAX_CONCURRENT_DELIVERIES":     c.MaxConcurrentDeliveries,
		"SEND_RATE_LIMIT_PER_SEC":       c.SendRateLimitPerSec,
		"VERIFICATION_CODE_TTL_MINUTES": c.VerificationCodeTTLMinutes,
		"API_PORT":                      c.APIPort,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}

	// A single external call must not be able to outlive the schedule lease.
	if c.ProviderTimeoutSeconds >= c.ClaimTimeoutSeconds {
		return fmt.Errorf("PROVIDER_TIMEOUT_SECONDS (%d) must be below CLAIM_TIMEOUT_SECONDS (%d)",
			c.ProviderTimeoutSeconds, c.ClaimTimeoutSeconds)
	}
	if strings.TrimSpace(c.TierWebhookSecret) == "" {
		return fmt.Errorf("TIER_WEBHOOK_SECRET must not be blank")
	}
	return nil
}

func (c *Config) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickSeconds) * time.Second
}

func (c *Config) ClaimTimeout() time.Duration {
	return time.Duration(c.ClaimTimeoutSeconds) * time.Second
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c *Config) VerificationCodeTTL() time.Duration {
	return time.Duration(c.VerificationCodeTTLMinutes) * time.Minute
}

// BrokerEnabled reports whether tier events and run events go through RabbitMQ.
func (c *Config) BrokerEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}
