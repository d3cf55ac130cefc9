/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the disbursement-service.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix         string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	EventsExchange         string `mapstructure:"EVENTS_EXCHANGE"`
	HubCallbackQueue       string `mapstructure:"HUB_CALLBACK_QUEUE"`
	HubBaseURL             string `mapstructure:"HUB_BASE_URL"`
	DFSPID                 string `mapstructure:"DFSP_ID"`
	HubSigningSecret       string `mapstructure:"HUB_SIGNING_SECRET"`
	SettlementCurrency     string `mapstructure:"SETTLEMENT_CURRENCY"`
	LookupTimeoutSeconds   int    `mapstructure:"LOOKUP_TIMEOUT_SECONDS"`
	QuoteTimeoutSeconds    int    `mapstructure:"QUOTE_TIMEOUT_SECONDS"`
	TransferTimeoutSeconds int    `mapstructure:"TRANSFER_TIMEOUT_SECONDS"`
	SweepSchedule          string `mapstructure:"SWEEP_SCHEDULE"`
	ReconcileSchedule      string `mapstructure:"RECONCILE_SCHEDULE"`
	ArchiveSchedule        string `mapstructure:"ARCHIVE_SCHEDULE"`
	ArchiveRetentionHours  int    `mapstructure:"ARCHIVE_RETENTION_HOURS"`
	UploadTicketTTLMinutes int    `mapstructure:"UPLOAD_TICKET_TTL_MINUTES"`
	MaxConcurrentStarts    int    `mapstructure:"MAX_CONCURRENT_STARTS"`
	InternalAPIKey         string `mapstructure:"INTERNAL_API_KEY"`
	SubmissionRateLimit    int    `mapstructure:"SUBMISSION_RATE_LIMIT"`
	SubmissionRateWindowS  int    `mapstructure:"SUBMISSION_RATE_WINDOW_SECONDS"`
	PayerFundsCheck        bool   `mapstructure:"PAYER_FUNDS_CHECK"`
	MockHubPort            string `mapstructure:"MOCK_HUB_PORT"`
	MockHubCallbackURL     string `mapstructure:"MOCK_HUB_CALLBACK_URL"`
	MockHubDelayMS         int    `mapstructure:"MOCK_HUB_DELAY_MS"`
	MockHubID              string `mapstructure:"MOCK_HUB_ID"`
}

// LoadConfig reads configuration from environment variables and from an optional
// .env file in the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_KEY_PREFIX", "disbursement:upload")
	viper.SetDefault("EVENTS_EXCHANGE", "disbursement.events")
	viper.SetDefault("HUB_BASE_URL", "http://localhost:4040")
	viper.SetDefault("DFSP_ID", "pension-fund")
	viper.SetDefault("SETTLEMENT_CURRENCY", "XOF")
	viper.SetDefault("LOOKUP_TIMEOUT_SECONDS", 30)
	viper.SetDefault("QUOTE_TIMEOUT_SECONDS", 30)
	viper.SetDefault("TRANSFER_TIMEOUT_SECONDS", 30)
	viper.SetDefault("SWEEP_SCHEDULE", "@every 5s")
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 1m")
	viper.SetDefault("ARCHIVE_SCHEDULE", "@every 1h")
	viper.SetDefault("ARCHIVE_RETENTION_HOURS", 24)
	viper.SetDefault("UPLOAD_TICKET_TTL_MINUTES", 30)
	viper.SetDefault("MAX_CONCURRENT_STARTS", 16)
	viper.SetDefault("SUBMISSION_RATE_LIMIT", 0)
	viper.SetDefault("SUBMISSION_RATE_WINDOW_SECONDS", 60)
	viper.SetDefault("PAYER_FUNDS_CHECK", true)
	viper.SetDefault("MOCK_HUB_PORT", "4040")
	viper.SetDefault("MOCK_HUB_CALLBACK_URL", "http://localhost:8080")
	viper.SetDefault("MOCK_HUB_DELAY_MS", 100)
	viper.SetDefault("MOCK_HUB_ID", "mock-hub")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "DISBURSEMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("HUB_CALLBACK_QUEUE")
	_ = viper.BindEnv("HUB_BASE_URL")
	_ = viper.BindEnv("DFSP_ID")
	_ = viper.BindEnv("HUB_SIGNING_SECRET")
	_ = viper.BindEnv("SETTLEMENT_CURRENCY")
	_ = viper.BindEnv("LOOKUP_TIMEOUT_SECONDS")
	_ = viper.BindEnv("QUOTE_TIMEOUT_SECONDS")
	_ = viper.BindEnv("TRANSFER_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("ARCHIVE_SCHEDULE")
	_ = viper.BindEnv("ARCHIVE_RETENTION_HOURS")
	_ = viper.BindEnv("UPLOAD_TICKET_TTL_MINUTES")
	_ = viper.BindEnv("MAX_CONCURRENT_STARTS")
	_ = viper.BindEnv("SUBMISSION_RATE_LIMIT")
	_ = viper.BindEnv("SUBMISSION_RATE_WINDOW_SECONDS")
	_ = viper.BindEnv("PAYER_FUNDS_CHECK")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "DISBURSEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("MOCK_HUB_PORT")
	_ = viper.BindEnv("MOCK_HUB_CALLBACK_URL")
	_ = viper.BindEnv("MOCK_HUB_DELAY_MS")
	_ = viper.BindEnv("MOCK_HUB_ID")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.HubBaseURL = strings.TrimRight(strings.TrimSpace(config.HubBaseURL), "/")
	config.MockHubCallbackURL = strings.TrimRight(strings.TrimSpace(config.MockHubCallbackURL), "/")
	config.SettlementCurrency = strings.ToUpper(strings.TrimSpace(config.SettlementCurrency))
	if config.SettlementCurrency == "" {
		config.SettlementCurrency = "XOF"
	}
	if strings.TrimSpace(config.RedisKeyPrefix) == "" {
		config.RedisKeyPrefix = "disbursement:upload"
	}
	if config.MaxConcurrentStarts <= 0 {
		log.Printf("level=warn component=config msg=\"invalid MAX_CONCURRENT_STARTS; using default\" value=%d", config.MaxConcurrentStarts)
		config.MaxConcurrentStarts = 16
	}
	config.LookupTimeoutSeconds = positiveOr(config.LookupTimeoutSeconds, 30, "LOOKUP_TIMEOUT_SECONDS")
	config.QuoteTimeoutSeconds = positiveOr(config.QuoteTimeoutSeconds, 30, "QUOTE_TIMEOUT_SECONDS")
	config.TransferTimeoutSeconds = positiveOr(config.TransferTimeoutSeconds, 30, "TRANSFER_TIMEOUT_SECONDS")
	config.UploadTicketTTLMinutes = positiveOr(config.UploadTicketTTLMinutes, 30, "UPLOAD_TICKET_TTL_MINUTES")
	if config.SubmissionRateLimit < 0 {
		config.SubmissionRateLimit = 0
	}
	config.SubmissionRateWindowS = positiveOr(config.SubmissionRateWindowS, 60, "SUBMISSION_RATE_WINDOW_SECONDS")
	if config.MockHubDelayMS < 0 {
		config.MockHubDelayMS = 0
	}

	return
}

func positiveOr(value, fallback int, key string) int {
	if value > 0 {
		return value
	}
	log.Printf("level=warn component=config msg=\"non-positive value; using default\" key=%s value=%d default=%d", key, value, fallback)
	return fallback
}

// LookupTimeout returns the party lookup deadline.
func (c Config) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutSeconds) * time.Second
}

func (c Config) QuoteTimeout() time.Duration {
	return time.Duration(c.QuoteTimeoutSeconds) * time.Second
}

func (c Config) TransferTimeout() time.Duration {
	return time.Duration(c.TransferTimeoutSeconds) * time.Second
}

func (c Config) UploadTicketTTL() time.Duration {
	return time.Duration(c.UploadTicketTTLMinutes) * time.Minute
}

func (c Config) ArchiveRetention() time.Duration {
	return time.Duration(c.ArchiveRetentionHours) * time.Hour
}

// SubmissionRateWindow is the fixed window the submission limit applies to.
func (c Config) SubmissionRateWindow() time.Duration {
	return time.Duration(c.SubmissionRateWindowS) * time.Second
}

func (c Config) MockHubDelay() time.Duration {
	return time.Duration(c.MockHubDelayMS) * time.Millisecond
}
