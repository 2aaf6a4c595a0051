/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the wallet service.
// These values are loaded from environment variables. Monetary values are
// in minor units of the configured currency.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	CreditEventQueue          string `mapstructure:"CREDIT_EVENT_QUEUE"`
	PSPStatusQueue            string `mapstructure:"PSP_STATUS_QUEUE"`
	PSPAPIBaseURL             string `mapstructure:"PSP_API_BASE_URL"`
	PSPAPIKey                 string `mapstructure:"PSP_API_KEY"`
	PSPWebhookSecret          string `mapstructure:"PSP_WEBHOOK_SECRET"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	Currency                  string `mapstructure:"WALLET_CURRENCY"`
	DisbursementThreshold     int64  `mapstructure:"DISBURSEMENT_THRESHOLD"`
	MinPayoutAmount           int64  `mapstructure:"MIN_PAYOUT_AMOUNT"`
	MaxPayoutRetries          int    `mapstructure:"MAX_PAYOUT_RETRIES"`
	ProcessingTimeoutMinutes  int    `mapstructure:"PROCESSING_TIMEOUT_MINUTES"`
	DisbursementSchedule      string `mapstructure:"DISBURSEMENT_SCHEDULE"`
	ReconcileSchedule         string `mapstructure:"RECONCILE_SCHEDULE"`
	WebhookRateLimitPerMinute int    `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("CREDIT_EVENT_QUEUE", "wallet_service.credit_events")
	viper.SetDefault("PSP_STATUS_QUEUE", "wallet_service.psp_status_updates")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "coffeetrace:rate_limit")
	viper.SetDefault("WALLET_CURRENCY", "UGX")
	viper.SetDefault("DISBURSEMENT_THRESHOLD", 50000)
	viper.SetDefault("MAX_PAYOUT_RETRIES", 3)
	viper.SetDefault("PROCESSING_TIMEOUT_MINUTES", 30)
	viper.SetDefault("DISBURSEMENT_SCHEDULE", "0 9 * * *")
	viper.SetDefault("RECONCILE_SCHEDULE", "*/15 * * * *")
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 120)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "WALLET_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CREDIT_EVENT_QUEUE")
	_ = viper.BindEnv("PSP_STATUS_QUEUE")
	_ = viper.BindEnv("PSP_API_BASE_URL")
	_ = viper.BindEnv("PSP_API_KEY")
	_ = viper.BindEnv("PSP_WEBHOOK_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "WALLET_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("WALLET_CURRENCY")
	_ = viper.BindEnv("DISBURSEMENT_THRESHOLD")
	_ = viper.BindEnv("MIN_PAYOUT_AMOUNT")
	_ = viper.BindEnv("MAX_PAYOUT_RETRIES")
	_ = viper.BindEnv("PROCESSING_TIMEOUT_MINUTES")
	_ = viper.BindEnv("DISBURSEMENT_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("WALLET_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "coffeetrace:rate_limit"
	}
	config.Currency = strings.ToUpper(strings.TrimSpace(config.Currency))
	if config.Currency == "" {
		config.Currency = "UGX"
	}

	if config.DisbursementThreshold <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive disbursement threshold configured; using default\" threshold=%d", config.DisbursementThreshold)
		config.DisbursementThreshold = 50000
	}
	if config.MinPayoutAmount <= 0 {
		config.MinPayoutAmount = config.DisbursementThreshold
	}
	if config.MinPayoutAmount > config.DisbursementThreshold {
		log.Printf("level=warn component=config msg=\"minimum payout above threshold; clamping to threshold\" min=%d threshold=%d", config.MinPayoutAmount, config.DisbursementThreshold)
		config.MinPayoutAmount = config.DisbursementThreshold
	}
	if config.MaxPayoutRetries <= 0 {
		config.MaxPayoutRetries = 3
	}
	if config.ProcessingTimeoutMinutes <= 0 {
		config.ProcessingTimeoutMinutes = 30
	}
	if config.WebhookRateLimitPerMinute <= 0 {
		config.WebhookRateLimitPerMinute = 120
	}
	if strings.TrimSpace(config.DisbursementSchedule) == "" {
		config.DisbursementSchedule = "0 9 * * *"
	}
	if strings.TrimSpace(config.ReconcileSchedule) == "" {
		config.ReconcileSchedule = "*/15 * * * *"
	}

	return
}
