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

// Config holds all the configuration variables for the payout-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort             string  `mapstructure:"SERVER_PORT"`
	DatabaseURL            string  `mapstructure:"DATABASE_URL"`
	StripeSecretKey        string  `mapstructure:"STRIPE_SECRET_KEY"`
	StripeAPIBaseURL       string  `mapstructure:"STRIPE_API_BASE_URL"`
	TrackingLinkBaseURL    string  `mapstructure:"TRACKING_LINK_BASE_URL"`
	PayoutCurrency         string  `mapstructure:"PAYOUT_CURRENCY"`
	PlatformFeePercent     float64 `mapstructure:"PLATFORM_FEE_PERCENT"`
	RabbitMQURL            string  `mapstructure:"RABBITMQ_URL"`
	RedisURL               string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix   string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	SaleRateLimitPerMinute int     `mapstructure:"SALE_RATE_LIMIT_PER_MINUTE"`
	PayoutRetrySchedule    string  `mapstructure:"PAYOUT_RETRY_SCHEDULE"`
	PayoutRetryBatchSize   int     `mapstructure:"PAYOUT_RETRY_BATCH_SIZE"`
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
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("TRACKING_LINK_BASE_URL", "https://legitreach.app/r")
	viper.SetDefault("PAYOUT_CURRENCY", "usd")
	viper.SetDefault("PLATFORM_FEE_PERCENT", 15.0)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "legitreach:rate_limit")
	viper.SetDefault("SALE_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("PAYOUT_RETRY_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("PAYOUT_RETRY_BATCH_SIZE", 20)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("TRACKING_LINK_BASE_URL")
	_ = viper.BindEnv("PAYOUT_CURRENCY")
	_ = viper.BindEnv("PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("SALE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PAYOUT_RETRY_SCHEDULE")
	_ = viper.BindEnv("PAYOUT_RETRY_BATCH_SIZE")

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

	// Hosted platforms commonly inject the listen port as PORT.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StripeAPIBaseURL = strings.TrimRight(strings.TrimSpace(config.StripeAPIBaseURL), "/")
	config.TrackingLinkBaseURL = strings.TrimRight(strings.TrimSpace(config.TrackingLinkBaseURL), "/")
	config.PayoutCurrency = strings.ToLower(strings.TrimSpace(config.PayoutCurrency))
	if config.PayoutCurrency == "" {
		config.PayoutCurrency = "usd"
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "legitreach:rate_limit"
	}

	if config.PlatformFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee percent configured; coercing to zero\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 0
	}
	if config.PlatformFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"platform fee percent too high; capping at 100\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 100
	}

	if config.SaleRateLimitPerMinute < 0 {
		config.SaleRateLimitPerMinute = 0
	}
	if strings.TrimSpace(config.PayoutRetrySchedule) == "" {
		config.PayoutRetrySchedule = "*/5 * * * *"
	}
	if config.PayoutRetryBatchSize <= 0 {
		config.PayoutRetryBatchSize = 20
	}

	return
}
