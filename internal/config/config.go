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

// Config holds all the configuration variables for the coupon-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	PaymentEventQueue    string `mapstructure:"PAYMENT_EVENT_QUEUE"`
	JWKSURL              string `mapstructure:"JWKS_URL"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`

	RunMigrations bool   `mapstructure:"RUN_MIGRATIONS"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	ExpirySweepSchedule      string `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`
	ExpiryReminderDays       int    `mapstructure:"EXPIRY_REMINDER_DAYS"`
	DonorCouponCap           int    `mapstructure:"DONOR_COUPON_CAP"`
	RedeemRateLimitPerMinute int    `mapstructure:"REDEEM_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("PAYMENT_EVENT_QUEUE", "coupon_service.payment_captured")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "sevasetu:rate_limit")
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("MIGRATIONS_DIR", "db/migrations")
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "0 2 * * *")
	viper.SetDefault("EXPIRY_REMINDER_DAYS", 3)
	viper.SetDefault("DONOR_COUPON_CAP", 200)
	viper.SetDefault("REDEEM_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "COUPON_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENT_QUEUE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "COUPON_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("MIGRATIONS_DIR")
	_ = viper.BindEnv("EXPIRY_SWEEP_SCHEDULE")
	_ = viper.BindEnv("EXPIRY_REMINDER_DAYS")
	_ = viper.BindEnv("DONOR_COUPON_CAP")
	_ = viper.BindEnv("REDEEM_RATE_LIMIT_PER_MINUTE")

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
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("COUPON_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "sevasetu:rate_limit"
	}
	config.ExpirySweepSchedule = strings.TrimSpace(config.ExpirySweepSchedule)
	if config.ExpirySweepSchedule == "" {
		config.ExpirySweepSchedule = "0 2 * * *"
	}

	if config.ExpiryReminderDays < 0 {
		log.Printf("level=warn component=config msg=\"negative reminder window configured; coercing to zero\" days=%d", config.ExpiryReminderDays)
		config.ExpiryReminderDays = 0
	}
	if config.DonorCouponCap < 0 {
		log.Printf("level=warn component=config msg=\"negative donor coupon cap configured; disabling cap\" cap=%d", config.DonorCouponCap)
		config.DonorCouponCap = 0
	}
	if config.RedeemRateLimitPerMinute <= 0 {
		config.RedeemRateLimitPerMinute = 60
	}

	return
}
