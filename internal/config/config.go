/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
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

// Config holds all the configuration variables for the portal-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisActiveSfdPrefix    string `mapstructure:"REDIS_ACTIVE_SFD_PREFIX"`
	RedisScanLimitPrefix    string `mapstructure:"REDIS_SCAN_LIMIT_PREFIX"`
	ScanRateLimitPerMinute  int    `mapstructure:"SCAN_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	MomoStatusQueue         string `mapstructure:"MOMO_STATUS_QUEUE"`
	SfdFunctionsBaseURL     string `mapstructure:"SFD_FUNCTIONS_BASE_URL"`
	SfdFunctionsAPIKey      string `mapstructure:"SFD_FUNCTIONS_API_KEY"`
	AuthJWKSURL             string `mapstructure:"AUTH_JWKS_URL"`
	MomoConfirmationWindow  int    `mapstructure:"MOMO_CONFIRMATION_WINDOW_MINUTES"`
	BalanceSyncSchedule     string `mapstructure:"BALANCE_SYNC_SCHEDULE"`
	IntentExpirySchedule    string `mapstructure:"INTENT_EXPIRY_SCHEDULE"`
	SyncStaleAfterMinutes   int    `mapstructure:"SYNC_STALE_AFTER_MINUTES"`
	SyncBatchSize           int    `mapstructure:"SYNC_BATCH_SIZE"`
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
	viper.SetDefault("REDIS_ACTIVE_SFD_PREFIX", "sfd:active_institution")
	viper.SetDefault("REDIS_SCAN_LIMIT_PREFIX", "sfd:scan_limit")
	viper.SetDefault("SCAN_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("MOMO_STATUS_QUEUE", "portal_service.momo_updates")
	viper.SetDefault("MOMO_CONFIRMATION_WINDOW_MINUTES", 5)
	viper.SetDefault("BALANCE_SYNC_SCHEDULE", "@every 15m")
	viper.SetDefault("INTENT_EXPIRY_SCHEDULE", "@every 1m")
	viper.SetDefault("SYNC_STALE_AFTER_MINUTES", 60)
	viper.SetDefault("SYNC_BATCH_SIZE", 200)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_ACTIVE_SFD_PREFIX")
	_ = viper.BindEnv("REDIS_SCAN_LIMIT_PREFIX")
	_ = viper.BindEnv("SCAN_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("MOMO_STATUS_QUEUE")
	_ = viper.BindEnv("SFD_FUNCTIONS_BASE_URL")
	_ = viper.BindEnv("SFD_FUNCTIONS_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("MOMO_CONFIRMATION_WINDOW_MINUTES")
	_ = viper.BindEnv("BALANCE_SYNC_SCHEDULE")
	_ = viper.BindEnv("INTENT_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("SYNC_STALE_AFTER_MINUTES")
	_ = viper.BindEnv("SYNC_BATCH_SIZE")

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
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	if config.MomoConfirmationWindow <= 0 {
		log.Printf("level=warn component=config msg=\"invalid confirmation window; using default\" value=%d", config.MomoConfirmationWindow)
		config.MomoConfirmationWindow = 5
	}
	if config.SyncStaleAfterMinutes <= 0 {
		config.SyncStaleAfterMinutes = 60
	}
	if config.SyncBatchSize <= 0 {
		config.SyncBatchSize = 200
	}

	return
}
