/**
 * @description
 * This package handles the configuration management for the dunning-service.
 * It uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/transfa/dunning-service/internal/domain"
)

// Config holds all the configuration variables for the dunning-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort        string `mapstructure:"SERVER_PORT"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	RedisURL          string `mapstructure:"REDIS_URL"`
	RedisLockPrefix   string `mapstructure:"REDIS_LOCK_PREFIX"`
	RabbitMQURL       string `mapstructure:"RABBITMQ_URL"`
	GatewayAPIBaseURL string `mapstructure:"GATEWAY_API_BASE_URL"`
	GatewayAPIKey     string `mapstructure:"GATEWAY_API_KEY"`
	ClerkJWKSURL      string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey    string `mapstructure:"INTERNAL_API_KEY"`

	// Global dunning policy defaults; subscriptions may override the first two.
	DunningMaxAttempts     int    `mapstructure:"DUNNING_MAX_ATTEMPTS"`
	DunningGracePeriodDays int    `mapstructure:"DUNNING_GRACE_PERIOD_DAYS"`
	DunningEscalationDays  string `mapstructure:"DUNNING_ESCALATION_DAYS"`

	DunningBatchSize     int   `mapstructure:"DUNNING_BATCH_SIZE"`
	SchedulerIntervalMin int   `mapstructure:"DUNNING_SCHEDULER_INTERVAL_MINUTES"`
	SchedulerEnabled     bool  `mapstructure:"DUNNING_SCHEDULER_ENABLED"`
	DryRunSimulatorSeed  int64 `mapstructure:"DUNNING_DRY_RUN_SEED"`
	RunLockTTLSeconds    int   `mapstructure:"DUNNING_RUN_LOCK_TTL_SECONDS"`

	// Parsed from DunningEscalationDays after unmarshal.
	EscalationDays []int `mapstructure:"-"`
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
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_LOCK_PREFIX", "transfa:dunning_lock")
	viper.SetDefault("DUNNING_MAX_ATTEMPTS", domain.DefaultMaxAttempts)
	viper.SetDefault("DUNNING_GRACE_PERIOD_DAYS", domain.DefaultGracePeriodDays)
	viper.SetDefault("DUNNING_ESCALATION_DAYS", "1,3,7,14,30")
	viper.SetDefault("DUNNING_BATCH_SIZE", 50)
	viper.SetDefault("DUNNING_SCHEDULER_INTERVAL_MINUTES", 60)
	viper.SetDefault("DUNNING_SCHEDULER_ENABLED", true)
	viper.SetDefault("DUNNING_DRY_RUN_SEED", 0)
	viper.SetDefault("DUNNING_RUN_LOCK_TTL_SECONDS", 300)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "DUNNING_REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCK_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("GATEWAY_API_BASE_URL")
	_ = viper.BindEnv("GATEWAY_API_KEY")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "DUNNING_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("DUNNING_MAX_ATTEMPTS")
	_ = viper.BindEnv("DUNNING_GRACE_PERIOD_DAYS")
	_ = viper.BindEnv("DUNNING_ESCALATION_DAYS")
	_ = viper.BindEnv("DUNNING_BATCH_SIZE")
	_ = viper.BindEnv("DUNNING_SCHEDULER_INTERVAL_MINUTES")
	_ = viper.BindEnv("DUNNING_SCHEDULER_ENABLED")
	_ = viper.BindEnv("DUNNING_DRY_RUN_SEED")
	_ = viper.BindEnv("DUNNING_RUN_LOCK_TTL_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
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
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("DUNNING_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisLockPrefix = strings.TrimSpace(config.RedisLockPrefix)
	if config.RedisLockPrefix == "" {
		config.RedisLockPrefix = "transfa:dunning_lock"
	}

	if config.DunningMaxAttempts <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive max attempts configured; using default\" value=%d", config.DunningMaxAttempts)
		config.DunningMaxAttempts = domain.DefaultMaxAttempts
	}
	if config.DunningGracePeriodDays < 0 {
		log.Printf("level=warn component=config msg=\"negative grace period configured; coercing to zero\" value=%d", config.DunningGracePeriodDays)
		config.DunningGracePeriodDays = 0
	}
	if config.DunningBatchSize <= 0 {
		config.DunningBatchSize = 50
	}
	if config.SchedulerIntervalMin <= 0 {
		config.SchedulerIntervalMin = 60
	}
	if config.RunLockTTLSeconds <= 0 {
		config.RunLockTTLSeconds = 300
	}

	// An empty or malformed escalation schedule leaves the engine with no way
	// to compute retry dates, so this is a hard startup failure.
	config.EscalationDays, err = ParseEscalationDays(config.DunningEscalationDays)
	if err != nil {
		return config, fmt.Errorf("invalid DUNNING_ESCALATION_DAYS: %w", err)
	}

	return
}

// ParseEscalationDays parses a comma-separated list of day offsets, e.g.
// "1,3,7,14,30". The list must be non-empty and every entry a positive integer.
func ParseEscalationDays(raw string) ([]int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	days := make([]int, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		day, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, fmt.Errorf("parsing escalation day %q: %w", trimmed, err)
		}
		if day <= 0 {
			return nil, fmt.Errorf("escalation day must be positive, got %d", day)
		}
		days = append(days, day)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("escalation schedule is empty")
	}
	return days, nil
}
