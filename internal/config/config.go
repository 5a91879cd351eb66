/**
 * @description
 * This package handles the configuration management for the supporter-service.
 * It uses the Viper library to read settings from environment variables or an
 * optional .env file, applies defaults, and validates combinations that would
 * otherwise fail at request time.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Supported values for the enumerated settings.
const (
	PolicyLookup = "lookup"
	PolicyFlags  = "flags"

	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	AuthNone  = "none"
	AuthBasic = "basic"
	AuthJWT   = "jwt"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all the configuration variables for the supporter-service.
type Config struct {
	ServerPort                  string `mapstructure:"SERVER_PORT"`
	KofiVerificationToken       string `mapstructure:"KOFI_VERIFICATION_TOKEN"`
	ReconcilePolicy             string `mapstructure:"RECONCILE_POLICY"`
	StoreDriver                 string `mapstructure:"STORE_DRIVER"`
	StorePath                   string `mapstructure:"STORE_PATH"`
	DatabaseURL                 string `mapstructure:"DATABASE_URL"`
	DashboardAuth               string `mapstructure:"DASHBOARD_AUTH"`
	DashboardUsername           string `mapstructure:"DASHBOARD_USERNAME"`
	DashboardPassword           string `mapstructure:"DASHBOARD_PASSWORD"`
	DashboardPasswordHash       string `mapstructure:"DASHBOARD_PASSWORD_HASH"`
	DashboardJWTSecret          string `mapstructure:"DASHBOARD_JWT_SECRET"`
	DashboardRateLimitPerMinute int    `mapstructure:"DASHBOARD_RATE_LIMIT_PER_MINUTE"`
	AllowedOrigins              string `mapstructure:"ALLOWED_ORIGINS"`
	RedisURL                    string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix        string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                 string `mapstructure:"RABBITMQ_URL"`
	EventsExchange              string `mapstructure:"EVENTS_EXCHANGE"`
	TiersFile                   string `mapstructure:"TIERS_FILE"`
	SnapshotSchedule            string `mapstructure:"SNAPSHOT_SCHEDULE"`
	SnapshotDir                 string `mapstructure:"SNAPSHOT_DIR"`
	SnapshotRetain              int    `mapstructure:"SNAPSHOT_RETAIN"`
}

var boundKeys = []string{
	"SERVER_PORT",
	"KOFI_VERIFICATION_TOKEN",
	"RECONCILE_POLICY",
	"STORE_DRIVER",
	"STORE_PATH",
	"DATABASE_URL",
	"DASHBOARD_AUTH",
	"DASHBOARD_USERNAME",
	"DASHBOARD_PASSWORD",
	"DASHBOARD_PASSWORD_HASH",
	"DASHBOARD_JWT_SECRET",
	"DASHBOARD_RATE_LIMIT_PER_MINUTE",
	"ALLOWED_ORIGINS",
	"REDIS_URL",
	"REDIS_RATE_LIMIT_PREFIX",
	"RABBITMQ_URL",
	"EVENTS_EXCHANGE",
	"TIERS_FILE",
	"SNAPSHOT_SCHEDULE",
	"SNAPSHOT_DIR",
	"SNAPSHOT_RETAIN",
}

// LoadConfig reads configuration from environment variables, with an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "3000")
	viper.SetDefault("RECONCILE_POLICY", PolicyLookup)
	viper.SetDefault("STORE_DRIVER", StoreFile)
	viper.SetDefault("STORE_PATH", "subscribers.json")
	viper.SetDefault("DASHBOARD_AUTH", AuthNone)
	viper.SetDefault("DASHBOARD_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("ALLOWED_ORIGINS", "*")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "supporter:rate_limit")
	viper.SetDefault("EVENTS_EXCHANGE", "supporter_events")
	viper.SetDefault("SNAPSHOT_DIR", "snapshots")
	viper.SetDefault("SNAPSHOT_RETAIN", 7)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range boundKeys {
		_ = viper.BindEnv(key)
	}

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}

	// PORT is set by the hosting platform and takes precedence.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.normalize()
	if err = config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func (c *Config) normalize() {
	c.ServerPort = strings.TrimSpace(c.ServerPort)
	c.KofiVerificationToken = strings.TrimSpace(c.KofiVerificationToken)
	c.ReconcilePolicy = strings.ToLower(strings.TrimSpace(c.ReconcilePolicy))
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.DashboardAuth = strings.ToLower(strings.TrimSpace(c.DashboardAuth))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RabbitMQURL = strings.TrimSpace(c.RabbitMQURL)
	c.SnapshotSchedule = strings.TrimSpace(c.SnapshotSchedule)
	if c.ServerPort == "" {
		c.ServerPort = "3000"
	}
	if c.SnapshotRetain < 1 {
		c.SnapshotRetain = 1
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.KofiVerificationToken == "" {
		return fmt.Errorf("%w: KOFI_VERIFICATION_TOKEN is required", ErrInvalidConfig)
	}

	switch c.ReconcilePolicy {
	case PolicyLookup, PolicyFlags:
	default:
		return fmt.Errorf("%w: RECONCILE_POLICY must be %q or %q, got %q", ErrInvalidConfig, PolicyLookup, PolicyFlags, c.ReconcilePolicy)
	}

	switch c.StoreDriver {
	case StoreFile:
		if strings.TrimSpace(c.StorePath) == "" {
			return fmt.Errorf("%w: STORE_PATH is required for the file store", ErrInvalidConfig)
		}
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", ErrInvalidConfig, c.StoreDriver)
	}

	switch c.DashboardAuth {
	case AuthNone:
	case AuthBasic:
		if c.DashboardPassword == "" && c.DashboardPasswordHash == "" {
			return fmt.Errorf("%w: DASHBOARD_PASSWORD or DASHBOARD_PASSWORD_HASH is required for basic auth", ErrInvalidConfig)
		}
	case AuthJWT:
		if c.DashboardJWTSecret == "" {
			return fmt.Errorf("%w: DASHBOARD_JWT_SECRET is required for jwt auth", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown DASHBOARD_AUTH %q", ErrInvalidConfig, c.DashboardAuth)
	}

	if c.DashboardRateLimitPerMinute < 0 {
		return fmt.Errorf("%w: DASHBOARD_RATE_LIMIT_PER_MINUTE cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Origins splits ALLOWED_ORIGINS into a list.
func (c Config) Origins() []string {
	var out []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if o := strings.TrimSpace(origin); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}
