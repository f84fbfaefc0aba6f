package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type CacheConfig struct {
	Path           string        `mapstructure:"path"`
	GCInterval     time.Duration `mapstructure:"gc_interval" validate:"gt=0"`
	InstitutionTTL time.Duration `mapstructure:"institution_ttl" validate:"gte=0"`
}

type PreferencesConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type ResilienceConfig struct {
	PollIntervalSeconds      int `mapstructure:"poll_interval_seconds" validate:"gt=0"`
	UIUpdateThresholdSeconds int `mapstructure:"ui_update_threshold_seconds" validate:"gt=0"`
	SessionTTLMinutes        int `mapstructure:"session_ttl_minutes" validate:"gt=0"`
	MaxConcurrency           int `mapstructure:"max_concurrency" validate:"gt=0"`
}

func (c ResilienceConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c ResilienceConfig) UIUpdateThreshold() time.Duration {
	return time.Duration(c.UIUpdateThresholdSeconds) * time.Second
}

func (c ResilienceConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

type CleanupConfig struct {
	PollIntervalMinutes int `mapstructure:"poll_interval_minutes" validate:"gt=0"`
	// ConnectionMaxAgeMinutes of 0 disables connection cleanup.
	ConnectionMaxAgeMinutes int `mapstructure:"connection_max_age_minutes" validate:"gte=0"`
	MaxRetries              int `mapstructure:"max_retries" validate:"gt=0"`
	MaxConcurrency          int `mapstructure:"max_concurrency" validate:"gt=0"`
}

func (c CleanupConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}

func (c CleanupConfig) MaxAge() time.Duration {
	return time.Duration(c.ConnectionMaxAgeMinutes) * time.Minute
}

type PerformanceConfig struct {
	Endpoint string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type AggregatorConfig struct {
	// TestAdapter is the adapter that serves this aggregator's test banks.
	TestAdapter string `mapstructure:"test_adapter"`
}

type Config struct {
	ServerPort  string                      `mapstructure:"server_port" validate:"required,numeric"`
	LogLevel    string                      `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	JWTSecret   string                      `mapstructure:"jwt_secret"`
	DatabaseURL string                      `mapstructure:"database_url"`
	Cache       CacheConfig                 `mapstructure:"cache"`
	Preferences PreferencesConfig           `mapstructure:"preferences"`
	Resilience  ResilienceConfig            `mapstructure:"resilience"`
	Cleanup     CleanupConfig               `mapstructure:"cleanup"`
	Performance PerformanceConfig           `mapstructure:"performance"`
	Auth        AuthConfig                  `mapstructure:"auth"`
	Aggregators map[string]AggregatorConfig `mapstructure:"aggregators"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("database_url", "")
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.gc_interval", 5*time.Minute)
	v.SetDefault("cache.institution_ttl", time.Hour)
	v.SetDefault("preferences.path", "preferences.yaml")
	v.SetDefault("resilience.poll_interval_seconds", 5)
	v.SetDefault("resilience.ui_update_threshold_seconds", 7)
	v.SetDefault("resilience.session_ttl_minutes", 20)
	v.SetDefault("resilience.max_concurrency", 16)
	v.SetDefault("cleanup.poll_interval_minutes", 5)
	v.SetDefault("cleanup.connection_max_age_minutes", 0)
	v.SetDefault("cleanup.max_retries", 3)
	v.SetDefault("cleanup.max_concurrency", 8)
	v.SetDefault("performance.endpoint", "")
	v.SetDefault("performance.timeout", 5*time.Second)
	v.SetDefault("auth.enabled", false)
}

// Load reads the configuration from config.yaml and the environment, exiting
// the process when it is unusable.
func Load() *Config {
	cfg, err := Read("")
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	return cfg
}

// Read loads the configuration. An empty path searches ./config.yaml and
// ./config/config.yaml, and a missing file there is not an error.
// ROUTER_-prefixed environment variables override file values.
func Read(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("router")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Auth.Enabled && c.JWTSecret == "" {
		return errors.New("jwt_secret must be set when auth is enabled")
	}
	return nil
}

// TestAdapters maps each configured aggregator to its test adapter.
func (c *Config) TestAdapters() map[string]string {
	out := make(map[string]string)
	for name, agg := range c.Aggregators {
		if agg.TestAdapter != "" {
			out[name] = agg.TestAdapter
		}
	}
	return out
}
