package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. MPDUCK_API_SECRET.
const EnvPrefix = "MPDUCK"

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.region", "us")
	v.SetDefault("api.timeout", DefaultAPITimeout)
	v.SetDefault("api.requests_per_hour", DefaultRequestsPerHour)
	v.SetDefault("api.burst", DefaultBurst)
	v.SetDefault("api.max_retries", DefaultMaxRetries)
	v.SetDefault("api.retry_base_delay", DefaultRetryBaseDelay)
	// Credentials have no defaults but must be known keys for env binding to work on Unmarshal.
	v.SetDefault("api.username", "")
	v.SetDefault("api.secret", "")
	v.SetDefault("api.project_id", "")
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.export_url", "")

	v.SetDefault("db.path", "./mpduck.duckdb")

	v.SetDefault("fetch.event_workers", DefaultEventWorkers)
	v.SetDefault("fetch.profile_workers", DefaultProfileWorkers)
	v.SetDefault("fetch.chunk_days", DefaultChunkDays)
	v.SetDefault("fetch.batch_size", DefaultBatchSize)
	v.SetDefault("fetch.page_warning_threshold", DefaultPageWarningThreshold)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
}

// NewViper returns a viper instance with defaults and environment binding.
// configPath may be empty, in which case only defaults and env apply.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", configPath, err)
		}
	}
	return v, nil
}

// Load reads configuration from an optional file plus environment and validates it.
func Load(configPath string) (*Config, error) {
	v, err := NewViper(configPath)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper unmarshals and validates a config from an already populated viper
// (the CLI binds its flags onto it first).
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and returns one readable error listing every violation.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return fmt.Errorf("config validation failed: %w", err)
		}
		msgs := make([]string, 0, len(ve))
		for _, e := range ve {
			msgs = append(msgs, formatValidationError(e))
		}
		return fmt.Errorf("config validation failed: %s", strings.Join(msgs, ", "))
	}
	return nil
}

// formatValidationError turns "Config.Fetch.ChunkDays" + "min" into "fetch.chunkdays (min=1)".
func formatValidationError(e validator.FieldError) string {
	field := e.Field()
	if ns := e.StructNamespace(); ns != "" {
		parts := strings.Split(ns, ".")
		if len(parts) >= 2 {
			field = strings.ToLower(strings.Join(parts[1:], "."))
		}
	}

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s (required)", field)
	case "min", "max", "oneof":
		return fmt.Sprintf("%s (%s=%s)", field, e.Tag(), e.Param())
	default:
		return fmt.Sprintf("%s (%s)", field, e.Tag())
	}
}
