package config

import (
	"time"
)

// Regional API hosts. Export lives on the data host, everything else on the query host.
var RegionHosts = map[string]struct{ Query, Data string }{
	"us": {Query: "https://mixpanel.com", Data: "https://data.mixpanel.com"},
	"eu": {Query: "https://eu.mixpanel.com", Data: "https://data-eu.mixpanel.com"},
	"in": {Query: "https://in.mixpanel.com", Data: "https://data-in.mixpanel.com"},
}

const (
	// Default number of days covered by one event export chunk.
	DefaultChunkDays = 7
	// Default rows per storage commit.
	DefaultBatchSize = 1000
	// Default worker counts. Profiles use a sessioned API and stay conservative.
	DefaultEventWorkers   = 10
	DefaultProfileWorkers = 5
	// Profile fetches with at least this many pages log an advisory.
	DefaultPageWarningThreshold = 100

	DefaultRequestsPerHour = 60
	DefaultBurst           = 3
	DefaultMaxRetries      = 5
	DefaultRetryBaseDelay  = time.Second
	DefaultAPITimeout      = 10 * time.Minute
)

// Config holds application settings
type Config struct {
	API   APIConfig   `mapstructure:"api" validate:"required"`
	DB    DBConfig    `mapstructure:"db" validate:"required"`
	Fetch FetchConfig `mapstructure:"fetch" validate:"required"`
	Log   LogConfig   `mapstructure:"log" validate:"required"`
}

// APIConfig holds credentials and transport settings for the analytics API.
type APIConfig struct {
	Username  string `mapstructure:"username"`
	Secret    string `mapstructure:"secret"`
	ProjectID string `mapstructure:"project_id"`
	Region    string `mapstructure:"region" validate:"required,oneof=us eu in"`
	// BaseURL and ExportURL override the regional hosts (used by tests and proxies).
	BaseURL   string `mapstructure:"base_url" validate:"omitempty,url"`
	ExportURL string `mapstructure:"export_url" validate:"omitempty,url"`

	Timeout         time.Duration `mapstructure:"timeout" validate:"min=0"`
	RequestsPerHour int           `mapstructure:"requests_per_hour" validate:"min=1"`
	Burst           int           `mapstructure:"burst" validate:"min=1"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay" validate:"min=0"`
}

// DBConfig points at the DuckDB file.
type DBConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// FetchConfig holds defaults for fetch plans.
type FetchConfig struct {
	EventWorkers         int `mapstructure:"event_workers" validate:"min=1"`
	ProfileWorkers       int `mapstructure:"profile_workers" validate:"min=1"`
	ChunkDays            int `mapstructure:"chunk_days" validate:"min=1"`
	BatchSize            int `mapstructure:"batch_size" validate:"min=1"`
	PageWarningThreshold int `mapstructure:"page_warning_threshold" validate:"min=1"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" validate:"required"`
}

// QueryHost returns the host used for engage and other query endpoints.
func (c APIConfig) QueryHost() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return RegionHosts[c.Region].Query
}

// DataHost returns the host serving raw event export.
func (c APIConfig) DataHost() string {
	if c.ExportURL != "" {
		return c.ExportURL
	}
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return RegionHosts[c.Region].Data
}

// HasCredentials reports whether a service account is configured.
func (c APIConfig) HasCredentials() bool {
	return c.Username != "" && c.Secret != "" && c.ProjectID != ""
}
