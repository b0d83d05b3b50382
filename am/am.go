package am

import "time"

// Config represents the mintdoi configuration
type Config struct {
	Repository  RepositoryConfig  `mapstructure:"repository" toml:"repository" json:"repository" yaml:"repository"`
	DataCite    DataCiteConfig    `mapstructure:"datacite" toml:"datacite" json:"datacite" yaml:"datacite"`
	Affiliation AffiliationConfig `mapstructure:"affiliation" toml:"affiliation" json:"affiliation" yaml:"affiliation"`
	Batch       BatchConfig       `mapstructure:"batch" toml:"batch" json:"batch" yaml:"batch"`
	CSV         CSVConfig         `mapstructure:"csv" toml:"csv" json:"csv" yaml:"csv"`
	Log         LogConfig         `mapstructure:"log" toml:"log" json:"log" yaml:"log"`
	Run         RunConfig         `mapstructure:"run" toml:"run" json:"run" yaml:"run"`
}

// RepositoryConfig configures the DSpace repository the records are read from
type RepositoryConfig struct {
	Endpoint       string `mapstructure:"endpoint" toml:"endpoint" json:"endpoint" yaml:"endpoint" validate:"required,url"`
	User           string `mapstructure:"user" toml:"user" json:"user" yaml:"user" validate:"required"`
	Password       string `mapstructure:"password" toml:"password" json:"password" yaml:"password" validate:"required"`
	XSRFCookie     string `mapstructure:"xsrf_cookie" toml:"xsrf_cookie" json:"xsrf_cookie" yaml:"xsrf_cookie"` // empty = fetch from /security/csrf
	XSRFToken      string `mapstructure:"xsrf_token" toml:"xsrf_token" json:"xsrf_token" yaml:"xsrf_token"`
	HandlePrefix   string `mapstructure:"handle_prefix" toml:"handle_prefix" json:"handle_prefix" yaml:"handle_prefix"` // e.g. "10919", empty = use dc.identifier.uri as-is
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds" validate:"gt=0"`
}

// DataCiteConfig configures the DataCite REST API
type DataCiteConfig struct {
	API            string `mapstructure:"api" toml:"api" json:"api" yaml:"api" validate:"required,url"` // e.g. https://api.test.datacite.org
	Token          string `mapstructure:"token" toml:"token" json:"token" yaml:"token" validate:"required"`
	Prefix         string `mapstructure:"prefix" toml:"prefix" json:"prefix" yaml:"prefix" validate:"required,startswith=10."`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds" validate:"gt=0"`
}

// AffiliationConfig is applied to every creator of every record
type AffiliationConfig struct {
	Name string `mapstructure:"name" toml:"name" json:"name" yaml:"name" validate:"required"`
	ROR  string `mapstructure:"ror" toml:"ror" json:"ror" yaml:"ror" validate:"required"` // registry id, e.g. https://ror.org/02y3ad647
}

// BatchConfig configures the worker pool, rate limit and retry policy
type BatchConfig struct {
	RPS              float64 `mapstructure:"rps" toml:"rps" json:"rps" yaml:"rps" validate:"gt=0"`                                 // registrar requests per second
	Concurrency      int     `mapstructure:"concurrency" toml:"concurrency" json:"concurrency" yaml:"concurrency" validate:"gt=0"` // concurrent workers
	RetryCount       int     `mapstructure:"retry_count" toml:"retry_count" json:"retry_count" yaml:"retry_count" validate:"gt=0"` // attempts per item per stage
	InitialBackoffMS int     `mapstructure:"initial_backoff_ms" toml:"initial_backoff_ms" json:"initial_backoff_ms" yaml:"initial_backoff_ms" validate:"gt=0"`
	MaxBackoffMS     int     `mapstructure:"max_backoff_ms" toml:"max_backoff_ms" json:"max_backoff_ms" yaml:"max_backoff_ms" validate:"gtefield=InitialBackoffMS"`
	TimeoutMinutes   int     `mapstructure:"timeout_minutes" toml:"timeout_minutes" json:"timeout_minutes" yaml:"timeout_minutes" validate:"gte=0"` // 0 = no run timeout
}

// CSVConfig configures where record identifiers are read from
type CSVConfig struct {
	Column       string `mapstructure:"column" toml:"column" json:"column" yaml:"column" validate:"required"`
	DataLocation string `mapstructure:"data_location" toml:"data_location" json:"data_location" yaml:"data_location"` // file or directory scanned recursively
}

// LogConfig configures the file log
type LogConfig struct {
	Directory string `mapstructure:"directory" toml:"directory" json:"directory" yaml:"directory"`
	JSON      bool   `mapstructure:"json" toml:"json" json:"json" yaml:"json"`
}

// RunConfig configures where run state, reports and reminders are kept
type RunConfig struct {
	Directory string `mapstructure:"directory" toml:"directory" json:"directory" yaml:"directory" validate:"required"`
}

// File permission constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// RepositoryTimeout returns the per-request timeout for repository calls
func (c *Config) RepositoryTimeout() time.Duration {
	return time.Duration(c.Repository.TimeoutSeconds) * time.Second
}

// DataCiteTimeout returns the per-request timeout for registrar calls
func (c *Config) DataCiteTimeout() time.Duration {
	return time.Duration(c.DataCite.TimeoutSeconds) * time.Second
}

// RunTimeout returns the run-level timeout, or 0 when runs are unbounded
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Batch.TimeoutMinutes) * time.Minute
}

const redacted = "********"

// Redacted returns a copy with credentials masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	c.Repository.Password = mask(c.Repository.Password)
	c.Repository.XSRFCookie = mask(c.Repository.XSRFCookie)
	c.Repository.XSRFToken = mask(c.Repository.XSRFToken)
	c.DataCite.Token = mask(c.DataCite.Token)
	return c
}
