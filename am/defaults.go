package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Repository defaults
	v.SetDefault("repository.timeout_seconds", 30)

	// DataCite defaults
	v.SetDefault("datacite.api", "https://api.test.datacite.org")
	v.SetDefault("datacite.timeout_seconds", 30)

	// Batch defaults
	v.SetDefault("batch.rps", 5.0)
	v.SetDefault("batch.concurrency", 2)
	v.SetDefault("batch.retry_count", 3)
	v.SetDefault("batch.initial_backoff_ms", 500)
	v.SetDefault("batch.max_backoff_ms", 30000)
	v.SetDefault("batch.timeout_minutes", 0)

	// CSV input defaults
	v.SetDefault("csv.column", "item_uuid")
	v.SetDefault("csv.data_location", ".")

	// Output locations
	v.SetDefault("log.directory", "./logs")
	v.SetDefault("log.json", false)
	v.SetDefault("run.directory", "./runs")
}

// envBindings maps config keys to the MINT__* environment variable names.
// Names use a double underscore between segments so keys containing a single
// underscore (xsrf_cookie) stay unambiguous.
var envBindings = map[string]string{
	"repository.endpoint":      "MINT__REPO__ENDPOINT",
	"repository.user":          "MINT__REPO__USER",
	"repository.password":      "MINT__REPO__PASSWORD",
	"repository.xsrf_cookie":   "MINT__REPO__XSRF_COOKIE",
	"repository.xsrf_token":    "MINT__REPO__XSRF_TOKEN",
	"repository.handle_prefix": "MINT__REPO__HANDLE_PREFIX",
	"datacite.api":             "MINT__DATACITE__API",
	"datacite.token":           "MINT__DATACITE__TOKEN",
	"datacite.prefix":          "MINT__DATACITE__PREFIX",
	"affiliation.name":         "MINT__AFFIL__NAME",
	"affiliation.ror":          "MINT__AFFIL__ROR",
	"batch.rps":                "MINT__BATCH__RPS",
	"batch.concurrency":        "MINT__BATCH__CONCURRENCY",
	"batch.retry_count":        "MINT__BATCH__RETRYCOUNT",
	"batch.timeout_minutes":    "MINT__BATCH__TIMEOUT_MINUTES",
	"csv.column":               "MINT__CSV__COLUMN",
	"csv.data_location":        "MINT__CSV__DATA_LOCATION",
	"log.directory":            "MINT__LOG__DIRECTORY",
	"run.directory":            "MINT__RUN__DIRECTORY",
}

// BindEnvVars explicitly binds configuration keys to environment variables
func BindEnvVars(v *viper.Viper) {
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
}

// EnvName returns the environment variable bound to a config key, or "".
func EnvName(key string) string {
	return envBindings[key]
}

func newDefaultsOnlyViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}
