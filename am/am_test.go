package am

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/mintdoi/errors"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Repository.Endpoint = "https://repository.example.edu"
	cfg.Repository.User = "curator@example.edu"
	cfg.Repository.Password = "secret"
	cfg.DataCite.Token = "Basic dXNlcjpwYXNz"
	cfg.DataCite.Prefix = "10.80000"
	cfg.Affiliation.Name = "Example University"
	cfg.Affiliation.ROR = "https://ror.org/00example"
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	// Isolated viper instance without user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.Batch.RPS)
	assert.Equal(t, 2, cfg.Batch.Concurrency)
	assert.Equal(t, 3, cfg.Batch.RetryCount)
	assert.Equal(t, "item_uuid", cfg.CSV.Column)
	assert.Equal(t, "./logs", cfg.Log.Directory)
	assert.Equal(t, "./runs", cfg.Run.Directory)
	assert.Equal(t, "https://api.test.datacite.org", cfg.DataCite.API)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
[batch]
rps = 2.5
concurrency = 8

[datacite]
prefix = "10.1111"
`), 0644))

	t.Setenv("MINT__BATCH__CONCURRENCY", "3")
	t.Setenv("MINT__REPO__XSRF_COOKIE", "cookie-value")

	Reset()
	t.Cleanup(Reset)
	SetConfigFile(path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.Batch.RPS, "file value over default")
	assert.Equal(t, 3, cfg.Batch.Concurrency, "env over file")
	assert.Equal(t, "10.1111", cfg.DataCite.Prefix)
	assert.Equal(t, "cookie-value", cfg.Repository.XSRFCookie)
	assert.Equal(t, 3, cfg.Batch.RetryCount, "untouched default")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	SetConfigFile(filepath.Join(t.TempDir(), "nope.toml"))

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[csv]\ncolumn = \"uuid\"\n"), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "uuid", cfg.CSV.Column)
	assert.Equal(t, 2, cfg.Batch.Concurrency)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing endpoint", mutate: func(c *Config) { c.Repository.Endpoint = "" }, wantKey: "repository.endpoint"},
		{name: "relative endpoint", mutate: func(c *Config) { c.Repository.Endpoint = "repo.local" }, wantKey: "repository.endpoint"},
		{name: "missing token", mutate: func(c *Config) { c.DataCite.Token = "" }, wantKey: "datacite.token"},
		{name: "bad prefix", mutate: func(c *Config) { c.DataCite.Prefix = "80000" }, wantKey: "datacite.prefix"},
		{name: "zero rps", mutate: func(c *Config) { c.Batch.RPS = 0 }, wantKey: "batch.rps"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Batch.Concurrency = 0 }, wantKey: "batch.concurrency"},
		{name: "zero retries", mutate: func(c *Config) { c.Batch.RetryCount = 0 }, wantKey: "batch.retry_count"},
		{name: "max backoff below initial", mutate: func(c *Config) { c.Batch.MaxBackoffMS = 1 }, wantKey: "batch.max_backoff_ms"},
		{name: "missing affiliation ror", mutate: func(c *Config) { c.Affiliation.ROR = "" }, wantKey: "affiliation.ror"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantKey == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.wantKey)
		})
	}
}

func TestValidate_HintNamesEnvVar(t *testing.T) {
	cfg := validConfig()
	cfg.DataCite.Prefix = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "MINT__DATACITE__PREFIX")
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	red := cfg.Redacted()

	assert.Equal(t, redacted, red.Repository.Password)
	assert.Equal(t, redacted, red.DataCite.Token)
	assert.Empty(t, red.Repository.XSRFToken, "empty stays empty")
	assert.Equal(t, "secret", cfg.Repository.Password, "original untouched")
}

func TestMarshalFormats(t *testing.T) {
	cfg := validConfig().Redacted()

	for _, format := range []string{"toml", "json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			data, err := Marshal(cfg, format)
			require.NoError(t, err)
			assert.Contains(t, string(data), "retry_count")
			assert.NotContains(t, string(data), "secret")
		})
	}

	_, err := Marshal(cfg, "xml")
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestWriteConfigFileRotatesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", ConfigFileName)

	for i := 0; i < 3; i++ {
		cfg := validConfig()
		cfg.Batch.Concurrency = i + 1
		require.NoError(t, WriteConfigFile(path, cfg))
	}

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Batch.Concurrency)

	back1, err := os.ReadFile(path + ".back1")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(back1), "concurrency = 2"))
	assert.FileExists(t, path+".back2")
}
