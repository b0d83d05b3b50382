package am

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/teranos/mintdoi/errors"
)

// ConfigFileName is the project config file searched for upward from the working directory
const ConfigFileName = "am.toml"

var globalConfig *Config
var viperInstance *viper.Viper

// explicitConfigFile is set by --config and replaces the search
var explicitConfigFile string

// Load reads the mintdoi configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if explicitConfigFile != "" {
		if _, err := os.Stat(explicitConfigFile); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "config file %s", explicitConfigFile), errors.ErrInvalidConfig)
		}
	}

	v := initViper()

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance so commands can bind flags before Load
func GetViper() *viper.Viper {
	return initViper()
}

// SetConfigFile makes Load read exactly this file instead of searching.
// Must be called before the first Load or GetViper.
func SetConfigFile(path string) {
	explicitConfigFile = path
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to unmarshal config"), errors.ErrInvalidConfig)
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Set defaults but don't bind environment variables for this specific load
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read config file %s", configPath), errors.ErrInvalidConfig)
	}

	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	explicitConfigFile = ""
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	// Environment variables use explicit MINT__SECTION__KEY names
	BindEnvVars(v)

	// Set defaults first
	SetDefaults(v)

	// Manually merge configs in precedence order: system -> user -> project -> env vars
	mergeConfigFiles(v, configPaths())

	viperInstance = v
	return v
}

// configPaths lists config files lowest precedence first
func configPaths() []string {
	if explicitConfigFile != "" {
		return []string{explicitConfigFile}
	}

	paths := []string{filepath.Join("/etc/mintdoi", ConfigFileName)}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".mintdoi", ConfigFileName))
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		paths = append(paths, projectConfig)
	}
	return paths
}

// findProjectConfig searches for am.toml by walking up the directory tree.
// Returns the path to the first config file found, or empty string if none found.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles merges configuration files in the given precedence order.
// Values are merged as config (not Set) so environment bindings still win.
func mergeConfigFiles(v *viper.Viper, paths []string) {
	v.SetConfigType("toml")
	for _, configPath := range paths {
		f, err := os.Open(configPath)
		if err != nil {
			continue
		}
		_ = v.MergeConfig(f)
		f.Close()
	}
}

// LoadedFiles returns the config files that exist among the search paths
func LoadedFiles() []string {
	var found []string
	for _, p := range configPaths() {
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	return found
}
