package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the ConvHub configuration using Viper. The result is cached;
// use Reset to force a fresh read (the config watcher does this on reload).
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &config
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Set defaults but don't bind environment variables for this specific load
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from %s: %w", configPath, err)
	}

	return &config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("CONVHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Merge config files in precedence order: user < project < env vars
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// ProjectConfigPath returns the path of the project-level config file, or
// empty string if none exists.
func ProjectConfigPath() string {
	path := filepath.Join(".", "convhub.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// mergeConfigFiles merges configuration files in the correct precedence
// order (lowest to highest): user < project.
func mergeConfigFiles(v *viper.Viper) {
	v.SetConfigType("toml")

	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".convhub", "convhub.toml")
		if _, err := os.Stat(userPath); err == nil {
			v.SetConfigFile(userPath)
			_ = v.MergeInConfig()
		}
	}

	if projectPath := ProjectConfigPath(); projectPath != "" {
		v.SetConfigFile(projectPath)
		_ = v.MergeInConfig()
	}
}
