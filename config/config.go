// Package config loads and watches the ConvHub configuration.
//
// Configuration is merged from, in increasing precedence:
// defaults, ~/.convhub/convhub.toml, ./convhub.toml, CONVHUB_* env vars.
package config

import (
	"github.com/spf13/viper"
)

// Config represents the ConvHub service configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Files    FilesConfig    `mapstructure:"files"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the ConvHub HTTP/WebSocket server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// UploadsPerMinute caps multipart uploads per client burst window.
	UploadsPerMinute int `mapstructure:"uploads_per_minute"`
}

// FilesConfig configures the blob store for job photos and payment proofs.
type FilesConfig struct {
	Dir string `mapstructure:"dir"`
}

// DefaultServerPort is the development port for the ConvHub server.
const DefaultServerPort = 8764

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "convhub.db")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.uploads_per_minute", 30)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	v.SetDefault("files.dir", "files")
}
