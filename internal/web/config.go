package web

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/propmatch/internal/config"
)

// Config represents the web server configuration
type Config struct {
	Server   ServerConfig  `json:"server"`
	Auth     AuthConfig    `json:"auth"`
	Features FeatureConfig `json:"features"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key"`
}

// FeatureConfig contains feature toggles
type FeatureConfig struct {
	ExportEnabled bool `json:"export_enabled"`
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Features: FeatureConfig{
			ExportEnabled: true,
		},
	}
}

// ResolveConfig reads the JSON file named by WEB_CONFIG when set, and
// otherwise builds the configuration from the process settings
func ResolveConfig(settings *config.Settings) (*Config, error) {
	if path := config.GetEnv("WEB_CONFIG", ""); path != "" {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load web config %s: %w", path, err)
		}
		return cfg, nil
	}
	return ConfigFromSettings(settings), nil
}

// ConfigFromSettings builds the server configuration from the process
// settings. WEB_AUTH_ENABLED and WEB_API_KEY turn on API key checks.
func ConfigFromSettings(settings *config.Settings) *Config {
	cfg := DefaultConfig()
	cfg.Server.Host = settings.WebHost
	cfg.Server.Port = settings.WebPort
	cfg.Auth.Enabled = config.GetEnvBool("WEB_AUTH_ENABLED", false)
	cfg.Auth.APIKey = config.GetEnv("WEB_API_KEY", "")
	cfg.Features.ExportEnabled = config.GetEnvBool("WEB_EXPORT_ENABLED", true)
	return cfg
}
