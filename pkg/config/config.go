// Package config loads toolpilot-mcp settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	User    UserConfig    `toml:"user"`
	Catalog CatalogConfig `toml:"catalog"`
	Suggest SuggestConfig `toml:"suggest"`
}

type ServerConfig struct {
	Bind  string `toml:"bind" validate:"required,hostname_port"`
	Debug bool   `toml:"debug"`
}

type StorageConfig struct {
	Driver string `toml:"driver" validate:"oneof=sqlite postgres"`
	Path   string `toml:"path" validate:"required_if=Driver sqlite"`
	DSN    string `toml:"dsn" validate:"required_if=Driver postgres"`
}

// UserConfig identifies the principal that owns sessions and what it may use.
type UserConfig struct {
	ID          string   `toml:"id"`
	Role        string   `toml:"role" validate:"oneof=admin project-manager engineer finance client"`
	Disciplines []string `toml:"disciplines"`
	Features    []string `toml:"features"`
}

// CatalogConfig points at an alternative tool catalog. Empty means the embedded one.
type CatalogConfig struct {
	Path string `toml:"path"`
}

type SuggestConfig struct {
	DefaultLimit int `toml:"default_limit" validate:"min=1,max=50"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Bind: "localhost:8989",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "build/toolpilot-mcp.db",
		},
		User: UserConfig{
			ID:   "local-user",
			Role: string(types.RoleProjectManager),
		},
		Suggest: SuggestConfig{
			DefaultLimit: types.DefaultSuggestionLimit,
		},
	}
}

// Load reads the configuration at path over the defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Role returns the configured workspace role.
func (c *Config) Role() types.Role {
	return types.Role(c.User.Role)
}

// FeatureEnabled reports whether the feature flag is switched on.
func (c *Config) FeatureEnabled(flag string) bool {
	return slices.Contains(c.User.Features, flag)
}
