package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/assetforge/internal/build"
	"github.com/starford/assetforge/internal/watcher"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Cache backends.
const (
	CacheBackendJSON   = "json"
	CacheBackendSQLite = "sqlite"
)

// Config represents the application configuration.
type Config struct {
	App           ApplicationConfig      `yaml:"app"`
	Auth          AuthConfig             `yaml:"auth"`
	Pipeline      PipelineConfig         `yaml:"pipeline"`
	Cache         CacheConfig            `yaml:"cache"`
	AssetSettings []watcher.AssetSetting `yaml:"asset_settings"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	for i, s := range c.AssetSettings {
		if len(s.Files) == 0 {
			return fmt.Errorf("asset_settings[%d]: files is required", i)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds the dev server configuration. The server only runs in
// watch mode and only when enabled.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.When(c.Enabled, validation.Required), validation.Min(0), validation.Max(65535)),
	)
}

// PipelineConfig describes what is built and how.
type PipelineConfig struct {
	// Entry is the input directory.
	Entry string `yaml:"entry"`
	// Output is the directory artifacts are written to.
	Output      string        `yaml:"output"`
	Concurrency int           `yaml:"concurrency"`
	Debounce    time.Duration `yaml:"debounce"`
	// Strict stops the process after a cycle in which any asset failed.
	Strict bool `yaml:"strict"`
	// Ignore lists globs relative to Entry.
	Ignore []string `yaml:"ignore"`
	// Stages holds option overrides per stage name; false disables a stage.
	Stages map[string]any `yaml:"stages"`
}

// Validate validates the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Entry, validation.Required),
		validation.Field(&c.Output, validation.Required),
		validation.Field(&c.Concurrency, validation.Min(1)),
		validation.Field(&c.Debounce, validation.Min(time.Millisecond)),
	); err != nil {
		return err
	}
	entry, err := filepath.Abs(c.Entry)
	if err != nil {
		return err
	}
	output, err := filepath.Abs(c.Output)
	if err != nil {
		return err
	}
	if entry == output {
		return errors.New("pipeline: entry and output must differ")
	}
	return nil
}

// CacheConfig holds graph cache configuration.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(CacheBackendJSON, CacheBackendSQLite)),
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration for the HTTP API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Pipeline: PipelineConfig{
			Entry:       "./src",
			Output:      "./dist",
			Concurrency: build.DefaultConcurrency,
			Debounce:    watcher.DefaultDebounce,
			Ignore:      []string{".git", "**/.DS_Store", "**/*~"},
			Stages: map[string]any{
				"cachebuster": false,
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: CacheBackendJSON,
			Path:    "./.assetforge-cache.json",
		},
	}
}
