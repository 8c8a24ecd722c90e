package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tracemark/internal/embed"
	"github.com/starford/tracemark/internal/imaging"
	"github.com/starford/tracemark/internal/marker"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Artifacts ArtifactsConfig   `yaml:"artifacts"`
	Inbox     InboxConfig       `yaml:"inbox"`
	Embedding EmbeddingConfig   `yaml:"embedding"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates every section in order and stops at the first error.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", &c.App},
		{"sqlite", &c.SQLite},
		{"artifacts", &c.Artifacts},
		{"embedding", &c.Embedding},
		{"auth", &c.Auth},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
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

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds the ledger database location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ArtifactsConfig holds the directory issued artifacts are written to.
type ArtifactsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the artifacts configuration.
func (c *ArtifactsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// InboxConfig points at the drop directory watched for suspect files.
// An empty Path disables the watcher.
type InboxConfig struct {
	Path string `yaml:"path"`
}

// Enabled reports whether the inbox watcher should run.
func (c *InboxConfig) Enabled() bool {
	return c.Path != ""
}

// maxPixelsCeiling bounds embedding.max_pixels; a decoded NRGBA grid costs
// four bytes per pixel.
const maxPixelsCeiling = 250_000_000

// EmbeddingConfig tunes the watermark embedding.
type EmbeddingConfig struct {
	Sites           int     `yaml:"sites"`
	MaxDelta        int     `yaml:"max_delta"`
	MarkerSuffixLen int     `yaml:"marker_suffix_len"`
	MaxPixels       int     `yaml:"max_pixels"`
	Seed            *uint64 `yaml:"seed"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Sites, validation.Required, validation.Min(1), validation.Max(10000)),
		validation.Field(&c.MaxDelta, validation.Required, validation.Min(1), validation.Max(127)),
		validation.Field(&c.MarkerSuffixLen, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.MaxPixels, validation.Required, validation.Min(1), validation.Max(maxPixelsCeiling)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
		validation.Field(&c.Token, validation.When(c.Mode == AuthModeToken,
			validation.Required.Error("token is empty while mode is token"))),
	)
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
			HTTP:     HTTPConfig{Port: 8080},
		},
		SQLite:    SQLiteConfig{Path: "./tracemark.db"},
		Artifacts: ArtifactsConfig{Path: "./artifacts"},
		Embedding: EmbeddingConfig{
			Sites:           embed.DefaultSites,
			MaxDelta:        embed.DefaultMaxDelta,
			MarkerSuffixLen: marker.DefaultSuffixLen,
			MaxPixels:       imaging.DefaultMaxPixels,
		},
		Auth: AuthConfig{Mode: AuthModeDisabled},
	}
}
