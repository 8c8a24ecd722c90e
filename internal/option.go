package internal

import "log/slog"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	logger *slog.Logger
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger overrides the default JSON stdout logger. The MCP server uses
// it to keep stdout free for the protocol stream.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}
