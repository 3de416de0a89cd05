package internal

import (
	"io"

	"github.com/starford/assetforge/internal/pipeline"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	stages    []pipeline.Stage
	logOutput io.Writer
	version   string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithStages replaces the built-in stage list. The copy stage is always
// appended by the pipeline.
func WithStages(stages ...pipeline.Stage) Option {
	return func(a *application) {
		a.stages = stages
	}
}

// WithLogOutput sets where structured logs are written.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}
