package homeatlas

import (
	"github.com/rs/zerolog"

	"github.com/homeatlas/homeatlas/internal/config"
	"github.com/homeatlas/homeatlas/internal/store"
	"github.com/homeatlas/homeatlas/pkg/errors"
	"github.com/homeatlas/homeatlas/pkg/extract"
)

// Option configures an Engine during New.
type Option func(*Engine) error

// WithConfig supplies a pre-built configuration instead of loading from
// the environment.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) error {
		if cfg == nil {
			return errors.NewConfigError("engine", "nil config", nil)
		}
		e.config = cfg
		return nil
	}
}

// WithStore injects an already-open store. The caller keeps ownership;
// Engine.Close will not close it.
func WithStore(st *store.Store) Option {
	return func(e *Engine) error {
		if st == nil {
			return errors.NewConfigError("engine", "nil store", nil)
		}
		e.store = st
		return nil
	}
}

// WithExtractor injects an extraction backend, replacing the default
// Gemini client. Tests use this with a stub.
func WithExtractor(x extract.Extractor) Option {
	return func(e *Engine) error {
		if x == nil {
			return errors.NewConfigError("engine", "nil extractor", nil)
		}
		e.extractor = x
		return nil
	}
}

// WithLogger sets the logger shared by the engine's components.
func WithLogger(logger *zerolog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return errors.NewConfigError("engine", "nil logger", nil)
		}
		e.logger = logger
		return nil
	}
}
