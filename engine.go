// Package homeatlas wires the data collection and entity
// reconciliation engine: a sqlite-backed system of record, an
// extraction gateway, the job scheduler, the change review workflow,
// and the status lifecycle manager.
package homeatlas

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/homeatlas/homeatlas/internal/config"
	"github.com/homeatlas/homeatlas/internal/store"
	"github.com/homeatlas/homeatlas/pkg/diff"
	"github.com/homeatlas/homeatlas/pkg/extract"
	"github.com/homeatlas/homeatlas/pkg/lifecycle"
	"github.com/homeatlas/homeatlas/pkg/logging"
	"github.com/homeatlas/homeatlas/pkg/review"
	"github.com/homeatlas/homeatlas/pkg/scheduler"
)

// Engine is the assembled reconciliation engine.
type Engine struct {
	config    *config.Config
	store     *store.Store
	extractor extract.Extractor
	logger    *zerolog.Logger

	scheduler *scheduler.Scheduler
	review    *review.Workflow
	lifecycle *lifecycle.Manager

	ownsStore bool
}

// New assembles an engine. Without options it loads configuration from
// the environment, opens the configured sqlite database, and talks to
// the Gemini extraction backend.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{logger: logging.Default()}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.config == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		e.config = cfg
	}

	if e.store == nil {
		st, err := store.Open(ctx, e.config.DatabasePath)
		if err != nil {
			return nil, err
		}
		e.store = st
		e.ownsStore = true
	}

	// Review and lifecycle operations work without an extraction
	// backend; only job execution needs one, and the scheduler reports
	// its absence as a ConfigError at run time.
	if e.extractor == nil && e.config.GeminiAPIKey != "" {
		var gopts []extract.GeminiOption
		if e.config.ExtractionTimeout > 0 {
			gopts = append(gopts, extract.WithTimeout(e.config.ExtractionTimeout))
		}
		gx, err := extract.NewGeminiExtractor(e.config.GeminiAPIKey, gopts...)
		if err != nil {
			return nil, err
		}
		e.extractor = gx
	}

	policies, err := diff.LoadPolicies(e.config.PolicyFile)
	if err != nil {
		return nil, err
	}

	e.scheduler = scheduler.New(e.store, e.extractor,
		scheduler.WithWorkers(e.config.Workers),
		scheduler.WithJobTimeout(e.config.JobTimeout),
		scheduler.WithMaxCascadeDepth(e.config.MaxCascadeDepth),
		scheduler.WithDiffPolicies(policies),
		scheduler.WithLogger(e.logger),
	)
	e.review = review.New(e.store,
		review.WithThreshold(e.config.Threshold),
		review.WithLogger(e.logger),
	)
	e.lifecycle = lifecycle.New(e.store,
		lifecycle.WithGracePeriods(e.config.GracePeriods),
		lifecycle.WithLogger(e.logger),
	)

	return e, nil
}

// Scheduler returns the job scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Review returns the change review workflow.
func (e *Engine) Review() *review.Workflow { return e.review }

// Lifecycle returns the status lifecycle manager.
func (e *Engine) Lifecycle() *lifecycle.Manager { return e.lifecycle }

// Store returns the underlying system-of-record store.
func (e *Engine) Store() *store.Store { return e.store }

// Config returns the effective configuration.
func (e *Engine) Config() *config.Config { return e.config }

// Close releases resources the engine opened itself. Injected stores
// stay open; their owner closes them.
func (e *Engine) Close() error {
	if e.ownsStore && e.store != nil {
		return e.store.Close()
	}
	return nil
}
