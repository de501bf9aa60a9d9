// Package runtime assembles the conductor components from configuration.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/agent/remote"
	"github.com/kadirpekel/conductor/pkg/archive"
	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/docstore"
	"github.com/kadirpekel/conductor/pkg/events"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
)

// Runtime owns every long-lived component of a conductor process.
type Runtime struct {
	config *config.Config
	logger *slog.Logger

	observability *observability.Manager
	pool          *archive.Pool
	archive       *archive.SQLArchive
	publisher     events.Publisher
	docs          *docstore.Store
	registry      *agent.Registry
	orchestrator  *orchestrator.Orchestrator

	senderFactory remote.SenderFactory
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPublisher replaces the publishers built from the events section.
func WithPublisher(p events.Publisher) Option {
	return func(r *Runtime) {
		r.publisher = p
	}
}

// WithRemoteSenderFactory sets how remote agents reach their endpoints.
func WithRemoteSenderFactory(f remote.SenderFactory) Option {
	return func(r *Runtime) {
		r.senderFactory = f
	}
}

// New builds a runtime. On failure everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	r := &Runtime{
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	defer func() {
		if err != nil {
			if cerr := r.Close(context.WithoutCancel(ctx)); cerr != nil {
				r.logger.Warn("Cleanup after failed startup", "error", cerr)
			}
		}
	}()

	r.observability = observability.NewManager(cfg.Observability)
	if err := r.observability.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if cfg.Archive.Enabled {
		r.pool = archive.NewPool(r.logger)
		r.archive, err = archive.Open(ctx, r.pool, &cfg.Archive.Database, r.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
	}

	if r.publisher == nil {
		r.publisher, err = newPublisher(ctx, cfg.Events, r.logger)
		if err != nil {
			return nil, err
		}
	}

	r.docs, err = newDocStore(cfg.DocStore, r.logger)
	if err != nil {
		return nil, err
	}

	r.registry, err = NewRegistry(cfg.Agents, r.docs, r.logger, r.senderFactory)
	if err != nil {
		return nil, err
	}

	r.orchestrator = orchestrator.New(r.registry, r.orchestratorOptions()...)

	r.logger.Info("Runtime ready",
		"agents", r.registry.Count(),
		"archive", cfg.Archive.Enabled,
		"max_concurrent", cfg.Orchestrator.MaxConcurrent)
	return r, nil
}

func (r *Runtime) orchestratorOptions() []orchestrator.Option {
	opts := []orchestrator.Option{
		orchestrator.WithLogger(r.logger),
		orchestrator.WithMaxConcurrent(r.config.Orchestrator.MaxConcurrent),
		orchestrator.WithTaskTimeout(r.config.Orchestrator.TaskTimeout),
		orchestrator.WithPublisher(r.publisher),
		orchestrator.WithTracer(r.observability.Tracer(observability.InstrumentationName)),
	}
	// Nil pointers must not reach the interface-typed options.
	if r.archive != nil {
		opts = append(opts, orchestrator.WithArchive(r.archive))
	}
	if m := r.observability.Metrics(); m != nil {
		opts = append(opts, orchestrator.WithMetrics(m))
	}
	return opts
}

func (r *Runtime) Config() *config.Config                   { return r.config }
func (r *Runtime) Registry() *agent.Registry                { return r.registry }
func (r *Runtime) Orchestrator() *orchestrator.Orchestrator { return r.orchestrator }
func (r *Runtime) Observability() *observability.Manager    { return r.observability }
func (r *Runtime) DocStore() *docstore.Store                { return r.docs }

// Archive returns the task archive, nil when disabled.
func (r *Runtime) Archive() *archive.SQLArchive { return r.archive }

// Close stops the orchestrator, then releases publishers, databases and
// telemetry in that order.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	if r.orchestrator != nil {
		if err := r.orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
		}
	}
	if r.publisher != nil {
		if err := r.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher: %w", err))
		}
	}
	if r.pool != nil {
		if err := r.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database pool: %w", err))
		}
	}
	if r.observability != nil {
		if err := r.observability.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		r.logger.Warn("Runtime closed with errors", "error", err)
		return err
	}
	return nil
}
