package jobcore

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Option configures a Coordinator.
type Option func(*Coordinator) error

// Storer is the minimal store interface held by the Coordinator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
// The engine package installs one runner per registered queue.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle shutdown events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Coordinator is the central handle for job processing: it owns the
// configuration, the store, and the per-queue worker pools.
//
// Create one with New() and functional options. The Coordinator holds
// references to subsystem components via internal interfaces to avoid
// import cycles; the engine package wires everything together.
type Coordinator struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pools  []poolRunner

	started bool
}

// New creates a new Coordinator with the given options.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *slog.Logger { return c.logger }

// Store returns the coordinator's store.
func (c *Coordinator) Store() Storer { return c.store }

// Config returns a copy of the coordinator's configuration.
func (c *Coordinator) Config() Config { return c.config }

// AddPool registers a per-queue worker pool (called by the engine package).
func (c *Coordinator) AddPool(p poolRunner) { c.pools = append(c.pools, p) }

// SetHooks sets the lifecycle hook emitter (called by the engine package).
func (c *Coordinator) SetHooks(h hookEmitter) { c.hooks = h }

// Start begins job processing on every registered pool. Pools start
// concurrently; the first error aborts startup.
func (c *Coordinator) Start(ctx context.Context) error {
	if len(c.pools) == 0 {
		return ErrNoStore
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range c.pools {
		g.Go(func() error { return p.Start(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the coordinator: pools first, then hooks,
// then the store.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.started {
		for _, p := range c.pools {
			if err := p.Stop(ctx); err != nil {
				c.logger.Error("pool stop error", "error", err)
			}
		}
	}
	if c.hooks != nil {
		c.hooks.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithEnvironment sets the deployment environment.
func WithEnvironment(env Environment) Option {
	return func(c *Coordinator) error {
		c.config.Environment = env
		return nil
	}
}

// WithConfig replaces the entire configuration.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) error {
		c.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the coordinator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the coordinator.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Coordinator) error {
		c.store = s
		return nil
	}
}
