// Package chainflow provides a top-level convenience entry point for embedding
// the workflow engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/chainflow"
//
//	eng, err := chainflow.New(db, chainflow.WithLogger(logger))
//	wf, err := chainflow.ParseWorkflow(definitionJSON)
//	exec, err := eng.Enqueue(ctx, wf, payload)
//
// This wires a store, event bus, pause manager, circuit breaker, and the
// default block registry around [engine.New]; services that need custom
// collaborators (Redis breaker state, chain transaction tracking, metrics)
// should assemble [engine.Deps] directly instead.
package chainflow

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/chainflow/blocks"
	"github.com/BaSui01/chainflow/breaker"
	"github.com/BaSui01/chainflow/engine"
	"github.com/BaSui01/chainflow/events"
	"github.com/BaSui01/chainflow/pause"
	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/workflow"
)

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	logger        *zap.Logger
	engineConfig  engine.Config
	mailer        blocks.Mailer
	submitter     blocks.TxSubmitter
	breakerConfig breaker.Config
}

// WithLogger sets a custom zap logger. Defaults to [zap.NewNop].
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEngineConfig overrides the engine tuning knobs (tick interval,
// concurrency, retry defaults). Zero fields keep their defaults.
func WithEngineConfig(cfg engine.Config) Option {
	return func(o *options) { o.engineConfig = cfg }
}

// WithMailer enables the email block with the given delivery backend.
func WithMailer(m blocks.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// WithTxSubmitter enables the chain_tx block with the given submitter.
func WithTxSubmitter(s blocks.TxSubmitter) Option {
	return func(o *options) { o.submitter = s }
}

// WithBreakerConfig overrides the per-block-type circuit breaker thresholds.
func WithBreakerConfig(cfg breaker.Config) Option {
	return func(o *options) { o.breakerConfig = cfg }
}

// New creates a ready-to-run [engine.Engine] on top of the given database
// handle. It migrates the schema, then wires the default collaborators:
// in-process event bus, pause manager, local circuit breaker state, and the
// default block registry. Call [engine.Engine.Run] to start the scheduling
// loop.
func New(db *gorm.DB, opts ...Option) (*engine.Engine, error) {
	o := &options{
		logger:        zap.NewNop(),
		breakerConfig: breaker.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}

	st := store.New(db, o.logger)
	if err := st.AutoMigrate(); err != nil {
		return nil, err
	}

	bus := events.NewBus(o.logger)
	pauser := pause.NewManager(st, bus, o.logger)
	registry := blocks.NewDefaultRegistry(blocks.DefaultRegistryDeps{
		Mailer:    o.mailer,
		Submitter: o.submitter,
		Logger:    o.logger,
	})
	brk := breaker.New(o.breakerConfig, breaker.NewLocalStore(), o.logger)

	return engine.New(engine.Deps{
		Store:    st,
		Registry: registry,
		Breaker:  brk,
		Bus:      bus,
		Pauser:   pauser,
		Logger:   o.logger,
	}, o.engineConfig), nil
}

// ParseWorkflow decodes a JSON workflow definition. The result still needs
// validation against a block catalog before it can run; [engine.Engine.Enqueue]
// validates internally.
func ParseWorkflow(definition string) (*workflow.Workflow, error) {
	return workflow.FromJSON(definition)
}
