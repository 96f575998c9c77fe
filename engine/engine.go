// Package engine schedules workflow executions. It owns the state
// machine: validated workflows enter as pending executions, the run
// loop claims ready nodes through the store, dispatches them to block
// handlers on a bounded pool, and settles the execution when every node
// reaches a terminal state.
//
// All cross-worker coordination happens in the store. Several engine
// processes can tick the same executions; the conditional claim update
// guarantees each node attempt runs at most once.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/blocks"
	"github.com/BaSui01/chainflow/breaker"
	"github.com/BaSui01/chainflow/events"
	"github.com/BaSui01/chainflow/internal/metrics"
	"github.com/BaSui01/chainflow/internal/pool"
	"github.com/BaSui01/chainflow/pause"
	"github.com/BaSui01/chainflow/retry"
	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// Config tunes the engine.
type Config struct {
	// WorkerID identifies this process in node claims.
	WorkerID string `yaml:"worker_id" json:"worker_id"`
	// TickInterval is how often the run loop scans for work.
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`
	// HeartbeatInterval refreshes claims on running nodes.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	// ReclaimAfter returns nodes with heartbeats older than this to the
	// pending pool. Must comfortably exceed HeartbeatInterval.
	ReclaimAfter time.Duration `yaml:"reclaim_after" json:"reclaim_after"`
	// MaxConcurrentNodes bounds node handlers running at once.
	MaxConcurrentNodes int `yaml:"max_concurrent_nodes" json:"max_concurrent_nodes"`
	// DefaultNodeTimeout applies when a node sets none.
	DefaultNodeTimeout time.Duration `yaml:"default_node_timeout" json:"default_node_timeout"`
	// DefaultMaxRetries applies when a node sets none.
	DefaultMaxRetries int `yaml:"default_max_retries" json:"default_max_retries"`
}

func DefaultConfig() Config {
	return Config{
		TickInterval:       time.Second,
		HeartbeatInterval:  10 * time.Second,
		ReclaimAfter:       60 * time.Second,
		MaxConcurrentNodes: 32,
		DefaultNodeTimeout: 2 * time.Minute,
		DefaultMaxRetries:  3,
	}
}

// Engine drives executions from pending to a terminal state.
type Engine struct {
	store    *store.Store
	registry *blocks.Registry
	breaker  *breaker.Breaker
	bus      *events.Bus
	pauser   *pause.Manager
	metrics  *metrics.Collector
	pool     *pool.GoroutinePool
	config   Config
	policy   *retry.Policy
	logger   *zap.Logger

	defs sync.Map // execution ID -> *workflow.Validated
}

// Deps carries the engine's collaborators. Metrics may be nil.
type Deps struct {
	Store    *store.Store
	Registry *blocks.Registry
	Breaker  *breaker.Breaker
	Bus      *events.Bus
	Pauser   *pause.Manager
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

func New(deps Deps, config Config) *Engine {
	if config.WorkerID == "" {
		config.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 10 * time.Second
	}
	if config.ReclaimAfter <= 0 {
		config.ReclaimAfter = 60 * time.Second
	}
	if config.MaxConcurrentNodes <= 0 {
		config.MaxConcurrentNodes = 32
	}
	if config.DefaultNodeTimeout <= 0 {
		config.DefaultNodeTimeout = 2 * time.Minute
	}
	if config.DefaultMaxRetries < 0 {
		config.DefaultMaxRetries = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		store:    deps.Store,
		registry: deps.Registry,
		breaker:  deps.Breaker,
		bus:      deps.Bus,
		pauser:   deps.Pauser,
		metrics:  deps.Metrics,
		pool: pool.NewGoroutinePool(pool.GoroutinePoolConfig{
			MaxWorkers:  config.MaxConcurrentNodes,
			QueueSize:   config.MaxConcurrentNodes * 4,
			IdleTimeout: time.Minute,
		}),
		config: config,
		policy: &retry.Policy{
			MaxRetries:   config.DefaultMaxRetries,
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2.0,
			Jitter:       true,
		},
		logger: logger.With(zap.String("component", "engine"), zap.String("worker_id", config.WorkerID)),
	}
}

// Enqueue validates a workflow and creates a pending execution for it.
// The trigger payload becomes the entry nodes' inputs.
func (e *Engine) Enqueue(ctx context.Context, wf *workflow.Workflow, payload map[string]any) (*store.Execution, error) {
	validated, err := workflow.Validate(wf, e.registry)
	if err != nil {
		return nil, err
	}

	definition, err := wf.ToJSON()
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "workflow serialization failed").WithCause(err)
	}

	exec := &store.Execution{
		ID:           uuid.NewString(),
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		Definition:   store.JSONDocument(definition),
		Status:       types.ExecutionPending,
		Payload:      store.JSONMap(payload),
	}

	entries := map[string]bool{}
	for _, id := range validated.Graph.Entries() {
		entries[id] = true
	}

	nodes := make([]store.NodeExecution, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		maxRetries := n.MaxRetries
		if maxRetries == 0 {
			maxRetries = e.config.DefaultMaxRetries
		}
		ne := store.NodeExecution{
			ID:          uuid.NewString(),
			ExecutionID: exec.ID,
			NodeID:      n.ID,
			BlockType:   n.Type,
			Status:      types.NodePending,
			MaxRetries:  maxRetries,
		}
		if entries[n.ID] && len(payload) > 0 {
			ne.Inputs = store.JSONMap(payload)
		}
		nodes = append(nodes, ne)
	}

	if err := e.store.CreateExecution(ctx, exec, nodes); err != nil {
		return nil, err
	}
	e.defs.Store(exec.ID, validated)

	e.logger.Info("execution enqueued",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", wf.ID),
		zap.Int("nodes", len(nodes)))
	return exec, nil
}

// Cancel moves a non-terminal execution to cancelled. Running node
// attempts finish their current call but nothing new is dispatched.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	err := e.store.TransitionExecution(ctx, executionID,
		[]types.ExecutionStatus{types.ExecutionPending, types.ExecutionRunning, types.ExecutionPaused},
		types.ExecutionCancelled)
	if err != nil {
		return err
	}

	e.logger.Info("execution cancelled", zap.String("execution_id", executionID))
	e.publish(ctx, events.Event{Type: events.ExecutionCancelled, ExecutionID: executionID})
	e.recordExecution(string(types.ExecutionCancelled))
	return nil
}

// RetryNode puts a terminally failed node of a failed execution back in
// play and requeues the execution.
func (e *Engine) RetryNode(ctx context.Context, executionID, nodeID string) error {
	if err := e.store.ResetNodeForRetry(ctx, executionID, nodeID); err != nil {
		return err
	}
	err := e.store.TransitionExecution(ctx, executionID,
		[]types.ExecutionStatus{types.ExecutionFailed}, types.ExecutionPending)
	if err != nil {
		return err
	}
	if err := e.store.SetExecutionError(ctx, executionID, ""); err != nil {
		return err
	}

	e.logger.Info("node queued for manual retry",
		zap.String("execution_id", executionID),
		zap.String("node_id", nodeID))
	e.publish(ctx, events.Event{
		Type: events.NodeRetrying, ExecutionID: executionID, NodeID: nodeID,
		Payload: map[string]any{"manual": true},
	})
	return nil
}

// Run is the scheduler loop: reclaim abandoned claims, adopt pending
// executions, and step running ones. It returns when the context ends.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine started",
		zap.Duration("tick_interval", e.config.TickInterval),
		zap.Duration("reclaim_after", e.config.ReclaimAfter))

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.pool.Close()
			e.logger.Info("engine stopped")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	if n, err := e.store.ReclaimAbandoned(ctx, e.config.ReclaimAfter); err != nil {
		e.logger.Error("reclaim failed", zap.Error(err))
	} else if n > 0 {
		e.logger.Warn("reclaimed abandoned node attempts", zap.Int64("count", n))
	}

	pending, err := e.store.ListExecutionsByStatus(ctx, types.ExecutionPending)
	if err != nil {
		e.logger.Error("listing pending executions failed", zap.Error(err))
		return
	}
	for i := range pending {
		// racing engines: exactly one wins the pending->running flip
		err := e.store.TransitionExecution(ctx, pending[i].ID,
			[]types.ExecutionStatus{types.ExecutionPending}, types.ExecutionRunning)
		if err != nil {
			if types.GetErrorCode(err) != types.ErrInvalidState {
				e.logger.Error("adopting execution failed",
					zap.String("execution_id", pending[i].ID), zap.Error(err))
			}
			continue
		}
		e.publish(ctx, events.Event{Type: events.ExecutionStarted, ExecutionID: pending[i].ID})
	}

	running, err := e.store.ListExecutionsByStatus(ctx, types.ExecutionRunning)
	if err != nil {
		e.logger.Error("listing running executions failed", zap.Error(err))
		return
	}
	for i := range running {
		if _, _, err := e.step(ctx, running[i].ID); err != nil {
			e.logger.Error("step failed",
				zap.String("execution_id", running[i].ID), zap.Error(err))
		}
	}
}

// Drive advances one execution until it reaches a terminal or paused
// state. Used by tests and by synchronous callers; the Run loop reaches
// the same states one tick at a time.
func (e *Engine) Drive(ctx context.Context, executionID string) error {
	// adopt if still pending
	err := e.store.TransitionExecution(ctx, executionID,
		[]types.ExecutionStatus{types.ExecutionPending}, types.ExecutionRunning)
	if err == nil {
		e.publish(ctx, events.Event{Type: events.ExecutionStarted, ExecutionID: executionID})
	} else if types.GetErrorCode(err) != types.ErrInvalidState {
		return err
	}

	for {
		status, progressed, err := e.step(ctx, executionID)
		if err != nil {
			return err
		}
		if status.Terminal() || status == types.ExecutionPaused {
			return nil
		}
		if !progressed {
			// blocked on retry backoff or another worker's claims
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(20 * time.Millisecond):
			}
		}
	}
}

// definition returns the parsed, validated workflow of an execution,
// parsing the stored JSON on first use (crash recovery path).
func (e *Engine) definition(exec *store.Execution) (*workflow.Validated, error) {
	if v, ok := e.defs.Load(exec.ID); ok {
		return v.(*workflow.Validated), nil
	}
	wf, err := workflow.FromJSON(string(exec.Definition))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError,
			"stored workflow definition is unreadable").WithCause(err)
	}
	validated, err := workflow.Validate(wf, e.registry)
	if err != nil {
		return nil, err
	}
	e.defs.Store(exec.ID, validated)
	return validated, nil
}

func (e *Engine) publish(ctx context.Context, evt events.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, evt); err != nil {
		e.logger.Warn("event publish failed", zap.Error(err))
	}
}

func (e *Engine) recordExecution(status string) {
	if e.metrics != nil {
		e.metrics.RecordExecution(status)
	}
}

func (e *Engine) recordNode(blockType, status string, duration time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordNodeExecution(blockType, status, duration)
	}
}
