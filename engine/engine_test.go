package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/chainflow/blocks"
	"github.com/BaSui01/chainflow/breaker"
	"github.com/BaSui01/chainflow/events"
	"github.com/BaSui01/chainflow/pause"
	"github.com/BaSui01/chainflow/retry"
	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// stubBlock adapts a plain function into a block handler.
type stubBlock struct {
	blockType string
	kind      workflow.BlockKind
	fn        func(ctx context.Context, config, inputs map[string]any, bctx *blocks.Context) (map[string]any, error)
}

func (b *stubBlock) BlockType() string { return b.blockType }

func (b *stubBlock) Info() workflow.BlockInfo { return workflow.BlockInfo{Kind: b.kind} }

func (b *stubBlock) Execute(ctx context.Context, config map[string]any, inputs map[string]any, bctx *blocks.Context) (map[string]any, error) {
	return b.fn(ctx, config, inputs, bctx)
}

func action(blockType string, fn func(ctx context.Context, config, inputs map[string]any, bctx *blocks.Context) (map[string]any, error)) *stubBlock {
	return &stubBlock{blockType: blockType, kind: workflow.BlockKindAction, fn: fn}
}

// recorder tracks in which order nodes ran.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) block(blockType string) *stubBlock {
	return action(blockType, func(ctx context.Context, config, inputs map[string]any, bctx *blocks.Context) (map[string]any, error) {
		r.mu.Lock()
		r.order = append(r.order, bctx.NodeID)
		r.mu.Unlock()
		outputs := map[string]any{"done": true}
		for k, v := range inputs {
			outputs[k] = v
		}
		return outputs, nil
	})
}

func (r *recorder) ran(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if id == nodeID {
			return true
		}
	}
	return false
}

func (r *recorder) indexOf(nodeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range r.order {
		if id == nodeID {
			return i
		}
	}
	return -1
}

type testEnv struct {
	engine *Engine
	store  *store.Store
	pauser *pause.Manager
}

func newTestEnv(t *testing.T, registry *blocks.Registry, brk *breaker.Breaker) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	st := store.New(db, zap.NewNop())
	require.NoError(t, st.AutoMigrate())

	bus := events.NewBus(zap.NewNop())
	t.Cleanup(func() { bus.Close() })

	pauser := pause.NewManager(st, bus, zap.NewNop())

	e := New(Deps{
		Store:    st,
		Registry: registry,
		Breaker:  brk,
		Bus:      bus,
		Pauser:   pauser,
		Logger:   zap.NewNop(),
	}, Config{
		WorkerID:           "test-worker",
		TickInterval:       10 * time.Millisecond,
		HeartbeatInterval:  25 * time.Millisecond,
		ReclaimAfter:       time.Second,
		MaxConcurrentNodes: 8,
		DefaultNodeTimeout: 5 * time.Second,
		DefaultMaxRetries:  2,
	})
	t.Cleanup(func() { e.pool.Close() })

	// short backoffs keep retry scenarios fast
	e.policy = &retry.Policy{
		MaxRetries:   3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}

	return &testEnv{engine: e, store: st, pauser: pauser}
}

func testWorkflow(nodes []workflow.Node, edges []workflow.Edge) *workflow.Workflow {
	return &workflow.Workflow{
		ID:      "wf-1",
		Name:    "test workflow",
		Version: 1,
		Nodes:   nodes,
		Edges:   edges,
	}
}

func TestDriveCompletesLinearWorkflow(t *testing.T) {
	rec := &recorder{}
	registry := blocks.NewRegistry()
	registry.MustRegister(blocks.NewTriggerBlock())
	registry.MustRegister(rec.block("record"))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow(
		[]workflow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "a", Type: "record"},
			{ID: "b", Type: "record"},
		},
		[]workflow.Edge{
			{Source: "start", Target: "a"},
			{Source: "a", Target: "b"},
		},
	)

	exec, err := env.engine.Enqueue(ctx, wf, map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, got.Status)

	assert.Less(t, rec.indexOf("a"), rec.indexOf("b"))

	for _, ne := range got.Nodes {
		assert.Equal(t, types.NodeCompleted, ne.Status, ne.NodeID)
		if ne.NodeID == "b" {
			// the trigger payload flows through the whole chain
			assert.Equal(t, "o-1", ne.Outputs["order_id"])
		}
	}
}

func TestDriveConditionSkipsUntakenBranch(t *testing.T) {
	rec := &recorder{}
	registry := blocks.NewRegistry()
	registry.MustRegister(blocks.NewTriggerBlock())
	registry.MustRegister(blocks.NewConditionBlock())
	registry.MustRegister(rec.block("record"))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow(
		[]workflow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "check", Type: "condition", Config: map[string]any{"expression": "amount > 100"}},
			{ID: "big", Type: "record"},
			{ID: "small", Type: "record"},
		},
		[]workflow.Edge{
			{Source: "start", Target: "check"},
			{Source: "check", Target: "big", SourceHandle: workflow.HandleTrue},
			{Source: "check", Target: "small", SourceHandle: workflow.HandleFalse},
		},
	)

	exec, err := env.engine.Enqueue(ctx, wf, map[string]any{"amount": 250})
	require.NoError(t, err)
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, got.Status)

	byNode := map[string]types.NodeStatus{}
	for _, ne := range got.Nodes {
		byNode[ne.NodeID] = ne.Status
	}
	assert.Equal(t, types.NodeCompleted, byNode["big"])
	assert.Equal(t, types.NodeSkipped, byNode["small"])
	assert.True(t, rec.ran("big"))
	assert.False(t, rec.ran("small"))
}

func TestDriveSkipCascadesThroughUntakenSubtree(t *testing.T) {
	rec := &recorder{}
	registry := blocks.NewRegistry()
	registry.MustRegister(blocks.NewTriggerBlock())
	registry.MustRegister(blocks.NewConditionBlock())
	registry.MustRegister(rec.block("record"))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	// the untaken branch heads a three-deep chain; the join below it
	// also has a live edge from the taken side
	wf := testWorkflow(
		[]workflow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "check", Type: "condition", Config: map[string]any{"expression": "amount > 100"}},
			{ID: "refund", Type: "record"},
			{ID: "notify", Type: "record"},
			{ID: "archive", Type: "record"},
			{ID: "ship", Type: "record"},
			{ID: "close", Type: "record"},
		},
		[]workflow.Edge{
			{Source: "start", Target: "check"},
			{Source: "check", Target: "ship", SourceHandle: workflow.HandleTrue},
			{Source: "check", Target: "refund", SourceHandle: workflow.HandleFalse},
			{Source: "refund", Target: "notify"},
			{Source: "notify", Target: "archive"},
			{Source: "ship", Target: "close"},
			{Source: "archive", Target: "close"},
		},
	)

	exec, err := env.engine.Enqueue(ctx, wf, map[string]any{"amount": 250})
	require.NoError(t, err)
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, got.Status)

	byNode := map[string]types.NodeStatus{}
	for _, ne := range got.Nodes {
		byNode[ne.NodeID] = ne.Status
	}
	assert.Equal(t, types.NodeSkipped, byNode["refund"])
	assert.Equal(t, types.NodeSkipped, byNode["notify"])
	assert.Equal(t, types.NodeSkipped, byNode["archive"])
	assert.Equal(t, types.NodeCompleted, byNode["ship"])
	assert.Equal(t, types.NodeCompleted, byNode["close"], "join survives via the live edge")
	assert.False(t, rec.ran("refund"))
	assert.False(t, rec.ran("notify"))
	assert.True(t, rec.ran("close"))
}

func TestDriveRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	registry := blocks.NewRegistry()
	registry.MustRegister(action("flaky", func(ctx context.Context, config, inputs map[string]any, bctx *blocks.Context) (map[string]any, error) {
		if calls.Add(1) < 3 {
			return nil, types.NewRetryable("upstream hiccup", nil)
		}
		return map[string]any{"ok": true}, nil
	}))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow([]workflow.Node{{ID: "f", Type: "flaky", MaxRetries: 3}}, nil)

	exec, err := env.engine.Enqueue(ctx, wf, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, got.Status)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, types.NodeCompleted, got.Nodes[0].Status)
	assert.Equal(t, 3, got.Nodes[0].Attempt)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDriveFailsAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	registry := blocks.NewRegistry()
	registry.MustRegister(action("down", func(ctx context.Context, config, inputs map[string]any, bctx *blocks.Context) (map[string]any, error) {
		calls.Add(1)
		return nil, types.NewRetryable("still down", nil)
	}))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow([]workflow.Node{{ID: "d", Type: "down", MaxRetries: 1}}, nil)

	exec, err := env.engine.Enqueue(ctx, wf, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionFailed, got.Status)
	assert.Contains(t, got.Error, "d")
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, types.NodeFailed, got.Nodes[0].Status)
	// the first attempt plus one retry
	assert.EqualValues(t, 2, calls.Load())
}

func TestDriveFatalErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	registry := blocks.NewRegistry()
	registry.MustRegister(action("bad", func(ctx context.Context, config, inputs map[string]any, bctx *blocks.Context) (map[string]any, error) {
		calls.Add(1)
		return nil, types.NewFatal("config rejected", nil)
	}))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow([]workflow.Node{{ID: "n", Type: "bad", MaxRetries: 3}}, nil)

	exec, err := env.engine.Enqueue(ctx, wf, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionFailed, got.Status)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDriveContinuePolicyKeepsSiblingsRunning(t *testing.T) {
	rec := &recorder{}
	registry := blocks.NewRegistry()
	registry.MustRegister(blocks.NewTriggerBlock())
	registry.MustRegister(rec.block("record"))
	registry.MustRegister(action("bad", func(ctx context.Context, config, inputs map[string]any, bctx *blocks.Context) (map[string]any, error) {
		return nil, types.NewFatal("optional step broke", nil)
	}))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow(
		[]workflow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "optional", Type: "bad", FailurePolicy: types.FailureContinue},
			{ID: "after_optional", Type: "record"},
			{ID: "main", Type: "record"},
		},
		[]workflow.Edge{
			{Source: "start", Target: "optional"},
			{Source: "optional", Target: "after_optional"},
			{Source: "start", Target: "main"},
		},
	)

	exec, err := env.engine.Enqueue(ctx, wf, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, got.Status)

	byNode := map[string]types.NodeStatus{}
	for _, ne := range got.Nodes {
		byNode[ne.NodeID] = ne.Status
	}
	assert.Equal(t, types.NodeFailed, byNode["optional"])
	assert.Equal(t, types.NodeSkipped, byNode["after_optional"])
	assert.Equal(t, types.NodeCompleted, byNode["main"])
}

func TestDrivePauseAndResume(t *testing.T) {
	rec := &recorder{}
	registry := blocks.NewRegistry()
	registry.MustRegister(blocks.NewTriggerBlock())
	registry.MustRegister(blocks.NewApprovalBlock())
	registry.MustRegister(rec.block("record"))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow(
		[]workflow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "approve", Type: "approval", Config: map[string]any{"prompt": "release funds?"}},
			{ID: "release", Type: "record"},
		},
		[]workflow.Edge{
			{Source: "start", Target: "approve"},
			{Source: "approve", Target: "release"},
		},
	)

	exec, err := env.engine.Enqueue(ctx, wf, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionPaused, got.Status)
	assert.False(t, rec.ran("release"))

	snap, err := env.store.ActiveSnapshot(ctx, exec.ID)
	require.NoError(t, err)
	assert.Contains(t, snap.WaitKey, "approval:")

	require.NoError(t, env.pauser.Resume(ctx, exec.ID, map[string]any{
		"approved": true, "comment": "looks good",
	}))
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err = env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, got.Status)
	assert.True(t, rec.ran("release"))

	for _, ne := range got.Nodes {
		if ne.NodeID == "approve" {
			assert.Equal(t, true, ne.Outputs["approved"])
			assert.Equal(t, "looks good", ne.Outputs["comment"])
		}
	}
}

func TestCancelPreemptsPendingNodes(t *testing.T) {
	rec := &recorder{}
	registry := blocks.NewRegistry()
	registry.MustRegister(rec.block("record"))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow([]workflow.Node{{ID: "n", Type: "record"}}, nil)

	exec, err := env.engine.Enqueue(ctx, wf, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Cancel(ctx, exec.ID))
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCancelled, got.Status)
	assert.False(t, rec.ran("n"))
}

func TestCancelTerminalExecutionFails(t *testing.T) {
	registry := blocks.NewRegistry()
	registry.MustRegister(blocks.NewTriggerBlock())
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow([]workflow.Node{{ID: "start", Type: "trigger"}}, nil)
	exec, err := env.engine.Enqueue(ctx, wf, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	err = env.engine.Cancel(ctx, exec.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))
}

func TestDriveRecoversDefinitionFromStore(t *testing.T) {
	rec := &recorder{}
	registry := blocks.NewRegistry()
	registry.MustRegister(blocks.NewTriggerBlock())
	registry.MustRegister(rec.block("record"))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow(
		[]workflow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "work", Type: "record"},
		},
		[]workflow.Edge{{Source: "start", Target: "work"}},
	)

	exec, err := env.engine.Enqueue(ctx, wf, map[string]any{"k": "v"})
	require.NoError(t, err)

	// a second engine over the same store has no cached definition and
	// must re-parse the stored one, as after a process restart
	other := New(Deps{
		Store:    env.store,
		Registry: registry,
		Pauser:   env.pauser,
		Logger:   zap.NewNop(),
	}, Config{WorkerID: "other-worker"})
	t.Cleanup(func() { other.pool.Close() })

	require.NoError(t, other.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, got.Status)
	assert.True(t, rec.ran("work"))
}

func TestRetryNodeRequeuesFailedExecution(t *testing.T) {
	var healthy atomic.Bool
	registry := blocks.NewRegistry()
	registry.MustRegister(action("toggle", func(ctx context.Context, config, inputs map[string]any, bctx *blocks.Context) (map[string]any, error) {
		if !healthy.Load() {
			return nil, types.NewFatal("dependency missing", nil)
		}
		return map[string]any{"ok": true}, nil
	}))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow([]workflow.Node{{ID: "t", Type: "toggle"}}, nil)

	exec, err := env.engine.Enqueue(ctx, wf, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, types.ExecutionFailed, got.Status)

	healthy.Store(true)
	require.NoError(t, env.engine.RetryNode(ctx, exec.ID, "t"))
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err = env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestOpenCircuitDefersNodeWithoutConsumingRetries(t *testing.T) {
	var calls atomic.Int32
	registry := blocks.NewRegistry()
	registry.MustRegister(action("svc", func(ctx context.Context, config, inputs map[string]any, bctx *blocks.Context) (map[string]any, error) {
		calls.Add(1)
		return map[string]any{"ok": true}, nil
	}))

	brk := breaker.New(breaker.Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	}, breaker.NewLocalStore(), zap.NewNop())
	env := newTestEnv(t, registry, brk)
	ctx := context.Background()

	// trip the circuit for the block's resource before dispatch
	require.NoError(t, brk.RecordFailure(ctx, "svc"))

	wf := testWorkflow([]workflow.Node{{ID: "n", Type: "svc", MaxRetries: 1}}, nil)

	exec, err := env.engine.Enqueue(ctx, wf, nil)
	require.NoError(t, err)
	require.NoError(t, env.store.TransitionExecution(ctx, exec.ID,
		[]types.ExecutionStatus{types.ExecutionPending}, types.ExecutionRunning))

	// ticking against the tripped circuit parks the node until the
	// cooldown window closes; the handler never runs and the retry
	// budget stays untouched
	for i := 0; i < 3; i++ {
		status, _, err := env.engine.step(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, types.ExecutionRunning, status)

		ne, err := env.store.GetNodeExecution(ctx, exec.ID, "n")
		require.NoError(t, err)
		assert.Equal(t, types.NodePending, ne.Status)
		assert.Zero(t, ne.Attempt)
		require.NotNil(t, ne.NextRetryAt)
		assert.Greater(t, time.Until(*ne.NextRetryAt), 30*time.Minute)
		assert.EqualValues(t, 0, calls.Load())

		// make the node claimable again for the next tick
		require.NoError(t, env.store.DB().Model(&store.NodeExecution{}).
			Where("id = ?", ne.ID).Update("next_retry_at", nil).Error)
	}

	// once the circuit closes the node runs with its full budget intact
	require.NoError(t, brk.Reset(ctx, "svc"))
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, got.Status)
	assert.EqualValues(t, 1, calls.Load())
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, 1, got.Nodes[0].Attempt)
}

func TestTickReclaimsAbandonedClaimAndFinishes(t *testing.T) {
	rec := &recorder{}
	registry := blocks.NewRegistry()
	registry.MustRegister(rec.block("record"))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow(
		[]workflow.Node{
			{ID: "a", Type: "record"},
			{ID: "b", Type: "record"},
		},
		[]workflow.Edge{{Source: "a", Target: "b"}},
	)

	exec, err := env.engine.Enqueue(ctx, wf, map[string]any{"order_id": "o-9"})
	require.NoError(t, err)
	require.NoError(t, env.store.TransitionExecution(ctx, exec.ID,
		[]types.ExecutionStatus{types.ExecutionPending}, types.ExecutionRunning))

	// a worker that is now gone finished "a" and died mid-attempt on "b"
	a, err := env.store.GetNodeExecution(ctx, exec.ID, "a")
	require.NoError(t, err)
	claimed, err := env.store.TryClaimNode(ctx, a.ID, "worker-gone")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, env.store.CompleteNode(ctx, a.ID, store.JSONMap{"order_id": "o-9"}))

	b, err := env.store.GetNodeExecution(ctx, exec.ID, "b")
	require.NoError(t, err)
	claimed, err = env.store.TryClaimNode(ctx, b.ID, "worker-gone")
	require.NoError(t, err)
	require.True(t, claimed)

	stale := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, env.store.DB().Model(&store.NodeExecution{}).
		Where("id = ?", b.ID).Update("heartbeat_at", &stale).Error)

	// a fresh tick reclaims the stale claim and finishes the execution
	env.engine.tick(ctx)

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, got.Status)

	assert.False(t, rec.ran("a"), "completed upstream work must not run again")
	assert.True(t, rec.ran("b"))

	for _, ne := range got.Nodes {
		switch ne.NodeID {
		case "a":
			assert.Equal(t, types.NodeCompleted, ne.Status)
			assert.Equal(t, 1, ne.Attempt)
		case "b":
			assert.Equal(t, types.NodeCompleted, ne.Status)
			assert.Equal(t, 2, ne.Attempt, "the reclaimed attempt counts")
			assert.Equal(t, "o-9", ne.Outputs["order_id"])
		}
	}
}

func TestDriveNodeTimeout(t *testing.T) {
	registry := blocks.NewRegistry()
	registry.MustRegister(action("slow", func(ctx context.Context, config, inputs map[string]any, bctx *blocks.Context) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]any{"ok": true}, nil
		}
	}))
	env := newTestEnv(t, registry, nil)
	ctx := context.Background()

	wf := testWorkflow([]workflow.Node{
		{ID: "n", Type: "slow", MaxRetries: 0, TimeoutSeconds: 1},
	}, nil)
	// shrink further than the node can express in whole seconds
	env.engine.config.DefaultNodeTimeout = 30 * time.Millisecond
	wf.Nodes[0].TimeoutSeconds = 0

	exec, err := env.engine.Enqueue(ctx, wf, nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.Drive(ctx, exec.ID))

	got, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionFailed, got.Status)
	require.Len(t, got.Nodes, 1)
	assert.Contains(t, strings.ToLower(got.Nodes[0].Error), "timed out")
}

func TestEnqueueRejectsInvalidWorkflow(t *testing.T) {
	registry := blocks.NewRegistry()
	registry.MustRegister(blocks.NewTriggerBlock())
	env := newTestEnv(t, registry, nil)

	wf := testWorkflow([]workflow.Node{{ID: "n", Type: "nonexistent"}}, nil)

	_, err := env.engine.Enqueue(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrBlockNotFound, types.GetErrorCode(err))
}

func TestResourceFor(t *testing.T) {
	cases := []struct {
		name string
		node workflow.Node
		want string
	}{
		{"http by host", workflow.Node{Type: "http", Config: map[string]any{"url": "https://api.example.com/v1/orders"}}, "api.example.com"},
		{"email", workflow.Node{Type: "email"}, "smtp"},
		{"chain tx", workflow.Node{Type: "chain_tx"}, "chain-rpc"},
		{"fallback to type", workflow.Node{Type: "transform"}, "transform"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node := tc.node
			assert.Equal(t, tc.want, resourceFor(&node))
		})
	}
}
