package pause

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/chainflow/events"
	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/types"
)

func setup(t *testing.T) (*Manager, *store.Store, *events.Bus) {
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

	return NewManager(st, bus, zap.NewNop()), st, bus
}

// seedRunning creates an execution with one claimed, running node.
func seedRunning(t *testing.T, st *store.Store) (*store.Execution, *store.NodeExecution) {
	t.Helper()
	ctx := context.Background()
	exec := &store.Execution{
		ID:         uuid.NewString(),
		WorkflowID: "wf-1",
		Status:     types.ExecutionPending,
	}
	node := store.NodeExecution{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		NodeID:      "approve",
		BlockType:   "approval",
		Status:      types.NodePending,
	}
	require.NoError(t, st.CreateExecution(ctx, exec, []store.NodeExecution{node}))
	require.NoError(t, st.TransitionExecution(ctx, exec.ID,
		[]types.ExecutionStatus{types.ExecutionPending}, types.ExecutionRunning))
	ok, err := st.TryClaimNode(ctx, node.ID, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	return exec, &node
}

func TestPauseForSignalAndResume(t *testing.T) {
	m, st, _ := setup(t)
	exec, node := seedRunning(t, st)
	ctx := context.Background()

	sig := types.NewPauseSignal("approval required", "approval:"+exec.ID+":approve",
		map[string]any{"approved": nil})
	snap, err := m.PauseForSignal(ctx, exec.ID, node.NodeID, node.ID, sig)
	require.NoError(t, err)
	assert.Equal(t, sig.WaitKey, snap.WaitKey)

	got, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionPaused, got.Status)

	ne, err := st.GetNodeExecution(ctx, exec.ID, node.NodeID)
	require.NoError(t, err)
	assert.Equal(t, types.NodePaused, ne.Status)

	require.NoError(t, m.Resume(ctx, exec.ID, map[string]any{"approved": true}))

	got, err = st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionPending, got.Status, "resumed execution goes back to the scheduler")

	ne, err = st.GetNodeExecution(ctx, exec.ID, node.NodeID)
	require.NoError(t, err)
	assert.Equal(t, types.NodePending, ne.Status)
	assert.Equal(t, true, ne.Inputs["approved"], "resume data lands in the node inputs")
}

func TestResumeNotPaused(t *testing.T) {
	m, st, _ := setup(t)
	exec, _ := seedRunning(t, st)

	err := m.Resume(context.Background(), exec.ID, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotPaused, types.GetErrorCode(err))
}

func TestResumeIsOneShot(t *testing.T) {
	m, st, _ := setup(t)
	exec, node := seedRunning(t, st)
	ctx := context.Background()

	sig := types.NewPauseSignal("wait", "k1", nil)
	_, err := m.PauseForSignal(ctx, exec.ID, node.NodeID, node.ID, sig)
	require.NoError(t, err)

	require.NoError(t, m.Resume(ctx, exec.ID, nil))

	err = m.Resume(ctx, exec.ID, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotPaused, types.GetErrorCode(err))
}

func TestResumeByWaitKey(t *testing.T) {
	m, st, _ := setup(t)
	exec, node := seedRunning(t, st)
	ctx := context.Background()

	sig := types.NewPauseSignal("waiting for on-chain confirmation", "tx:0xabc",
		map[string]any{"tx_hash": "0xabc"})
	_, err := m.PauseForSignal(ctx, exec.ID, node.NodeID, node.ID, sig)
	require.NoError(t, err)

	execID, err := m.ResumeByWaitKey(ctx, "tx:0xabc", map[string]any{
		"tx_hash": "0xabc", "status": "confirmed", "block_number": 42,
	})
	require.NoError(t, err)
	assert.Equal(t, exec.ID, execID)

	ne, err := st.GetNodeExecution(ctx, exec.ID, node.NodeID)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", ne.Inputs["status"])

	_, err = m.ResumeByWaitKey(ctx, "tx:0xnope", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestOperatorPauseAndResume(t *testing.T) {
	m, st, bus := setup(t)
	exec, _ := seedRunning(t, st)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, m.RequestPause(ctx, exec.ID, "maintenance window"))

	got, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionPaused, got.Status)

	evt := <-ch
	assert.Equal(t, events.ExecutionPaused, evt.Type)
	assert.Equal(t, "maintenance window", evt.Payload["reason"])

	// operator pause has no waiting node, resume only flips the execution
	require.NoError(t, m.Resume(ctx, exec.ID, nil))
	got, err = st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionPending, got.Status)
}

func TestRequestPauseOnTerminalExecution(t *testing.T) {
	m, st, _ := setup(t)
	exec, _ := seedRunning(t, st)
	ctx := context.Background()

	require.NoError(t, st.TransitionExecution(ctx, exec.ID,
		[]types.ExecutionStatus{types.ExecutionRunning}, types.ExecutionCompleted))

	err := m.RequestPause(ctx, exec.ID, "")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))
}
