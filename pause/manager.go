// Package pause moves executions in and out of the paused state.
//
// Two things pause an execution: a block raising a pause signal
// (approval, on-chain confirmation wait) and an operator asking for it.
// Both leave a snapshot row behind; resume closes the snapshot exactly
// once, merges the resume data into the waiting node's inputs and puts
// the execution back in front of the scheduler.
package pause

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/events"
	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/types"
)

// ManualWaitKeyPrefix marks operator-requested pauses.
const ManualWaitKeyPrefix = "manual:"

type Manager struct {
	store  *store.Store
	bus    *events.Bus
	logger *zap.Logger
}

func NewManager(st *store.Store, bus *events.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, bus: bus, logger: logger.With(zap.String("component", "pause"))}
}

// PauseForSignal handles a pause signal raised by a running node: the
// node is parked, a snapshot records the wait, and the execution leaves
// the running state.
func (m *Manager) PauseForSignal(ctx context.Context, executionID, nodeID, nodeExecID string, sig *types.PauseSignal) (*store.PauseSnapshot, error) {
	if err := m.store.PauseNode(ctx, nodeExecID); err != nil {
		return nil, err
	}

	snap := &store.PauseSnapshot{
		ID:           uuid.NewString(),
		ExecutionID:  executionID,
		NodeID:       nodeID,
		Reason:       sig.Reason,
		WaitKey:      sig.WaitKey,
		PendingInput: sig.PendingInput,
	}
	if err := m.store.CreatePauseSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	err := m.store.TransitionExecution(ctx, executionID,
		[]types.ExecutionStatus{types.ExecutionRunning}, types.ExecutionPaused)
	if err != nil {
		return nil, err
	}

	m.logger.Info("execution paused",
		zap.String("execution_id", executionID),
		zap.String("node_id", nodeID),
		zap.String("wait_key", sig.WaitKey),
		zap.String("reason", sig.Reason))

	m.publish(ctx, events.Event{
		Type:        events.ExecutionPaused,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Payload: map[string]any{
			"reason":   sig.Reason,
			"wait_key": sig.WaitKey,
		},
	})
	return snap, nil
}

// RequestPause is the operator-initiated variant. Running nodes finish
// their current attempt; nothing new is dispatched until resume.
func (m *Manager) RequestPause(ctx context.Context, executionID, reason string) error {
	err := m.store.TransitionExecution(ctx, executionID,
		[]types.ExecutionStatus{types.ExecutionPending, types.ExecutionRunning}, types.ExecutionPaused)
	if err != nil {
		return err
	}

	if reason == "" {
		reason = "paused by operator"
	}
	snap := &store.PauseSnapshot{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Reason:      reason,
		WaitKey:     ManualWaitKeyPrefix + executionID,
	}
	if err := m.store.CreatePauseSnapshot(ctx, snap); err != nil {
		return err
	}

	m.logger.Info("execution paused by operator", zap.String("execution_id", executionID))
	m.publish(ctx, events.Event{
		Type:        events.ExecutionPaused,
		ExecutionID: executionID,
		Payload:     map[string]any{"reason": reason},
	})
	return nil
}

// Resume closes the active snapshot of a paused execution and hands it
// back to the scheduler. Resuming an execution that is not paused fails
// with NOT_PAUSED.
func (m *Manager) Resume(ctx context.Context, executionID string, resumeData map[string]any) error {
	snap, err := m.store.ActiveSnapshot(ctx, executionID)
	if err != nil {
		return err
	}
	return m.resumeSnapshot(ctx, snap, resumeData)
}

// ResumeByWaitKey resumes whichever execution waits on the key. The
// transaction tracker uses this: a confirmation knows its tx hash, not
// its execution.
func (m *Manager) ResumeByWaitKey(ctx context.Context, waitKey string, resumeData map[string]any) (string, error) {
	snap, err := m.store.SnapshotByWaitKey(ctx, waitKey)
	if err != nil {
		return "", err
	}
	if err := m.resumeSnapshot(ctx, snap, resumeData); err != nil {
		return "", err
	}
	return snap.ExecutionID, nil
}

func (m *Manager) resumeSnapshot(ctx context.Context, snap *store.PauseSnapshot, resumeData map[string]any) error {
	if err := m.store.MarkSnapshotResumed(ctx, snap.ID, resumeData); err != nil {
		return err
	}

	// signal-raised pauses have a waiting node to rearm
	if snap.NodeID != "" {
		ne, err := m.store.GetNodeExecution(ctx, snap.ExecutionID, snap.NodeID)
		if err != nil {
			return err
		}
		if err := m.store.ResumeNode(ctx, ne.ID, resumeData); err != nil {
			return err
		}
	}

	err := m.store.TransitionExecution(ctx, snap.ExecutionID,
		[]types.ExecutionStatus{types.ExecutionPaused}, types.ExecutionPending)
	if err != nil {
		return err
	}

	m.logger.Info("execution resumed",
		zap.String("execution_id", snap.ExecutionID),
		zap.String("wait_key", snap.WaitKey))

	m.publish(ctx, events.Event{
		Type:        events.ExecutionResumed,
		ExecutionID: snap.ExecutionID,
		NodeID:      snap.NodeID,
		Payload:     map[string]any{"wait_key": snap.WaitKey},
	})
	return nil
}

func (m *Manager) publish(ctx context.Context, evt events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		m.logger.Warn("event publish failed", zap.Error(err))
	}
}
