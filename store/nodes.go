package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/chainflow/types"
)

// GetNodeExecution loads one node state by execution and node ID.
func (s *Store) GetNodeExecution(ctx context.Context, executionID, nodeID string) (*NodeExecution, error) {
	var ne NodeExecution
	err := s.db.WithContext(ctx).
		First(&ne, "execution_id = ? AND node_id = ?", executionID, nodeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "node execution not found: "+executionID+"/"+nodeID)
	}
	if err != nil {
		return nil, storeErr("get node execution", err)
	}
	return &ne, nil
}

// ListNodeExecutions returns all node states of one execution.
func (s *Store) ListNodeExecutions(ctx context.Context, executionID string) ([]NodeExecution, error) {
	var nodes []NodeExecution
	err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at").
		Find(&nodes).Error
	if err != nil {
		return nil, storeErr("list node executions", err)
	}
	return nodes, nil
}

// TryClaimNode attempts to take ownership of a pending node attempt.
// The claim is a single conditional UPDATE: only one caller sees
// RowsAffected == 1, so a node attempt is dispatched at most once even
// with several workers ticking the same execution. A node whose retry
// backoff has not elapsed is not claimable yet.
func (s *Store) TryClaimNode(ctx context.Context, id, workerID string) (bool, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&NodeExecution{}).
		Where("id = ? AND status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			id, types.NodePending, now).
		Updates(map[string]any{
			"status":       types.NodeRunning,
			"claimed_by":   workerID,
			"heartbeat_at": &now,
			"started_at":   &now,
			"attempt":      gorm.Expr("attempt + 1"),
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, storeErr("claim node", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Heartbeat refreshes the claim on a running node. A zero-row update
// means the claim was lost (reclaimed or finished elsewhere); the
// worker must abandon the attempt.
func (s *Store) Heartbeat(ctx context.Context, id, workerID string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&NodeExecution{}).
		Where("id = ? AND claimed_by = ? AND status = ?", id, workerID, types.NodeRunning).
		Updates(map[string]any{"heartbeat_at": &now, "updated_at": now})
	if res.Error != nil {
		return storeErr("heartbeat", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrInvalidState, "claim lost for node execution "+id)
	}
	return nil
}

// CompleteNode records a successful attempt.
func (s *Store) CompleteNode(ctx context.Context, id string, outputs JSONMap) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&NodeExecution{}).
		Where("id = ? AND status = ?", id, types.NodeRunning).
		Updates(map[string]any{
			"status":      types.NodeCompleted,
			"outputs":     outputs,
			"error":       "",
			"finished_at": &now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return storeErr("complete node", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrInvalidState, "node execution "+id+" is not running")
	}
	return nil
}

// FailNode records a failed attempt. With retryAt set the node returns
// to pending and becomes claimable once the backoff elapses; otherwise
// it is terminally failed.
func (s *Store) FailNode(ctx context.Context, id, message string, retryAt *time.Time) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"error":        message,
		"claimed_by":   "",
		"heartbeat_at": nil,
		"updated_at":   now,
	}
	if retryAt != nil {
		updates["status"] = types.NodePending
		updates["next_retry_at"] = retryAt
	} else {
		updates["status"] = types.NodeFailed
		updates["finished_at"] = &now
	}

	res := s.db.WithContext(ctx).Model(&NodeExecution{}).
		Where("id = ? AND status = ?", id, types.NodeRunning).
		Updates(updates)
	if res.Error != nil {
		return storeErr("fail node", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrInvalidState, "node execution "+id+" is not running")
	}
	return nil
}

// ReleaseNode hands a claimed node back untouched. Used when the
// attempt never reached the handler (open circuit, saturated dispatch
// pool): the claim's attempt increment is rolled back and the node
// becomes claimable again at retryAt.
func (s *Store) ReleaseNode(ctx context.Context, id, workerID string, retryAt time.Time) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&NodeExecution{}).
		Where("id = ? AND claimed_by = ? AND status = ?", id, workerID, types.NodeRunning).
		Updates(map[string]any{
			"status":        types.NodePending,
			"claimed_by":    "",
			"heartbeat_at":  nil,
			"started_at":    nil,
			"attempt":       gorm.Expr("attempt - 1"),
			"next_retry_at": &retryAt,
			"updated_at":    now,
		})
	if res.Error != nil {
		return storeErr("release node", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrInvalidState, "claim lost for node execution "+id)
	}
	return nil
}

// PauseNode parks a running node while the execution waits for external
// input. Resume puts it back to pending with merged inputs.
func (s *Store) PauseNode(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&NodeExecution{}).
		Where("id = ? AND status = ?", id, types.NodeRunning).
		Updates(map[string]any{
			"status":       types.NodePaused,
			"claimed_by":   "",
			"heartbeat_at": nil,
			"updated_at":   now,
		})
	if res.Error != nil {
		return storeErr("pause node", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrInvalidState, "node execution "+id+" is not running")
	}
	return nil
}

// ResumeNode moves a paused node back to pending with the resume data
// merged over its stored inputs.
func (s *Store) ResumeNode(ctx context.Context, id string, resumeData map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ne NodeExecution
		if err := tx.First(&ne, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewError(types.ErrNotFound, "node execution not found: "+id)
			}
			return storeErr("resume node", err)
		}
		if ne.Status != types.NodePaused {
			return types.NewError(types.ErrInvalidState, "node execution "+id+" is not paused")
		}

		merged := make(JSONMap, len(ne.Inputs)+len(resumeData))
		for k, v := range ne.Inputs {
			merged[k] = v
		}
		for k, v := range resumeData {
			merged[k] = v
		}

		now := time.Now().UTC()
		return tx.Model(&NodeExecution{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":        types.NodePending,
				"inputs":        merged,
				"next_retry_at": nil,
				"updated_at":    now,
			}).Error
	})
}

// SetNodeInputs stores the resolved inputs a node will run with.
func (s *Store) SetNodeInputs(ctx context.Context, id string, inputs JSONMap) error {
	err := s.db.WithContext(ctx).Model(&NodeExecution{}).
		Where("id = ?", id).
		Update("inputs", inputs).Error
	if err != nil {
		return storeErr("set node inputs", err)
	}
	return nil
}

// SkipNodes marks pending nodes of an execution as skipped.
func (s *Store) SkipNodes(ctx context.Context, executionID string, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&NodeExecution{}).
		Where("execution_id = ? AND node_id IN ? AND status = ?",
			executionID, nodeIDs, types.NodePending).
		Updates(map[string]any{
			"status":      types.NodeSkipped,
			"finished_at": &now,
			"updated_at":  now,
		}).Error
	if err != nil {
		return storeErr("skip nodes", err)
	}
	return nil
}

// ResetNodeForRetry puts a terminally failed node back to pending. Used
// by the manual retry-node operation.
func (s *Store) ResetNodeForRetry(ctx context.Context, executionID, nodeID string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&NodeExecution{}).
		Where("execution_id = ? AND node_id = ? AND status = ?",
			executionID, nodeID, types.NodeFailed).
		Updates(map[string]any{
			"status":        types.NodePending,
			"error":         "",
			"attempt":       0,
			"next_retry_at": nil,
			"finished_at":   nil,
			"updated_at":    now,
		})
	if res.Error != nil {
		return storeErr("reset node for retry", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrInvalidState,
			"node "+nodeID+" of execution "+executionID+" is not failed")
	}
	return nil
}

// ReclaimAbandoned returns running nodes whose heartbeat is older than
// maxAge to pending so another worker can pick them up. Covers worker
// crashes mid-attempt.
func (s *Store) ReclaimAbandoned(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res := s.db.WithContext(ctx).Model(&NodeExecution{}).
		Where("status = ? AND heartbeat_at < ?", types.NodeRunning, cutoff).
		Updates(map[string]any{
			"status":       types.NodePending,
			"claimed_by":   "",
			"heartbeat_at": nil,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, storeErr("reclaim abandoned nodes", res.Error)
	}
	return res.RowsAffected, nil
}
