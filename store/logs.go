package store

import (
	"context"

	"github.com/BaSui01/chainflow/types"
)

// AppendLog writes one audit line. Log failures are reported but never
// block execution progress; callers decide whether to ignore them.
func (s *Store) AppendLog(ctx context.Context, executionID, nodeID string, level types.LogLevel, message string, fields JSONMap) error {
	entry := ExecutionLog{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Level:       level,
		Message:     message,
		Fields:      fields,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return storeErr("append log", err)
	}
	return nil
}

// ListLogs returns an execution's audit lines in insertion order.
func (s *Store) ListLogs(ctx context.Context, executionID string, limit int) ([]ExecutionLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var logs []ExecutionLog
	err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("id").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, storeErr("list logs", err)
	}
	return logs, nil
}
