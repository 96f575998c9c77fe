package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/chainflow/types"
)

// CreatePauseSnapshot records why an execution paused and what it waits for.
func (s *Store) CreatePauseSnapshot(ctx context.Context, snap *PauseSnapshot) error {
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return storeErr("create pause snapshot", err)
	}
	return nil
}

// ActiveSnapshot returns the unresumed snapshot of an execution, or a
// NOT_PAUSED error when there is none.
func (s *Store) ActiveSnapshot(ctx context.Context, executionID string) (*PauseSnapshot, error) {
	var snap PauseSnapshot
	err := s.db.WithContext(ctx).
		Where("execution_id = ? AND resumed_at IS NULL", executionID).
		Order("created_at DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotPaused, "execution "+executionID+" is not paused")
	}
	if err != nil {
		return nil, storeErr("get active snapshot", err)
	}
	return &snap, nil
}

// SnapshotByWaitKey finds the unresumed snapshot waiting on a key, e.g.
// a transaction hash. Used by external confirmations to resume without
// knowing the execution ID.
func (s *Store) SnapshotByWaitKey(ctx context.Context, waitKey string) (*PauseSnapshot, error) {
	var snap PauseSnapshot
	err := s.db.WithContext(ctx).
		Where("wait_key = ? AND resumed_at IS NULL", waitKey).
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "no execution waits on key "+waitKey)
	}
	if err != nil {
		return nil, storeErr("get snapshot by wait key", err)
	}
	return &snap, nil
}

// MarkSnapshotResumed closes a snapshot exactly once, storing the data
// the resume arrived with. A second resume of the same snapshot fails
// with INVALID_STATE.
func (s *Store) MarkSnapshotResumed(ctx context.Context, id string, resumeData JSONMap) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&PauseSnapshot{}).
		Where("id = ? AND resumed_at IS NULL", id).
		Updates(map[string]any{
			"resumed_at":  &now,
			"resume_data": resumeData,
		})
	if res.Error != nil {
		return storeErr("mark snapshot resumed", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrInvalidState, "pause snapshot "+id+" was already resumed")
	}
	return nil
}
