package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/chainflow/types"
)

// Store is the GORM-backed state store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "store"))}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates or updates the schema for all store models.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&Execution{},
		&NodeExecution{},
		&ExecutionLog{},
		&PauseSnapshot{},
		&ChainTransaction{},
		&TransactionAttempt{},
	)
}

func storeErr(op string, err error) error {
	return types.NewError(types.ErrStore, op+" failed: "+err.Error()).WithCause(err)
}

// CreateExecution persists an execution together with one pending
// NodeExecution per workflow node, atomically.
func (s *Store) CreateExecution(ctx context.Context, exec *Execution, nodes []NodeExecution) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(exec).Error; err != nil {
			return storeErr("create execution", err)
		}
		if len(nodes) > 0 {
			if err := tx.Create(&nodes).Error; err != nil {
				return storeErr("create node executions", err)
			}
		}
		return nil
	})
}

// GetExecution loads an execution with its node states.
func (s *Store) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var exec Execution
	err := s.db.WithContext(ctx).Preload("Nodes").First(&exec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "execution not found: "+id)
	}
	if err != nil {
		return nil, storeErr("get execution", err)
	}
	return &exec, nil
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	WorkflowID string
	Status     types.ExecutionStatus
	Limit      int
	Offset     int
}

// ListExecutions returns a page of executions, newest first, plus the
// total count for the filter.
func (s *Store) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, int64, error) {
	q := s.db.WithContext(ctx).Model(&Execution{})
	if filter.WorkflowID != "" {
		q = q.Where("workflow_id = ?", filter.WorkflowID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storeErr("count executions", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var execs []Execution
	err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&execs).Error
	if err != nil {
		return nil, 0, storeErr("list executions", err)
	}
	return execs, total, nil
}

// TransitionExecution moves an execution between statuses with a
// conditional update. It fails with INVALID_STATE when the execution is
// not in any of the allowed source statuses, which makes concurrent
// transitions race-safe.
func (s *Store) TransitionExecution(ctx context.Context, id string, from []types.ExecutionStatus, to types.ExecutionStatus) error {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	now := time.Now().UTC()
	switch to {
	case types.ExecutionRunning:
		updates["started_at"] = &now
	case types.ExecutionCompleted, types.ExecutionFailed, types.ExecutionCancelled:
		updates["finished_at"] = &now
	}

	res := s.db.WithContext(ctx).Model(&Execution{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return storeErr("transition execution", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrInvalidState,
			"execution "+id+" is not in an allowed state for transition to "+string(to))
	}
	return nil
}

// SetExecutionError records the failure reason alongside a status change.
func (s *Store) SetExecutionError(ctx context.Context, id, message string) error {
	err := s.db.WithContext(ctx).Model(&Execution{}).
		Where("id = ?", id).
		Update("error", message).Error
	if err != nil {
		return storeErr("set execution error", err)
	}
	return nil
}

// ListExecutionsByStatus returns executions in the given status. Used
// on startup to pick up work a crashed process left behind.
func (s *Store) ListExecutionsByStatus(ctx context.Context, status types.ExecutionStatus) ([]Execution, error) {
	var execs []Execution
	err := s.db.WithContext(ctx).Where("status = ?", status).Find(&execs).Error
	if err != nil {
		return nil, storeErr("list executions by status", err)
	}
	return execs, nil
}
