// Package triggers starts workflow executions on a schedule. Each
// registered workflow carries a cron expression; when it fires the
// scheduler enqueues a fresh execution with a cron-sourced payload.
package triggers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// Enqueuer starts a new execution of a workflow. Satisfied by
// *engine.Engine.
type Enqueuer interface {
	Enqueue(ctx context.Context, wf *workflow.Workflow, payload map[string]any) (*store.Execution, error)
}

// entry is one scheduled workflow.
type entry struct {
	workflow *workflow.Workflow
	spec     string
	cronID   cron.EntryID
}

// CronScheduler runs registered workflows on their cron schedule.
type CronScheduler struct {
	cron    *cron.Cron
	engine  Enqueuer
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewCronScheduler builds a scheduler around the given engine. Standard
// five-field cron expressions plus descriptors like @hourly are
// accepted.
func NewCronScheduler(engine Enqueuer, logger *zap.Logger) *CronScheduler {
	return &CronScheduler{
		cron:    cron.New(),
		engine:  engine,
		logger:  logger.With(zap.String("component", "cron_scheduler")),
		timeout: 30 * time.Second,
		entries: make(map[string]*entry),
	}
}

// Register schedules a workflow. The workflow must already be valid;
// registering the same workflow ID twice is an error, use Unregister
// first to replace a schedule.
func (cs *CronScheduler) Register(wf *workflow.Workflow, spec string) error {
	if spec == "" {
		return types.NewError(types.ErrInvalidRequest, "cron expression is required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("invalid cron expression %q", spec)).WithCause(err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.entries[wf.ID]; exists {
		return types.NewError(types.ErrInvalidState,
			fmt.Sprintf("workflow %s is already scheduled", wf.ID))
	}

	cronID, err := cs.cron.AddFunc(spec, func() { cs.fire(wf) })
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to schedule workflow").WithCause(err)
	}

	cs.entries[wf.ID] = &entry{workflow: wf, spec: spec, cronID: cronID}
	cs.logger.Info("workflow scheduled",
		zap.String("workflow_id", wf.ID),
		zap.String("cron", spec),
	)
	return nil
}

// Unregister removes a workflow's schedule. Executions already enqueued
// are not affected.
func (cs *CronScheduler) Unregister(workflowID string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	ent, exists := cs.entries[workflowID]
	if !exists {
		return types.NewError(types.ErrNotFound,
			fmt.Sprintf("workflow %s is not scheduled", workflowID)).WithResource(workflowID)
	}

	cs.cron.Remove(ent.cronID)
	delete(cs.entries, workflowID)
	cs.logger.Info("workflow unscheduled", zap.String("workflow_id", workflowID))
	return nil
}

// Scheduled returns the IDs of all registered workflows.
func (cs *CronScheduler) Scheduled() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	ids := make([]string, 0, len(cs.entries))
	for id := range cs.entries {
		ids = append(ids, id)
	}
	return ids
}

// Schedule describes one registered workflow schedule.
type Schedule struct {
	WorkflowID   string    `json:"workflow_id"`
	WorkflowName string    `json:"workflow_name"`
	Cron         string    `json:"cron"`
	NextRun      time.Time `json:"next_run"`
}

// Schedules returns all registered schedules with their next fire time.
func (cs *CronScheduler) Schedules() []Schedule {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]Schedule, 0, len(cs.entries))
	for id, ent := range cs.entries {
		out = append(out, Schedule{
			WorkflowID:   id,
			WorkflowName: ent.workflow.Name,
			Cron:         ent.spec,
			NextRun:      cs.cron.Entry(ent.cronID).Next,
		})
	}
	return out
}

// fire enqueues one execution of a scheduled workflow.
func (cs *CronScheduler) fire(wf *workflow.Workflow) {
	ctx, cancel := context.WithTimeout(context.Background(), cs.timeout)
	defer cancel()

	payload := map[string]any{
		"source":       "cron",
		"scheduled_at": time.Now().UTC().Format(time.RFC3339),
	}

	exec, err := cs.engine.Enqueue(ctx, wf, payload)
	if err != nil {
		cs.logger.Error("scheduled enqueue failed",
			zap.String("workflow_id", wf.ID),
			zap.Error(err),
		)
		return
	}

	cs.logger.Info("scheduled execution enqueued",
		zap.String("workflow_id", wf.ID),
		zap.String("execution_id", exec.ID),
	)
}

// Start begins firing schedules in a background goroutine.
func (cs *CronScheduler) Start() {
	cs.cron.Start()
	cs.logger.Info("cron scheduler started")
}

// Stop halts scheduling and waits for in-flight fires to finish.
func (cs *CronScheduler) Stop() {
	ctx := cs.cron.Stop()
	<-ctx.Done()
	cs.logger.Info("cron scheduler stopped")
}
