package blocks

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/workflow"
)

// Context is the execution-scoped environment handed to a handler. The
// cancel signal travels through the ctx passed to Execute.
type Context struct {
	ExecutionID string
	NodeID      string
	Logger      *zap.Logger
}

// Handler executes one block type. Implementations must observe ctx
// cancellation promptly: the orchestrator cancels it on execution cancel and
// on per-node timeout.
//
// Execute returns the node's output map, or an error. Three error shapes are
// meaningful to the dispatcher:
//   - *types.Error with Retryable=true: retried per the node's retry budget
//   - *types.PauseSignal: node suspends awaiting external input
//   - anything else: fatal, propagated per the node's failure policy
type Handler interface {
	// BlockType is the identifier nodes reference in their Type field.
	BlockType() string
	// Info describes the block to the graph validator.
	Info() workflow.BlockInfo
	// Execute runs the block.
	Execute(ctx context.Context, config map[string]any, inputs map[string]any, bctx *Context) (map[string]any, error)
}
