package engine

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/blocks"
	"github.com/BaSui01/chainflow/events"
	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// runNode executes one claimed node attempt end to end: circuit check,
// input resolution, the handler call under a timeout with claim
// heartbeats, and settlement of the outcome.
func (e *Engine) runNode(ctx context.Context, exec *store.Execution, validated *workflow.Validated, ne *store.NodeExecution, node *workflow.Node, attempt int) {
	start := time.Now()
	logger := e.logger.With(
		zap.String("execution_id", exec.ID),
		zap.String("node_id", ne.NodeID),
		zap.String("block_type", ne.BlockType),
		zap.Int("attempt", attempt),
	)

	resource := resourceFor(node)
	if e.breaker != nil {
		if err := e.breaker.Allow(ctx, resource); err != nil {
			if types.GetErrorCode(err) == types.ErrCircuitOpen {
				// the handler never ran, so the attempt must not count
				// against the retry budget; park the node until the
				// cooldown window closes
				e.deferForCircuit(ctx, exec, ne, resource, logger)
				return
			}
			e.settleFailure(ctx, exec, ne, node, attempt, err, resource, false, logger)
			return
		}
	}

	handler, err := e.registry.Resolve(ne.BlockType)
	if err != nil {
		e.settleFailure(ctx, exec, ne, node, attempt, err, resource, false, logger)
		return
	}

	byNode := make(map[string]*store.NodeExecution)
	fresh, err := e.store.ListNodeExecutions(ctx, exec.ID)
	if err != nil {
		e.settleFailure(ctx, exec, ne, node, attempt, err, resource, false, logger)
		return
	}
	for i := range fresh {
		byNode[fresh[i].NodeID] = &fresh[i]
	}

	inputs := e.resolveInputs(validated, byNode, ne)
	if err := e.store.SetNodeInputs(ctx, ne.ID, store.JSONMap(inputs)); err != nil {
		logger.Warn("persisting resolved inputs failed", zap.Error(err))
	}

	timeout := e.config.DefaultNodeTimeout
	if node.TimeoutSeconds > 0 {
		timeout = time.Duration(node.TimeoutSeconds) * time.Second
	}
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// heartbeats keep the claim alive; a lost claim aborts the attempt
	var claimLost atomic.Bool
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go func() {
		ticker := time.NewTicker(e.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := e.store.Heartbeat(hbCtx, ne.ID, e.config.WorkerID); err != nil {
					claimLost.Store(true)
					cancel()
					return
				}
			}
		}
	}()

	e.publish(ctx, events.Event{
		Type: events.NodeStarted, ExecutionID: exec.ID, NodeID: ne.NodeID,
		Payload: map[string]any{"attempt": attempt, "block_type": ne.BlockType},
	})
	e.appendLog(ctx, exec.ID, ne.NodeID, types.LogInfo, "node started",
		store.JSONMap{"attempt": attempt})

	outputs, execErr := handler.Execute(nctx, node.Config, inputs, &blocks.Context{
		ExecutionID: exec.ID,
		NodeID:      ne.NodeID,
		Logger:      logger,
	})
	stopHeartbeat()

	if claimLost.Load() {
		// another worker owns this attempt now; write nothing
		logger.Warn("claim lost during execution, abandoning attempt")
		return
	}

	duration := time.Since(start)

	// success
	if execErr == nil {
		if e.breaker != nil {
			if err := e.breaker.RecordSuccess(ctx, resource); err != nil {
				logger.Warn("recording breaker success failed", zap.Error(err))
			}
		}
		if err := e.store.CompleteNode(ctx, ne.ID, store.JSONMap(outputs)); err != nil {
			logger.Error("completing node failed", zap.Error(err))
			return
		}
		logger.Info("node completed", zap.Duration("duration", duration))
		e.appendLog(ctx, exec.ID, ne.NodeID, types.LogInfo, "node completed",
			store.JSONMap{"duration_ms": duration.Milliseconds()})
		e.publish(ctx, events.Event{
			Type: events.NodeCompleted, ExecutionID: exec.ID, NodeID: ne.NodeID,
			Payload: map[string]any{"attempt": attempt, "duration_ms": duration.Milliseconds()},
		})
		e.recordNode(ne.BlockType, string(types.NodeCompleted), duration)
		return
	}

	// pause signal
	if sig, ok := types.AsPauseSignal(execErr); ok {
		if _, err := e.pauser.PauseForSignal(ctx, exec.ID, ne.NodeID, ne.ID, sig); err != nil {
			logger.Error("pausing execution failed", zap.Error(err))
			return
		}
		e.appendLog(ctx, exec.ID, ne.NodeID, types.LogInfo, "execution paused: "+sig.Reason,
			store.JSONMap{"wait_key": sig.WaitKey})
		e.recordNode(ne.BlockType, string(types.NodePaused), duration)
		return
	}

	// timeout surfaces as a retryable node error unless the whole
	// engine is shutting down
	if errors.Is(execErr, context.DeadlineExceeded) && ctx.Err() == nil {
		execErr = types.NewError(types.ErrNodeTimeout,
			"node timed out after "+timeout.String()).WithRetryable(true).WithNodeID(ne.NodeID)
	}

	e.settleFailure(ctx, exec, ne, node, attempt, execErr, resource, true, logger)
}

// deferForCircuit hands the claim back while a circuit is open: the
// node returns to pending with its attempt counter rolled back and a
// next_retry_at aligned with the circuit's remaining cooldown.
func (e *Engine) deferForCircuit(ctx context.Context, exec *store.Execution, ne *store.NodeExecution, resource string, logger *zap.Logger) {
	delay, err := e.breaker.CooldownRemaining(ctx, resource)
	if err != nil || delay <= 0 {
		delay = e.config.TickInterval
	}
	retryAt := time.Now().UTC().Add(delay)
	if err := e.store.ReleaseNode(ctx, ne.ID, e.config.WorkerID, retryAt); err != nil {
		logger.Error("releasing claim for open circuit failed", zap.Error(err))
		return
	}
	logger.Warn("dispatch deferred by open circuit",
		zap.String("resource", resource), zap.Duration("cooldown", delay))
	e.appendLog(ctx, exec.ID, ne.NodeID, types.LogWarn,
		"dispatch deferred, circuit open for "+resource,
		store.JSONMap{"retry_in_ms": delay.Milliseconds()})
}

// settleFailure records a failed attempt and decides between backoff
// retry, terminal node failure, and execution failure.
func (e *Engine) settleFailure(ctx context.Context, exec *store.Execution, ne *store.NodeExecution, node *workflow.Node, attempt int, execErr error, resource string, countsForBreaker bool, logger *zap.Logger) {
	if e.breaker != nil && countsForBreaker {
		if err := e.breaker.RecordFailure(ctx, resource); err != nil {
			logger.Warn("recording breaker failure failed", zap.Error(err))
		}
	}

	retryable := types.IsRetryable(execErr)
	if retryable && attempt <= ne.MaxRetries {
		delay := e.policy.NextDelay(attempt)
		retryAt := time.Now().UTC().Add(delay)
		if err := e.store.FailNode(ctx, ne.ID, execErr.Error(), &retryAt); err != nil {
			logger.Error("scheduling retry failed", zap.Error(err))
			return
		}
		logger.Warn("node failed, retry scheduled",
			zap.Error(execErr), zap.Duration("backoff", delay))
		e.appendLog(ctx, exec.ID, ne.NodeID, types.LogWarn, "node failed, will retry: "+execErr.Error(),
			store.JSONMap{"attempt": attempt, "retry_in_ms": delay.Milliseconds()})
		e.publish(ctx, events.Event{
			Type: events.NodeRetrying, ExecutionID: exec.ID, NodeID: ne.NodeID,
			Payload: map[string]any{"attempt": attempt, "error": execErr.Error()},
		})
		if e.metrics != nil {
			e.metrics.RecordNodeRetry(ne.BlockType)
		}
		return
	}

	// retries exhausted or the error is fatal
	if err := e.store.FailNode(ctx, ne.ID, execErr.Error(), nil); err != nil {
		logger.Error("failing node failed", zap.Error(err))
		return
	}
	logger.Error("node failed terminally", zap.Error(execErr))
	e.appendLog(ctx, exec.ID, ne.NodeID, types.LogError, "node failed: "+execErr.Error(),
		store.JSONMap{"attempt": attempt})
	e.publish(ctx, events.Event{
		Type: events.NodeFailed, ExecutionID: exec.ID, NodeID: ne.NodeID,
		Payload: map[string]any{"attempt": attempt, "error": execErr.Error()},
	})
	e.recordNode(ne.BlockType, string(types.NodeFailed), 0)

	if node.FailurePolicy == types.FailureContinue {
		// sibling branches keep running; dependents skip via the cascade
		return
	}

	err := e.store.TransitionExecution(ctx, exec.ID,
		[]types.ExecutionStatus{types.ExecutionRunning}, types.ExecutionFailed)
	if err != nil {
		if types.GetErrorCode(err) != types.ErrInvalidState {
			logger.Error("failing execution failed", zap.Error(err))
		}
		return
	}
	if err := e.store.SetExecutionError(ctx, exec.ID, "node "+ne.NodeID+" failed: "+execErr.Error()); err != nil {
		logger.Warn("recording execution error failed", zap.Error(err))
	}
	e.defs.Delete(exec.ID)
	e.publish(ctx, events.Event{
		Type: events.ExecutionFailed, ExecutionID: exec.ID,
		Payload: map[string]any{"node_id": ne.NodeID, "error": execErr.Error()},
	})
	e.recordExecution(string(types.ExecutionFailed))
}

func (e *Engine) appendLog(ctx context.Context, executionID, nodeID string, level types.LogLevel, message string, fields store.JSONMap) {
	if err := e.store.AppendLog(ctx, executionID, nodeID, level, message, fields); err != nil {
		e.logger.Warn("audit log write failed", zap.Error(err))
	}
}

// resourceFor names the external resource a node exercises, for circuit
// breaking. HTTP nodes break per host; other block types share one
// circuit per type.
func resourceFor(node *workflow.Node) string {
	if raw, ok := node.Config["url"].(string); ok && raw != "" {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	switch node.Type {
	case "email":
		return "smtp"
	case "chain_tx":
		return "chain-rpc"
	default:
		return node.Type
	}
}
