package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/events"
	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// nodeReadiness is the scheduling decision for one pending node.
type nodeReadiness int

const (
	nodeWaiting nodeReadiness = iota // some incoming edge unresolved
	nodeReady                        // at least one live incoming edge
	nodeSkip                         // every incoming edge resolved without a live one
)

// step advances one running execution: cascade skips, claim and run
// every ready node, then settle the execution if nothing is left. The
// returned bool reports whether any state changed.
func (e *Engine) step(ctx context.Context, executionID string) (types.ExecutionStatus, bool, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return "", false, err
	}
	if exec.Status != types.ExecutionRunning {
		return exec.Status, false, nil
	}

	validated, err := e.definition(exec)
	if err != nil {
		return exec.Status, false, err
	}

	byNode := make(map[string]*store.NodeExecution, len(exec.Nodes))
	for i := range exec.Nodes {
		byNode[exec.Nodes[i].NodeID] = &exec.Nodes[i]
	}

	progressed := false

	// skip cascade: skipping a node can only make its descendants
	// skippable, so each round rescans just the subtrees below the
	// nodes the previous round skipped
	candidates := make(map[string]bool, len(byNode))
	for nodeID := range byNode {
		candidates[nodeID] = true
	}
	for len(candidates) > 0 {
		var toSkip []string
		for nodeID := range candidates {
			ne, ok := byNode[nodeID]
			if !ok || ne.Status != types.NodePending {
				continue
			}
			if e.readiness(validated, byNode, nodeID) == nodeSkip {
				toSkip = append(toSkip, nodeID)
			}
		}
		if len(toSkip) == 0 {
			break
		}
		if err := e.store.SkipNodes(ctx, executionID, toSkip); err != nil {
			return exec.Status, progressed, err
		}
		candidates = make(map[string]bool)
		for _, nodeID := range toSkip {
			byNode[nodeID].Status = types.NodeSkipped
			e.publish(ctx, events.Event{
				Type: events.NodeSkipped, ExecutionID: executionID, NodeID: nodeID,
			})
			e.recordNode(byNode[nodeID].BlockType, string(types.NodeSkipped), 0)
			for id := range validated.Graph.Descendants(nodeID) {
				candidates[id] = true
			}
		}
		progressed = true
	}

	// claim and dispatch every ready node in parallel
	now := time.Now().UTC()
	var wg sync.WaitGroup
	for nodeID, ne := range byNode {
		if ne.Status != types.NodePending {
			continue
		}
		if ne.NextRetryAt != nil && ne.NextRetryAt.After(now) {
			continue
		}
		if e.readiness(validated, byNode, nodeID) != nodeReady {
			continue
		}

		claimed, err := e.store.TryClaimNode(ctx, ne.ID, e.config.WorkerID)
		if err != nil {
			return exec.Status, progressed, err
		}
		if !claimed {
			continue
		}
		progressed = true

		node, _ := validated.Graph.Node(nodeID)
		attempt := ne.Attempt + 1
		ne := ne
		wg.Add(1)
		if err := e.pool.Submit(ctx, func(taskCtx context.Context) error {
			defer wg.Done()
			e.runNode(taskCtx, exec, validated, ne, node, attempt)
			return nil
		}); err != nil {
			// pool saturated or closed; release the claim for a later tick
			wg.Done()
			e.logger.Warn("dispatch rejected, releasing claim",
				zap.String("execution_id", executionID),
				zap.String("node_id", nodeID),
				zap.Error(err))
			retryAt := time.Now().UTC().Add(e.config.TickInterval)
			if relErr := e.store.ReleaseNode(ctx, ne.ID, e.config.WorkerID, retryAt); relErr != nil {
				e.logger.Error("releasing claim failed", zap.Error(relErr))
			}
		}
	}
	wg.Wait()

	// reload: a dispatched node may have paused or failed the execution
	exec, err = e.store.GetExecution(ctx, executionID)
	if err != nil {
		return "", progressed, err
	}
	if exec.Status != types.ExecutionRunning {
		return exec.Status, progressed, nil
	}

	allTerminal := true
	anyFailed := false
	for i := range exec.Nodes {
		if !exec.Nodes[i].Status.Terminal() {
			allTerminal = false
			break
		}
		if exec.Nodes[i].Status == types.NodeFailed {
			anyFailed = true
		}
	}
	if allTerminal {
		err := e.store.TransitionExecution(ctx, executionID,
			[]types.ExecutionStatus{types.ExecutionRunning}, types.ExecutionCompleted)
		if err != nil {
			// another worker settled it first
			if types.GetErrorCode(err) == types.ErrInvalidState {
				return types.ExecutionCompleted, progressed, nil
			}
			return exec.Status, progressed, err
		}
		e.defs.Delete(executionID)
		e.logger.Info("execution completed",
			zap.String("execution_id", executionID),
			zap.Bool("with_failed_nodes", anyFailed))
		e.publish(ctx, events.Event{
			Type: events.ExecutionCompleted, ExecutionID: executionID,
			Payload: map[string]any{"with_failed_nodes": anyFailed},
		})
		e.recordExecution(string(types.ExecutionCompleted))
		return types.ExecutionCompleted, true, nil
	}

	return types.ExecutionRunning, progressed, nil
}

// readiness decides whether a pending node can run, must wait, or will
// never run. A node runs when every incoming edge is resolved and at
// least one of them is live: its source completed and actually took the
// edge. Untaken condition branches, skipped sources and failed sources
// (whose policy let the execution continue) resolve an edge without
// making it live; a node with no live edge left is skipped.
func (e *Engine) readiness(validated *workflow.Validated, byNode map[string]*store.NodeExecution, nodeID string) nodeReadiness {
	incoming := validated.Graph.Incoming(nodeID)
	if len(incoming) == 0 {
		return nodeReady
	}

	live := false
	for _, edge := range incoming {
		src, ok := byNode[edge.Source]
		if !ok {
			return nodeWaiting
		}
		switch src.Status {
		case types.NodeCompleted:
			if edgeTaken(edge, src.Outputs) {
				live = true
			}
		case types.NodeSkipped, types.NodeFailed:
			// resolved, never live
		default:
			return nodeWaiting
		}
	}
	if live {
		return nodeReady
	}
	return nodeSkip
}

// edgeTaken reports whether a completed source followed this edge.
// Plain edges are always taken; handle-labelled edges only when the
// source chose that branch.
func edgeTaken(edge workflow.Edge, sourceOutputs map[string]any) bool {
	if edge.SourceHandle == workflow.HandleDefault {
		return true
	}
	branch, _ := sourceOutputs["branch"].(string)
	return branch == edge.SourceHandle
}

// resolveInputs builds what a node runs with: outputs flowing in over
// live edges, overlaid by anything already stored on the node (trigger
// payload, resume data).
func (e *Engine) resolveInputs(validated *workflow.Validated, byNode map[string]*store.NodeExecution, ne *store.NodeExecution) map[string]any {
	inputs := map[string]any{}

	for _, edge := range validated.Graph.Incoming(ne.NodeID) {
		src, ok := byNode[edge.Source]
		if !ok || src.Status != types.NodeCompleted || !edgeTaken(edge, src.Outputs) {
			continue
		}
		if edge.TargetHandle != "" {
			var value any = map[string]any(src.Outputs)
			if v, ok := src.Outputs[edge.TargetHandle]; ok {
				value = v
			}
			inputs[edge.TargetHandle] = value
			continue
		}
		for k, v := range src.Outputs {
			inputs[k] = v
		}
	}

	// stored inputs win: resume data must not be clobbered upstream
	for k, v := range ne.Inputs {
		inputs[k] = v
	}
	return inputs
}
