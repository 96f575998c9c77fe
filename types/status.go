package types

// ExecutionStatus is the lifecycle state of one workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the execution can no longer change state.
// Paused is not terminal: a resume moves it back to running.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of one node within one execution.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodePaused    NodeStatus = "paused"
	// NodeSkipped marks the untaken branch of a condition. It is a terminal
	// success-like state: downstream nodes treat a skipped upstream edge as
	// resolved, but never read output from it.
	NodeSkipped NodeStatus = "skipped"
)

// Terminal reports whether the node can no longer change state.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped:
		return true
	}
	return false
}

// Resolved reports whether an incoming edge from a node in this state
// unblocks downstream scheduling. Both completed and skipped edges count;
// failed does not (failure propagation is decided by the orchestrator).
func (s NodeStatus) Resolved() bool {
	return s == NodeCompleted || s == NodeSkipped
}

// FailurePolicy decides what happens to the execution when a node exhausts
// its retries. Resolved once at validation time, never re-interpreted from
// raw config during dispatch.
type FailurePolicy string

const (
	// FailurePropagate fails the whole execution (default).
	FailurePropagate FailurePolicy = "propagate"
	// FailureContinue marks the node failed, skips its dependents, and lets
	// sibling branches run to completion.
	FailureContinue FailurePolicy = "continue"
)

// LogLevel is the severity of an execution or node log line.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)
