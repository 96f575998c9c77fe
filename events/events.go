// Package events is the in-process event bus. Every state change an
// execution goes through is published as an Event; the API layer feeds
// its websocket stream from here and tests assert against it.
//
// Delivery is at-least-once. Events of one execution carry a
// monotonically increasing sequence so consumers can detect gaps and
// reorder.
package events

import "time"

// EventType names what happened.
type EventType string

const (
	ExecutionStarted   EventType = "execution.started"
	ExecutionCompleted EventType = "execution.completed"
	ExecutionFailed    EventType = "execution.failed"
	ExecutionPaused    EventType = "execution.paused"
	ExecutionResumed   EventType = "execution.resumed"
	ExecutionCancelled EventType = "execution.cancelled"

	NodeStarted   EventType = "node.started"
	NodeCompleted EventType = "node.completed"
	NodeFailed    EventType = "node.failed"
	NodeSkipped   EventType = "node.skipped"
	NodeRetrying  EventType = "node.retrying"

	TxSubmitted EventType = "tx.submitted"
	TxConfirmed EventType = "tx.confirmed"
	TxFailed    EventType = "tx.failed"

	BreakerStateChanged EventType = "breaker.state_changed"
)

// Terminal reports whether the event marks the end of its execution's
// run.
func (t EventType) Terminal() bool {
	switch t {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// Event is one state change of one execution.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Sequence    uint64         `json:"sequence"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}
