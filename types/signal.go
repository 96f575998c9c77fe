package types

import "fmt"

// PauseSignal is returned by a block handler to suspend its node until
// external input arrives. It travels through the error return of
// Handler.Execute but is control flow, not a failure: the orchestrator
// persists a snapshot of the pending input and parks the execution.
type PauseSignal struct {
	// Reason is a human-readable description of what the node waits for.
	Reason string `json:"reason"`
	// WaitKey correlates the external event with this pause, e.g. a
	// blockchain transaction hash or an approval token.
	WaitKey string `json:"wait_key,omitempty"`
	// PendingInput is the input the node was dispatched with, replayed
	// (merged with resume data) when the node resumes.
	PendingInput map[string]any `json:"pending_input,omitempty"`
}

// Error implements the error interface so handlers can return a PauseSignal
// through their error result.
func (p *PauseSignal) Error() string {
	return fmt.Sprintf("paused: %s", p.Reason)
}

// NewPauseSignal creates a pause signal.
func NewPauseSignal(reason, waitKey string, pendingInput map[string]any) *PauseSignal {
	return &PauseSignal{Reason: reason, WaitKey: waitKey, PendingInput: pendingInput}
}

// AsPauseSignal extracts a PauseSignal from an error, if it is one.
func AsPauseSignal(err error) (*PauseSignal, bool) {
	if err == nil {
		return nil, false
	}
	if ps, ok := err.(*PauseSignal); ok {
		return ps, true
	}
	return nil, false
}
