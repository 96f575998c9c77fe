package types

import (
	"errors"
	"testing"
)

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrRetryableNode, "http call failed").
		WithCause(cause).
		WithRetryable(true).
		WithNodeID("node-1")

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find cause")
	}
	if !IsRetryable(err) {
		t.Error("expected retryable")
	}
	if GetErrorCode(err) != ErrRetryableNode {
		t.Errorf("unexpected code: %s", GetErrorCode(err))
	}
}

func TestErrorString(t *testing.T) {
	err := NewError(ErrNotPaused, "node is not paused")
	want := "[NOT_PAUSED] node is not paused"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestPauseSignalErrorRoundTrip(t *testing.T) {
	ps := NewPauseSignal("awaiting confirmation", "0xabc", map[string]any{"value": 1})

	var err error = ps
	got, ok := AsPauseSignal(err)
	if !ok {
		t.Fatal("expected AsPauseSignal to succeed")
	}
	if got.WaitKey != "0xabc" {
		t.Errorf("unexpected wait key: %s", got.WaitKey)
	}

	if _, ok := AsPauseSignal(errors.New("plain")); ok {
		t.Error("plain error must not be a pause signal")
	}
}

func TestStatusTerminal(t *testing.T) {
	if ExecutionPaused.Terminal() {
		t.Error("paused execution is not terminal")
	}
	if !ExecutionCancelled.Terminal() {
		t.Error("cancelled execution is terminal")
	}
	if !NodeSkipped.Terminal() || !NodeSkipped.Resolved() {
		t.Error("skipped node is terminal and resolved")
	}
	if NodeFailed.Resolved() {
		t.Error("failed node must not count as resolved")
	}
}
