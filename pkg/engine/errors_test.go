package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestEngineErrorMessage(t *testing.T) {
	cause := errors.New("disk full")
	tests := []struct {
		err  *EngineError
		want string
	}{
		{NewPermanentError("bad graph", nil), "[permanent] bad graph"},
		{NewPermanentError("bad graph", nil).WithGraph("codegen"), "[permanent] bad graph (graph=codegen)"},
		{NewTransientError("node timed out", cause).WithGraph("codegen").WithNode("build_check"),
			"[transient] node timed out (graph=codegen, node=build_check): disk full"},
		{NewConflictError("dup", nil).WithNode("n"), "[conflict] dup (node=n)"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestEngineErrorClassification(t *testing.T) {
	throttled := fmt.Errorf("call: %w", NewThrottledError("rate limited", nil).WithCode("RATE"))

	if !IsThrottled(throttled) || !IsRetryable(throttled) {
		t.Errorf("wrapped throttled error not classified: %v", throttled)
	}
	if !HasCode(throttled, "RATE") {
		t.Error("HasCode should see through wrapping")
	}
	if IsRetryable(NewPermanentError("x", nil)) {
		t.Error("permanent errors are not retryable")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("plain errors carry no class")
	}

	a := NewConflictError("a", nil).WithCode("SINK_EXISTS")
	b := NewConflictError("b", nil).WithCode("SINK_EXISTS")
	if !errors.Is(a, b) {
		t.Error("errors with the same class and code should match")
	}
	if errors.Is(a, NewConflictError("c", nil).WithCode("OTHER")) {
		t.Error("different codes should not match")
	}

	d := NewPermanentError("x", nil).WithDetail("k", 1)
	if d.Details["k"] != 1 {
		t.Errorf("details = %v", d.Details)
	}
}
