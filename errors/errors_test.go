package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if got := test.class.String(); got != test.expected {
				t.Errorf("expected %s, got %s", test.expected, got)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"range error", &RangeError{Path: "depth", Value: -1, Min: 0, Max: 1 << 32}, ErrorInvalid},
		{"schema mismatch", &SchemaMismatchError{Path: "a", Reason: "missing"}, ErrorInvalid},
		{"encoding", &EncodingError{Path: "s", Reason: "nul"}, ErrorInvalid},
		{"conflict", &ConflictError{Topic: "Foo"}, ErrorInvalid},
		{"wrapped type error", Wrap(&TypeError{Type: "T", Reason: "x"}, "Session", "GetTopic", "resolve"), ErrorInvalid},
		{"transport timeout", Transport(RetcodeTimeout, "wait", ""), ErrorTransient},
		{"transport bad parameter", Transport(RetcodeBadParameter, "create_topic", ""), ErrorFatal},
		{"context canceled", context.Canceled, ErrorTransient},
		{"filter params", ErrFilterParameters, ErrorInvalid},
		{"classified fatal", WrapFatal(fmt.Errorf("boom"), "A", "b", "c"), ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %s, got %s for %v", test.expected, got, test.err)
			}
		})
	}
}

func TestTransportError_NoData(t *testing.T) {
	err := Transport(RetcodeNoData, "take", "reader %s", "r1")
	if !IsNoData(err) {
		t.Fatalf("expected no-data condition, got %v", err)
	}
	if IsFatal(err) {
		t.Error("no-data must not be fatal")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.Is(wrapped, ErrNoData) {
		t.Error("errors.Is should see through wrapping")
	}
	if errors.Is(wrapped, ErrTimeout) {
		t.Error("no-data must not match timeout")
	}

	if Transport(RetcodeOK, "take", "") != nil {
		t.Error("ok code must produce nil error")
	}
}

func TestTransportError_Message(t *testing.T) {
	err := Transport(RetcodePreconditionNotMet, "delete_data", "buffer still bound")
	expected := "transport delete_data: precondition not met: buffer still bound"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if ReturnCode(42).String() != "retcode(42)" {
		t.Errorf("unexpected unknown code name %s", ReturnCode(42))
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("root")
	err := Wrap(base, "Topic", "Publish", "write sample")
	if err.Error() != "Topic.Publish: write sample failed: root" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error must unwrap to base")
	}
	if Wrap(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil must return nil")
	}

	var ce *ClassifiedError
	if !errors.As(WrapTransient(base, "Client", "Connect", "dial"), &ce) {
		t.Fatal("expected classified error")
	}
	if ce.Component != "Client" || ce.Operation != "Connect" {
		t.Errorf("unexpected classification context %+v", ce)
	}
}

func TestRangeError_Message(t *testing.T) {
	err := &RangeError{Path: "counts[2]", Value: int64(-1), Min: 0, Max: uint64(1) << 32}
	expected := "counts[2]: -1 not in range [0, 4294967296)"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}
