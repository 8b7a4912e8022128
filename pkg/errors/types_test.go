// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors_test

import (
	"errors"
	"fmt"
	"testing"

	compilererrors "github.com/workflowc/compiler/pkg/errors"
)

func TestInvalidWorkflowError_Error(t *testing.T) {
	err := &compilererrors.InvalidWorkflowError{Reason: "unresolved yieldToOutput"}
	want := "invalid workflow: unresolved yieldToOutput"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUnknownServiceError_Error(t *testing.T) {
	err := &compilererrors.UnknownServiceError{ServiceId: "cp"}
	want := "unknown service: cp"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestMissingInputError_Error(t *testing.T) {
	err := &compilererrors.MissingInputError{ParameterId: "X", VariableId: "v1"}
	want := `missing input "X" (variable "v1")`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestCardinalityError_Error(t *testing.T) {
	err := &compilererrors.CardinalityError{ParameterId: "Y", Got: 3, Min: 1, Max: 1}
	want := `parameter "Y" cardinality violation: got 3, want [1,1]`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNotFoundError_Error(t *testing.T) {
	err := &compilererrors.NotFoundError{Resource: "submission", ID: "abc"}
	want := "submission not found: abc"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestLeaseUnavailableError_Error(t *testing.T) {
	err := &compilererrors.LeaseUnavailableError{Name: "sub-1"}
	want := "lease unavailable: sub-1"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestProcessChainExecutionError_Error(t *testing.T) {
	err := &compilererrors.ProcessChainExecutionError{ProcessChainId: "pc-1", Message: "agent crashed"}
	want := "process chain pc-1 failed: agent crashed"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTransientIOError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &compilererrors.TransientIOError{Op: "setStatus", Cause: cause}
	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestErrorWrapping(t *testing.T) {
	t.Run("MissingInputError can be wrapped and recovered", func(t *testing.T) {
		original := &compilererrors.MissingInputError{ParameterId: "X", VariableId: "v1"}
		wrapped := fmt.Errorf("materializing argument: %w", original)

		var target *compilererrors.MissingInputError
		if !errors.As(wrapped, &target) {
			t.Fatal("errors.As should find MissingInputError in wrapped error")
		}
		if target.ParameterId != "X" {
			t.Errorf("ParameterId = %q, want %q", target.ParameterId, "X")
		}
	})

	t.Run("TransientIOError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("timeout")
		ioErr := &compilererrors.TransientIOError{Op: "getStatus", Cause: rootCause}
		wrapped := fmt.Errorf("polling process chain: %w", ioErr)

		var target *compilererrors.TransientIOError
		if !errors.As(wrapped, &target) {
			t.Fatal("errors.As should find TransientIOError in wrapped error")
		}
		if target.Unwrap() != rootCause {
			t.Error("TransientIOError.Unwrap() should return root cause")
		}
	})
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"invalid workflow", &compilererrors.InvalidWorkflowError{Reason: "x"}, "invalid-workflow"},
		{"unknown service", &compilererrors.UnknownServiceError{ServiceId: "x"}, "unknown-service"},
		{"missing input", &compilererrors.MissingInputError{}, "missing-input"},
		{"cardinality", &compilererrors.CardinalityError{}, "cardinality"},
		{"not found", &compilererrors.NotFoundError{}, "not-found"},
		{"lease unavailable", &compilererrors.LeaseUnavailableError{}, "lease-unavailable"},
		{"pc execution error", &compilererrors.ProcessChainExecutionError{}, "pc-execution-error"},
		{"io transient", &compilererrors.TransientIOError{}, "io-transient"},
		{"wrapped", fmt.Errorf("wrap: %w", &compilererrors.CardinalityError{}), "cardinality"},
		{"unrelated", errors.New("boom"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compilererrors.Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}
