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

package errors

import "fmt"

// InvalidWorkflowError is raised by compiler structural checks: an
// unresolvable substitution during for-each unrolling, or an unsupported
// Action variant.
type InvalidWorkflowError struct {
	Reason string
}

func (e *InvalidWorkflowError) Error() string {
	return fmt.Sprintf("invalid workflow: %s", e.Reason)
}

// UnknownServiceError is raised when an ExecuteAction references a
// serviceId absent from the service metadata registry.
type UnknownServiceError struct {
	ServiceId string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service: %s", e.ServiceId)
}

// MissingInputError is raised when a required INPUT parameter has no
// resolvable value and no default.
type MissingInputError struct {
	ParameterId string
	VariableId  string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing input %q (variable %q)", e.ParameterId, e.VariableId)
}

// CardinalityError is raised when a materialized argument count falls
// outside a service parameter's declared [min,max] bounds.
type CardinalityError struct {
	ParameterId string
	Got         int
	Min         int
	Max         int
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("parameter %q cardinality violation: got %d, want [%d,%d]", e.ParameterId, e.Got, e.Min, e.Max)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// LeaseUnavailableError is raised when a submission lease is already held
// by another worker. Controller policy: skip silently.
type LeaseUnavailableError struct {
	Name string
}

func (e *LeaseUnavailableError) Error() string {
	return fmt.Sprintf("lease unavailable: %s", e.Name)
}

// ProcessChainExecutionError wraps an agent/scheduler-reported terminal
// ERROR for one process chain. Controller policy: count it, do not abort
// the submission loop.
type ProcessChainExecutionError struct {
	ProcessChainId string
	Message        string
}

func (e *ProcessChainExecutionError) Error() string {
	return fmt.Sprintf("process chain %s failed: %s", e.ProcessChainId, e.Message)
}

// TransientIOError is raised by registries for retryable I/O failures.
// Controller policy: not retried; like any other registry failure inside a
// submission loop it ends the submission with terminal status ERROR.
type TransientIOError struct {
	Op    string
	Cause error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient I/O error during %s: %v", e.Op, e.Cause)
}

func (e *TransientIOError) Unwrap() error {
	return e.Cause
}

// ConfigError is raised when configuration loading or validation fails:
// an unreadable file, a malformed YAML document, or a value outside its
// allowed range.
type ConfigError struct {
	Key    string
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config %q: %s: %v", e.Key, e.Reason, e.Cause)
	}
	return fmt.Sprintf("config %q: %s", e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Kind classifies err into one of the taxonomy rows above by walking its
// Unwrap chain, so callers never need to string-match error messages.
// Returns "" if err does not match any known kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case As(err, new(*InvalidWorkflowError)):
		return "invalid-workflow"
	case As(err, new(*UnknownServiceError)):
		return "unknown-service"
	case As(err, new(*MissingInputError)):
		return "missing-input"
	case As(err, new(*CardinalityError)):
		return "cardinality"
	case As(err, new(*NotFoundError)):
		return "not-found"
	case As(err, new(*LeaseUnavailableError)):
		return "lease-unavailable"
	case As(err, new(*ProcessChainExecutionError)):
		return "pc-execution-error"
	case As(err, new(*TransientIOError)):
		return "io-transient"
	case As(err, new(*ConfigError)):
		return "config"
	default:
		return ""
	}
}
