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

// Package workflow contains the declarative data model the compiler consumes:
// variables, actions, services, process chains and their executables.
package workflow

// Variable is a named data carrier. Two Variables with the same Id are the
// same logical variable; Id collisions between unrelated variables are the
// caller's responsibility once unrolling has produced fresh ids.
type Variable struct {
	Id string `json:"id"`

	// Value is an optional literal, present only for variables whose value
	// is known at workflow-authoring time. It may be a scalar, an ordered
	// sequence, or a mapping.
	Value any `json:"value,omitempty"`

	// HasValue distinguishes "no literal" from a literal nil/false/0, which
	// a bare nil-check on Value cannot.
	HasValue bool `json:"hasValue,omitempty"`
}

// NewVariable creates a Variable with no literal value.
func NewVariable(id string) Variable {
	return Variable{Id: id}
}

// NewLiteralVariable creates a Variable carrying a literal value.
func NewLiteralVariable(id string, value any) Variable {
	return Variable{Id: id, Value: value, HasValue: true}
}

// Parameter binds a Variable to a service parameter slot on an action.
type Parameter struct {
	Id       string   `json:"id"`
	Variable Variable `json:"variable"`

	// Prefix and Store apply only to OUTPUT parameters of an ExecuteAction.
	Prefix string `json:"prefix,omitempty"`
	Store  bool   `json:"store,omitempty"`
}
