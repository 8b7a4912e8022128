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

package workflow

// Workflow is the immutable input to the compiler: declared variables plus
// the ordered set of root actions. The compiler takes a copy of this data
// into its own mutable state and never mutates the Workflow value itself.
type Workflow struct {
	Vars    []Variable `json:"vars"`
	Actions []Action   `json:"actions"`
}
