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

// Package compiler lowers a workflow action graph into batches of linear
// process chains, tracking result flow across successive Generate calls.
package compiler

import (
	"encoding/json"
	"log/slog"

	cerrors "github.com/workflowc/compiler/pkg/errors"
	"github.com/workflowc/compiler/pkg/workflow"
)

// IdGenerator mints fresh, unique identifiers for process chains, unrolled
// actions and generated output paths.
type IdGenerator interface {
	NextId() string
}

// OutputAdapterOracle answers whether an external output-adapter plugin is
// registered for a data type, consulted during process-chain fusion.
type OutputAdapterOracle interface {
	HasAdapterFor(dataType string) bool
}

// Compiler is a stateful lowering engine initialized from one Workflow. It is
// not concurrency-safe; callers must serialize access (the controller owns
// one Compiler exclusively per submission loop).
type Compiler struct {
	tmpPath  string
	outPath  string
	services map[string]workflow.ServiceMetadata
	ids      IdGenerator
	adapters OutputAdapterOracle
	log      *slog.Logger

	vars                        []workflow.Variable
	actions                     []workflow.Action
	variableValues              map[string]any
	forEachOutputsToBeCollected map[string][]workflow.Variable
	iterations                  map[string]int
}

// New constructs a Compiler from wf. Nothing is validated eagerly; structural
// errors surface the first time Generate exercises the offending path.
func New(wf workflow.Workflow, tmpPath, outPath string, services []workflow.ServiceMetadata, ids IdGenerator, adapters OutputAdapterOracle) *Compiler {
	svcIndex := make(map[string]workflow.ServiceMetadata, len(services))
	for _, s := range services {
		svcIndex[s.Id] = s
	}

	c := &Compiler{
		tmpPath:                     tmpPath,
		outPath:                     outPath,
		services:                    svcIndex,
		ids:                         ids,
		adapters:                    adapters,
		log:                         slog.Default().With("component", "compiler"),
		vars:                        append([]workflow.Variable(nil), wf.Vars...),
		actions:                     append([]workflow.Action(nil), wf.Actions...),
		variableValues:              map[string]any{},
		forEachOutputsToBeCollected: map[string][]workflow.Variable{},
		iterations:                  map[string]int{},
	}
	for _, v := range c.vars {
		if v.HasValue {
			c.variableValues[v.Id] = v.Value
		}
	}
	return c
}

// Generate runs one round of the lowering pipeline: ingest results, collect
// ready for-each outputs to a fixpoint, unroll pending for-each actions,
// fuse ready execute actions into process chains, and retire fused actions.
// Phase order is fixed; no phase re-enters within one call.
func (c *Compiler) Generate(results map[string][]any) ([]workflow.ProcessChain, error) {
	c.ingestResults(results)

	if err := c.collectForEachOutputsFixpoint(); err != nil {
		return nil, err
	}

	if err := c.unrollForEach(); err != nil {
		return nil, err
	}

	chains, retired, err := c.buildProcessChains()
	if err != nil {
		return nil, err
	}
	c.retireActions(retired)

	c.log.Debug("generate round complete",
		"chains", len(chains), "retired", len(retired), "pending", len(c.actions))
	return chains, nil
}

// IsFinished reports whether the pending-actions set is empty.
func (c *Compiler) IsFinished() bool {
	return len(c.actions) == 0
}

// ingestResults sets variableValues[id] to the singleton value when exactly
// one value was delivered, or the full sequence otherwise, so downstream code
// can treat scalars and singleton sequences identically except when
// explicitly flattened.
func (c *Compiler) ingestResults(results map[string][]any) {
	for id, values := range results {
		if len(values) == 1 {
			c.variableValues[id] = values[0]
			continue
		}
		seq := make([]any, len(values))
		copy(seq, values)
		c.variableValues[id] = seq
	}
}

// resolveVariable returns v's current value: its own literal if present,
// else a lookup in variableValues by id.
func (c *Compiler) resolveVariable(v workflow.Variable) (any, bool) {
	if v.HasValue {
		return v.Value, true
	}
	return c.lookupValue(v.Id)
}

func (c *Compiler) lookupValue(id string) (any, bool) {
	val, ok := c.variableValues[id]
	return val, ok
}

func (c *Compiler) nextIteration(enumId string) int {
	n := c.iterations[enumId]
	c.iterations[enumId] = n + 1
	return n
}

func (c *Compiler) findAction(id string) (workflow.Action, bool) {
	for _, a := range c.actions {
		if a.Id == id {
			return a, true
		}
	}
	return workflow.Action{}, false
}

func (c *Compiler) retireActions(ids []string) {
	if len(ids) == 0 {
		return
	}
	retire := make(map[string]bool, len(ids))
	for _, id := range ids {
		retire[id] = true
	}
	kept := c.actions[:0]
	for _, a := range c.actions {
		if retire[a.Id] {
			continue
		}
		kept = append(kept, a)
	}
	c.actions = kept
}

// compilerState is the serializable shape round-tripped by SaveState and
// LoadState. Field names match the spec's state-blob key names exactly.
type compilerState struct {
	Vars                        []workflow.Variable            `json:"vars"`
	Actions                     []workflow.Action               `json:"actions"`
	VariableValues              map[string]any                  `json:"variableValues"`
	ForEachOutputsToBeCollected map[string][]workflow.Variable `json:"forEachOutputsToBeCollected"`
	Iterations                  map[string]int                  `json:"iterations"`
}

// SaveState serializes the compiler's mutable state to an opaque blob.
func (c *Compiler) SaveState() ([]byte, error) {
	st := compilerState{
		Vars:                        c.vars,
		Actions:                     c.actions,
		VariableValues:              c.variableValues,
		ForEachOutputsToBeCollected: c.forEachOutputsToBeCollected,
		Iterations:                  c.iterations,
	}
	blob, err := json.Marshal(st)
	if err != nil {
		return nil, cerrors.Wrap(err, "encoding compiler state")
	}
	return blob, nil
}

// LoadState overwrites the compiler's mutable state from a blob previously
// produced by SaveState.
func (c *Compiler) LoadState(blob []byte) error {
	var st compilerState
	if err := json.Unmarshal(blob, &st); err != nil {
		return cerrors.Wrap(err, "decoding compiler state")
	}
	c.vars = st.Vars
	c.actions = st.Actions
	c.variableValues = st.VariableValues
	if c.variableValues == nil {
		c.variableValues = map[string]any{}
	}
	c.forEachOutputsToBeCollected = st.ForEachOutputsToBeCollected
	if c.forEachOutputsToBeCollected == nil {
		c.forEachOutputsToBeCollected = map[string][]workflow.Variable{}
	}
	c.iterations = st.Iterations
	if c.iterations == nil {
		c.iterations = map[string]int{}
	}
	return nil
}
