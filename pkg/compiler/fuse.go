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

package compiler

import (
	"fmt"
	"path/filepath"
	"strings"

	cerrors "github.com/workflowc/compiler/pkg/errors"
	"github.com/workflowc/compiler/pkg/workflow"
)

// buildProcessChains indexes pending ExecuteActions by the variable ids
// appearing as their inputs, then greedily fuses each still-pending
// ExecuteAction with its unique downstream consumer until a fork, an output
// adapter boundary, or an unresolvable dependency stops the chain.
func (c *Compiler) buildProcessChains() ([]workflow.ProcessChain, []string, error) {
	consumers := c.indexConsumers()
	visited := map[string]bool{}

	var chains []workflow.ProcessChain
	var retired []string

	for _, start := range c.actions {
		if start.Kind != workflow.ActionExecute {
			continue
		}
		if visited[start.Id] {
			continue
		}

		chainArgs := map[string]any{}
		var execs []workflow.Executable
		var used []string
		ready := true

		current := start
		for {
			exe, isReady, err := c.materializeExecutable(current, chainArgs)
			if err != nil {
				return nil, nil, err
			}
			if !isReady {
				if current.Id != start.Id {
					visited[current.Id] = true
				}
				ready = false
				break
			}

			execs = append(execs, *exe)
			used = append(used, current.Id)

			if c.hasOutputAdapter(*exe) {
				break
			}

			next, ok := c.singleConsumer(current, consumers, visited)
			if !ok {
				break
			}
			current = next
		}

		if !ready {
			continue
		}

		var caps []string
		for _, e := range execs {
			svc := c.services[e.ServiceId]
			caps = appendUniqueStrings(caps, svc.RequiredCapabilities)
		}

		chains = append(chains, workflow.ProcessChain{
			Id:                   c.ids.NextId(),
			Executables:          execs,
			RequiredCapabilities: caps,
		})
		for _, id := range used {
			visited[id] = true
		}
		retired = append(retired, used...)
	}

	return chains, retired, nil
}

// indexConsumers maps a variable id to the ids of pending ExecuteActions that
// reference it as an input, so fusion can find "the" consumer of an action's
// outputs without a linear scan per step.
func (c *Compiler) indexConsumers() map[string][]string {
	idx := map[string][]string{}
	for _, a := range c.actions {
		if a.Kind != workflow.ActionExecute {
			continue
		}
		for _, p := range a.Execute.Inputs {
			idx[p.Variable.Id] = append(idx[p.Variable.Id], a.Id)
		}
	}
	return idx
}

// singleConsumer returns the one pending, not-yet-visited ExecuteAction that
// consumes any output of current, or false if there are zero or more than
// one — either case stops fusion to preserve parallelism.
func (c *Compiler) singleConsumer(current workflow.Action, consumers map[string][]string, visited map[string]bool) (workflow.Action, bool) {
	seen := map[string]bool{}
	var candidates []string
	for _, p := range current.Execute.Outputs {
		for _, id := range consumers[p.Variable.Id] {
			if id == current.Id || seen[id] {
				continue
			}
			seen[id] = true
			candidates = append(candidates, id)
		}
	}
	if len(candidates) != 1 {
		return workflow.Action{}, false
	}
	if visited[candidates[0]] {
		return workflow.Action{}, false
	}
	return c.findAction(candidates[0])
}

// hasOutputAdapter reports whether any OUTPUT argument of exe has a
// registered output adapter for its data type, which forces fusion to stop
// so the adapter can post-process results before any consumer runs.
func (c *Compiler) hasOutputAdapter(exe workflow.Executable) bool {
	for _, arg := range exe.Arguments {
		if arg.Direction == workflow.DirectionOutput && c.adapters.HasAdapterFor(arg.DataType) {
			return true
		}
	}
	return false
}

// materializeExecutable resolves every argument of action against its
// service's parameter contract. ready=false with err=nil means at least one
// required input cannot yet be resolved from any source and this action
// should be retried in a later round, not treated as a structural failure.
func (c *Compiler) materializeExecutable(action workflow.Action, chainArgs map[string]any) (*workflow.Executable, bool, error) {
	ex := action.Execute
	svc, ok := c.services[ex.ServiceId]
	if !ok {
		return nil, false, &cerrors.UnknownServiceError{ServiceId: ex.ServiceId}
	}

	var args []workflow.Argument

	for _, sp := range svc.Parameters {
		if sp.Type != workflow.DirectionOutput {
			continue
		}
		for _, p := range filterParams(ex.Outputs, sp.Id) {
			path := c.makeOutputPath(sp, p)
			args = append(args, workflow.Argument{
				ParameterId: sp.Id,
				Label:       sp.Label,
				VariableId:  p.Variable.Id,
				Value:       path,
				Direction:   workflow.DirectionOutput,
				DataType:    sp.DataType,
			})
			chainArgs[p.Variable.Id] = path
		}
	}

	for _, sp := range svc.Parameters {
		if sp.Type != workflow.DirectionInput {
			continue
		}
		params := filterParams(ex.Inputs, sp.Id)
		if len(params) == 0 {
			if sp.Cardinality.Min > 0 && !sp.HasDefault {
				return nil, false, &cerrors.MissingInputError{ParameterId: sp.Id}
			}
			if sp.HasDefault {
				args = append(args, workflow.Argument{
					ParameterId: sp.Id, Label: sp.Label, Direction: workflow.DirectionInput,
					DataType: sp.DataType, Value: stringify(sp.Default),
				})
			}
			continue
		}

		var values []string
		var firstVarId string
		unresolved := false
		for i, p := range params {
			val, resolved := c.resolveArgumentValue(p, sp, chainArgs)
			if !resolved {
				unresolved = true
				continue
			}
			scalars := flattenToStrings(val)
			values = append(values, scalars...)
			if i == 0 && len(scalars) > 0 {
				firstVarId = p.Variable.Id
				chainArgs[p.Variable.Id] = scalars[0]
			}
		}

		if len(values) == 0 {
			switch {
			case sp.HasDefault:
				values = flattenToStrings(sp.Default)
			case unresolved:
				return nil, false, nil
			default:
				return nil, false, &cerrors.MissingInputError{ParameterId: sp.Id, VariableId: params[0].Variable.Id}
			}
		}

		if !sp.Cardinality.InBounds(len(values)) {
			return nil, false, &cerrors.CardinalityError{
				ParameterId: sp.Id, Got: len(values), Min: sp.Cardinality.Min, Max: sp.Cardinality.Max,
			}
		}

		for _, v := range values {
			args = append(args, workflow.Argument{
				ParameterId: sp.Id, Label: sp.Label, VariableId: firstVarId, Value: v,
				Direction: workflow.DirectionInput, DataType: sp.DataType,
			})
		}
	}

	return &workflow.Executable{
		ServiceId:   svc.Id,
		ServiceName: svc.Name,
		Path:        svc.Path,
		Arguments:   args,
		Runtime:     svc.Runtime,
	}, true, nil
}

// resolveArgumentValue picks the first defined source for p's value: its own
// literal, a directory-merged or raw lookup in variableValues, then a value
// already materialized earlier in the same chain.
func (c *Compiler) resolveArgumentValue(p workflow.Parameter, sp workflow.ServiceParameter, chainArgs map[string]any) (any, bool) {
	if p.Variable.HasValue {
		return p.Variable.Value, true
	}
	if val, ok := c.variableValues[p.Variable.Id]; ok {
		if sp.DataType == workflow.DataTypeDirectory {
			// mergeToDir trusts that sequence-valued directory inputs
			// originate from the file-indexing collaborator; a value that
			// doesn't fit the expected shape falls through to the raw value.
			if dir, ok := mergeToDir(val); ok {
				return dir, true
			}
		}
		return val, true
	}
	if val, ok := chainArgs[p.Variable.Id]; ok {
		return val, true
	}
	return nil, false
}

// mergeToDir computes the longest common directory prefix of a sequence of
// file paths, for the "directory" dataType tag where an external indexer
// returns individual file paths in place of the logical directory input.
func mergeToDir(val any) (string, bool) {
	seq, ok := val.([]any)
	if !ok || len(seq) == 0 {
		return "", false
	}
	paths := make([]string, 0, len(seq))
	for _, v := range seq {
		s, ok := v.(string)
		if !ok {
			return "", false
		}
		paths = append(paths, s)
	}
	if len(paths) == 1 {
		return filepath.Dir(paths[0]), true
	}

	prefix := paths[0]
	for _, p := range paths[1:] {
		prefix = commonPrefix(prefix, p)
		if prefix == "" {
			return "", false
		}
	}
	idx := strings.LastIndexByte(prefix, '/')
	if idx < 0 {
		return "", false
	}
	return prefix[:idx], true
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// makeOutputPath builds a fresh output path per spec §6: base is outPath
// when the output is stored, else tmpPath; a prefix starting with "/" is
// used verbatim in place of base; the generator's next id and any declared
// file suffix are appended, then redundant separators are normalized away.
func (c *Compiler) makeOutputPath(sp workflow.ServiceParameter, p workflow.Parameter) string {
	base := c.tmpPath
	if p.Store {
		base = c.outPath
	}

	var prefix string
	switch {
	case strings.HasPrefix(p.Prefix, "/"):
		prefix = p.Prefix
	case p.Prefix != "":
		prefix = base + "/" + p.Prefix
	default:
		prefix = base + "/"
	}

	full := prefix + c.ids.NextId() + sp.FileSuffix
	return filepath.Clean(full)
}

func filterParams(params []workflow.Parameter, id string) []workflow.Parameter {
	var out []workflow.Parameter
	for _, p := range params {
		if p.Id == id {
			out = append(out, p)
		}
	}
	return out
}

// flattenToStrings recursively flattens a JSON-like value into stringified
// scalars, so a sequence-valued argument becomes one Argument per element.
func flattenToStrings(val any) []string {
	switch v := val.(type) {
	case nil:
		return nil
	case []any:
		var out []string
		for _, e := range v {
			out = append(out, flattenToStrings(e)...)
		}
		return out
	case string:
		return []string{v}
	default:
		return []string{stringify(v)}
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func appendUniqueStrings(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}
