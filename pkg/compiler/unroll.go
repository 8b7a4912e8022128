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

	cerrors "github.com/workflowc/compiler/pkg/errors"
	"github.com/workflowc/compiler/pkg/workflow"
)

// unrollForEach processes pending ForEachActions breadth-first. The worklist
// is seeded from currently pending actions and extended whenever unrolling
// produces a nested ForEachAction.
func (c *Compiler) unrollForEach() error {
	var queue []string
	for _, a := range c.actions {
		if a.Kind == workflow.ActionForEach {
			queue = append(queue, a.Id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		idx := -1
		for i, a := range c.actions {
			if a.Id == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			// Already retired by an earlier pass over the same id.
			continue
		}

		action := c.actions[idx]
		result, err := c.unrollOne(action)
		if err != nil {
			return err
		}

		for _, na := range result.newActions {
			c.actions = append(c.actions, na)
			if na.Kind == workflow.ActionForEach {
				queue = append(queue, na.Id)
			}
		}
		if result.retire {
			c.retireActions([]string{id})
		}
	}
	return nil
}

type unrollResult struct {
	newActions []workflow.Action
	retire     bool
}

// unrollOne resolves the for-each's current input batch (the recursive
// buffer if populated, else the declared input), mints a fresh iteration per
// element, deep-copies and substitutes the body, and decides whether the
// for-each action retires or stays pending for another round.
func (c *Compiler) unrollOne(action workflow.Action) (unrollResult, error) {
	fe := action.ForEach
	enumId := fe.Enumerator.Id
	recursiveBufId := fe.Input.Id + "$" + enumId

	inputVal, resolved := c.lookupValue(recursiveBufId)
	if !resolved {
		inputVal, resolved = c.resolveVariable(fe.Input)
	}
	if !resolved {
		// Not yet resolvable; leave pending for a later round.
		return unrollResult{}, nil
	}

	elems := toSequence(inputVal)

	var newActions []workflow.Action
	var yieldOutVars []workflow.Variable
	var yieldInVars []workflow.Variable

	for _, elem := range elems {
		iter := c.nextIteration(enumId)
		enumVarId := fmt.Sprintf("%s$%d", enumId, iter)
		c.variableValues[enumVarId] = elem

		bodyCopy, local, err := c.substituteBody(fe.Body, map[string]string{enumId: enumVarId}, iter)
		if err != nil {
			return unrollResult{}, err
		}
		newActions = append(newActions, bodyCopy...)

		if fe.YieldToOutput != nil {
			renamed, ok := local[fe.YieldToOutput.Id]
			if !ok {
				return unrollResult{}, &cerrors.InvalidWorkflowError{
					Reason: fmt.Sprintf("yieldToOutput %q not produced by for-each body", fe.YieldToOutput.Id),
				}
			}
			yieldOutVars = append(yieldOutVars, workflow.NewVariable(renamed))
		}
		if fe.YieldToInput != nil {
			renamed, ok := local[fe.YieldToInput.Id]
			if !ok {
				return unrollResult{}, &cerrors.InvalidWorkflowError{
					Reason: fmt.Sprintf("yieldToInput %q not produced by for-each body", fe.YieldToInput.Id),
				}
			}
			yieldInVars = append(yieldInVars, workflow.NewVariable(renamed))
		}
	}

	if fe.Output != nil && len(yieldOutVars) > 0 {
		pendingId := fe.Output.Id + "$$"
		c.forEachOutputsToBeCollected[pendingId] = append(c.forEachOutputsToBeCollected[pendingId], yieldOutVars...)
	}

	if len(yieldInVars) == 0 {
		if _, stillPending := c.forEachOutputsToBeCollected[recursiveBufId]; stillPending {
			// More iterations may still arrive once downstream work resolves.
			return unrollResult{newActions: newActions, retire: false}, nil
		}
		if fe.Output != nil {
			c.renamePendingOutput(fe.Output.Id)
		}
		return unrollResult{newActions: newActions, retire: true}, nil
	}

	// yieldToInput produced new targets: reset the recursive buffer and wait
	// for them to resolve before unrolling again.
	c.variableValues[recursiveBufId] = []any{}
	c.forEachOutputsToBeCollected[recursiveBufId] = append(c.forEachOutputsToBeCollected[recursiveBufId], yieldInVars...)
	return unrollResult{newActions: newActions, retire: false}, nil
}

// renamePendingOutput transfers the pending "outputId$$" bookkeeping back to
// outputId once the for-each that produced it has actually retired, so the
// collected value only becomes visible to downstream actions at that point.
func (c *Compiler) renamePendingOutput(outputId string) {
	pendingId := outputId + "$$"
	if vars, ok := c.forEachOutputsToBeCollected[pendingId]; ok {
		delete(c.forEachOutputsToBeCollected, pendingId)
		c.forEachOutputsToBeCollected[outputId] = append(c.forEachOutputsToBeCollected[outputId], vars...)
	}
	if val, ok := c.variableValues[pendingId]; ok {
		delete(c.variableValues, pendingId)
		c.variableValues[outputId] = val
	}
}

// substituteBody deep-copies body, applying rename to enumerator references
// and minting a fresh "$iter"-suffixed id for every ExecuteAction output
// encountered, recording it in the returned map so later actions in the same
// body (and the caller's yieldToOutput/yieldToInput lookups) see it. Nested
// ForEachActions have their own Input rewritten through the accumulated
// rename map but keep their own enumerator/output ids: those are minted the
// same way, the next time unrollOne processes that nested action, against
// the iterations counter shared globally for that enumerator id.
func (c *Compiler) substituteBody(body []workflow.Action, rename map[string]string, iter int) ([]workflow.Action, map[string]string, error) {
	local := make(map[string]string, len(rename))
	for k, v := range rename {
		local[k] = v
	}

	out := make([]workflow.Action, 0, len(body))
	for _, action := range body {
		switch action.Kind {
		case workflow.ActionExecute:
			ex := *action.Execute
			ex.Inputs = substituteParams(ex.Inputs, local)
			ex.Outputs = mintOutputIds(ex.Outputs, local, iter)
			out = append(out, workflow.NewExecuteAction(c.ids.NextId(), ex))

		case workflow.ActionForEach:
			fe := action.Clone().ForEach
			fe.Input = substituteVariable(fe.Input, local)
			out = append(out, workflow.Action{Id: c.ids.NextId(), Kind: workflow.ActionForEach, ForEach: fe})

		default:
			return nil, nil, &cerrors.InvalidWorkflowError{Reason: "unsupported action kind in for-each body"}
		}
	}
	return out, local, nil
}

func substituteVariable(v workflow.Variable, rename map[string]string) workflow.Variable {
	if v.HasValue {
		return v
	}
	if newId, ok := rename[v.Id]; ok {
		return workflow.NewVariable(newId)
	}
	return v
}

func substituteParams(params []workflow.Parameter, rename map[string]string) []workflow.Parameter {
	out := make([]workflow.Parameter, len(params))
	for i, p := range params {
		np := p
		np.Variable = substituteVariable(p.Variable, rename)
		out[i] = np
	}
	return out
}

// mintOutputIds renames every output parameter's variable id to
// "<originalId>$<iter>", recording the mapping in rename so later body
// actions referencing the original id see the fresh one.
func mintOutputIds(params []workflow.Parameter, rename map[string]string, iter int) []workflow.Parameter {
	out := make([]workflow.Parameter, len(params))
	for i, p := range params {
		newId := fmt.Sprintf("%s$%d", p.Variable.Id, iter)
		rename[p.Variable.Id] = newId
		np := p
		np.Variable = workflow.NewVariable(newId)
		out[i] = np
	}
	return out
}
