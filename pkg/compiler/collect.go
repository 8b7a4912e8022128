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

import "github.com/workflowc/compiler/pkg/workflow"

// collectForEachOutputsFixpoint repeatedly scans forEachOutputsToBeCollected
// and resolves any entry whose member variables are all currently available,
// publishing the aggregated value via yieldTo. It repeats until a pass makes
// no progress, so a yield that unblocks another yield is observed within the
// same call.
func (c *Compiler) collectForEachOutputsFixpoint() error {
	for {
		progressed := false
		for outputId, vars := range c.forEachOutputsToBeCollected {
			ok, err := c.tryCollect(outputId, vars)
			if err != nil {
				return err
			}
			if ok {
				progressed = true
			}
		}
		if !progressed {
			return nil
		}
	}
}

// tryCollect resolves outputId's pending variables if every one of them
// currently has a value. On success it removes the pending entry and yields
// the resolved values onto any value already published for outputId.
func (c *Compiler) tryCollect(outputId string, vars []workflow.Variable) (bool, error) {
	values := make([]any, 0, len(vars))
	for _, v := range vars {
		val, ok := c.resolveVariable(v)
		if !ok {
			return false, nil
		}
		values = append(values, val)
	}

	existing := c.variableValues[outputId]
	c.variableValues[outputId] = yieldTo(existing, values)
	delete(c.forEachOutputsToBeCollected, outputId)
	return true, nil
}
