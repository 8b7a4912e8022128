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

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/workflowc/compiler/internal/cli/shared"
	"github.com/workflowc/compiler/internal/config"
	"github.com/workflowc/compiler/internal/jq"
	cerrors "github.com/workflowc/compiler/pkg/errors"
)

// NewInspectCommand creates the 'inspect' subcommand, which queries a
// submission's execution state or results with a jq expression.
func NewInspectCommand() *cobra.Command {
	var (
		query   string
		results bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <submission-id>",
		Short: "Query a submission's execution state or results",
		Long: `inspect decodes a submission's persisted execution state (the
compiler's resumable checkpoint) and applies an optional jq expression to it.

Pass --results to inspect the submission's accumulated results map instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), shared.GetConfigPath(), args[0], query, results)
		},
	}

	cmd.Flags().StringVar(&query, "query", ".", "jq expression to apply")
	cmd.Flags().BoolVar(&results, "results", false, "Inspect results instead of execution state")

	return cmd
}

func runInspect(ctx context.Context, configPath, submissionID, query string, inspectResults bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return shared.NewInvalidWorkflowError("loading configuration", err)
	}

	be, closeFn, err := openBackend(cfg.Backend)
	if err != nil {
		return shared.NewBackendError("opening backend", err)
	}
	defer closeFn()

	var data any
	if inspectResults {
		sub, err := be.FindById(ctx, submissionID)
		if err != nil {
			var notFound *cerrors.NotFoundError
			if errors.As(err, &notFound) {
				return shared.NewNotFoundError(fmt.Sprintf("submission %s not found", submissionID), err)
			}
			return shared.NewBackendError("fetching submission", err)
		}
		data = sub.Results
	} else {
		state, err := be.GetExecutionState(ctx, submissionID)
		if err != nil {
			var notFound *cerrors.NotFoundError
			if errors.As(err, &notFound) {
				return shared.NewNotFoundError(fmt.Sprintf("submission %s not found", submissionID), err)
			}
			return shared.NewBackendError("fetching execution state", err)
		}
		if len(state) == 0 {
			data = nil
		} else if err := json.Unmarshal(state, &data); err != nil {
			return shared.NewInvalidWorkflowError("decoding execution state", err)
		}
	}

	executor := jq.NewExecutor(0, 0)
	result, err := executor.Execute(ctx, query, data)
	if err != nil {
		return shared.NewInvalidWorkflowError("evaluating jq expression", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
