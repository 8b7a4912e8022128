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
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/workflowc/compiler/internal/cli/shared"
	"github.com/workflowc/compiler/internal/config"
	"github.com/workflowc/compiler/internal/controller/backend"
	"github.com/workflowc/compiler/pkg/compiler"
	"github.com/workflowc/compiler/pkg/workflow"
)

// NewSubmitCommand creates the 'submit' subcommand, which enqueues a
// workflow document as a new ACCEPTED submission.
func NewSubmitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <workflow.json>",
		Short: "Enqueue a workflow as a new submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), shared.GetConfigPath(), args[0])
		},
	}
	return cmd
}

func runSubmit(ctx context.Context, configPath, workflowPath string) error {
	payload, err := os.ReadFile(workflowPath)
	if err != nil {
		return shared.NewInvalidWorkflowError("reading workflow file", err)
	}

	var wf workflow.Workflow
	if err := json.Unmarshal(payload, &wf); err != nil {
		return shared.NewInvalidWorkflowError("parsing workflow document", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return shared.NewInvalidWorkflowError("loading configuration", err)
	}

	be, closeFn, err := openBackend(cfg.Backend)
	if err != nil {
		return shared.NewBackendError("opening backend", err)
	}
	defer closeFn()

	sub := &backend.Submission{
		ID:        compiler.UUIDGenerator{}.NextId(),
		Status:    backend.StatusAccepted,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	if err := be.PutSubmission(ctx, sub); err != nil {
		return shared.NewBackendError("submitting workflow", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(struct {
			shared.JSONResponse
			SubmissionID string `json:"submission_id"`
		}{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "submit", Success: true},
			SubmissionID: sub.ID,
		})
	}

	fmt.Println(sub.ID)
	return nil
}
