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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/workflowc/compiler/internal/cli/shared"
	"github.com/workflowc/compiler/internal/config"
	cerrors "github.com/workflowc/compiler/pkg/errors"
)

// NewStatusCommand creates the 'status' subcommand, which reports a
// submission's current lifecycle status.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <submission-id>",
		Short: "Show a submission's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), shared.GetConfigPath(), args[0])
		},
	}
	return cmd
}

func runStatus(ctx context.Context, configPath, submissionID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return shared.NewInvalidWorkflowError("loading configuration", err)
	}

	be, closeFn, err := openBackend(cfg.Backend)
	if err != nil {
		return shared.NewBackendError("opening backend", err)
	}
	defer closeFn()

	status, err := be.GetStatus(ctx, submissionID)
	if err != nil {
		var notFound *cerrors.NotFoundError
		if errors.As(err, &notFound) {
			return shared.NewNotFoundError(fmt.Sprintf("submission %s not found", submissionID), err)
		}
		return shared.NewBackendError("fetching submission status", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(struct {
			shared.JSONResponse
			SubmissionID string `json:"submission_id"`
			Status       string `json:"status"`
		}{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "status", Success: true},
			SubmissionID: submissionID,
			Status:       status,
		})
	}

	if shared.IsTTY() {
		fmt.Println(shared.StyleForStatus(status).Render(status))
	} else {
		fmt.Println(status)
	}
	return nil
}
