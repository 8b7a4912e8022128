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
	"github.com/spf13/cobra"

	"github.com/workflowc/compiler/internal/cli/shared"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for workflowc.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflowc",
		Short: "workflowc - workflow-to-process-chain compiler and controller",
		Long: `workflowc lowers declarative workflows into linear process chains and
drives their execution through a recovery-aware controller.

Run 'workflowc serve' to start the controller against a backend.
Run 'workflowc submit <workflow.json>' to enqueue a workflow for execution.
Run 'workflowc init' to interactively generate a config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbose, quiet, jsonOut, config := shared.RegisterFlagPointers()
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(jsonOut, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: none; built-in defaults and environment variables only)")

	cmd.AddCommand(
		NewServeCommand(),
		NewSubmitCommand(),
		NewStatusCommand(),
		NewInspectCommand(),
		NewInitCommand(),
	)
	cmd.AddCommand(NewHelpCommand(cmd))

	return cmd
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes.
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
