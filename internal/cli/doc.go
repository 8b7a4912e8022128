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

/*
Package cli provides the root command and subcommands for workflowc's CLI.

# Command Tree

	workflowc
	├── serve    Start the controller against a backend
	├── submit   Enqueue a workflow submission
	├── status   Show a submission's status
	├── inspect  Query a submission's execution state or results
	├── init     Interactively generate a config file
	└── help     Show help

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

All commands inherit these flags:

	--verbose, -v    Enable verbose output
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--config         Path to config file

# Error Handling

Errors are handled centrally through internal/cli/shared.HandleExitError, which
maps *shared.ExitError to a process exit code:

  - 0: success
  - 1: general error
  - 2: invalid workflow
  - 3: not found
  - 4: backend error
*/
package cli
