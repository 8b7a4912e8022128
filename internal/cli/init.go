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
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/workflowc/compiler/internal/cli/shared"
	"github.com/workflowc/compiler/internal/config"
)

// NewInitCommand creates the 'init' subcommand, an interactive wizard that
// writes a starter config file.
func NewInitCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively generate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(outPath)
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "workflowc.yaml", "Path to write the generated config file")
	return cmd
}

func runInit(outPath string) error {
	cfg := config.Default()
	backendType := cfg.Backend.Type

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Temp path").
				Description("Base directory for materialized OUTPUT arguments not flagged store").
				Value(&cfg.Options.TmpPath),
			huh.NewInput().
				Title("Out path").
				Description("Base directory for materialized OUTPUT arguments flagged store").
				Value(&cfg.Options.OutPath),
			huh.NewInput().
				Title("Services directory").
				Description("Directory to glob for service metadata YAML files").
				Value(&cfg.Services.Dir),
			huh.NewSelect[string]().
				Title("Backend").
				Options(
					huh.NewOption("memory (no durability)", "memory"),
					huh.NewOption("sqlite (single node)", "sqlite"),
					huh.NewOption("postgres (multi-worker)", "postgres"),
				).
				Value(&backendType),
		),
	)

	if err := form.Run(); err != nil {
		return shared.NewInvalidWorkflowError("running init wizard", err)
	}
	cfg.Backend.Type = backendType

	switch backendType {
	case "sqlite":
		path := cfg.Backend.SQLite.Path
		pathForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("SQLite database path").Value(&path),
			),
		)
		if err := pathForm.Run(); err != nil {
			return shared.NewInvalidWorkflowError("running init wizard", err)
		}
		cfg.Backend.SQLite.Path = path
	case "postgres":
		dsn := cfg.Backend.Postgres.ConnectionString
		dsnForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("PostgreSQL connection string").Value(&dsn),
			),
		)
		if err := dsnForm.Run(); err != nil {
			return shared.NewInvalidWorkflowError("running init wizard", err)
		}
		cfg.Backend.Postgres.ConnectionString = dsn
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return shared.NewBackendError(fmt.Sprintf("writing %s", outPath), err)
	}

	fmt.Printf("Wrote %s\n", outPath)
	return nil
}
