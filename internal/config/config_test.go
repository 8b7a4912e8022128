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

package config

import (
	"os"
	"path/filepath"
	"testing"

	cerrors "github.com/workflowc/compiler/pkg/errors"
)

func clearWorkflowcEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"WORKFLOWC_TMP_PATH", "WORKFLOWC_OUT_PATH", "WORKFLOWC_LOOKUP_INTERVAL_MS",
		"WORKFLOWC_ORPHAN_LOOKUP_INTERVAL_MS", "WORKFLOWC_LEASE_TIMEOUT",
		"WORKFLOWC_BACKEND", "WORKFLOWC_SQLITE_PATH", "WORKFLOWC_POSTGRES_DSN",
		"WORKFLOWC_SERVICES_DIR", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
	} {
		os.Unsetenv(k)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Options.LookupIntervalMs != 2000 {
		t.Errorf("expected default lookup interval 2000ms, got %d", cfg.Options.LookupIntervalMs)
	}
	if cfg.Options.OrphanLookupIntervalMs != 300000 {
		t.Errorf("expected default orphan interval 300000ms, got %d", cfg.Options.OrphanLookupIntervalMs)
	}
	if cfg.Backend.Type != "memory" {
		t.Errorf("expected default backend memory, got %q", cfg.Backend.Type)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoadRequiresTmpAndOutPath(t *testing.T) {
	clearWorkflowcEnv(t)

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error when tmp_path/out_path/services.dir are unset")
	}
	if cerrors.Kind(err) != "config" {
		t.Errorf("expected config error kind, got %q", cerrors.Kind(err))
	}
}

func TestLoadFromFile(t *testing.T) {
	clearWorkflowcEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte(`
options:
  tmp_path: /tmp/workflowc
  out_path: /var/lib/workflowc/out
services:
  dir: /etc/workflowc/services
`)
	if err := os.WriteFile(path, contents, 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Options.TmpPath != "/tmp/workflowc" {
		t.Errorf("expected tmp_path to be loaded, got %q", cfg.Options.TmpPath)
	}
	if cfg.Options.LookupIntervalMs != 2000 {
		t.Errorf("expected default lookup interval to be applied, got %d", cfg.Options.LookupIntervalMs)
	}
	if cfg.Backend.Type != "memory" {
		t.Errorf("expected default backend to be applied, got %q", cfg.Backend.Type)
	}
}

func TestLoadFromEnvOverridesFile(t *testing.T) {
	clearWorkflowcEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte(`
options:
  tmp_path: /tmp/workflowc
  out_path: /var/lib/workflowc/out
services:
  dir: /etc/workflowc/services
`)
	if err := os.WriteFile(path, contents, 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("WORKFLOWC_TMP_PATH", "/override/tmp")
	t.Setenv("WORKFLOWC_BACKEND", "SQLITE")
	t.Setenv("WORKFLOWC_SQLITE_PATH", "/override/db.sqlite")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Options.TmpPath != "/override/tmp" {
		t.Errorf("expected env override for tmp_path, got %q", cfg.Options.TmpPath)
	}
	if cfg.Backend.Type != "sqlite" {
		t.Errorf("expected env override to lowercase backend type, got %q", cfg.Backend.Type)
	}
	if cfg.Backend.SQLite.Path != "/override/db.sqlite" {
		t.Errorf("expected env override for sqlite path, got %q", cfg.Backend.SQLite.Path)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Options.TmpPath = "/tmp"
	cfg.Options.OutPath = "/tmp/out"
	cfg.Services.Dir = "/etc/services"
	cfg.Backend.Type = "dynamodb"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown backend type")
	}
}

func TestValidateRequiresSQLitePath(t *testing.T) {
	cfg := Default()
	cfg.Options.TmpPath = "/tmp"
	cfg.Options.OutPath = "/tmp/out"
	cfg.Services.Dir = "/etc/services"
	cfg.Backend.Type = "sqlite"
	cfg.Backend.SQLite.Path = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing sqlite path")
	}
}

func TestOptionsIntervalHelpers(t *testing.T) {
	o := Options{LookupIntervalMs: 2000, OrphanLookupIntervalMs: 300000}
	if o.LookupInterval().Seconds() != 2 {
		t.Errorf("expected 2s, got %v", o.LookupInterval())
	}
	if o.OrphanLookupInterval().Minutes() != 5 {
		t.Errorf("expected 5m, got %v", o.OrphanLookupInterval())
	}
}
