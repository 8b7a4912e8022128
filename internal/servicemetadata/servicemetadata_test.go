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

package servicemetadata

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowc/compiler/internal/controller/backend/memory"
	"github.com/workflowc/compiler/pkg/workflow"
)

const cpServiceYAML = `
id: cp
name: cp
path: /bin/cp
runtime: shell
requiredCapabilities: [fs]
parameters:
  - id: src
    label: source
    type: INPUT
    dataType: file
    cardinality: {min: 1, max: 1}
  - id: dst
    label: dest
    type: OUTPUT
    dataType: file
    fileSuffix: .out
`

func writeService(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestLoad_DiscoversYAMLServices(t *testing.T) {
	dir := t.TempDir()
	writeService(t, dir, "cp.yaml", cpServiceYAML)
	writeService(t, dir, "ignored.txt", "not yaml")

	services, err := Load(Config{Dir: dir})
	require.NoError(t, err)
	require.Len(t, services, 1)

	svc := services[0]
	assert.Equal(t, "cp", svc.Id)
	assert.Equal(t, "shell", svc.Runtime)
	require.Len(t, svc.Parameters, 2)
	assert.Equal(t, workflow.DirectionInput, svc.Parameters[0].Type)
	assert.Equal(t, workflow.Cardinality{Min: 1, Max: 1}, svc.Parameters[0].Cardinality)
}

func TestLoad_NestedDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fs"), 0o755))
	writeService(t, filepath.Join(dir, "fs"), "cp.yml", cpServiceYAML)

	services, err := Load(Config{Dir: dir})
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "cp", services[0].Id)
}

func TestToRecords_EncodesAsJSON(t *testing.T) {
	dir := t.TempDir()
	writeService(t, dir, "cp.yaml", cpServiceYAML)

	services, err := Load(Config{Dir: dir})
	require.NoError(t, err)

	records, err := ToRecords(services)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cp", records[0].Id)

	var decoded workflow.ServiceMetadata
	require.NoError(t, json.Unmarshal(records[0].Payload, &decoded))
	assert.Equal(t, "cp", decoded.Id)
}

func TestSync_WritesIntoBackend(t *testing.T) {
	dir := t.TempDir()
	writeService(t, dir, "cp.yaml", cpServiceYAML)

	be := memory.New(nil, nil)
	require.NoError(t, Sync(context.Background(), Config{Dir: dir}, be))

	records, err := be.FindServices(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cp", records[0].Id)
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeService(t, dir, "cp.yaml", cpServiceYAML)

	be := memory.New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, Config{Dir: dir, WatchForChanges: true}, be, nil)
	require.NoError(t, err)
	go w.Run(ctx)

	records, err := be.FindServices(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	writeService(t, dir, "cat.yaml", `
id: cat
name: cat
path: /bin/cat
runtime: shell
requiredCapabilities: [fs]
parameters:
  - id: in
    label: input
    type: INPUT
    dataType: file
    cardinality: {min: 1, max: 1}
`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		records, err = be.FindServices(ctx)
		require.NoError(t, err)
		if len(records) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Len(t, records, 2)
}
