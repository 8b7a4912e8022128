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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowc/compiler/internal/config"
)

func TestOpenBackend_Memory(t *testing.T) {
	be, closeFn, err := openBackend(config.BackendConfig{Type: "memory"})
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, be)
}

func TestOpenBackend_EmptyTypeDefaultsToMemory(t *testing.T) {
	be, closeFn, err := openBackend(config.BackendConfig{})
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, be)
}

func TestOpenBackend_SQLite(t *testing.T) {
	dir := t.TempDir()
	be, closeFn, err := openBackend(config.BackendConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "registry.db")},
	})
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, be)
}

func TestOpenBackend_UnknownTypeErrors(t *testing.T) {
	_, _, err := openBackend(config.BackendConfig{Type: "nope"})
	assert.Error(t, err)
}
