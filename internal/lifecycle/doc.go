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
Package lifecycle manages controller process lifecycle operations.

This package provides secure PID file management for the workflowc serve
process, guarding against two controllers racing over the same backend.

# PID File Management

PID files are security-sensitive as they control which process a later
"is it already running" check believes owns a given backend. The package
uses exclusive file locking (flock) and atomic creation (O_EXCL) to
prevent race conditions and symlink attacks:

	manager := lifecycle.NewPIDFileManager("/path/to/workflowc.pid")
	if err := manager.Create(os.Getpid()); err != nil {
	    // Another serve process already holds this PID file.
	}
	defer manager.Remove()
*/
package lifecycle
