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

package compiler

import "github.com/google/uuid"

// UUIDGenerator mints time-sortable, process-unique ids via UUIDv7, used for
// process chain ids, unrolled action ids, and output path segments.
type UUIDGenerator struct{}

func (UUIDGenerator) NextId() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// NoAdapterOracle always reports no output adapter registered, suitable for
// deployments that never post-process process-chain outputs.
type NoAdapterOracle struct{}

func (NoAdapterOracle) HasAdapterFor(string) bool { return false }

// StaticAdapterOracle answers HasAdapterFor from a fixed set of data types,
// useful for tests and for small deployments without a dynamic plugin
// registry.
type StaticAdapterOracle struct {
	DataTypes map[string]bool
}

func (o StaticAdapterOracle) HasAdapterFor(dataType string) bool {
	return o.DataTypes[dataType]
}
