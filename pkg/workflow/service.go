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

package workflow

// ParameterDirection distinguishes INPUT from OUTPUT service parameters.
type ParameterDirection string

const (
	DirectionInput  ParameterDirection = "INPUT"
	DirectionOutput ParameterDirection = "OUTPUT"
)

// Cardinality bounds how many Arguments a ServiceParameter accepts.
type Cardinality struct {
	Min int
	Max int
}

// InBounds reports whether n falls within [Min, Max].
func (c Cardinality) InBounds(n int) bool {
	return n >= c.Min && n <= c.Max
}

// ServiceParameter is one declared input or output slot of a ServiceMetadata
// entry.
type ServiceParameter struct {
	Id          string             `yaml:"id" json:"id"`
	Label       string             `yaml:"label" json:"label"`
	Type        ParameterDirection `yaml:"type" json:"type"`
	DataType    string             `yaml:"dataType" json:"dataType"`
	Cardinality Cardinality        `yaml:"cardinality" json:"cardinality"`
	Default     any                `yaml:"default,omitempty" json:"default,omitempty"`
	HasDefault  bool               `yaml:"-" json:"hasDefault,omitempty"`
	FileSuffix  string             `yaml:"fileSuffix,omitempty" json:"fileSuffix,omitempty"`
}

// DataTypeDirectory is the well-known dataType tag mergeToDir recognizes.
const DataTypeDirectory = "directory"

// ServiceMetadata describes one invocable service: its runtime, the
// capabilities a compatible agent must advertise, and its parameter
// contract.
type ServiceMetadata struct {
	Id                   string              `yaml:"id" json:"id"`
	Name                 string              `yaml:"name" json:"name"`
	Path                 string              `yaml:"path" json:"path"`
	Runtime              string              `yaml:"runtime" json:"runtime"`
	RequiredCapabilities []string            `yaml:"requiredCapabilities" json:"requiredCapabilities"`
	Parameters           []ServiceParameter  `yaml:"parameters" json:"parameters"`
}

// Parameter looks up a declared ServiceParameter by id.
func (s ServiceMetadata) Parameter(id string) (ServiceParameter, bool) {
	for _, p := range s.Parameters {
		if p.Id == id {
			return p, true
		}
	}
	return ServiceParameter{}, false
}
