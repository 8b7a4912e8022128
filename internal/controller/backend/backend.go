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

// Package backend declares the persistence contracts the controller depends
// on. Interfaces are segregated by role so a minimal backend only needs to
// implement the pieces it cares about; the Backend interface composes all
// of them for full-featured implementations such as memory and sqlite.
package backend

import (
	"context"
	"io"
	"time"
)

// Submission statuses, per the submission lifecycle the controller drives.
const (
	StatusAccepted       = "ACCEPTED"
	StatusRunning        = "RUNNING"
	StatusSuccess        = "SUCCESS"
	StatusPartialSuccess = "PARTIAL_SUCCESS"
	StatusError          = "ERROR"
)

// Process chain statuses.
const (
	PCStatusRegistered = "REGISTERED"
	PCStatusRunning    = "RUNNING"
	PCStatusSuccess    = "SUCCESS"
	PCStatusError      = "ERROR"
)

// Submission is one workflow execution request tracked across its lifetime.
type Submission struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	// Payload is the submitted workflow.Workflow document, serialized as
	// JSON, from which the controller constructs a Compiler.
	Payload        []byte     `json:"payload"`
	ExecutionState []byte     `json:"executionState,omitempty"`
	Results        map[string][]any `json:"results,omitempty"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// SubmissionRegistry is the minimal contract the controller needs to drive
// submissions from ACCEPTED through a terminal status.
type SubmissionRegistry interface {
	// PutSubmission inserts or replaces a submission outright, used by
	// external ingestion paths (e.g. the CLI's submit command) rather than
	// the controller's own lifecycle transitions.
	PutSubmission(ctx context.Context, s *Submission) error
	// FetchNext atomically claims and transitions the next submission whose
	// status equals fromStatus, returning nil if none is available.
	FetchNext(ctx context.Context, fromStatus, toStatus string) (*Submission, error)
	FindById(ctx context.Context, id string) (*Submission, error)
	FindIdsByStatus(ctx context.Context, status string) ([]string, error)
	GetStatus(ctx context.Context, id string) (string, error)
	SetStatus(ctx context.Context, id, status string) error
	SetStartTime(ctx context.Context, id string, t time.Time) error
	SetEndTime(ctx context.Context, id string, t time.Time) error
	GetExecutionState(ctx context.Context, id string) ([]byte, error)
	SetExecutionState(ctx context.Context, id string, state []byte) error
	SetResults(ctx context.Context, id string, results map[string][]any) error
}

// ProcessChainRegistry tracks process chains dispatched for a submission and
// the terminal status/results the external scheduler reports back.
type ProcessChainRegistry interface {
	AddProcessChains(ctx context.Context, submissionId string, chains []ProcessChainRecord) error
	FindBySubmissionId(ctx context.Context, submissionId string) ([]ProcessChainRecord, error)
	CountByStatus(ctx context.Context, submissionId, status string) (int, error)
	FindStatusesBySubmissionId(ctx context.Context, submissionId string) (map[string]string, error)
	GetResults(ctx context.Context, pcId string) (map[string][]any, error)
	SetChainResults(ctx context.Context, pcId string, results map[string][]any) error
	GetChainStatus(ctx context.Context, pcId string) (string, error)
	GetErrorMessage(ctx context.Context, pcId string) (string, error)
	SetChainStatus(ctx context.Context, pcId, status string) error
	SetErrorMessage(ctx context.Context, pcId string, msg string) error
}

// ProcessChainRecord is the persisted shape of a compiler-emitted process
// chain: its opaque payload (the compiler's workflow.ProcessChain, stored as
// JSON) plus registry-owned lifecycle fields.
type ProcessChainRecord struct {
	Id           string    `json:"id"`
	SubmissionId string    `json:"submissionId"`
	Payload      []byte    `json:"payload"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Results      map[string][]any `json:"results,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ServiceMetadataRegistry is the read-only contract over service signatures
// the compiler needs to materialize arguments and validate cardinality.
type ServiceMetadataRegistry interface {
	FindServices(ctx context.Context) ([]ServiceMetadataRecord, error)
}

// ServiceMetadataRecord is the persisted shape of one service's metadata,
// stored as JSON and decoded by callers into workflow.ServiceMetadata.
type ServiceMetadataRecord struct {
	Id      string `json:"id"`
	Payload []byte `json:"payload"`
}

// OutputAdapterRegistry answers whether an external plugin can post-process
// a process-chain output of a given data type; only presence is consumed.
type OutputAdapterRegistry interface {
	FindOutputAdapter(ctx context.Context, dataType string) (bool, error)
}

// SignalBus fires-and-forgets a wake-up to the external scheduler after new
// process chains are persisted.
type SignalBus interface {
	Publish(ctx context.Context, topic string) error
}

// Lease is a short-lived, named exclusive token. It must be released on
// every exit path including panic/error.
type Lease interface {
	Release(ctx context.Context) error
}

// LeaseRegistry grants per-submission exclusive leases so only one worker
// drives a given submission's loop at a time.
type LeaseRegistry interface {
	// TryLock attempts to acquire name without waiting, returning nil (not an
	// error) if another holder already owns it. timeout is the lease's
	// lifetime: the memory and sqlite backends let another caller reclaim a
	// lease that is not released within it; the postgres advisory lock
	// ignores it and is held until Release.
	TryLock(ctx context.Context, name string, timeout time.Duration) (Lease, error)
}

// Backend composes every registry contract the controller depends on, plus
// io.Closer for lifecycle management. Minimal backends can implement the
// segregated interfaces individually and be composed at the call site.
type Backend interface {
	SubmissionRegistry
	ProcessChainRegistry
	ServiceMetadataRegistry
	OutputAdapterRegistry
	LeaseRegistry
	io.Closer
}
