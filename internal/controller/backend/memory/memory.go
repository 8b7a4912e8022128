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

// Package memory implements internal/controller/backend's registry
// contracts with mutex-guarded in-memory maps, for tests and single-process
// deployments that don't need durability across restarts.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/workflowc/compiler/internal/controller/backend"
	cerrors "github.com/workflowc/compiler/pkg/errors"
)

var _ backend.Backend = (*Backend)(nil)

// Backend is an in-memory implementation of backend.Backend.
type Backend struct {
	mu sync.Mutex

	submissions      map[string]*backend.Submission
	processChains    map[string]backend.ProcessChainRecord
	submissionChains map[string][]string

	services []backend.ServiceMetadataRecord
	adapters map[string]bool

	leases map[string]time.Time
}

// New creates an empty backend. adapterDataTypes names the data types for
// which FindOutputAdapter reports true.
func New(services []backend.ServiceMetadataRecord, adapterDataTypes []string) *Backend {
	adapters := make(map[string]bool, len(adapterDataTypes))
	for _, dt := range adapterDataTypes {
		adapters[dt] = true
	}
	return &Backend{
		submissions:      map[string]*backend.Submission{},
		processChains:    map[string]backend.ProcessChainRecord{},
		submissionChains: map[string][]string{},
		services:         services,
		adapters:         adapters,
		leases:           map[string]time.Time{},
	}
}

// Put seeds or overwrites a submission, for tests that don't need a ctx or
// error return.
func (b *Backend) Put(s *backend.Submission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submissions[s.ID] = s
}

// PutSubmission inserts or replaces a submission, matching sqlite/postgres's
// signature so the CLI's submit path can target any backend uniformly.
func (b *Backend) PutSubmission(ctx context.Context, s *backend.Submission) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	b.Put(s)
	return nil
}

func (b *Backend) FetchNext(ctx context.Context, fromStatus, toStatus string) (*backend.Submission, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.submissions {
		if s.Status == fromStatus {
			s.Status = toStatus
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (b *Backend) FindById(ctx context.Context, id string) (*backend.Submission, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.submissions[id]
	if !ok {
		return nil, &cerrors.NotFoundError{Resource: "submission", ID: id}
	}
	cp := *s
	return &cp, nil
}

func (b *Backend) FindIdsByStatus(ctx context.Context, status string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []string
	for id, s := range b.submissions {
		if s.Status == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (b *Backend) GetStatus(ctx context.Context, id string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.submissions[id]
	if !ok {
		return "", &cerrors.NotFoundError{Resource: "submission", ID: id}
	}
	return s.Status, nil
}

func (b *Backend) SetStatus(ctx context.Context, id, status string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.submissions[id]
	if !ok {
		return &cerrors.NotFoundError{Resource: "submission", ID: id}
	}
	s.Status = status
	return nil
}

func (b *Backend) SetStartTime(ctx context.Context, id string, t time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.submissions[id]
	if !ok {
		return &cerrors.NotFoundError{Resource: "submission", ID: id}
	}
	s.StartTime = &t
	return nil
}

func (b *Backend) SetEndTime(ctx context.Context, id string, t time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.submissions[id]
	if !ok {
		return &cerrors.NotFoundError{Resource: "submission", ID: id}
	}
	s.EndTime = &t
	return nil
}

func (b *Backend) GetExecutionState(ctx context.Context, id string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.submissions[id]
	if !ok {
		return nil, &cerrors.NotFoundError{Resource: "submission", ID: id}
	}
	return s.ExecutionState, nil
}

func (b *Backend) SetExecutionState(ctx context.Context, id string, state []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.submissions[id]
	if !ok {
		return &cerrors.NotFoundError{Resource: "submission", ID: id}
	}
	s.ExecutionState = state
	return nil
}

func (b *Backend) SetResults(ctx context.Context, id string, results map[string][]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.submissions[id]
	if !ok {
		return &cerrors.NotFoundError{Resource: "submission", ID: id}
	}
	s.Results = results
	return nil
}

func (b *Backend) AddProcessChains(ctx context.Context, submissionId string, chains []backend.ProcessChainRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, pc := range chains {
		pc.SubmissionId = submissionId
		if pc.Status == "" {
			pc.Status = backend.PCStatusRegistered
		}
		pc.CreatedAt = time.Now()
		b.processChains[pc.Id] = pc
		b.submissionChains[submissionId] = append(b.submissionChains[submissionId], pc.Id)
	}
	return nil
}

func (b *Backend) FindBySubmissionId(ctx context.Context, submissionId string) ([]backend.ProcessChainRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []backend.ProcessChainRecord
	for _, id := range b.submissionChains[submissionId] {
		out = append(out, b.processChains[id])
	}
	return out, nil
}

func (b *Backend) CountByStatus(ctx context.Context, submissionId, status string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, id := range b.submissionChains[submissionId] {
		if b.processChains[id].Status == status {
			count++
		}
	}
	return count, nil
}

func (b *Backend) FindStatusesBySubmissionId(ctx context.Context, submissionId string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := map[string]string{}
	for _, id := range b.submissionChains[submissionId] {
		out[id] = b.processChains[id].Status
	}
	return out, nil
}

func (b *Backend) GetResults(ctx context.Context, pcId string) (map[string][]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pc, ok := b.processChains[pcId]
	if !ok {
		return nil, &cerrors.NotFoundError{Resource: "processChain", ID: pcId}
	}
	return pc.Results, nil
}

// SetChainResults records the results an external scheduler reports for a
// finished process chain, consumed by the controller before ingesting them
// into the compiler's next Generate call.
func (b *Backend) SetChainResults(ctx context.Context, pcId string, results map[string][]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pc, ok := b.processChains[pcId]
	if !ok {
		return &cerrors.NotFoundError{Resource: "processChain", ID: pcId}
	}
	pc.Results = results
	b.processChains[pcId] = pc
	return nil
}

func (b *Backend) GetChainStatus(ctx context.Context, pcId string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pc, ok := b.processChains[pcId]
	if !ok {
		return "", &cerrors.NotFoundError{Resource: "processChain", ID: pcId}
	}
	return pc.Status, nil
}

func (b *Backend) SetChainStatus(ctx context.Context, pcId, status string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pc, ok := b.processChains[pcId]
	if !ok {
		return &cerrors.NotFoundError{Resource: "processChain", ID: pcId}
	}
	pc.Status = status
	b.processChains[pcId] = pc
	return nil
}

func (b *Backend) GetErrorMessage(ctx context.Context, pcId string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pc, ok := b.processChains[pcId]
	if !ok {
		return "", &cerrors.NotFoundError{Resource: "processChain", ID: pcId}
	}
	return pc.ErrorMessage, nil
}

func (b *Backend) SetErrorMessage(ctx context.Context, pcId string, msg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pc, ok := b.processChains[pcId]
	if !ok {
		return &cerrors.NotFoundError{Resource: "processChain", ID: pcId}
	}
	pc.ErrorMessage = msg
	b.processChains[pcId] = pc
	return nil
}

func (b *Backend) FindServices(ctx context.Context) ([]backend.ServiceMetadataRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]backend.ServiceMetadataRecord, len(b.services))
	copy(out, b.services)
	return out, nil
}

func (b *Backend) FindOutputAdapter(ctx context.Context, dataType string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adapters[dataType], nil
}

// PutServices replaces the registered service set wholesale, for hot-reload
// from internal/servicemetadata.
func (b *Backend) PutServices(ctx context.Context, records []backend.ServiceMetadataRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.services = append([]backend.ServiceMetadataRecord(nil), records...)
	return nil
}

// PutOutputAdapters replaces the set of data types with a registered output
// adapter wholesale.
func (b *Backend) PutOutputAdapters(ctx context.Context, dataTypes []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	adapters := make(map[string]bool, len(dataTypes))
	for _, dt := range dataTypes {
		adapters[dt] = true
	}
	b.adapters = adapters
	return nil
}

type memLease struct {
	b    *Backend
	name string
}

func (l *memLease) Release(ctx context.Context) error {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	delete(l.b.leases, l.name)
	return nil
}

func (b *Backend) TryLock(ctx context.Context, name string, timeout time.Duration) (backend.Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if expiry, held := b.leases[name]; held && time.Now().Before(expiry) {
		return nil, nil
	}
	b.leases[name] = time.Now().Add(timeout)
	return &memLease{b: b, name: name}, nil
}

func (b *Backend) Close() error { return nil }
