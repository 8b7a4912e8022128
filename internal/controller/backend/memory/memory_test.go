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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowc/compiler/internal/controller/backend"
	cerrors "github.com/workflowc/compiler/pkg/errors"
)

func TestBackend_SubmissionLifecycle(t *testing.T) {
	be := New(nil, nil)
	ctx := context.Background()

	be.Put(&backend.Submission{
		ID:      "sub-1",
		Status:  backend.StatusAccepted,
		Payload: []byte(`{"name":"demo"}`),
	})

	status, err := be.GetStatus(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusAccepted, status)

	require.NoError(t, be.SetStatus(ctx, "sub-1", backend.StatusRunning))
	now := time.Now().Truncate(time.Second)
	require.NoError(t, be.SetStartTime(ctx, "sub-1", now))
	require.NoError(t, be.SetExecutionState(ctx, "sub-1", []byte(`{"vars":[]}`)))
	require.NoError(t, be.SetResults(ctx, "sub-1", map[string][]any{"out": {"a", "b"}}))

	sub, err := be.FindById(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusRunning, sub.Status)
	assert.Equal(t, []byte(`{"name":"demo"}`), sub.Payload)
	assert.Equal(t, []byte(`{"vars":[]}`), sub.ExecutionState)
	assert.Equal(t, []any{"a", "b"}, sub.Results["out"])
	require.NotNil(t, sub.StartTime)
	assert.True(t, sub.StartTime.Equal(now))

	ids, err := be.FindIdsByStatus(ctx, backend.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-1"}, ids)
}

func TestBackend_FetchNextClaimsAndCopies(t *testing.T) {
	be := New(nil, nil)
	ctx := context.Background()

	be.Put(&backend.Submission{ID: "sub-a", Status: backend.StatusAccepted, Payload: []byte(`{}`)})

	claimed, err := be.FetchNext(ctx, backend.StatusAccepted, backend.StatusRunning)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "sub-a", claimed.ID)

	// The returned value is a copy; mutating it must not affect the backend's
	// own record.
	claimed.Status = backend.StatusError
	status, err := be.GetStatus(ctx, "sub-a")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusRunning, status)

	none, err := be.FetchNext(ctx, backend.StatusAccepted, backend.StatusRunning)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestBackend_NotFound(t *testing.T) {
	be := New(nil, nil)
	ctx := context.Background()

	_, err := be.FindById(ctx, "missing")
	assert.Equal(t, "not-found", cerrors.Kind(err))

	err = be.SetStatus(ctx, "missing", backend.StatusRunning)
	assert.Equal(t, "not-found", cerrors.Kind(err))
}

func TestBackend_ProcessChainLifecycle(t *testing.T) {
	be := New(nil, nil)
	ctx := context.Background()

	require.NoError(t, be.AddProcessChains(ctx, "sub-pc", []backend.ProcessChainRecord{
		{Id: "pc-1", Payload: []byte(`{"id":"pc-1"}`)},
		{Id: "pc-2", Payload: []byte(`{"id":"pc-2"}`)},
	}))

	chains, err := be.FindBySubmissionId(ctx, "sub-pc")
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, backend.PCStatusRegistered, chains[0].Status)

	require.NoError(t, be.SetChainStatus(ctx, "pc-1", backend.PCStatusSuccess))
	require.NoError(t, be.SetChainStatus(ctx, "pc-2", backend.PCStatusError))
	require.NoError(t, be.SetErrorMessage(ctx, "pc-2", "boom"))

	status, err := be.GetChainStatus(ctx, "pc-1")
	require.NoError(t, err)
	assert.Equal(t, backend.PCStatusSuccess, status)

	msg, err := be.GetErrorMessage(ctx, "pc-2")
	require.NoError(t, err)
	assert.Equal(t, "boom", msg)

	count, err := be.CountByStatus(ctx, "sub-pc", backend.PCStatusSuccess)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	statuses, err := be.FindStatusesBySubmissionId(ctx, "sub-pc")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"pc-1": backend.PCStatusSuccess, "pc-2": backend.PCStatusError}, statuses)
}

func TestBackend_ServicesAndOutputAdapters(t *testing.T) {
	be := New([]backend.ServiceMetadataRecord{
		{Id: "svc-a", Payload: []byte(`{"id":"svc-a"}`)},
	}, []string{"file"})
	ctx := context.Background()

	services, err := be.FindServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "svc-a", services[0].Id)

	has, err := be.FindOutputAdapter(ctx, "file")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = be.FindOutputAdapter(ctx, "text")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestBackend_LeaseMutualExclusion(t *testing.T) {
	be := New(nil, nil)
	ctx := context.Background()

	lease, err := be.TryLock(ctx, "sub-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	contender, err := be.TryLock(ctx, "sub-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, contender)

	require.NoError(t, lease.Release(ctx))

	reacquired, err := be.TryLock(ctx, "sub-1", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, reacquired)
}

func TestBackend_LeaseExpiryAllowsReclaim(t *testing.T) {
	be := New(nil, nil)
	ctx := context.Background()

	lease, err := be.TryLock(ctx, "sub-2", -time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease)

	reclaimed, err := be.TryLock(ctx, "sub-2", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, reclaimed, "an already-expired lease must be reclaimable")
}
