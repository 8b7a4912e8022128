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

package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowc/compiler/internal/controller/backend"
	"github.com/workflowc/compiler/internal/controller/backend/memory"
	"github.com/workflowc/compiler/pkg/compiler"
	"github.com/workflowc/compiler/pkg/workflow"
)

type sequentialIds struct{ n atomic.Int64 }

func (s *sequentialIds) NextId() string {
	return fmt.Sprintf("id%d", s.n.Add(1))
}

type noopBus struct{ published atomic.Int64 }

func (b *noopBus) Publish(ctx context.Context, topic string) error {
	b.published.Add(1)
	return nil
}

func cpService() workflow.ServiceMetadata {
	return workflow.ServiceMetadata{
		Id: "cp", Name: "cp", Path: "/bin/cp", Runtime: "shell",
		RequiredCapabilities: []string{"fs"},
		Parameters: []workflow.ServiceParameter{
			{Id: "src", Label: "source", Type: workflow.DirectionInput, DataType: "file", Cardinality: workflow.Cardinality{Min: 1, Max: 1}},
			{Id: "dst", Label: "dest", Type: workflow.DirectionOutput, DataType: "file", FileSuffix: ".out"},
		},
	}
}

func singleActionWorkflow() workflow.Workflow {
	return workflow.Workflow{
		Actions: []workflow.Action{
			workflow.NewExecuteAction("a1", workflow.ExecuteAction{
				ServiceId: "cp",
				Inputs:    []workflow.Parameter{{Id: "src", Variable: workflow.NewLiteralVariable("X", "a.txt")}},
				Outputs:   []workflow.Parameter{{Id: "dst", Variable: workflow.NewVariable("Y")}},
			}),
		},
	}
}

func newTestController(t *testing.T, be backend.Backend, bus backend.SignalBus) *Controller {
	t.Helper()
	return New(Options{
		TmpPath:        t.TempDir(),
		OutPath:        t.TempDir(),
		LookupInterval: 5 * time.Millisecond,
		LeaseTimeout:   time.Minute,
	}, be, bus, &sequentialIds{}, compiler.NoAdapterOracle{}, nil)
}

func servicesRegistry(svcs ...workflow.ServiceMetadata) []backend.ServiceMetadataRecord {
	out := make([]backend.ServiceMetadataRecord, len(svcs))
	for i, svc := range svcs {
		payload, _ := json.Marshal(svc)
		out[i] = backend.ServiceMetadataRecord{Id: svc.Id, Payload: payload}
	}
	return out
}

// resolvePendingChains marks every REGISTERED process chain for submissionId
// as SUCCESS with a result value bound to the given output variable id, as
// the external scheduler would upon completing dispatched work.
func resolvePendingChains(t *testing.T, ctx context.Context, be backend.Backend, submissionId, outVar string, value any) {
	t.Helper()
	records, err := be.FindBySubmissionId(ctx, submissionId)
	require.NoError(t, err)
	for _, r := range records {
		if r.Status != backend.PCStatusRegistered {
			continue
		}
		require.NoError(t, be.SetChainResults(ctx, r.Id, map[string][]any{outVar: {value}}))
		require.NoError(t, be.SetChainStatus(ctx, r.Id, backend.PCStatusSuccess))
	}
}

func waitForStatus(t *testing.T, ctx context.Context, be backend.Backend, id, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := be.GetStatus(ctx, id)
		require.NoError(t, err)
		if status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("submission never reached status %s", want)
}

func TestController_SuccessPath(t *testing.T) {
	ctx := context.Background()
	be := memory.New(servicesRegistry(cpService()), nil)

	payload, err := json.Marshal(singleActionWorkflow())
	require.NoError(t, err)
	be.Put(&backend.Submission{ID: "sub-1", Status: backend.StatusAccepted, Payload: payload})

	bus := &noopBus{}
	c := newTestController(t, be, bus)
	c.Start(ctx)

	started, err := c.TryStartNext(ctx)
	require.NoError(t, err)
	require.True(t, started)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		records, err := be.FindBySubmissionId(ctx, "sub-1")
		require.NoError(t, err)
		if len(records) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	resolvePendingChains(t, ctx, be, "sub-1", "Y", "a.out")

	waitForStatus(t, ctx, be, "sub-1", backend.StatusSuccess)
	require.NoError(t, c.Shutdown(context.Background()))

	sub, err := be.FindById(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, sub.StartTime)
	require.NotNil(t, sub.EndTime)
	assert.Empty(t, sub.ExecutionState)
	assert.True(t, bus.published.Load() > 0)
}

func TestController_NoSubmissionAvailable(t *testing.T) {
	ctx := context.Background()
	be := memory.New(nil, nil)
	bus := &noopBus{}
	c := newTestController(t, be, bus)
	c.Start(ctx)

	started, err := c.TryStartNext(ctx)
	require.NoError(t, err)
	assert.False(t, started)
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestController_PartialSuccessOnProcessChainError(t *testing.T) {
	ctx := context.Background()
	be := memory.New(servicesRegistry(cpService()), nil)

	wf := workflow.Workflow{
		Actions: []workflow.Action{
			workflow.NewExecuteAction("a1", workflow.ExecuteAction{
				ServiceId: "cp",
				Inputs:    []workflow.Parameter{{Id: "src", Variable: workflow.NewLiteralVariable("X", "a.txt")}},
				Outputs:   []workflow.Parameter{{Id: "dst", Variable: workflow.NewVariable("Y")}},
			}),
			workflow.NewExecuteAction("a2", workflow.ExecuteAction{
				ServiceId: "cp",
				Inputs:    []workflow.Parameter{{Id: "src", Variable: workflow.NewLiteralVariable("X2", "b.txt")}},
				Outputs:   []workflow.Parameter{{Id: "dst", Variable: workflow.NewVariable("Y2")}},
			}),
		},
	}
	payload, err := json.Marshal(wf)
	require.NoError(t, err)
	be.Put(&backend.Submission{ID: "sub-2", Status: backend.StatusAccepted, Payload: payload})

	bus := &noopBus{}
	c := newTestController(t, be, bus)
	c.Start(ctx)

	started, err := c.TryStartNext(ctx)
	require.NoError(t, err)
	require.True(t, started)

	deadline := time.Now().Add(time.Second)
	var records []backend.ProcessChainRecord
	for time.Now().Before(deadline) {
		records, err = be.FindBySubmissionId(ctx, "sub-2")
		require.NoError(t, err)
		if len(records) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, records, 2)

	require.NoError(t, be.SetChainStatus(ctx, records[0].Id, backend.PCStatusSuccess))
	require.NoError(t, be.SetErrorMessage(ctx, records[1].Id, "boom"))
	require.NoError(t, be.SetChainStatus(ctx, records[1].Id, backend.PCStatusError))

	waitForStatus(t, ctx, be, "sub-2", backend.StatusPartialSuccess)
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestController_ResumesAfterCrash(t *testing.T) {
	ctx := context.Background()
	be := memory.New(servicesRegistry(cpService()), nil)

	wf := singleActionWorkflow()
	payload, err := json.Marshal(wf)
	require.NoError(t, err)

	// Simulate a submission that a previous, now-dead worker left RUNNING
	// with a checkpointed compiler state and one in-flight process chain.
	comp := compiler.New(wf, t.TempDir(), t.TempDir(), []workflow.ServiceMetadata{cpService()}, &sequentialIds{}, compiler.NoAdapterOracle{})
	chains, err := comp.Generate(nil)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	blob, err := comp.SaveState()
	require.NoError(t, err)

	pcPayload, err := json.Marshal(chains[0])
	require.NoError(t, err)

	startTime := time.Now().Add(-time.Minute)
	be.Put(&backend.Submission{
		ID:             "sub-3",
		Status:         backend.StatusRunning,
		Payload:        payload,
		ExecutionState: blob,
		StartTime:      &startTime,
	})
	require.NoError(t, be.AddProcessChains(ctx, "sub-3", []backend.ProcessChainRecord{
		{Id: chains[0].Id, Payload: pcPayload, Status: backend.PCStatusRunning},
	}))

	bus := &noopBus{}
	c := newTestController(t, be, bus)
	c.Start(ctx)

	require.NoError(t, c.RecoverOrphans(ctx))

	// The recovered process chain must have been reset to REGISTERED with
	// its error message cleared before being re-awaited.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		status, err := be.GetChainStatus(ctx, chains[0].Id)
		require.NoError(t, err)
		if status == backend.PCStatusRegistered {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	status, err := be.GetChainStatus(ctx, chains[0].Id)
	require.NoError(t, err)
	assert.Equal(t, backend.PCStatusRegistered, status)

	resolvePendingChains(t, ctx, be, "sub-3", "Y", "a.out")
	waitForStatus(t, ctx, be, "sub-3", backend.StatusSuccess)
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestController_OrphanWithHeldLeaseIsSkipped(t *testing.T) {
	ctx := context.Background()
	be := memory.New(nil, nil)
	be.Put(&backend.Submission{ID: "sub-4", Status: backend.StatusRunning, Payload: []byte(`{}`)})

	// A live worker still holds the lease for sub-4.
	lease, err := be.TryLock(ctx, "sub-4", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	bus := &noopBus{}
	c := newTestController(t, be, bus)
	c.Start(ctx)

	require.NoError(t, c.RecoverOrphans(ctx))
	require.NoError(t, c.Shutdown(context.Background()))

	// The submission must remain RUNNING: RecoverOrphans must not have
	// disturbed the live worker's lease or launched a competing loop.
	status, err := be.GetStatus(ctx, "sub-4")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusRunning, status)
}
