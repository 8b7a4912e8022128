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

package lookuploop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	pending     atomic.Int64
	starts      atomic.Int64
	orphanScans atomic.Int64
}

func (f *fakeController) TryStartNext(ctx context.Context) (bool, error) {
	if f.pending.Load() <= 0 {
		return false, nil
	}
	f.pending.Add(-1)
	f.starts.Add(1)
	return true, nil
}

func (f *fakeController) RecoverOrphans(ctx context.Context) error {
	f.orphanScans.Add(1)
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestLoop_LookupTickerDrainsAllAccepted(t *testing.T) {
	ctl := &fakeController{}
	ctl.pending.Store(3)

	l := New(Config{LookupInterval: 5 * time.Millisecond, OrphanLookupInterval: time.Hour}, ctl, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.Start(ctx)
	defer l.Stop()

	waitFor(t, time.Second, func() bool { return ctl.starts.Load() == 3 })
	assert.Equal(t, int64(0), ctl.pending.Load())
}

func TestLoop_TriggerLookupFiresOutOfBand(t *testing.T) {
	ctl := &fakeController{}
	l := New(Config{LookupInterval: time.Hour, OrphanLookupInterval: time.Hour}, ctl, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.Start(ctx)
	defer l.Stop()

	ctl.pending.Store(1)
	l.TriggerLookup()

	waitFor(t, time.Second, func() bool { return ctl.starts.Load() == 1 })
}

func TestLoop_TriggerOrphanScanFiresOutOfBand(t *testing.T) {
	ctl := &fakeController{}
	l := New(Config{LookupInterval: time.Hour, OrphanLookupInterval: time.Hour}, ctl, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.Start(ctx)
	defer l.Stop()

	l.TriggerOrphanScan()

	waitFor(t, time.Second, func() bool { return ctl.orphanScans.Load() == 1 })
}

func TestLoop_StopBlocksUntilLoopsExit(t *testing.T) {
	ctl := &fakeController{}
	l := New(Config{LookupInterval: time.Millisecond, OrphanLookupInterval: time.Millisecond}, ctl, nil)
	ctx := context.Background()

	l.Start(ctx)
	l.Stop()

	select {
	case <-l.doneCh:
	default:
		t.Fatal("doneCh should be closed after Stop returns")
	}
}

func TestLoop_StartIsIdempotentWhileRunning(t *testing.T) {
	ctl := &fakeController{}
	l := New(Config{LookupInterval: time.Hour, OrphanLookupInterval: time.Hour}, ctl, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.Start(ctx)
	l.Start(ctx) // must not panic or deadlock
	l.Stop()

	require.False(t, l.running)
}

func TestLoop_DefaultsApplied(t *testing.T) {
	l := New(Config{}, &fakeController{}, nil)
	assert.Equal(t, DefaultLookupInterval, l.cfg.LookupInterval)
	assert.Equal(t, DefaultOrphanLookupInterval, l.cfg.OrphanLookupInterval)
}
