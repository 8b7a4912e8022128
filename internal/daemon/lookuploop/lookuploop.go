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

// Package lookuploop runs the two periodic background tasks that keep
// submissions flowing without an external trigger: a frequent submission
// lookup that claims and starts ACCEPTED submissions, and an infrequent
// orphan scan that relaunches submissions a crashed worker left RUNNING.
package lookuploop

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Controller is the subset of internal/controller.Controller the loop needs,
// kept as an interface so the loop can be tested without a real backend.
type Controller interface {
	TryStartNext(ctx context.Context) (bool, error)
	RecoverOrphans(ctx context.Context) error
}

// Config tunes the two tick intervals. Zero values fall back to the spec's
// defaults (2s lookup, 5min orphan scan).
type Config struct {
	LookupInterval       time.Duration
	OrphanLookupInterval time.Duration
}

const (
	DefaultLookupInterval       = 2 * time.Second
	DefaultOrphanLookupInterval = 5 * time.Minute
)

// Loop drives two independently-ticking, coalesced periodic tasks against a
// Controller. Both are externally triggerable on demand via TriggerLookup
// and TriggerOrphanScan, in addition to their own tickers.
type Loop struct {
	cfg Config
	ctl Controller
	log *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	lookupTrigger chan struct{}
	orphanTrigger chan struct{}
}

// New constructs a Loop. Zero-valued Config fields are replaced with the
// package defaults.
func New(cfg Config, ctl Controller, logger *slog.Logger) *Loop {
	if cfg.LookupInterval <= 0 {
		cfg.LookupInterval = DefaultLookupInterval
	}
	if cfg.OrphanLookupInterval <= 0 {
		cfg.OrphanLookupInterval = DefaultOrphanLookupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:           cfg,
		ctl:           ctl,
		log:           logger.With("component", "lookuploop"),
		lookupTrigger: make(chan struct{}, 1),
		orphanTrigger: make(chan struct{}, 1),
	}
}

// Start launches both ticking goroutines. Calling Start on an already-running
// Loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.runLookup(ctx)
	}()
	go func() {
		defer wg.Done()
		l.runOrphanScan(ctx)
	}()

	go func() {
		wg.Wait()
		close(l.doneCh)
	}()
}

// Stop signals both loops to return and blocks until they have.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	<-l.doneCh
}

// TriggerLookup requests an out-of-band submission lookup on top of the
// regular ticker; coalesced with any lookup already pending.
func (l *Loop) TriggerLookup() {
	select {
	case l.lookupTrigger <- struct{}{}:
	default:
	}
}

// TriggerOrphanScan requests an out-of-band orphan scan; coalesced the same
// way as TriggerLookup.
func (l *Loop) TriggerOrphanScan() {
	select {
	case l.orphanTrigger <- struct{}{}:
	default:
	}
}

func (l *Loop) runLookup(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.LookupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.drainAccepted(ctx)
		case <-l.lookupTrigger:
			l.drainAccepted(ctx)
		}
	}
}

// drainAccepted keeps claiming submissions until none remain, so a burst of
// ACCEPTED submissions doesn't wait for one tick per submission.
func (l *Loop) drainAccepted(ctx context.Context) {
	for {
		started, err := l.ctl.TryStartNext(ctx)
		if err != nil {
			l.log.Error("submission lookup failed", "error", err)
			return
		}
		if !started {
			return
		}
	}
}

func (l *Loop) runOrphanScan(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.OrphanLookupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.scanOrphans(ctx)
		case <-l.orphanTrigger:
			l.scanOrphans(ctx)
		}
	}
}

func (l *Loop) scanOrphans(ctx context.Context) {
	if err := l.ctl.RecoverOrphans(ctx); err != nil {
		l.log.Error("orphan scan failed", "error", err)
	}
}
