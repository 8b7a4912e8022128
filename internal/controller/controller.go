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

// Package controller drives submissions from ACCEPTED through a terminal
// status, owning one Compiler per leased submission and tolerating process
// crashes by resuming from persisted execution state and process chains.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/workflowc/compiler/internal/controller/backend"
	internallog "github.com/workflowc/compiler/internal/log"
	"github.com/workflowc/compiler/internal/tracing"
	"github.com/workflowc/compiler/pkg/compiler"
	cerrors "github.com/workflowc/compiler/pkg/errors"
	"github.com/workflowc/compiler/pkg/workflow"
)

// SignalTopic is the topic the controller publishes to after persisting a
// new batch of process chains, waking the external scheduler.
const SignalTopic = "process-chains.dispatch"

// Options configures the controller's submission-driving behavior,
// independent of which backend.Backend implementation is wired in.
type Options struct {
	// TmpPath and OutPath are forwarded to every Compiler this controller
	// constructs.
	TmpPath string
	OutPath string

	// LookupInterval is the polling interval used while awaiting a batch of
	// process chains to reach a terminal status.
	LookupInterval time.Duration

	// LeaseTimeout bounds how long a submission lease is held before it
	// becomes reclaimable by another worker.
	LeaseTimeout time.Duration

	// Metrics records submission, compilation and chain-step counters and
	// histograms. A nil Metrics disables instrumentation.
	Metrics *tracing.MetricsCollector
}

// Controller drives submissions from ACCEPTED to {SUCCESS, PARTIAL_SUCCESS,
// ERROR}, one goroutine per leased submission. A Controller owns no
// Compiler directly; each submission loop constructs and discards its own.
type Controller struct {
	opts     Options
	be       backend.Backend
	bus      backend.SignalBus
	ids      compiler.IdGenerator
	adapters compiler.OutputAdapterOracle
	logger   *slog.Logger

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      errgroup.Group

	loopStarts   map[string]time.Time
	loopStartsMu sync.Mutex
}

// New constructs a Controller. The caller is responsible for calling Start
// before TryStartNext or RecoverOrphans, and Shutdown to drain in-flight
// submission loops.
func New(opts Options, be backend.Backend, bus backend.SignalBus, ids compiler.IdGenerator, adapters compiler.OutputAdapterOracle, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		opts:     opts,
		be:       be,
		bus:      bus,
		ids:      ids,
		adapters: adapters,
		logger:   logger.With("component", "controller"),
	}
}

// Start derives the controller's root context. Submission loops run against
// this context, so canceling ctx (or a later Shutdown) reaches every
// in-flight loop at its next suspension point.
func (c *Controller) Start(ctx context.Context) {
	c.rootCtx, c.cancel = context.WithCancel(ctx)
}

// Shutdown cancels the root context and waits for every in-flight submission
// loop to return, or ctx to expire first.
func (c *Controller) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		_ = c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryStartNext atomically claims the next ACCEPTED submission, if any, and
// launches its loop on a new goroutine. Returns false if none was available.
func (c *Controller) TryStartNext(ctx context.Context) (bool, error) {
	sub, err := c.be.FetchNext(ctx, backend.StatusAccepted, backend.StatusRunning)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}
	c.launch(sub)
	return true, nil
}

// RecoverOrphans lists submissions stuck in RUNNING (from a crashed worker)
// and restarts a loop for each one whose lease is currently free. Per the
// orphan recovery procedure, the lease is acquired then immediately
// released so the freshly launched loop re-acquires it itself; a submission
// whose lease is still held belongs to a live worker and is skipped.
func (c *Controller) RecoverOrphans(ctx context.Context) error {
	ids, err := c.be.FindIdsByStatus(ctx, backend.StatusRunning)
	if err != nil {
		return err
	}
	for _, id := range ids {
		lease, err := c.be.TryLock(ctx, id, c.opts.LeaseTimeout)
		if err != nil {
			c.logger.Error("orphan lease probe failed", internallog.Error(err), internallog.Attr(internallog.SubmissionIDKey, id))
			continue
		}
		if lease == nil {
			continue
		}
		if err := lease.Release(ctx); err != nil {
			c.logger.Error("orphan lease release failed", internallog.Error(err), internallog.Attr(internallog.SubmissionIDKey, id))
			continue
		}
		if c.opts.Metrics != nil {
			c.opts.Metrics.RecordLeaseExpired(ctx)
		}

		sub, err := c.be.FindById(ctx, id)
		if err != nil {
			c.logger.Error("orphan lookup failed", internallog.Error(err), internallog.Attr(internallog.SubmissionIDKey, id))
			continue
		}
		c.launch(sub)
	}
	return nil
}

func (c *Controller) launch(sub *backend.Submission) {
	ctx := c.rootCtx
	if ctx == nil {
		ctx = context.Background()
	}
	c.wg.Go(func() error {
		c.runSubmissionLoop(ctx, sub)
		return nil
	})
}

// runSubmissionLoop drives one submission from RUNNING to a terminal
// status, per the per-submission loop contract. It never returns an error:
// failures are recorded on the submission itself, not propagated to the
// worker pool, so one submission's crash can never abort another's loop.
func (c *Controller) runSubmissionLoop(ctx context.Context, sub *backend.Submission) {
	log := c.logger.With(internallog.Attr(internallog.SubmissionIDKey, sub.ID))

	if sub.StartTime == nil {
		now := time.Now()
		if err := c.be.SetStartTime(ctx, sub.ID, now); err != nil {
			log.Error("failed to record start time, leaving submission for a later recovery pass", internallog.Error(err))
			return
		}
		sub.StartTime = &now
	}

	lease, err := c.be.TryLock(ctx, sub.ID, c.opts.LeaseTimeout)
	if err != nil {
		log.Error("lease acquisition failed", internallog.Error(err))
		return
	}
	if lease == nil {
		log.Debug("submission lease held by another worker, skipping")
		return
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			log.Error("lease release failed", internallog.Error(err))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in submission loop", internallog.Attr("panic", fmt.Sprintf("%v", r)))
			c.fail(context.Background(), sub.ID, fmt.Errorf("panic: %v", r), log)
		}
	}()

	c.recordSubmissionStart(ctx, sub.ID)
	c.drive(ctx, sub, log)
}

func (c *Controller) recordSubmissionStart(ctx context.Context, id string) {
	if c.opts.Metrics == nil {
		return
	}
	c.opts.Metrics.RecordSubmissionStart(ctx, id)
	c.loopStartsMu.Lock()
	if c.loopStarts == nil {
		c.loopStarts = make(map[string]time.Time)
	}
	c.loopStarts[id] = time.Now()
	c.loopStartsMu.Unlock()
}

func (c *Controller) recordSubmissionComplete(ctx context.Context, id, status string) {
	if c.opts.Metrics == nil {
		return
	}
	c.loopStartsMu.Lock()
	started, ok := c.loopStarts[id]
	delete(c.loopStarts, id)
	c.loopStartsMu.Unlock()

	var dur time.Duration
	if ok {
		dur = time.Since(started)
	}
	c.opts.Metrics.RecordSubmissionComplete(ctx, id, status, dur)
}

func (c *Controller) drive(ctx context.Context, sub *backend.Submission, log *slog.Logger) {
	var wf workflow.Workflow
	if err := json.Unmarshal(sub.Payload, &wf); err != nil {
		c.fail(ctx, sub.ID, fmt.Errorf("decoding submitted workflow: %w", err), log)
		return
	}

	services, err := c.decodeServices(ctx)
	if err != nil {
		c.fail(ctx, sub.ID, err, log)
		return
	}

	comp := compiler.New(wf, c.opts.TmpPath, c.opts.OutPath, services, c.ids, c.adapters)

	state, err := c.be.GetExecutionState(ctx, sub.ID)
	if err != nil && cerrors.Kind(err) != "not-found" {
		c.fail(ctx, sub.ID, err, log)
		return
	}

	var recovered []string
	resuming := len(state) > 0
	if resuming {
		if err := comp.LoadState(state); err != nil {
			c.fail(ctx, sub.ID, fmt.Errorf("restoring compiler state: %w", err), log)
			return
		}
		records, err := c.be.FindBySubmissionId(ctx, sub.ID)
		if err != nil {
			c.fail(ctx, sub.ID, err, log)
			return
		}
		for _, r := range records {
			if r.Status == backend.PCStatusRunning || r.Status == backend.PCStatusError {
				if err := c.be.SetChainStatus(ctx, r.Id, backend.PCStatusRegistered); err != nil {
					c.fail(ctx, sub.ID, err, log)
					return
				}
				if err := c.be.SetErrorMessage(ctx, r.Id, ""); err != nil {
					c.fail(ctx, sub.ID, err, log)
					return
				}
			}
			recovered = append(recovered, r.Id)
		}
		log.Info("resuming submission", internallog.Attr("recovered_process_chains", len(recovered)))
	}

	var previousResults map[string][]any
	errorsTotal, totalPCs := 0, 0

	for {
		var batchIds []string
		if resuming {
			batchIds = recovered
			resuming = false
		} else {
			generateStart := time.Now()
			chains, err := comp.Generate(previousResults)
			if c.opts.Metrics != nil {
				status := "ok"
				if err != nil {
					status = "error"
				}
				c.opts.Metrics.RecordGenerate(ctx, status, time.Since(generateStart))
			}
			if err != nil {
				c.fail(ctx, sub.ID, err, log)
				return
			}
			if len(chains) == 0 {
				break
			}

			records := make([]backend.ProcessChainRecord, len(chains))
			for i, pc := range chains {
				payload, err := json.Marshal(pc)
				if err != nil {
					c.fail(ctx, sub.ID, fmt.Errorf("encoding process chain %s: %w", pc.Id, err), log)
					return
				}
				records[i] = backend.ProcessChainRecord{Id: pc.Id, Payload: payload, Status: backend.PCStatusRegistered}
				batchIds = append(batchIds, pc.Id)
			}
			if err := c.be.AddProcessChains(ctx, sub.ID, records); err != nil {
				c.fail(ctx, sub.ID, err, log)
				return
			}
		}

		blob, err := comp.SaveState()
		if err != nil {
			c.fail(ctx, sub.ID, fmt.Errorf("checkpointing compiler state: %w", err), log)
			return
		}
		if err := c.be.SetExecutionState(ctx, sub.ID, blob); err != nil {
			c.fail(ctx, sub.ID, err, log)
			return
		}
		if err := c.bus.Publish(ctx, SignalTopic); err != nil {
			log.Warn("failed to signal scheduler", internallog.Error(err))
		}

		results, roundErrors, err := c.awaitBatch(ctx, batchIds)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("submission loop suspended, will resume on next recovery pass")
				return
			}
			c.fail(ctx, sub.ID, err, log)
			return
		}
		errorsTotal += roundErrors
		totalPCs += len(batchIds)
		previousResults = results
	}

	c.finish(ctx, sub.ID, comp.IsFinished(), errorsTotal, totalPCs, previousResults, log)
}

// awaitBatch polls every process chain in ids at the configured lookup
// interval until each has reached a terminal status, aggregating SUCCESS
// results into a map keyed the same way Compiler.Generate expects its
// results argument, and counting ERRORs.
func (c *Controller) awaitBatch(ctx context.Context, ids []string) (map[string][]any, int, error) {
	pending := make(map[string]struct{}, len(ids))
	started := time.Now()
	for _, id := range ids {
		pending[id] = struct{}{}
	}

	results := map[string][]any{}
	errCount := 0

	ticker := time.NewTicker(c.opts.LookupInterval)
	defer ticker.Stop()

	for len(pending) > 0 {
		for id := range pending {
			status, err := c.be.GetChainStatus(ctx, id)
			if err != nil {
				return nil, 0, err
			}
			switch status {
			case backend.PCStatusSuccess:
				delete(pending, id)
				r, err := c.be.GetResults(ctx, id)
				if err != nil {
					return nil, 0, err
				}
				for k, vs := range r {
					results[k] = append(results[k], vs...)
				}
				if c.opts.Metrics != nil {
					c.opts.Metrics.RecordChainStep(ctx, id, "success", time.Since(started))
				}
			case backend.PCStatusError:
				delete(pending, id)
				errCount++
				if c.opts.Metrics != nil {
					c.opts.Metrics.RecordChainStep(ctx, id, "error", time.Since(started))
				}
			}
		}
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-ticker.C:
		}
	}
	return results, errCount, nil
}

// finish records the terminal status per the decision table, clears the
// checkpointed execution state, and persists the final accumulated results.
func (c *Controller) finish(ctx context.Context, id string, isFinished bool, errorsTotal, totalPCs int, results map[string][]any, log *slog.Logger) {
	var status string
	switch {
	case isFinished && errorsTotal == 0:
		status = backend.StatusSuccess
	case isFinished && totalPCs > 0 && errorsTotal == totalPCs:
		status = backend.StatusError
	case isFinished:
		status = backend.StatusPartialSuccess
	default:
		status = backend.StatusError
		log.Error("submission not executed completely")
	}

	c.setTerminal(ctx, id, status, results, log)
}

// fail records status ERROR after a hard failure (compiler error, registry
// failure, decode failure, panic) per the error handling policy: all other
// errors during a submission loop set terminal status ERROR.
func (c *Controller) fail(ctx context.Context, id string, err error, log *slog.Logger) {
	log.Error("submission failed", internallog.Error(err))
	c.setTerminal(ctx, id, backend.StatusError, nil, log)
}

func (c *Controller) setTerminal(ctx context.Context, id, status string, results map[string][]any, log *slog.Logger) {
	c.recordSubmissionComplete(ctx, id, status)
	if err := c.be.SetStatus(ctx, id, status); err != nil {
		log.Error("failed to record terminal status", internallog.Error(err))
	}
	if err := c.be.SetEndTime(ctx, id, time.Now()); err != nil {
		log.Error("failed to record end time", internallog.Error(err))
	}
	if err := c.be.SetExecutionState(ctx, id, nil); err != nil {
		log.Error("failed to clear execution state", internallog.Error(err))
	}
	if results != nil {
		if err := c.be.SetResults(ctx, id, results); err != nil {
			log.Error("failed to record final results", internallog.Error(err))
		}
	}
}

// decodeServices loads every registered service's metadata. Service records
// are stored by the service-metadata registry as JSON, not the raw YAML
// read from disk, so a plain decode is all that's needed here.
func (c *Controller) decodeServices(ctx context.Context) ([]workflow.ServiceMetadata, error) {
	records, err := c.be.FindServices(ctx)
	if err != nil {
		return nil, err
	}
	services := make([]workflow.ServiceMetadata, 0, len(records))
	for _, rec := range records {
		var svc workflow.ServiceMetadata
		if err := json.Unmarshal(rec.Payload, &svc); err != nil {
			return nil, fmt.Errorf("decoding service metadata %q: %w", rec.Id, err)
		}
		services = append(services, svc)
	}
	return services, nil
}
