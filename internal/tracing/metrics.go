package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector collects Prometheus-compatible metrics for the compiler and controller.
type MetricsCollector struct {
	meter metric.Meter

	// Counters
	submissionsTotal  metric.Int64Counter
	generateTotal      metric.Int64Counter
	chainStepsTotal    metric.Int64Counter
	leaseExpiredTotal  metric.Int64Counter

	// Histograms
	submissionDuration metric.Float64Histogram
	generateDuration   metric.Float64Histogram
	chainStepDuration  metric.Float64Histogram

	// Gauges (using observable gauges)
	activeSubmissions map[string]bool
	activeMu          sync.RWMutex
	queueDepth        int64
	queueDepthMu      sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector using the given meter provider.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("workflowc")

	mc := &MetricsCollector{
		meter:             meter,
		activeSubmissions: make(map[string]bool),
	}

	var err error

	mc.submissionsTotal, err = meter.Int64Counter(
		"workflowc_submissions_total",
		metric.WithDescription("Total number of submissions processed"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, err
	}

	mc.generateTotal, err = meter.Int64Counter(
		"workflowc_generate_total",
		metric.WithDescription("Total number of workflow-to-process-chain compilations"),
		metric.WithUnit("{compilation}"),
	)
	if err != nil {
		return nil, err
	}

	mc.chainStepsTotal, err = meter.Int64Counter(
		"workflowc_chain_steps_total",
		metric.WithDescription("Total number of process chain steps executed"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, err
	}

	mc.leaseExpiredTotal, err = meter.Int64Counter(
		"workflowc_lease_expired_total",
		metric.WithDescription("Total number of submission leases reclaimed as orphaned"),
		metric.WithUnit("{lease}"),
	)
	if err != nil {
		return nil, err
	}

	mc.submissionDuration, err = meter.Float64Histogram(
		"workflowc_submission_duration_seconds",
		metric.WithDescription("End-to-end submission duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.generateDuration, err = meter.Float64Histogram(
		"workflowc_generate_duration_seconds",
		metric.WithDescription("Compiler Generate call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.chainStepDuration, err = meter.Float64Histogram(
		"workflowc_chain_step_duration_seconds",
		metric.WithDescription("Process chain step duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"workflowc_active_submissions",
		metric.WithDescription("Number of submissions currently executing"),
		metric.WithUnit("{submission}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.activeMu.RLock()
			count := len(mc.activeSubmissions)
			mc.activeMu.RUnlock()
			observer.Observe(int64(count))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"workflowc_queue_depth",
		metric.WithDescription("Number of accepted submissions awaiting a lease"),
		metric.WithUnit("{submission}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.queueDepthMu.RLock()
			depth := mc.queueDepth
			mc.queueDepthMu.RUnlock()
			observer.Observe(depth)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordSubmissionStart marks a submission as actively executing.
func (mc *MetricsCollector) RecordSubmissionStart(ctx context.Context, submissionID string) {
	mc.activeMu.Lock()
	mc.activeSubmissions[submissionID] = true
	mc.activeMu.Unlock()
}

// RecordSubmissionComplete records the terminal status of a submission.
func (mc *MetricsCollector) RecordSubmissionComplete(ctx context.Context, submissionID, status string, duration time.Duration) {
	mc.activeMu.Lock()
	delete(mc.activeSubmissions, submissionID)
	mc.activeMu.Unlock()

	attrs := []attribute.KeyValue{attribute.String("status", status)}

	mc.submissionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.submissionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordGenerate records a Compiler.Generate call.
func (mc *MetricsCollector) RecordGenerate(ctx context.Context, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{attribute.String("status", status)}

	mc.generateTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.generateDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordChainStep records the completion of a single process chain step.
func (mc *MetricsCollector) RecordChainStep(ctx context.Context, actionName, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("action", actionName),
		attribute.String("status", status),
	}

	mc.chainStepsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.chainStepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordLeaseExpired records an orphaned lease reclaimed by the lookup loop.
func (mc *MetricsCollector) RecordLeaseExpired(ctx context.Context) {
	mc.leaseExpiredTotal.Add(ctx, 1)
}

// IncrementQueueDepth increments the accepted-submission queue depth gauge.
func (mc *MetricsCollector) IncrementQueueDepth() {
	mc.queueDepthMu.Lock()
	mc.queueDepth++
	mc.queueDepthMu.Unlock()
}

// DecrementQueueDepth decrements the accepted-submission queue depth gauge.
func (mc *MetricsCollector) DecrementQueueDepth() {
	mc.queueDepthMu.Lock()
	if mc.queueDepth > 0 {
		mc.queueDepth--
	}
	mc.queueDepthMu.Unlock()
}
