package tracing

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetricsCollector(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}
	if mc == nil {
		t.Fatal("Expected non-nil MetricsCollector")
	}
	if mc.activeSubmissions == nil {
		t.Error("Expected activeSubmissions map to be initialized")
	}
}

func TestMetricsCollector_SubmissionLifecycle(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()
	mc.RecordSubmissionStart(ctx, "sub-1")

	mc.activeMu.RLock()
	_, exists := mc.activeSubmissions["sub-1"]
	mc.activeMu.RUnlock()
	if !exists {
		t.Error("Expected submission to be tracked as active")
	}

	mc.RecordSubmissionComplete(ctx, "sub-1", "SUCCESS", 5*time.Second)

	mc.activeMu.RLock()
	_, stillExists := mc.activeSubmissions["sub-1"]
	mc.activeMu.RUnlock()
	if stillExists {
		t.Error("Expected submission to be removed from active set after completion")
	}
}

func TestMetricsCollector_RecordGenerateAndChainStep(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()
	mc.RecordGenerate(ctx, "ok", 10*time.Millisecond)
	mc.RecordChainStep(ctx, "fetch-data", "success", 100*time.Millisecond)
	mc.RecordChainStep(ctx, "fetch-data", "failed", 50*time.Millisecond)
	mc.RecordLeaseExpired(ctx)
}

func TestMetricsCollector_QueueDepth(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	mc.queueDepthMu.RLock()
	initial := mc.queueDepth
	mc.queueDepthMu.RUnlock()
	if initial != 0 {
		t.Errorf("Expected initial queue depth 0, got %d", initial)
	}

	mc.IncrementQueueDepth()
	mc.IncrementQueueDepth()

	mc.queueDepthMu.RLock()
	afterIncrement := mc.queueDepth
	mc.queueDepthMu.RUnlock()
	if afterIncrement != 2 {
		t.Errorf("Expected queue depth 2 after increments, got %d", afterIncrement)
	}

	mc.DecrementQueueDepth()

	mc.queueDepthMu.RLock()
	afterDecrement := mc.queueDepth
	mc.queueDepthMu.RUnlock()
	if afterDecrement != 1 {
		t.Errorf("Expected queue depth 1 after decrement, got %d", afterDecrement)
	}
}

func TestMetricsCollector_QueueDepthNeverNegative(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	mc.DecrementQueueDepth()

	mc.queueDepthMu.RLock()
	depth := mc.queueDepth
	mc.queueDepthMu.RUnlock()
	if depth != 0 {
		t.Errorf("Expected queue depth to stay at 0, got %d", depth)
	}
}

func TestMetricsCollector_ConcurrentAccess(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(3)

		go func() {
			defer wg.Done()
			mc.IncrementQueueDepth()
		}()

		go func() {
			defer wg.Done()
			mc.DecrementQueueDepth()
		}()

		go func(id int) {
			defer wg.Done()
			subID := "sub-" + string(rune(id+'0'))
			mc.RecordSubmissionStart(ctx, subID)
			mc.RecordSubmissionComplete(ctx, subID, "SUCCESS", time.Millisecond)
		}(i)
	}

	wg.Wait()
}
