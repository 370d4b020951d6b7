package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/bibin-skaria/layer-reuse/internal/types"
)

func TestMetricsCollector_BasicFlow(t *testing.T) {
	collector := NewMetricsCollector()

	collector.RecordFetch(types.NewImage("oci:a", "", []types.Layer{layer("a1", 100, "")}), 20*time.Millisecond)
	collector.RecordFetch(types.NewImage("oci:b", "", []types.Layer{layer("a1", 100, ""), layer("b1", 50, "")}), 50*time.Millisecond)
	collector.RecordBackfill(5 * time.Millisecond)
	collector.Finish(1)

	metrics := collector.GetMetrics()

	if metrics.Images != 2 {
		t.Errorf("Expected 2 images, got %d", metrics.Images)
	}

	if metrics.Updates != 1 {
		t.Errorf("Expected 1 update, got %d", metrics.Updates)
	}

	if metrics.TotalLayers != 3 {
		t.Errorf("Expected 3 layers, got %d", metrics.TotalLayers)
	}

	if metrics.TotalBytes != 250 {
		t.Errorf("Expected 250 bytes, got %d", metrics.TotalBytes)
	}

	if metrics.FetchTime != 70*time.Millisecond {
		t.Errorf("Expected fetch time 70ms, got %v", metrics.FetchTime)
	}

	if metrics.SlowestFetch == nil || metrics.SlowestFetch.Ref != "oci:b" {
		t.Errorf("Expected slowest fetch oci:b, got %+v", metrics.SlowestFetch)
	}

	if metrics.BackfillTime != 5*time.Millisecond {
		t.Errorf("Expected backfill time 5ms, got %v", metrics.BackfillTime)
	}

	fields := metrics.Fields()
	if fields["slowest_ref"] != "oci:b" || fields["images"] != 2 {
		t.Errorf("unexpected log fields: %v", fields)
	}
}

func TestMetricsCollector_Snapshot(t *testing.T) {
	collector := NewMetricsCollector()
	collector.RecordFetch(types.NewImage("oci:a", "", nil), time.Millisecond)

	snapshot := collector.GetMetrics()
	snapshot.FetchMetrics[0].Layers = 99

	if got := collector.GetMetrics().FetchMetrics[0].Layers; got != 0 {
		t.Errorf("snapshot should not alias collector state, got %d layers", got)
	}
}

func TestMetricsCollector_ConcurrentAccess(t *testing.T) {
	collector := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordFetch(types.NewImage("oci:x", "", []types.Layer{layer("x", 1, "")}), time.Millisecond)
			_ = collector.GetMetrics()
		}()
	}
	wg.Wait()

	if got := collector.GetMetrics().Images; got != 10 {
		t.Errorf("Expected 10 images, got %d", got)
	}
}
