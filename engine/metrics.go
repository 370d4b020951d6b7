package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bibin-skaria/layer-reuse/internal/types"
)

// MetricsCollector collects timing and volume metrics for one analysis run
type MetricsCollector struct {
	mutex     sync.RWMutex
	startTime time.Time
	endTime   *time.Time
	fetches   []*FetchMetrics
	backfill  time.Duration
	updates   int
}

// FetchMetrics represents metrics for a single image metadata fetch
type FetchMetrics struct {
	Ref      string        `json:"ref"`
	Duration time.Duration `json:"duration"`
	Layers   int           `json:"layers"`
	Bytes    int64         `json:"bytes"`
}

// RunMetrics is a snapshot of a run's metrics
type RunMetrics struct {
	Duration     time.Duration   `json:"duration"`
	Images       int             `json:"images"`
	Updates      int             `json:"updates"`
	TotalLayers  int             `json:"total_layers"`
	TotalBytes   int64           `json:"total_bytes"`
	FetchTime    time.Duration   `json:"fetch_time"`
	SlowestFetch *FetchMetrics   `json:"slowest_fetch,omitempty"`
	BackfillTime time.Duration   `json:"backfill_time"`
	FetchMetrics []*FetchMetrics `json:"fetch_metrics"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startTime: time.Now(),
	}
}

// RecordFetch records a completed inspect of img
func (m *MetricsCollector) RecordFetch(img *types.Image, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.fetches = append(m.fetches, &FetchMetrics{
		Ref:      img.Ref,
		Duration: duration,
		Layers:   len(img.Layers),
		Bytes:    img.TotalSize,
	})
}

// RecordBackfill records the time spent recovering component labels
func (m *MetricsCollector) RecordBackfill(duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.backfill += duration
}

// Finish marks the run as complete
func (m *MetricsCollector) Finish(updates int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	endTime := time.Now()
	m.endTime = &endTime
	m.updates = updates
}

// GetMetrics returns a snapshot of the collected metrics
func (m *MetricsCollector) GetMetrics() *RunMetrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	metrics := &RunMetrics{
		Images:       len(m.fetches),
		Updates:      m.updates,
		BackfillTime: m.backfill,
		FetchMetrics: make([]*FetchMetrics, 0, len(m.fetches)),
	}

	if m.endTime != nil {
		metrics.Duration = m.endTime.Sub(m.startTime)
	} else {
		metrics.Duration = time.Since(m.startTime)
	}

	for _, fetch := range m.fetches {
		f := *fetch
		metrics.FetchMetrics = append(metrics.FetchMetrics, &f)
		metrics.TotalLayers += f.Layers
		metrics.TotalBytes += f.Bytes
		metrics.FetchTime += f.Duration
		if metrics.SlowestFetch == nil || f.Duration > metrics.SlowestFetch.Duration {
			metrics.SlowestFetch = &f
		}
	}

	return metrics
}

// Fields renders the metrics for structured logging
func (r *RunMetrics) Fields() logrus.Fields {
	fields := logrus.Fields{
		"duration":      r.Duration.String(),
		"images":        r.Images,
		"updates":       r.Updates,
		"layers":        r.TotalLayers,
		"bytes":         r.TotalBytes,
		"fetch_time":    r.FetchTime.String(),
		"backfill_time": r.BackfillTime.String(),
	}
	if r.SlowestFetch != nil {
		fields["slowest_ref"] = r.SlowestFetch.Ref
	}
	return fields
}
