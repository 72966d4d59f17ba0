// Package monitor implements the performance monitor.
//
// The monitor buffers per-request metrics per model, flushes them to the
// time-series store in batches (on buffer-full and on a fixed timer), and
// computes windowed performance rollups and threshold-based health views
// on read. Storage failures never propagate to routing: reads degrade to
// pessimistic defaults and writes are logged and dropped.
package monitor

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/timeseries"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

const (
	// DefaultBatchSize is the per-model buffer size that triggers a flush.
	DefaultBatchSize = 100

	// DefaultFlushInterval is the cadence of the unconditional background flush.
	DefaultFlushInterval = 5 * time.Second
)

// Health thresholds. A model tripping any of them is reported unhealthy.
const (
	maxHealthyErrorRate    = 0.1
	maxHealthyLatencyMs    = 5000
	minHealthyAvailability = 0.95
)

// Monitor records per-request outcome metrics and aggregates them into
// rolling per-model views.
type Monitor struct {
	store         timeseries.Store
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	buffers map[string][]models.PerformanceMetric

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBatchSize overrides the buffer-full flush threshold.
func WithBatchSize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithFlushInterval overrides the background flush cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.flushInterval = d
		}
	}
}

// New creates a Monitor writing to the given store and starts the
// background flush loop.
func New(store timeseries.Store, opts ...Option) *Monitor {
	m := &Monitor{
		store:         store,
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		buffers:       make(map[string][]models.PerformanceMetric),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.flushLoop()
	return m
}

// Record buffers one metric. When the model's buffer reaches the batch
// size it is flushed immediately.
func (m *Monitor) Record(metric models.PerformanceMetric) {
	if metric.ModelID == "" {
		log.Println("monitor: dropping metric without model id")
		return
	}
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.buffers[metric.ModelID] = append(m.buffers[metric.ModelID], metric)
	full := len(m.buffers[metric.ModelID]) >= m.batchSize
	m.mu.Unlock()

	if full {
		m.Flush(context.Background(), metric.ModelID)
	}
}

// Flush writes the model's buffered metrics to the store and clears the
// buffer. The buffer is swapped out under the lock so concurrent Record
// calls and the flush timer never double-flush or drop points.
func (m *Monitor) Flush(ctx context.Context, modelID string) {
	m.mu.Lock()
	batch := m.buffers[modelID]
	if len(batch) == 0 {
		m.mu.Unlock()
		return
	}
	delete(m.buffers, modelID)
	m.mu.Unlock()

	m.write(ctx, modelID, batch)
}

// FlushAll flushes every model's buffer.
func (m *Monitor) FlushAll(ctx context.Context) {
	m.mu.Lock()
	buffers := m.buffers
	m.buffers = make(map[string][]models.PerformanceMetric)
	m.mu.Unlock()

	for modelID, batch := range buffers {
		m.write(ctx, modelID, batch)
	}
}

// write fans one batch out into the five parallel series. A failed write
// is logged and the points dropped; the router keeps functioning on stale
// data.
func (m *Monitor) write(ctx context.Context, modelID string, batch []models.PerformanceMetric) {
	series := map[timeseries.Series][]timeseries.Point{}
	for _, metric := range batch {
		ts := metric.Timestamp
		series[timeseries.SeriesLatency] = append(series[timeseries.SeriesLatency], timeseries.Point{Timestamp: ts, Value: metric.LatencyMs})
		success, failure := 1.0, 0.0
		if !metric.Success {
			success, failure = 0.0, 1.0
		}
		series[timeseries.SeriesSuccess] = append(series[timeseries.SeriesSuccess], timeseries.Point{Timestamp: ts, Value: success})
		series[timeseries.SeriesErrors] = append(series[timeseries.SeriesErrors], timeseries.Point{Timestamp: ts, Value: failure})
		series[timeseries.SeriesCost] = append(series[timeseries.SeriesCost], timeseries.Point{Timestamp: ts, Value: metric.CostUSD})
		if metric.Accuracy != nil {
			series[timeseries.SeriesAccuracy] = append(series[timeseries.SeriesAccuracy], timeseries.Point{Timestamp: ts, Value: *metric.Accuracy})
		}
	}

	for name, points := range series {
		if err := m.store.Append(ctx, modelID, name, points); err != nil {
			log.Printf("monitor: flush %s/%s failed, dropping %d points: %v", modelID, name, len(points), err)
		}
	}
}

// Performance computes the windowed rollup for a model from the stored
// series. On any read failure it returns a pessimistic default (errorRate=1,
// availability=0) and logs the condition; it never returns an error to the
// routing path.
func (m *Monitor) Performance(ctx context.Context, modelID string, window time.Duration) models.AggregatedMetrics {
	now := time.Now()
	from := now.Add(-window)

	agg := models.AggregatedMetrics{ModelID: modelID, Window: window}

	latency, err := m.store.Range(ctx, modelID, timeseries.SeriesLatency, from, now)
	if err != nil {
		log.Printf("monitor: reading %s latency failed, using pessimistic defaults: %v", modelID, err)
		return pessimisticDefault(modelID, window)
	}
	success, err := m.store.Range(ctx, modelID, timeseries.SeriesSuccess, from, now)
	if err != nil {
		log.Printf("monitor: reading %s success failed, using pessimistic defaults: %v", modelID, err)
		return pessimisticDefault(modelID, window)
	}
	cost, err := m.store.Range(ctx, modelID, timeseries.SeriesCost, from, now)
	if err != nil {
		log.Printf("monitor: reading %s cost failed, using pessimistic defaults: %v", modelID, err)
		return pessimisticDefault(modelID, window)
	}
	accuracy, err := m.store.Range(ctx, modelID, timeseries.SeriesAccuracy, from, now)
	if err != nil {
		log.Printf("monitor: reading %s accuracy failed, using pessimistic defaults: %v", modelID, err)
		return pessimisticDefault(modelID, window)
	}

	agg.TotalRequests = int64(len(success))
	for _, p := range success {
		if p.Value > 0 {
			agg.SuccessfulRequests++
		}
	}

	if len(latency) > 0 {
		values := make([]float64, 0, len(latency))
		var sum float64
		for _, p := range latency {
			values = append(values, p.Value)
			sum += p.Value
		}
		agg.AverageLatencyMs = sum / float64(len(values))
		sort.Float64s(values)
		agg.P95LatencyMs = percentile(values, 0.95)
		agg.P99LatencyMs = percentile(values, 0.99)
	}

	for _, p := range cost {
		agg.TotalCostUSD += p.Value
	}

	if len(accuracy) > 0 {
		var sum float64
		for _, p := range accuracy {
			sum += p.Value
		}
		agg.AverageAccuracy = sum / float64(len(accuracy))
	}

	if agg.TotalRequests > 0 {
		agg.Availability = float64(agg.SuccessfulRequests) / float64(agg.TotalRequests)
		agg.ErrorRate = 1 - agg.Availability
		agg.Throughput = float64(agg.TotalRequests) / window.Seconds()
	} else {
		// No data yet: optimistic, not pessimistic. A new model must not
		// look broken before it has served anything.
		agg.Availability = 1
	}

	return agg
}

// Health derives the threshold-based health view for one model over the
// given window.
func (m *Monitor) Health(ctx context.Context, modelID string, window time.Duration) models.ModelHealth {
	perf := m.Performance(ctx, modelID, window)

	health := models.ModelHealth{
		ModelID:     modelID,
		IsHealthy:   true,
		Performance: &perf,
		CheckedAt:   time.Now().UTC(),
	}

	if perf.ErrorRate > maxHealthyErrorRate {
		health.IsHealthy = false
		health.Issues = append(health.Issues, fmt.Sprintf("error rate %.1f%% exceeds %.0f%%", perf.ErrorRate*100, maxHealthyErrorRate*100))
	}
	if perf.AverageLatencyMs > maxHealthyLatencyMs {
		health.IsHealthy = false
		health.Issues = append(health.Issues, fmt.Sprintf("average latency %.0fms exceeds %dms", perf.AverageLatencyMs, int(maxHealthyLatencyMs)))
	}
	if perf.Availability < minHealthyAvailability {
		health.IsHealthy = false
		health.Issues = append(health.Issues, fmt.Sprintf("availability %.1f%% below %.0f%%", perf.Availability*100, minHealthyAvailability*100))
	}
	if perf.TotalRequests > 0 && perf.Throughput == 0 {
		health.IsHealthy = false
		health.Issues = append(health.Issues, "no recent throughput")
	}

	return health
}

// AllHealth returns health and performance for every model with any
// recorded series.
func (m *Monitor) AllHealth(ctx context.Context, window time.Duration) []models.ModelHealth {
	ids, err := m.store.ModelIDs(ctx)
	if err != nil {
		log.Printf("monitor: listing models failed: %v", err)
		return nil
	}

	out := make([]models.ModelHealth, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.Health(ctx, id, window))
	}
	return out
}

// Close stops the flush loop and flushes all buffered metrics so nothing
// is silently dropped on clean shutdown.
func (m *Monitor) Close(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	m.FlushAll(ctx)
}

func (m *Monitor) flushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.flushInterval)
			m.FlushAll(ctx)
			cancel()
		case <-m.stop:
			return
		}
	}
}

func pessimisticDefault(modelID string, window time.Duration) models.AggregatedMetrics {
	return models.AggregatedMetrics{
		ModelID:      modelID,
		Window:       window,
		ErrorRate:    1,
		Availability: 0,
	}
}

// percentile expects values sorted ascending.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
