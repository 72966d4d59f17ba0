// Package timeseries provides the metric time-series store backing the
// performance monitor, plus a fixed-window rate limiter used to enforce
// per-model rate constraints. The primary implementation is Redis; an
// in-memory implementation serves tests and Redis-less deployments.
package timeseries

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Series names one of the five logical per-model metric streams.
type Series string

const (
	SeriesLatency  Series = "latency"
	SeriesSuccess  Series = "success"
	SeriesErrors   Series = "errors"
	SeriesCost     Series = "cost"
	SeriesAccuracy Series = "accuracy"
)

// AllSeries lists every metric stream kept per model.
var AllSeries = []Series{SeriesLatency, SeriesSuccess, SeriesErrors, SeriesCost, SeriesAccuracy}

// Retention is how long points are kept before being trimmed.
const Retention = 24 * time.Hour

// Point is one timestamped observation.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Store is a timestamp->value append log per (model, series). Duplicate
// timestamps follow last-write-wins.
type Store interface {
	Append(ctx context.Context, modelID string, series Series, points []Point) error
	Range(ctx context.Context, modelID string, series Series, from, to time.Time) ([]Point, error)
	ModelIDs(ctx context.Context) ([]string, error)
	Close() error
}

// RateLimiter performs fixed-window rate limit checks.
type RateLimiter interface {
	Allow(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error)
}

// MemoryStore is an in-process Store used in tests and when Redis is
// unavailable. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string]map[int64]float64 // "model/series" -> unix-nano -> value
	models map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series: make(map[string]map[int64]float64),
		models: make(map[string]struct{}),
	}
}

func memKey(modelID string, series Series) string {
	return modelID + "/" + string(series)
}

// Append stores the points, keeping the last write for duplicate
// timestamps and trimming anything older than the retention window.
func (s *MemoryStore) Append(ctx context.Context, modelID string, series Series, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(modelID, series)
	m, ok := s.series[key]
	if !ok {
		m = make(map[int64]float64)
		s.series[key] = m
	}
	for _, p := range points {
		m[p.Timestamp.UnixNano()] = p.Value
	}
	s.models[modelID] = struct{}{}

	cutoff := time.Now().Add(-Retention).UnixNano()
	for ts := range m {
		if ts < cutoff {
			delete(m, ts)
		}
	}
	return nil
}

// Range returns the points in [from, to], ordered by timestamp.
func (s *MemoryStore) Range(ctx context.Context, modelID string, series Series, from, to time.Time) ([]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.series[memKey(modelID, series)]
	var out []Point
	for ts, v := range m {
		t := time.Unix(0, ts)
		if !t.Before(from) && !t.After(to) {
			out = append(out, Point{Timestamp: t, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ModelIDs returns every model with any recorded series.
func (s *MemoryStore) ModelIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.models))
	for id := range s.models {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// MemoryRateLimiter is a fixed-window in-process rate limiter with the
// same semantics as the Redis one.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int64
}

// NewMemoryRateLimiter creates an empty MemoryRateLimiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{windows: make(map[string]*rateWindow)}
}

// Allow returns true if the request is under the limit for the current
// window. The window starts at the first request and is not extended by
// subsequent ones.
func (l *MemoryRateLimiter) Allow(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &rateWindow{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count <= maxRequests, nil
}
