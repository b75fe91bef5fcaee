package internal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// maxDurationSamples caps the latency samples kept per key; older samples
// are overwritten.
const maxDurationSamples = 1000

type durationWindow struct {
	values []int64
	next   int
}

func (w *durationWindow) add(v int64) {
	if len(w.values) < maxDurationSamples {
		w.values = append(w.values, v)
		return
	}
	w.values[w.next] = v
	w.next = (w.next + 1) % maxDurationSamples
}

type MetricsCollector struct {
	logger *Logger

	requestCount     map[string]int64
	requestDuration  map[string]*durationWindow
	httpErrors       map[string]int64
	upstreamCount    map[string]int64
	upstreamErrors   map[string]int64
	upstreamDuration map[string]*durationWindow
	pagesFetched     int64
	pagesDropped     int64
	cacheHits        int64
	cacheMisses      int64
	graphics         int64

	mu sync.RWMutex
}

func NewMetricsCollector(logger *Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:           logger,
		requestCount:     make(map[string]int64),
		requestDuration:  make(map[string]*durationWindow),
		httpErrors:       make(map[string]int64),
		upstreamCount:    make(map[string]int64),
		upstreamErrors:   make(map[string]int64),
		upstreamDuration: make(map[string]*durationWindow),
	}
}

func (mc *MetricsCollector) RecordRequest(endpoint string, duration time.Duration, statusCode int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.requestCount[endpoint]++
	recordDuration(mc.requestDuration, endpoint, duration)

	if statusCode >= 400 {
		mc.httpErrors[endpoint]++
	}
}

func (mc *MetricsCollector) RecordUpstream(operation string, duration time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.upstreamCount[operation]++
	recordDuration(mc.upstreamDuration, operation, duration)
	if err != nil {
		mc.upstreamErrors[operation]++
	}
}

func recordDuration(m map[string]*durationWindow, key string, duration time.Duration) {
	w, ok := m[key]
	if !ok {
		w = &durationWindow{}
		m[key] = w
	}
	w.add(duration.Milliseconds())
}

func (mc *MetricsCollector) RecordPage(dropped bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if dropped {
		mc.pagesDropped++
		return
	}
	mc.pagesFetched++
}

func (mc *MetricsCollector) RecordCacheHit(key string) {
	mc.mu.Lock()
	mc.cacheHits++
	mc.mu.Unlock()

	mc.logger.Debug("cache_hit").
		Component("metrics").
		Operation("record_cache").
		Cache(true, key).
		Log()
}

func (mc *MetricsCollector) RecordCacheMiss(key string) {
	mc.mu.Lock()
	mc.cacheMisses++
	mc.mu.Unlock()

	mc.logger.Debug("cache_miss").
		Component("metrics").
		Operation("record_cache").
		Cache(false, key).
		Log()
}

func (mc *MetricsCollector) RecordGraphic() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.graphics++
}

// StartReporter logs a metrics summary every interval until ctx is done.
func (mc *MetricsCollector) StartReporter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mc.reportMetrics()
			}
		}
	}()
}

func (mc *MetricsCollector) reportMetrics() {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	mc.logger.Info("metrics_report").
		Component("metrics").
		Operation("report").
		Meta("total_requests", sumMapValues(mc.requestCount)).
		Meta("total_errors", sumMapValues(mc.httpErrors)).
		Meta("upstream_calls", sumMapValues(mc.upstreamCount)).
		Meta("upstream_errors", sumMapValues(mc.upstreamErrors)).
		Meta("pages_fetched", mc.pagesFetched).
		Meta("pages_dropped", mc.pagesDropped).
		Meta("cache_hit_rate_percent", mc.calculateCacheHitRate()).
		Meta("graphics_generated", mc.graphics).
		Log()

	for operation, window := range mc.upstreamDuration {
		durations := window.values
		if len(durations) == 0 {
			continue
		}
		mc.logger.Info("upstream_performance").
			Component("metrics").
			Operation("performance_report").
			Meta("operation", operation).
			Meta("call_count", mc.upstreamCount[operation]).
			Meta("avg_duration_ms", calculateAverage(durations)).
			Meta("p95_duration_ms", calculatePercentile(durations, 0.95)).
			Meta("error_count", mc.upstreamErrors[operation]).
			Log()
	}
}

func (mc *MetricsCollector) calculateCacheHitRate() float64 {
	total := mc.cacheHits + mc.cacheMisses
	if total == 0 {
		return 0
	}
	return float64(mc.cacheHits) / float64(total) * 100
}

func (mc *MetricsCollector) GetMetrics() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	latency := make(map[string]interface{}, len(mc.upstreamDuration))
	for operation, window := range mc.upstreamDuration {
		latency[operation] = map[string]interface{}{
			"avg_ms": calculateAverage(window.values),
			"p95_ms": calculatePercentile(window.values, 0.95),
		}
	}

	return map[string]interface{}{
		"cache": map[string]interface{}{
			"hits":     mc.cacheHits,
			"misses":   mc.cacheMisses,
			"hit_rate": mc.calculateCacheHitRate(),
		},
		"requests": copyCounts(mc.requestCount),
		"errors":   copyCounts(mc.httpErrors),
		"upstream": map[string]interface{}{
			"calls":   copyCounts(mc.upstreamCount),
			"errors":  copyCounts(mc.upstreamErrors),
			"latency": latency,
		},
		"pages": map[string]interface{}{
			"fetched": mc.pagesFetched,
			"dropped": mc.pagesDropped,
		},
		"graphics_generated": mc.graphics,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sumMapValues(m map[string]int64) int64 {
	sum := int64(0)
	for _, count := range m {
		sum += count
	}
	return sum
}

func calculateAverage(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := int64(0)
	for _, v := range values {
		sum += v
	}

	return float64(sum) / float64(len(values))
}

func calculatePercentile(values []int64, percentile float64) int64 {
	if len(values) == 0 {
		return 0
	}

	sortedValues := make([]int64, len(values))
	copy(sortedValues, values)
	sort.Slice(sortedValues, func(i, j int) bool {
		return sortedValues[i] < sortedValues[j]
	})

	index := int(percentile * float64(len(sortedValues)-1))
	return sortedValues[index]
}
