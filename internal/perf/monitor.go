package perf

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/operator/internal/observability"
)

// Config configures the monitor's bounds and logging thresholds.
type Config struct {
	// MaxMetrics bounds the in-memory ring; the oldest metrics are evicted
	// past this count. Default: 10000.
	MaxMetrics int

	// Retention is how long metrics are kept. Default: 1 hour.
	Retention time.Duration

	// PruneInterval is how often expired metrics are swept. Default: 1 minute.
	PruneInterval time.Duration

	// SlowThreshold flags calls above this duration for operational
	// visibility. Default: 3 seconds.
	SlowThreshold time.Duration
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		MaxMetrics:    10000,
		Retention:     time.Hour,
		PruneInterval: time.Minute,
		SlowThreshold: 3 * time.Second,
	}
}

// Monitor is the shared per-process performance store. One instance is
// constructed at startup and injected into every component; it is safe for
// concurrent use and never blocks producers beyond the append.
type Monitor struct {
	config Config
	logger *slog.Logger
	mirror *observability.Metrics

	mu      sync.RWMutex
	metrics []Metric

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMonitor creates a monitor and starts its background pruning sweep.
// mirror may be nil; when set, every metric is also observed in Prometheus.
func NewMonitor(config Config, mirror *observability.Metrics) *Monitor {
	if config.MaxMetrics <= 0 {
		config.MaxMetrics = 10000
	}
	if config.Retention <= 0 {
		config.Retention = time.Hour
	}
	if config.PruneInterval <= 0 {
		config.PruneInterval = time.Minute
	}
	if config.SlowThreshold <= 0 {
		config.SlowThreshold = 3 * time.Second
	}

	m := &Monitor{
		config: config,
		logger: slog.Default().With("component", "perf"),
		mirror: mirror,
		stopCh: make(chan struct{}),
	}
	go m.pruneLoop()
	return m
}

// Close stops the background sweep. Idempotent.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Record appends one metric. Non-blocking beyond the append; eviction past
// MaxMetrics drops the oldest entries.
func (m *Monitor) Record(metric Metric) {
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.metrics = append(m.metrics, metric)
	if overflow := len(m.metrics) - m.config.MaxMetrics; overflow > 0 {
		m.metrics = m.metrics[overflow:]
	}
	m.mu.Unlock()

	if m.mirror != nil {
		m.mirror.ObserveServiceCall(metric.Service, metric.Operation, metric.Duration, metric.Success)
	}

	// Operational visibility only; stats are unaffected.
	if !metric.Success {
		m.logger.Warn("operation failed",
			"service", metric.Service, "operation", metric.Operation, "duration", metric.Duration)
	} else if metric.Duration >= m.config.SlowThreshold {
		m.logger.Warn("slow operation",
			"service", metric.Service, "operation", metric.Operation, "duration", metric.Duration)
	}
}

// StartTimer begins timing one operation. The returned finish function
// records the metric; call it exactly once.
func (m *Monitor) StartTimer(service, operation string) func(success bool, metadata map[string]any) {
	start := time.Now()
	return func(success bool, metadata map[string]any) {
		m.Record(Metric{
			Service:   service,
			Operation: operation,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
			Success:   success,
			Metadata:  metadata,
		})
	}
}

// ServiceStats aggregates one service over the window. Returns nil when no
// metrics exist for that service in the window; callers must handle absence.
// A zero window means all retained metrics.
func (m *Monitor) ServiceStats(service string, window time.Duration) *ServiceStats {
	return m.aggregate(service, "", window)
}

// OperationStats aggregates one operation of one service over the window.
func (m *Monitor) OperationStats(service, operation string, window time.Duration) *ServiceStats {
	return m.aggregate(service, operation, window)
}

// AllServiceStats aggregates every service seen in the window.
func (m *Monitor) AllServiceStats(window time.Duration) map[string]*ServiceStats {
	m.mu.RLock()
	services := make(map[string]struct{})
	for _, metric := range m.metrics {
		services[metric.Service] = struct{}{}
	}
	m.mu.RUnlock()

	stats := make(map[string]*ServiceStats, len(services))
	for service := range services {
		if s := m.ServiceStats(service, window); s != nil {
			stats[service] = s
		}
	}
	return stats
}

// SystemHealth derives the overall verdict. With zero metrics the system is
// healthy by definition.
func (m *Monitor) SystemHealth(window time.Duration) SystemHealth {
	selected := m.selectMetrics("", "", window)
	if len(selected) == 0 {
		return SystemHealth{Status: HealthHealthy}
	}

	failures := 0
	var total time.Duration
	for _, metric := range selected {
		if !metric.Success {
			failures++
		}
		total += metric.Duration
	}
	errorRate := float64(failures) / float64(len(selected)) * 100
	avg := total / time.Duration(len(selected))

	status := HealthHealthy
	switch {
	case errorRate > unhealthyErrorRate || avg > unhealthyAvg:
		status = HealthUnhealthy
	case errorRate > degradedErrorRate || avg > degradedAvg:
		status = HealthDegraded
	}
	return SystemHealth{
		Status:      status,
		ErrorRate:   errorRate,
		AvgDuration: avg,
		MetricCount: len(selected),
	}
}

// SlowRequests returns up to limit metrics at or above threshold, slowest
// first.
func (m *Monitor) SlowRequests(threshold time.Duration, limit int) []Metric {
	selected := m.selectMetrics("", "", 0)
	slow := make([]Metric, 0)
	for _, metric := range selected {
		if metric.Duration >= threshold {
			slow = append(slow, metric)
		}
	}
	sort.Slice(slow, func(i, j int) bool { return slow[i].Duration > slow[j].Duration })
	if limit > 0 && len(slow) > limit {
		slow = slow[:limit]
	}
	return slow
}

// FailedRequests returns up to limit failed metrics, newest first.
func (m *Monitor) FailedRequests(limit int) []Metric {
	selected := m.selectMetrics("", "", 0)
	failed := make([]Metric, 0)
	for i := len(selected) - 1; i >= 0; i-- {
		if !selected[i].Success {
			failed = append(failed, selected[i])
			if limit > 0 && len(failed) == limit {
				break
			}
		}
	}
	return failed
}

// selectMetrics copies the metrics matching service/operation inside the
// window. Empty service or operation matches everything.
func (m *Monitor) selectMetrics(service, operation string, window time.Duration) []Metric {
	var cutoff time.Time
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	selected := make([]Metric, 0, len(m.metrics))
	for _, metric := range m.metrics {
		if service != "" && metric.Service != service {
			continue
		}
		if operation != "" && metric.Operation != operation {
			continue
		}
		if window > 0 && metric.Timestamp.Before(cutoff) {
			continue
		}
		selected = append(selected, metric)
	}
	return selected
}

func (m *Monitor) aggregate(service, operation string, window time.Duration) *ServiceStats {
	selected := m.selectMetrics(service, operation, window)
	if len(selected) == 0 {
		return nil
	}

	durations := make([]time.Duration, len(selected))
	stats := &ServiceStats{
		Service:     service,
		Operation:   operation,
		Count:       len(selected),
		MinDuration: selected[0].Duration,
	}
	var total time.Duration
	earliest := selected[0].Timestamp
	latest := selected[0].Timestamp
	for i, metric := range selected {
		durations[i] = metric.Duration
		total += metric.Duration
		if metric.Success {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}
		if metric.Duration < stats.MinDuration {
			stats.MinDuration = metric.Duration
		}
		if metric.Duration > stats.MaxDuration {
			stats.MaxDuration = metric.Duration
		}
		if metric.Timestamp.Before(earliest) {
			earliest = metric.Timestamp
		}
		if metric.Timestamp.After(latest) {
			latest = metric.Timestamp
		}
	}

	stats.ErrorRate = float64(stats.FailureCount) / float64(stats.Count) * 100
	stats.AvgDuration = total / time.Duration(stats.Count)

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	stats.P50Duration = percentile(durations, 0.50)
	stats.P95Duration = percentile(durations, 0.95)
	stats.P99Duration = percentile(durations, 0.99)

	span := latest.Sub(earliest)
	if span <= 0 {
		span = time.Minute
	}
	stats.RequestsPerMinute = float64(stats.Count) / span.Minutes()
	return stats
}

// percentile indexes sorted durations at floor(n*p), clamped to the last
// element.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// pruneLoop periodically evicts metrics past the retention window.
func (m *Monitor) pruneLoop() {
	ticker := time.NewTicker(m.config.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.prune()
		}
	}
}

func (m *Monitor) prune() {
	cutoff := time.Now().Add(-m.config.Retention)
	m.mu.Lock()
	defer m.mu.Unlock()

	keepFrom := 0
	for keepFrom < len(m.metrics) && m.metrics[keepFrom].Timestamp.Before(cutoff) {
		keepFrom++
	}
	if keepFrom > 0 {
		m.metrics = append([]Metric(nil), m.metrics[keepFrom:]...)
	}
}
