package perf

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// GenerateReport renders a plain-text performance summary suitable for
// logging or an admin endpoint.
func (m *Monitor) GenerateReport(window time.Duration) string {
	var sb strings.Builder
	sb.WriteString("Performance Report\n")
	sb.WriteString("==================\n")
	if window > 0 {
		fmt.Fprintf(&sb, "Window: last %v\n", window)
	} else {
		sb.WriteString("Window: all retained metrics\n")
	}

	health := m.SystemHealth(window)
	fmt.Fprintf(&sb, "System health: %s (error rate %.1f%%, avg %v, %d metrics)\n\n",
		health.Status, health.ErrorRate, health.AvgDuration.Round(time.Millisecond), health.MetricCount)

	stats := m.AllServiceStats(window)
	if len(stats) == 0 {
		sb.WriteString("No metrics recorded.\n")
		return sb.String()
	}

	services := make([]string, 0, len(stats))
	for service := range stats {
		services = append(services, service)
	}
	sort.Strings(services)

	for _, service := range services {
		s := stats[service]
		fmt.Fprintf(&sb, "%s\n", service)
		fmt.Fprintf(&sb, "  requests: %d (%.1f/min), errors: %.1f%%\n",
			s.Count, s.RequestsPerMinute, s.ErrorRate)
		fmt.Fprintf(&sb, "  latency: min %v / avg %v / max %v\n",
			s.MinDuration.Round(time.Millisecond),
			s.AvgDuration.Round(time.Millisecond),
			s.MaxDuration.Round(time.Millisecond))
		fmt.Fprintf(&sb, "  percentiles: p50 %v / p95 %v / p99 %v\n",
			s.P50Duration.Round(time.Millisecond),
			s.P95Duration.Round(time.Millisecond),
			s.P99Duration.Round(time.Millisecond))
	}

	slow := m.SlowRequests(m.config.SlowThreshold, 5)
	if len(slow) > 0 {
		sb.WriteString("\nSlowest requests:\n")
		for _, metric := range slow {
			fmt.Fprintf(&sb, "  %s.%s %v at %s\n",
				metric.Service, metric.Operation,
				metric.Duration.Round(time.Millisecond),
				metric.Timestamp.Format(time.RFC3339))
		}
	}
	return sb.String()
}
