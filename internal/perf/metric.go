// Package perf aggregates timing and success events from every runtime
// service into bounded in-memory statistics: per-service percentiles, error
// rates, throughput, and a system health verdict. Recording is an append
// under a short-lived lock; stats are always recomputed from the live metric
// set, never stored.
package perf

import (
	"time"
)

// Metric is one timing/success event. Write-once: recorded metrics are never
// mutated, only evicted.
type Metric struct {
	Service   string         `json:"service"`
	Operation string         `json:"operation"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ServiceStats is the on-demand aggregate for one service (or one operation)
// over a time window.
type ServiceStats struct {
	Service           string        `json:"service"`
	Operation         string        `json:"operation,omitempty"`
	Count             int           `json:"count"`
	SuccessCount      int           `json:"success_count"`
	FailureCount      int           `json:"failure_count"`
	ErrorRate         float64       `json:"error_rate"` // percentage 0-100
	MinDuration       time.Duration `json:"min_duration"`
	AvgDuration       time.Duration `json:"avg_duration"`
	MaxDuration       time.Duration `json:"max_duration"`
	P50Duration       time.Duration `json:"p50_duration"`
	P95Duration       time.Duration `json:"p95_duration"`
	P99Duration       time.Duration `json:"p99_duration"`
	RequestsPerMinute float64       `json:"requests_per_minute"`
}

// HealthStatus is the derived system verdict.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// SystemHealth summarizes the whole runtime over a window.
type SystemHealth struct {
	Status      HealthStatus  `json:"status"`
	ErrorRate   float64       `json:"error_rate"` // percentage 0-100
	AvgDuration time.Duration `json:"avg_duration"`
	MetricCount int           `json:"metric_count"`
}

// Verdict thresholds.
const (
	unhealthyErrorRate = 10.0 // percent
	degradedErrorRate  = 5.0
	unhealthyAvg       = 5000 * time.Millisecond
	degradedAvg        = 3000 * time.Millisecond
)
