// Package tokens tracks per-request token consumption, raises threshold
// alerts, and estimates monetary cost. Like the other observability stores
// it is an in-memory, append-mostly structure with background pruning.
package tokens

import (
	"log/slog"
	"sync"
	"time"
)

// Usage is one request's token consumption.
type Usage struct {
	TotalTokens      int64     `json:"total_tokens"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	UserID           string    `json:"user_id,omitempty"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	RequestType      string    `json:"request_type,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// AlertLevel classifies a threshold alert.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert is an informational threshold crossing. Alerts are queued for
// retrieval, never returned as errors.
type Alert struct {
	Level      AlertLevel `json:"level"`
	Message    string     `json:"message"`
	Suggestion string     `json:"suggestion"`
	Threshold  int64      `json:"threshold"`
	Tokens     int64      `json:"tokens"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Token thresholds. The first two apply to a single call, the third to the
// running total of the current day.
const (
	PerCallWarningThreshold  = 8_000
	PerCallCriticalThreshold = 12_000
	DailyLimitThreshold      = 100_000
)

// Pricing holds separate per-1000-token prices for the prompt and
// completion sides of a request.
type Pricing struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// Estimate returns the dollar cost of one usage record.
func (p Pricing) Estimate(u Usage) float64 {
	return float64(u.PromptTokens)/1000*p.InputPer1K +
		float64(u.CompletionTokens)/1000*p.OutputPer1K
}

// Config bounds the token store.
type Config struct {
	// Pricing used for cost estimates. Zero prices yield zero-cost
	// estimates, which is valid for self-hosted models.
	Pricing Pricing

	// Retention is how long history and daily buckets are kept.
	// Default: 7 days.
	Retention time.Duration

	// RotateInterval is how often expired data is swept. Default: 1 hour.
	RotateInterval time.Duration

	// MaxAlerts bounds the alert queue; the oldest are dropped past this
	// count. Default: 100.
	MaxAlerts int
}

// DefaultConfig returns the default token monitor configuration.
func DefaultConfig() Config {
	return Config{
		Retention:      7 * 24 * time.Hour,
		RotateInterval: time.Hour,
		MaxAlerts:      100,
	}
}

// Monitor is the shared per-process token store, constructed once and
// injected. Safe for concurrent use.
type Monitor struct {
	config Config
	logger *slog.Logger

	mu      sync.RWMutex
	history []Usage
	daily   map[string][]Usage // keyed by calendar date, "2006-01-02"
	alerts  []Alert

	stopOnce sync.Once
	stopCh   chan struct{}
}

const dayKeyFormat = "2006-01-02"

// NewMonitor creates a token monitor and starts its background rotation
// sweep.
func NewMonitor(config Config) *Monitor {
	if config.Retention <= 0 {
		config.Retention = 7 * 24 * time.Hour
	}
	if config.RotateInterval <= 0 {
		config.RotateInterval = time.Hour
	}
	if config.MaxAlerts <= 0 {
		config.MaxAlerts = 100
	}
	m := &Monitor{
		config: config,
		logger: slog.Default().With("component", "tokens"),
		daily:  make(map[string][]Usage),
		stopCh: make(chan struct{}),
	}
	go m.rotateLoop()
	return m
}

// Close stops the background sweep. Idempotent.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// RecordUsage appends a usage record to the rolling history and the current
// day's bucket, then checks it against the per-call and daily thresholds.
func (m *Monitor) RecordUsage(u Usage) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, u)
	day := u.Timestamp.Format(dayKeyFormat)
	m.daily[day] = append(m.daily[day], u)

	m.checkThresholdsLocked(u, day)
}

// checkThresholdsLocked appends alerts for any threshold the record crosses.
// Caller holds m.mu.
func (m *Monitor) checkThresholdsLocked(u Usage, day string) {
	switch {
	case u.TotalTokens >= PerCallCriticalThreshold:
		m.appendAlertLocked(Alert{
			Level:      AlertCritical,
			Message:    "single request exceeded critical token threshold",
			Suggestion: "split the request or reduce conversation history before retrying",
			Threshold:  PerCallCriticalThreshold,
			Tokens:     u.TotalTokens,
			Timestamp:  u.Timestamp,
		})
	case u.TotalTokens >= PerCallWarningThreshold:
		m.appendAlertLocked(Alert{
			Level:      AlertWarning,
			Message:    "single request exceeded warning token threshold",
			Suggestion: "consider trimming tool output or memory context for this conversation",
			Threshold:  PerCallWarningThreshold,
			Tokens:     u.TotalTokens,
			Timestamp:  u.Timestamp,
		})
	}

	var dayTotal int64
	for _, record := range m.daily[day] {
		dayTotal += record.TotalTokens
	}
	if dayTotal >= DailyLimitThreshold && dayTotal-u.TotalTokens < DailyLimitThreshold {
		m.appendAlertLocked(Alert{
			Level:      AlertCritical,
			Message:    "daily token limit reached",
			Suggestion: "review today's heaviest conversations and enable tighter prompt budgets",
			Threshold:  DailyLimitThreshold,
			Tokens:     dayTotal,
			Timestamp:  u.Timestamp,
		})
	}
}

func (m *Monitor) appendAlertLocked(alert Alert) {
	m.logger.Warn("token threshold crossed",
		"level", string(alert.Level),
		"tokens", alert.Tokens,
		"threshold", alert.Threshold)
	m.alerts = append(m.alerts, alert)
	if overflow := len(m.alerts) - m.config.MaxAlerts; overflow > 0 {
		m.alerts = m.alerts[overflow:]
	}
}

// Alerts returns queued alerts, newest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, len(m.alerts))
	for i, alert := range m.alerts {
		out[len(m.alerts)-1-i] = alert
	}
	return out
}

// Stats is the derived view of current token consumption.
type Stats struct {
	LastUsage            *Usage   `json:"last_usage,omitempty"`
	TodayUsage           []Usage  `json:"today_usage"`
	TodayTotal           int64    `json:"today_total"`
	WeeklyAverage        float64  `json:"weekly_average"`
	Suggestions          []string `json:"suggestions"`
	DailyCost            float64  `json:"daily_cost"`
	ProjectedMonthlyCost float64  `json:"projected_monthly_cost"`
}

// CurrentStats derives the latest usage, the current day's records, a 7-day
// rolling average, optimization suggestions, and cost estimates. Pure
// computation over retained data.
func (m *Monitor) CurrentStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := Stats{Suggestions: make([]string, 0)}

	if n := len(m.history); n > 0 {
		last := m.history[n-1]
		stats.LastUsage = &last
	}

	today := m.daily[now.Format(dayKeyFormat)]
	stats.TodayUsage = make([]Usage, len(today))
	copy(stats.TodayUsage, today)
	for _, u := range today {
		stats.TodayTotal += u.TotalTokens
	}

	stats.WeeklyAverage = m.weeklyDailyAverageLocked(now)
	stats.DailyCost = m.bucketCostLocked(today)
	stats.ProjectedMonthlyCost = m.weeklyDailyCostLocked(now) * 30
	stats.Suggestions = m.suggestionsLocked(stats)
	return stats
}

// weeklyDailyAverageLocked averages total tokens per day over the last 7
// calendar days, counting only days that have records.
func (m *Monitor) weeklyDailyAverageLocked(now time.Time) float64 {
	var total int64
	days := 0
	for i := 0; i < 7; i++ {
		key := now.AddDate(0, 0, -i).Format(dayKeyFormat)
		bucket, ok := m.daily[key]
		if !ok || len(bucket) == 0 {
			continue
		}
		days++
		for _, u := range bucket {
			total += u.TotalTokens
		}
	}
	if days == 0 {
		return 0
	}
	return float64(total) / float64(days)
}

func (m *Monitor) bucketCostLocked(bucket []Usage) float64 {
	var cost float64
	for _, u := range bucket {
		cost += m.config.Pricing.Estimate(u)
	}
	return cost
}

func (m *Monitor) weeklyDailyCostLocked(now time.Time) float64 {
	var cost float64
	days := 0
	for i := 0; i < 7; i++ {
		key := now.AddDate(0, 0, -i).Format(dayKeyFormat)
		bucket, ok := m.daily[key]
		if !ok || len(bucket) == 0 {
			continue
		}
		days++
		cost += m.bucketCostLocked(bucket)
	}
	if days == 0 {
		return 0
	}
	return cost / float64(days)
}

// suggestionsLocked derives optimization hints from retained usage
// patterns. Caller holds m.mu (read).
func (m *Monitor) suggestionsLocked(stats Stats) []string {
	suggestions := make([]string, 0)

	if last := stats.LastUsage; last != nil && last.CompletionTokens > 0 &&
		last.PromptTokens > 3*last.CompletionTokens {
		suggestions = append(suggestions,
			"prompt tokens dominate completion tokens; trim history or memory context")
	}

	if n := len(m.history); n >= 5 {
		recent := m.history[n-5:]
		var min, max int64 = recent[0].TotalTokens, recent[0].TotalTokens
		for _, u := range recent[1:] {
			if u.TotalTokens < min {
				min = u.TotalTokens
			}
			if u.TotalTokens > max {
				max = u.TotalTokens
			}
		}
		if min > 0 && max > 5*min {
			suggestions = append(suggestions,
				"recent request sizes vary widely; check for conversations with unbounded context growth")
		}
	}

	if stats.WeeklyAverage > DailyLimitThreshold/2 {
		suggestions = append(suggestions,
			"sustained daily usage above half the daily limit; review prompt budgets and caching")
	}

	if stats.TodayTotal > DailyLimitThreshold*8/10 {
		suggestions = append(suggestions,
			"today's usage is approaching the daily limit")
	}
	return suggestions
}

func (m *Monitor) rotateLoop() {
	ticker := time.NewTicker(m.config.RotateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.rotate()
		}
	}
}

// rotate discards daily buckets and history entries past the retention
// window.
func (m *Monitor) rotate() {
	cutoff := time.Now().Add(-m.config.Retention)
	cutoffDay := cutoff.Format(dayKeyFormat)

	m.mu.Lock()
	defer m.mu.Unlock()

	for day := range m.daily {
		if day < cutoffDay {
			delete(m.daily, day)
		}
	}

	start := 0
	for start < len(m.history) && m.history[start].Timestamp.Before(cutoff) {
		start++
	}
	if start > 0 {
		m.history = m.history[start:]
	}
}
