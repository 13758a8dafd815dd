package tokens

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// GeneratePerformanceReport renders a plain-text summary of token
// consumption and cost, suitable for logging or an admin endpoint.
func (m *Monitor) GeneratePerformanceReport() string {
	stats := m.CurrentStats()

	m.mu.RLock()
	historyCount := len(m.history)
	var historyTotal int64
	for _, u := range m.history {
		historyTotal += u.TotalTokens
	}
	days := make([]string, 0, len(m.daily))
	dayTotals := make(map[string]int64, len(m.daily))
	for day, bucket := range m.daily {
		days = append(days, day)
		for _, u := range bucket {
			dayTotals[day] += u.TotalTokens
		}
	}
	alertCount := len(m.alerts)
	m.mu.RUnlock()

	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	var sb strings.Builder
	sb.WriteString("Token Usage Report\n")
	sb.WriteString("==================\n")
	fmt.Fprintf(&sb, "Requests tracked: %d, total tokens: %s\n",
		historyCount, FormatTokenCount(historyTotal))
	if historyCount > 0 {
		fmt.Fprintf(&sb, "Average per request: %s tokens\n",
			FormatTokenCount(historyTotal/int64(historyCount)))
	}
	fmt.Fprintf(&sb, "Today: %s tokens across %d requests\n",
		FormatTokenCount(stats.TodayTotal), len(stats.TodayUsage))
	fmt.Fprintf(&sb, "7-day daily average: %s tokens\n",
		FormatTokenCount(int64(stats.WeeklyAverage)))

	if cost := FormatUSD(stats.DailyCost); cost != "" {
		fmt.Fprintf(&sb, "Estimated cost: %s today, %s projected monthly\n",
			cost, FormatUSD(stats.ProjectedMonthlyCost))
	}

	if len(days) > 0 {
		sb.WriteString("\nDaily breakdown:\n")
		for _, day := range days {
			fmt.Fprintf(&sb, "  %s: %s tokens\n", day, FormatTokenCount(dayTotals[day]))
		}
	}

	if alertCount > 0 {
		fmt.Fprintf(&sb, "\nActive alerts: %d\n", alertCount)
		for _, alert := range m.Alerts() {
			fmt.Fprintf(&sb, "  [%s] %s (%s tokens, threshold %s) at %s\n",
				alert.Level, alert.Message,
				FormatTokenCount(alert.Tokens), FormatTokenCount(alert.Threshold),
				alert.Timestamp.Format(time.RFC3339))
		}
	}

	if len(stats.Suggestions) > 0 {
		sb.WriteString("\nSuggestions:\n")
		for _, suggestion := range stats.Suggestions {
			fmt.Fprintf(&sb, "  - %s\n", suggestion)
		}
	}
	return sb.String()
}

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD formats a dollar amount for display. Returns "" for zero or
// non-finite amounts.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}
