package tracing

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Analysis is the derived view of one trace, computed purely from its span
// list on demand.
type Analysis struct {
	TraceID        string         `json:"trace_id"`
	Status         Status         `json:"status"`
	TotalDuration  time.Duration  `json:"total_duration"`
	SpanCount      int            `json:"span_count"`
	SlowestSpan    *Span          `json:"slowest_span,omitempty"`
	FailedSpans    []*Span        `json:"failed_spans"`
	SpansByService map[string]int `json:"spans_by_service"`
}

// AnalyzeTrace derives duration, the slowest completed span, failed spans,
// and per-service span counts. Returns nil for an unknown trace.
func (t *Tracer) AnalyzeTrace(traceID string) *Analysis {
	trace := t.GetTrace(traceID)
	if trace == nil {
		return nil
	}

	analysis := &Analysis{
		TraceID:        trace.ID,
		Status:         trace.Status,
		TotalDuration:  trace.Duration(),
		SpanCount:      len(trace.Spans),
		FailedSpans:    make([]*Span, 0),
		SpansByService: make(map[string]int),
	}

	for _, span := range trace.Spans {
		analysis.SpansByService[span.Service]++
		if span.Status == StatusError {
			analysis.FailedSpans = append(analysis.FailedSpans, span)
		}
		if span.EndTime.IsZero() {
			continue
		}
		if analysis.SlowestSpan == nil || span.Duration() > analysis.SlowestSpan.Duration() {
			analysis.SlowestSpan = span
		}
	}
	return analysis
}

// GenerateTraceReport renders one trace as an indented plain-text span tree.
// Returns "" for an unknown trace.
func (t *Tracer) GenerateTraceReport(traceID string) string {
	trace := t.GetTrace(traceID)
	if trace == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Trace %s (%s)\n", trace.ID, trace.Status)
	if trace.UserID != "" {
		fmt.Fprintf(&sb, "User: %s\n", trace.UserID)
	}
	fmt.Fprintf(&sb, "Duration: %v, %d spans\n", trace.Duration().Round(time.Millisecond), len(trace.Spans))

	children := make(map[string][]*Span)
	for _, span := range trace.Spans {
		children[span.ParentID] = append(children[span.ParentID], span)
	}
	for _, siblings := range children {
		sort.Slice(siblings, func(i, j int) bool {
			return siblings[i].StartTime.Before(siblings[j].StartTime)
		})
	}
	writeSpanTree(&sb, children, "", 1)

	if analysis := t.AnalyzeTrace(traceID); analysis != nil && len(analysis.FailedSpans) > 0 {
		fmt.Fprintf(&sb, "Failed spans: %d\n", len(analysis.FailedSpans))
		for _, span := range analysis.FailedSpans {
			fmt.Fprintf(&sb, "  %s.%s: %s\n", span.Service, span.Operation, span.Error)
		}
	}
	return sb.String()
}

func writeSpanTree(sb *strings.Builder, children map[string][]*Span, parentID string, depth int) {
	for _, span := range children[parentID] {
		indent := strings.Repeat("  ", depth)
		status := string(span.Status)
		fmt.Fprintf(sb, "%s%s.%s %v [%s]\n",
			indent, span.Service, span.Operation, span.Duration().Round(time.Millisecond), status)
		writeSpanTree(sb, children, span.ID, depth+1)
	}
}
