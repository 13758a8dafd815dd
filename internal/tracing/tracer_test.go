package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/operator/internal/observability"
)

func newTestTracer(t *testing.T) *Tracer {
	t.Helper()
	tracer := NewTracer(DefaultConfig(), nil)
	t.Cleanup(tracer.Close)
	return tracer
}

func TestTraceLifecycle(t *testing.T) {
	tracer := newTestTracer(t)

	traceID := tracer.StartTrace("user-1")
	if traceID == "" {
		t.Fatal("expected a trace id")
	}

	trace := tracer.GetTrace(traceID)
	if trace == nil || trace.Status != StatusPending {
		t.Fatalf("new trace should be pending: %+v", trace)
	}

	spanID := tracer.StartSpan(traceID, "prompt-builder", "build_messages", "", nil)
	tracer.EndSpan(traceID, spanID, StatusSuccess, nil)
	tracer.EndTrace(traceID, StatusSuccess)

	trace = tracer.GetTrace(traceID)
	if trace.Status != StatusSuccess || trace.EndTime.IsZero() {
		t.Errorf("trace not closed: %+v", trace)
	}
	if len(trace.Spans) != 1 || trace.Spans[0].Status != StatusSuccess {
		t.Errorf("span not closed: %+v", trace.Spans)
	}
}

func TestUnknownIDsAreNoOps(t *testing.T) {
	tracer := newTestTracer(t)

	// None of these may panic or create state.
	tracer.EndTrace("missing", StatusSuccess)
	tracer.EndSpan("missing", "also-missing", StatusError, errors.New("x"))
	if spanID := tracer.StartSpan("missing", "svc", "op", "", nil); spanID != "" {
		t.Errorf("span on unknown trace should return empty id, got %q", spanID)
	}
	if trace := tracer.GetTrace("missing"); trace != nil {
		t.Errorf("unknown trace should be nil, got %+v", trace)
	}
	if analysis := tracer.AnalyzeTrace("missing"); analysis != nil {
		t.Errorf("analysis of unknown trace should be nil")
	}
	if report := tracer.GenerateTraceReport("missing"); report != "" {
		t.Errorf("report of unknown trace should be empty")
	}
}

func TestTraceClosedExactlyOnce(t *testing.T) {
	tracer := newTestTracer(t)

	traceID := tracer.StartTrace("")
	tracer.EndTrace(traceID, StatusError)
	first := tracer.GetTrace(traceID).EndTime

	tracer.EndTrace(traceID, StatusSuccess)
	after := tracer.GetTrace(traceID)
	if after.Status != StatusError || !after.EndTime.Equal(first) {
		t.Error("second EndTrace must be a no-op")
	}

	// A closed trace accepts no new spans.
	if spanID := tracer.StartSpan(traceID, "svc", "op", "", nil); spanID != "" {
		t.Error("closed trace accepted a span")
	}
}

func TestSpanParentMustExist(t *testing.T) {
	tracer := newTestTracer(t)
	traceID := tracer.StartTrace("")

	parent := tracer.StartSpan(traceID, "orchestrator", "execute_tools", "", nil)
	child := tracer.StartSpan(traceID, "orchestrator", "tool_call", parent, nil)
	orphan := tracer.StartSpan(traceID, "orchestrator", "tool_call", "no-such-span", nil)

	trace := tracer.GetTrace(traceID)
	byID := make(map[string]*Span)
	for _, span := range trace.Spans {
		byID[span.ID] = span
	}
	if byID[child].ParentID != parent {
		t.Errorf("child parent = %q, want %q", byID[child].ParentID, parent)
	}
	if byID[orphan].ParentID != "" {
		t.Error("bogus parent id should be dropped, keeping the span a root")
	}
}

func TestGetUserTraces(t *testing.T) {
	tracer := newTestTracer(t)

	first := tracer.StartTrace("alice")
	tracer.StartTrace("bob")
	second := tracer.StartTrace("alice")

	traces := tracer.GetUserTraces("alice", 0)
	if len(traces) != 2 {
		t.Fatalf("expected 2 traces for alice, got %d", len(traces))
	}
	// Newest first.
	if traces[0].ID != second || traces[1].ID != first {
		t.Error("user traces should be newest first")
	}

	if got := tracer.GetUserTraces("alice", 1); len(got) != 1 {
		t.Errorf("limit not applied: %d", len(got))
	}
}

func TestSlowAndFailedTraces(t *testing.T) {
	tracer := newTestTracer(t)

	slow := tracer.StartTrace("")
	time.Sleep(30 * time.Millisecond)
	tracer.EndTrace(slow, StatusSuccess)

	fast := tracer.StartTrace("")
	tracer.EndTrace(fast, StatusError)

	slowTraces := tracer.GetSlowTraces(20*time.Millisecond, 10)
	if len(slowTraces) != 1 || slowTraces[0].ID != slow {
		t.Errorf("expected only the slow trace, got %d", len(slowTraces))
	}

	failed := tracer.GetFailedTraces(10)
	if len(failed) != 1 || failed[0].ID != fast {
		t.Errorf("expected only the failed trace, got %d", len(failed))
	}
}

func TestEvictionPastMaxTraces(t *testing.T) {
	tracer := NewTracer(Config{MaxTraces: 3}, nil)
	defer tracer.Close()

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = tracer.StartTrace("")
	}

	if trace := tracer.GetTrace(ids[0]); trace != nil {
		t.Error("oldest trace should be evicted")
	}
	if trace := tracer.GetTrace(ids[4]); trace == nil {
		t.Error("newest trace should survive")
	}
}

func TestAnalyzeTrace(t *testing.T) {
	tracer := newTestTracer(t)
	traceID := tracer.StartTrace("")

	quick := tracer.StartSpan(traceID, "prompt-builder", "build", "", nil)
	tracer.EndSpan(traceID, quick, StatusSuccess, nil)

	slow := tracer.StartSpan(traceID, "tool-orchestrator", "execute", "", nil)
	time.Sleep(25 * time.Millisecond)
	tracer.EndSpan(traceID, slow, StatusSuccess, nil)

	bad := tracer.StartSpan(traceID, "tool-orchestrator", "tool_call", slow, nil)
	tracer.EndSpan(traceID, bad, StatusError, errors.New("boom"))

	tracer.EndTrace(traceID, StatusError)

	analysis := tracer.AnalyzeTrace(traceID)
	if analysis == nil {
		t.Fatal("expected analysis")
	}
	if analysis.SpanCount != 3 {
		t.Errorf("span count = %d", analysis.SpanCount)
	}
	if analysis.SlowestSpan == nil || analysis.SlowestSpan.ID != slow {
		t.Errorf("slowest span wrong: %+v", analysis.SlowestSpan)
	}
	if len(analysis.FailedSpans) != 1 || analysis.FailedSpans[0].ID != bad {
		t.Errorf("failed spans wrong: %+v", analysis.FailedSpans)
	}
	if analysis.SpansByService["tool-orchestrator"] != 2 || analysis.SpansByService["prompt-builder"] != 1 {
		t.Errorf("per-service counts wrong: %v", analysis.SpansByService)
	}
}

func TestGenerateTraceReport_TreeShape(t *testing.T) {
	tracer := newTestTracer(t)
	traceID := tracer.StartTrace("carol")

	parent := tracer.StartSpan(traceID, "orchestrator", "execute_tools", "", nil)
	child := tracer.StartSpan(traceID, "orchestrator", "tool_call", parent, nil)
	tracer.EndSpan(traceID, child, StatusSuccess, nil)
	tracer.EndSpan(traceID, parent, StatusSuccess, nil)
	tracer.EndTrace(traceID, StatusSuccess)

	report := tracer.GenerateTraceReport(traceID)
	if !strings.Contains(report, "carol") {
		t.Error("report missing user")
	}
	if !strings.Contains(report, "execute_tools") || !strings.Contains(report, "tool_call") {
		t.Errorf("report missing spans:\n%s", report)
	}
	// The child is indented one level deeper than its parent.
	if !strings.Contains(report, "    orchestrator.tool_call") {
		t.Errorf("child span not nested:\n%s", report)
	}
}

func TestExporterMirrorsLifecycle(t *testing.T) {
	// An exporter without an endpoint degrades to no-op otel spans, which
	// still exercises the full mirroring path.
	exporter, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "test"})
	t.Cleanup(func() { shutdown(context.Background()) })

	tracer := NewTracer(DefaultConfig(), exporter)
	t.Cleanup(tracer.Close)

	traceID := tracer.StartTrace("dave")
	parent := tracer.StartSpan(traceID, "runtime", "turn", "", nil)
	child := tracer.StartSpan(traceID, "tool-orchestrator", "lookup", parent, nil)
	tracer.EndSpan(traceID, child, StatusError, errors.New("backend down"))
	tracer.EndSpan(traceID, parent, StatusSuccess, nil)
	tracer.EndTrace(traceID, StatusError)

	trace := tracer.GetTrace(traceID)
	if trace == nil || trace.Status != StatusError {
		t.Fatalf("trace = %+v", trace)
	}
	if len(trace.Spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(trace.Spans))
	}
	if trace.Spans[1].ParentID != parent {
		t.Errorf("child parent = %q, want %q", trace.Spans[1].ParentID, parent)
	}
}
