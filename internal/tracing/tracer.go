// Package tracing records a tree of timed spans per logical agent turn.
// Tracing is best-effort instrumentation: operations on unknown trace or
// span ids are silent no-ops, so the tracer can never destabilize the
// request it observes.
package tracing

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/operator/internal/observability"
)

// Status is the lifecycle state of a trace or span.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Span is one timed unit of work inside a trace. The parent pointer forms a
// tree; a span's parent always references a span already present in the same
// trace.
type Span struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Service   string         `json:"service"`
	Operation string         `json:"operation"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitempty"`
	Status    Status         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	otelCtx  context.Context
	otelSpan oteltrace.Span
}

// Duration returns the span's measured time, or 0 while it is still open.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Trace is the full timed record of one logical agent turn. Created open,
// closed exactly once, immutable afterwards except for eviction.
type Trace struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Status    Status    `json:"status"`
	Spans     []*Span   `json:"spans"`

	otelCtx  context.Context
	otelSpan oteltrace.Span
}

// Duration returns the trace's total time, or the elapsed time so far while
// it is still open.
func (t *Trace) Duration() time.Duration {
	if t.EndTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}

// Config bounds the trace store.
type Config struct {
	// MaxTraces bounds stored traces; the oldest are evicted past this
	// count. Default: 1000.
	MaxTraces int

	// Retention is how long closed traces are kept. Default: 1 hour.
	Retention time.Duration

	// PruneInterval is how often expired traces are swept. Default: 1 minute.
	PruneInterval time.Duration
}

// DefaultConfig returns the default tracer configuration.
func DefaultConfig() Config {
	return Config{
		MaxTraces:     1000,
		Retention:     time.Hour,
		PruneInterval: time.Minute,
	}
}

// Tracer is the shared per-process trace store, constructed once and
// injected. Safe for concurrent use; every mutation is a short append under
// the store lock.
type Tracer struct {
	config   Config
	exporter *observability.Tracer
	logger   *slog.Logger

	mu     sync.RWMutex
	traces map[string]*Trace
	order  []string // trace ids oldest first, for eviction

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewTracer creates a tracer and starts its background pruning sweep. A
// non-nil exporter mirrors every trace and span into OpenTelemetry, the same
// way the perf monitor mirrors into Prometheus; nil keeps tracing local.
func NewTracer(config Config, exporter *observability.Tracer) *Tracer {
	if config.MaxTraces <= 0 {
		config.MaxTraces = 1000
	}
	if config.Retention <= 0 {
		config.Retention = time.Hour
	}
	if config.PruneInterval <= 0 {
		config.PruneInterval = time.Minute
	}
	t := &Tracer{
		config:   config,
		exporter: exporter,
		logger:   slog.Default().With("component", "tracing"),
		traces:   make(map[string]*Trace),
		stopCh:   make(chan struct{}),
	}
	go t.pruneLoop()
	return t
}

// Close stops the background sweep. Idempotent.
func (t *Tracer) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// StartTrace opens a new pending trace and returns its id.
func (t *Tracer) StartTrace(userID string) string {
	trace := &Trace{
		ID:        uuid.New().String(),
		UserID:    userID,
		StartTime: time.Now(),
		Status:    StatusPending,
	}
	if t.exporter != nil {
		trace.otelCtx, trace.otelSpan = t.exporter.Start(context.Background(), "turn",
			attribute.String("trace.id", trace.ID),
			attribute.String("user.id", userID))
	}

	t.mu.Lock()
	t.traces[trace.ID] = trace
	t.order = append(t.order, trace.ID)
	if overflow := len(t.order) - t.config.MaxTraces; overflow > 0 {
		for _, id := range t.order[:overflow] {
			delete(t.traces, id)
		}
		t.order = t.order[overflow:]
	}
	t.mu.Unlock()
	return trace.ID
}

// EndTrace closes a trace exactly once. Unknown ids and already-closed
// traces are no-ops.
func (t *Tracer) EndTrace(traceID string, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	trace, ok := t.traces[traceID]
	if !ok || trace.Status != StatusPending {
		return
	}
	trace.EndTime = time.Now()
	trace.Status = status
	if trace.otelSpan != nil {
		observability.EndSpan(trace.otelSpan, statusError(status, nil))
	}
}

// statusError maps an error status without a concrete cause onto an error
// value the exporter can record.
func statusError(status Status, err error) error {
	if err != nil {
		return err
	}
	if status == StatusError {
		return errors.New("failed")
	}
	return nil
}

// StartSpan opens a span inside a trace and returns its id. Unknown or
// already-closed traces are no-ops returning "". A parentSpanID that does
// not reference an existing span in the trace is dropped, keeping the
// parent-exists invariant.
func (t *Tracer) StartSpan(traceID, service, operation, parentSpanID string, metadata map[string]any) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	trace, ok := t.traces[traceID]
	if !ok || trace.Status != StatusPending {
		return ""
	}

	parent := findSpan(trace, parentSpanID)
	if parent == nil {
		parentSpanID = ""
	}

	span := &Span{
		ID:        uuid.New().String(),
		ParentID:  parentSpanID,
		Service:   service,
		Operation: operation,
		StartTime: time.Now(),
		Status:    StatusPending,
		Metadata:  metadata,
	}
	if t.exporter != nil {
		parentCtx := trace.otelCtx
		if parent != nil && parent.otelCtx != nil {
			parentCtx = parent.otelCtx
		}
		if parentCtx != nil {
			span.otelCtx, span.otelSpan = t.exporter.Start(parentCtx, service+"."+operation,
				attribute.String("service.component", service))
		}
	}
	trace.Spans = append(trace.Spans, span)
	return span.ID
}

// EndSpan closes a span. Unknown trace or span ids are no-ops.
func (t *Tracer) EndSpan(traceID, spanID string, status Status, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	trace, ok := t.traces[traceID]
	if !ok {
		return
	}
	for _, span := range trace.Spans {
		if span.ID == spanID && span.Status == StatusPending {
			span.EndTime = time.Now()
			span.Status = status
			if err != nil {
				span.Error = err.Error()
			}
			if span.otelSpan != nil {
				observability.EndSpan(span.otelSpan, statusError(status, err))
			}
			return
		}
	}
}

// GetTrace returns a copy of the trace, or nil when unknown.
func (t *Tracer) GetTrace(traceID string) *Trace {
	t.mu.RLock()
	defer t.mu.RUnlock()
	trace, ok := t.traces[traceID]
	if !ok {
		return nil
	}
	return copyTrace(trace)
}

// GetUserTraces returns up to limit traces for a user, newest first.
func (t *Tracer) GetUserTraces(userID string, limit int) []*Trace {
	t.mu.RLock()
	defer t.mu.RUnlock()

	found := make([]*Trace, 0)
	for i := len(t.order) - 1; i >= 0; i-- {
		trace, ok := t.traces[t.order[i]]
		if !ok || trace.UserID != userID {
			continue
		}
		found = append(found, copyTrace(trace))
		if limit > 0 && len(found) == limit {
			break
		}
	}
	return found
}

// GetSlowTraces returns up to limit closed traces at or above threshold,
// slowest first.
func (t *Tracer) GetSlowTraces(threshold time.Duration, limit int) []*Trace {
	closed := t.closedTraces()
	slow := make([]*Trace, 0)
	for _, trace := range closed {
		if trace.Duration() >= threshold {
			slow = append(slow, trace)
		}
	}
	sortTracesByDuration(slow)
	if limit > 0 && len(slow) > limit {
		slow = slow[:limit]
	}
	return slow
}

// GetFailedTraces returns up to limit error-status traces, newest first.
func (t *Tracer) GetFailedTraces(limit int) []*Trace {
	t.mu.RLock()
	defer t.mu.RUnlock()

	failed := make([]*Trace, 0)
	for i := len(t.order) - 1; i >= 0; i-- {
		trace, ok := t.traces[t.order[i]]
		if !ok || trace.Status != StatusError {
			continue
		}
		failed = append(failed, copyTrace(trace))
		if limit > 0 && len(failed) == limit {
			break
		}
	}
	return failed
}

func (t *Tracer) closedTraces() []*Trace {
	t.mu.RLock()
	defer t.mu.RUnlock()
	closed := make([]*Trace, 0, len(t.traces))
	for _, trace := range t.traces {
		if trace.Status != StatusPending {
			closed = append(closed, copyTrace(trace))
		}
	}
	return closed
}

func findSpan(trace *Trace, spanID string) *Span {
	if spanID == "" {
		return nil
	}
	for _, span := range trace.Spans {
		if span.ID == spanID {
			return span
		}
	}
	return nil
}

func copyTrace(trace *Trace) *Trace {
	out := *trace
	out.Spans = make([]*Span, len(trace.Spans))
	for i, span := range trace.Spans {
		copied := *span
		out.Spans[i] = &copied
	}
	return &out
}

func sortTracesByDuration(traces []*Trace) {
	sort.Slice(traces, func(i, j int) bool {
		return traces[i].Duration() > traces[j].Duration()
	})
}

func (t *Tracer) pruneLoop() {
	ticker := time.NewTicker(t.config.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.prune()
		}
	}
}

// prune evicts closed traces past the retention window. Open traces are
// never pruned by age alone.
func (t *Tracer) prune() {
	cutoff := time.Now().Add(-t.config.Retention)
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.order[:0]
	for _, id := range t.order {
		trace, ok := t.traces[id]
		if !ok {
			continue
		}
		if trace.Status != StatusPending && !trace.EndTime.IsZero() && trace.EndTime.Before(cutoff) {
			delete(t.traces, id)
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}
