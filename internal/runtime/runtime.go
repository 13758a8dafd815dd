// Package runtime drives one agent turn end to end: open a trace, run the
// capability-matched tools, assemble the prompt, stream the completion
// provider's answer to the caller, and record usage. The monitors are
// fire-and-forget sinks; nothing here blocks on them beyond an in-memory
// append.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/operator/internal/observability"
	"github.com/haasonsaas/operator/internal/orchestrator"
	"github.com/haasonsaas/operator/internal/perf"
	"github.com/haasonsaas/operator/internal/prompt"
	"github.com/haasonsaas/operator/internal/stream"
	"github.com/haasonsaas/operator/internal/tokens"
	"github.com/haasonsaas/operator/internal/tracing"
	"github.com/haasonsaas/operator/pkg/models"
)

// CompletionRequest is the input to the external completion provider.
type CompletionRequest struct {
	Model     string
	MaxTokens int
	Messages  []models.Message
}

// CompletionChunk is one streamed increment from a provider. Text chunks
// arrive in order; the final chunk has Done set and may carry token counts.
type CompletionChunk struct {
	Text             string
	Done             bool
	Err              error
	PromptTokens     int64
	CompletionTokens int64
}

// CompletionProvider is the boundary to the external model. Complete returns
// immediately with a channel the provider closes when the stream ends.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (<-chan CompletionChunk, error)
}

// Config holds per-runtime defaults for provider calls.
type Config struct {
	// Model passed to the completion provider.
	Model string

	// MaxTokens caps the provider's output. 0 leaves it to the provider.
	MaxTokens int
}

// Runtime executes agent turns. All collaborators are injected; the runtime
// owns none of their lifecycles.
type Runtime struct {
	prompts  *prompt.Builder
	exec     *orchestrator.Orchestrator
	provider CompletionProvider
	perf     *perf.Monitor
	tracer   *tracing.Tracer
	tokens   *tokens.Monitor
	metrics  *observability.Metrics
	config   Config
	logger   *slog.Logger
}

// New creates a runtime. The perf, tracer, and tokens monitors and the
// Prometheus metrics may be nil; instrumentation is then skipped.
func New(prompts *prompt.Builder, exec *orchestrator.Orchestrator, provider CompletionProvider,
	perfMon *perf.Monitor, tracer *tracing.Tracer, tokenMon *tokens.Monitor,
	metrics *observability.Metrics, config Config) *Runtime {
	return &Runtime{
		prompts:  prompts,
		exec:     exec,
		provider: provider,
		perf:     perfMon,
		tracer:   tracer,
		tokens:   tokenMon,
		metrics:  metrics,
		config:   config,
		logger:   slog.Default().With("component", "runtime"),
	}
}

// TurnRequest is one inbound user turn.
type TurnRequest struct {
	UserID         string                    `json:"user_id,omitempty"`
	ConversationID string                    `json:"conversation_id,omitempty"`
	Query          string                    `json:"query"`
	Role           string                    `json:"role,omitempty"`
	Page           string                    `json:"page,omitempty"`
	Capabilities   []string                  `json:"capabilities,omitempty"`
	Memory         []models.MemorySnippet    `json:"memory,omitempty"`
	History        []models.ConversationTurn `json:"history,omitempty"`
	Args           map[string]any            `json:"args,omitempty"`
}

// Turn runs one agent turn and streams the answer into sink. The sink
// always receives a terminal frame: done on success, error on failure.
// Returned errors are turn-fatal; tool failures are not (they surface as
// tool_call_error events and degraded tool results instead).
func (r *Runtime) Turn(ctx context.Context, req TurnRequest, sink *stream.Stream) (err error) {
	started := time.Now()
	traceID := r.startTrace(req.UserID)
	ctx = observability.WithTraceID(ctx, traceID)
	finishTurn := r.startTimer("runtime", "turn")

	// Root span; every stage span below is parented under it.
	turnSpan := r.startSpan(traceID, "", "runtime", "turn")

	status := tracing.StatusSuccess
	defer func() {
		if err != nil {
			status = tracing.StatusError
		}
		r.endSpan(traceID, turnSpan, status, err)
		r.endTrace(traceID, status)
		finishTurn(err == nil, map[string]any{"user_id": req.UserID})
		if r.metrics != nil {
			label := "success"
			if err != nil {
				label = "error"
			}
			r.metrics.TurnDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
		}
	}()

	tools := r.exec.Registry().SelectTools(req.Capabilities)

	results, err := r.runTools(ctx, traceID, turnSpan, tools, req.Args, sink)
	if err != nil {
		sink.SendError(err)
		return fmt.Errorf("tool execution: %w", err)
	}

	messages := r.buildMessages(traceID, turnSpan, req, tools, results)

	answer, err := r.streamCompletion(ctx, traceID, turnSpan, messages, sink)
	if err != nil {
		sink.SendError(err)
		return err
	}

	r.recordUsage(req, messages, answer)
	sink.Close("")
	return nil
}

// runTools executes the selected tools, wiring each call into a trace span,
// a perf metric, and the tool_call_* stream events. A narration frame ahead
// of execution tells the client which tools are about to run.
func (r *Runtime) runTools(ctx context.Context, traceID, turnSpan string, tools []*orchestrator.Tool,
	args map[string]any, sink *stream.Stream) ([]orchestrator.ExecutionResult, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	sink.SendEvent("tool_narration", map[string]any{
		"message": fmt.Sprintf("Running %d tools: %s", len(tools), strings.Join(names, ", ")),
		"tools":   names,
	})

	var mu sync.Mutex
	spans := make(map[string]string, len(tools))

	emit := func(ev orchestrator.Event) {
		switch ev.Type {
		case orchestrator.EventToolStarted:
			spanID := r.startSpan(traceID, turnSpan, "tool-orchestrator", ev.Tool)
			mu.Lock()
			spans[ev.Tool] = spanID
			mu.Unlock()
			sink.SendEvent("tool_call_start", map[string]any{
				"tool":  ev.Tool,
				"index": ev.Index,
			})

		case orchestrator.EventToolCompleted:
			mu.Lock()
			spanID := spans[ev.Tool]
			mu.Unlock()
			r.endSpan(traceID, spanID, tracing.StatusSuccess, nil)
			r.recordMetric(perf.Metric{
				Service:   "tool-orchestrator",
				Operation: ev.Tool,
				Duration:  ev.Duration,
				Success:   true,
			})
			if r.metrics != nil {
				r.metrics.ObserveToolExecution(ev.Tool, "success", ev.Duration)
			}
			sink.SendEvent("tool_call_complete", map[string]any{
				"tool":        ev.Tool,
				"index":       ev.Index,
				"duration_ms": ev.Duration.Milliseconds(),
			})

		default: // failed or timeout
			mu.Lock()
			spanID := spans[ev.Tool]
			mu.Unlock()
			r.endSpan(traceID, spanID, tracing.StatusError, ev.Err)
			r.recordMetric(perf.Metric{
				Service:   "tool-orchestrator",
				Operation: ev.Tool,
				Duration:  ev.Duration,
				Success:   false,
			})
			if r.metrics != nil {
				result := "error"
				if ev.Type == orchestrator.EventToolTimeout {
					result = "timeout"
				}
				r.metrics.ObserveToolExecution(ev.Tool, result, ev.Duration)
			}
			payload := map[string]any{"tool": ev.Tool, "index": ev.Index}
			if ev.Err != nil {
				payload["error"] = ev.Err.Error()
			}
			sink.SendEvent("tool_call_error", payload)
		}
	}

	return r.exec.ExecuteTools(ctx, tools, args, emit)
}

// buildMessages assembles the bounded message list, timed as its own span.
func (r *Runtime) buildMessages(traceID, turnSpan string, req TurnRequest, tools []*orchestrator.Tool,
	results []orchestrator.ExecutionResult) []models.Message {
	spanID := r.startSpan(traceID, turnSpan, "prompt-builder", "build_messages")
	finish := r.startTimer("prompt-builder", "build_messages")

	messages := r.prompts.BuildMessages(req.Query, &prompt.Context{
		Role:        req.Role,
		Tools:       tools,
		Page:        req.Page,
		Memory:      req.Memory,
		History:     req.History,
		ToolResults: results,
	})

	finish(true, nil)
	r.endSpan(traceID, spanID, tracing.StatusSuccess, nil)
	return messages
}

// streamCompletion relays the provider's stream into sink and returns the
// accumulated answer. Provider failures and sink write failures are both
// turn-fatal.
func (r *Runtime) streamCompletion(ctx context.Context, traceID, turnSpan string,
	messages []models.Message, sink *stream.Stream) (ans answer, err error) {
	started := time.Now()
	spanID := r.startSpan(traceID, turnSpan, r.provider.Name(), "complete")
	finish := r.startTimer(r.provider.Name(), "complete")
	defer func() {
		if err != nil {
			r.endSpan(traceID, spanID, tracing.StatusError, err)
			finish(false, nil)
		} else {
			r.endSpan(traceID, spanID, tracing.StatusSuccess, nil)
			finish(true, nil)
		}
		r.observeCompletion(time.Since(started), ans)
	}()

	chunks, err := r.provider.Complete(ctx, &CompletionRequest{
		Model:     r.config.Model,
		MaxTokens: r.config.MaxTokens,
		Messages:  messages,
	})
	if err != nil {
		return ans, fmt.Errorf("completion provider: %w", err)
	}

	sink.SendEvent("answer_start", map[string]any{})

	for chunk := range chunks {
		if chunk.Err != nil {
			return ans, fmt.Errorf("completion stream: %w", chunk.Err)
		}
		if chunk.Text != "" {
			ans.Text += chunk.Text
			if sendErr := sink.Send(stream.Chunk{
				Name:    "message",
				Payload: map[string]any{"content": chunk.Text},
			}); sendErr != nil {
				return ans, sendErr
			}
		}
		if chunk.PromptTokens > 0 {
			ans.PromptTokens = chunk.PromptTokens
		}
		if chunk.CompletionTokens > 0 {
			ans.CompletionTokens = chunk.CompletionTokens
		}
	}
	return ans, nil
}

// answer is the accumulated provider output for one turn.
type answer struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
}

// recordUsage appends the turn's token usage. Counts come from the provider
// when reported, otherwise a character-based approximation.
func (r *Runtime) recordUsage(req TurnRequest, messages []models.Message, a answer) {
	if r.tokens == nil {
		return
	}
	usage := tokens.Usage{
		PromptTokens:     a.PromptTokens,
		CompletionTokens: a.CompletionTokens,
		UserID:           req.UserID,
		ConversationID:   req.ConversationID,
		RequestType:      "chat",
	}
	if usage.PromptTokens == 0 {
		var chars int
		for _, msg := range messages {
			chars += len(msg.Content)
		}
		usage.PromptTokens = approximateTokens(chars)
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = approximateTokens(len(a.Text))
	}
	r.tokens.RecordUsage(usage)
}

// approximateTokens estimates token count from character count. Four
// characters per token is the usual rough figure for English text.
func approximateTokens(chars int) int64 {
	return int64(chars+3) / 4
}

func (r *Runtime) startTrace(userID string) string {
	if r.tracer == nil {
		return ""
	}
	return r.tracer.StartTrace(userID)
}

func (r *Runtime) endTrace(traceID string, status tracing.Status) {
	if r.tracer != nil {
		r.tracer.EndTrace(traceID, status)
	}
}

func (r *Runtime) startSpan(traceID, parentSpanID, service, operation string) string {
	if r.tracer == nil {
		return ""
	}
	return r.tracer.StartSpan(traceID, service, operation, parentSpanID, nil)
}

func (r *Runtime) endSpan(traceID, spanID string, status tracing.Status, err error) {
	if r.tracer != nil {
		r.tracer.EndSpan(traceID, spanID, status, err)
	}
}

func (r *Runtime) startTimer(service, operation string) func(bool, map[string]any) {
	if r.perf == nil {
		return func(bool, map[string]any) {}
	}
	return r.perf.StartTimer(service, operation)
}

func (r *Runtime) recordMetric(metric perf.Metric) {
	if r.perf != nil {
		r.perf.Record(metric)
	}
}

// observeCompletion mirrors one provider call into Prometheus: request
// latency plus any token counts the provider reported.
func (r *Runtime) observeCompletion(elapsed time.Duration, a answer) {
	if r.metrics == nil {
		return
	}
	name := r.provider.Name()
	r.metrics.LLMRequestDuration.WithLabelValues(name, r.config.Model).Observe(elapsed.Seconds())
	if a.PromptTokens > 0 {
		r.metrics.LLMTokensUsed.WithLabelValues(name, r.config.Model, "prompt").Add(float64(a.PromptTokens))
	}
	if a.CompletionTokens > 0 {
		r.metrics.LLMTokensUsed.WithLabelValues(name, r.config.Model, "completion").Add(float64(a.CompletionTokens))
	}
}
