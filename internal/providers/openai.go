// Package providers adapts external completion APIs to the runtime's
// provider boundary. Adapters convert messages, relay the upstream stream,
// and nothing else; business logic stays out.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/operator/internal/runtime"
	"github.com/haasonsaas/operator/pkg/models"
)

// OpenAI streams chat completions from the OpenAI API. Safe for concurrent
// use; each Complete call owns an independent stream and goroutine.
type OpenAI struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAI creates an OpenAI provider. An empty API key defers failure to
// the first Complete call.
func NewOpenAI(apiKey string) *OpenAI {
	p := &OpenAI{
		maxRetries: 3,
		retryDelay: time.Second,
	}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

// Name returns the stable provider identifier used in spans and metrics.
func (p *OpenAI) Name() string { return "openai" }

// Complete opens a streaming chat completion and returns the chunk channel.
// Transient upstream failures are retried with linear backoff before the
// stream starts; errors mid-stream arrive as a chunk with Err set.
func (p *OpenAI) Complete(ctx context.Context, req *runtime.CompletionRequest) (<-chan runtime.CompletionChunk, error) {
	if p.client == nil {
		return nil, errors.New("openai: api key not configured")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	var upstream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		upstream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !retryable(lastErr) {
			return nil, fmt.Errorf("openai: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: retries exhausted: %w", lastErr)
	}

	chunks := make(chan runtime.CompletionChunk)
	go relayOpenAI(ctx, upstream, chunks)
	return chunks, nil
}

func relayOpenAI(ctx context.Context, upstream *openai.ChatCompletionStream, chunks chan<- runtime.CompletionChunk) {
	defer close(chunks)
	defer upstream.Close()

	var promptTokens, completionTokens int64
	for {
		if ctx.Err() != nil {
			sendChunk(ctx, chunks, runtime.CompletionChunk{Err: ctx.Err(), Done: true})
			return
		}

		response, err := upstream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				sendChunk(ctx, chunks, runtime.CompletionChunk{
					Done:             true,
					PromptTokens:     promptTokens,
					CompletionTokens: completionTokens,
				})
				return
			}
			sendChunk(ctx, chunks, runtime.CompletionChunk{Err: err, Done: true})
			return
		}

		// The usage-bearing chunk arrives last with an empty choice list.
		if response.Usage != nil {
			promptTokens = int64(response.Usage.PromptTokens)
			completionTokens = int64(response.Usage.CompletionTokens)
		}
		if len(response.Choices) == 0 {
			continue
		}
		if text := response.Choices[0].Delta.Content; text != "" {
			if !sendChunk(ctx, chunks, runtime.CompletionChunk{Text: text}) {
				return
			}
		}
	}
}

// sendChunk delivers c unless the request context ends first. The consumer
// stops receiving when it abandons an aborted turn; without the context case
// the relay goroutine would block on the send forever.
func sendChunk(ctx context.Context, chunks chan<- runtime.CompletionChunk, c runtime.CompletionChunk) bool {
	select {
	case chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// toOpenAIMessages maps internal messages onto the OpenAI wire format.
// System messages ride in the messages array, OpenAI style.
func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return out
}

// retryable reports whether an upstream error is worth retrying: rate
// limits, 5xx, and timeouts.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
