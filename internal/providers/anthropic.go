package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/operator/internal/runtime"
	"github.com/haasonsaas/operator/pkg/models"
)

const defaultAnthropicMaxTokens = 1024

// Anthropic streams messages from the Anthropic API. Safe for concurrent
// use.
type Anthropic struct {
	client     anthropic.Client
	configured bool
}

// NewAnthropic creates an Anthropic provider. An empty API key defers
// failure to the first Complete call.
func NewAnthropic(apiKey string) *Anthropic {
	p := &Anthropic{}
	if apiKey != "" {
		p.client = anthropic.NewClient(option.WithAPIKey(apiKey))
		p.configured = true
	}
	return p
}

// Name returns the stable provider identifier used in spans and metrics.
func (p *Anthropic) Name() string { return "anthropic" }

// Complete opens a streaming message request and returns the chunk channel.
func (p *Anthropic) Complete(ctx context.Context, req *runtime.CompletionRequest) (<-chan runtime.CompletionChunk, error) {
	if !p.configured {
		return nil, errors.New("anthropic: api key not configured")
	}

	system, messages := splitSystem(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	upstream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan runtime.CompletionChunk)
	go relayAnthropic(ctx, upstream, chunks)
	return chunks, nil
}

func relayAnthropic(ctx context.Context, upstream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- runtime.CompletionChunk) {
	defer close(chunks)
	defer upstream.Close()

	var promptTokens, completionTokens int64
	for upstream.Next() {
		event := upstream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			promptTokens = start.Message.Usage.InputTokens

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				if !sendChunk(ctx, chunks, runtime.CompletionChunk{Text: delta.Text}) {
					return
				}
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				completionTokens = delta.Usage.OutputTokens
			}

		case "message_stop":
			sendChunk(ctx, chunks, runtime.CompletionChunk{
				Done:             true,
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
			})
			return
		}
	}

	if err := upstream.Err(); err != nil {
		sendChunk(ctx, chunks, runtime.CompletionChunk{Err: fmt.Errorf("anthropic stream: %w", err), Done: true})
	}
}

// splitSystem separates the system prompt from conversational messages.
// Anthropic takes the system prompt as a top-level parameter, not a message.
func splitSystem(messages []models.Message) (string, []anthropic.MessageParam) {
	var system string
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system, out
}
