// Package prompt assembles the system/user prompts and the bounded message
// list for one agent turn. Assembly is synchronous, nil-safe for every
// optional context field, and enforces a total character budget across the
// built messages: history is trimmed first (oldest turns dropped), then
// memory, then the tool catalog. The current user query is never trimmed.
package prompt

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/haasonsaas/operator/internal/orchestrator"
	"github.com/haasonsaas/operator/pkg/models"
)

// Context is the ephemeral input to one build call. Every field is optional;
// absent data is simply omitted from the output.
type Context struct {
	// Role is the user's role (admin, teacher, parent, ...).
	Role string

	// Tools is the catalog subset to describe in the system prompt.
	Tools []*orchestrator.Tool

	// Page describes where in the application the user currently is.
	Page string

	// Memory holds remembered snippets, oldest first.
	Memory []models.MemorySnippet

	// History holds prior conversation turns, oldest first.
	History []models.ConversationTurn

	// ToolResults holds results from tools already run this turn.
	ToolResults []orchestrator.ExecutionResult
}

// Config configures prompt assembly.
type Config struct {
	// Budget is the total character budget across all assembled messages.
	// Default: 4000.
	Budget int

	// MaxHistoryTurns bounds how many prior turns are kept. Truncation keeps
	// the most recent turns. Default: 10.
	MaxHistoryTurns int
}

// DefaultConfig returns the default prompt configuration.
func DefaultConfig() Config {
	return Config{
		Budget:          4000,
		MaxHistoryTurns: 10,
	}
}

// Builder assembles prompts. Safe for concurrent use; built system prompts
// are cached per role and section content.
type Builder struct {
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// maxCachedPrompts bounds the system prompt cache.
const maxCachedPrompts = 64

// NewBuilder creates a prompt builder. Zero config fields get defaults.
func NewBuilder(config Config) *Builder {
	if config.Budget <= 0 {
		config.Budget = 4000
	}
	if config.MaxHistoryTurns <= 0 {
		config.MaxHistoryTurns = 10
	}
	return &Builder{
		config: config,
		logger: slog.Default().With("component", "prompt"),
		cache:  make(map[string]string),
	}
}

// BuildSystemPrompt returns the system prompt for the given context. Always
// non-empty, even with a nil context.
func (b *Builder) BuildSystemPrompt(pc *Context) string {
	if pc == nil {
		pc = &Context{}
	}
	key := b.cacheKey(pc)
	b.mu.Lock()
	if cached, ok := b.cache[key]; ok {
		b.mu.Unlock()
		return cached
	}
	b.mu.Unlock()

	built := buildSystemPromptSections(pc, len(pc.Tools), len(pc.Memory))

	b.mu.Lock()
	if len(b.cache) >= maxCachedPrompts {
		// Simple reset keeps the cache bounded without an LRU list.
		b.cache = make(map[string]string)
	}
	b.cache[key] = built
	b.mu.Unlock()
	return built
}

// BuildUserPrompt returns the user prompt for a query. The query text is
// opaque: embedded markup, quotes, and newlines pass through untouched.
func (b *Builder) BuildUserPrompt(query string, pc *Context) string {
	var sb strings.Builder
	sb.WriteString(query)

	if pc != nil && len(pc.ToolResults) > 0 {
		sb.WriteString("\n\nResults from actions already taken:\n")
		for _, result := range pc.ToolResults {
			if result.Success {
				sb.WriteString(fmt.Sprintf("- %s: %v\n", result.ToolName, result.Result))
			} else {
				sb.WriteString(fmt.Sprintf("- %s: failed (%v)\n", result.ToolName, result.Err))
			}
		}
	}
	return sb.String()
}

// BuildMessages assembles the full message list for one turn: a system
// message, prior history in chronological order, then the user message.
// The result always has at least the system and user messages, and its
// total content length never exceeds the configured budget except when the
// system scaffold plus query alone exceed it.
func (b *Builder) BuildMessages(query string, pc *Context) []models.Message {
	if pc == nil {
		pc = &Context{}
	}

	userContent := b.BuildUserPrompt(query, pc)
	history := tailTurns(pc.History, b.config.MaxHistoryTurns)
	toolCount := len(pc.Tools)
	memoryCount := len(pc.Memory)

	for {
		system := buildSystemPromptSections(pc, toolCount, memoryCount)
		total := len(system) + len(userContent)
		for _, turn := range history {
			total += len(turn.Content)
		}
		if total <= b.config.Budget {
			return assemble(system, history, userContent)
		}

		// Over budget: drop the oldest history turn, then the oldest memory
		// snippet, then the last catalog entry. The query is never touched.
		switch {
		case len(history) > 0:
			history = history[1:]
		case memoryCount > 0:
			memoryCount--
		case toolCount > 0:
			toolCount--
		default:
			b.logger.Debug("prompt over budget with nothing left to trim",
				"budget", b.config.Budget, "total", total)
			return assemble(system, history, userContent)
		}
	}
}

func assemble(system string, history []models.ConversationTurn, user string) []models.Message {
	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: system})
	for _, turn := range history {
		role := turn.Role
		if role != models.RoleUser && role != models.RoleAssistant {
			role = models.RoleUser
		}
		messages = append(messages, models.Message{Role: role, Content: turn.Content})
	}
	messages = append(messages, models.Message{Role: models.RoleUser, Content: user})
	return messages
}

// tailTurns keeps the most recent maxTurns turns.
func tailTurns(history []models.ConversationTurn, maxTurns int) []models.ConversationTurn {
	if maxTurns <= 0 || len(history) <= maxTurns {
		return history
	}
	return history[len(history)-maxTurns:]
}

// buildSystemPromptSections renders the system prompt with the first
// toolCount catalog entries and the newest memoryCount snippets.
func buildSystemPromptSections(pc *Context, toolCount, memoryCount int) string {
	lines := make([]string, 0, 8)

	role := strings.TrimSpace(pc.Role)
	if role == "" {
		role = "user"
	}
	lines = append(lines, fmt.Sprintf("You are the platform assistant. You are talking to a %s.", role))

	if page := strings.TrimSpace(pc.Page); page != "" {
		lines = append(lines, fmt.Sprintf("Current page: %s.", page))
	}

	if toolCount > 0 && toolCount <= len(pc.Tools) {
		lines = append(lines, "Available actions:\n"+FormatToolsForPrompt(pc.Tools[:toolCount]))
	}

	if memoryCount > 0 && memoryCount <= len(pc.Memory) {
		newest := pc.Memory[len(pc.Memory)-memoryCount:]
		lines = append(lines, "Relevant context:\n"+FormatMemoryContext(newest))
	}

	lines = append(lines, "Answer in the user's language. When an action fits the request, use it instead of guessing.")
	lines = append(lines, "Be concise and direct; ask a clarifying question when the request is ambiguous.")

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// cacheKey derives a stable key from the context fields that affect the
// system prompt.
func (b *Builder) cacheKey(pc *Context) string {
	h := fnv.New64a()
	fmt.Fprint(h, pc.Role, "|", pc.Page, "|")
	for _, tool := range pc.Tools {
		fmt.Fprint(h, tool.Name, ",")
	}
	for _, snippet := range pc.Memory {
		fmt.Fprint(h, snippet.Content, ",")
	}
	return fmt.Sprintf("%s:%x", pc.Role, h.Sum64())
}
