package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/operator/internal/orchestrator"
	"github.com/haasonsaas/operator/pkg/models"
)

func TestBuildMessages_NilContext(t *testing.T) {
	b := NewBuilder(DefaultConfig())

	messages := b.BuildMessages("hello there", nil)
	if len(messages) < 2 {
		t.Fatalf("expected at least system + user, got %d messages", len(messages))
	}
	if messages[0].Role != models.RoleSystem || messages[0].Content == "" {
		t.Errorf("first message must be a non-empty system message: %+v", messages[0])
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleUser || !strings.Contains(last.Content, "hello there") {
		t.Errorf("last message must be the user query: %+v", last)
	}
}

func TestBuildMessages_HistoryInterleavedChronologically(t *testing.T) {
	b := NewBuilder(DefaultConfig())

	pc := &Context{
		History: []models.ConversationTurn{
			{Role: models.RoleUser, Content: "first question"},
			{Role: models.RoleAssistant, Content: "first answer"},
		},
	}
	messages := b.BuildMessages("second question", pc)

	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	if messages[1].Content != "first question" || messages[2].Content != "first answer" {
		t.Errorf("history out of order: %+v", messages[1:3])
	}
}

func TestBuildMessages_BudgetTrimsHistoryBeforeQuery(t *testing.T) {
	b := NewBuilder(Config{Budget: 600, MaxHistoryTurns: 50})

	history := make([]models.ConversationTurn, 20)
	for i := range history {
		history[i] = models.ConversationTurn{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("turn %02d %s", i, strings.Repeat("x", 80)),
		}
	}
	query := "the current question"
	messages := b.BuildMessages(query, &Context{History: history})

	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	if total > 600 {
		t.Errorf("budget exceeded: %d chars", total)
	}

	last := messages[len(messages)-1]
	if !strings.Contains(last.Content, query) {
		t.Error("query must never be trimmed")
	}

	// Trimming drops the oldest turns; whatever history survives must be
	// the most recent turns.
	if len(messages) > 2 {
		kept := messages[1 : len(messages)-1]
		if !strings.Contains(kept[len(kept)-1].Content, "turn 19") {
			t.Errorf("most recent turn should survive trimming, kept tail: %q", kept[len(kept)-1].Content)
		}
	}
}

func TestBuildMessages_HostileQueryPassesThrough(t *testing.T) {
	b := NewBuilder(DefaultConfig())

	query := "<script>alert('hi')</script>\n\"quoted\"\nline"
	messages := b.BuildMessages(query, &Context{})
	last := messages[len(messages)-1]
	if !strings.Contains(last.Content, query) {
		t.Error("query text must pass through untouched")
	}
}

func TestBuildSystemPrompt_SectionsAndCache(t *testing.T) {
	b := NewBuilder(DefaultConfig())

	pc := &Context{
		Role: "teacher",
		Page: "enrollment dashboard",
		Tools: []*orchestrator.Tool{
			{Name: "lookup_student", Description: "find a student record", Capabilities: []string{"query"}},
		},
		Memory: []models.MemorySnippet{
			{Content: "prefers short answers", Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		},
	}

	first := b.BuildSystemPrompt(pc)
	for _, want := range []string{"teacher", "enrollment dashboard", "lookup_student", "prefers short answers"} {
		if !strings.Contains(first, want) {
			t.Errorf("system prompt missing %q:\n%s", want, first)
		}
	}

	second := b.BuildSystemPrompt(pc)
	if first != second {
		t.Error("identical context should hit the cache and return identical output")
	}
}

func TestBuildSystemPrompt_EmptyContextStillNonEmpty(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	if got := b.BuildSystemPrompt(nil); got == "" {
		t.Error("system prompt must never be empty")
	}
	if got := b.BuildSystemPrompt(&Context{}); got == "" {
		t.Error("system prompt must never be empty for empty context")
	}
}

func TestFormatConversationHistory_KeepsTail(t *testing.T) {
	history := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "one"},
		{Role: models.RoleAssistant, Content: "two"},
		{Role: models.RoleUser, Content: "three"},
	}

	got := FormatConversationHistory(history, 2)
	if strings.Contains(got, "one") {
		t.Error("oldest turn should be dropped")
	}
	if !strings.Contains(got, "two") || !strings.Contains(got, "three") {
		t.Errorf("tail should be kept: %q", got)
	}

	if all := FormatConversationHistory(history, 0); !strings.Contains(all, "one") {
		t.Error("maxTurns 0 keeps everything")
	}
}

func TestFormatHelpers_EmptyInputs(t *testing.T) {
	if got := FormatToolsForPrompt(nil); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
	if got := FormatMemoryContext(nil); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
	if got := FormatConversationHistory(nil, 5); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestBuildUserPrompt_IncludesToolResults(t *testing.T) {
	b := NewBuilder(DefaultConfig())

	pc := &Context{
		ToolResults: []orchestrator.ExecutionResult{
			{ToolName: "lookup_student", Success: true, Result: "Zhang Wei, class 3"},
		},
	}
	got := b.BuildUserPrompt("who is in class 3?", pc)
	if !strings.Contains(got, "lookup_student") || !strings.Contains(got, "Zhang Wei") {
		t.Errorf("tool results missing from user prompt: %q", got)
	}
}
