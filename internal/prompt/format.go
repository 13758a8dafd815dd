package prompt

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/operator/internal/orchestrator"
	"github.com/haasonsaas/operator/pkg/models"
)

// FormatToolsForPrompt renders a tool catalog as one line per tool.
func FormatToolsForPrompt(tools []*orchestrator.Tool) string {
	if len(tools) == 0 {
		return ""
	}
	lines := make([]string, 0, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		line := fmt.Sprintf("- %s: %s", tool.Name, tool.Description)
		if len(tool.Capabilities) > 0 {
			line += fmt.Sprintf(" [%s]", strings.Join(tool.Capabilities, ", "))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// FormatMemoryContext renders memory snippets, oldest first, with dates.
func FormatMemoryContext(snippets []models.MemorySnippet) string {
	if len(snippets) == 0 {
		return ""
	}
	lines := make([]string, 0, len(snippets))
	for _, snippet := range snippets {
		content := strings.TrimSpace(snippet.Content)
		if content == "" {
			continue
		}
		if snippet.Timestamp.IsZero() {
			lines = append(lines, "- "+content)
		} else {
			lines = append(lines, fmt.Sprintf("- [%s] %s", snippet.Timestamp.Format("2006-01-02"), content))
		}
	}
	return strings.Join(lines, "\n")
}

// FormatConversationHistory renders prior turns as "role: content" lines.
// When maxTurns > 0 only the most recent maxTurns turns are kept.
func FormatConversationHistory(history []models.ConversationTurn, maxTurns int) string {
	kept := tailTurns(history, maxTurns)
	if len(kept) == 0 {
		return ""
	}
	lines := make([]string, 0, len(kept))
	for _, turn := range kept {
		role := string(turn.Role)
		if role == "" {
			role = string(models.RoleUser)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, turn.Content))
	}
	return strings.Join(lines, "\n")
}
