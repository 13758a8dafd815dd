// Package models contains the shared data types exchanged between the
// runtime's components: chat messages and the prompt context fed into a turn.
package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single chat message in provider-neutral form.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MemorySnippet is one remembered fact supplied to the prompt builder.
type MemorySnippet struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationTurn is one prior exchange supplied to the prompt builder.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
