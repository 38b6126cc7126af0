// Package chat holds the conversation model (sessions, messages, settings)
// and its SQLite persistence. This is the narrow persistence boundary: only
// what is needed for "restart resumes prior conversations" is serialized.
package chat

import (
	"time"

	"codechat/internal/directive"

	"github.com/google/uuid"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry. Content is appended incrementally while
// an assistant message streams; Metadata is attached exactly once, from the
// final buffer, when the stream completes.
type Message struct {
	ID             string                       `json:"id"`
	SessionID      string                       `json:"sessionId"`
	Role           Role                         `json:"role"`
	Content        string                       `json:"content"`
	MentionedFiles []string                     `json:"mentionedFiles,omitempty"`
	Metadata       *directive.ParsedDirectives  `json:"metadata,omitempty"`
	CreatedAt      time.Time                    `json:"createdAt"`
}

// NewMessage returns a message with a fresh id and creation time.
func NewMessage(sessionID string, role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Session groups the messages of one conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSession returns a session with a fresh id.
func NewSession(title string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MentionedFile is a user-mentioned file resolved to its content for the
// upstream prompt.
type MentionedFile struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Language string `json:"language"`
}
