// Package models holds the chat and task data types shared by the agents,
// the task service and the HTTP layer.
package models

import "time"

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one turn in a conversation.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewAssistantMessage wraps content as an assistant turn.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Message string `json:"message"`
}

// Task is a single to-do item managed by the task service.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskCreate holds the fields needed to create a new task.
type TaskCreate struct {
	Title       string `json:"title" jsonschema_description:"Short title of the task"`
	Description string `json:"description,omitempty" jsonschema_description:"Optional longer description"`
}

// TaskUpdate holds a partial update; nil fields are left unchanged.
type TaskUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}
