package domain

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleSystem is the system prompt.
	RoleSystem Role = "system"
	// RoleUser is the end user.
	RoleUser Role = "user"
	// RoleAssistant is the language model.
	RoleAssistant Role = "assistant"
	// RoleTool is a tool invocation result fed back to the model.
	RoleTool Role = "tool"
)

// Session is one conversation thread owned by a user.
// Deleting the user cascades to its sessions and turns.
type Session struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
}

// ConversationTurn is one persisted message within a session.
type ConversationTurn struct {
	SessionID string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Message is one entry of a completion request's message list.
// ToolCalls is set on assistant messages that request a tool; ToolCallID
// names the call a RoleTool message answers.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON as produced by the model
}

// ToolSpec declares a callable tool to the completion service.
// Parameters is a JSON Schema object describing the arguments.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Completion is the completion service's reply to one request.
type Completion struct {
	Content          string
	ToolCalls        []ToolCall
	PromptTokens     int64
	CompletionTokens int64
}
