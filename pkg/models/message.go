package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType discriminates the variants of a MessagePart.
type PartType string

const (
	PartText           PartType = "text"
	PartFile           PartType = "file"
	PartToolInvocation PartType = "tool-invocation"
)

// ToolCallState describes how far a tool invocation has progressed.
// Parts move pending -> input-available -> output-available (or output-error).
type ToolCallState string

const (
	ToolCallPending         ToolCallState = "pending"
	ToolCallInputAvailable  ToolCallState = "input-available"
	ToolCallOutputAvailable ToolCallState = "output-available"
	ToolCallOutputError     ToolCallState = "output-error"
)

// MessagePart is one fragment of a message: free text, a file attachment,
// or a tool invocation at some lifecycle state. Parts are ordered; arrival
// order within a turn is significant and preserved end to end.
type MessagePart struct {
	Type PartType `json:"type"`

	// Text content, set when Type is PartText.
	Text string `json:"text,omitempty"`

	// File attachment fields, set when Type is PartFile.
	// URL is typically a data-URL carrying the payload inline.
	URL       string `json:"url,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Filename  string `json:"filename,omitempty"`

	// Tool invocation fields, set when Type is PartToolInvocation.
	ToolName   string          `json:"toolName,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	State      ToolCallState   `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
}

// Message is one conversational message: a user prompt or an assistant turn.
type Message struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id,omitempty"`
	Role      Role          `json:"role"`
	Parts     []MessagePart `json:"parts"`
	CreatedAt time.Time     `json:"created_at"`
}

// Text concatenates the message's text parts. Convenience for callers that
// only care about the prose content (LLM history, logging).
func (m *Message) Text() string {
	var out string
	for _, part := range m.Parts {
		if part.Type == PartText {
			out += part.Text
		}
	}
	return out
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Session represents one conversation thread. History lives only for the
// lifetime of the process; there is no durable persistence layer.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
