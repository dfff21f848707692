package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/shopchat/pkg/models"
)

// LLMProvider is the interface for model backends. Implementations must be
// safe for concurrent use; multiple turns may stream at once.
type LLMProvider interface {
	// Complete sends a request and returns a streaming response channel.
	// The channel is closed when the stream completes or fails.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string
}

// CompletionRequest is one model invocation: conversation history, system
// prompt, and the tools the model may call.
type CompletionRequest struct {
	Model     string              `json:"model,omitempty"`
	System    string              `json:"system,omitempty"`
	Messages  []CompletionMessage `json:"messages"`
	Tools     []Tool              `json:"-"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

// CompletionMessage is a single message in provider-neutral form.
// Role is "user" or "assistant"; tool results ride on user messages.
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Images      []ImageAttachment   `json:"images,omitempty"`
}

// ImageAttachment carries inline image data for vision-capable models.
type ImageAttachment struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64, no data-URL prefix
}

// CompletionChunk is one unit of a streaming model response.
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream completed successfully.
	Done bool `json:"done,omitempty"`

	// InputTokens and OutputTokens are populated on the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// Err terminates the stream when set.
	Err error `json:"-"`
}

// Tool is an executable capability the model may invoke.
type Tool interface {
	// Name returns the tool's registered name.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema of the tool's input object.
	Schema() json.RawMessage

	// Execute runs the tool. Domain failures are reported through
	// ToolResult.IsError; the error return is for infrastructure
	// problems only.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
