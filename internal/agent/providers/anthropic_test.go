package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/shopchat/internal/agent"
	"github.com/haasonsaas/shopchat/pkg/models"
)

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider failed: %v", err)
	}
	if p.defaultModel == "" || p.maxTokens == 0 || p.maxRetries == 0 {
		t.Error("defaults not applied")
	}
}

func TestConvertMessages(t *testing.T) {
	t.Run("system messages are filtered", func(t *testing.T) {
		out, err := convertMessages([]agent.CompletionMessage{
			{Role: "system", Content: "be helpful"},
			{Role: "user", Content: "hi"},
		})
		if err != nil {
			t.Fatalf("convertMessages failed: %v", err)
		}
		if len(out) != 1 {
			t.Fatalf("expected 1 message, got %d", len(out))
		}
		if out[0].Role != anthropic.MessageParamRoleUser {
			t.Errorf("role = %v", out[0].Role)
		}
	})

	t.Run("images become base64 blocks before text", func(t *testing.T) {
		out, err := convertMessages([]agent.CompletionMessage{{
			Role:    "user",
			Content: "what is this",
			Images:  []agent.ImageAttachment{{MediaType: "image/png", Data: "aGk="}},
		}})
		if err != nil {
			t.Fatalf("convertMessages failed: %v", err)
		}
		content := out[0].Content
		if len(content) != 2 {
			t.Fatalf("expected image and text blocks, got %d", len(content))
		}
		if content[0].OfImage == nil {
			t.Error("first block should be the image")
		}
		if content[1].OfText == nil || content[1].OfText.Text != "what is this" {
			t.Error("second block should be the text")
		}
	})

	t.Run("unsupported image media type is dropped", func(t *testing.T) {
		out, err := convertMessages([]agent.CompletionMessage{{
			Role:   "user",
			Images: []agent.ImageAttachment{{MediaType: "image/tiff", Data: "aGk="}},
		}})
		if err != nil {
			t.Fatalf("convertMessages failed: %v", err)
		}
		if len(out) != 0 {
			t.Errorf("message with only an unsupported image should vanish, got %d", len(out))
		}
	})

	t.Run("tool calls and results", func(t *testing.T) {
		out, err := convertMessages([]agent.CompletionMessage{
			{
				Role:      "assistant",
				ToolCalls: []models.ToolCall{{ID: "c1", Name: "searchProducts", Input: json.RawMessage(`{"query":"x"}`)}},
			},
			{
				Role:        "user",
				ToolResults: []models.ToolResult{{ToolCallID: "c1", Content: "[]"}},
			},
		})
		if err != nil {
			t.Fatalf("convertMessages failed: %v", err)
		}
		if len(out) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(out))
		}
		if out[0].Content[0].OfToolUse == nil {
			t.Error("assistant message should carry the tool_use block")
		}
		if out[1].Content[0].OfToolResult == nil {
			t.Error("user message should carry the tool_result block")
		}
	})

	t.Run("invalid tool call input", func(t *testing.T) {
		_, err := convertMessages([]agent.CompletionMessage{{
			Role:      "assistant",
			ToolCalls: []models.ToolCall{{ID: "c1", Name: "x", Input: json.RawMessage(`not json`)}},
		}})
		if err == nil {
			t.Error("expected error for unparseable tool input")
		}
	})
}

type schemaTool struct{ schema string }

func (s schemaTool) Name() string              { return "searchProducts" }
func (s schemaTool) Description() string       { return "finds products" }
func (s schemaTool) Schema() json.RawMessage   { return json.RawMessage(s.schema) }
func (s schemaTool) Execute(_ context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{}, nil
}

func TestConvertTools(t *testing.T) {
	tools, err := convertTools([]agent.Tool{schemaTool{schema: `{"type":"object","properties":{"query":{"type":"string"}}}`}})
	if err != nil {
		t.Fatalf("convertTools failed: %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatal("expected one converted tool")
	}
	if tools[0].OfTool.Name != "searchProducts" {
		t.Errorf("name = %q", tools[0].OfTool.Name)
	}
	if tools[0].OfTool.Description.Value != "finds products" {
		t.Errorf("description = %q", tools[0].OfTool.Description.Value)
	}

	if _, err := convertTools([]agent.Tool{schemaTool{schema: `{`}}); err == nil {
		t.Error("expected error for invalid schema")
	}
}

func TestImageMediaType(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"image/jpeg", true},
		{"image/jpg", true},
		{"IMAGE/PNG", true},
		{"image/webp", true},
		{"image/tiff", false},
		{"", false},
	}
	for _, tc := range cases {
		if _, ok := imageMediaType(tc.in); ok != tc.ok {
			t.Errorf("imageMediaType(%q) ok = %v, want %v", tc.in, ok, tc.ok)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(errors.New("request timeout")) {
		t.Error("timeout should be retryable")
	}
	if !isRetryable(errors.New("read: connection reset by peer")) {
		t.Error("connection reset should be retryable")
	}
	if isRetryable(errors.New("invalid request")) {
		t.Error("plain request error should not be retryable")
	}
}
