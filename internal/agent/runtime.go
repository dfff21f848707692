// Package agent provides the tool-loop runtime for the shopping assistant:
// an LLM provider abstraction, a tool registry, and an orchestration loop
// that streams text and tool-invocation lifecycle events for one turn.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/shopchat/internal/observability"
	"github.com/haasonsaas/shopchat/pkg/models"
)

// MaxResponseTextSize caps accumulated response text per turn (1MB),
// protecting against runaway model output.
const MaxResponseTextSize = 1 << 20

// defaultMaxIterations bounds the model/tool round trips in one turn.
const defaultMaxIterations = 8

// Event is one unit of a streamed turn, delivered in order. Exactly one
// field group is set per event.
type Event struct {
	// TextDelta is a fragment of assistant text.
	TextDelta string

	// ToolPart reports a tool invocation entering a new lifecycle state.
	// Events for one invocation share a ToolCallID.
	ToolPart *models.MessagePart

	// Done signals successful turn completion. The channel closes after.
	Done bool

	// Err signals turn failure. The channel closes after.
	Err error
}

// Options configures a Runtime.
type Options struct {
	// System is the system prompt for every turn.
	System string

	// Model overrides the provider's default model when set.
	Model string

	// MaxTokens bounds each model response.
	MaxTokens int

	// MaxIterations bounds model/tool round trips per turn.
	MaxIterations int

	// Logger receives runtime diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *observability.Metrics
}

// Runtime drives one conversational turn: it streams the model, executes
// requested tools, feeds results back, and repeats until the model stops
// calling tools or the iteration budget runs out.
type Runtime struct {
	provider LLMProvider
	tools    *ToolRegistry
	opts     Options
	logger   *slog.Logger
}

// NewRuntime creates a runtime for the given provider and options.
func NewRuntime(provider LLMProvider, tools *ToolRegistry, opts Options) *Runtime {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		provider: provider,
		tools:    tools,
		opts:     opts,
		logger:   logger.With("component", "agent"),
	}
}

// Tools returns the runtime's tool registry.
func (r *Runtime) Tools() *ToolRegistry {
	return r.tools
}

// Run streams one turn for the given conversation history. The returned
// channel is closed after a Done or Err event. Cancelling ctx aborts the
// turn.
func (r *Runtime) Run(ctx context.Context, history []CompletionMessage) (<-chan *Event, error) {
	events := make(chan *Event)
	go func() {
		defer close(events)
		r.run(ctx, history, events)
	}()
	return events, nil
}

func (r *Runtime) run(ctx context.Context, history []CompletionMessage, events chan<- *Event) {
	turnID := uuid.NewString()
	logger := r.logger.With("turn_id", turnID)

	messages := make([]CompletionMessage, len(history))
	copy(messages, history)

	textBudget := MaxResponseTextSize

	for iter := 0; iter < r.opts.MaxIterations; iter++ {
		chunks, err := r.provider.Complete(ctx, &CompletionRequest{
			Model:     r.opts.Model,
			System:    r.opts.System,
			Messages:  messages,
			Tools:     r.tools.Tools(),
			MaxTokens: r.opts.MaxTokens,
		})
		if err != nil {
			r.countLLM("error")
			r.emit(ctx, events, &Event{Err: err})
			return
		}

		var assistantText string
		var toolCalls []models.ToolCall
		failed := false
		for chunk := range chunks {
			if chunk.Err != nil {
				r.countLLM("error")
				r.emit(ctx, events, &Event{Err: chunk.Err})
				failed = true
				break
			}
			if chunk.Text != "" {
				if len(assistantText)+len(chunk.Text) > textBudget {
					logger.Warn("response text budget exceeded, truncating turn")
					failed = true
					break
				}
				assistantText += chunk.Text
				if !r.emit(ctx, events, &Event{TextDelta: chunk.Text}) {
					failed = true
					break
				}
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
				ok := r.emit(ctx, events, &Event{ToolPart: &models.MessagePart{
					Type:       models.PartToolInvocation,
					ToolName:   chunk.ToolCall.Name,
					ToolCallID: chunk.ToolCall.ID,
					State:      models.ToolCallPending,
					Input:      chunk.ToolCall.Input,
				}})
				if !ok {
					failed = true
					break
				}
			}
		}
		if failed {
			// Leaving the loop early abandons the provider's channel;
			// drain it so the provider goroutine can finish and exit.
			go func() {
				for range chunks {
				}
			}()
			return
		}
		r.countLLM("success")
		textBudget -= len(assistantText)

		if len(toolCalls) == 0 {
			r.emit(ctx, events, &Event{Done: true})
			return
		}

		messages = append(messages, CompletionMessage{
			Role:      "assistant",
			Content:   assistantText,
			ToolCalls: toolCalls,
		})

		results := make([]models.ToolResult, 0, len(toolCalls))
		for _, call := range toolCalls {
			results = append(results, r.executeTool(ctx, logger, call, events))
		}
		messages = append(messages, CompletionMessage{Role: "user", ToolResults: results})
	}

	logger.Warn("turn hit iteration budget", "max_iterations", r.opts.MaxIterations)
	r.emit(ctx, events, &Event{Done: true})
}

// emit delivers one event to the consumer. It gives up, returning false,
// once ctx is cancelled, so an abandoned turn never blocks the runtime
// goroutine on an unread channel.
func (r *Runtime) emit(ctx context.Context, events chan<- *Event, ev *Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// executeTool runs one tool call, emitting input-available before
// execution and output-available (or output-error) after.
func (r *Runtime) executeTool(ctx context.Context, logger *slog.Logger, call models.ToolCall, events chan<- *Event) models.ToolResult {
	r.emit(ctx, events, &Event{ToolPart: &models.MessagePart{
		Type:       models.PartToolInvocation,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		State:      models.ToolCallInputAvailable,
		Input:      call.Input,
	}})

	start := time.Now()
	result, err := r.tools.Execute(ctx, call.Name, call.Input)
	if err != nil {
		result = &ToolResult{Content: err.Error(), IsError: true}
	}
	elapsed := time.Since(start)

	part := models.MessagePart{
		Type:       models.PartToolInvocation,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Input:      call.Input,
	}
	if result.IsError {
		logger.Warn("tool execution failed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"elapsed", elapsed,
			"error", result.Content,
		)
		r.countTool(call.Name, "error")
		part.State = models.ToolCallOutputError
		part.ErrorText = result.Content
	} else {
		logger.Info("tool executed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"elapsed", elapsed,
		)
		r.countTool(call.Name, "success")
		part.State = models.ToolCallOutputAvailable
		part.Output = rawOrQuoted(result.Content)
	}
	r.emit(ctx, events, &Event{ToolPart: &part})

	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    result.Content,
		IsError:    result.IsError,
	}
}

// rawOrQuoted passes valid JSON through untouched and wraps anything else
// as a JSON string, so part outputs are always valid JSON.
func rawOrQuoted(content string) json.RawMessage {
	if json.Valid([]byte(content)) {
		return json.RawMessage(content)
	}
	quoted, err := json.Marshal(content)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return json.RawMessage(quoted)
}

func (r *Runtime) countLLM(status string) {
	if r.opts.Metrics == nil {
		return
	}
	model := r.opts.Model
	if model == "" {
		model = "default"
	}
	r.opts.Metrics.LLMRequests.WithLabelValues(r.provider.Name(), model, status).Inc()
}

func (r *Runtime) countTool(name, status string) {
	if r.opts.Metrics == nil {
		return
	}
	r.opts.Metrics.ToolExecutions.WithLabelValues(name, status).Inc()
}
