package agent

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/haasonsaas/shopchat/pkg/models"
)

// scriptedProvider replays one chunk script per Complete call.
type scriptedProvider struct {
	scripts [][]*CompletionChunk
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, _ *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.calls >= len(p.scripts) {
		return nil, errors.New("no script for call")
	}
	script := p.scripts[p.calls]
	p.calls++

	chunks := make(chan *CompletionChunk)
	go func() {
		defer close(chunks)
		for _, c := range script {
			chunks <- c
		}
	}()
	return chunks, nil
}

func collectEvents(t *testing.T, events <-chan *Event) []*Event {
	t.Helper()
	var out []*Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestRuntimeTextOnlyTurn(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{{Text: "Hello"}, {Text: " there"}, {Done: true}},
	}}
	rt := NewRuntime(provider, NewToolRegistry(), Options{})

	events, err := rt.Run(context.Background(), []CompletionMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collectEvents(t, events)

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].TextDelta != "Hello" || got[1].TextDelta != " there" {
		t.Errorf("unexpected text deltas: %+v", got[:2])
	}
	if !got[2].Done {
		t.Error("expected final Done event")
	}
}

func TestRuntimeToolLoop(t *testing.T) {
	input := json.RawMessage(`{"query":"red shoes"}`)
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "call-1", Name: "echo", Input: input}},
			{Done: true},
		},
		{{Text: "Found them."}, {Done: true}},
	}}

	reg := NewToolRegistry()
	reg.Register(echoTool{})
	rt := NewRuntime(provider, reg, Options{})

	events, err := rt.Run(context.Background(), []CompletionMessage{{Role: "user", Content: "find red shoes"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collectEvents(t, events)

	var states []models.ToolCallState
	for _, ev := range got {
		if ev.ToolPart != nil {
			if ev.ToolPart.ToolCallID != "call-1" {
				t.Errorf("tool part has wrong call ID %q", ev.ToolPart.ToolCallID)
			}
			states = append(states, ev.ToolPart.State)
		}
	}
	want := []models.ToolCallState{
		models.ToolCallPending,
		models.ToolCallInputAvailable,
		models.ToolCallOutputAvailable,
	}
	if len(states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, states)
		}
	}

	final := got[len(got)-1]
	if !final.Done {
		t.Error("expected turn to finish with Done")
	}
	if provider.calls != 2 {
		t.Errorf("expected 2 provider calls, got %d", provider.calls)
	}

	var sawText bool
	for _, ev := range got {
		if ev.TextDelta == "Found them." {
			sawText = true
		}
	}
	if !sawText {
		t.Error("expected follow-up text after tool result")
	}
}

func TestRuntimeToolErrorBecomesOutputErrorPart(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "call-1", Name: "missing", Input: json.RawMessage(`{}`)}},
			{Done: true},
		},
		{{Text: "Sorry."}, {Done: true}},
	}}
	rt := NewRuntime(provider, NewToolRegistry(), Options{})

	events, err := rt.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collectEvents(t, events)

	var errorPart *models.MessagePart
	for _, ev := range got {
		if ev.ToolPart != nil && ev.ToolPart.State == models.ToolCallOutputError {
			errorPart = ev.ToolPart
		}
	}
	if errorPart == nil {
		t.Fatal("expected an output-error tool part")
	}
	if errorPart.ErrorText == "" {
		t.Error("expected error text on the failed part")
	}
	if !got[len(got)-1].Done {
		t.Error("turn should still complete after a tool failure")
	}
}

func TestRuntimeProviderStreamError(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{{Text: "partial"}, {Err: errors.New("upstream closed")}},
	}}
	rt := NewRuntime(provider, NewToolRegistry(), Options{})

	events, err := rt.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collectEvents(t, events)

	final := got[len(got)-1]
	if final.Err == nil {
		t.Fatal("expected final event to carry the stream error")
	}
}

func TestRuntimeIterationBudget(t *testing.T) {
	toolTurn := []*CompletionChunk{
		{ToolCall: &models.ToolCall{ID: "c", Name: "echo", Input: json.RawMessage(`{}`)}},
		{Done: true},
	}
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{toolTurn, toolTurn, toolTurn}}

	reg := NewToolRegistry()
	reg.Register(echoTool{})
	rt := NewRuntime(provider, reg, Options{MaxIterations: 2})

	events, err := rt.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collectEvents(t, events)

	if provider.calls != 2 {
		t.Errorf("expected 2 provider calls under budget 2, got %d", provider.calls)
	}
	if !got[len(got)-1].Done {
		t.Error("expected Done when the iteration budget runs out")
	}
}

// floodingProvider streams text chunks until its context is cancelled.
type floodingProvider struct{}

func (p *floodingProvider) Name() string { return "flooding" }

func (p *floodingProvider) Complete(ctx context.Context, _ *CompletionRequest) (<-chan *CompletionChunk, error) {
	chunks := make(chan *CompletionChunk)
	go func() {
		defer close(chunks)
		for {
			select {
			case <-ctx.Done():
				return
			case chunks <- &CompletionChunk{Text: "x"}:
			}
		}
	}()
	return chunks, nil
}

func TestRuntimeAbandonedTurnReleasesGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	rt := NewRuntime(&floodingProvider{}, NewToolRegistry(), Options{})
	events, err := rt.Run(ctx, []CompletionMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Consume one event, then walk away from the channel like a
	// disconnected client.
	<-events
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("goroutines leaked after abandoning the turn: %d before, %d after", before, runtime.NumGoroutine())
}

func TestRawOrQuoted(t *testing.T) {
	if got := string(rawOrQuoted(`{"a":1}`)); got != `{"a":1}` {
		t.Errorf("valid JSON should pass through, got %s", got)
	}
	if got := string(rawOrQuoted("plain text")); got != `"plain text"` {
		t.Errorf("plain text should be quoted, got %s", got)
	}
}
