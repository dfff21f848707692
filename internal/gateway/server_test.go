package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/shopchat/internal/agent"
	"github.com/haasonsaas/shopchat/internal/relay"
	"github.com/haasonsaas/shopchat/internal/search"
	"github.com/haasonsaas/shopchat/internal/sessions"
	"github.com/haasonsaas/shopchat/pkg/models"
)

type stubRunner struct {
	events      []*agent.Event
	lastHistory []agent.CompletionMessage
	runErr      error
}

func (r *stubRunner) Run(_ context.Context, history []agent.CompletionMessage) (<-chan *agent.Event, error) {
	r.lastHistory = history
	if r.runErr != nil {
		return nil, r.runErr
	}
	ch := make(chan *agent.Event)
	go func() {
		defer close(ch)
		for _, ev := range r.events {
			ch <- ev
		}
	}()
	return ch, nil
}

type stubProducts struct {
	product *models.Product
	err     error
}

func (p *stubProducts) GetProduct(_ context.Context, id string) (*models.Product, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.product, nil
}

func newTestServer(t *testing.T, runner TurnRunner, products ProductGetter) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(Config{}, runner, sessions.NewMemoryStore(), relay.NewPointerStore(), products, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name  string
	frame turnFrame
}

func readSSE(t *testing.T, body []byte) []sseEvent {
	t.Helper()
	var out []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.frame); err != nil {
				t.Fatalf("bad frame payload: %v", err)
			}
		case line == "":
			if current.name != "" {
				out = append(out, current)
				current = sseEvent{}
			}
		}
	}
	return out
}

func postChat(t *testing.T, ts *httptest.Server, req chatRequest) []sseEvent {
	t.Helper()
	payload, _ := json.Marshal(req)
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /api/chat failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return readSSE(t, buf.Bytes())
}

func textMessage(text string) inboundMessage {
	return inboundMessage{Parts: []models.MessagePart{{Type: models.PartText, Text: text}}}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, &stubRunner{}, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestChatStreamsTextTurn(t *testing.T) {
	runner := &stubRunner{events: []*agent.Event{
		{TextDelta: "Here are "},
		{TextDelta: "some options."},
		{Done: true},
	}}
	_, ts := newTestServer(t, runner, nil)

	events := postChat(t, ts, chatRequest{Message: textMessage("find me sneakers")})
	if len(events) < 3 {
		t.Fatalf("expected at least 3 events, got %d", len(events))
	}

	final := events[len(events)-1]
	if final.name != "done" {
		t.Fatalf("expected terminal done event, got %q", final.name)
	}
	if got := final.frame.Parts[0].Text; got != "Here are some options." {
		t.Errorf("final text = %q", got)
	}
	if final.frame.SessionID == "" {
		t.Error("done frame should carry the session id")
	}

	first := events[0]
	if first.name != "parts" {
		t.Errorf("first event = %q, want parts", first.name)
	}
	if first.frame.Status != "streaming" {
		t.Errorf("first frame status = %q", first.frame.Status)
	}
}

func TestChatCumulativeParts(t *testing.T) {
	runner := &stubRunner{events: []*agent.Event{
		{TextDelta: "a"},
		{TextDelta: "b"},
		{Done: true},
	}}
	_, ts := newTestServer(t, runner, nil)

	events := postChat(t, ts, chatRequest{Message: textMessage("hi")})
	parts1 := events[0].frame.Parts
	parts2 := events[1].frame.Parts
	if parts1[0].Text != "a" || parts2[0].Text != "ab" {
		t.Errorf("frames are not cumulative: %q then %q", parts1[0].Text, parts2[0].Text)
	}
}

func TestChatAttachmentReachesModelAsToken(t *testing.T) {
	runner := &stubRunner{events: []*agent.Event{{Done: true}}}
	_, ts := newTestServer(t, runner, nil)

	postChat(t, ts, chatRequest{Message: inboundMessage{Parts: []models.MessagePart{
		{Type: models.PartText, Text: "find this"},
		{Type: models.PartFile, URL: "data:image/png;base64,Zm9v", MediaType: "image/png"},
	}}})

	if len(runner.lastHistory) != 1 {
		t.Fatalf("expected 1 history message, got %d", len(runner.lastHistory))
	}
	content := runner.lastHistory[0].Content
	if !strings.Contains(content, "image:") {
		t.Errorf("history should carry the attachment token directive, got %q", content)
	}
	if strings.Contains(content, "Zm9v") {
		t.Error("raw attachment payload must not ride in the text content")
	}

	images := runner.lastHistory[0].Images
	if len(images) != 1 {
		t.Fatalf("expected 1 vision attachment, got %d", len(images))
	}
	if images[0].MediaType != "image/png" || images[0].Data != "Zm9v" {
		t.Errorf("unexpected vision attachment %+v", images[0])
	}
}

func TestChatTurnError(t *testing.T) {
	runner := &stubRunner{events: []*agent.Event{
		{TextDelta: "partial"},
		{Err: errors.New("provider exploded")},
	}}
	_, ts := newTestServer(t, runner, nil)

	events := postChat(t, ts, chatRequest{Message: textMessage("hi")})
	final := events[len(events)-1]
	if final.name != "error" {
		t.Fatalf("expected terminal error event, got %q", final.name)
	}
	if final.frame.Status != "errored" {
		t.Errorf("status = %q", final.frame.Status)
	}
	if final.frame.Error == "" {
		t.Error("error frame should carry a message")
	}
	if strings.Contains(final.frame.Error, "exploded") {
		t.Error("internal error details must not leak to the client")
	}
	if len(final.frame.Parts) == 0 || final.frame.Parts[0].Text != "partial" {
		t.Error("error frame should keep the parts streamed so far")
	}
}

func TestChatToolLifecycleFrames(t *testing.T) {
	input := json.RawMessage(`{"query":"boots"}`)
	output := json.RawMessage(`[{"id":"p1","title":"Boot"}]`)
	runner := &stubRunner{events: []*agent.Event{
		{ToolPart: &models.MessagePart{Type: models.PartToolInvocation, ToolName: "searchProducts", ToolCallID: "c1", State: models.ToolCallPending, Input: input}},
		{ToolPart: &models.MessagePart{Type: models.PartToolInvocation, ToolName: "searchProducts", ToolCallID: "c1", State: models.ToolCallOutputAvailable, Input: input, Output: output}},
		{TextDelta: "Found a boot."},
		{Done: true},
	}}
	_, ts := newTestServer(t, runner, nil)

	events := postChat(t, ts, chatRequest{Message: textMessage("boots")})
	final := events[len(events)-1]
	if final.name != "done" {
		t.Fatalf("expected done, got %q", final.name)
	}
	parts := final.frame.Parts
	if len(parts) != 2 {
		t.Fatalf("expected tool part and text part, got %d parts", len(parts))
	}
	if parts[0].State != models.ToolCallOutputAvailable {
		t.Errorf("tool part should hold its final state, got %q", parts[0].State)
	}
	if parts[1].Text != "Found a boot." {
		t.Errorf("unexpected text %q", parts[1].Text)
	}
}

func TestChatLoaderFlag(t *testing.T) {
	input := json.RawMessage(`{"query":"x"}`)
	runner := &stubRunner{events: []*agent.Event{
		{ToolPart: &models.MessagePart{Type: models.PartToolInvocation, ToolName: "otherTool", ToolCallID: "c1", State: models.ToolCallPending, Input: input}},
		{TextDelta: "hello"},
		{Done: true},
	}}
	_, ts := newTestServer(t, runner, nil)

	events := postChat(t, ts, chatRequest{Message: textMessage("x")})
	if !events[0].frame.ShowLoader {
		t.Error("loader should show while nothing is renderable")
	}
	if events[1].frame.ShowLoader {
		t.Error("loader should hide once a block exists")
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	_, ts := newTestServer(t, &stubRunner{}, nil)

	t.Run("empty message", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(`{"message":{"parts":[]}}`))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		payload, _ := json.Marshal(chatRequest{SessionID: "missing", Message: textMessage("hi")})
		resp, err := http.Post(ts.URL+"/api/chat", "application/json", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}

func TestChatReusesSession(t *testing.T) {
	runner := &stubRunner{events: []*agent.Event{{TextDelta: "ok"}, {Done: true}}}
	srv, ts := newTestServer(t, runner, nil)

	events := postChat(t, ts, chatRequest{Message: textMessage("first")})
	sessionID := events[len(events)-1].frame.SessionID

	runner.events = []*agent.Event{{TextDelta: "again"}, {Done: true}}
	postChat(t, ts, chatRequest{SessionID: sessionID, Message: textMessage("second")})

	if len(runner.lastHistory) != 3 {
		t.Fatalf("expected 3 history messages (user, assistant, user), got %d", len(runner.lastHistory))
	}
	if runner.lastHistory[1].Role != "assistant" {
		t.Errorf("middle history message role = %q", runner.lastHistory[1].Role)
	}

	history, err := srv.store.GetHistory(context.Background(), sessionID, 0)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 4 {
		t.Errorf("expected 4 stored messages, got %d", len(history))
	}
}

func TestProductDetail(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		products := &stubProducts{product: &models.Product{ID: "p1", Title: "Boot"}}
		_, ts := newTestServer(t, &stubRunner{}, products)

		resp, err := http.Get(ts.URL + "/api/product/p1")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var product models.Product
		if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if product.Title != "Boot" {
			t.Errorf("title = %q", product.Title)
		}
	})

	t.Run("upstream 404 maps to 404", func(t *testing.T) {
		products := &stubProducts{err: &search.APIError{StatusCode: 404, Message: "nope"}}
		_, ts := newTestServer(t, &stubRunner{}, products)

		resp, err := http.Get(ts.URL + "/api/product/missing")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("upstream failure maps to 502", func(t *testing.T) {
		products := &stubProducts{err: fmt.Errorf("connection refused")}
		_, ts := newTestServer(t, &stubRunner{}, products)

		resp, err := http.Get(ts.URL + "/api/product/p1")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		_, ts := newTestServer(t, &stubRunner{}, nil)

		resp, err := http.Get(ts.URL + "/api/product/p1")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}

func TestSessionEndpoints(t *testing.T) {
	runner := &stubRunner{events: []*agent.Event{{TextDelta: "ok"}, {Done: true}}}
	_, ts := newTestServer(t, runner, nil)

	events := postChat(t, ts, chatRequest{Message: textMessage("hello")})
	sessionID := events[len(events)-1].frame.SessionID

	t.Run("list", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/sessions")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Sessions []models.Session `json:"sessions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Sessions) != 1 || body.Sessions[0].ID != sessionID {
			t.Errorf("unexpected sessions %+v", body.Sessions)
		}
	})

	t.Run("history", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/sessions/" + sessionID + "/messages")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Messages []models.Message `json:"messages"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Messages) != 2 {
			t.Errorf("expected user and assistant messages, got %d", len(body.Messages))
		}
	})

	t.Run("history of unknown session", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/sessions/missing/messages")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}
