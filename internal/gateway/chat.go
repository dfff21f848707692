package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/shopchat/internal/agent"
	"github.com/haasonsaas/shopchat/internal/relay"
	"github.com/haasonsaas/shopchat/internal/render"
	"github.com/haasonsaas/shopchat/pkg/models"
)

// chatRequest is the POST /api/chat body. A missing sessionId starts a
// new session.
type chatRequest struct {
	SessionID string         `json:"sessionId,omitempty"`
	Message   inboundMessage `json:"message"`
}

type inboundMessage struct {
	Parts []models.MessagePart `json:"parts"`
}

// turnFrame is one streamed update. The parts list is cumulative: every
// frame carries the whole turn so far, and the client re-renders from it.
type turnFrame struct {
	SessionID  string               `json:"sessionId"`
	Status     render.TurnStatus    `json:"status"`
	Parts      []models.MessagePart `json:"parts"`
	ShowLoader bool                 `json:"showLoader"`
	MessageID  string               `json:"messageId,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// frameSink delivers turn frames to one client. SSE and WebSocket each
// implement it over their transport.
type frameSink func(event string, frame turnFrame) error

// handleChat streams one turn as Server-Sent Events: "parts" frames while
// the turn is in flight, then a terminal "done" or "error" frame.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Message.Parts) == 0 {
		writeError(w, http.StatusBadRequest, "message has no parts")
		return
	}

	sess, err := s.resolveSession(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := func(event string, frame turnFrame) error {
		payload, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	s.runTurn(r.Context(), sess, req.Message.Parts, sink)
}

// resolveSession loads the named session or creates a fresh one.
func (s *Server) resolveSession(ctx context.Context, id string) (*models.Session, error) {
	if id != "" {
		sess, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("unknown session %s", id)
		}
		return sess, nil
	}
	sess := &models.Session{}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// runTurn executes one turn end to end: park attachments, replay history
// to the model, fold runtime events into the part list, and push a frame
// to the sink after every change.
func (s *Server) runTurn(ctx context.Context, sess *models.Session, parts []models.MessagePart, sink frameSink) {
	// Every return path cancels, so a runtime blocked on an event send
	// unblocks even when the client went away mid-stream.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	status := render.NewStatusMachine()
	status.Submit()
	if s.metrics != nil {
		s.metrics.ActiveTurns.Inc()
		defer s.metrics.ActiveTurns.Dec()
	}

	userMsg := &models.Message{
		SessionID: sess.ID,
		Role:      models.RoleUser,
		Parts:     parts,
		CreatedAt: time.Now(),
	}
	parked := len(parts)
	userMsg = relay.AugmentMessage(s.relay, userMsg)
	if s.metrics != nil && len(userMsg.Parts) > parked {
		s.metrics.RelayPuts.Add(float64(len(userMsg.Parts) - parked))
	}
	if err := s.store.AppendMessage(ctx, sess.ID, userMsg); err != nil {
		s.failTurn(sess.ID, status, sink, "failed to record message")
		return
	}

	history, err := s.completionHistory(ctx, sess.ID)
	if err != nil {
		s.failTurn(sess.ID, status, sink, "failed to load history")
		return
	}

	events, err := s.runner.Run(ctx, history)
	if err != nil {
		s.logger.Error("turn start failed", "session_id", sess.ID, "error", err)
		s.failTurn(sess.ID, status, sink, "failed to start turn")
		return
	}

	assembler := render.NewTurnAssembler()
	aggregator := render.NewAggregator()

	emit := func(event string, frame turnFrame) bool {
		if err := sink(event, frame); err != nil {
			s.logger.Debug("client went away", "session_id", sess.ID, "error", err)
			return false
		}
		return true
	}

	for ev := range events {
		switch {
		case ev.TextDelta != "":
			assembler.AppendTextDelta(ev.TextDelta)
		case ev.ToolPart != nil:
			assembler.UpsertToolPart(*ev.ToolPart)
		case ev.Err != nil:
			s.logger.Warn("turn failed", "session_id", sess.ID, "error", ev.Err)
			status.Fail(ev.Err.Error())
			emit("error", turnFrame{
				SessionID: sess.ID,
				Status:    status.Status(),
				Parts:     assembler.Parts(),
				Error:     "the assistant could not complete this turn",
			})
			return
		case ev.Done:
			status.Complete()
			assistantMsg := &models.Message{
				ID:        uuid.NewString(),
				SessionID: sess.ID,
				Role:      models.RoleAssistant,
				Parts:     assembler.Parts(),
				CreatedAt: time.Now(),
			}
			if err := s.store.AppendMessage(ctx, sess.ID, assistantMsg); err != nil {
				s.logger.Error("failed to persist assistant turn", "session_id", sess.ID, "error", err)
			}
			emit("done", turnFrame{
				SessionID: sess.ID,
				Status:    status.Status(),
				Parts:     assistantMsg.Parts,
				MessageID: assistantMsg.ID,
			})
			return
		}

		status.StreamStarted()
		model := aggregator.Build(assembler.Parts())
		if !emit("parts", turnFrame{
			SessionID:  sess.ID,
			Status:     status.Status(),
			Parts:      assembler.Parts(),
			ShowLoader: status.ShowLoader(model),
		}) {
			return
		}
	}

	// Channel closed without a terminal event.
	status.Fail("stream ended unexpectedly")
	emit("error", turnFrame{
		SessionID: sess.ID,
		Status:    status.Status(),
		Parts:     assembler.Parts(),
		Error:     "the assistant could not complete this turn",
	})
}

func (s *Server) failTurn(sessionID string, status *render.StatusMachine, sink frameSink, msg string) {
	status.Fail(msg)
	_ = sink("error", turnFrame{
		SessionID: sessionID,
		Status:    status.Status(),
		Error:     msg,
	})
}

// completionHistory converts stored messages into provider-neutral form.
// User attachments ride along as inline vision input, while the tool path
// sees only the token directives the relay appended, never the payload.
func (s *Server) completionHistory(ctx context.Context, sessionID string) ([]agent.CompletionMessage, error) {
	stored, err := s.store.GetHistory(ctx, sessionID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	history := make([]agent.CompletionMessage, 0, len(stored))
	for _, msg := range stored {
		cm := agent.CompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Text(),
		}
		if msg.Role == models.RoleUser {
			cm.Images = messageImages(msg.Parts)
		}
		if cm.Content == "" && len(cm.Images) == 0 {
			continue
		}
		history = append(history, cm)
	}
	return history, nil
}

// messageImages decodes the file parts of a user message into inline
// image attachments. Parts without an inline payload are skipped.
func messageImages(parts []models.MessagePart) []agent.ImageAttachment {
	var images []agent.ImageAttachment
	for _, part := range parts {
		if part.Type != models.PartFile {
			continue
		}
		payload := relay.DataURLPayload(part.URL)
		if payload == "" {
			continue
		}
		images = append(images, agent.ImageAttachment{
			MediaType: part.MediaType,
			Data:      payload,
		})
	}
	return images
}
