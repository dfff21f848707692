package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/shopchat/internal/render"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPongWait        = 45 * time.Second
	wsPingInterval    = 15 * time.Second
	wsWriteWait       = 10 * time.Second
)

// wsFrame is the wire envelope for WebSocket chat: the same turn frames
// the SSE endpoint emits, tagged with the event name.
type wsFrame struct {
	Event string    `json:"event"`
	Frame turnFrame `json:"frame"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// wsConn serializes writes; the turn sink and the ping loop share the
// underlying connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeFrame(event string, frame turnFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(wsFrame{Event: event, Frame: frame})
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// handleChatWS runs one turn per inbound chat request over a WebSocket.
// The connection stays open across turns.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer raw.Close()

	raw.SetReadLimit(wsMaxPayloadBytes)
	_ = raw.SetReadDeadline(time.Now().Add(wsPongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	conn := &wsConn{conn: raw}
	done := make(chan struct{})
	defer close(done)
	go s.wsPingLoop(conn, done)

	for {
		var req chatRequest
		if err := raw.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(wsPongWait))

		if len(req.Message.Parts) == 0 {
			s.wsSendError(conn, "message has no parts")
			continue
		}
		sess, err := s.resolveSession(r.Context(), req.SessionID)
		if err != nil {
			s.wsSendError(conn, err.Error())
			continue
		}

		s.runTurn(r.Context(), sess, req.Message.Parts, conn.writeFrame)
	}
}

func (s *Server) wsSendError(conn *wsConn, msg string) {
	if err := conn.writeFrame("error", turnFrame{Status: render.StatusErrored, Error: msg}); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}

func (s *Server) wsPingLoop(conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
