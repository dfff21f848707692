// Package gateway is the HTTP surface of the shopping assistant: chat
// streaming over SSE and WebSocket, product detail lookup, session
// endpoints, health and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/shopchat/internal/agent"
	"github.com/haasonsaas/shopchat/internal/observability"
	"github.com/haasonsaas/shopchat/internal/relay"
	"github.com/haasonsaas/shopchat/internal/search"
	"github.com/haasonsaas/shopchat/internal/sessions"
	"github.com/haasonsaas/shopchat/pkg/models"
)

// TurnRunner drives one conversational turn. *agent.Runtime implements it.
type TurnRunner interface {
	Run(ctx context.Context, history []agent.CompletionMessage) (<-chan *agent.Event, error)
}

// ProductGetter fetches one product's detail record. *search.Client
// implements it.
type ProductGetter interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

// Config configures the gateway server.
type Config struct {
	Host string
	Port int

	// HistoryLimit caps how many stored messages are replayed to the
	// model per turn. Non-positive means all of them.
	HistoryLimit int
}

// Server wires the chat endpoints to the agent runtime, session store,
// and attachment relay.
type Server struct {
	cfg      Config
	runner   TurnRunner
	store    sessions.Store
	relay    *relay.PointerStore
	products ProductGetter
	metrics  *observability.Metrics
	logger   *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// New creates a gateway server. products may be nil; the product detail
// endpoint then returns 503. metrics may be nil to disable instrumentation.
func New(cfg Config, runner TurnRunner, store sessions.Store, relayStore *relay.PointerStore, products ProductGetter, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		runner:   runner,
		store:    store,
		relay:    relayStore,
		products: products,
		metrics:  metrics,
		logger:   logger.With("component", "gateway"),
	}
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)
	mux.HandleFunc("GET /api/product/{id}", s.handleProduct)
	mux.HandleFunc("GET /api/sessions", s.handleSessionList)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleSessionHistory)
	return mux
}

// Start begins serving. It returns once the listener is bound; serving
// continues in the background until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", addr)
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound listen address, useful when Port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	if s.products == nil {
		writeError(w, http.StatusServiceUnavailable, "product lookup is not configured")
		return
	}
	id := r.PathValue("id")

	product, err := s.products.GetProduct(r.Context(), id)
	if err != nil {
		var apiErr *search.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Warn("product detail fetch failed", "product_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "product lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	opts := sessions.ListOptions{}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}

	list, err := s.store.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("session list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	if _, err := s.store.Get(r.Context(), id); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	history, err := s.store.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("history fetch failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
