// Package api serves the chat front end: the outgoing-webhook endpoint the
// chat platform posts messages to, a websocket for live clients, and the
// operational routes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/eduparlema/llmproxy-chatbot/internal/buildinfo"
	"github.com/eduparlema/llmproxy-chatbot/internal/metrics"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 64 << 10

// Resolver answers one user message.
type Resolver interface {
	Resolve(ctx context.Context, userID, message string) (string, error)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP front end.
type Server struct {
	address     string
	port        int
	resolver    Resolver
	metrics     *metrics.Metrics
	metricsPath string
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	wsPongWait  time.Duration

	mu       sync.Mutex
	server   *http.Server
	shutdown bool

	// Websocket connections are hijacked, so http.Server.Shutdown does
	// not wait for them; wsBusy tracks which are mid-turn.
	wsMu       sync.Mutex
	wsBusy     map[*websocket.Conn]bool
	wsDraining bool
	wsWG       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m at path.
func WithMetrics(m *metrics.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsPath = path
	}
}

// NewServer creates a server that answers messages with resolver.
func NewServer(address string, port int, resolver Resolver, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		address:  address,
		port:     port,
		resolver: resolver,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		wsPongWait: wsPongWait,
		wsBusy:     make(map[*websocket.Conn]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)

	r.Post("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Post("/query", s.handleQuery)
	r.Get("/ws", s.handleWebsocket)
	if s.metrics != nil && s.metricsPath != "" {
		r.Method(http.MethodGet, s.metricsPath, s.metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"}, s.logger)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"}, s.logger)
	})
	return r
}

// Start serves until the server is shut down. It returns nil after a
// clean Shutdown, including one that happened before Start.
//
// Request contexts keep ctx's values but not its cancellation: cancelling
// ctx does not abort in-flight turns, Shutdown drains them.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	base := context.WithoutCancel(ctx)
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.address, strconv.Itoa(s.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // turns can run several tool calls
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv := s.server
	s.mu.Unlock()

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests,
// websocket turns included, to finish or ctx to expire. A later Start returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.server
	s.mu.Unlock()
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	return errors.Join(err, s.drainWebsockets(ctx))
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/health" || r.URL.Path == s.metricsPath {
			return
		}
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"text": "Hello from Jumbo - you reached the main page!",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

// QueryRequest is the outgoing-webhook payload.
type QueryRequest struct {
	UserName string `json:"user_name"`
	Text     string `json:"text"`
	Bot      bool   `json:"bot"`
}

// QueryResponse is the reply delivered back to the chat platform.
type QueryResponse struct {
	Text string `json:"text"`
}

// userID returns the user the message belongs to.
func (q QueryRequest) userID() string {
	if q.UserName == "" {
		return "Unknown"
	}
	return q.UserName
}

// ignored reports messages that must not reach the agent: messages from
// bots (including this one) and empty messages.
func (q QueryRequest) ignored() bool {
	return q.Bot || strings.TrimSpace(q.Text) == ""
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()}, s.logger)
		return
	}

	if req.ignored() {
		s.metrics.Turn(metrics.OutcomeIgnored, 0)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"}, s.logger)
		return
	}

	text, err := s.resolver.Resolve(r.Context(), req.userID(), req.Text)
	if err != nil {
		s.logger.Warn("query abandoned", "user", req.userID(), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Text: text}, s.logger)
}
