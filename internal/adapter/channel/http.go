// Package channel exposes the orchestrator over HTTP as a server-sent event stream.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
	"sparkie/internal/infra/metrics"
	"sparkie/internal/infra/middleware"
	"sparkie/internal/usecase"
)

// TurnHandler runs one chat turn, writing frames as they are produced.
type TurnHandler interface {
	Handle(ctx context.Context, turn usecase.Turn, w domain.FrameWriter) error
}

// HTTPDeps holds the server's collaborators.
type HTTPDeps struct {
	Config      config.ServerConfig
	Handler     TurnHandler
	Metrics     *metrics.Metrics // nil disables /metrics
	MetricsPath string
	Logger      *slog.Logger
}

// HTTPServer serves /api/v1/chat, /api/v1/health and optionally metrics.
type HTTPServer struct {
	cfg     config.ServerConfig
	turns   TurnHandler
	logger  *slog.Logger
	handler http.Handler

	server    *http.Server
	boundAddr string
	cancel    context.CancelFunc
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Message        string           `json:"message"`
	History        []historyMessage `json:"history,omitempty"`
	PreferredModel string           `json:"preferred_model,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPServer builds the server and its middleware chain. ctx bounds the
// rate limiter's background sweep.
func NewHTTPServer(ctx context.Context, deps HTTPDeps) *HTTPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &HTTPServer{cfg: deps.Config, turns: deps.Handler, logger: deps.Logger, cancel: cancel}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, deps.Metrics.Handler())
	}

	mws := []func(http.Handler) http.Handler{
		middleware.Recover(deps.Logger),
		middleware.SecurityHeaders,
		middleware.RequestID,
	}
	if rl := deps.Config.RateLimit; rl.Enabled {
		mws = append(mws, middleware.RateLimit(ctx, rl.PerMinute, rl.Burst))
	}
	s.handler = middleware.Chain(mux, mws...)
	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *HTTPServer) Handler() http.Handler { return s.handler }

// Addr is the bound listen address once Start has returned.
func (s *HTTPServer) Addr() string { return s.boundAddr }

// Start listens on the configured address and serves in the background.
func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.boundAddr = ln.Addr().String()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		s.logger.Info("http server started", "addr", s.boundAddr)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight streams until ctx expires.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body too large (max %d bytes)", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	turn, err := toTurn(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	sw := &sseWriter{w: w, flusher: flusher}
	stop := sw.keepalive(s.cfg.KeepaliveInterval)
	err = s.turns.Handle(ctx, turn, sw)
	stop()
	if err != nil {
		s.logger.WarnContext(ctx, "turn failed", "error", err, "user", turn.UserID)
	}
	if werr := sw.terminate(); werr != nil {
		s.logger.DebugContext(ctx, "stream closed by client", "error", werr)
	}
}

// toTurn validates the request body and attaches the caller identity.
func toTurn(ctx context.Context, req chatRequest) (usecase.Turn, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return usecase.Turn{}, errors.New("message is required")
	}
	history := make([]domain.Message, 0, len(req.History))
	for i, m := range req.History {
		switch m.Role {
		case domain.RoleUser, domain.RoleAssistant:
		default:
			return usecase.Turn{}, fmt.Errorf("history[%d]: role must be user or assistant", i)
		}
		if m.Content == "" {
			continue
		}
		history = append(history, domain.Message{Role: m.Role, Content: m.Content})
	}
	return usecase.Turn{
		UserID:         domain.UserIDFromContext(ctx),
		Message:        msg,
		History:        history,
		PreferredModel: strings.TrimSpace(req.PreferredModel),
	}, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// sseWriter frames events as "data: {json}\n\n". Writes are serialized so
// keepalive comments never interleave with a frame.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

func (s *sseWriter) WriteFrame(f domain.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.write("data: " + string(data) + "\n\n")
}

func (s *sseWriter) write(chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, err := fmt.Fprint(s.w, chunk); err != nil {
		s.err = err
		return err
	}
	s.flusher.Flush()
	return nil
}

// keepalive writes a comment line every interval until the returned stop
// function is called.
func (s *sseWriter) keepalive(interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if s.write(": keepalive\n\n") != nil {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *sseWriter) terminate() error {
	return s.write("data: " + domain.StreamTerminator + "\n\n")
}
