package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/np-widget/backend/internal/config"
	"github.com/np-widget/backend/internal/observability"
	"github.com/np-widget/backend/internal/session"
)

// Query is the read side of the registry.
type Query interface {
	Snapshot() session.Snapshot
	Get(id session.ID) (*session.SessionRecord, bool)
}

type Server struct {
	cfg            config.ServerConfig
	query          Query
	broadcaster    *Broadcaster
	logger         *slog.Logger
	router         chi.Router
	httpServer     *http.Server
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	priorities     []string
	sourceName     string
	healthHook     func() ListenerHealth
}

func NewServer(cfg config.ServerConfig, query Query, broadcaster *Broadcaster, logger *slog.Logger) *Server {
	s := &Server{
		cfg:            cfg,
		query:          query,
		broadcaster:    broadcaster,
		logger:         observability.WithComponent(logger, "http"),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	s.router = s.routes()
	return s
}

// SetPriorities sets the source order used by /api/sessions/ordered.
func (s *Server) SetPriorities(p []string) { s.priorities = p }

// SetSourceName labels the active session source in health output.
func (s *Server) SetSourceName(name string) { s.sourceName = name }

// SetHealthHook installs the listener health provider.
func (s *Server) SetHealthHook(fn func() ListenerHealth) { s.healthHook = fn }

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Use(s.requireAuth)
		r.Get("/health", s.handleHealth)
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/ordered", s.handleOrdered)
		r.Get("/sessions/{id}", s.handleSession)
	})
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.WithError(s.logger, err).Debug("ws upgrade failed")
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		observability.WithError(s.logger, err).Warn("ws client rejected", slog.String("remote", r.RemoteAddr))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.logger.Info("ws client connected", slog.String("client_id", c.id), slog.String("remote", r.RemoteAddr))

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.logger.Info("ws client disconnected", slog.String("client_id", c.id))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.broadcaster.FilterSnapshot(s.query.Snapshot()))
}

func (s *Server) handleOrdered(w http.ResponseWriter, _ *http.Request) {
	snap := s.broadcaster.FilterSnapshot(s.query.Snapshot())
	writeJSON(w, http.StatusOK, session.SortByPriority(snap, s.priorities))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	raw, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	rec, ok := s.query.Get(session.ID(raw))
	f := s.broadcaster.filter()
	if !ok || !f.Allows(rec) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f.Apply(rec))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := HealthPayload{
		Status:   StatusHealthy,
		Source:   s.sourceName,
		Sessions: len(s.query.Snapshot()),
		Clients:  s.broadcaster.ClientCount(),
		Evicted:  s.broadcaster.Evicted(),
	}
	if s.healthHook != nil {
		lh := s.healthHook()
		h.Listener = &lh
		h.Relays = lh.Relays
		h.Status = lh.Status
	}
	code := http.StatusOK
	if h.Status == StatusFailed {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) authorize(r *http.Request) bool {
	token := s.cfg.AuthToken
	if token == "" {
		return true
	}

	if r.URL.Query().Get("token") == token {
		return true
	}

	if r.Header.Get("X-NP-Token") == token {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == token {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("address", s.cfg.Address()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("starting server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
