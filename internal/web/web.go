package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"stinecal/internal/config"
	appLog "stinecal/internal/log"
	"stinecal/internal/pipeline"
)

// Server serves the last merged calendar and the state of the refresh loop.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	mu      sync.RWMutex
	last    *pipeline.Outcome
	lastErr error
	errAt   time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Update records the result of a refresh. A failed refresh keeps serving the
// previous calendar.
func (s *Server) Update(out pipeline.Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		s.errAt = time.Now()
		return
	}
	s.last = &out
	s.lastErr = nil
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="stinecal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs an HTTP server on cfg.Listen until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("/api/status", s.handleStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves the last merged calendar verbatim.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	if last == nil {
		http.Error(w, "calendar not available yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Last-Modified", last.FinishedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(last.Calendar))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Ready      bool      `json:"ready"`
	RunID      string    `json:"run_id,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Keys       []string  `json:"keys"`
	Persisted  []string  `json:"persisted"`
	HeaderKey  string    `json:"header_key,omitempty"`
	Events     int       `json:"events"`
	Duplicates int       `json:"duplicate_uids"`
	LastError  string    `json:"last_error,omitempty"`
	ErrorAt    time.Time `json:"error_at,omitzero"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := statusResponse{Keys: []string{}, Persisted: []string{}}
	if s.last != nil {
		resp.Ready = true
		resp.RunID = s.last.RunID
		resp.FinishedAt = s.last.FinishedAt
		if s.last.Keys != nil {
			resp.Keys = s.last.Keys
		}
		if s.last.Persisted != nil {
			resp.Persisted = s.last.Persisted
		}
		resp.HeaderKey = s.last.HeaderKey
		resp.Events = s.last.Summary.Events
		resp.Duplicates = s.last.Summary.DuplicateUIDs
	}
	if s.lastErr != nil {
		resp.LastError = s.lastErr.Error()
		resp.ErrorAt = s.errAt
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}
