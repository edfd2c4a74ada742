package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/zhengjr9/foundry-agent/internal/config"
	"github.com/zhengjr9/foundry-agent/internal/conversation"
	"github.com/zhengjr9/foundry-agent/internal/httputil"
)

// Server is the conversation API HTTP server.
type Server struct {
	httpServer *http.Server
}

// New constructs a Server from the given config. client may be nil when
// Foundry is disabled.
func New(cfg *config.Config, client conversation.ChatClient) *Server {
	router := mux.NewRouter()
	router.Use(httputil.Recovery, httputil.Logging)

	router.Handle("/api/conversation", conversation.NewHandler(client, cfg.FoundryEnabled)).
		Methods(http.MethodPost)
	router.HandleFunc("/healthz", healthz(cfg)).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// Streams are bounded by the client's idle timeout, not a write deadline.
			IdleTimeout: 60 * time.Second,
		},
	}
}

func healthz(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":          "ok",
			"foundry_enabled": cfg.FoundryEnabled,
		})
	}
}

// Start begins listening and blocks until the server is stopped.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Handler returns the underlying http.Handler (for use in tests with httptest.NewServer).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
