// Package server exposes the solver node's HTTP API: the seven
// component endpoints, conversation and playbook management, health,
// capabilities and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solverhub/solver-node/internal/component"
	"github.com/solverhub/solver-node/internal/config"
	"github.com/solverhub/solver-node/internal/conversation"
	"github.com/solverhub/solver-node/internal/inference"
	"github.com/solverhub/solver-node/internal/logging"
	"github.com/solverhub/solver-node/internal/playbook"
	"github.com/solverhub/solver-node/internal/solutions"
)

// Server is the solver node's HTTP front end.
type Server struct {
	cfg           *config.Config
	runner        *component.Runner
	conversations *conversation.Store
	playbook      *playbook.Service
	engines       *inference.Router
	solutions     *solutions.Store
	httpServer    *http.Server
	logger        *slog.Logger
}

// Options carries the server's dependencies.
type Options struct {
	Config        *config.Config
	Runner        *component.Runner
	Conversations *conversation.Store
	Playbook      *playbook.Service
	Engines       *inference.Router
	Solutions     *solutions.Store
}

// New builds the server and its route table.
func New(opts Options) *Server {
	s := &Server{
		cfg:           opts.Config,
		runner:        opts.Runner,
		conversations: opts.Conversations,
		playbook:      opts.Playbook,
		engines:       opts.Engines,
		solutions:     opts.Solutions,
		logger:        logging.WithComponent("server"),
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Config.Server.Host, opts.Config.Server.Port),
		Handler:           s.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /capabilities", s.handleCapabilities)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /engines", s.handleEngines)

	for _, name := range []string{
		component.Complete,
		component.Refine,
		component.Feedback,
		component.HumanFeedback,
		component.InternetSearch,
		component.Summary,
		component.Aggregate,
	} {
		mux.HandleFunc("POST /"+name, s.componentHandler(name))
	}

	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("GET /conversations/{cid}", s.handleGetConversation)
	mux.HandleFunc("DELETE /conversations/{cid}", s.handleDeleteConversation)
	mux.HandleFunc("GET /playbook/{cid}", s.handleGetPlaybook)
	mux.HandleFunc("GET /playbook/{cid}/context", s.handleGetPlaybookContext)

	// Outermost wrapper runs first.
	var handler http.Handler = mux
	handler = s.withTimeout(handler)
	handler = s.withAuth(handler)
	handler = s.withRateLimit(handler)
	handler = s.withBodyLimit(handler)
	handler = s.withCORS(handler)
	handler = s.withObservability(handler)
	return handler
}

// Start begins serving. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr, "role", s.cfg.Node.Role)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent; nothing left to do.
		_ = err
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
