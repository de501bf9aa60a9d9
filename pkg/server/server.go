// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the orchestrator over HTTP.
//
// Routes:
//
//	GET    /health
//	GET    /.well-known/agent-card.json
//	GET    /a2a/agents/{agentType}/.well-known/agent-card.json
//	POST   /a2a/agents/{agentType}            JSON-RPC 2.0
//	GET    /api/agents/available
//	POST   /api/agents/execute
//	GET    /api/agents/tasks
//	GET    /api/agents/tasks/{taskID}
//	DELETE /api/agents/tasks/{taskID}
//	GET    /api/agents/stats
//	GET    /api/agents/health
//	*      /mcp                               MCP streamable HTTP
//	GET    /metrics                           when metrics are enabled
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/auth"
	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/mcpbridge"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/runtime"
)

// Server is the conductor HTTP server.
type Server struct {
	cfg       *config.Config
	orch      *orchestrator.Orchestrator
	registry  *agent.Registry
	obs       *observability.Manager
	validator auth.TokenValidator
	logger    *slog.Logger
	version   string

	dispatcher *protocol.Dispatcher
	handler    http.Handler
	inFlight   atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuthValidator enables bearer token authentication.
func WithAuthValidator(v auth.TokenValidator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

// WithVersion sets the version advertised in agent cards.
func WithVersion(v string) Option {
	return func(s *Server) {
		if v != "" {
			s.version = v
		}
	}
}

// New creates a server over the components of rt.
func New(cfg *config.Config, rt *runtime.Runtime, opts ...Option) (*Server, error) {
	if cfg == nil || rt == nil {
		return nil, fmt.Errorf("config and runtime are required")
	}

	s := &Server{
		cfg:      cfg,
		orch:     rt.Orchestrator(),
		registry: rt.Registry(),
		obs:      rt.Observability(),
		logger:   slog.Default(),
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	dispatcherOpts := []protocol.DispatcherOption{
		protocol.WithLogger(s.logger),
		protocol.WithTracer(s.obs.Tracer(observability.InstrumentationName)),
	}
	if m := s.obs.Metrics(); m != nil {
		dispatcherOpts = append(dispatcherOpts, protocol.WithMetrics(m))
	}
	s.dispatcher = protocol.NewDispatcher(s.orch, s.registry, dispatcherOpts...)

	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.trackInFlight)
	r.Use(s.logRequests)
	r.Use(observability.HTTPMiddleware(s.obs.Tracer(observability.InstrumentationName), s.obs.Metrics()))

	// Public.
	r.Get("/health", s.handleHealth)
	r.Get("/.well-known/agent-card.json", s.handleServiceCard)
	r.Get("/a2a/agents/{agentType}/.well-known/agent-card.json", s.handleAgentCard)
	if m := s.obs.Metrics(); m != nil {
		r.Handle(s.obs.MetricsPath(), m.Handler())
		s.logger.Info("Metrics endpoint enabled", "path", s.obs.MetricsPath())
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.validator))

		r.Post("/a2a/agents/{agentType}", s.handleJSONRPC)

		r.Route("/api/agents", func(r chi.Router) {
			r.Get("/available", s.handleAvailable)
			r.Post("/execute", s.handleExecute)
			r.Get("/tasks", s.handleListTasks)
			r.Get("/tasks/{taskID}", s.handleGetTask)
			r.Delete("/tasks/{taskID}", s.handleCancelTask)
			r.Get("/stats", s.handleStats)
			r.Get("/health", s.handleAgentsHealth)
			r.Get("/{agentType}/status", s.handleAgentStatus)
		})

		if s.cfg.MCP.IsEnabled() {
			bridge := mcpbridge.New(s.orch, s.registry,
				mcpbridge.WithLogger(s.logger),
				mcpbridge.WithVersion(s.version),
				mcpbridge.WithDefaultUser(s.cfg.MCP.DefaultUser),
				mcpbridge.WithUserResolver(auth.AuthenticatedUser))
			r.Handle(s.cfg.MCP.Path, bridge.Handler(s.cfg.MCP.Path))
			s.logger.Info("MCP bridge enabled", "path", s.cfg.MCP.Path)
		}
	})

	return r
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server listening", "address", ln.Addr().String(), "base_url", s.cfg.Server.ResolvedBaseURL())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		s.logger.Info("HTTP server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
