package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/meshdrift/meshdrift/internal/history"
	"github.com/meshdrift/meshdrift/internal/pipeline"
	"github.com/meshdrift/meshdrift/internal/store"
)

// Deps holds the services the API routes over.
type Deps struct {
	Store     *store.Store
	Queue     *pipeline.Queue
	Scheduler *pipeline.Scheduler
	History   *history.Tracker
	Version   string
}

// Server wraps the HTTP server and mux for the meshdrift API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates an API server wired with all routes.
func NewServer(port int, adminToken string, apiMaxBodyBytes int64, deps Deps) *Server {
	return NewServerWithAddress("", port, adminToken, apiMaxBodyBytes, deps)
}

// NewServerWithAddress creates an API server with an explicit listen address.
func NewServerWithAddress(listenAddress string, port int, adminToken string, apiMaxBodyBytes int64, deps Deps) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz(deps.Version))

	// Authenticated routes
	authed := http.NewServeMux()

	// Snapshots.
	authed.Handle("GET /api/v1/tenants/{tenant}/snapshots", HandleListSnapshots(deps.Store))
	authed.Handle("GET /api/v1/tenants/{tenant}/snapshots/{id}", HandleGetSnapshot(deps.Store))
	authed.Handle("DELETE /api/v1/tenants/{tenant}/snapshots/{id}", HandleDeleteSnapshot(deps.Store))

	// Drift.
	authed.Handle("GET /api/v1/tenants/{tenant}/drift/recent", HandleRecentDrift(deps.Store))
	authed.Handle("GET /api/v1/tenants/{tenant}/drift/feed", HandleDriftFeed(deps.History))
	authed.Handle("GET /api/v1/tenants/{tenant}/drift/events/{id}", HandleGetDriftEvent(deps.Store))
	authed.Handle("GET /api/v1/tenants/{tenant}/drift/events/{id}/feedback", HandleListEventFeedback(deps.Store))
	authed.Handle("POST /api/v1/tenants/{tenant}/actions/run-drift", HandleRunDrift(deps.Queue))
	authed.Handle("POST /api/v1/tenants/{tenant}/actions/build-snapshot", HandleBuildSnapshot(deps.Scheduler))

	// Memory.
	authed.Handle("POST /api/v1/tenants/{tenant}/feedback", HandleSubmitFeedback(deps.Store))
	authed.Handle("GET /api/v1/tenants/{tenant}/whitelist", HandleListWhitelist(deps.Store))
	authed.Handle("PUT /api/v1/tenants/{tenant}/whitelist", HandleAddWhitelist(deps.Store))
	authed.Handle("DELETE /api/v1/tenants/{tenant}/whitelist/{source}/{destination}", HandleRemoveWhitelist(deps.Store))

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(adminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
