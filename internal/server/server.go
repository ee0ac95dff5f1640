package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/gusto/internal/app"
)

// Server manages the HTTP server and routes
type Server struct {
	app          *app.App
	router       *http.ServeMux
	server       *http.Server
	legacySunset string
}

// New creates a new HTTP server with the given app
func New(application *app.App) *Server {
	s := &Server{
		app:          application,
		legacySunset: formatSunset(application.Config.Server.LegacySunset),
	}

	// Setup routes
	s.router = s.setupRoutes()

	// Create HTTP server. WriteTimeout stays at zero: assistant streams
	// hold the response open for up to the configured stream timeout and
	// manage their own deadlines.
	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withConditionalMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// formatSunset converts the configured legacy sunset date into the
// HTTP-date form RFC 8594 expects. An unparseable value is passed
// through untouched rather than silently dropping the header.
func formatSunset(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return raw
	}
	return t.UTC().Format(http.TimeFormat)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Addr returns the address the server is configured to listen on.
func (s *Server) Addr() string {
	return s.server.Addr
}
