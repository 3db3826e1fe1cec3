package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options configures the HTTP server.
type Options struct {
	Port           int
	AllowedOrigins []string
	// RequestTimeout bounds every route except the chat stream.
	RequestTimeout time.Duration
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	srv    *http.Server
}

func New(opts Options, logger *slog.Logger, h *Handler) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "agent-relay-gateway")
	})

	// The chat stream stays open for as long as the agent and the retry
	// policy need, so it is mounted outside the request timeout.
	r.Post("/chat", h.Chat)

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(opts.RequestTimeout))
		r.Get("/healthz", h.Health)
		r.Post("/init-session", h.InitSession)
		r.Post("/check-report", h.CheckReport)
		r.Get("/get-report/{sessionId}", h.GetReport)
		r.Get("/preview-report/{sessionId}", h.PreviewReport)
	})

	return &Server{
		Router: r,
		Port:   opts.Port,
		logger: logger,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until Shutdown is called. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests,
// open chat streams included, until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.srv.Shutdown(ctx)
}
