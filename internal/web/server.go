// Package web provides the HTTP surface of the TuneWave backend: the
// sync endpoints driven by the mobile client, read endpoints for the
// derived artifacts, and the OAuth redirect flow.
package web

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr     string
	Handlers *Handlers
	Logger   *zap.Logger
}

// Server is the HTTP server for the backend API.
type Server struct {
	router chi.Router
	server *http.Server
	log    *zap.Logger
}

// NewServer creates the HTTP server and wires all routes.
func NewServer(cfg ServerConfig) *Server {
	router := chi.NewRouter()

	s := &Server{
		router: router,
		log:    cfg.Logger,
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(cfg.Logger))
	router.Use(middleware.Recoverer)

	h := cfg.Handlers
	router.Get("/healthz", h.Health)

	router.Route("/auth", func(r chi.Router) {
		r.Get("/login", h.Login)
		r.Get("/callback", h.Callback)
	})

	router.Route("/api", func(r chi.Router) {
		r.Post("/spotify/profile", h.SyncProfile)
		r.Post("/spotify/top-tracks", h.SyncTopTracks)
		r.Post("/spotify/top-artists", h.SyncTopArtists)
		r.Post("/spotify/recently-played", h.SyncRecentlyPlayed)

		r.Get("/feed", h.Feed)
		r.Get("/stats/daily", h.DailyStats)
		r.Get("/top-tracks", h.TopTracks)
		r.Get("/top-artists", h.TopArtists)
	})

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router exposes the configured router (used in tests).
func (s *Server) Router() http.Handler {
	return s.router
}

// Run starts the server and blocks until SIGINT/SIGTERM, then shuts
// down gracefully.
func (s *Server) Run() error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		s.log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// requestLogger logs one line per request with latency and status.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
