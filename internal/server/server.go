package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/edulite/auth-service/pkg/config"

	"github.com/rs/cors"
)

// Purger removes refresh tokens that can no longer be used.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

type Server struct {
	httpServer      *http.Server
	purger          Purger
	purgeInterval   time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

func New(cfg *config.Config, handler http.Handler, purger Purger, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           withCORS(cfg.CORSOrigins, handler),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       cfg.RequestTimeout,
			WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
			IdleTimeout:       60 * time.Second,
		},
		purger:          purger,
		purgeInterval:   cfg.PurgeInterval,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
}

func withCORS(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         3600,
	}).Handler(next)
}

// Run listens on the configured address until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx ends, then drains in-flight
// requests for at most the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	go s.purgeLoop(purgeCtx)

	serveErr := make(chan error, 1)
	s.logger.Info("http server listening", "addr", ln.Addr().String())
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		s.logger.Info("http server stopped")
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func (s *Server) purgeLoop(ctx context.Context) {
	if s.purger == nil || s.purgeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeOnce(ctx)
		}
	}
}

func (s *Server) purgeOnce(ctx context.Context) {
	n, err := s.purger.Purge(ctx, time.Now())
	if err != nil {
		s.logger.ErrorContext(ctx, "purge refresh tokens", "error", err)
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "purged refresh tokens", "count", n)
	}
}
