// README: HTTP server lifecycle; serves until the context ends, then drains in-flight requests.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"campusride/internal/config"
)

type Server struct {
	srv    *http.Server
	cfg    config.HTTPConfig
	logger *slog.Logger
}

func NewServer(cfg config.HTTPConfig, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:        cfg.Addr,
			Handler:     handler,
			ReadTimeout: cfg.ReadTimeout,
			// No WriteTimeout: it would cut off WebSocket sessions.
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks until ctx is done or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_listen", "addr", s.cfg.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http_shutdown")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
