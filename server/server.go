package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/77mdias/barbershop-hub/broker"
	"github.com/77mdias/barbershop-hub/hub"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

func NewServer(addr string, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "server").Logger(),
	}
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Push server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes every push session, waits for
// in-flight work and finally closes the broker.
func (s *Server) Shutdown(ctx context.Context, h *hub.Hub, mb broker.MessageBroker) {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	// Push sessions are long-lived, so close them before waiting on the
	// HTTP server or Shutdown would block until the timeout.
	s.logger.Info().Msg("Closing push sessions")
	h.CloseAllConnections("Server shutting down")

	s.logger.Info().Msg("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	s.logger.Info().Msg("Waiting for pending operations")
	done := make(chan struct{})
	go func() {
		h.WaitForCompletion()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All operations completed")
	case <-shutdownCtx.Done():
		s.logger.Warn().Msg("Shutdown timeout exceeded, forcing exit")
	}

	s.logger.Info().Msg("Closing message broker")
	if err := mb.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Broker closure error")
	}

	s.logger.Info().Msg("Shutdown complete")
}
