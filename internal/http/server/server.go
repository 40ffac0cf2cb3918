// Package server corre el servidor HTTP con apagado ordenado.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
)

const shutdownTimeout = 10 * time.Second

// Run levanta el servidor y bloquea hasta que el contexto se cancele; ahí
// drena las conexiones en curso antes de salir.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Named("http").Info("listening", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Named("http").Warn("forced shutdown", logger.Err(err))
		return srv.Close()
	}
	logger.Named("http").Info("server stopped")
	return nil
}
