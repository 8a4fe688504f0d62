package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// GracefulShutdown blocks until SIGINT/SIGTERM, then drains the HTTP
// server and runs the shutdown functions in registration order (server
// first, storage last) under a single timeout.
func GracefulShutdown(logger *Logger, server *http.Server, timeout time.Duration, shutdownFuncs ...ShutdownFunc) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Infof("Received signal %s, starting graceful shutdown", sig)

	return Shutdown(logger, server, timeout, shutdownFuncs...)
}

// Shutdown drains the HTTP server and runs the shutdown functions in
// order under a single timeout.
func Shutdown(logger *Logger, server *http.Server, timeout time.Duration, shutdownFuncs ...ShutdownFunc) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("HTTP server shutdown error")
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		logger.Info("HTTP server shutdown complete")
	}

	failed := 0
	for i, fn := range shutdownFuncs {
		select {
		case <-ctx.Done():
			logger.Warn("Shutdown timeout reached, forcing shutdown")
			return fmt.Errorf("shutdown timeout reached")
		default:
		}
		if err := fn(ctx); err != nil {
			logger.WithError(err).Errorf("Shutdown function %d failed", i)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("shutdown completed with %d errors", failed)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}
