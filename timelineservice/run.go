// Package timelineservice hosts the long-running HTTP service that
// serves the aggregated timeline.
package timelineservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/memorylane/memorylane/internal/api"
	"github.com/memorylane/memorylane/internal/config"
	"github.com/memorylane/memorylane/internal/factory"
	"github.com/memorylane/memorylane/internal/health"
	"github.com/memorylane/memorylane/internal/logger"
)

// Run starts the timeline HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("timeline-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("http_port", cfg.HTTPPort).
		Str("data_dir", cfg.DataDir).
		Str("privacy_mode", cfg.PrivacyMode).
		Str("providers", cfg.Providers).
		Msg("Timeline service starting")

	// Cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	agg, err := factory.NewAggregator(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Aggregator construction failed")
		return err
	}
	for _, st := range agg.Status(ctx) {
		log.Info().Str("provider", st.Name).Bool("working", st.Working).Msg("provider registered")
	}

	monitor := health.NewMonitor(agg, log)
	go monitor.Start(ctx, 5*time.Minute)

	router := api.NewRouter(agg, log)

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	// Graceful shutdown on context cancel or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
