// Command nscr-registryd runs the nscr OCI registry server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nscr/registry/internal/config"
	"github.com/nscr/registry/internal/registryhttp"
	"github.com/nscr/registry/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "nscr-registryd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DatabasePath, 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	st, err := store.Open(ctx, cfg.DatabasePath, cfg.DBMaxConnections, cfg.DBMinConnections, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	go st.RunSessionSweeper(ctx, config.SessionTTL, log)
	if cfg.GCEnabled {
		go st.RunGCTicker(ctx, cfg.GCInterval(), config.SessionTTL, log)
	}

	srv := registryhttp.New(st, cfg, log)
	if cfg.ShutdownEndpointEnabled {
		srv = withShutdownEndpoint(srv, stop)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Info("starting registry", "addr", addr, "database", cfg.DatabasePath, "gc_enabled", cfg.GCEnabled)
	return srv.Run(ctx, addr, 30*time.Second)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler
	if cfg.LogFile != "" {
		handler = slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
		}, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	return slog.New(handler)
}

// withShutdownEndpoint wraps srv so that NSCR_SHUTDOWN_ENDPOINT_ENABLED
// exposes "POST /api/shutdown" for test harnesses to trigger a graceful
// stop without sending the process a signal.
func withShutdownEndpoint(srv *registryhttp.Server, stop context.CancelFunc) *registryhttp.Server {
	return srv.WithExtraRoute(http.MethodPost, "/api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		go stop()
	})
}
