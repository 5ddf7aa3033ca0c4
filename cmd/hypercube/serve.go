package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vango-dev/hypercube/internal/chat"
	"github.com/vango-dev/hypercube/internal/config"
	"github.com/vango-dev/hypercube/pkg/hypercube"
	"github.com/vango-dev/hypercube/pkg/middleware"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long: `Run the chat server.

Settings come from defaults, then the optional TOML file given with
--config, then HYPERCUBE_* environment variables. --addr wins over all.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Address = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg, cfg.NewLogger(os.Stderr))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVarP(&addr, "addr", "a", config.DefaultAddress, "Listen address")

	return cmd
}

// server is the assembled HTTP application.
type server struct {
	handler http.Handler
	scope   *hypercube.Scope
	room    *chat.Room
}

func newServer(cfg config.Config, logger *slog.Logger) *server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hcfg := cfg.Hypercube(logger)
	hcfg.Middleware = []hypercube.Middleware{
		middleware.Logging(logger),
		middleware.OpenTelemetry(),
		middleware.Prometheus(middleware.WithRegistry(registry)),
	}

	var room *chat.Room
	scope := hypercube.NewScope(cfg.Path, hcfg, func(sc *hypercube.Scope) {
		room = chat.Register(sc, logger)
	})
	registry.MustRegister(middleware.NewSessionCollector("hypercube", scope))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.MetricsPath != "" {
		r.Handle(cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}
	r.Get(cfg.Path, chat.UpgradeOr(scope, chat.Page()).ServeHTTP)
	r.Handle("/*", chat.Assets())

	return &server{handler: r, scope: scope, room: room}
}

func runServer(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app := newServer(cfg, logger)

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Address, "path", cfg.Path, "metrics", cfg.MetricsPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server.
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := app.scope.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("scope shutdown: %w", err))
	}
	return errors.Join(errs...)
}
