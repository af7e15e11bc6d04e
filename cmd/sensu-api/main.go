// sensu-api is the monitoring platform's HTTP API server. It exposes the
// fleet state held in the redis registry and publishes check requests and
// check results to the rabbitmq transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bngnha/sensu/internal/api"
	"github.com/bngnha/sensu/internal/registry"
	"github.com/bngnha/sensu/internal/settings"
	"github.com/bngnha/sensu/internal/transport"
)

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	// Usage: /sensu-api healthcheck
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/info", settings.DefaultPort))
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Context-aware handler so every log record carries the request_id when
	// one is in scope.
	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(api.NewContextHandler(baseHandler)))

	if errs := settings.ValidateEnv(); len(errs) > 0 {
		for _, msg := range errs {
			slog.Error("invalid environment variable", "detail", msg)
		}
		os.Exit(1)
	}

	configPath, confDir := settings.ResolvePaths()
	cfg, err := settings.Load(configPath, confDir)
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}
	if configPath != "" || confDir != "" {
		slog.Info("settings loaded", "config", configPath, "config_dir", confDir, "checks", len(cfg.Checks))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backends come up lazily: an unreachable backend is not fatal here, the
	// connection watchers keep retrying and /info and /health report the state.
	reg, err := registry.Dial(ctx, cfg.Redis.URL)
	if err != nil {
		slog.Error("failed to set up redis registry", "error", err)
		os.Exit(1)
	}
	slog.Info("redis registry initialized", "connected", reg.Connected())

	broker, err := transport.Dial(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		slog.Error("failed to set up rabbitmq transport", "error", err)
		os.Exit(1)
	}
	slog.Info("rabbitmq transport initialized", "connected", broker.Connected())

	srv := &api.Server{
		Registry:  reg,
		Transport: broker,
		Settings:  cfg,
	}

	proc := &api.Process{
		Bind:      cfg.API.Bind,
		Port:      cfg.API.Port,
		Handler:   api.NewRouter(srv),
		Registry:  reg,
		Transport: broker,
	}

	slog.Info("starting sensu-api", "bind", cfg.API.Bind, "port", cfg.API.Port, "version", settings.Version)
	if err := proc.Run(ctx); err != nil {
		slog.Error("sensu-api exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("sensu-api shutdown complete")
}
