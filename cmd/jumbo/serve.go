package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eduparlema/llmproxy-chatbot/internal/api"
	"github.com/eduparlema/llmproxy-chatbot/internal/buildinfo"
	"github.com/eduparlema/llmproxy-chatbot/internal/config"
)

// shutdownTimeout bounds how long in-flight turns may drain.
const shutdownTimeout = 30 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), g.configPath)
		},
	}
}

// runServe loads config, wires the agent, and serves until SIGINT or
// SIGTERM. Webhook requests and websocket turns in flight finish before
// resources are closed.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger(stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting Jumbo", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "log_level", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close resources", "error", err)
		}
	}()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, logger, serverOptions(cfg, a)...)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return server.Start(egCtx)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	logger.Info("Jumbo stopped")
	return nil
}

func serverOptions(cfg *config.Config, a *app) []api.Option {
	var opts []api.Option
	if a.metrics != nil {
		opts = append(opts, api.WithMetrics(a.metrics, cfg.Metrics.Path))
	}
	return opts
}
