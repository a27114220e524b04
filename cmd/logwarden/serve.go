package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/iyulab/logwarden/internal/metrics"
	"github.com/iyulab/logwarden/internal/model"
	"github.com/iyulab/logwarden/internal/orchestrator"
	"github.com/iyulab/logwarden/internal/publish"
	"github.com/iyulab/logwarden/internal/reporter"
	"github.com/iyulab/logwarden/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP analysis API",
		Long: `serve exposes POST /api/v1/analyze and /api/v1/upload, the pattern
catalog, the latest HTML report and Prometheus metrics.`,
		Args:         cobra.NoArgs,
		RunE:         runServe,
		SilenceUsage: true,
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().Bool("no-sigma", false, "disable Sigma rule detection")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	noSigma, _ := cmd.Flags().GetBool("no-sigma")

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	build, err := orchestrator.BuildPipeline(cfg, orchestrator.BuildOptions{
		NoSigma:  noSigma,
		Observer: m,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer build.Close()

	rep, err := reporter.New()
	if err != nil {
		return fmt.Errorf("create reporter: %w", err)
	}

	opts := []server.Option{server.WithMetrics(m, reg), server.WithLogger(logger)}
	if cfg.NATS.Enabled {
		level, _ := model.ParseThreatLevel(cfg.NATS.MinLevel)
		pub, err := publish.Connect(cfg.NATS.URL, cfg.NATS.Subject, level, logger)
		if err != nil {
			logger.Warn("nats unavailable, serving without publishing", "url", cfg.NATS.URL, "error", err)
		} else {
			defer pub.Close()
			opts = append(opts, server.WithPublisher(pub))
		}
	}

	srv := server.New(build.Pipeline, rep, server.Config{
		MaxUploadBytes:    int64(cfg.Server.MaxUploadMB) << 20,
		AllowedExtensions: cfg.Server.AllowedExtensions,
		Version:           version,
	}, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bound, err := srv.Start(ctx, addr)
	if err != nil {
		return err
	}
	logger.Info("logwarden API listening",
		"addr", bound,
		"patterns", build.Catalog.Len(),
		"tracker_scope", cfg.Tracker.Scope)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
