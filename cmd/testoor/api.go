package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/testoor/pkg/api"
	"github.com/ethpandaops/testoor/pkg/ingest"
	"github.com/ethpandaops/testoor/pkg/store"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the testoor API server that accepts builds for ingestion.`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, _ []string) error {
	if len(cfgFiles) == 0 {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("validating api config: %w", err)
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	tp, stopTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTracing()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ingester := ingest.New(log, st, ingest.NewConfig(cfg.Ingest),
		ingest.WithMetrics(ingest.NewMetrics(registry)),
		ingest.WithTracerProvider(tp),
	)

	srv := api.NewServer(log, cfg.API, ingester, st, registry)

	if err := srv.Start(ctx); err != nil {
		_ = st.Stop()

		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down API server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	if err := st.Stop(); err != nil {
		return fmt.Errorf("stopping store: %w", err)
	}

	return nil
}
