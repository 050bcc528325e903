package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/testoor/pkg/config"
	"github.com/ethpandaops/testoor/pkg/ingest"
	"github.com/ethpandaops/testoor/pkg/results"
	"github.com/ethpandaops/testoor/pkg/source"
	"github.com/ethpandaops/testoor/pkg/store"
)

var (
	buildFile   string
	junitPaths  []string
	failOnError bool
	buildFlags  results.Build
	startedAt   string
	completedAt string
	buildKind   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest the results of one build",
	Long: `Write the build row and the JUnit test results of one completed build
to the configured database. Reports are read from local glob patterns
(** supported) or s3://bucket/prefix locations.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	f := ingestCmd.Flags()
	f.StringVar(&buildFile, "build-file", "", "YAML or JSON build descriptor")
	f.StringSliceVar(&junitPaths, "junit", nil,
		"JUnit XML report glob or s3:// location (can be repeated)")
	f.BoolVar(&failOnError, "fail-on-error", false,
		"exit non-zero when any unit fails")

	f.StringVar(&buildFlags.Project, "project", "", "project name")
	f.IntVar(&buildFlags.Number, "number", 0, "build number")
	f.StringVar(&buildKind, "kind", "", "build kind (freestyle, matrix, matrix-run)")
	f.StringVar(&buildFlags.ParentName, "parent-name", "",
		"matrix configuration name of a matrix-run build")
	f.StringVar(&buildFlags.Node, "node", "", "node the build ran on")
	f.StringVar(&startedAt, "started-at", "", "build start time (RFC 3339)")
	f.StringVar(&completedAt, "completed-at", "", "build completion time (RFC 3339)")
	f.StringVar(&buildFlags.Result, "result", "", "build result (SUCCESS, UNSTABLE, FAILURE, ...)")
	f.StringVar(&buildFlags.URL, "url", "", "build URL")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	build, err := buildDescriptor(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, stopTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTracing()

	tree, err := source.NewLoader(log, cfg.Source.S3).Load(ctx, junitPaths)
	if err != nil {
		return fmt.Errorf("loading reports: %w", err)
	}

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	ingester := ingest.New(log, st, ingest.NewConfig(cfg.Ingest),
		ingest.WithTracerProvider(tp),
	)

	report, err := ingester.Ingest(ctx, build, tree)
	if err != nil {
		return fmt.Errorf("ingesting build: %w", err)
	}

	for _, f := range report.Failures {
		fmt.Fprintf(os.Stderr, "%s: FAILED!\n%s\n", f.UnitID, f.Error)
	}

	log.WithFields(logrus.Fields{
		"run_id":   report.RunID,
		"units":    report.Units,
		"rows":     report.RowsWritten,
		"failed":   report.Failed(),
		"timeouts": report.TimedOut,
		"elapsed":  units.HumanDuration(report.Elapsed),
	}).Info("Ingestion finished")

	if failOnError && report.Failed() > 0 {
		return fmt.Errorf("%d of %d units failed: %w",
			report.Failed(), report.Units, report.Err())
	}

	return nil
}

// loadConfig loads the config files, which are optional for ingest, and
// applies the configured log level unless --log-level was given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !cmd.Flags().Changed("log-level") {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid global.log_level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	return cfg, nil
}

// buildDescriptor reads --build-file, if any, and overlays every build flag
// that was set explicitly.
func buildDescriptor(cmd *cobra.Command) (*results.Build, error) {
	build := &results.Build{}

	if buildFile != "" {
		b, err := results.LoadBuildFile(buildFile)
		if err != nil {
			return nil, err
		}

		build = b
	}

	flags := cmd.Flags()

	if flags.Changed("project") {
		build.Project = buildFlags.Project
	}

	if flags.Changed("number") {
		build.Number = buildFlags.Number
	}

	if flags.Changed("kind") {
		k := results.Kind(buildKind)
		if !k.Valid() {
			return nil, fmt.Errorf("invalid --kind %q", buildKind)
		}

		build.Kind = k
	}

	if flags.Changed("parent-name") {
		build.ParentName = buildFlags.ParentName
	}

	if flags.Changed("node") {
		build.Node = buildFlags.Node
	}

	if flags.Changed("result") {
		build.Result = buildFlags.Result
	}

	if flags.Changed("url") {
		build.URL = buildFlags.URL
	}

	for _, tf := range []struct {
		name  string
		value string
		dst   *time.Time
	}{
		{"started-at", startedAt, &build.StartedAt},
		{"completed-at", completedAt, &build.CompletedAt},
	} {
		if !flags.Changed(tf.name) {
			continue
		}

		t, err := time.Parse(time.RFC3339, tf.value)
		if err != nil {
			return nil, fmt.Errorf("parsing --%s: %w", tf.name, err)
		}

		*tf.dst = t
	}

	return build, nil
}
