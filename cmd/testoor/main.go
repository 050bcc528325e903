package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethpandaops/testoor/pkg/config"
	"github.com/ethpandaops/testoor/pkg/telemetry"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFiles  []string
	logLevel  string
	logFormat string
	log       = logrus.New()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Command failed")
	}
}

var rootCmd = &cobra.Command{
	Use:   "testoor",
	Short: "CI test result ingestion tool",
	Long: `Testoor stores CI build statistics and JUnit test results in a
relational database for flakiness, duration and failure analysis.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return configureLogger(log, logLevel, logFormat)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "testoor %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&cfgFiles, "config", nil,
		"config file path (can be repeated, later files override earlier ones)")
	flags.StringVar(&logLevel, "log-level", "info",
		"log level ("+strings.Join(logLevels(), ", ")+")")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(versionCmd)
}

// configureLogger applies level and format to l. Logs always go to stdout
// so CI consoles interleave them with build output.
func configureLogger(l *logrus.Logger, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	switch format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	l.SetOutput(os.Stdout)
	l.SetLevel(lvl)

	return nil
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}

// tracingShutdownTimeout bounds the final span flush.
const tracingShutdownTimeout = 5 * time.Second

// setupTracing installs the configured tracer provider globally and returns
// it with a shutdown func that logs flush failures.
func setupTracing(ctx context.Context, cfg *config.Config) (trace.TracerProvider, func(), error) {
	tp, shutdown, err := telemetry.NewTracerProvider(ctx, log, cfg.Tracing, version)
	if err != nil {
		return nil, nil, fmt.Errorf("setting up tracing: %w", err)
	}

	otel.SetTracerProvider(tp)

	return tp, func() {
		ctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()

		if err := shutdown(ctx); err != nil {
			log.WithError(err).Warn("Failed to flush traces")
		}
	}, nil
}
