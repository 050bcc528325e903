package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/testoor/pkg/config"
	"github.com/ethpandaops/testoor/pkg/ingest"
	"github.com/ethpandaops/testoor/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// StatsReader reports table statistics.
type StatsReader interface {
	Stats(ctx context.Context) ([]store.TableStats, error)
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	ingester   ingest.Ingester
	stats      StatsReader
	gatherer   prometheus.Gatherer
	users      map[string]string
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server. Builds posted to the server are
// handed to ingester; stats backs the status endpoint and gatherer the
// metrics endpoint.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	ingester ingest.Ingester,
	stats StatsReader,
	gatherer prometheus.Gatherer,
) Server {
	users := make(map[string]string, len(cfg.Auth.Basic.Users))
	for _, u := range cfg.Auth.Basic.Users {
		users[u.Username] = u.PasswordHash
	}

	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		ingester: ingester,
		stats:    stats,
		gatherer: gatherer,
		users:    users,
	}
}

// Start binds the listener and serves HTTP in the background.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
