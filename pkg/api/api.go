// Package api serves the failure rankings over a read-only HTTP API.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/dbbot/pkg/config"
	"github.com/ethpandaops/dbbot/pkg/dbstore"
	"github.com/ethpandaops/dbbot/pkg/report"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	dbCfg      *config.DatabaseConfig
	batchSize  int
	reportOpts report.Options
	store      dbstore.Store
	reader     report.Reader
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server over the configured database.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return newServer(log, cfg)
}

func newServer(log logrus.FieldLogger, cfg *config.Config) *server {
	return &server{
		log:       log.WithField("component", "api"),
		cfg:       &cfg.API,
		dbCfg:     &cfg.Database,
		batchSize: cfg.Import.BatchSize,
		reportOpts: report.Options{
			Title: cfg.Report.Title,
			Limit: cfg.Report.Limit,
		},
		done: make(chan struct{}),
	}
}

// Start opens the store and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	s.store = dbstore.NewStore(s.log, s.dbCfg, s.batchSize)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	s.reader = report.NewReader(s.store.DB())

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

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	close(s.done)

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

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
