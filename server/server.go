// Package server provides a reusable rtcwatch server that can be
// embedded in other binaries. It owns the database, the reconciliation
// engine and the HTTP surface.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rtcwatch/rtcwatch/internal/logging"
	"github.com/rtcwatch/rtcwatch/internal/metrics"
	"github.com/rtcwatch/rtcwatch/internal/server/api"
	"github.com/rtcwatch/rtcwatch/internal/server/config"
	"github.com/rtcwatch/rtcwatch/internal/server/db"
	"github.com/rtcwatch/rtcwatch/internal/server/engine"
	"github.com/rtcwatch/rtcwatch/internal/server/store"
)

// Server is a reusable rtcwatch server instance.
type Server struct {
	cfg    *config.Config
	server *http.Server
	sqlDB  *sql.DB
	engine *engine.Engine
	store  *store.Store
}

// NewServer creates a server: it opens the database, runs migrations,
// and wires the engine and HTTP routes. Call Serve to start listening.
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	sqlDB, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	st := store.New(sqlDB)
	eng := engine.New(sqlDB, slog.Default(), engine.Config{
		MemoSize:        cfg.Ingest.DedupMemoSize,
		MaxWriteRetries: cfg.Ingest.MaxWriteRetries,
	})

	apiSrv := api.NewServer(eng, st, cfg, slog.Default())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiSrv.Router())

	httpServer := &http.Server{
		Handler:           logging.HTTPMiddleware(metrics.HTTPMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		cfg:    cfg,
		server: httpServer,
		sqlDB:  sqlDB,
		engine: eng,
		store:  st,
	}, nil
}

// Store returns the server's store for direct access (used by the
// offline recompute path and tests).
func (s *Server) Store() *store.Store {
	return s.store
}

// Serve starts listening on the configured address. It blocks until
// ctx is cancelled, then drains in-flight requests and closes the
// database.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		_ = s.sqlDB.Close()
		return fmt.Errorf("listen tcp: %w", err)
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("rtcwatch shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)

		close(shutdownDone)
	}()

	slog.Info("rtcwatch listening", "addr", s.cfg.Server.Addr, "db", s.cfg.DBPath())

	if err := s.server.Serve(ln); err != http.ErrServerClosed {
		_ = s.sqlDB.Close()
		return fmt.Errorf("serve: %w", err)
	}

	<-shutdownDone

	// Checkpoint WAL into the main DB file before closing.
	if _, err := s.sqlDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Warn("WAL checkpoint failed", "error", err)
	}
	_ = s.sqlDB.Close()
	return nil
}
