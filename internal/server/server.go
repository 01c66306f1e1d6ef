package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"photokeep/internal/config"
	"photokeep/internal/engine"
	"photokeep/internal/logging"
)

// Server exposes the engine over HTTP.
type Server struct {
	cfg     *config.Config
	eng     *engine.Engine
	started time.Time
}

// New creates a Server over an engine.
func New(cfg *config.Config, eng *engine.Engine) *Server {
	return &Server{cfg: cfg, eng: eng, started: time.Now()}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogging)

	r.HandleFunc("/health", s.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", s.HealthCheck).Methods("GET")

	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", s.Scan).Methods("GET")
	api.HandleFunc("/stats", s.Stats).Methods("GET")
	api.HandleFunc("/sync", s.Sync).Methods("POST")
	api.HandleFunc("/rebuild", s.Rebuild).Methods("POST")
	api.HandleFunc("/terraform", s.Terraform).Methods("POST")
	api.HandleFunc("/import", s.Import).Methods("POST")

	api.HandleFunc("/trash", s.ListTrash).Methods("GET")
	api.HandleFunc("/trash/{id:[0-9]+}", s.DeleteToTrash).Methods("POST")
	api.HandleFunc("/trash/{id:[0-9]+}/restore", s.RestoreFromTrash).Methods("POST")
	api.HandleFunc("/trash/{id:[0-9]+}", s.PurgeTrash).Methods("DELETE")
	api.HandleFunc("/trash", s.EmptyTrash).Methods("DELETE")

	api.HandleFunc("/photos/{id:[0-9]+}/date", s.SetDateTaken).Methods("PUT")
	api.HandleFunc("/cache/prune", s.PruneCache).Methods("POST")
	api.HandleFunc("/cache", s.ClearCache).Methods("DELETE")

	return r
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
// When the configured sync interval is positive a background loop
// polls the library for drift and syncs when it finds any.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
		// No write timeout: operation streams stay open for as long as
		// the operation runs.
	}

	pollCtx, stopPoller := context.WithCancel(ctx)
	defer stopPoller()
	go s.pollForChanges(pollCtx)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logging.Info("Shutting down")
	return srv.Shutdown(shutdownCtx)
}

// pollForChanges periodically scans for index-versus-disk drift and
// runs a sync when it finds any. Polling instead of filesystem
// notification keeps the behavior identical on network mounts, where
// notification events do not arrive.
func (s *Server) pollForChanges(ctx context.Context) {
	interval := s.cfg.SyncInterval.Duration
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		result, err := s.eng.Scan(ctx)
		if err != nil {
			logging.Warn("Background scan failed: %v", err)
			continue
		}
		if result.InSync {
			continue
		}

		logging.Info("Background scan found %d ghosts and %d untracked files, syncing",
			result.Ghosts, result.Moles)
		if _, err := s.eng.Sync(ctx, nil); err != nil {
			if errors.Is(err, engine.ErrBusy) {
				logging.Debug("Skipping background sync, another operation is running")
			} else {
				logging.Error("Background sync failed: %v", err)
			}
		}
	}
}
