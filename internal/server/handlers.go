package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"photokeep/internal/engine"
	"photokeep/internal/index"
	"photokeep/internal/index/migrations"
	"photokeep/internal/logging"
)

// writeJSON encodes v as JSON onto the response. Encoding failures are
// logged; there is nothing useful to send the client at that point.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logging.Error("failed to encode JSON error response: %v", err)
	}
}

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrBusy):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, index.ErrNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	default:
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status       string `json:"status"`
	Schema       string `json:"schema"`
	Uptime       string `json:"uptime"`
	Indexed      int    `json:"indexed"`
	GoVersion    string `json:"goVersion"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck reports service liveness, the index schema state and a
// cheap index summary.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	store := s.eng.Store()
	store.UpdateConnMetrics()

	status := "healthy"

	schema := "ok"
	if err := migrations.Status(store.DB()); err != nil {
		status = "degraded"
		schema = err.Error()
		logging.Warn("Health check schema verification failed: %v", err)
	}

	count, err := store.CountPhotos(r.Context())
	if err != nil {
		status = "degraded"
		logging.Warn("Health check index query failed: %v", err)
	}

	writeJSON(w, HealthResponse{
		Status:       status,
		Schema:       schema,
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Indexed:      count,
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
	})
}

// Scan reports index-versus-disk drift without changing anything.
func (s *Server) Scan(w http.ResponseWriter, r *http.Request) {
	result, err := s.eng.Scan(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, result)
}

// Stats reports library and cache statistics.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.eng.Stats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, stats)
}

// Sync runs an incremental sync, streaming progress.
func (s *Server) Sync(w http.ResponseWriter, r *http.Request) {
	s.streamOperation(w, r, func(ctx context.Context, sink *engine.Sink) {
		if _, err := s.eng.Sync(ctx, sink); err != nil {
			logging.Error("Sync failed: %v", err)
		}
	})
}

// Rebuild runs a full index rebuild, streaming progress.
func (s *Server) Rebuild(w http.ResponseWriter, r *http.Request) {
	s.streamOperation(w, r, func(ctx context.Context, sink *engine.Sink) {
		if _, err := s.eng.Rebuild(ctx, sink); err != nil {
			logging.Error("Rebuild failed: %v", err)
		}
	})
}

// Terraform reorganizes the library tree, streaming progress.
func (s *Server) Terraform(w http.ResponseWriter, r *http.Request) {
	s.streamOperation(w, r, func(ctx context.Context, sink *engine.Sink) {
		if _, err := s.eng.Terraform(ctx, sink); err != nil {
			logging.Error("Terraform failed: %v", err)
		}
	})
}

type importRequest struct {
	Sources []string `json:"sources"`
}

// Import copies external files into the library, streaming progress.
func (s *Server) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Sources) == 0 {
		writeJSONError(w, "no sources given", http.StatusBadRequest)
		return
	}

	s.streamOperation(w, r, func(ctx context.Context, sink *engine.Sink) {
		if _, err := s.eng.ImportFiles(ctx, req.Sources, sink); err != nil {
			logging.Error("Import failed: %v", err)
		}
	})
}

// ListTrash returns the trash contents.
func (s *Server) ListTrash(w http.ResponseWriter, r *http.Request) {
	records, err := s.eng.ListTrash(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []index.TrashRecord{}
	}
	writeJSON(w, records)
}

// DeleteToTrash soft-deletes one tracked file.
func (s *Server) DeleteToTrash(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, "invalid id", http.StatusBadRequest)
		return
	}

	rec, err := s.eng.DeleteToTrash(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, rec)
}

// RestoreFromTrash restores one trashed file.
func (s *Server) RestoreFromTrash(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, "invalid id", http.StatusBadRequest)
		return
	}

	photo, err := s.eng.RestoreFromTrash(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, photo)
}

// PurgeTrash permanently deletes one trash entry.
func (s *Server) PurgeTrash(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, "invalid id", http.StatusBadRequest)
		return
	}

	if err := s.eng.PurgeTrash(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "purged"})
}

// EmptyTrash permanently deletes all trash entries.
func (s *Server) EmptyTrash(w http.ResponseWriter, r *http.Request) {
	purged, err := s.eng.EmptyTrash(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]int{"purged": purged})
}

type dateRequest struct {
	DateTaken string `json:"dateTaken"`
}

// SetDateTaken changes one file's capture time.
func (s *Server) SetDateTaken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req dateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	taken, err := time.ParseInLocation(index.TimeLayout, req.DateTaken, time.Local)
	if err != nil {
		writeJSONError(w, "invalid dateTaken, expected "+index.TimeLayout, http.StatusBadRequest)
		return
	}

	photo, err := s.eng.SetDateTaken(r.Context(), id, taken)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, photo)
}

// PruneCache drops persisted hash cache entries for missing files.
func (s *Server) PruneCache(w http.ResponseWriter, r *http.Request) {
	pruned, err := s.eng.PruneHashCache(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]int{"pruned": pruned})
}

// ClearCache drops the hash cache entirely.
func (s *Server) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.ClearHashCache(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "cleared"})
}
