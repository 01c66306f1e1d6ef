package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"photokeep/internal/config"
	"photokeep/internal/engine"
	"photokeep/internal/index"
)

var testDate = time.Date(2021, 7, 14, 18, 32, 0, 0, time.Local)

type stubExtractor struct{}

func (stubExtractor) CaptureTime(context.Context, string) (time.Time, bool, error) {
	return testDate, true, nil
}

func (stubExtractor) Dimensions(context.Context, string) (int, int, error) {
	return 0, 0, errors.New("no dimensions in stub")
}

type stubWriter struct{}

func (stubWriter) WriteCaptureTime(context.Context, string, time.Time) error {
	return nil
}

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()

	cfg := config.Default(t.TempDir())
	if err := config.EnsureLayout(cfg); err != nil {
		t.Fatal(err)
	}

	store, err := index.Open(context.Background(), cfg.IndexPath())
	if err != nil {
		t.Fatal(err)
	}

	eng := engine.New(cfg, store, stubExtractor{}, stubWriter{})
	t.Cleanup(func() {
		if err := eng.Close(); err != nil {
			t.Errorf("engine close: %v", err)
		}
	})

	return New(cfg, eng), cfg
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, "GET", "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var health HealthResponse
	decodeBody(t, rec, &health)
	if health.Status != "healthy" {
		t.Errorf("status = %q", health.Status)
	}
	if health.Schema != "ok" {
		t.Errorf("schema = %q, want ok", health.Schema)
	}
	if health.GoVersion == "" {
		t.Error("goVersion is empty")
	}
}

func TestScanEndpoint(t *testing.T) {
	t.Parallel()

	srv, cfg := newTestServer(t)
	if err := os.WriteFile(filepath.Join(cfg.LibraryDir, "loose.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, srv, "GET", "/api/scan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var result engine.ScanResult
	decodeBody(t, rec, &result)
	if result.Moles != 1 || result.InSync {
		t.Errorf("result = %+v, want 1 mole out of sync", result)
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, "GET", "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats engine.LibraryStats
	decodeBody(t, rec, &stats)
	if stats.Index.TotalPhotos != 0 {
		t.Errorf("stats = %+v, want empty library", stats)
	}
}

func TestImportStreamsEvents(t *testing.T) {
	t.Parallel()

	srv, cfg := newTestServer(t)
	src := filepath.Join(t.TempDir(), "pic.jpg")
	if err := os.WriteFile(src, []byte("import via http"), 0o644); err != nil {
		t.Fatal(err)
	}

	body, err := json.Marshal(map[string][]string{"sources": {src}})
	if err != nil {
		t.Fatal(err)
	}
	rec := doRequest(t, srv, "POST", "/api/import", string(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	var sawPhase, sawComplete bool
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev engine.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("bad event %q: %v", payload, err)
		}
		switch ev.Type {
		case engine.EventPhase:
			sawPhase = true
		case engine.EventComplete:
			sawComplete = true
		case engine.EventError:
			t.Fatalf("operation failed: %s", ev.Message)
		}
	}
	if !sawPhase || !sawComplete {
		t.Errorf("stream missing events: phase=%v complete=%v\n%s", sawPhase, sawComplete, rec.Body.String())
	}

	// The stream was a window into a real import.
	files, err := filepath.Glob(filepath.Join(cfg.LibraryDir, "2021", "2021-07-14", "*.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("imported files = %v, want exactly one", files)
	}
}

func TestImportRejectsBadRequests(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty sources", `{"sources": []}`},
		{"malformed json", `{"sources": `},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, "POST", "/api/import", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestTrashEndpoints(t *testing.T) {
	t.Parallel()

	srv, cfg := newTestServer(t)

	// Missing id maps to 404.
	rec := doRequest(t, srv, "POST", "/api/trash/999", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("trash of unknown id: status = %d, want 404", rec.Code)
	}

	src := filepath.Join(t.TempDir(), "pic.jpg")
	if err := os.WriteFile(src, []byte("soft delete me"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.eng.ImportFiles(context.Background(), []string{src}, nil); err != nil {
		t.Fatal(err)
	}
	records, err := srv.eng.Store().AllPathIDs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var id int64
	var libRel string
	for rel, recID := range records {
		libRel, id = rel, recID
	}

	rec = doRequest(t, srv, "POST", "/api/trash/"+itoa(id), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("trash: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(cfg.LibraryDir, libRel)); !os.IsNotExist(err) {
		t.Error("file still in library after trash")
	}

	rec = doRequest(t, srv, "GET", "/api/trash", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var listed []index.TrashRecord
	decodeBody(t, rec, &listed)
	if len(listed) != 1 || listed[0].ID != id {
		t.Fatalf("listed = %+v, want one entry with id %d", listed, id)
	}

	rec = doRequest(t, srv, "POST", "/api/trash/"+itoa(id)+"/restore", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("restore: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(cfg.LibraryDir, libRel)); err != nil {
		t.Errorf("file not restored: %v", err)
	}
}

func TestSetDateTakenValidation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "PUT", "/api/photos/1/date", `{"dateTaken": "yesterday"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, srv, "PUT", "/api/photos/999/date", `{"dateTaken": "2021:07:14 18:32:00"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", rec.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "POST", "/api/cache/prune", "")
	if rec.Code != http.StatusOK {
		t.Errorf("prune: status = %d", rec.Code)
	}

	rec = doRequest(t, srv, "DELETE", "/api/cache", "")
	if rec.Code != http.StatusOK {
		t.Errorf("clear: status = %d", rec.Code)
	}
}

func TestMetricsDisabled(t *testing.T) {
	t.Parallel()

	srv, cfg := newTestServer(t)
	cfg.MetricsEnabled = false

	rec := doRequest(t, srv, "GET", "/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("metrics with metrics disabled: status = %d, want 404", rec.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
