package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"photokeep/internal/config"
	"photokeep/internal/index"
	"photokeep/internal/library"
	"photokeep/internal/metadata"
)

var testDate = time.Date(2021, 7, 14, 18, 32, 0, 0, time.Local)

// fakeExtractor serves capture times without external tools.
type fakeExtractor struct {
	taken    time.Time
	embedded bool
	err      error
}

func (f *fakeExtractor) CaptureTime(context.Context, string) (time.Time, bool, error) {
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	return f.taken, f.embedded, nil
}

func (f *fakeExtractor) Dimensions(context.Context, string) (int, int, error) {
	return 0, 0, errors.New("no dimensions in fake")
}

// fakeWriter simulates a metadata rewrite by appending a marker, which
// changes the file's bytes the way a real tag write would.
type fakeWriter struct {
	calls int
	err   error
}

func (f *fakeWriter) WriteCaptureTime(_ context.Context, path string, _ time.Time) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	_, err = fh.WriteString("meta")
	return err
}

type testEnv struct {
	eng       *Engine
	cfg       *config.Config
	extractor *fakeExtractor
	writer    *fakeWriter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default(t.TempDir())
	if err := config.EnsureLayout(cfg); err != nil {
		t.Fatal(err)
	}

	store, err := index.Open(context.Background(), cfg.IndexPath())
	if err != nil {
		t.Fatal(err)
	}

	extractor := &fakeExtractor{taken: testDate, embedded: true}
	writer := &fakeWriter{}
	eng := New(cfg, store, extractor, writer)
	t.Cleanup(func() {
		if err := eng.Close(); err != nil {
			t.Errorf("engine close: %v", err)
		}
	})

	return &testEnv{eng: eng, cfg: cfg, extractor: extractor, writer: writer}
}

func (env *testEnv) writeLibraryFile(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(env.cfg.LibraryDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeSourceFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func digestOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestImportPlacesCanonically(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	src := writeSourceFile(t, "IMG_0001.jpg", "photo bytes")

	summary, err := env.eng.ImportFiles(ctx, []string{src}, nil)
	if err != nil {
		t.Fatalf("ImportFiles() error = %v", err)
	}
	if summary.Imported != 1 || summary.Duplicates != 0 || summary.Rejected != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	// The placed copy gets the capture time written into it, so its
	// digest reflects the post-write bytes.
	digest := digestOf("photo bytes" + "meta")
	wantRel := library.CanonicalPath(testDate, digest, ".jpg", 0)
	if _, err := os.Stat(filepath.Join(env.cfg.LibraryDir, wantRel)); err != nil {
		t.Errorf("canonical file missing: %v", err)
	}
	if env.writer.calls != 1 {
		t.Errorf("writer calls = %d, want 1", env.writer.calls)
	}

	rec, err := env.eng.Store().GetPhotoByHash(ctx, digest)
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if rec.CurrentPath != wantRel {
		t.Errorf("CurrentPath = %q, want %q", rec.CurrentPath, wantRel)
	}
	if len(rec.ContentHash) != 64 {
		t.Errorf("stored digest length = %d, want 64", len(rec.ContentHash))
	}
	if rec.OriginalFilename != "IMG_0001.jpg" {
		t.Errorf("OriginalFilename = %q", rec.OriginalFilename)
	}
	if !rec.DateTaken.Equal(testDate) {
		t.Errorf("DateTaken = %v", rec.DateTaken)
	}

	// Copy semantics: the source survives.
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source removed by import: %v", err)
	}
}

func TestImportDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	first := writeSourceFile(t, "a.jpg", "same content")
	second := writeSourceFile(t, "b.jpg", "same content")

	if _, err := env.eng.ImportFiles(ctx, []string{first}, nil); err != nil {
		t.Fatal(err)
	}
	summary, err := env.eng.ImportFiles(ctx, []string{second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Duplicates != 1 || summary.Imported != 0 {
		t.Errorf("summary = %+v, want 1 duplicate", summary)
	}

	count, err := env.eng.Store().CountPhotos(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("record count = %d, want 1", count)
	}

	// The rolled-back second copy leaves no file behind.
	entries, err := library.Walk(env.cfg.LibraryDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("library contains %d files, want 1", len(entries))
	}
}

// Re-importing the same source is the hard duplicate case: the first
// import's metadata write changed the stored bytes, so the raw source
// digest misses the early duplicate check and only the post-write
// digest matches.
func TestReimportSameSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	env.extractor.embedded = false

	src := writeSourceFile(t, "nodate.jpg", "original bytes")

	first, err := env.eng.ImportFiles(ctx, []string{src}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Imported != 1 {
		t.Fatalf("first run summary = %+v", first)
	}

	second, err := env.eng.ImportFiles(ctx, []string{src}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.Duplicates != 1 || second.Imported != 0 || second.Rejected != 0 {
		t.Fatalf("second run summary = %+v, want 1 duplicate", second)
	}

	count, err := env.eng.Store().CountPhotos(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("record count = %d, want 1", count)
	}
	entries, err := library.Walk(env.cfg.LibraryDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("library contains %d files, want 1", len(entries))
	}
}

func TestImportRejectionRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	env.extractor.err = &metadata.Error{
		Kind: metadata.FailureCorrupted, Op: "read", Path: "x", Err: errors.New("broken"),
	}

	src := writeSourceFile(t, "broken.jpg", "not really a jpeg")

	var rejectedReason string
	sink := NewSink(16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sink.Events() {
			if ev.Type == EventRejected {
				rejectedReason = ev.Reason
			}
		}
	}()

	summary, err := env.eng.ImportFiles(ctx, []string{src}, sink)
	<-done
	if err != nil {
		t.Fatalf("ImportFiles() error = %v", err)
	}
	if summary.Rejected != 1 || summary.Imported != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if rejectedReason != "corrupted" {
		t.Errorf("rejection reason = %q, want corrupted", rejectedReason)
	}

	// Nothing may be left in the library or the index.
	entries, err := library.Walk(env.cfg.LibraryDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("library contains %v after rejected import", entries)
	}
	count, err := env.eng.Store().CountPhotos(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("record count = %d, want 0", count)
	}

	// The rejection is on record for later remediation.
	if summary.ManifestPath == "" {
		t.Fatal("no manifest path reported for a run with rejections")
	}
	if _, err := os.Stat(summary.ManifestPath); err != nil {
		t.Errorf("manifest missing: %v", err)
	}
}

func TestCopyRejectedFromImportManifest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	env.extractor.err = &metadata.Error{
		Kind: metadata.FailureCorrupted, Op: "read", Path: "x", Err: errors.New("broken"),
	}

	src := writeSourceFile(t, "broken.jpg", "cannot be read")
	summary, err := env.eng.ImportFiles(ctx, []string{src}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Rejected != 1 || summary.ManifestPath == "" {
		t.Fatalf("summary = %+v, want 1 rejection with a manifest", summary)
	}

	dest := t.TempDir()
	copied, err := CopyRejected(summary.ManifestPath, dest)
	if err != nil {
		t.Fatalf("CopyRejected() error = %v", err)
	}
	if copied != 1 {
		t.Fatalf("copied = %d, want 1", copied)
	}

	content, err := os.ReadFile(filepath.Join(dest, "broken.jpg"))
	if err != nil {
		t.Fatalf("rejected source not copied: %v", err)
	}
	if string(content) != "cannot be read" {
		t.Errorf("copied content = %q", content)
	}
}

func TestImportWritesMissingMetadata(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	env.extractor.embedded = false

	src := writeSourceFile(t, "nodate.jpg", "original bytes")

	summary, err := env.eng.ImportFiles(ctx, []string{src}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Imported != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if env.writer.calls != 1 {
		t.Errorf("writer calls = %d, want 1", env.writer.calls)
	}

	// The rewrite changed the bytes; record and filename must follow
	// the post-write digest.
	newDigest := digestOf("original bytes" + "meta")
	rec, err := env.eng.Store().GetPhotoByHash(ctx, newDigest)
	if err != nil {
		t.Fatalf("record keyed by post-write digest missing: %v", err)
	}
	wantRel := library.CanonicalPath(testDate, newDigest, ".jpg", 0)
	if rec.CurrentPath != wantRel {
		t.Errorf("CurrentPath = %q, want %q", rec.CurrentPath, wantRel)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.LibraryDir, wantRel)); err != nil {
		t.Errorf("file missing at post-write canonical path: %v", err)
	}

	// The source keeps its pre-write bytes.
	content, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "original bytes" {
		t.Errorf("source modified: %q", content)
	}
}

func TestSyncReconciles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	// A ghost: indexed but no file behind it.
	ghost := &index.PhotoRecord{
		OriginalFilename: "ghost.jpg", CurrentPath: "2020/2020-01-01/ghost.jpg",
		ContentHash: "ghost-digest", FileSize: 1, Kind: "photo",
	}
	if err := env.eng.Store().InsertPhoto(ctx, ghost); err != nil {
		t.Fatal(err)
	}

	// A mole: on disk but not indexed.
	env.writeLibraryFile(t, "incoming/new.jpg", "new file bytes")

	var phases []string
	sink := NewSink(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sink.Events() {
			if ev.Type == EventPhase {
				phases = append(phases, ev.Phase)
			}
		}
	}()

	summary, err := env.eng.Sync(ctx, sink)
	<-done
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if summary.GhostsRemoved != 1 || summary.MolesIndexed != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	wantPhases := []string{PhaseRemovingDeleted, PhaseAddingUntracked, PhaseRemovingEmpty}
	if len(phases) != len(wantPhases) {
		t.Fatalf("phases = %v, want %v", phases, wantPhases)
	}
	for i := range wantPhases {
		if phases[i] != wantPhases[i] {
			t.Errorf("phase[%d] = %q, want %q", i, phases[i], wantPhases[i])
		}
	}

	// The mole stays at its own path; sync never moves files.
	rec, err := env.eng.Store().GetPhotoByHash(ctx, digestOf("new file bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.ToSlash(rec.CurrentPath) != "incoming/new.jpg" {
		t.Errorf("CurrentPath = %q, want incoming/new.jpg", rec.CurrentPath)
	}

	// Idempotence: a second sync finds nothing to do.
	again, err := env.eng.Sync(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.GhostsRemoved != 0 || again.MolesIndexed != 0 {
		t.Errorf("second sync summary = %+v, want no-op", again)
	}
}

func TestSyncLeavesDuplicatesInPlace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	env.writeLibraryFile(t, "a/one.jpg", "twin content")
	env.writeLibraryFile(t, "b/two.jpg", "twin content")

	summary, err := env.eng.Sync(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.MolesIndexed != 1 || summary.Duplicates != 1 {
		t.Fatalf("summary = %+v, want 1 indexed and 1 duplicate", summary)
	}

	// Both files still exist; sync flags, never deletes.
	for _, rel := range []string{"a/one.jpg", "b/two.jpg"} {
		if _, err := os.Stat(filepath.Join(env.cfg.LibraryDir, filepath.FromSlash(rel))); err != nil {
			t.Errorf("%s gone after sync: %v", rel, err)
		}
	}
}

func TestRebuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	env.writeLibraryFile(t, "2021/keep.jpg", "kept content")

	// A stale record the rebuild must not carry over.
	stale := &index.PhotoRecord{
		OriginalFilename: "stale.jpg", CurrentPath: "stale.jpg",
		ContentHash: "stale-digest", FileSize: 1, Kind: "photo",
	}
	if err := env.eng.Store().InsertPhoto(ctx, stale); err != nil {
		t.Fatal(err)
	}

	summary, err := env.eng.Rebuild(ctx, nil)
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if summary.Indexed != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	// The rebuilt index holds exactly what is on disk.
	paths, err := env.eng.Store().AllPathIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Fatalf("rebuilt index paths = %v", paths)
	}
	if _, err := env.eng.Store().GetPhotoByHash(ctx, digestOf("kept content")); err != nil {
		t.Errorf("kept file missing from rebuilt index: %v", err)
	}

	// The previous index survives as a backup.
	if summary.BackupPath == "" {
		t.Fatal("no backup path reported")
	}
	if _, err := os.Stat(summary.BackupPath); err != nil {
		t.Errorf("backup missing: %v", err)
	}

	// The engine stays usable over the swapped store.
	if _, err := env.eng.Scan(ctx); err != nil {
		t.Errorf("Scan() after rebuild: %v", err)
	}
}

func TestTrashLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	src := writeSourceFile(t, "photo.jpg", "trash me")

	if _, err := env.eng.ImportFiles(ctx, []string{src}, nil); err != nil {
		t.Fatal(err)
	}
	rec, err := env.eng.Store().GetPhotoByHash(ctx, digestOf("trash me"+"meta"))
	if err != nil {
		t.Fatal(err)
	}
	libPath := filepath.Join(env.cfg.LibraryDir, rec.CurrentPath)

	trashed, err := env.eng.DeleteToTrash(ctx, rec.ID)
	if err != nil {
		t.Fatalf("DeleteToTrash() error = %v", err)
	}
	if _, err := os.Stat(libPath); !os.IsNotExist(err) {
		t.Error("file survived soft delete")
	}
	if _, err := os.Stat(filepath.Join(env.cfg.TrashDir(), trashed.TrashFilename)); err != nil {
		t.Errorf("trash file missing: %v", err)
	}

	restored, err := env.eng.RestoreFromTrash(ctx, rec.ID)
	if err != nil {
		t.Fatalf("RestoreFromTrash() error = %v", err)
	}
	if restored.CurrentPath != rec.CurrentPath {
		t.Errorf("restored path = %q, want %q", restored.CurrentPath, rec.CurrentPath)
	}
	if _, err := os.Stat(libPath); err != nil {
		t.Errorf("restored file missing: %v", err)
	}

	// Delete again, then purge for good.
	if _, err := env.eng.DeleteToTrash(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.eng.PurgeTrash(ctx, rec.ID); err != nil {
		t.Fatalf("PurgeTrash() error = %v", err)
	}
	records, err := env.eng.ListTrash(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("trash not empty after purge: %v", records)
	}
}

func TestTerraform(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	env.writeLibraryFile(t, "Camera Uploads/IMG_5.jpg", "messy photo")
	env.writeLibraryFile(t, "Camera Uploads/notes.txt", "not media")

	summary, err := env.eng.Terraform(ctx, nil)
	if err != nil {
		t.Fatalf("Terraform() error = %v", err)
	}
	if summary.Imported != 1 {
		t.Errorf("summary = %+v, want 1 imported", summary)
	}
	if summary.NonMedia != 1 {
		t.Errorf("non-media quarantined = %d, want 1", summary.NonMedia)
	}

	digest := digestOf("messy photo" + "meta")
	wantRel := library.CanonicalPath(testDate, digest, ".jpg", 0)
	if _, err := os.Stat(filepath.Join(env.cfg.LibraryDir, wantRel)); err != nil {
		t.Errorf("file not at canonical path: %v", err)
	}
	// Move semantics: the messy original is gone, and its emptied
	// folder with it.
	if _, err := os.Stat(filepath.Join(env.cfg.LibraryDir, "Camera Uploads")); !os.IsNotExist(err) {
		t.Error("messy folder survived terraform")
	}

	if summary.ManifestPath == "" {
		t.Fatal("no manifest path reported")
	}
	data, err := os.ReadFile(summary.ManifestPath)
	if err != nil {
		t.Fatalf("manifest unreadable: %v", err)
	}
	if len(data) == 0 {
		t.Error("manifest is empty")
	}

	// Terraform is idempotent once the tree is canonical.
	again, err := env.eng.Terraform(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.Moved != 0 || again.Imported != 0 || again.AlreadyCanonical != 1 {
		t.Errorf("second terraform summary = %+v, want only already-canonical", again)
	}
}

func TestSetDateTaken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	src := writeSourceFile(t, "photo.jpg", "dated content")

	if _, err := env.eng.ImportFiles(ctx, []string{src}, nil); err != nil {
		t.Fatal(err)
	}
	rec, err := env.eng.Store().GetPhotoByHash(ctx, digestOf("dated content"+"meta"))
	if err != nil {
		t.Fatal(err)
	}

	newDate := time.Date(2019, 3, 9, 12, 0, 0, 0, time.Local)
	updated, err := env.eng.SetDateTaken(ctx, rec.ID, newDate)
	if err != nil {
		t.Fatalf("SetDateTaken() error = %v", err)
	}

	if !updated.DateTaken.Equal(newDate) {
		t.Errorf("DateTaken = %v, want %v", updated.DateTaken, newDate)
	}
	// The fake writer appended bytes again, so the digest changed and
	// the file moved under the new date.
	newDigest := digestOf("dated content" + "meta" + "meta")
	if updated.ContentHash != newDigest {
		t.Errorf("ContentHash = %q, want %q", updated.ContentHash, newDigest)
	}
	wantRel := library.CanonicalPath(newDate, newDigest, ".jpg", 0)
	if updated.CurrentPath != wantRel {
		t.Errorf("CurrentPath = %q, want %q", updated.CurrentPath, wantRel)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.LibraryDir, wantRel)); err != nil {
		t.Errorf("file missing at new canonical path: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.LibraryDir, rec.CurrentPath)); !os.IsNotExist(err) {
		t.Error("file still at old path")
	}
}

func TestScan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	env.writeLibraryFile(t, "untracked.jpg", "bytes")

	result, err := env.eng.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if result.Moles != 1 || result.Ghosts != 0 || result.InSync {
		t.Errorf("result = %+v", result)
	}

	// Scan is read-only.
	count, err := env.eng.Store().CountPhotos(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Scan() mutated the index: %d records", count)
	}
}

func TestPruneHashCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	live := env.writeLibraryFile(t, "live.jpg", "live")
	if _, err := env.eng.Sync(ctx, nil); err != nil {
		t.Fatal(err)
	}

	// Plant a cache entry for a path that no longer exists.
	err := env.eng.Store().CachePut(ctx, index.CacheEntry{
		FilePath: filepath.Join(env.cfg.LibraryDir, "gone.jpg"),
		MtimeNs:  1, FileSize: 1, ContentHash: "x", CachedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	pruned, err := env.eng.PruneHashCache(ctx)
	if err != nil {
		t.Fatalf("PruneHashCache() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	// The live file's entry survives.
	paths, err := env.eng.Store().CachePaths(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != live {
		t.Errorf("cache paths = %v, want [%s]", paths, live)
	}
}
