package db

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/lightpos/internal/imaging"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestPragmasApplied verifies that essential PRAGMAs are set on the database
func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", foreignKeys)
	}
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	latest, err := LatestMigrationVersion()
	if err != nil {
		t.Fatalf("LatestMigrationVersion failed: %v", err)
	}
	if latest != 2 {
		t.Errorf("Expected latest migration 2, got %d", latest)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != latest || dirty {
		t.Errorf("Expected version %d clean, got %d dirty=%v", latest, version, dirty)
	}

	// Re-running is a no-op.
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, err = db.MigrateVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 {
		t.Errorf("Expected version 1 after rollback, got %d", version)
	}
	if _, err := db.ParamChanges(10); err == nil {
		t.Error("Expected param_changes to be dropped after rollback")
	}

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp after rollback failed: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := newTestDB(t)

	started := time.Unix(1700000000, 123).UTC()
	params := imaging.Params{Threshold: 200, Marker: imaging.Marker{Size: 3, Color: imaging.Pixel{0, 255, 0}}}
	if err := db.StartRun("run-1", "serial:/dev/ttyUSB0", params, started); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	run, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	want := &Run{RunID: "run-1", Source: "serial:/dev/ttyUSB0", Params: params, StartedAt: started}
	if diff := cmp.Diff(want, run); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}

	stopped := started.Add(time.Minute)
	if err := db.StopRun("run-1", 42, stopped); err != nil {
		t.Fatalf("StopRun failed: %v", err)
	}
	run, err = db.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.StoppedAt == nil || !run.StoppedAt.Equal(stopped) || run.Frames != 42 {
		t.Errorf("unexpected stopped run %+v", run)
	}

	if err := db.StartRun("run-1", "dup", params, started); err == nil {
		t.Error("expected duplicate run id to fail")
	}
	if _, err := db.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if err := db.StopRun("missing", 0, stopped); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound from StopRun, got %v", err)
	}
}

func TestCentroids(t *testing.T) {
	db := newTestDB(t)
	if err := db.StartRun("run-1", "test", imaging.DefaultParams(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := db.StartRun("run-2", "test", imaging.DefaultParams(), time.Now()); err != nil {
		t.Fatal(err)
	}

	base := time.Unix(1700000000, 0).UTC()
	var want []CentroidRecord
	for i := 0; i < 5; i++ {
		rec := CentroidRecord{
			RunID:          "run-1",
			FrameID:        "frame",
			SourceFrameID:  "cam",
			Seq:            uint32(i + 1),
			Stamp:          base.Add(time.Duration(i) * time.Second),
			X:              i,
			Y:              -i,
			Found:          i%2 == 0,
			BrightCount:    i * 10,
			Threshold:      240,
			ProcessingTime: time.Duration(i) * time.Millisecond,
			RecordedAt:     base.Add(time.Duration(i) * time.Second),
		}
		if err := db.RecordCentroid(&rec); err != nil {
			t.Fatalf("RecordCentroid failed: %v", err)
		}
		if rec.ID == 0 {
			t.Fatal("expected ID to be set")
		}
		want = append(want, rec)
	}
	other := CentroidRecord{RunID: "run-2", FrameID: "x"}
	if err := db.RecordCentroid(&other); err != nil {
		t.Fatal(err)
	}
	if other.RecordedAt.IsZero() {
		t.Error("expected RecordedAt default")
	}

	got, err := db.RecentCentroids("run-1", 3)
	if err != nil {
		t.Fatalf("RecentCentroids failed: %v", err)
	}
	if diff := cmp.Diff(want[2:], got); diff != "" {
		t.Errorf("centroids mismatch (-want +got):\n%s", diff)
	}

	n, err := db.CountCentroids("run-1")
	if err != nil || n != 5 {
		t.Errorf("CountCentroids = %d, %v", n, err)
	}

	if err := db.RecordCentroid(&CentroidRecord{RunID: "unknown-run"}); err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestParamChanges(t *testing.T) {
	db := newTestDB(t)

	for i, v := range []string{"200", "180"} {
		pc := &ParamChange{Param: "brightness_threshold", OldValue: "240", NewValue: v, Source: "api"}
		if i == 0 {
			pc.ChangedAt = time.Unix(1700000000, 0).UTC()
		}
		if err := db.RecordParamChange(pc); err != nil {
			t.Fatalf("RecordParamChange failed: %v", err)
		}
	}

	changes, err := db.ParamChanges(0)
	if err != nil {
		t.Fatalf("ParamChanges failed: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].NewValue != "180" || changes[1].NewValue != "200" {
		t.Errorf("expected newest first, got %+v", changes)
	}
	if !changes[1].ChangedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected ChangedAt %v", changes[1].ChangedAt)
	}
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	db.BackupDir = t.TempDir()
	if err := db.StartRun("run-1", "test", imaging.DefaultParams(), time.Now()); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "filename=test-backup-") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}

	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("backup is not gzip: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	restored := filepath.Join(t.TempDir(), "restored.db")
	if err := os.WriteFile(restored, data, 0644); err != nil {
		t.Fatal(err)
	}
	rdb, err := NewDB(restored)
	if err != nil {
		t.Fatalf("failed to open restored backup: %v", err)
	}
	defer rdb.Close()
	if _, err := rdb.GetRun("run-1"); err != nil {
		t.Errorf("restored backup is missing run: %v", err)
	}

	entries, err := os.ReadDir(db.BackupDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected backup file to be removed, found %d entries", len(entries))
	}
}
