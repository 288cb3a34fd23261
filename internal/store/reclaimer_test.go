package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeArtifactDir(t *testing.T, root, name string, marker string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".mp4"), []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}
	if marker != "" {
		if err := os.WriteFile(filepath.Join(dir, markerFilename), []byte(marker), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestSweepOnce_DeletesExpired(t *testing.T) {
	root := t.TempDir()
	past := time.Now().Add(-time.Minute).Format(time.RFC3339)
	dir := writeArtifactDir(t, root, "EXPIRED", past)

	r := NewReclaimer(testStorageConfig(root), testLogger())
	r.SweepOnce(context.Background())

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("expired artifact should be deleted")
	}
}

func TestSweepOnce_KeepsFuture(t *testing.T) {
	root := t.TempDir()
	future := time.Now().Add(time.Hour).Format(time.RFC3339)
	dir := writeArtifactDir(t, root, "FRESH", future)

	r := NewReclaimer(testStorageConfig(root), testLogger())
	r.SweepOnce(context.Background())

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("unexpired artifact should survive: %v", err)
	}
}

func TestSweepOnce_SkipsMissingMarker(t *testing.T) {
	root := t.TempDir()
	dir := writeArtifactDir(t, root, "NOMARKER", "")

	r := NewReclaimer(testStorageConfig(root), testLogger())
	r.SweepOnce(context.Background())

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory without marker must never be deleted: %v", err)
	}
}

func TestSweepOnce_SkipsUnparsableMarker(t *testing.T) {
	root := t.TempDir()
	dir := writeArtifactDir(t, root, "CORRUPT", "not-a-timestamp")

	r := NewReclaimer(testStorageConfig(root), testLogger())
	r.SweepOnce(context.Background())

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory with corrupt marker must be skipped: %v", err)
	}
}

func TestSweepOnce_OneBadDirDoesNotAbortSweep(t *testing.T) {
	root := t.TempDir()
	past := time.Now().Add(-time.Minute).Format(time.RFC3339)
	corrupt := writeArtifactDir(t, root, "AAA-CORRUPT", "garbage")
	expired := writeArtifactDir(t, root, "ZZZ-EXPIRED", past)

	r := NewReclaimer(testStorageConfig(root), testLogger())
	r.SweepOnce(context.Background())

	if _, err := os.Stat(corrupt); err != nil {
		t.Errorf("corrupt dir should survive: %v", err)
	}
	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Error("expired dir after the corrupt one should still be swept")
	}
}

func TestSweepOnce_MissingRoot(t *testing.T) {
	cfg := testStorageConfig(filepath.Join(t.TempDir(), "does-not-exist"))
	r := NewReclaimer(cfg, testLogger())

	// Must not panic or error loudly; root simply has nothing to sweep.
	r.SweepOnce(context.Background())
}

func TestSweepOnce_ExactBoundarySurvives(t *testing.T) {
	root := t.TempDir()
	boundary := time.Now().Add(30 * time.Second).Truncate(time.Second)
	dir := writeArtifactDir(t, root, "BOUNDARY", boundary.Format(time.RFC3339))

	r := NewReclaimer(testStorageConfig(root), testLogger())
	r.now = func() time.Time { return boundary }
	r.SweepOnce(context.Background())

	// Deletion requires now strictly after expiry.
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("artifact at exact expiry instant should survive: %v", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testStorageConfig(t.TempDir())
	cfg.SweepInterval = 10 * time.Millisecond
	r := NewReclaimer(cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
