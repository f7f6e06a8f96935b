package watcher_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"booth-bridge/archive"
	"booth-bridge/catalog"
	"booth-bridge/clock"
	"booth-bridge/correlate"
	"booth-bridge/progress"
	"booth-bridge/watcher"

	"go.uber.org/zap"
)

func writeArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

// A booth_222.zip with one package and a readme lands in Downloads.
func TestScenario_ConventionArchiveIsStagedAndInstalled(t *testing.T) {
	root := t.TempDir()
	downloads := filepath.Join(root, "Downloads")
	staging := filepath.Join(root, "BoothBridge", "temp")
	for _, dir := range []string{downloads, staging} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	log := zap.NewNop().Sugar()
	fc := clock.NewFake(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))

	store := catalog.NewStore(filepath.Join(root, "booth_assets.json"), filepath.Join(root, "booth_assets.backup.json"), log)
	if _, err := store.Upsert([]catalog.Product{{ID: "booth_222", Title: "Avatar"}}); err != nil {
		t.Fatal(err)
	}
	tracker := progress.NewTracker(fc, 3*time.Second)
	ex := archive.New(archive.Options{
		StagingDir:  staging,
		ScratchRoot: t.TempDir(),
		Installer:   store,
		Progress:    tracker,
		Clock:       fc,
	})
	loop := watcher.New(watcher.Options{
		Dir:       downloads,
		Resolver:  correlate.NewArchiveResolver(correlate.NewTracker(fc, time.Hour, nil), store, nil),
		Extractor: ex,
		Clock:     fc,
	})

	writeArchive(t, filepath.Join(downloads, "booth_222.zip"), map[string]string{
		"Avatar.unitypackage": "unity",
		"readme.txt":          "hello",
	})
	loop.Handle("booth_222.zip")
	fc.Advance(time.Second)

	staged, err := os.ReadDir(staging)
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 1 || staged[0].Name() != "Avatar.unitypackage" {
		t.Fatalf("staging = %v", staged)
	}

	products, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !products[0].Installed || products[0].ImportPath != "Assets/ImportedAssets/booth_222/" {
		t.Errorf("product = %+v", products[0])
	}

	if got := tracker.Snapshot(); got.Stage != progress.StageCompleted || got.Percent != 100 {
		t.Errorf("progress = %+v", got)
	}
	fc.Advance(3 * time.Second)
	if got := tracker.Snapshot(); got.Stage != progress.StageIdle {
		t.Errorf("progress after reset = %+v", got)
	}
}
