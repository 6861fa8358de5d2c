package hotswap

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func quietWatcher(dir string) *Watcher {
	return New(dir, log.New(io.Discard, "", 0))
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestScanListsModulesInOrder(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFile(t, filepath.Join(dir, "b.wasm"), "bbb", now)
	writeFile(t, filepath.Join(dir, "a.wat"), "(module)", now)
	writeFile(t, filepath.Join(dir, "notes.txt"), "x", now)
	writeFile(t, filepath.Join(dir, ".c.wasm.tmp"), "partial", now)
	writeFile(t, filepath.Join(dir, "d.wasm~"), "backup", now)
	if err := os.Mkdir(filepath.Join(dir, "sub.wasm"), 0o755); err != nil {
		t.Fatal(err)
	}

	w := quietWatcher(dir)
	files, err := w.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files: %+v", len(files), files)
	}
	if files[0].Name != "a" || files[1].Name != "b" {
		t.Fatalf("order = %s, %s", files[0].Name, files[1].Name)
	}
	if string(files[1].Source) != "bbb" || len(files[1].Digest) != 64 {
		t.Fatalf("bad file %+v", files[1])
	}
}

func TestScanDetectsContentChangeAndRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.wasm")
	t0 := time.Now().Add(-time.Hour)
	writeFile(t, path, "one", t0)

	w := quietWatcher(dir)
	first, err := w.Scan()
	if err != nil || len(first) != 1 {
		t.Fatalf("Scan = %v, %v", first, err)
	}

	again, _ := w.Scan()
	if again[0].Digest != first[0].Digest {
		t.Fatalf("digest changed without modification")
	}

	writeFile(t, path, "two", t0.Add(time.Minute))
	changed, _ := w.Scan()
	if changed[0].Digest == first[0].Digest {
		t.Fatalf("digest did not change")
	}
	if changed[0].Path != first[0].Path {
		t.Fatalf("identity changed: %s != %s", changed[0].Path, first[0].Path)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	gone, err := w.Scan()
	if err != nil || len(gone) != 0 {
		t.Fatalf("after remove: %v, %v", gone, err)
	}
}

func TestScanMissingDirectory(t *testing.T) {
	w := quietWatcher(filepath.Join(t.TempDir(), "nope"))
	if _, err := w.Scan(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWatchWakesOnNewModule(t *testing.T) {
	dir := t.TempDir()
	w := quietWatcher(dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Watch(ctx); err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	writeFile(t, filepath.Join(dir, "new.wasm"), "x", time.Now())
	select {
	case <-w.Wake():
	case <-time.After(5 * time.Second):
		t.Fatalf("no wake after create")
	}
}

func TestWatchBestEffortLogsUnwatchableDirectory(t *testing.T) {
	var buf bytes.Buffer
	w := New(filepath.Join(t.TempDir(), "missing"), log.New(&buf, "", 0))
	if err := w.Watch(context.Background()); err == nil {
		t.Fatalf("expected watch error for a missing directory")
	}
	buf.Reset()

	w.WatchBestEffort(context.Background())
	if !strings.Contains(buf.String(), "polling only") {
		t.Fatalf("log %q", buf.String())
	}
	if _, err := w.Scan(); err == nil {
		t.Fatalf("scan of a missing directory should still report its own error")
	}
}
