// Package hotswap reconciles a directory of agent modules into a stable,
// ordered file list with content digests for change detection.
package hotswap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// File is one module source on disk. Path is its identity; Digest changes
// whenever its content does.
type File struct {
	Path    string
	Name    string
	Digest  string
	Size    int64
	ModTime time.Time
	Source  []byte
}

type cacheEntry struct {
	size    int64
	modTime time.Time
	file    File
}

// Watcher lists module files. Scan is the source of truth; the fsnotify
// watcher only makes the caller scan sooner.
type Watcher struct {
	dir    string
	exts   map[string]bool
	logger *log.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	wake chan struct{}
}

func New(dir string, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.New(os.Stdout, "[hotswap] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Watcher{
		dir:    dir,
		exts:   map[string]bool{".wasm": true, ".wat": true},
		logger: logger,
		cache:  map[string]cacheEntry{},
		wake:   make(chan struct{}, 1),
	}
}

func (w *Watcher) Dir() string { return w.dir }

// Wake fires after filesystem activity in the directory.
func (w *Watcher) Wake() <-chan struct{} { return w.wake }

func (w *Watcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// IsModuleFile reports whether name looks like a finished module file.
// Dotfiles and editor or upload temporaries are ignored.
func (w *Watcher) IsModuleFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	return w.exts[strings.ToLower(filepath.Ext(base))]
}

// Scan lists module files sorted by name. Files whose size and mtime are
// unchanged since the last scan are not reread. An unreadable file is skipped
// for this scan; an unreadable directory is an error.
func (w *Watcher) Scan() ([]File, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", w.dir, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	out := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !w.IsModuleFile(e.Name()) {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				w.logger.Printf("stat %s: %v", path, err)
			}
			continue
		}
		seen[path] = true
		if c, ok := w.cache[path]; ok && c.size == info.Size() && c.modTime.Equal(info.ModTime()) {
			out = append(out, c.file)
			continue
		}
		src, err := os.ReadFile(path)
		if err != nil {
			w.logger.Printf("read %s: %v", path, err)
			continue
		}
		sum := sha256.Sum256(src)
		f := File{
			Path:    path,
			Name:    strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Digest:  hex.EncodeToString(sum[:]),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Source:  src,
		}
		w.cache[path] = cacheEntry{size: info.Size(), modTime: info.ModTime(), file: f}
		out = append(out, f)
	}
	for path := range w.cache {
		if !seen[path] {
			delete(w.cache, path)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Watch forwards directory events to Wake until ctx is done. It returns an
// error only if the watch cannot be established; polling still works then.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if !w.IsModuleFile(ev.Name) {
					continue
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					w.signal()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Printf("watch error: %v", err)
			}
		}
	}()
	return nil
}

// WatchBestEffort is Watch for callers that treat wake-ups as optional: a
// failed watch is logged and the periodic scan carries on alone.
func (w *Watcher) WatchBestEffort(ctx context.Context) {
	if err := w.Watch(ctx); err != nil {
		w.logger.Printf("%v; falling back to polling only", err)
	}
}
