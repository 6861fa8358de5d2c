// Package upload accepts module submissions over HTTP and drops them into the
// players directory watched by the arena.
package upload

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	MaxModuleSize = 10_000_000
	KeyHeader     = "Api-Key"
)

var wasmMagic = []byte("\x00asm")

// LoadKeys reads one key per line from path. Missing keys are generated and the
// file is rewritten so it always holds exactly count keys.
func LoadKeys(path string, count int, logger *log.Logger) ([]string, error) {
	var keys []string
	f, err := os.Open(path)
	switch {
	case err == nil:
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if k := strings.TrimSpace(sc.Text()); k != "" {
				keys = append(keys, k)
			}
		}
		_ = f.Close()
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	switch {
	case len(keys) > count:
		logger.Printf("read %d api keys from %s, using the first %d", len(keys), path, count)
		return keys[:count], nil
	case len(keys) == count:
		logger.Printf("read %d api keys from %s", count, path)
		return keys, nil
	}

	logger.Printf("read %d api keys from %s, generating %d more", len(keys), path, count-len(keys))
	for len(keys) < count {
		keys = append(keys, strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
	}
	if err := writeAtomic(path, []byte(strings.Join(keys, "\n")+"\n"), 0o600); err != nil {
		return nil, err
	}
	return keys, nil
}

type Server struct {
	dir  string
	keys map[string]bool
	log  *log.Logger

	// Validate optionally rejects modules that would never load, e.g. by
	// compiling them and checking their exports.
	Validate func(src []byte) error
}

func NewServer(dir string, keys []string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stdout, "[upload] ", log.LstdFlags|log.Lmicroseconds)
	}
	s := &Server{dir: dir, keys: make(map[string]bool, len(keys)), log: logger}
	for _, k := range keys {
		s.keys[k] = true
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Post("/v1/modules", s.handleUpload)
	// Older clients POST to the root.
	r.Post("/", s.handleUpload)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "We only accept HTTP POST.", http.StatusMethodNotAllowed)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Printf("%s %s %s %d %s", r.Method, r.URL.Path, r.RemoteAddr, ww.Status(), time.Since(start))
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(KeyHeader)
	if key == "" {
		http.Error(w, "HTTP header Api-Key not present, please include it.", http.StatusUnauthorized)
		return
	}
	if !s.keys[key] {
		http.Error(w, fmt.Sprintf("HTTP header Api-Key %q not valid.", key), http.StatusUnauthorized)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, MaxModuleSize+1))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read input body: %v", err), http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		http.Error(w, "Please submit request with body.", http.StatusBadRequest)
		return
	}
	if len(data) > MaxModuleSize {
		http.Error(w, fmt.Sprintf("Maximum size of %d exceeded.", MaxModuleSize), http.StatusBadRequest)
		return
	}
	if !bytes.HasPrefix(data, wasmMagic) {
		http.Error(w, "Uploaded data not a WASM file.", http.StatusBadRequest)
		return
	}
	if s.Validate != nil {
		if err := s.Validate(data); err != nil {
			http.Error(w, fmt.Sprintf("Module rejected: %v", err), http.StatusUnprocessableEntity)
			return
		}
	}

	path := filepath.Join(s.dir, key+".wasm")
	if err := writeAtomic(path, data, 0o644); err != nil {
		s.log.Printf("save %s: %v", path, err)
		http.Error(w, fmt.Sprintf("Error accepting your submission: %v", err), http.StatusInternalServerError)
		return
	}
	s.log.Printf("%s saved (%d bytes)", path, len(data))
	_, _ = io.WriteString(w, "Your submission has been accepted.\n")
}

// writeAtomic writes a temp file next to path and renames it into place, so a
// directory watcher never sees a partial module.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
