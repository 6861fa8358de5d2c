package upload

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var quiet = log.New(io.Discard, "", 0)

func post(t *testing.T, h http.Handler, path, key string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if key != "" {
		req.Header.Set(KeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	s := NewServer(dir, []string{"k1"}, quiet)
	h := s.Routes()
	module := append([]byte("\x00asm\x01\x00\x00\x00"), 1, 2, 3)

	cases := []struct {
		name string
		key  string
		body []byte
		want int
	}{
		{"no key", "", module, http.StatusUnauthorized},
		{"bad key", "nope", module, http.StatusUnauthorized},
		{"empty", "k1", nil, http.StatusBadRequest},
		{"not wasm", "k1", []byte("hello"), http.StatusBadRequest},
		{"too big", "k1", append([]byte("\x00asm"), make([]byte, MaxModuleSize)...), http.StatusBadRequest},
		{"ok", "k1", module, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(t, h, "/v1/modules", tc.key, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status %d want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}

	got, err := os.ReadFile(filepath.Join(dir, "k1.wasm"))
	if err != nil {
		t.Fatalf("read saved module: %v", err)
	}
	if !bytes.Equal(got, module) {
		t.Fatalf("saved %x", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestUploadReplacesAndValidates(t *testing.T) {
	dir := t.TempDir()
	s := NewServer(dir, []string{"k1"}, quiet)
	s.Validate = func(src []byte) error {
		if bytes.HasSuffix(src, []byte("bad")) {
			return errors.New("missing export")
		}
		return nil
	}
	h := s.Routes()

	if rec := post(t, h, "/", "k1", []byte("\x00asm-v1")); rec.Code != http.StatusOK {
		t.Fatalf("root post status %d", rec.Code)
	}
	if rec := post(t, h, "/v1/modules", "k1", []byte("\x00asm-v2")); rec.Code != http.StatusOK {
		t.Fatalf("second post status %d", rec.Code)
	}
	rec := post(t, h, "/v1/modules", "k1", []byte("\x00asm-bad"))
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "missing export") {
		t.Fatalf("validate status %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := os.ReadFile(filepath.Join(dir, "k1.wasm"))
	if string(got) != "\x00asm-v2" {
		t.Fatalf("saved %q", got)
	}
}

func TestGetNotAllowed(t *testing.T) {
	h := NewServer(t.TempDir(), nil, quiet).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/modules", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestLoadKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_keys.txt")

	keys, err := LoadKeys(path, 3, quiet)
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}
	if len(keys) != 3 || keys[0] == keys[1] {
		t.Fatalf("keys %v", keys)
	}

	again, err := LoadKeys(path, 3, quiet)
	if err != nil {
		t.Fatalf("LoadKeys again: %v", err)
	}
	if strings.Join(again, ",") != strings.Join(keys, ",") {
		t.Fatalf("keys changed: %v vs %v", again, keys)
	}

	fewer, _ := LoadKeys(path, 2, quiet)
	if len(fewer) != 2 || fewer[0] != keys[0] {
		t.Fatalf("truncated keys %v", fewer)
	}

	more, _ := LoadKeys(path, 5, quiet)
	if len(more) != 5 || more[2] != keys[2] {
		t.Fatalf("extended keys %v", more)
	}
}
