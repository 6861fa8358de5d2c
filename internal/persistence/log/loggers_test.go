package log

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"bombarena.ai/internal/lifecycle"
	"bombarena.ai/internal/match"
)

func readLines(t *testing.T, path string) [][]byte {
	t.Helper()
	var out [][]byte
	err := ReadFile(path, func(line []byte) error {
		out = append(out, append([]byte(nil), line...))
		return nil
	})
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	return out
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := Files(dir, "x")
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "x-2024-05-01-10.jsonl.zst" {
		t.Fatalf("files %v", files)
	}
	if n := len(readLines(t, files[0])); n != 2 {
		t.Fatalf("first file lines %d", n)
	}
	if n := len(readLines(t, files[1])); n != 1 {
		t.Fatalf("second file lines %d", n)
	}
}

func TestLinesReadableBeforeClose(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	defer l.Close()

	if err := l.WriteTick(match.TickEntry{MatchID: "m", Tick: 7, Phase: match.PhaseWorld}); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}
	files, _ := Files(filepath.Join(dir, "ticks"), "ticks")
	if len(files) != 1 {
		t.Fatalf("files %v", files)
	}
	lines := readLines(t, files[0])
	if len(lines) != 1 {
		t.Fatalf("lines %d", len(lines))
	}
	var got match.TickEntry
	if err := json.Unmarshal(lines[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Tick != 7 || got.Phase != match.PhaseWorld {
		t.Fatalf("entry %+v", got)
	}
}

func TestEventLoggerFlattensEvent(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)
	e := match.EventEntry{MatchID: "m", Tick: 3, Event: lifecycle.Event{Kind: lifecycle.EventBan, HandleID: 2, Module: "pablo", Code: "E_TRAP"}}
	if err := l.WriteEvent(e); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	files, _ := Files(filepath.Join(dir, "events"), "events")
	if len(files) != 1 {
		t.Fatalf("files %v", files)
	}
	var m map[string]any
	if err := json.Unmarshal(readLines(t, files[0])[0], &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["kind"] != "BAN" || m["code"] != "E_TRAP" || m["tick"] != float64(3) {
		t.Fatalf("event %v", m)
	}
}
