package snapshot

import (
	"path/filepath"
	"testing"

	"bombarena.ai/internal/protocol"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", FileName(3))
	in := RoundV1{
		Header: Header{Version: Version, MatchID: "match_a", Round: 3, Tick: 41},
		Seed:   7,
		Width:  3,
		Height: 1,
		Tiles:  "#3",
		Players: []PlayerV1{
			{ID: 1, Name: "hill", Pos: protocol.Location{X: 1, Y: 0}, Score: 4, PowerUps: map[uint8]uint32{0: 1}},
		},
		Objects:     []ObjectV1{{Pos: protocol.Location{X: 2, Y: 0}, Kind: uint8(protocol.ObjectCrate)}},
		Agents:      []AgentV1{{ID: 1, HandleID: 1, Module: "hill.wasm", Name: "hill", Turns: 20, Fuel: 900}},
		Leaderboard: []StandingV1{{Module: "hill.wasm", Name: "hill", Score: 4}},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Round != 3 || h.MatchID != "match_a" {
		t.Fatalf("header %+v", h)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Header.Tick != 41 || len(out.Players) != 1 || out.Players[0].PowerUps[0] != 1 || out.Agents[0].Fuel != 900 {
		t.Fatalf("snapshot %+v", out)
	}
	w, ok := out.Winner()
	if !ok || w.Module != "hill.wasm" {
		t.Fatalf("winner %+v %v", w, ok)
	}
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(0))
	if err := WriteSnapshot(path, RoundV1{Header: Header{Version: 99}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}
