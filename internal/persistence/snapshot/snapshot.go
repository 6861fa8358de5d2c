// Package snapshot stores the arena as it stood when a round ended.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"bombarena.ai/internal/protocol"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	MatchID string `json:"match_id"`
	Round   uint64 `json:"round"`
	Tick    uint64 `json:"tick"`
}

type RoundV1 struct {
	Header Header `json:"header"`

	Seed   int64  `json:"seed"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Tiles  string `json:"tiles"` // TILES_RLE

	Players     []PlayerV1   `json:"players"`
	Objects     []ObjectV1   `json:"objects"`
	Agents      []AgentV1    `json:"agents"`
	Leaderboard []StandingV1 `json:"leaderboard"`
}

type PlayerV1 struct {
	ID       uint64            `json:"id"`
	Name     string            `json:"name"`
	Team     string            `json:"team"`
	Pos      protocol.Location `json:"pos"`
	Score    uint32            `json:"score"`
	PowerUps map[uint8]uint32  `json:"power_ups,omitempty"`
}

type ObjectV1 struct {
	Pos           protocol.Location `json:"pos"`
	Kind          uint8             `json:"kind"`
	FuseRemaining uint32            `json:"fuse_remaining,omitempty"`
	Range         uint32            `json:"range,omitempty"`
	PowerUp       uint8             `json:"power_up,omitempty"`
}

type AgentV1 struct {
	ID       uint64 `json:"id"`
	HandleID uint64 `json:"handle_id"`
	Module   string `json:"module"`
	Name     string `json:"name"`
	Team     string `json:"team"`
	Turns    uint64 `json:"turns"`
	Fuel     uint64 `json:"fuel"`
}

type StandingV1 struct {
	Module string `json:"module"`
	Name   string `json:"name"`
	Team   string `json:"team"`
	Score  uint32 `json:"score"`
}

// Winner returns the top of the leaderboard, if anyone scored a place.
func (s RoundV1) Winner() (StandingV1, bool) {
	if len(s.Leaderboard) == 0 {
		return StandingV1{}, false
	}
	return s.Leaderboard[0], true
}

// FileName is the conventional name of a round snapshot.
func FileName(round uint64) string {
	return fmt.Sprintf("round_%04d.snap.zst", round)
}

// WriteSnapshot writes a JSON header line followed by the gob-encoded round,
// all zstd compressed.
func WriteSnapshot(path string, snap RoundV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

func ReadSnapshot(path string) (RoundV1, error) {
	var snap RoundV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header line is for tools that only need the round number.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}
