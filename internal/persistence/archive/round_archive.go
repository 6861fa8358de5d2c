package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"bombarena.ai/internal/persistence/snapshot"
)

type RoundArchiveMeta struct {
	MatchID   string `json:"match_id"`
	Round     uint64 `json:"round"`
	EndTick   uint64 `json:"end_tick"`
	Seed      int64  `json:"seed"`
	Snapshot  string `json:"snapshot"`
	Winner    string `json:"winner,omitempty"`
	Module    string `json:"module,omitempty"`
	Score     uint32 `json:"score"`
	CreatedAt string `json:"created_at"`
}

// ArchiveRound copies a round snapshot into `matchDir/archives/round_<NNNN>/`
// together with the winning module's bytes, which a later upload may overwrite.
// A round without a winner archives the snapshot alone.
func ArchiveRound(matchDir, playersDir, snapshotPath string, snap snapshot.RoundV1) (archiveDir string, err error) {
	archiveDir = filepath.Join(matchDir, "archives", fmt.Sprintf("round_%04d", snap.Header.Round))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := RoundArchiveMeta{
		MatchID:   snap.Header.MatchID,
		Round:     snap.Header.Round,
		EndTick:   snap.Header.Tick,
		Seed:      snap.Seed,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if w, ok := snap.Winner(); ok {
		meta.Winner = w.Name
		meta.Module = w.Module
		meta.Score = w.Score
		src := filepath.Join(playersDir, filepath.Base(w.Module))
		if err := copyFile(src, filepath.Join(archiveDir, filepath.Base(w.Module))); err != nil {
			// Module removed since the round ended; the snapshot still names it.
			if !os.IsNotExist(err) {
				return "", err
			}
			meta.Module = ""
		}
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return archiveDir, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
