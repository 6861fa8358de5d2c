package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"bombarena.ai/internal/protocol"
)

// EncodeTilesRLE packs a row-major tile grid into base64(varint pairs) of
// (tile, run_len). Observers use it to receive the arena map in one message.
func EncodeTilesRLE(tiles []protocol.Tile) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(tiles) {
		t := tiles[i]
		run := 1
		for j := i + 1; j < len(tiles) && tiles[j] == t; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(t))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeTilesRLE reverses EncodeTilesRLE. limit bounds the decoded length so a
// hostile payload cannot make us allocate without bound.
func DecodeTilesRLE(b64 string, limit int) ([]protocol.Tile, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []protocol.Tile
	for i := 0; i < len(raw); {
		t, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if !protocol.Tile(t).Valid() || t > 0xFF {
			return nil, fmt.Errorf("unknown tile %d", t)
		}
		if uint64(len(out))+run > uint64(limit) {
			return nil, fmt.Errorf("decoded length exceeds %d", limit)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, protocol.Tile(t))
		}
	}
	return out, nil
}
