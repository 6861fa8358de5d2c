package encoding

import "bombarena.ai/internal/protocol"

// Minimum encoded sizes, used to bound vector length prefixes.
const (
	minSurroundingSize = 4 + 1 + 1 + 8
)

var (
	ActionCodec = Codec[protocol.Action]{Encode: EncodeAction, Decode: DecodeAction}
	StringCodec = Codec[string]{Encode: EncodeString, Decode: DecodeString}
	ResultCodec = Codec[protocol.LastTurnResult]{Encode: EncodeLastTurnResult, Decode: DecodeLastTurnResult}
	ViewCodec   = Codec[[]protocol.Surrounding]{Encode: EncodeSurroundings, Decode: DecodeSurroundings}
	EnemyCodec  = Codec[protocol.Enemy]{Encode: EncodeEnemy, Decode: DecodeEnemy}
	ObjectCodec = Codec[protocol.Object]{Encode: EncodeObject, Decode: DecodeObject}
	OffsetCodec = Codec[protocol.TileOffset]{Encode: EncodeOffset, Decode: DecodeOffset}
)

func decodeWith[T any](b []byte, read func(*Reader) T) (T, error) {
	r := NewReader(b)
	v := read(r)
	if err := r.Finish(); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func WriteDirection(w *Writer, d protocol.Direction) { w.Variant(uint32(d)) }

func ReadDirection(r *Reader) protocol.Direction {
	return protocol.Direction(r.Variant("direction", 4))
}

func WriteTile(w *Writer, t protocol.Tile) { w.Variant(uint32(t)) }

func ReadTile(r *Reader) protocol.Tile { return protocol.Tile(r.Variant("tile", 3)) }

func WriteObject(w *Writer, o protocol.Object) {
	w.Variant(uint32(o.Kind))
	switch o.Kind {
	case protocol.ObjectBomb:
		w.U32(o.FuseRemaining)
		w.U32(o.Range)
	case protocol.ObjectPowerUp:
		w.Variant(uint32(o.PowerUp))
	}
}

func ReadObject(r *Reader) protocol.Object {
	o := protocol.Object{Kind: protocol.ObjectKind(r.Variant("object", 3))}
	switch o.Kind {
	case protocol.ObjectBomb:
		o.FuseRemaining = r.U32()
		o.Range = r.U32()
	case protocol.ObjectPowerUp:
		o.PowerUp = protocol.PowerUp(r.Variant("power-up", 3))
	}
	return o
}

func WriteEnemy(w *Writer, e protocol.Enemy) {
	w.String(e.Name)
	w.String(e.TeamName)
	w.U32(e.Score)
}

func ReadEnemy(r *Reader) protocol.Enemy {
	var e protocol.Enemy
	e.Name = r.String("enemy name")
	e.TeamName = r.String("enemy team name")
	e.Score = r.U32()
	return e
}

func WriteOffset(w *Writer, o protocol.TileOffset) {
	w.I32(o.X)
	w.I32(o.Y)
}

func ReadOffset(r *Reader) protocol.TileOffset {
	return protocol.TileOffset{X: r.I32(), Y: r.I32()}
}

func WriteSurrounding(w *Writer, s protocol.Surrounding) {
	WriteTile(w, s.Tile)
	w.Option(s.Object != nil)
	if s.Object != nil {
		WriteObject(w, *s.Object)
	}
	w.Option(s.Enemy != nil)
	if s.Enemy != nil {
		WriteEnemy(w, *s.Enemy)
	}
	WriteOffset(w, s.Offset)
}

func ReadSurrounding(r *Reader) protocol.Surrounding {
	s := protocol.Surrounding{Tile: ReadTile(r)}
	if r.Option("object") {
		o := ReadObject(r)
		s.Object = &o
	}
	if r.Option("enemy") {
		e := ReadEnemy(r)
		s.Enemy = &e
	}
	s.Offset = ReadOffset(r)
	return s
}

func WriteAction(w *Writer, a protocol.Action) {
	w.Variant(uint32(a.Kind))
	if a.HasDirection() {
		WriteDirection(w, a.Direction)
	}
}

func ReadAction(r *Reader) protocol.Action {
	a := protocol.Action{Kind: protocol.ActionKind(r.Variant("action", 4))}
	if a.HasDirection() {
		a.Direction = ReadDirection(r)
	}
	return a
}

func EncodeAction(a protocol.Action) []byte {
	w := NewWriter(8)
	WriteAction(w, a)
	return w.Bytes()
}

func DecodeAction(b []byte) (protocol.Action, error) { return decodeWith(b, ReadAction) }

func EncodeLastTurnResult(v protocol.LastTurnResult) []byte {
	w := NewWriter(4)
	w.Variant(uint32(v))
	return w.Bytes()
}

func DecodeLastTurnResult(b []byte) (protocol.LastTurnResult, error) {
	return decodeWith(b, func(r *Reader) protocol.LastTurnResult {
		return protocol.LastTurnResult(r.Variant("last turn result", 4))
	})
}

func EncodeString(s string) []byte {
	w := NewWriter(8 + len(s))
	w.String(s)
	return w.Bytes()
}

func DecodeString(b []byte) (string, error) {
	return decodeWith(b, func(r *Reader) string { return r.String("string") })
}

func EncodeEnemy(e protocol.Enemy) []byte {
	w := NewWriter(20 + len(e.Name) + len(e.TeamName))
	WriteEnemy(w, e)
	return w.Bytes()
}

func DecodeEnemy(b []byte) (protocol.Enemy, error) { return decodeWith(b, ReadEnemy) }

func EncodeObject(o protocol.Object) []byte {
	w := NewWriter(12)
	WriteObject(w, o)
	return w.Bytes()
}

func DecodeObject(b []byte) (protocol.Object, error) { return decodeWith(b, ReadObject) }

func EncodeOffset(o protocol.TileOffset) []byte {
	w := NewWriter(8)
	WriteOffset(w, o)
	return w.Bytes()
}

func DecodeOffset(b []byte) (protocol.TileOffset, error) { return decodeWith(b, ReadOffset) }

func EncodeSurroundings(ss []protocol.Surrounding) []byte {
	w := NewWriter(8 + len(ss)*24)
	w.Len64(len(ss))
	for _, s := range ss {
		WriteSurrounding(w, s)
	}
	return w.Bytes()
}

func DecodeSurroundings(b []byte) ([]protocol.Surrounding, error) {
	return decodeWith(b, func(r *Reader) []protocol.Surrounding {
		n := r.Len64("surroundings", minSurroundingSize)
		out := make([]protocol.Surrounding, 0, n)
		for i := 0; i < n && r.Err() == nil; i++ {
			out = append(out, ReadSurrounding(r))
		}
		return out
	})
}
