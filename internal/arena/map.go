// Package arena is the game state the agent core plays against: a tile map
// with crates, bombs, power-ups and players.
package arena

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"bombarena.ai/internal/protocol"
)

// Map is a parsed map text. Crate chances are rolled again on every Build.
type Map struct {
	Width  int
	Height int
	text   string
}

// Layout is one realization of a Map.
type Layout struct {
	Width    int
	Height   int
	Tiles    []protocol.Tile // row-major, row 0 is the bottom
	Crates   []protocol.Location
	Spawners []protocol.Location
}

// ParseMap validates map text. The first line is the top row. Characters:
// '#' wall, '~' hill, 'C' crate on a hill, 'c' crate, '1'-'9' crate with that
// many chances in ten, 's' spawner, anything else floor.
func ParseMap(text string) (*Map, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, errors.New("map must have at least one row and one column")
	}
	w := len(lines[0])
	for i, l := range lines {
		if len(l) != w {
			return nil, fmt.Errorf("map row %d has %d columns, want %d", i+1, len(l), w)
		}
	}
	return &Map{Width: w, Height: len(lines), text: strings.Join(lines, "\n")}, nil
}

func LoadMap(path string) (*Map, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseMap(string(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Build realizes the map, rolling crate chances with rng.
func (m *Map) Build(rng *rand.Rand) Layout {
	lay := Layout{Width: m.Width, Height: m.Height, Tiles: make([]protocol.Tile, m.Width*m.Height)}
	lines := strings.Split(m.text, "\n")
	for row, line := range lines {
		y := m.Height - 1 - row
		for x, c := range []byte(line) {
			loc := protocol.Location{X: int32(x), Y: int32(y)}
			lay.Tiles[y*m.Width+x] = tileFromChar(c)
			switch {
			case c == 'c' || c == 'C':
				lay.Crates = append(lay.Crates, loc)
			case c >= '1' && c <= '9':
				if int(c-'0') >= rng.Intn(10)+1 {
					lay.Crates = append(lay.Crates, loc)
				}
			case c == 's':
				lay.Spawners = append(lay.Spawners, loc)
			}
		}
	}
	return lay
}

func tileFromChar(c byte) protocol.Tile {
	switch c {
	case '#':
		return protocol.Wall
	case '~', 'C':
		return protocol.Hill
	}
	return protocol.Floor
}

func (l *Layout) Inside(p protocol.Location) bool {
	return p.X >= 0 && p.Y >= 0 && int(p.X) < l.Width && int(p.Y) < l.Height
}

func (l *Layout) Tile(p protocol.Location) (protocol.Tile, bool) {
	if !l.Inside(p) {
		return 0, false
	}
	return l.Tiles[int(p.Y)*l.Width+int(p.X)], true
}
