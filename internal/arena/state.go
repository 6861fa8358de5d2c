package arena

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"bombarena.ai/internal/protocol"
)

type Rules struct {
	// BombFuse is the number of world ticks a bomb waits before the tick it
	// explodes on.
	BombFuse      uint32
	BaseBombRange uint32
	PowerUpChance float64
	HillPoints    uint32
}

func DefaultRules() Rules {
	return Rules{BombFuse: 2, BaseBombRange: 2, PowerUpChance: 0.3, HillPoints: 1}
}

type player struct {
	id       uint64
	pos      protocol.Location
	name     string
	team     string
	score    uint32
	powerUps map[protocol.PowerUp]uint32
}

// State is the live arena. It is owned by the match goroutine.
type State struct {
	m     *Map
	rules Rules
	rng   *rand.Rand

	layout    Layout
	objects   map[protocol.Location]protocol.Object
	bombOwner map[protocol.Location]uint64
	players   map[uint64]*player
	flames    []protocol.Location
}

func NewState(m *Map, rules Rules, seed int64) *State {
	s := &State{m: m, rules: rules, rng: rand.New(rand.NewSource(seed))}
	s.Reset()
	return s
}

// Reset rebuilds the map and removes every player and object.
func (s *State) Reset() {
	s.layout = s.m.Build(s.rng)
	s.objects = map[protocol.Location]protocol.Object{}
	s.bombOwner = map[protocol.Location]uint64{}
	s.players = map[uint64]*player{}
	s.flames = nil
	for _, c := range s.layout.Crates {
		s.objects[c] = protocol.Crate()
	}
}

func (s *State) Layout() *Layout { return &s.layout }

// SpawnPoints returns spawners not covered by an object.
func (s *State) SpawnPoints() []protocol.Location {
	out := make([]protocol.Location, 0, len(s.layout.Spawners))
	for _, p := range s.layout.Spawners {
		if _, blocked := s.objects[p]; !blocked {
			out = append(out, p)
		}
	}
	return out
}

// OccupiedLocations returns player positions in id order.
func (s *State) OccupiedLocations() []protocol.Location {
	ids := s.playerIDs()
	out := make([]protocol.Location, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.players[id].pos)
	}
	return out
}

func (s *State) PlaceAgent(id uint64, at protocol.Location, name, team string) error {
	if _, dup := s.players[id]; dup {
		return fmt.Errorf("agent %d already placed", id)
	}
	if !s.walkable(at) {
		return fmt.Errorf("location %s is not free", at)
	}
	s.players[id] = &player{id: id, pos: at, name: name, team: team, powerUps: map[protocol.PowerUp]uint32{}}
	return nil
}

func (s *State) RemoveAgent(id uint64) { delete(s.players, id) }

func (s *State) AgentLocation(id uint64) (protocol.Location, bool) {
	p, ok := s.players[id]
	if !ok {
		return protocol.Location{}, false
	}
	return p.pos, true
}

func (s *State) Score(id uint64) uint32 {
	if p, ok := s.players[id]; ok {
		return p.score
	}
	return 0
}

func (s *State) PowerUps(id uint64) map[protocol.PowerUp]uint32 {
	if p, ok := s.players[id]; ok {
		return p.powerUps
	}
	return nil
}

func (s *State) VisionBonus(id uint64) uint32 {
	if p, ok := s.players[id]; ok {
		return p.powerUps[protocol.VisionRange]
	}
	return 0
}

// TilesWithin lists map tiles within radius of center, top row first. The
// player self is never reported as an enemy.
func (s *State) TilesWithin(center protocol.Location, radius uint32, metric protocol.Metric, self uint64) []protocol.Surrounding {
	occupant := map[protocol.Location]*player{}
	for _, p := range s.players {
		if p.id != self {
			occupant[p.pos] = p
		}
	}
	r := int32(radius)
	var out []protocol.Surrounding
	for dy := r; dy >= -r; dy-- {
		for dx := -r; dx <= r; dx++ {
			off := protocol.TileOffset{X: dx, Y: dy}
			if metric.Distance(off) > radius {
				continue
			}
			loc := center.Add(off)
			tile, ok := s.layout.Tile(loc)
			if !ok {
				continue
			}
			sur := protocol.Surrounding{Tile: tile, Offset: off}
			if o, ok := s.objects[loc]; ok {
				sur.Object = &o
			}
			if p := occupant[loc]; p != nil {
				sur.Enemy = &protocol.Enemy{Name: p.name, TeamName: p.team, Score: p.score}
			}
			out = append(out, sur)
		}
	}
	return out
}

// AttemptMove moves the player one tile. Walls, solid objects, other players
// and the map edge reject the move.
func (s *State) AttemptMove(id uint64, d protocol.Direction) bool {
	p, ok := s.players[id]
	if !ok || !d.Valid() {
		return false
	}
	to := p.pos.Step(d)
	if !s.walkable(to) {
		return false
	}
	p.pos = to
	return true
}

// PlaceOrdnance drops a bomb owned by id at the given location, which must be
// where the player stands.
func (s *State) PlaceOrdnance(id uint64, at protocol.Location) bool {
	p, ok := s.players[id]
	if !ok || p.pos != at {
		return false
	}
	if _, taken := s.objects[at]; taken {
		return false
	}
	limit := 1 + p.powerUps[protocol.SimultaneousBombs]
	var live uint32
	for _, owner := range s.bombOwner {
		if owner == id {
			live++
		}
	}
	if live >= limit {
		return false
	}
	rng := s.rules.BaseBombRange + p.powerUps[protocol.BombRange]
	s.objects[at] = protocol.Bomb(s.rules.BombFuse, rng)
	s.bombOwner[at] = id
	return true
}

func (s *State) walkable(at protocol.Location) bool {
	tile, ok := s.layout.Tile(at)
	if !ok || tile == protocol.Wall {
		return false
	}
	if o, ok := s.objects[at]; ok && o.Solid() {
		return false
	}
	for _, p := range s.players {
		if p.pos == at {
			return false
		}
	}
	return true
}

func (s *State) playerIDs() []uint64 {
	ids := make([]uint64, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Validate checks that the map can host at least one player.
func (s *State) Validate() error {
	if len(s.layout.Spawners) == 0 {
		return errors.New("map has no spawners")
	}
	return nil
}

// PlayerInfo is a read-only copy of one player.
type PlayerInfo struct {
	ID       uint64                      `json:"id"`
	Name     string                      `json:"name"`
	Team     string                      `json:"team"`
	Pos      protocol.Location           `json:"pos"`
	Score    uint32                      `json:"score"`
	PowerUps map[protocol.PowerUp]uint32 `json:"power_ups,omitempty"`
}

// ObjectInfo is a read-only copy of one object.
type ObjectInfo struct {
	Pos    protocol.Location `json:"pos"`
	Object protocol.Object   `json:"object"`
}

func (s *State) Players() []PlayerInfo {
	ids := s.playerIDs()
	out := make([]PlayerInfo, 0, len(ids))
	for _, id := range ids {
		p := s.players[id]
		pu := make(map[protocol.PowerUp]uint32, len(p.powerUps))
		for k, v := range p.powerUps {
			pu[k] = v
		}
		out = append(out, PlayerInfo{ID: p.id, Name: p.name, Team: p.team, Pos: p.pos, Score: p.score, PowerUps: pu})
	}
	return out
}

func (s *State) Objects() []ObjectInfo {
	locs := sortedLocations(s.objects)
	out := make([]ObjectInfo, 0, len(locs))
	for _, l := range locs {
		out = append(out, ObjectInfo{Pos: l, Object: s.objects[l]})
	}
	return out
}
