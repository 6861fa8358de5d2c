package arena

import (
	"sort"

	"bombarena.ai/internal/protocol"
)

// Kill is a player caught in an explosion. Killer is the bomb owner, zero if
// the owner is gone or the victim bombed itself.
type Kill struct {
	Victim uint64            `json:"victim"`
	Killer uint64            `json:"killer,omitempty"`
	Score  uint32            `json:"score"`
	Pos    protocol.Location `json:"pos"`
}

// TickResult is what happened during one world tick.
type TickResult struct {
	Exploded  []protocol.Location
	Flames    []protocol.Location
	Destroyed []protocol.Location
	Dropped   map[protocol.Location]protocol.PowerUp
	Kills     []Kill
	PickedUp  map[uint64]protocol.PowerUp
}

// WorldTick advances bombs, resolves explosions and chain reactions, destroys
// crates, hands out power-ups and scores hills. Killed players stay placed
// until RemoveAgent so the caller can still locate them, but they no longer
// pick up or score.
func (s *State) WorldTick() TickResult {
	var res TickResult

	var due []protocol.Location
	for _, loc := range sortedLocations(s.bombOwner) {
		o := s.objects[loc]
		if o.FuseRemaining == 0 {
			due = append(due, loc)
			continue
		}
		o.FuseRemaining--
		s.objects[loc] = o
	}

	flames := map[protocol.Location]uint64{}
	exploded := map[protocol.Location]bool{}
	var crates []protocol.Location
	for len(due) > 0 {
		loc := due[0]
		due = due[1:]
		if exploded[loc] {
			continue
		}
		exploded[loc] = true
		bomb := s.objects[loc]
		owner := s.bombOwner[loc]
		delete(s.objects, loc)
		delete(s.bombOwner, loc)
		res.Exploded = append(res.Exploded, loc)
		flames[loc] = owner

		for _, d := range protocol.AllDirections {
			for reach := int32(1); reach <= int32(bomb.Range); reach++ {
				at := loc.Add(d.Extend(reach))
				tile, ok := s.layout.Tile(at)
				if !ok || tile == protocol.Wall {
					break
				}
				if _, lit := flames[at]; !lit {
					flames[at] = owner
				}
				o, has := s.objects[at]
				if !has {
					continue
				}
				if o.Kind == protocol.ObjectCrate {
					crates = append(crates, at)
					break
				}
				if o.Kind == protocol.ObjectBomb && !exploded[at] {
					due = append(due, at)
				}
			}
		}
	}

	res.Dropped = map[protocol.Location]protocol.PowerUp{}
	for _, c := range crates {
		if o, ok := s.objects[c]; !ok || o.Kind != protocol.ObjectCrate {
			continue
		}
		delete(s.objects, c)
		res.Destroyed = append(res.Destroyed, c)
		if s.rng.Float64() < s.rules.PowerUpChance {
			pu := protocol.PowerUp(s.rng.Intn(3))
			s.objects[c] = protocol.PowerUpObject(pu)
			res.Dropped[c] = pu
		}
	}

	dead := map[uint64]bool{}
	for _, id := range s.playerIDs() {
		p := s.players[id]
		if _, burning := flames[p.pos]; burning {
			dead[id] = true
		}
	}
	for _, id := range s.playerIDs() {
		if !dead[id] {
			continue
		}
		p := s.players[id]
		owner := flames[p.pos]
		if _, alive := s.players[owner]; !alive || dead[owner] || owner == id {
			owner = 0
		}
		res.Kills = append(res.Kills, Kill{Victim: id, Killer: owner, Score: p.score, Pos: p.pos})
	}

	res.PickedUp = map[uint64]protocol.PowerUp{}
	for _, id := range s.playerIDs() {
		if dead[id] {
			continue
		}
		p := s.players[id]
		o, ok := s.objects[p.pos]
		if ok && o.Kind == protocol.ObjectPowerUp {
			n := p.powerUps[o.PowerUp] + 1
			if limit := o.PowerUp.MaxPerPlayer(); n > limit {
				n = limit
			}
			p.powerUps[o.PowerUp] = n
			delete(s.objects, p.pos)
			res.PickedUp[id] = o.PowerUp
		}
		if tile, _ := s.layout.Tile(p.pos); tile == protocol.Hill {
			p.score += s.rules.HillPoints
		}
	}

	res.Flames = sortedLocations(flames)
	s.flames = res.Flames
	return res
}

// Flames returns the tiles that burned during the last world tick.
func (s *State) Flames() []protocol.Location { return s.flames }

func sortedLocations[V any](m map[protocol.Location]V) []protocol.Location {
	out := make([]protocol.Location, 0, len(m))
	for l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}
