package arena

import (
	"math/rand"
	"strings"
	"testing"

	"bombarena.ai/internal/protocol"
)

const testMap = `#######
#s...s#
#.#~#.#
#..c..#
#s...s#
#######`

func loc(x, y int32) protocol.Location { return protocol.Location{X: x, Y: y} }

func newTestState(t *testing.T, rules Rules) *State {
	t.Helper()
	m, err := ParseMap(testMap)
	if err != nil {
		t.Fatalf("ParseMap: %v", err)
	}
	s := NewState(m, rules, 1)
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return s
}

func place(t *testing.T, s *State, id uint64, at protocol.Location) {
	t.Helper()
	if err := s.PlaceAgent(id, at, "p", "t"); err != nil {
		t.Fatalf("PlaceAgent(%d, %v): %v", id, at, err)
	}
}

func TestParseMapErrors(t *testing.T) {
	for _, text := range []string{"", "\n", "###\n##\n"} {
		if _, err := ParseMap(text); err == nil {
			t.Errorf("ParseMap(%q) succeeded", text)
		}
	}
}

func TestBuildLayout(t *testing.T) {
	s := newTestState(t, DefaultRules())
	lay := s.Layout()
	if lay.Width != 7 || lay.Height != 6 {
		t.Fatalf("size %dx%d", lay.Width, lay.Height)
	}
	checks := map[protocol.Location]protocol.Tile{
		loc(0, 0): protocol.Wall,
		loc(1, 1): protocol.Floor,
		loc(3, 3): protocol.Hill,
		loc(2, 3): protocol.Wall,
	}
	for l, want := range checks {
		if got, _ := lay.Tile(l); got != want {
			t.Errorf("tile %v = %v, want %v", l, got, want)
		}
	}
	if _, ok := lay.Tile(loc(7, 0)); ok {
		t.Errorf("tile outside map reported")
	}
	if len(lay.Crates) != 1 || lay.Crates[0] != loc(3, 2) {
		t.Fatalf("crates %v", lay.Crates)
	}
	want := []protocol.Location{loc(1, 4), loc(5, 4), loc(1, 1), loc(5, 1)}
	if len(lay.Spawners) != len(want) {
		t.Fatalf("spawners %v", lay.Spawners)
	}
	for i := range want {
		if lay.Spawners[i] != want[i] {
			t.Fatalf("spawners %v, want %v", lay.Spawners, want)
		}
	}
}

func TestCrateChance(t *testing.T) {
	m, err := ParseMap(strings.Repeat("5", 400))
	if err != nil {
		t.Fatal(err)
	}
	lay := m.Build(rand.New(rand.NewSource(3)))
	if n := len(lay.Crates); n < 120 || n > 280 {
		t.Fatalf("%d crates from 400 half chances", n)
	}
	all, _ := ParseMap(strings.Repeat("c", 10))
	if n := len(all.Build(rand.New(rand.NewSource(3))).Crates); n != 10 {
		t.Fatalf("fixed crates = %d", n)
	}
}

func TestMovement(t *testing.T) {
	s := newTestState(t, DefaultRules())
	place(t, s, 1, loc(1, 1))
	place(t, s, 2, loc(3, 1))

	if s.AttemptMove(1, protocol.West) {
		t.Errorf("moved into wall")
	}
	if !s.AttemptMove(1, protocol.North) {
		t.Fatalf("move north failed")
	}
	if at, _ := s.AgentLocation(1); at != loc(1, 2) {
		t.Fatalf("at %v", at)
	}
	// (3,2) holds a crate.
	if s.AttemptMove(2, protocol.North) {
		t.Errorf("moved into crate")
	}
	if !s.AttemptMove(2, protocol.West) {
		t.Fatalf("move west failed")
	}
	if s.AttemptMove(2, protocol.West) {
		t.Errorf("moved onto another player")
	}
	if s.AttemptMove(99, protocol.North) {
		t.Errorf("unknown agent moved")
	}
	if err := s.PlaceAgent(3, loc(0, 0), "w", ""); err == nil {
		t.Errorf("placed agent in wall")
	}
	if err := s.PlaceAgent(1, loc(5, 1), "dup", ""); err == nil {
		t.Errorf("placed agent twice")
	}
}

func TestViewsAreBoundedAndExcludeSelf(t *testing.T) {
	s := newTestState(t, DefaultRules())
	place(t, s, 1, loc(1, 1))
	place(t, s, 2, loc(5, 4))

	for _, metric := range []protocol.Metric{protocol.MetricTaxicab, protocol.MetricChebyshev} {
		for _, id := range []uint64{1, 2} {
			center, _ := s.AgentLocation(id)
			view := s.TilesWithin(center, 3, metric, id)

			want := 0
			for y := int32(0); y < 6; y++ {
				for x := int32(0); x < 7; x++ {
					if metric.Distance(loc(x, y).Sub(center)) <= 3 {
						want++
					}
				}
			}
			if len(view) != want {
				t.Fatalf("%s agent %d: %d tiles, want %d", metric, id, len(view), want)
			}
			seen := map[protocol.TileOffset]bool{}
			for _, sur := range view {
				if metric.Distance(sur.Offset) > 3 {
					t.Fatalf("%s agent %d: offset %v out of range", metric, id, sur.Offset)
				}
				if seen[sur.Offset] {
					t.Fatalf("duplicate offset %v", sur.Offset)
				}
				seen[sur.Offset] = true
				if sur.Offset == (protocol.TileOffset{}) && sur.Enemy != nil {
					t.Fatalf("agent %d sees itself", id)
				}
				if tile, _ := s.Layout().Tile(center.Add(sur.Offset)); tile != sur.Tile {
					t.Fatalf("tile mismatch at %v", sur.Offset)
				}
			}
		}
	}

	// Agents seven tiles apart only see each other with a large radius.
	for _, sur := range s.TilesWithin(loc(1, 1), 3, protocol.MetricTaxicab, 1) {
		if sur.Enemy != nil {
			t.Fatalf("enemy visible out of range")
		}
	}
	found := false
	for _, sur := range s.TilesWithin(loc(1, 1), 7, protocol.MetricTaxicab, 1) {
		if sur.Enemy != nil {
			found = true
			if sur.Offset != (protocol.TileOffset{X: 4, Y: 3}) || sur.Enemy.Name != "p" {
				t.Fatalf("enemy %+v at %v", sur.Enemy, sur.Offset)
			}
		}
	}
	if !found {
		t.Fatalf("enemy not visible")
	}
}

func TestBombLifecycle(t *testing.T) {
	s := newTestState(t, DefaultRules())
	place(t, s, 1, loc(1, 1))
	place(t, s, 2, loc(1, 2))

	if !s.PlaceOrdnance(1, loc(1, 1)) {
		t.Fatalf("bomb not placed")
	}
	if s.PlaceOrdnance(1, loc(1, 1)) {
		t.Fatalf("second bomb placed on same tile")
	}
	if s.PlaceOrdnance(1, loc(2, 1)) {
		t.Fatalf("bomb placed away from player")
	}
	// Standing on its own bomb, the player can still walk off it.
	for i := 0; i < 3; i++ {
		if !s.AttemptMove(1, protocol.East) {
			t.Fatalf("move %d failed", i)
		}
	}
	if s.AttemptMove(2, protocol.South) {
		t.Fatalf("walked onto a bomb")
	}
	if s.PlaceOrdnance(1, loc(4, 1)) {
		t.Fatalf("second bomb without power-up")
	}

	for i := 0; i < 2; i++ {
		if res := s.WorldTick(); len(res.Exploded) != 0 {
			t.Fatalf("exploded early on tick %d", i)
		}
	}
	res := s.WorldTick()
	if len(res.Exploded) != 1 || res.Exploded[0] != loc(1, 1) {
		t.Fatalf("exploded %v", res.Exploded)
	}
	if len(res.Kills) != 1 || res.Kills[0].Victim != 2 || res.Kills[0].Killer != 1 {
		t.Fatalf("kills %+v", res.Kills)
	}
	if res.Kills[0].Pos != loc(1, 2) {
		t.Fatalf("kill pos %v", res.Kills[0].Pos)
	}
	s.RemoveAgent(2)
	if _, ok := s.AgentLocation(2); ok {
		t.Fatalf("victim still placed")
	}
	if _, ok := s.AgentLocation(1); !ok {
		t.Fatalf("bomber at distance 3 died")
	}
	for _, f := range res.Flames {
		if f == loc(0, 1) || f == loc(4, 1) {
			t.Fatalf("flame at %v", f)
		}
	}
	if !s.PlaceOrdnance(1, loc(4, 1)) {
		t.Fatalf("bomb slot not freed after explosion")
	}
}

func TestExplosionDestroysCrateAndChains(t *testing.T) {
	rules := DefaultRules()
	rules.PowerUpChance = 1
	s := newTestState(t, rules)
	s.objects[loc(3, 1)] = protocol.Bomb(0, 2)
	s.bombOwner[loc(3, 1)] = 7
	s.objects[loc(5, 1)] = protocol.Bomb(9, 1)
	s.bombOwner[loc(5, 1)] = 8
	place(t, s, 1, loc(5, 2))

	res := s.WorldTick()
	if len(res.Exploded) != 2 {
		t.Fatalf("exploded %v", res.Exploded)
	}
	if len(res.Destroyed) != 1 || res.Destroyed[0] != loc(3, 2) {
		t.Fatalf("destroyed %v", res.Destroyed)
	}
	if _, ok := res.Dropped[loc(3, 2)]; !ok {
		t.Fatalf("no power-up dropped")
	}
	for _, f := range res.Flames {
		if f == loc(3, 3) {
			t.Fatalf("flame passed through crate")
		}
	}
	if len(res.Kills) != 1 || res.Kills[0].Victim != 1 || res.Kills[0].Killer != 0 {
		t.Fatalf("kills %+v", res.Kills)
	}
	if o := s.objects[loc(3, 2)]; o.Kind != protocol.ObjectPowerUp {
		t.Fatalf("object at crate = %v", o)
	}
}

func TestPowerUpsAndHill(t *testing.T) {
	s := newTestState(t, DefaultRules())
	place(t, s, 1, loc(1, 1))
	place(t, s, 2, loc(3, 3))

	for i := 0; i < 7; i++ {
		s.objects[loc(1, 1)] = protocol.PowerUpObject(protocol.SimultaneousBombs)
		s.WorldTick()
	}
	if n := s.PowerUps(1)[protocol.SimultaneousBombs]; n != protocol.SimultaneousBombs.MaxPerPlayer() {
		t.Fatalf("simultaneous bombs = %d", n)
	}
	s.objects[loc(1, 1)] = protocol.PowerUpObject(protocol.VisionRange)
	res := s.WorldTick()
	if res.PickedUp[1] != protocol.VisionRange || s.VisionBonus(1) != 1 {
		t.Fatalf("vision pick up: %+v bonus %d", res.PickedUp, s.VisionBonus(1))
	}
	if _, left := s.objects[loc(1, 1)]; left {
		t.Fatalf("power-up not consumed")
	}

	if got := s.Score(2); got != 8 {
		t.Fatalf("hill score = %d", got)
	}
	if s.Score(1) != 0 {
		t.Fatalf("floor scored")
	}
	ps := s.Players()
	if len(ps) != 2 || ps[1].Score != 8 {
		t.Fatalf("players %+v", ps)
	}
}

func TestResetClearsState(t *testing.T) {
	s := newTestState(t, DefaultRules())
	place(t, s, 1, loc(1, 1))
	s.PlaceOrdnance(1, loc(1, 1))
	s.Reset()
	if len(s.Players()) != 0 {
		t.Fatalf("players survived reset")
	}
	objs := s.Objects()
	if len(objs) != 1 || objs[0].Object.Kind != protocol.ObjectCrate {
		t.Fatalf("objects %+v", objs)
	}
	if len(s.SpawnPoints()) != 4 {
		t.Fatalf("spawn points %v", s.SpawnPoints())
	}
}
