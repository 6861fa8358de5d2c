// Package protocol defines the values exchanged with sandboxed player modules.
// Discriminant order is part of the wire contract; do not reorder.
package protocol

import "fmt"

// Version is the module ABI version advertised to module authors.
const Version = "1.0"

type Direction uint8

const (
	West Direction = iota
	North
	East
	South
)

// AllDirections lists directions in discriminant order.
var AllDirections = [4]Direction{West, North, East, South}

func (d Direction) Valid() bool { return d <= South }

func (d Direction) String() string {
	switch d {
	case West:
		return "West"
	case North:
		return "North"
	case East:
		return "East"
	case South:
		return "South"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// Extend returns the offset reached by walking n tiles in d.
func (d Direction) Extend(n int32) TileOffset {
	switch d {
	case West:
		return TileOffset{X: -n}
	case North:
		return TileOffset{Y: n}
	case East:
		return TileOffset{X: n}
	case South:
		return TileOffset{Y: -n}
	}
	return TileOffset{}
}

type Tile uint8

const (
	// Wall is impassable and survives explosions.
	Wall Tile = iota
	Floor
	// Hill scores a point per world tick for whoever stands on it.
	Hill
)

func (t Tile) Valid() bool { return t <= Hill }

func (t Tile) String() string {
	switch t {
	case Wall:
		return "Wall"
	case Floor:
		return "Floor"
	case Hill:
		return "Hill"
	}
	return fmt.Sprintf("Tile(%d)", uint8(t))
}

type PowerUp uint8

const (
	BombRange PowerUp = iota
	SimultaneousBombs
	VisionRange
)

func (p PowerUp) Valid() bool { return p <= VisionRange }

func (p PowerUp) String() string {
	switch p {
	case BombRange:
		return "BombRange"
	case SimultaneousBombs:
		return "SimultaneousBombs"
	case VisionRange:
		return "VisionRange"
	}
	return fmt.Sprintf("PowerUp(%d)", uint8(p))
}

// MaxPerPlayer caps how many of each power-up a single player can hold.
func (p PowerUp) MaxPerPlayer() uint32 {
	switch p {
	case BombRange:
		return 5
	case SimultaneousBombs:
		return 3
	case VisionRange:
		return 5
	}
	return 0
}

type ObjectKind uint8

const (
	ObjectBomb ObjectKind = iota
	ObjectPowerUp
	ObjectCrate
)

// Object is anything found on top of a tile other than a player.
// FuseRemaining and Range are meaningful for bombs, PowerUp for power-ups.
type Object struct {
	Kind          ObjectKind
	FuseRemaining uint32
	Range         uint32
	PowerUp       PowerUp
}

func Bomb(fuse, rng uint32) Object   { return Object{Kind: ObjectBomb, FuseRemaining: fuse, Range: rng} }
func PowerUpObject(p PowerUp) Object { return Object{Kind: ObjectPowerUp, PowerUp: p} }
func Crate() Object                  { return Object{Kind: ObjectCrate} }

// Solid objects block movement.
func (o Object) Solid() bool { return o.Kind == ObjectBomb || o.Kind == ObjectCrate }

func (o Object) String() string {
	switch o.Kind {
	case ObjectBomb:
		return fmt.Sprintf("Bomb{fuse:%d range:%d}", o.FuseRemaining, o.Range)
	case ObjectPowerUp:
		return "PowerUp(" + o.PowerUp.String() + ")"
	case ObjectCrate:
		return "Crate"
	}
	return fmt.Sprintf("Object(%d)", uint8(o.Kind))
}

// Enemy is the summary of a rival player visible to an agent.
type Enemy struct {
	Name     string
	TeamName string
	Score    uint32
}

// TileOffset is a position relative to the observing agent.
type TileOffset struct {
	X int32
	Y int32
}

func (o TileOffset) Add(p TileOffset) TileOffset { return TileOffset{X: o.X + p.X, Y: o.Y + p.Y} }

func (o TileOffset) Taxicab() uint32 { return uint32(abs32(o.X)) + uint32(abs32(o.Y)) }

func (o TileOffset) Chebyshev() uint32 {
	x, y := uint32(abs32(o.X)), uint32(abs32(o.Y))
	if x > y {
		return x
	}
	return y
}

func abs32(v int32) int64 {
	if v < 0 {
		return -int64(v)
	}
	return int64(v)
}

// Location is an absolute tile coordinate in the arena. North is +Y.
type Location struct {
	X int32
	Y int32
}

func (l Location) Add(o TileOffset) Location { return Location{X: l.X + o.X, Y: l.Y + o.Y} }

func (l Location) Step(d Direction) Location { return l.Add(d.Extend(1)) }

// Sub returns the offset that leads from o to l.
func (l Location) Sub(o Location) TileOffset { return TileOffset{X: l.X - o.X, Y: l.Y - o.Y} }

func (l Location) String() string { return fmt.Sprintf("(%d,%d)", l.X, l.Y) }

// Metric measures vision distance.
type Metric string

const (
	MetricTaxicab   Metric = "taxicab"
	MetricChebyshev Metric = "chebyshev"
)

func (m Metric) Valid() bool { return m == MetricTaxicab || m == MetricChebyshev }

func (m Metric) Distance(o TileOffset) uint32 {
	if m == MetricChebyshev {
		return o.Chebyshev()
	}
	return o.Taxicab()
}

type ActionKind uint8

const (
	ActMove ActionKind = iota
	ActStayStill
	ActDropBomb
	ActDropBombAndMove
)

// Action is the decision returned by a module each turn.
// Direction is only meaningful for ActMove and ActDropBombAndMove.
type Action struct {
	Kind      ActionKind
	Direction Direction
}

func Move(d Direction) Action            { return Action{Kind: ActMove, Direction: d} }
func StayStill() Action                  { return Action{Kind: ActStayStill} }
func DropBomb() Action                   { return Action{Kind: ActDropBomb} }
func DropBombAndMove(d Direction) Action { return Action{Kind: ActDropBombAndMove, Direction: d} }

// HasDirection reports whether the action carries a direction payload.
func (a Action) HasDirection() bool { return a.Kind == ActMove || a.Kind == ActDropBombAndMove }

func (a Action) String() string {
	switch a.Kind {
	case ActMove:
		return "Move(" + a.Direction.String() + ")"
	case ActStayStill:
		return "StayStill"
	case ActDropBomb:
		return "DropBomb"
	case ActDropBombAndMove:
		return "DropBombAndMove(" + a.Direction.String() + ")"
	}
	return fmt.Sprintf("Action(%d)", uint8(a.Kind))
}

type LastTurnResult uint8

const (
	StoodStill LastTurnResult = iota
	Moved
	DroppedBomb
	ActionFailed
)

func (r LastTurnResult) Valid() bool { return r <= ActionFailed }

func (r LastTurnResult) String() string {
	switch r {
	case StoodStill:
		return "StoodStill"
	case Moved:
		return "Moved"
	case DroppedBomb:
		return "DroppedBomb"
	case ActionFailed:
		return "ActionFailed"
	}
	return fmt.Sprintf("LastTurnResult(%d)", uint8(r))
}

// Surrounding is one visible tile: terrain, what sits on it, which rival (if any)
// stands on it, and where it is relative to the observer.
type Surrounding struct {
	Tile   Tile
	Object *Object
	Enemy  *Enemy
	Offset TileOffset
}

// WorldView is the per-turn snapshot handed to a module. It is rebuilt every turn.
type WorldView struct {
	Surroundings []Surrounding
	LastResult   LastTurnResult
}
