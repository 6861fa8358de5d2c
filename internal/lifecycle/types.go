package lifecycle

import (
	"fmt"

	"bombarena.ai/internal/protocol"
)

// Instance is a running agent module. Implementations are not shared between
// agents and are only called from the tick goroutine.
type Instance interface {
	Name() (string, error)
	TeamName() (string, error)
	Act(view protocol.WorldView) (protocol.Action, error)
	Refuel(budget uint64) error
	FuelConsumed() (uint64, error)
	Close()
}

// Loader compiles and instantiates module source.
type Loader interface {
	Load(src []byte) (Instance, error)
}

type LoaderFunc func(src []byte) (Instance, error)

func (f LoaderFunc) Load(src []byte) (Instance, error) { return f(src) }

// World is the part of game state the controller needs for placement.
type World interface {
	SpawnPoints() []protocol.Location
	OccupiedLocations() []protocol.Location
	PlaceAgent(id uint64, at protocol.Location, name, team string) error
	RemoveAgent(id uint64)
	AgentLocation(id uint64) (protocol.Location, bool)
}

type State int

const (
	ReadyToSpawn State = iota
	Misbehaved
	Respawning
)

func (s State) String() string {
	switch s {
	case ReadyToSpawn:
		return "ready"
	case Misbehaved:
		return "misbehaved"
	case Respawning:
		return "respawning"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Handle tracks one module file. It has at most one live agent.
type Handle struct {
	ID     uint64
	Path   string
	Module string
	Digest string

	State     State
	Code      string
	Reason    string
	RespawnIn int

	source []byte
	agent  *Agent
}

// Agent returns the live agent for h, or nil.
func (h *Handle) Agent() *Agent { return h.agent }

// Agent is a live module instance in the arena. Position and score belong to
// the game state and are looked up there.
type Agent struct {
	ID       uint64
	HandleID uint64
	Module   string
	Name     string
	Team     string

	LastResult protocol.LastTurnResult
	Turns      uint64

	inst Instance
	// fuelBase is what earlier instances of this agent burned before a hot swap.
	fuelBase uint64
}

func (a *Agent) Instance() Instance { return a.inst }

// FuelConsumed is the agent's cumulative fuel across hot swaps.
func (a *Agent) FuelConsumed() (uint64, error) {
	n, err := a.inst.FuelConsumed()
	if err != nil {
		return 0, err
	}
	if n > ^uint64(0)-a.fuelBase {
		return 0, fmt.Errorf("agent %d fuel counter overflow", a.ID)
	}
	return a.fuelBase + n, nil
}

type MarkerKind string

const (
	MarkerDead   MarkerKind = "dead"
	MarkerBanned MarkerKind = "banned"
)

// Marker is the transient remnant left where an agent died or was banned.
type Marker struct {
	Kind      MarkerKind
	Pos       protocol.Location
	Name      string
	TicksLeft int
}

type EventKind string

const (
	EventAdmit    EventKind = "ADMIT"
	EventRemove   EventKind = "REMOVE"
	EventSpawn    EventKind = "SPAWN"
	EventDespawn  EventKind = "DESPAWN"
	EventBan      EventKind = "BAN"
	EventUnban    EventKind = "UNBAN"
	EventKill     EventKind = "KILL"
	EventRespawn  EventKind = "RESPAWN_READY"
	EventHotSwap  EventKind = "HOTSWAP"
	EventSpawnErr EventKind = "SPAWN_ERROR"
)

// Event is emitted for the presentation layer and the journals. The controller
// never reads events back.
type Event struct {
	Kind     EventKind         `json:"kind"`
	HandleID uint64            `json:"handle_id"`
	AgentID  uint64            `json:"agent_id,omitempty"`
	Module   string            `json:"module"`
	Name     string            `json:"name,omitempty"`
	Team     string            `json:"team,omitempty"`
	Pos      protocol.Location `json:"pos"`
	Code     string            `json:"code,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type SpawnOrder string

const (
	// SpawnFarthest prefers spawn points far from every live agent.
	SpawnFarthest SpawnOrder = "farthest"
	// SpawnNearest prefers spawn points close to other agents.
	SpawnNearest SpawnOrder = "nearest"
)

type Config struct {
	MaxPlayers   int
	RespawnTicks int
	MarkerTicks  int
	NameMaxLen   int
	SpawnOrder   SpawnOrder
}

func DefaultConfig() Config {
	return Config{
		MaxPlayers:   8,
		RespawnTicks: 10,
		MarkerTicks:  6,
		NameMaxLen:   32,
		SpawnOrder:   SpawnFarthest,
	}
}
