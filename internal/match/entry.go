package match

import (
	"time"

	"bombarena.ai/internal/arena"
	"bombarena.ai/internal/lifecycle"
	"bombarena.ai/internal/protocol"
	"bombarena.ai/internal/turn"
)

// Phase alternates every tick. Player ticks sequence all agent actions, world
// ticks all passive effects, so nobody moves away from a bomb in the same
// instant it explodes.
type Phase string

const (
	PhasePlayer Phase = "PLAYER"
	PhaseWorld  Phase = "WORLD"
)

// PhaseOf returns the phase of a tick. Tick 0 is a player tick.
func PhaseOf(tick uint64) Phase {
	if tick%2 == 0 {
		return PhasePlayer
	}
	return PhaseWorld
}

// TickEntry is the journal record of one tick.
type TickEntry struct {
	MatchID string `json:"match_id"`
	Tick    uint64 `json:"tick"`
	Phase   Phase  `json:"phase"`
	Round   uint64 `json:"round"`

	Turns     []turn.Report       `json:"turns,omitempty"`
	Events    []lifecycle.Event   `json:"events,omitempty"`
	Exploded  []protocol.Location `json:"exploded,omitempty"`
	Destroyed []protocol.Location `json:"destroyed,omitempty"`
	Kills     []arena.Kill        `json:"kills,omitempty"`
	RoundEnd  *RoundResult        `json:"round_end,omitempty"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

// EventEntry is a lifecycle event stamped with the tick it happened on.
type EventEntry struct {
	MatchID string `json:"match_id"`
	Tick    uint64 `json:"tick"`
	Round   uint64 `json:"round"`
	lifecycle.Event
}

// Standing is the best score a module reached during a round.
type Standing struct {
	Module string `json:"module"`
	Name   string `json:"name"`
	Team   string `json:"team"`
	Score  uint32 `json:"score"`
}

type RoundResult struct {
	MatchID     string     `json:"match_id"`
	Round       uint64     `json:"round"`
	EndTick     uint64     `json:"end_tick"`
	Leaderboard []Standing `json:"leaderboard"`
}

type TickLogger interface {
	WriteTick(TickEntry) error
}

type EventLogger interface {
	WriteEvent(EventEntry) error
}

// Index is an optional read model fed after every tick.
type Index interface {
	TickLogger
	EventLogger
	RecordRound(RoundResult) error
}

type Metrics interface {
	ObserveTick(TickEntry)
	ObserveRound(RoundResult)
}
