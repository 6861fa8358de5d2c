package observerproto

import "bombarena.ai/internal/protocol"

// Version is the observer protocol version (separate from the module ABI version).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: include per-agent turn reports in TICK messages.
	IncludeTurns bool `json:"include_turns,omitempty"`
	// Optional: only stream ticks of this phase ("PLAYER" or "WORLD"). Empty streams both.
	Phase string `json:"phase,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	MatchID         string      `json:"match_id"`
	Tick            uint64      `json:"tick"`
	Round           uint64      `json:"round"`
	Params          MatchParams `json:"match_params"`
	Map             MapInfo     `json:"map"`
}

type MatchParams struct {
	TickDurationMs int    `json:"tick_duration_ms"`
	RoundTicks     uint64 `json:"round_ticks"`
	MaxPlayers     int    `json:"max_players"`
	VisionRadius   uint32 `json:"vision_radius"`
	Metric         string `json:"metric"`
}

// MapInfo carries the static tile grid. Tiles are row-major starting at y=0,
// encoded as TILES_RLE (see encoding.EncodeTilesRLE).
type MapInfo struct {
	Width    int                 `json:"width"`
	Height   int                 `json:"height"`
	Encoding string              `json:"encoding"`
	Tiles    string              `json:"tiles"`
	Spawners []protocol.Location `json:"spawners"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MatchID         string `json:"match_id"`
	Tick            uint64 `json:"tick"`
	Phase           string `json:"phase"`
	Round           uint64 `json:"round"`

	Players []PlayerState       `json:"players"`
	Objects []ObjectState       `json:"objects"`
	Markers []MarkerState       `json:"markers,omitempty"`
	Flames  []protocol.Location `json:"flames,omitempty"`
	Handles []HandleState       `json:"handles"`
	Events  []EventInfo         `json:"events,omitempty"`
	Turns   []TurnInfo          `json:"turns,omitempty"`
}

type PlayerState struct {
	ID         uint64            `json:"id"`
	Module     string            `json:"module"`
	Name       string            `json:"name"`
	Team       string            `json:"team"`
	Pos        protocol.Location `json:"pos"`
	Score      uint32            `json:"score"`
	LastResult string            `json:"last_result"`
	Fuel       uint64            `json:"fuel"`
	PowerUps   map[string]uint32 `json:"power_ups,omitempty"`
}

type ObjectState struct {
	Pos     protocol.Location `json:"pos"`
	Kind    string            `json:"kind"`
	Fuse    uint32            `json:"fuse,omitempty"`
	Range   uint32            `json:"range,omitempty"`
	PowerUp string            `json:"power_up,omitempty"`
}

type MarkerState struct {
	Kind      string            `json:"kind"`
	Pos       protocol.Location `json:"pos"`
	Name      string            `json:"name"`
	TicksLeft int               `json:"ticks_left"`
}

type HandleState struct {
	ID        uint64 `json:"id"`
	Module    string `json:"module"`
	State     string `json:"state"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RespawnIn int    `json:"respawn_in,omitempty"`
}

type EventInfo struct {
	Kind     string            `json:"kind"`
	HandleID uint64            `json:"handle_id"`
	AgentID  uint64            `json:"agent_id,omitempty"`
	Module   string            `json:"module"`
	Name     string            `json:"name,omitempty"`
	Pos      protocol.Location `json:"pos"`
	Code     string            `json:"code,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

type TurnInfo struct {
	AgentID uint64 `json:"agent_id"`
	Action  string `json:"action,omitempty"`
	Result  string `json:"result"`
	Fuel    uint64 `json:"fuel"`
	Code    string `json:"code,omitempty"`
}

// Server -> Client. Sent once when a round ends, before the arena is rebuilt.
type RoundEndMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	MatchID         string             `json:"match_id"`
	Round           uint64             `json:"round"`
	Tick            uint64             `json:"tick"`
	Leaderboard     []LeaderboardEntry `json:"leaderboard"`
}

type LeaderboardEntry struct {
	Module string `json:"module"`
	Name   string `json:"name"`
	Team   string `json:"team"`
	Score  uint32 `json:"score"`
}
