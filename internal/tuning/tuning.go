package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"bombarena.ai/internal/arena"
	"bombarena.ai/internal/lifecycle"
	"bombarena.ai/internal/protocol"
	"bombarena.ai/internal/sandbox"
	"bombarena.ai/internal/turn"
)

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Match     Match     `yaml:"match"`
	Players   Players   `yaml:"players"`
	Sandbox   Sandbox   `yaml:"sandbox"`
	Lifecycle Lifecycle `yaml:"lifecycle"`
	Turn      Turn      `yaml:"turn"`
	Rules     Rules     `yaml:"rules"`
}

type Match struct {
	TickDurationMs int    `yaml:"tick_duration_ms"`
	RoundTicks     int    `yaml:"round_ticks"`
	Seed           int64  `yaml:"seed"`
	MapPath        string `yaml:"map_path"`
}

type Players struct {
	Dir        string `yaml:"dir"`
	MaxPlayers int    `yaml:"max_players"`
	PollMs     int    `yaml:"poll_ms"`
}

type Sandbox struct {
	FuelPerTurn    uint64 `yaml:"fuel_per_turn"`
	CallTimeoutMs  int    `yaml:"call_timeout_ms"`
	MaxMemoryBytes int64  `yaml:"max_memory_bytes"`
}

type Lifecycle struct {
	RespawnTicks int    `yaml:"respawn_ticks"`
	MarkerTicks  int    `yaml:"marker_ticks"`
	NameMaxLen   int    `yaml:"name_max_len"`
	SpawnOrder   string `yaml:"spawn_order"`
}

type Turn struct {
	VisionRadius     uint32 `yaml:"vision_radius"`
	Metric           string `yaml:"metric"`
	StrictInvariants bool   `yaml:"strict_invariants"`
}

type Rules struct {
	BombFuse      uint32  `yaml:"bomb_fuse"`
	BaseBombRange uint32  `yaml:"base_bomb_range"`
	PowerUpChance float64 `yaml:"power_up_chance"`
	HillPoints    uint32  `yaml:"hill_points"`
}

func Default() Tuning {
	sb := sandbox.DefaultConfig()
	lc := lifecycle.DefaultConfig()
	r := arena.DefaultRules()
	return Tuning{
		ProtocolVersion: protocol.Version,
		Match:           Match{TickDurationMs: 500, RoundTicks: 600, Seed: 1337, MapPath: "configs/maps/cross_arena.txt"},
		Players:         Players{Dir: "players", MaxPlayers: lc.MaxPlayers, PollMs: 1000},
		Sandbox: Sandbox{
			FuelPerTurn:    sb.FuelPerTurn,
			CallTimeoutMs:  int(sb.CallTimeout / time.Millisecond),
			MaxMemoryBytes: sb.MaxMemoryBytes,
		},
		Lifecycle: Lifecycle{
			RespawnTicks: lc.RespawnTicks,
			MarkerTicks:  lc.MarkerTicks,
			NameMaxLen:   lc.NameMaxLen,
			SpawnOrder:   string(lc.SpawnOrder),
		},
		Turn:  Turn{VisionRadius: 3, Metric: string(protocol.MetricTaxicab)},
		Rules: Rules{BombFuse: r.BombFuse, BaseBombRange: r.BaseBombRange, PowerUpChance: r.PowerUpChance, HillPoints: r.HillPoints},
	}
}

// Load reads a YAML file over the defaults after checking it against the
// embedded schema.
func Load(path string) (Tuning, error) {
	t := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := validateSchema(raw); err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

var schema = jsonschema.MustCompileString("tuning.schema.json", schemaJSON)

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees plain JSON values.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("tuning is not JSON compatible: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// Validate checks cross-field constraints the schema cannot express.
func (t Tuning) Validate() error {
	if t.ProtocolVersion != protocol.Version {
		return fmt.Errorf("protocol_version %q, this build speaks %q", t.ProtocolVersion, protocol.Version)
	}
	if t.Match.TickDurationMs <= 0 {
		return fmt.Errorf("match.tick_duration_ms must be positive")
	}
	if t.Sandbox.FuelPerTurn == 0 {
		return fmt.Errorf("sandbox.fuel_per_turn must be positive")
	}
	if t.Sandbox.CallTimeoutMs > 0 && t.Sandbox.CallTimeoutMs >= 2*t.Match.TickDurationMs {
		return fmt.Errorf("sandbox.call_timeout_ms %d does not fit in a %dms turn", t.Sandbox.CallTimeoutMs, 2*t.Match.TickDurationMs)
	}
	switch lifecycle.SpawnOrder(t.Lifecycle.SpawnOrder) {
	case lifecycle.SpawnFarthest, lifecycle.SpawnNearest:
	default:
		return fmt.Errorf("lifecycle.spawn_order %q", t.Lifecycle.SpawnOrder)
	}
	if !protocol.Metric(t.Turn.Metric).Valid() {
		return fmt.Errorf("turn.metric %q", t.Turn.Metric)
	}
	return nil
}

func (t Tuning) TickDuration() time.Duration {
	return time.Duration(t.Match.TickDurationMs) * time.Millisecond
}

func (t Tuning) PollInterval() time.Duration {
	return time.Duration(t.Players.PollMs) * time.Millisecond
}

func (t Tuning) SandboxConfig() sandbox.Config {
	return sandbox.Config{
		FuelPerTurn:    t.Sandbox.FuelPerTurn,
		CallTimeout:    time.Duration(t.Sandbox.CallTimeoutMs) * time.Millisecond,
		MaxMemoryBytes: t.Sandbox.MaxMemoryBytes,
	}
}

func (t Tuning) LifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		MaxPlayers:   t.Players.MaxPlayers,
		RespawnTicks: t.Lifecycle.RespawnTicks,
		MarkerTicks:  t.Lifecycle.MarkerTicks,
		NameMaxLen:   t.Lifecycle.NameMaxLen,
		SpawnOrder:   lifecycle.SpawnOrder(t.Lifecycle.SpawnOrder),
	}
}

func (t Tuning) TurnConfig() turn.Config {
	return turn.Config{
		FuelPerTurn:      t.Sandbox.FuelPerTurn,
		VisionRadius:     t.Turn.VisionRadius,
		Metric:           protocol.Metric(t.Turn.Metric),
		StrictInvariants: t.Turn.StrictInvariants,
	}
}

func (t Tuning) ArenaRules() arena.Rules {
	return arena.Rules{
		BombFuse:      t.Rules.BombFuse,
		BaseBombRange: t.Rules.BaseBombRange,
		PowerUpChance: t.Rules.PowerUpChance,
		HillPoints:    t.Rules.HillPoints,
	}
}
