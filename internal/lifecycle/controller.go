// Package lifecycle maps module files onto live agents: admission, spawning,
// despawning, bans, death and respawn, and in-place hot swaps.
package lifecycle

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"bombarena.ai/internal/hotswap"
	"bombarena.ai/internal/protocol"
	"bombarena.ai/internal/sandbox"
)

// Controller owns the handle list. All methods must be called from the single
// goroutine that runs the match.
type Controller struct {
	cfg    Config
	loader Loader
	world  World
	sink   Sink
	logger *log.Logger

	handles []*Handle
	byPath  map[string]*Handle
	markers []Marker

	nextHandleID uint64
	nextAgentID  uint64
}

func New(cfg Config, loader Loader, world World, sink Sink, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(os.Stdout, "[lifecycle] ", log.LstdFlags|log.Lmicroseconds)
	}
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	if cfg.NameMaxLen <= 0 {
		cfg.NameMaxLen = DefaultConfig().NameMaxLen
	}
	if cfg.SpawnOrder == "" {
		cfg.SpawnOrder = SpawnFarthest
	}
	return &Controller{
		cfg:    cfg,
		loader: loader,
		world:  world,
		sink:   sink,
		logger: logger,
		byPath: map[string]*Handle{},
	}
}

// SandboxLoader adapts a sandbox runtime to Loader.
func SandboxLoader(rt *sandbox.Runtime) Loader {
	return LoaderFunc(func(src []byte) (Instance, error) {
		p, err := rt.LoadPlayer(src)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Handles returns the handle list in admission order.
func (c *Controller) Handles() []*Handle { return c.handles }

func (c *Controller) Handle(id uint64) *Handle {
	for _, h := range c.handles {
		if h.ID == id {
			return h
		}
	}
	return nil
}

// Agents returns live agents in handle order.
func (c *Controller) Agents() []*Agent {
	out := make([]*Agent, 0, len(c.handles))
	for _, h := range c.handles {
		if h.agent != nil {
			out = append(out, h.agent)
		}
	}
	return out
}

func (c *Controller) AgentByID(id uint64) *Agent {
	for _, h := range c.handles {
		if h.agent != nil && h.agent.ID == id {
			return h.agent
		}
	}
	return nil
}

func (c *Controller) Markers() []Marker { return c.markers }

// Reconcile brings the handle list in line with the files found by a scan.
// Removed files lose their handle and agent at once. New files are admitted in
// order while there is room. Changed files unban their handle and hot swap a
// live agent.
func (c *Controller) Reconcile(files []hotswap.File) {
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.Path] = true
	}

	kept := c.handles[:0]
	for _, h := range c.handles {
		if present[h.Path] {
			kept = append(kept, h)
			continue
		}
		if h.agent != nil {
			c.destroyAgent(h, EventDespawn, "", "module removed", "")
		}
		delete(c.byPath, h.Path)
		c.emit(Event{Kind: EventRemove, HandleID: h.ID, Module: h.Module})
	}
	for i := len(kept); i < len(c.handles); i++ {
		c.handles[i] = nil
	}
	c.handles = kept

	for _, f := range files {
		h, ok := c.byPath[f.Path]
		if !ok {
			if c.cfg.MaxPlayers > 0 && len(c.handles) >= c.cfg.MaxPlayers {
				continue
			}
			c.nextHandleID++
			h = &Handle{
				ID:     c.nextHandleID,
				Path:   f.Path,
				Module: f.Name,
				Digest: f.Digest,
				State:  ReadyToSpawn,
				source: f.Source,
			}
			c.handles = append(c.handles, h)
			c.byPath[f.Path] = h
			c.emit(Event{Kind: EventAdmit, HandleID: h.ID, Module: h.Module})
			continue
		}
		if h.Digest == f.Digest {
			continue
		}
		h.Digest = f.Digest
		h.source = f.Source
		c.modified(h)
	}
}

func (c *Controller) modified(h *Handle) {
	if h.State == Misbehaved {
		h.State = ReadyToSpawn
		h.Code, h.Reason = "", ""
		c.emit(Event{Kind: EventUnban, HandleID: h.ID, Module: h.Module})
	}
	if h.agent == nil {
		return
	}
	a := h.agent
	inst, err := c.loader.Load(h.source)
	if err != nil {
		c.Ban(h.ID, sandbox.ReasonCode(err), err.Error())
		return
	}
	name, team, err := c.queryNames(inst, h.Module)
	if err != nil {
		inst.Close()
		c.Ban(h.ID, protocol.ErrNameQuery, err.Error())
		return
	}
	consumed, err := a.FuelConsumed()
	if err != nil {
		c.logger.Printf("[invariant] hot swap %s: %v", h.Module, err)
		consumed = a.fuelBase
	}
	a.inst.Close()
	a.inst = inst
	a.fuelBase = consumed
	a.Name, a.Team = name, team
	pos, _ := c.world.AgentLocation(a.ID)
	c.logger.Printf("hot swapped %s (%s)", h.Module, name)
	c.emit(Event{Kind: EventHotSwap, HandleID: h.ID, AgentID: a.ID, Module: h.Module, Name: name, Team: team, Pos: pos})
}

// SpawnPass tries to spawn ready handles without an agent, in handle order,
// one attempt per free spawn point. It returns the number of agents spawned.
func (c *Controller) SpawnPass() int {
	spawned := 0
	free := c.freeSpawnPoints()
	for _, h := range c.handles {
		if len(free) == 0 {
			break
		}
		if h.State != ReadyToSpawn || h.agent != nil {
			continue
		}
		at := c.pickSpawn(free)
		free = removeLocation(free, at)
		if c.spawn(h, at) {
			spawned++
		}
	}
	return spawned
}

func (c *Controller) spawn(h *Handle, at protocol.Location) bool {
	inst, err := c.loader.Load(h.source)
	if err != nil {
		c.Ban(h.ID, sandbox.ReasonCode(err), err.Error())
		return false
	}
	name, team, err := c.queryNames(inst, h.Module)
	if err != nil {
		inst.Close()
		c.Ban(h.ID, protocol.ErrNameQuery, err.Error())
		return false
	}
	c.nextAgentID++
	a := &Agent{
		ID:         c.nextAgentID,
		HandleID:   h.ID,
		Module:     h.Module,
		Name:       name,
		Team:       team,
		LastResult: protocol.StoodStill,
		inst:       inst,
	}
	if err := c.world.PlaceAgent(a.ID, at, name, team); err != nil {
		inst.Close()
		c.logger.Printf("place %s at %s: %v", h.Module, at, err)
		c.emit(Event{Kind: EventSpawnErr, HandleID: h.ID, Module: h.Module, Pos: at, Code: protocol.ErrInternal, Reason: err.Error()})
		return false
	}
	h.agent = a
	c.logger.Printf("spawned %s as %q team %q at %s", h.Module, name, team, at)
	c.emit(Event{Kind: EventSpawn, HandleID: h.ID, AgentID: a.ID, Module: h.Module, Name: name, Team: team, Pos: at})
	return true
}

func (c *Controller) queryNames(inst Instance, fallback string) (string, string, error) {
	name, err := inst.Name()
	if err != nil {
		return "", "", fmt.Errorf("name: %w", err)
	}
	team, err := inst.TeamName()
	if err != nil {
		return "", "", fmt.Errorf("team name: %w", err)
	}
	name = SanitizeName(name, c.cfg.NameMaxLen)
	if name == "" {
		name = SanitizeName(fallback, c.cfg.NameMaxLen)
	}
	return name, SanitizeName(team, c.cfg.NameMaxLen), nil
}

// Ban destroys the handle's agent, leaves a banned marker and parks the handle
// as Misbehaved until its file changes. Banning a banned handle does nothing.
func (c *Controller) Ban(handleID uint64, code, reason string) {
	h := c.Handle(handleID)
	if h == nil {
		return
	}
	if h.State == Misbehaved && h.agent == nil {
		return
	}
	if h.agent != nil {
		c.destroyAgent(h, EventBan, MarkerBanned, reason, code)
	} else {
		c.emit(Event{Kind: EventBan, HandleID: h.ID, Module: h.Module, Code: code, Reason: reason})
	}
	h.State = Misbehaved
	h.Code, h.Reason = code, reason
	h.RespawnIn = 0
	c.logger.Printf("banned %s: %s %s", h.Module, code, reason)
}

// Kill handles a gameplay death. The agent is destroyed and its handle
// respawns after RespawnTicks world ticks with a fresh instance.
func (c *Controller) Kill(agentID uint64) bool {
	a := c.AgentByID(agentID)
	if a == nil {
		return false
	}
	h := c.Handle(a.HandleID)
	c.destroyAgent(h, EventKill, MarkerDead, "killed", "")
	if c.cfg.RespawnTicks <= 0 {
		h.State = ReadyToSpawn
		return true
	}
	h.State = Respawning
	h.RespawnIn = c.cfg.RespawnTicks
	return true
}

// DespawnAll removes every live agent without penalty, as at a round reset.
func (c *Controller) DespawnAll(reason string) {
	for _, h := range c.handles {
		if h.agent != nil {
			c.destroyAgent(h, EventDespawn, "", reason, "")
		}
	}
	c.markers = nil
}

// WorldTick advances respawn countdowns and ages markers.
func (c *Controller) WorldTick() {
	for _, h := range c.handles {
		if h.State != Respawning {
			continue
		}
		h.RespawnIn--
		if h.RespawnIn <= 0 {
			h.RespawnIn = 0
			h.State = ReadyToSpawn
			c.emit(Event{Kind: EventRespawn, HandleID: h.ID, Module: h.Module})
		}
	}
	kept := c.markers[:0]
	for _, m := range c.markers {
		m.TicksLeft--
		if m.TicksLeft > 0 {
			kept = append(kept, m)
		}
	}
	c.markers = kept
}

// Close releases every live instance.
func (c *Controller) Close() {
	for _, h := range c.handles {
		if h.agent != nil {
			h.agent.inst.Close()
			c.world.RemoveAgent(h.agent.ID)
			h.agent = nil
		}
	}
}

func (c *Controller) destroyAgent(h *Handle, kind EventKind, marker MarkerKind, reason, code string) {
	a := h.agent
	pos, _ := c.world.AgentLocation(a.ID)
	a.inst.Close()
	c.world.RemoveAgent(a.ID)
	h.agent = nil
	if marker != "" && c.cfg.MarkerTicks > 0 {
		c.markers = append(c.markers, Marker{Kind: marker, Pos: pos, Name: a.Name, TicksLeft: c.cfg.MarkerTicks})
	}
	c.emit(Event{Kind: kind, HandleID: h.ID, AgentID: a.ID, Module: h.Module, Name: a.Name, Team: a.Team, Pos: pos, Code: code, Reason: reason})
}

func (c *Controller) emit(e Event) { c.sink.Emit(e) }

// CheckInvariants verifies the handle/agent bookkeeping.
func (c *Controller) CheckInvariants() error {
	var errs []error
	agents := map[uint64]uint64{}
	for _, h := range c.handles {
		if c.byPath[h.Path] != h {
			errs = append(errs, fmt.Errorf("handle %d not indexed by path", h.ID))
		}
		if h.agent == nil {
			continue
		}
		if h.State != ReadyToSpawn {
			errs = append(errs, fmt.Errorf("handle %d is %s with a live agent", h.ID, h.State))
		}
		if h.agent.HandleID != h.ID {
			errs = append(errs, fmt.Errorf("agent %d points at handle %d, owned by %d", h.agent.ID, h.agent.HandleID, h.ID))
		}
		if prev, dup := agents[h.agent.ID]; dup {
			errs = append(errs, fmt.Errorf("agent %d owned by handles %d and %d", h.agent.ID, prev, h.ID))
		}
		agents[h.agent.ID] = h.ID
	}
	if len(c.byPath) != len(c.handles) {
		errs = append(errs, fmt.Errorf("%d handles but %d indexed", len(c.handles), len(c.byPath)))
	}
	if c.cfg.MaxPlayers > 0 && len(c.handles) > c.cfg.MaxPlayers {
		errs = append(errs, fmt.Errorf("%d handles exceed max %d", len(c.handles), c.cfg.MaxPlayers))
	}
	return errors.Join(errs...)
}

func (c *Controller) freeSpawnPoints() []protocol.Location {
	occupied := map[protocol.Location]bool{}
	for _, l := range c.world.OccupiedLocations() {
		occupied[l] = true
	}
	var free []protocol.Location
	for _, p := range c.world.SpawnPoints() {
		if !occupied[p] {
			free = append(free, p)
		}
	}
	return free
}

// pickSpawn ranks free points by taxicab distance to the nearest occupied
// location. Ties keep spawn point order.
func (c *Controller) pickSpawn(free []protocol.Location) protocol.Location {
	occupied := c.world.OccupiedLocations()
	dist := func(p protocol.Location) uint32 {
		best := uint32(math.MaxUint32)
		for _, o := range occupied {
			if d := p.Sub(o).Taxicab(); d < best {
				best = d
			}
		}
		return best
	}
	ranked := append([]protocol.Location(nil), free...)
	sort.SliceStable(ranked, func(i, j int) bool {
		di, dj := dist(ranked[i]), dist(ranked[j])
		if c.cfg.SpawnOrder == SpawnNearest {
			return di < dj
		}
		return di > dj
	})
	return ranked[0]
}

func removeLocation(ls []protocol.Location, l protocol.Location) []protocol.Location {
	out := ls[:0]
	for _, x := range ls {
		if x != l {
			out = append(out, x)
		}
	}
	return out
}

// SanitizeName drops control characters, trims surrounding space and keeps at
// most limit runes.
func SanitizeName(s string, limit int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if limit > 0 {
		if r := []rune(s); len(r) > limit {
			s = strings.TrimSpace(string(r[:limit]))
		}
	}
	return s
}
