// Package turn runs one decision call per live agent and applies the result.
package turn

import (
	"fmt"
	"log"
	"os"
	"time"

	"bombarena.ai/internal/lifecycle"
	"bombarena.ai/internal/protocol"
	"bombarena.ai/internal/sandbox"
)

// Game is the game-state collaborator. Queries must not mutate; mutators
// report gameplay rejections as false rather than errors.
type Game interface {
	AgentLocation(id uint64) (protocol.Location, bool)
	VisionBonus(id uint64) uint32
	TilesWithin(center protocol.Location, radius uint32, metric protocol.Metric, self uint64) []protocol.Surrounding
	AttemptMove(id uint64, d protocol.Direction) bool
	PlaceOrdnance(id uint64, at protocol.Location) bool
}

type Config struct {
	FuelPerTurn      uint64
	VisionRadius     uint32
	Metric           protocol.Metric
	StrictInvariants bool
}

// Report describes one agent turn.
type Report struct {
	Tick     uint64                  `json:"tick"`
	AgentID  uint64                  `json:"agent_id"`
	HandleID uint64                  `json:"handle_id"`
	Module   string                  `json:"module"`
	Name     string                  `json:"name"`
	Action   string                  `json:"action,omitempty"`
	Result   protocol.LastTurnResult `json:"result"`
	Fuel     uint64                  `json:"fuel"`
	Visible  int                     `json:"visible"`
	Code     string                  `json:"code,omitempty"`
	Detail   string                  `json:"detail,omitempty"`
	Banned   bool                    `json:"banned,omitempty"`
	Elapsed  time.Duration           `json:"elapsed_ns"`
}

// Driver visits live agents in handle order.
type Driver struct {
	cfg    Config
	game   Game
	lc     *lifecycle.Controller
	logger *log.Logger
}

func New(cfg Config, game Game, lc *lifecycle.Controller, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.New(os.Stdout, "[turn] ", log.LstdFlags|log.Lmicroseconds)
	}
	if !cfg.Metric.Valid() {
		cfg.Metric = protocol.MetricTaxicab
	}
	return &Driver{cfg: cfg, game: game, lc: lc, logger: logger}
}

// InvariantError is a host bug found while running a turn. It is never
// attributed to the agent.
type InvariantError struct {
	AgentID uint64
	Msg     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated for agent %d: %s", e.AgentID, e.Msg)
}

func (d *Driver) invariant(a *lifecycle.Agent, format string, args ...any) {
	e := &InvariantError{AgentID: a.ID, Msg: fmt.Sprintf(format, args...)}
	d.logger.Printf("[invariant] %v", e)
	if d.cfg.StrictInvariants {
		panic(e)
	}
}

// PlayerTick gives every live agent one turn. Faults ban the agent and never
// affect the remaining agents.
func (d *Driver) PlayerTick(tick uint64) []Report {
	agents := d.lc.Agents()
	reports := make([]Report, 0, len(agents))
	for _, a := range agents {
		if d.lc.AgentByID(a.ID) != a {
			continue
		}
		reports = append(reports, d.runTurn(tick, a))
	}
	return reports
}

func (d *Driver) runTurn(tick uint64, a *lifecycle.Agent) Report {
	rep := Report{Tick: tick, AgentID: a.ID, HandleID: a.HandleID, Module: a.Module, Name: a.Name}
	start := time.Now()
	defer func() { rep.Elapsed = time.Since(start) }()

	pos, ok := d.game.AgentLocation(a.ID)
	if !ok {
		d.invariant(a, "live agent has no location")
		rep.Code = protocol.ErrInternal
		return rep
	}
	radius := d.cfg.VisionRadius + d.game.VisionBonus(a.ID)
	view := protocol.WorldView{
		Surroundings: d.game.TilesWithin(pos, radius, d.cfg.Metric, a.ID),
		LastResult:   a.LastResult,
	}
	rep.Visible = len(view.Surroundings)

	inst := a.Instance()
	before, err := a.FuelConsumed()
	if err != nil {
		d.invariant(a, "fuel before turn: %v", err)
		rep.Code = protocol.ErrInternal
		return rep
	}
	if err := inst.Refuel(d.cfg.FuelPerTurn); err != nil {
		d.invariant(a, "refuel: %v", err)
		rep.Code = protocol.ErrInternal
		return rep
	}

	action, actErr := inst.Act(view)

	after, err := a.FuelConsumed()
	switch {
	case err != nil:
		d.invariant(a, "fuel after turn: %v", err)
	case after < before:
		d.invariant(a, "fuel consumed went backwards: %d -> %d", before, after)
	default:
		rep.Fuel = after - before
	}
	a.Turns++

	if actErr != nil {
		rep.Code = sandbox.ReasonCode(actErr)
		rep.Detail = actErr.Error()
		if sandbox.IsFault(actErr) {
			rep.Banned = true
			d.lc.Ban(a.HandleID, rep.Code, actErr.Error())
			return rep
		}
		if sandbox.KindOf(actErr) != sandbox.KindBufferTooSmall {
			d.invariant(a, "act: %v", actErr)
		} else {
			d.logger.Printf("%s: view does not fit in module buffer, standing still", a.Name)
		}
		a.LastResult = protocol.ActionFailed
		rep.Result = a.LastResult
		return rep
	}

	rep.Action = action.String()
	a.LastResult = d.apply(a, pos, action)
	rep.Result = a.LastResult
	if a.LastResult == protocol.ActionFailed {
		rep.Code = protocol.ErrGameplayRejected
	}
	return rep
}

// apply performs action for a. Impossible actions are expected agent
// behavior and only logged.
func (d *Driver) apply(a *lifecycle.Agent, pos protocol.Location, action protocol.Action) protocol.LastTurnResult {
	switch action.Kind {
	case protocol.ActStayStill:
		return protocol.StoodStill
	case protocol.ActMove:
		if d.game.AttemptMove(a.ID, action.Direction) {
			return protocol.Moved
		}
		d.logger.Printf("%s can't move %s from %s", a.Name, action.Direction, pos)
		return protocol.ActionFailed
	case protocol.ActDropBomb:
		if d.game.PlaceOrdnance(a.ID, pos) {
			return protocol.DroppedBomb
		}
		d.logger.Printf("%s can't drop a bomb at %s", a.Name, pos)
		return protocol.ActionFailed
	case protocol.ActDropBombAndMove:
		dropped := d.game.PlaceOrdnance(a.ID, pos)
		if d.game.AttemptMove(a.ID, action.Direction) {
			return protocol.Moved
		}
		if dropped {
			d.logger.Printf("%s dropped a bomb but can't move %s", a.Name, action.Direction)
			return protocol.DroppedBomb
		}
		d.logger.Printf("%s can't drop a bomb or move %s from %s", a.Name, action.Direction, pos)
		return protocol.ActionFailed
	}
	d.invariant(a, "unknown action %v", action)
	return protocol.ActionFailed
}
