package match

import (
	"encoding/json"

	"bombarena.ai/internal/arena"
	"bombarena.ai/internal/encoding"
	"bombarena.ai/internal/observerproto"
	"bombarena.ai/internal/protocol"
)

type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte
	DataOut   chan []byte

	IncludeTurns bool
	Phase        Phase
}

type ObserverSubscribeRequest struct {
	SessionID    string
	IncludeTurns bool
	Phase        Phase
}

type observerClient struct {
	id      string
	tickOut chan []byte
	dataOut chan []byte

	includeTurns bool
	phase        Phase
}

type mapSnapshot struct {
	width    int
	height   int
	tiles    string
	spawners []protocol.Location
}

// Tiles never change between rounds, only crates do, so the map is encoded once.
func snapshotMap(l *arena.Layout) mapSnapshot {
	sp := make([]protocol.Location, len(l.Spawners))
	copy(sp, l.Spawners)
	return mapSnapshot{width: l.Width, height: l.Height, tiles: encoding.EncodeTilesRLE(l.Tiles), spawners: sp}
}

func (m *Match) ObserverJoin() chan<- ObserverJoinRequest           { return m.observerJoin }
func (m *Match) ObserverSubscribe() chan<- ObserverSubscribeRequest { return m.observerSub }
func (m *Match) ObserverLeave() chan<- string                       { return m.observerLeave }

// Bootstrap is safe to call from any goroutine.
func (m *Match) Bootstrap() observerproto.BootstrapResponse {
	return observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		MatchID:         m.cfg.ID,
		Tick:            m.CurrentTick(),
		Round:           m.Round(),
		Params: observerproto.MatchParams{
			TickDurationMs: int(m.cfg.TickDuration.Milliseconds()),
			RoundTicks:     m.cfg.RoundTicks,
			MaxPlayers:     m.cfg.Lifecycle.MaxPlayers,
			VisionRadius:   m.cfg.Turn.VisionRadius,
			Metric:         string(m.cfg.Turn.Metric),
		},
		Map: observerproto.MapInfo{
			Width:    m.mapInfo.width,
			Height:   m.mapInfo.height,
			Encoding: "TILES_RLE",
			Tiles:    m.mapInfo.tiles,
			Spawners: m.mapInfo.spawners,
		},
	}
}

func (m *Match) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil || req.DataOut == nil {
		return
	}
	if old := m.observers[req.SessionID]; old != nil {
		close(old.tickOut)
		close(old.dataOut)
	}
	m.observers[req.SessionID] = &observerClient{
		id:           req.SessionID,
		tickOut:      req.TickOut,
		dataOut:      req.DataOut,
		includeTurns: req.IncludeTurns,
		phase:        normalizePhase(req.Phase),
	}
}

func (m *Match) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := m.observers[req.SessionID]
	if c == nil {
		return
	}
	c.includeTurns = req.IncludeTurns
	c.phase = normalizePhase(req.Phase)
}

func (m *Match) handleObserverLeave(sessionID string) {
	c := m.observers[sessionID]
	if c == nil {
		return
	}
	delete(m.observers, sessionID)
	close(c.tickOut)
	close(c.dataOut)
}

func normalizePhase(p Phase) Phase {
	if p == PhasePlayer || p == PhaseWorld {
		return p
	}
	return ""
}

func (m *Match) broadcastTick(entry TickEntry) {
	if len(m.observers) == 0 {
		return
	}
	msg := m.tickMsg(entry)
	var full, lean []byte
	for _, c := range m.observers {
		if c.phase != "" && c.phase != entry.Phase {
			continue
		}
		if c.includeTurns {
			if full == nil {
				full = marshalTick(msg, true)
			}
			sendLatest(c.tickOut, full)
			continue
		}
		if lean == nil {
			lean = marshalTick(msg, false)
		}
		sendLatest(c.tickOut, lean)
	}
}

func marshalTick(msg observerproto.TickMsg, turns bool) []byte {
	if !turns {
		msg.Turns = nil
	}
	b, _ := json.Marshal(msg)
	return b
}

func (m *Match) broadcastRoundEnd(rr RoundResult) {
	if len(m.observers) == 0 {
		return
	}
	msg := observerproto.RoundEndMsg{
		Type:            "ROUND_END",
		ProtocolVersion: observerproto.Version,
		MatchID:         rr.MatchID,
		Round:           rr.Round,
		Tick:            rr.EndTick,
	}
	for _, s := range rr.Leaderboard {
		msg.Leaderboard = append(msg.Leaderboard, observerproto.LeaderboardEntry{Module: s.Module, Name: s.Name, Team: s.Team, Score: s.Score})
	}
	b, _ := json.Marshal(msg)
	for _, c := range m.observers {
		select {
		case c.dataOut <- b:
		default:
			// Slow observer; it will catch up from the next TICK.
		}
	}
}

func (m *Match) tickMsg(entry TickEntry) observerproto.TickMsg {
	msg := observerproto.TickMsg{
		Type:            "TICK",
		ProtocolVersion: observerproto.Version,
		MatchID:         entry.MatchID,
		Tick:            entry.Tick,
		Phase:           string(entry.Phase),
		Round:           entry.Round,
		Flames:          m.state.Flames(),
	}
	if entry.Phase == PhasePlayer {
		msg.Flames = nil
	}

	for _, p := range m.state.Players() {
		ps := observerproto.PlayerState{ID: p.ID, Name: p.Name, Team: p.Team, Pos: p.Pos, Score: p.Score}
		if a := m.lc.AgentByID(p.ID); a != nil {
			ps.Module = a.Module
			ps.LastResult = a.LastResult.String()
			ps.Fuel, _ = a.FuelConsumed()
		}
		if len(p.PowerUps) > 0 {
			ps.PowerUps = map[string]uint32{}
			for k, v := range p.PowerUps {
				ps.PowerUps[k.String()] = v
			}
		}
		msg.Players = append(msg.Players, ps)
	}
	for _, o := range m.state.Objects() {
		st := observerproto.ObjectState{Pos: o.Pos}
		switch o.Object.Kind {
		case protocol.ObjectBomb:
			st.Kind, st.Fuse, st.Range = "BOMB", o.Object.FuseRemaining, o.Object.Range
		case protocol.ObjectPowerUp:
			st.Kind, st.PowerUp = "POWER_UP", o.Object.PowerUp.String()
		default:
			st.Kind = "CRATE"
		}
		msg.Objects = append(msg.Objects, st)
	}
	for _, mk := range m.lc.Markers() {
		msg.Markers = append(msg.Markers, observerproto.MarkerState{Kind: string(mk.Kind), Pos: mk.Pos, Name: mk.Name, TicksLeft: mk.TicksLeft})
	}
	for _, h := range m.lc.Handles() {
		msg.Handles = append(msg.Handles, observerproto.HandleState{
			ID: h.ID, Module: h.Module, State: h.State.String(), Code: h.Code, Reason: h.Reason, RespawnIn: h.RespawnIn,
		})
	}
	for _, e := range entry.Events {
		msg.Events = append(msg.Events, observerproto.EventInfo{
			Kind: string(e.Kind), HandleID: e.HandleID, AgentID: e.AgentID, Module: e.Module, Name: e.Name, Pos: e.Pos, Code: e.Code, Reason: e.Reason,
		})
	}
	for _, r := range entry.Turns {
		msg.Turns = append(msg.Turns, observerproto.TurnInfo{AgentID: r.AgentID, Action: r.Action, Result: r.Result.String(), Fuel: r.Fuel, Code: r.Code})
	}
	return msg
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
