// Package match owns the tick loop. A single goroutine runs Run and is the only
// one touching the arena, the lifecycle controller and the turn driver.
package match

import (
	"context"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bombarena.ai/internal/arena"
	"bombarena.ai/internal/hotswap"
	"bombarena.ai/internal/lifecycle"
	"bombarena.ai/internal/persistence/snapshot"
	"bombarena.ai/internal/turn"
)

// Scanner lists the module files currently on disk.
type Scanner interface {
	Scan() ([]hotswap.File, error)
}

// Waker is implemented by scanners that can signal a change before the next poll.
type Waker interface {
	Wake() <-chan struct{}
}

type Config struct {
	ID           string
	TickDuration time.Duration
	// RoundTicks counts world ticks per round. Zero disables round resets.
	RoundTicks   uint64
	PollInterval time.Duration
	// Seed is recorded in round snapshots.
	Seed int64

	Lifecycle lifecycle.Config
	Turn      turn.Config
}

type Options struct {
	Logger *log.Logger
	// LogOutput receives the lifecycle and turn loggers. Defaults to stdout.
	LogOutput io.Writer

	TickLogger  TickLogger
	EventLogger EventLogger
	Index       Index
	Metrics     Metrics
	// Snapshots receives the arena as it stood at each round end. Sends never
	// block; a full channel drops the snapshot.
	Snapshots chan<- snapshot.RoundV1
}

type Match struct {
	cfg     Config
	log     *log.Logger
	opts    Options
	state   *arena.State
	scanner Scanner
	lc      *lifecycle.Controller
	drv     *turn.Driver

	tick       atomic.Uint64
	round      atomic.Uint64
	worldTicks uint64
	lastScan   time.Time
	scanDue    bool
	pending    []lifecycle.Event
	standings  map[string]Standing

	mapInfo   mapSnapshot
	observers map[string]*observerClient

	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string

	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, state *arena.State, scanner Scanner, loader lifecycle.Loader, opts Options) *Match {
	if cfg.ID == "" {
		cfg.ID = "match_" + uuid.NewString()
	}
	if cfg.TickDuration <= 0 {
		cfg.TickDuration = 500 * time.Millisecond
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(out, "[match] ", log.LstdFlags|log.Lmicroseconds)
	}
	m := &Match{
		cfg:           cfg,
		log:           logger,
		opts:          opts,
		state:         state,
		scanner:       scanner,
		standings:     map[string]Standing{},
		observers:     map[string]*observerClient{},
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 16),
		stop:          make(chan struct{}),
	}
	m.lc = lifecycle.New(cfg.Lifecycle, loader, state, m, log.New(out, "[lifecycle] ", log.LstdFlags|log.Lmicroseconds))
	m.drv = turn.New(cfg.Turn, state, m.lc, log.New(out, "[turn] ", log.LstdFlags|log.Lmicroseconds))
	m.mapInfo = snapshotMap(state.Layout())
	return m
}

func (m *Match) ID() string                        { return m.cfg.ID }
func (m *Match) Config() Config                    { return m.cfg }
func (m *Match) CurrentTick() uint64               { return m.tick.Load() }
func (m *Match) Round() uint64                     { return m.round.Load() }
func (m *Match) Controller() *lifecycle.Controller { return m.lc }

// Emit collects lifecycle events for the tick being stepped.
func (m *Match) Emit(e lifecycle.Event) {
	m.pending = append(m.pending, e)
}

func (m *Match) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickDuration)
	defer ticker.Stop()

	var wake <-chan struct{}
	if w, ok := m.scanner.(Waker); ok {
		wake = w.Wake()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case <-wake:
			m.scanDue = true
		case req := <-m.observerJoin:
			m.handleObserverJoin(req)
		case req := <-m.observerSub:
			m.handleObserverSubscribe(req)
		case id := <-m.observerLeave:
			m.handleObserverLeave(id)
		case <-ticker.C:
			m.Step()
		}
	}
}

func (m *Match) Stop() { m.stopOnce.Do(func() { close(m.stop) }) }

// Close releases every sandbox instance and disconnects observers. Call it
// after Run has returned.
func (m *Match) Close() {
	m.lc.Close()
	for id := range m.observers {
		m.handleObserverLeave(id)
	}
}

// Step advances the match by a single tick.
func (m *Match) Step() TickEntry {
	start := time.Now()
	tick := m.tick.Load()
	entry := TickEntry{
		MatchID: m.cfg.ID,
		Tick:    tick,
		Phase:   PhaseOf(tick),
		Round:   m.round.Load(),
	}

	switch entry.Phase {
	case PhasePlayer:
		m.reconcile(start)
		m.lc.SpawnPass()
		entry.Turns = m.drv.PlayerTick(tick)
	case PhaseWorld:
		res := m.state.WorldTick()
		entry.Exploded = res.Exploded
		entry.Destroyed = res.Destroyed
		entry.Kills = res.Kills
		// Countdowns advance before this tick's deaths so a fresh Respawning(N)
		// waits N whole world ticks.
		m.lc.WorldTick()
		for _, k := range res.Kills {
			m.kill(k)
		}
		m.worldTicks++
		if m.cfg.RoundTicks > 0 && m.worldTicks >= m.cfg.RoundTicks {
			rr := m.endRound(tick)
			entry.RoundEnd = &rr
		}
	}

	if err := m.lc.CheckInvariants(); err != nil {
		m.log.Printf("[invariant] tick %d: %v", tick, err)
		if m.cfg.Turn.StrictInvariants {
			panic(err)
		}
	}

	entry.Events = m.pending
	m.pending = nil
	entry.Elapsed = time.Since(start)
	m.publish(entry)
	m.tick.Add(1)
	return entry
}

func (m *Match) reconcile(now time.Time) {
	if !m.scanDue && !m.lastScan.IsZero() && now.Sub(m.lastScan) < m.cfg.PollInterval {
		return
	}
	m.scanDue = false
	m.lastScan = now
	files, err := m.scanner.Scan()
	if err != nil {
		m.log.Printf("scan: %v", err)
		return
	}
	m.lc.Reconcile(files)
}

func (m *Match) kill(k arena.Kill) {
	victim := m.lc.AgentByID(k.Victim)
	if victim == nil {
		m.state.RemoveAgent(k.Victim)
		return
	}
	m.recordStanding(victim, k.Score)
	if killer := m.lc.AgentByID(k.Killer); killer != nil {
		m.log.Printf("%s was blown up by %s at %s", victim.Name, killer.Name, k.Pos)
	} else {
		m.log.Printf("%s was blown up at %s", victim.Name, k.Pos)
	}
	m.lc.Kill(k.Victim)
}

func (m *Match) recordStanding(a *lifecycle.Agent, score uint32) {
	if cur, ok := m.standings[a.Module]; ok && cur.Score > score {
		return
	}
	m.standings[a.Module] = Standing{Module: a.Module, Name: a.Name, Team: a.Team, Score: score}
}

// endRound records the leaderboard, despawns every agent without penalty and
// rebuilds the arena.
func (m *Match) endRound(tick uint64) RoundResult {
	for _, p := range m.state.Players() {
		if a := m.lc.AgentByID(p.ID); a != nil {
			m.recordStanding(a, p.Score)
		}
	}
	board := make([]Standing, 0, len(m.standings))
	for _, s := range m.standings {
		board = append(board, s)
	}
	sort.Slice(board, func(i, j int) bool {
		if board[i].Score != board[j].Score {
			return board[i].Score > board[j].Score
		}
		return board[i].Module < board[j].Module
	})
	rr := RoundResult{MatchID: m.cfg.ID, Round: m.round.Load(), EndTick: tick, Leaderboard: board}
	if m.opts.Snapshots != nil {
		select {
		case m.opts.Snapshots <- m.roundSnapshot(rr):
		default:
			m.log.Printf("snapshot channel full, dropping round %d", rr.Round)
		}
	}

	m.lc.DespawnAll("round over")
	m.state.Reset()
	m.standings = map[string]Standing{}
	m.worldTicks = 0
	m.round.Add(1)

	if len(board) > 0 {
		m.log.Printf("round %d over: %s (%s) wins with %d", rr.Round, board[0].Name, board[0].Module, board[0].Score)
	} else {
		m.log.Printf("round %d over: no players", rr.Round)
	}
	if m.opts.Index != nil {
		if err := m.opts.Index.RecordRound(rr); err != nil {
			m.log.Printf("index round: %v", err)
		}
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.ObserveRound(rr)
	}
	m.broadcastRoundEnd(rr)
	return rr
}

func (m *Match) publish(entry TickEntry) {
	if l := m.opts.TickLogger; l != nil {
		if err := l.WriteTick(entry); err != nil {
			m.log.Printf("tick log: %v", err)
		}
	}
	if idx := m.opts.Index; idx != nil {
		if err := idx.WriteTick(entry); err != nil {
			m.log.Printf("index tick: %v", err)
		}
	}
	for _, e := range entry.Events {
		ee := EventEntry{MatchID: entry.MatchID, Tick: entry.Tick, Round: entry.Round, Event: e}
		if l := m.opts.EventLogger; l != nil {
			if err := l.WriteEvent(ee); err != nil {
				m.log.Printf("event log: %v", err)
			}
		}
		if idx := m.opts.Index; idx != nil {
			if err := idx.WriteEvent(ee); err != nil {
				m.log.Printf("index event: %v", err)
			}
		}
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.ObserveTick(entry)
	}
	m.broadcastTick(entry)
}

func (m *Match) roundSnapshot(rr RoundResult) snapshot.RoundV1 {
	snap := snapshot.RoundV1{
		Header: snapshot.Header{Version: snapshot.Version, MatchID: rr.MatchID, Round: rr.Round, Tick: rr.EndTick},
		Seed:   m.cfg.Seed,
		Width:  m.mapInfo.width,
		Height: m.mapInfo.height,
		Tiles:  m.mapInfo.tiles,
	}
	for _, p := range m.state.Players() {
		pu := make(map[uint8]uint32, len(p.PowerUps))
		for k, v := range p.PowerUps {
			pu[uint8(k)] = v
		}
		snap.Players = append(snap.Players, snapshot.PlayerV1{ID: p.ID, Name: p.Name, Team: p.Team, Pos: p.Pos, Score: p.Score, PowerUps: pu})
	}
	for _, o := range m.state.Objects() {
		snap.Objects = append(snap.Objects, snapshot.ObjectV1{
			Pos:           o.Pos,
			Kind:          uint8(o.Object.Kind),
			FuseRemaining: o.Object.FuseRemaining,
			Range:         o.Object.Range,
			PowerUp:       uint8(o.Object.PowerUp),
		})
	}
	for _, a := range m.lc.Agents() {
		fuel, _ := a.FuelConsumed()
		snap.Agents = append(snap.Agents, snapshot.AgentV1{ID: a.ID, HandleID: a.HandleID, Module: a.Module, Name: a.Name, Team: a.Team, Turns: a.Turns, Fuel: fuel})
	}
	for _, s := range rr.Leaderboard {
		snap.Leaderboard = append(snap.Leaderboard, snapshot.StandingV1{Module: s.Module, Name: s.Name, Team: s.Team, Score: s.Score})
	}
	return snap
}
