package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"bombarena.ai/internal/match"
)

// SQLiteIndex is a queryable read model of the match journals. Writes are
// queued and applied by one goroutine in batched transactions; when the queue
// is full they are dropped and counted.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick   atomic.Uint64
	dropEvent  atomic.Uint64
	dropRound  atomic.Uint64
	writeFails atomic.Uint64
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropTickTotal  uint64
	DropEventTotal uint64
	DropRoundTotal uint64
	WriteFailTotal uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqEvent
	reqRound
)

type req struct {
	kind reqKind

	tick  match.TickEntry
	event match.EventEntry
	round match.RoundResult
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			match_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			phase TEXT NOT NULL,
			round INTEGER NOT NULL,
			turns INTEGER NOT NULL,
			events INTEGER NOT NULL,
			kills INTEGER NOT NULL,
			elapsed_ns INTEGER NOT NULL,
			PRIMARY KEY (match_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			match_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			agent_id INTEGER NOT NULL,
			handle_id INTEGER NOT NULL,
			module TEXT NOT NULL,
			name TEXT NOT NULL,
			action TEXT NOT NULL,
			result TEXT NOT NULL,
			fuel INTEGER NOT NULL,
			code TEXT,
			banned INTEGER NOT NULL,
			PRIMARY KEY (match_id, tick, agent_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_module_tick ON turns(module, tick);`,
		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			match_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			round INTEGER NOT NULL,
			kind TEXT NOT NULL,
			handle_id INTEGER NOT NULL,
			agent_id INTEGER NOT NULL,
			module TEXT NOT NULL,
			name TEXT,
			code TEXT,
			reason TEXT,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			PRIMARY KEY (match_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_module_tick ON lifecycle_events(module, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON lifecycle_events(kind, tick);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			match_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			rank INTEGER NOT NULL,
			end_tick INTEGER NOT NULL,
			module TEXT NOT NULL,
			name TEXT NOT NULL,
			team TEXT NOT NULL,
			score INTEGER NOT NULL,
			PRIMARY KEY (match_id, round, rank)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropTickTotal:  s.dropTick.Load(),
		DropEventTotal: s.dropEvent.Load(),
		DropRoundTotal: s.dropRound.Load(),
		WriteFailTotal: s.writeFails.Load(),
	}
}

// RecordMatch stores the tuning a match runs with. It is written synchronously.
func (s *SQLiteIndex) RecordMatch(matchID string, tune any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	_, err = s.db.Exec(`INSERT OR REPLACE INTO matches(match_id,started_at,tuning_digest,tuning_json) VALUES(?,?,?,?)`,
		matchID, time.Now().UTC().Format(time.RFC3339Nano), hex.EncodeToString(sum[:]), string(b))
	return err
}

func (s *SQLiteIndex) WriteTick(entry match.TickEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteEvent(entry match.EventEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: entry}:
	default:
		s.dropEvent.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordRound(rr match.RoundResult) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqRound, round: rr}:
	default:
		s.dropRound.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(match_id,tick,phase,round,turns,events,kills,elapsed_ns) VALUES(?,?,?,?,?,?,?,?)`)
	insertTurn, _ := s.db.Prepare(`INSERT OR REPLACE INTO turns(match_id,tick,agent_id,handle_id,module,name,action,result,fuel,code,banned) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO lifecycle_events(match_id,tick,seq,round,kind,handle_id,agent_id,module,name,code,reason,x,y) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertRound, _ := s.db.Prepare(`INSERT OR REPLACE INTO rounds(match_id,round,rank,end_tick,module,name,team,score) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertTurn, insertEvent, insertRound} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastEventTick uint64
		eventSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeFails.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFails.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeFails.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			if !exec(insertTick, t.MatchID, int64(t.Tick), string(t.Phase), int64(t.Round),
				len(t.Turns), len(t.Events), len(t.Kills), int64(t.Elapsed)) {
				continue
			}
			for _, rep := range t.Turns {
				if !exec(insertTurn, t.MatchID, int64(t.Tick), int64(rep.AgentID), int64(rep.HandleID),
					rep.Module, rep.Name, rep.Action, rep.Result.String(), int64(rep.Fuel), rep.Code, rep.Banned) {
					break
				}
			}

		case reqEvent:
			e := r.event
			if e.Tick != lastEventTick {
				lastEventTick = e.Tick
				eventSeq = 0
			}
			seq := eventSeq
			eventSeq++
			exec(insertEvent, e.MatchID, int64(e.Tick), seq, int64(e.Round), string(e.Kind),
				int64(e.HandleID), int64(e.AgentID), e.Module, e.Name, e.Code, e.Reason, e.Pos.X, e.Pos.Y)

		case reqRound:
			rr := r.round
			for i, st := range rr.Leaderboard {
				if !exec(insertRound, rr.MatchID, int64(rr.Round), i+1, int64(rr.EndTick), st.Module, st.Name, st.Team, int64(st.Score)) {
					break
				}
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0) {
			commit()
		}
	}

	commit()
}

// Ban is one BAN event as stored in the index.
type Ban struct {
	MatchID string `json:"match_id"`
	Tick    uint64 `json:"tick"`
	Module  string `json:"module"`
	Name    string `json:"name,omitempty"`
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
}

// RecentBans returns the newest bans first.
func (s *SQLiteIndex) RecentBans(ctx context.Context, limit int) ([]Ban, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT match_id,tick,module,COALESCE(name,''),COALESCE(code,''),COALESCE(reason,'')
		FROM lifecycle_events WHERE kind = 'BAN' ORDER BY tick DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Ban
	for rows.Next() {
		var b Ban
		var tick int64
		if err := rows.Scan(&b.MatchID, &tick, &b.Module, &b.Name, &b.Code, &b.Reason); err != nil {
			return nil, err
		}
		b.Tick = uint64(tick)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Leaderboard returns the stored standings of one round, best first.
func (s *SQLiteIndex) Leaderboard(ctx context.Context, matchID string, round uint64) ([]match.Standing, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT module,name,team,score FROM rounds
		WHERE match_id = ? AND round = ? ORDER BY rank`, matchID, int64(round))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []match.Standing
	for rows.Next() {
		var st match.Standing
		var score int64
		if err := rows.Scan(&st.Module, &st.Name, &st.Team, &score); err != nil {
			return nil, err
		}
		st.Score = uint32(score)
		out = append(out, st)
	}
	return out, rows.Err()
}

// ModuleFuel sums the fuel a module burned across recorded turns.
func (s *SQLiteIndex) ModuleFuel(ctx context.Context, module string) (turns int64, fuel int64, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(fuel),0) FROM turns WHERE module = ?`, module).Scan(&turns, &fuel)
	return turns, fuel, err
}
