package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bombarena.ai/internal/arena"
	"bombarena.ai/internal/hotswap"
	"bombarena.ai/internal/lifecycle"
	"bombarena.ai/internal/match"
	"bombarena.ai/internal/metrics"
	"bombarena.ai/internal/persistence/archive"
	"bombarena.ai/internal/persistence/indexdb"
	persistlog "bombarena.ai/internal/persistence/log"
	"bombarena.ai/internal/persistence/snapshot"
	"bombarena.ai/internal/sandbox"
	"bombarena.ai/internal/transport/observer"
	"bombarena.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address (observer, metrics, admin)")
		configPath = flag.String("config", "./configs/arena.yaml", "path to arena.yaml")
		playersDir = flag.String("players", "", "module directory (default: players.dir from config)")
		mapPath    = flag.String("map", "", "map file (default: match.map_path from config)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		matchID    = flag.String("match", "", "match id (default: generated)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
		noSnaps    = flag.Bool("disable_snapshots", false, "do not write round snapshots")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[arena] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load config: %v", err)
		}
		logger.Printf("config not found (%s); using defaults", *configPath)
		tune = tuning.Default()
	}
	if p := strings.TrimSpace(*playersDir); p != "" {
		tune.Players.Dir = p
	}
	if p := strings.TrimSpace(*mapPath); p != "" {
		tune.Match.MapPath = p
	}
	if err := os.MkdirAll(tune.Players.Dir, 0o755); err != nil {
		logger.Fatalf("players dir: %v", err)
	}

	m, err := arena.LoadMap(tune.Match.MapPath)
	if err != nil {
		logger.Fatalf("load map: %v", err)
	}
	state := arena.NewState(m, tune.ArenaRules(), tune.Match.Seed)
	if len(state.SpawnPoints()) == 0 {
		logger.Fatalf("map %s has no spawners", tune.Match.MapPath)
	}

	rt := sandbox.NewRuntime(tune.SandboxConfig(), log.New(os.Stdout, "[sandbox] ", log.LstdFlags|log.Lmicroseconds))
	watcher := hotswap.New(tune.Players.Dir, log.New(os.Stdout, "[hotswap] ", log.LstdFlags|log.Lmicroseconds))

	id := strings.TrimSpace(*matchID)
	if id == "" {
		id = "match_" + uuid.NewString()
	}
	matchDir := filepath.Join(*dataDir, "matches", id)
	if err := os.MkdirAll(matchDir, 0o755); err != nil {
		logger.Fatalf("match dir: %v", err)
	}

	tickLog := persistlog.NewTickLogger(matchDir)
	eventLog := persistlog.NewEventLogger(matchDir)
	defer tickLog.Close()
	defer eventLog.Close()

	met := metrics.New()

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.RecordMatch(id, tune); err != nil {
			logger.Printf("index: record match: %v", err)
		}
		registerIndexGauges(met, idx)
	} else {
		logger.Printf("index disabled (-disable_db)")
	}

	opts := match.Options{
		TickLogger:  tickLog,
		EventLogger: eventLog,
		Metrics:     met,
	}
	if idx != nil {
		opts.Index = idx
	}
	var snapCh chan snapshot.RoundV1
	if !*noSnaps {
		snapCh = make(chan snapshot.RoundV1, 2)
		opts.Snapshots = snapCh
	}

	mt := match.New(match.Config{
		ID:           id,
		TickDuration: tune.TickDuration(),
		RoundTicks:   uint64(tune.Match.RoundTicks),
		PollInterval: tune.PollInterval(),
		Seed:         tune.Match.Seed,
		Lifecycle:    tune.LifecycleConfig(),
		Turn:         tune.TurnConfig(),
	}, state, watcher, lifecycle.SandboxLoader(rt), opts)
	defer mt.Close()

	logger.Printf("match %s: %s, %d spawners, players from %s, %s", mt.ID(), tune.Match.MapPath, len(state.SpawnPoints()), tune.Players.Dir, rt)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Wake-ups are an optimization; the poll in the match loop is the source of truth.
	g.Go(func() error {
		watcher.WatchBestEffort(gctx)
		return nil
	})
	g.Go(func() error { return mt.Run(gctx) })
	if snapCh != nil {
		g.Go(func() error {
			writeSnapshots(gctx, matchDir, tune.Players.Dir, snapCh, logger)
			return nil
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", met.Handler())

	obsSrv := observer.NewServer(mt, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
	obsSrv.AllowRemote = envBool("ARENA_OBSERVER_REMOTE", false)
	mux.HandleFunc("/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obsSrv.WSHandler())

	if idx != nil {
		mux.HandleFunc("/v1/bans", func(rw http.ResponseWriter, r *http.Request) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			bans, err := idx.RecentBans(r.Context(), limit)
			writeJSON(rw, bans, err)
		})
		mux.HandleFunc("/v1/leaderboard", func(rw http.ResponseWriter, r *http.Request) {
			round, err := strconv.ParseUint(r.URL.Query().Get("round"), 10, 64)
			if err != nil {
				http.Error(rw, "round query parameter required", http.StatusBadRequest)
				return
			}
			mid := r.URL.Query().Get("match")
			if mid == "" {
				mid = mt.ID()
			}
			board, err := idx.Leaderboard(r.Context(), mid, round)
			writeJSON(rw, board, err)
		})
		mux.HandleFunc("/v1/fuel", func(rw http.ResponseWriter, r *http.Request) {
			module := r.URL.Query().Get("module")
			if module == "" {
				http.Error(rw, "module query parameter required", http.StatusBadRequest)
				return
			}
			turns, fuel, err := idx.ModuleFuel(r.Context(), module)
			writeJSON(rw, map[string]any{"module": module, "turns": turns, "fuel": fuel}, err)
		})
	}
	if envBool("ARENA_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("stopped: %v", err)
	}
	logger.Printf("match %s stopped at tick %d round %d", mt.ID(), mt.CurrentTick(), mt.Round())
}

func writeSnapshots(ctx context.Context, matchDir, playersDir string, ch <-chan snapshot.RoundV1, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			path := filepath.Join(matchDir, "snapshots", snapshot.FileName(snap.Header.Round))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			if _, err := archive.ArchiveRound(matchDir, playersDir, path, snap); err != nil {
				logger.Printf("archive round %d: %v", snap.Header.Round, err)
			}
		}
	}
}

func registerIndexGauges(met *metrics.Metrics, idx *indexdb.SQLiteIndex) {
	met.RegisterGaugeFunc("arena_index_queue_depth", "Index writes waiting in the queue.", func() float64 {
		return float64(idx.Stats().QueueDepth)
	})
	met.RegisterGaugeFunc("arena_index_dropped_total", "Index writes dropped because the queue was full.", func() float64 {
		s := idx.Stats()
		return float64(s.DropTickTotal + s.DropEventTotal + s.DropRoundTotal)
	})
	met.RegisterGaugeFunc("arena_index_write_fail_total", "Index transactions that failed to commit.", func() float64 {
		return float64(idx.Stats().WriteFailTotal)
	})
}

func writeJSON(rw http.ResponseWriter, v any, err error) {
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
