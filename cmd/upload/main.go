package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bombarena.ai/internal/sandbox"
	"bombarena.ai/internal/tuning"
	"bombarena.ai/internal/upload"
)

func main() {
	var (
		addr       = flag.String("addr", ":3000", "http listen address")
		keysPath   = flag.String("keys", "./api_keys.txt", "api keys file, one per line")
		keyCount   = flag.Int("key_count", 20, "number of api keys to keep in the keys file")
		playersDir = flag.String("players", "./players", "directory the arena watches for modules")
		configPath = flag.String("config", "./configs/arena.yaml", "arena config used to check modules load")
		noCheck    = flag.Bool("skip_validate", false, "accept modules without compiling them")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[upload] ", log.LstdFlags|log.Lmicroseconds)

	keys, err := upload.LoadKeys(*keysPath, *keyCount, logger)
	if err != nil {
		logger.Fatalf("load keys: %v", err)
	}
	if err := os.MkdirAll(*playersDir, 0o755); err != nil {
		logger.Fatalf("players dir: %v", err)
	}

	srv := upload.NewServer(*playersDir, keys, logger)
	if !*noCheck {
		tune, err := tuning.Load(*configPath)
		if err != nil {
			logger.Printf("config %s: %v; validating with defaults", *configPath, err)
			tune = tuning.Default()
		}
		rt := sandbox.NewRuntime(tune.SandboxConfig(), log.New(os.Stdout, "[sandbox] ", log.LstdFlags|log.Lmicroseconds))
		// Concurrent uploads share rt, which runs guest calls one at a time.
		srv.Validate = func(src []byte) error {
			p, err := rt.LoadPlayer(src)
			if err != nil {
				return err
			}
			defer p.Close()
			if _, err := p.Name(); err != nil {
				return fmt.Errorf("name: %w", err)
			}
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return httpSrv.Shutdown(ctx2)
	})
	g.Go(func() error {
		logger.Printf("accepting modules into %s on %s", *playersDir, *addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Fatalf("upload server: %v", err)
	}
}
