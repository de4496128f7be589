package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odvcencio/moerouter/pkg/breaker"
	"github.com/odvcencio/moerouter/pkg/learning"
	"github.com/odvcencio/moerouter/pkg/logging"
	"github.com/odvcencio/moerouter/pkg/observability"
	"github.com/odvcencio/moerouter/pkg/perf"
	"github.com/odvcencio/moerouter/pkg/registry"
	"github.com/odvcencio/moerouter/pkg/router"
	"github.com/odvcencio/moerouter/pkg/server"
	"github.com/odvcencio/moerouter/pkg/storage"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		modelsPath  = flag.String("models", "models.yaml", "path to the model catalog")
		listenAddr  = flag.String("listen", ":8080", "HTTP listen address")
		redisAddr   = flag.String("redis", "", "redis address for performance persistence (optional)")
		historyPath = flag.String("history", "", "sqlite path for decision history (optional)")
		logDir      = flag.String("log-dir", "logs", "directory for JSONL logs")
		watch       = flag.Bool("watch", true, "reload the catalog when the file changes")
		debug       = flag.Bool("debug", false, "log debug events")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("moerouter %s (%s, built %s)\n", version, commit, buildDate)
		return
	}

	if err := run(*modelsPath, *listenAddr, *redisAddr, *historyPath, *logDir, *watch, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "moerouter: %v\n", err)
		os.Exit(1)
	}
}

func run(modelsPath, listenAddr, redisAddr, historyPath, logDir string, watch, debug bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.NewLogger(logDir)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	if debug {
		logger.SetMinLevel(logging.LevelDebug)
	}

	tp, err := observability.NewTracerProvider("moerouter")
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	reg, err := registry.LoadFile(modelsPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	_ = logger.Info(logging.CategoryRegistry, "loaded", "catalog loaded", map[string]any{
		"path":   modelsPath,
		"models": reg.Len(),
	})

	// Performance history survives restarts only when redis is reachable.
	var store perf.Store
	if redisAddr != "" {
		redisStore, err := perf.DialRedis(ctx, redisAddr, perf.DefaultTTL)
		if err != nil {
			_ = logger.Warn(logging.CategoryPerformance, "redis_unavailable", err.Error(), nil)
		} else {
			defer redisStore.Close()
			store = redisStore
		}
	}
	if store == nil {
		store = perf.NewMemoryStore(perf.DefaultTTL)
	}

	var history *storage.Store
	if historyPath != "" {
		history, err = storage.New(historyPath)
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		defer history.Close()
	}

	rt, err := router.New(router.Config{
		Registry: reg,
		Breakers: breaker.NewSet(breaker.DefaultConfig()),
		Tracker:  perf.NewTracker(perf.DefaultConfig(), store),
		Learning: learning.NewLoop(),
		Logger:   logger,
		History:  history,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	if watch {
		watcher, err := registry.NewWatcher(reg, time.Second, func(reloadErr error) {
			if reloadErr != nil {
				_ = logger.Error(logging.CategoryRegistry, "reload_failed", reloadErr.Error(), nil)
				return
			}
			_ = logger.Info(logging.CategoryRegistry, "reloaded", "catalog reloaded", map[string]any{
				"models": reg.Len(),
			})
		})
		if err != nil {
			return fmt.Errorf("watch catalog: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Watch(ctx); err != nil {
			return fmt.Errorf("watch catalog: %w", err)
		}
	}

	srv := server.New(rt, logger, listenAddr)
	_ = logger.Info(logging.CategoryServer, "listening", "serving routing API", map[string]any{
		"addr": listenAddr,
	})
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
